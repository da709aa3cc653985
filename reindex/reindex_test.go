package reindex

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/copernet/blockstore/model/block"
	"github.com/copernet/blockstore/model/pow"
	"github.com/copernet/blockstore/persist"
	"github.com/copernet/blockstore/persist/disk"
	"github.com/copernet/blockstore/util"
)

func newTestConfig(t *testing.T) (*persist.Config, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "reindextest")
	if err != nil {
		t.Fatalf("temp dir: %v", err)
	}
	cfg := &persist.Config{
		BlocksDir: filepath.Join(dir, "blocks"),
		IndexDir:  filepath.Join(dir, "blocks", "index"),
		CacheSize: 1 << 20,
		Magic:     disk.DefaultMagic,
	}
	return cfg, func() { os.RemoveAll(dir) }
}

// mineBlockBytes builds a serialized full block on top of prevHash whose
// header satisfies its own easy difficulty target.
func mineBlockBytes(prevHash util.Hash, timestamp uint32, txCount int) []byte {
	bh := block.NewBlockHeader()
	bh.Version = 1
	bh.HashPrevBlock = prevHash
	bh.Time = timestamp
	bh.Bits = 0x207fffff
	for {
		h := bh.GetHash()
		if pow.CheckProofOfWork(&h, bh.Bits) {
			break
		}
		bh.Nonce++
	}

	buf := bytes.NewBuffer(nil)
	_ = bh.Serialize(buf)
	buf.WriteByte(byte(txCount))
	for i := 0; i < txCount; i++ {
		var tx [10]byte
		binary.LittleEndian.PutUint32(tx[0:4], uint32(i+1))
		buf.Write(tx[:])
	}
	return buf.Bytes()
}

func blockHash(raw []byte) util.Hash {
	return block.NewFastBlock(raw).CreateHash()
}

// frame wraps payloads the way the data files do.
func frame(magic [4]byte, payloads ...[]byte) []byte {
	buf := bytes.NewBuffer(nil)
	for _, p := range payloads {
		buf.Write(magic[:])
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(p)))
		buf.Write(lenBuf[:])
		buf.Write(p)
	}
	return buf.Bytes()
}

func TestReindexRebuildsIndex(t *testing.T) {
	cfg, cleanup := newTestConfig(t)
	defer cleanup()

	// Fill the data files without persisting any index rows.
	bdb, err := persist.NewBlocksDB(cfg)
	if err != nil {
		t.Fatalf("NewBlocksDB: %v", err)
	}
	prev := util.Hash{}
	hashes := make([]util.Hash, 5)
	for i := 0; i < 5; i++ {
		raw := mineBlockBytes(prev, uint32(1534822682+i), 1)
		if _, _, err := bdb.WriteBlock(int32(i), block.NewFastBlock(raw)); err != nil {
			t.Fatalf("WriteBlock %d: %v", i, err)
		}
		hashes[i] = blockHash(raw)
		prev = hashes[i]
	}
	bdb.Close()

	// Reopen with a wiped index and rebuild it from the raw files.
	wiped := *cfg
	wiped.Wipe = true
	bdb, err = persist.NewBlocksDB(&wiped)
	if err != nil {
		t.Fatalf("NewBlocksDB (wiped): %v", err)
	}
	defer bdb.Close()

	if err := Reindex(bdb); err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if bdb.IsReindexing() {
		t.Error("reindexing flag should be cleared when done")
	}
	if bdb.IndexCount() != 5 {
		t.Fatalf("expect 5 rebuilt entries, got %d", bdb.IndexCount())
	}

	tip := bdb.HeaderChain().Tip()
	if tip == nil || tip.Height != 4 {
		t.Fatalf("canonical tip should be at height 4, got %v", tip)
	}
	if *tip.GetBlockHash() != hashes[4] {
		t.Error("canonical tip hash mismatch")
	}
	for i, h := range hashes {
		bi, ok := bdb.FindBlockIndex(h)
		if !ok {
			t.Fatalf("block %d missing from rebuilt index", i)
		}
		if bi.Height != int32(i) || !bi.HasData() || bi.TxCount != 1 {
			t.Errorf("entry %d fields mismatch: %v", i, bi)
		}
		blk, err := bdb.LoadBlock(block.DiskBlockPos{File: bi.File, Pos: bi.DataPos})
		if err != nil || blk == nil {
			t.Fatalf("block %d unreadable via rebuilt position: %v", i, err)
		}
		if blk.CreateHash() != h {
			t.Errorf("block %d reads back with the wrong hash", i)
		}
	}

	// File aggregates were reconstructed as well.
	info := bdb.FileStore().FileInfo(0)
	if info == nil || info.Blocks != 5 {
		t.Errorf("file info should be rebuilt with 5 blocks: %v", info)
	}
}

func TestLoadExternalBlockFileOutOfOrder(t *testing.T) {
	cfg, cleanup := newTestConfig(t)
	defer cleanup()

	bdb, err := persist.NewBlocksDB(cfg)
	if err != nil {
		t.Fatalf("NewBlocksDB: %v", err)
	}
	defer bdb.Close()

	genesis := mineBlockBytes(util.Hash{}, 1534822682, 1)
	middle := mineBlockBytes(blockHash(genesis), 1534822683, 1)
	child := mineBlockBytes(blockHash(middle), 1534822684, 1)

	// Descendants come first, so both get parked until the genesis record
	// appears at the end of the file.
	data := frame(disk.DefaultMagic, child, middle, genesis)
	if err := os.MkdirAll(cfg.BlocksDir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.BlocksDir, disk.FileName(0, disk.RoleBlock)), data, 0600); err != nil {
		t.Fatal(err)
	}

	unknown := make(map[util.Hash][]block.DiskBlockPos)
	loaded := LoadExternalBlockFile(bdb, data, 0, unknown)
	if loaded != 3 {
		t.Fatalf("expect 3 imported blocks, got %d", loaded)
	}
	if len(unknown) != 0 {
		t.Errorf("no blocks should stay parked, got %v", unknown)
	}
	tip := bdb.HeaderChain().Tip()
	if tip == nil || tip.Height != 2 {
		t.Fatalf("tip should reach height 2, got %v", tip)
	}
	if *tip.GetBlockHash() != blockHash(child) {
		t.Error("tip should be the out of order child")
	}
}

func TestLoadExternalBlockFileSkipsDamage(t *testing.T) {
	cfg, cleanup := newTestConfig(t)
	defer cleanup()

	bdb, err := persist.NewBlocksDB(cfg)
	if err != nil {
		t.Fatalf("NewBlocksDB: %v", err)
	}
	defer bdb.Close()

	genesis := mineBlockBytes(util.Hash{}, 1534822682, 1)

	// A stray magic with an absurd length, then garbage, then a clean
	// record. The scan must resynchronize and import the real block.
	buf := bytes.NewBuffer(nil)
	buf.Write(disk.DefaultMagic[:])
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], 1<<30)
	buf.Write(lenBuf[:])
	buf.Write([]byte("noise noise noise"))
	buf.Write(frame(disk.DefaultMagic, genesis))
	data := buf.Bytes()

	if err := os.MkdirAll(cfg.BlocksDir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.BlocksDir, disk.FileName(0, disk.RoleBlock)), data, 0600); err != nil {
		t.Fatal(err)
	}

	unknown := make(map[util.Hash][]block.DiskBlockPos)
	loaded := LoadExternalBlockFile(bdb, data, 0, unknown)
	if loaded != 1 {
		t.Fatalf("expect 1 imported block, got %d", loaded)
	}
	bi, ok := bdb.FindBlockIndex(blockHash(genesis))
	if !ok || bi.Height != 0 {
		t.Error("the clean record should be indexed despite the damage before it")
	}
}
