package reindex

import (
	"bytes"
	"encoding/binary"
	"math/big"
	"time"

	"gopkg.in/eapache/queue.v1"

	"github.com/copernet/blockstore/log"
	"github.com/copernet/blockstore/model/block"
	"github.com/copernet/blockstore/model/blockindex"
	"github.com/copernet/blockstore/model/pow"
	"github.com/copernet/blockstore/persist"
	"github.com/copernet/blockstore/util"
)

// Reindex rebuilds the block index from the raw blk?????.dat files. The
// metadata store should be opened wiped; every record found on disk gets a
// fresh index entry and the fork choice re-runs from scratch.
func Reindex(bdb *persist.BlocksDB) error {
	if err := bdb.SetIsReindexing(true); err != nil {
		return err
	}
	log.Info("reindex: start")
	start := time.Now()

	unknownParent := make(map[util.Hash][]block.DiskBlockPos)
	loaded := 0
	for n := int32(0); ; n++ {
		view, err := bdb.LoadBlockFile(n)
		if err != nil {
			return err
		}
		if view == nil {
			break
		}
		count := LoadExternalBlockFile(bdb, view.Bytes(), n, unknownParent)
		view.Close()
		log.Info("reindex: file %d yielded %d blocks", n, count)
		loaded += count
	}
	for parent, orphans := range unknownParent {
		log.Warn("reindex: %d blocks still waiting for unknown parent %s", len(orphans), parent.String())
	}

	if err := bdb.FlushDirty(); err != nil {
		return err
	}
	if err := bdb.SetIsReindexing(false); err != nil {
		return err
	}
	log.Info("reindex: loaded %d blocks in %.2f seconds", loaded, time.Since(start).Seconds())
	return nil
}

// LoadExternalBlockFile scans one body file for framed records and feeds
// every decodable block into the index. Blocks whose parent has not been
// seen yet are parked in unknownParent, keyed by the parent hash, and
// imported once the parent shows up. Damaged stretches are skipped byte by
// byte, mirroring how the magic scan resynchronizes.
func LoadExternalBlockFile(bdb *persist.BlocksDB, data []byte, fileIndex int32,
	unknownParent map[util.Hash][]block.DiskBlockPos) int {
	magic := bdb.FileStore().Magic()
	loaded := 0
	pos := 0
	for pos+block.HeaderSize+8 <= len(data) {
		idx := bytes.Index(data[pos:], magic[:])
		if idx < 0 {
			break
		}
		recStart := pos + idx
		if recStart+8 > len(data) {
			break
		}
		size := int(binary.LittleEndian.Uint32(data[recStart+4 : recStart+8]))
		payloadStart := recStart + 8
		end := payloadStart + size
		if size < block.HeaderSize || end > len(data) {
			pos = recStart + 1
			continue
		}

		blk := block.NewFastBlock(data[payloadStart:end])
		blkPos := block.DiskBlockPos{File: fileIndex, Pos: uint32(payloadStart)}
		hash := blk.CreateHash()
		parentHash := blk.PreviousBlockID()

		if !parentHash.IsNull() {
			if _, ok := bdb.FindBlockIndex(parentHash); !ok {
				log.Debug("reindex: out of order block %s, parent %s not known",
					hash.String(), parentHash.String())
				unknownParent[parentHash] = append(unknownParent[parentHash], blkPos)
				pos = end
				continue
			}
		}
		if acceptBlock(bdb, blk, blkPos) {
			loaded++
		}
		loaded += drainDescendants(bdb, hash, unknownParent)
		pos = end
	}
	return loaded
}

// drainDescendants imports every parked block that hash (transitively)
// unblocks. The frontier is an explicit queue, so arbitrarily deep chains
// of descendants do not recurse.
func drainDescendants(bdb *persist.BlocksDB, hash util.Hash,
	unknownParent map[util.Hash][]block.DiskBlockPos) int {
	loaded := 0
	frontier := queue.New()
	frontier.Add(hash)
	for frontier.Length() > 0 {
		head := frontier.Remove().(util.Hash)
		orphans, ok := unknownParent[head]
		if !ok {
			continue
		}
		delete(unknownParent, head)
		for _, orphanPos := range orphans {
			blk, err := bdb.LoadBlock(orphanPos)
			if err != nil || blk == nil {
				log.Warn("reindex: parked block at %s unreadable: %v", orphanPos.String(), err)
				continue
			}
			childHash := blk.CreateHash()
			log.Debug("reindex: processing out of order child %s of %s", childHash.String(), head.String())
			if acceptBlock(bdb, blk, orphanPos) {
				loaded++
			}
			frontier.Add(childHash)
		}
	}
	return loaded
}

// acceptBlock registers one on-disk block in the index and runs it through
// the fork choice.
func acceptBlock(bdb *persist.BlocksDB, blk *block.FastBlock, pos block.DiskBlockPos) bool {
	hash := blk.CreateHash()
	if existing, ok := bdb.FindBlockIndex(hash); ok && existing.HasData() {
		return false
	}
	if err := blk.FindTransactions(); err != nil {
		log.Warn("reindex: block %s has an undecodable body: %v", hash.String(), err)
		return false
	}

	bi := bdb.GetOrCreateBlockIndex(hash)
	bi.Header = *blk.Header()
	bi.File = pos.File
	bi.DataPos = pos.Pos
	bi.TxCount = int32(len(blk.Transactions()))
	bi.AddStatus(blockindex.BlockHaveData)
	bi.RaiseValidity(blockindex.BlockValidTree)

	work := pow.GetBlockProof(blk.Bits())
	parentHash := blk.PreviousBlockID()
	if parentHash.IsNull() {
		bi.Height = 0
		bi.ChainWork = *work
	} else {
		parent, _ := bdb.FindBlockIndex(parentHash)
		bi.Prev = parent
		bi.Height = parent.Height + 1
		bi.ChainWork = *new(big.Int).Add(&parent.ChainWork, work)
		bi.BuildSkip()
	}

	end := pos.Pos + uint32(blk.Size())
	bdb.FileStore().RecordKnownBlock(pos.File, end, bi.Height, blk.Timestamp())
	bdb.AppendHeader(bi)
	return true
}
