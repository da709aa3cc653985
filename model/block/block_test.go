package block

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/copernet/blockstore/util"
)

func TestBlockHeaderRoundTrip(t *testing.T) {
	bh := &BlockHeader{
		Version:       2,
		HashPrevBlock: *util.HashFromString("0a"),
		MerkleRoot:    *util.HashFromString("0b"),
		Time:          1500000000,
		Bits:          0x1d00ffff,
		Nonce:         12345,
	}
	buf := bytes.NewBuffer(nil)
	assert.NoError(t, bh.Serialize(buf))
	assert.Equal(t, HeaderSize, buf.Len())

	got := NewBlockHeader()
	assert.NoError(t, got.Unserialize(buf))
	assert.Equal(t, bh, got)
	assert.Equal(t, bh.GetHash(), got.GetHash())
}

func TestBlockFileInfo(t *testing.T) {
	bfi := NewBlockFileInfo()
	bfi.AddBlock(100, 5000)
	bfi.AddBlock(99, 4000)
	bfi.AddBlock(101, 6000)

	assert.Equal(t, uint32(3), bfi.Blocks)
	assert.Equal(t, uint32(99), bfi.HeightFirst)
	assert.Equal(t, uint32(101), bfi.HeightLast)
	assert.Equal(t, uint64(4000), bfi.TimeFirst)
	assert.Equal(t, uint64(6000), bfi.TimeLast)

	bfi.Size = 4096
	bfi.UndoSize = 512
	buf := bytes.NewBuffer(nil)
	assert.NoError(t, bfi.Serialize(buf))

	got := NewBlockFileInfo()
	assert.NoError(t, got.Unserialize(buf))
	assert.Equal(t, bfi, got)
}

func TestDiskBlockPos(t *testing.T) {
	pos := NewDiskBlockPos(3, 116)
	assert.False(t, pos.IsNull())

	buf := bytes.NewBuffer(nil)
	assert.NoError(t, pos.Serialize(buf))
	got := new(DiskBlockPos)
	assert.NoError(t, got.Unserialize(buf))
	assert.True(t, pos.Equal(got))

	pos.SetNull()
	assert.True(t, pos.IsNull())
}

func TestDiskTxPos(t *testing.T) {
	dtp := NewDiskTxPos(NewDiskBlockPos(12, 12), 1)
	buf := bytes.NewBuffer(nil)
	assert.NoError(t, dtp.Serialize(buf))
	got := new(DiskTxPos)
	assert.NoError(t, got.Unserialize(buf))
	assert.Equal(t, dtp, got)
}

// buildTestBlock serializes a block with the given header and count empty
// transactions (version + no inputs + no outputs + locktime, 10 bytes each).
func buildTestBlock(bh *BlockHeader, count int) []byte {
	buf := bytes.NewBuffer(nil)
	_ = bh.Serialize(buf)
	buf.WriteByte(byte(count))
	for i := 0; i < count; i++ {
		var tx [10]byte
		binary.LittleEndian.PutUint32(tx[0:4], uint32(i+1))
		buf.Write(tx[:])
	}
	return buf.Bytes()
}

func TestFastBlockHeaderFields(t *testing.T) {
	bh := &BlockHeader{
		Version:       3,
		HashPrevBlock: *util.HashFromString("11"),
		MerkleRoot:    *util.HashFromString("22"),
		Time:          1234567,
		Bits:          0x207fffff,
		Nonce:         99,
	}
	fb := NewFastBlock(buildTestBlock(bh, 2))

	assert.True(t, fb.IsValid())
	assert.True(t, fb.IsFullBlock())
	assert.Equal(t, bh.Version, fb.BlockVersion())
	assert.Equal(t, bh.HashPrevBlock, fb.PreviousBlockID())
	assert.Equal(t, bh.MerkleRoot, fb.MerkleRoot())
	assert.Equal(t, bh.Time, fb.Timestamp())
	assert.Equal(t, bh.Bits, fb.Bits())
	assert.Equal(t, bh.Nonce, fb.Nonce())
	assert.Equal(t, bh.GetHash(), fb.CreateHash())
	assert.Equal(t, bh, fb.Header())
}

func TestFastBlockFindTransactions(t *testing.T) {
	bh := NewBlockHeader()
	bh.Bits = 1
	fb := NewFastBlock(buildTestBlock(bh, 3))

	assert.NoError(t, fb.FindTransactions())
	txs := fb.Transactions()
	assert.Len(t, txs, 3)
	for i := range txs {
		assert.True(t, txs[i].IsValid())
		assert.Equal(t, 10, txs[i].Size())
		assert.Equal(t, uint32(i+1), txs[i].TxVersion())
	}

	headerOnly := NewFastBlock(buildTestBlock(bh, 0)[:HeaderSize])
	assert.Error(t, headerOnly.FindTransactions())
}

func TestFastBlockFindTransactionsCorruptBody(t *testing.T) {
	bh := NewBlockHeader()
	bh.Bits = 1

	// A transaction count of 2^64-1 that no body could hold.
	buf := bytes.NewBuffer(nil)
	assert.NoError(t, bh.Serialize(buf))
	buf.WriteByte(0xff)
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	fb := NewFastBlock(buf.Bytes())
	assert.Error(t, fb.FindTransactions())

	// One transaction whose input script claims 2^64-1 bytes.
	buf = bytes.NewBuffer(nil)
	assert.NoError(t, bh.Serialize(buf))
	buf.WriteByte(1)                    // transaction count
	buf.Write([]byte{1, 0, 0, 0})       // version
	buf.WriteByte(1)                    // input count
	buf.Write(make([]byte, 36))         // outpoint
	buf.WriteByte(0xff)                 // script length, 8 byte form
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	fb = NewFastBlock(buf.Bytes())
	assert.Error(t, fb.FindTransactions())

	// Truncated in the middle of the transaction data.
	truncated := buildTestBlock(bh, 2)
	fb = NewFastBlock(truncated[:len(truncated)-5])
	assert.Error(t, fb.FindTransactions())
}
