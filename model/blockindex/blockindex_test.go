package blockindex

import (
	"bytes"
	"math/rand"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"

	"github.com/copernet/blockstore/model/block"
	"github.com/copernet/blockstore/util"
)

// buildChain links count entries starting at a fresh genesis and builds skip
// pointers along the way.
func buildChain(count int32) []*BlockIndex {
	entries := make([]*BlockIndex, count)
	genesis := NewBlockIndex(block.NewBlockHeader())
	genesis.Height = 0
	entries[0] = genesis
	for i := int32(1); i < count; i++ {
		bi := NewBlockIndex(block.NewBlockHeader())
		bi.Prev = entries[i-1]
		bi.Height = i
		bi.BuildSkip()
		entries[i] = bi
	}
	return entries
}

func TestGetAncestor(t *testing.T) {
	entries := buildChain(1000)
	tip := entries[len(entries)-1]

	assert.Equal(t, entries[0], tip.GetAncestor(0))
	assert.Equal(t, tip, tip.GetAncestor(tip.Height))
	assert.Nil(t, tip.GetAncestor(tip.Height+1))
	assert.Nil(t, tip.GetAncestor(-1))

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		h := int32(r.Intn(1000))
		assert.Equal(t, entries[h], tip.GetAncestor(h), "ancestor at height %d", h)
	}
}

func TestSkipHeights(t *testing.T) {
	entries := buildChain(300)
	for _, bi := range entries[2:] {
		assert.NotNil(t, bi.Skip)
		assert.True(t, bi.Skip.Height < bi.Height)
	}
}

func TestStatusFlags(t *testing.T) {
	bi := NewBlockIndex(block.NewBlockHeader())
	assert.False(t, bi.HasData())
	assert.False(t, bi.IsInvalid())

	bi.AddStatus(BlockHaveData)
	assert.True(t, bi.HasData())
	bi.AddStatus(BlockHaveUndo)
	assert.True(t, bi.HasUndo())

	bi.AddStatus(BlockFailed)
	assert.True(t, bi.IsInvalid())
	bi.SubStatus(BlockFailed)
	assert.False(t, bi.IsInvalid())
}

func TestRaiseValidity(t *testing.T) {
	bi := NewBlockIndex(block.NewBlockHeader())
	assert.True(t, bi.RaiseValidity(BlockValidTree))
	assert.False(t, bi.RaiseValidity(BlockValidTree))
	assert.True(t, bi.IsValid(BlockValidTree))
	assert.False(t, bi.IsValid(BlockValidScripts))

	bi.AddStatus(BlockFailed)
	assert.False(t, bi.RaiseValidity(BlockValidScripts))
	assert.False(t, bi.IsValid(BlockValidHeader))
}

func TestDiskBlockIndexRoundTrip(t *testing.T) {
	bi := NewBlockIndex(&block.BlockHeader{
		Version:       2,
		HashPrevBlock: *util.HashFromString("aa"),
		MerkleRoot:    *util.HashFromString("bb"),
		Time:          1500000000,
		Bits:          0x1d00ffff,
		Nonce:         7,
	})
	bi.Height = 123456
	bi.TxCount = 1500
	bi.Status = BlockValidTree | BlockHaveData | BlockHaveUndo
	bi.File = 17
	bi.DataPos = 8
	bi.UndoPos = 116

	buf := bytes.NewBuffer(nil)
	assert.NoError(t, bi.Serialize(buf))

	got := NewBlockIndex(block.NewBlockHeader())
	assert.NoError(t, got.Unserialize(buf))
	assert.Equal(t, bi.Height, got.Height)
	assert.Equal(t, bi.Status, got.Status)
	assert.Equal(t, bi.TxCount, got.TxCount)
	assert.Equal(t, bi.File, got.File)
	assert.Equal(t, bi.DataPos, got.DataPos)
	assert.Equal(t, bi.UndoPos, got.UndoPos)
	if !reflect.DeepEqual(bi.Header, got.Header) {
		t.Errorf("decoded header mismatch: got %s want %s",
			spew.Sdump(got.Header), spew.Sdump(bi.Header))
	}
}

func TestDiskBlockIndexNoData(t *testing.T) {
	bi := NewBlockIndex(block.NewBlockHeader())
	bi.Height = 5
	bi.Status = BlockValidHeader

	buf := bytes.NewBuffer(nil)
	assert.NoError(t, bi.Serialize(buf))

	got := NewBlockIndex(block.NewBlockHeader())
	assert.NoError(t, got.Unserialize(buf))
	assert.Equal(t, int32(-1), got.File)
	assert.Equal(t, uint32(0), got.DataPos)
}

func TestGetMedianTimePast(t *testing.T) {
	entries := buildChain(15)
	for i, bi := range entries {
		bi.Header.Time = uint32(1000 + 10*i)
	}
	tip := entries[len(entries)-1]
	// 11 most recent times are 1040..1140, the median is 1090.
	assert.Equal(t, int64(1090), tip.GetMedianTimePast())
}
