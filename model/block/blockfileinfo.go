package block

import (
	"fmt"
	"io"
	"time"

	"github.com/copernet/blockstore/util"
)

// BlockFileInfo aggregates what is known about one blk?????.dat file and its
// matching rev file. It decides when the store rolls to a new file and what
// pruning may delete.
type BlockFileInfo struct {
	Blocks      uint32 // number of blocks stored in file
	Size        uint32 // number of used bytes of block file
	UndoSize    uint32 // number of used bytes in the undo file
	HeightFirst uint32 // lowest height of block in file
	HeightLast  uint32 // highest height of block in file
	TimeFirst   uint64 // earliest time of block in file
	TimeLast    uint64 // latest time of block in file

	index int32
}

func NewBlockFileInfo() *BlockFileInfo {
	return new(BlockFileInfo)
}

func (bfi *BlockFileInfo) Serialize(w io.Writer) error {
	for _, v := range []uint64{
		uint64(bfi.Blocks), uint64(bfi.Size), uint64(bfi.UndoSize),
		uint64(bfi.HeightFirst), uint64(bfi.HeightLast),
		bfi.TimeFirst, bfi.TimeLast,
	} {
		if err := util.WriteVarLenInt(w, v); err != nil {
			return err
		}
	}
	return nil
}

func (bfi *BlockFileInfo) Unserialize(r io.Reader) error {
	for _, t := range []*uint32{&bfi.Blocks, &bfi.Size, &bfi.UndoSize, &bfi.HeightFirst, &bfi.HeightLast} {
		v, err := util.ReadVarLenInt(r)
		if err != nil {
			return err
		}
		*t = uint32(v)
	}
	for _, t := range []*uint64{&bfi.TimeFirst, &bfi.TimeLast} {
		v, err := util.ReadVarLenInt(r)
		if err != nil {
			return err
		}
		*t = v
	}
	return nil
}

func (bfi *BlockFileInfo) SetNull() {
	*bfi = BlockFileInfo{index: bfi.index}
}

// AddBlock records that a block of the given height and timestamp was written
// to this file.
func (bfi *BlockFileInfo) AddBlock(height uint32, timestamp uint64) {
	if bfi.Blocks == 0 || bfi.HeightFirst > height {
		bfi.HeightFirst = height
	}
	if bfi.Blocks == 0 || bfi.TimeFirst > timestamp {
		bfi.TimeFirst = timestamp
	}
	bfi.Blocks++
	if height > bfi.HeightLast {
		bfi.HeightLast = height
	}
	if timestamp > bfi.TimeLast {
		bfi.TimeLast = timestamp
	}
}

func (bfi *BlockFileInfo) GetIndex() int32 {
	return bfi.index
}

func (bfi *BlockFileInfo) SetIndex(idx int32) {
	bfi.index = idx
}

func (bfi *BlockFileInfo) String() string {
	return fmt.Sprintf("BlockFileInfo(blocks=%d, size=%d, heights=%d...%d, time=%s...%s)",
		bfi.Blocks, bfi.Size, bfi.HeightFirst, bfi.HeightLast,
		time.Unix(int64(bfi.TimeFirst), 0).Format(time.RFC3339),
		time.Unix(int64(bfi.TimeLast), 0).Format(time.RFC3339))
}
