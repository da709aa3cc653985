package blockindex

import (
	"io"

	"github.com/copernet/blockstore/util"
)

// recordVersion is stored in front of every persisted index entry so the
// format can evolve.
const recordVersion = 160000

// Serialize writes the persisted subset of the entry: position info is only
// written for data that actually exists, chain work and skip pointers are
// memory only and recomputed on load.
func (bIndex *BlockIndex) Serialize(w io.Writer) error {
	if err := util.WriteVarLenInt(w, uint64(recordVersion)); err != nil {
		return err
	}
	for _, v := range []uint64{uint64(bIndex.Height), uint64(bIndex.Status), uint64(bIndex.TxCount)} {
		if err := util.WriteVarLenInt(w, v); err != nil {
			return err
		}
	}
	if bIndex.Status&(BlockHaveData|BlockHaveUndo) != 0 {
		if err := util.WriteVarLenInt(w, uint64(bIndex.File)); err != nil {
			return err
		}
	}
	if bIndex.Status&BlockHaveData != 0 {
		if err := util.WriteVarLenInt(w, uint64(bIndex.DataPos)); err != nil {
			return err
		}
	}
	if bIndex.Status&BlockHaveUndo != 0 {
		if err := util.WriteVarLenInt(w, uint64(bIndex.UndoPos)); err != nil {
			return err
		}
	}
	return bIndex.Header.Serialize(w)
}

func (bIndex *BlockIndex) Unserialize(r io.Reader) error {
	if _, err := util.ReadVarLenInt(r); err != nil { // record version
		return err
	}
	height, err := util.ReadVarLenInt(r)
	if err != nil {
		return err
	}
	status, err := util.ReadVarLenInt(r)
	if err != nil {
		return err
	}
	txCount, err := util.ReadVarLenInt(r)
	if err != nil {
		return err
	}
	bIndex.Height = int32(height)
	bIndex.Status = uint32(status)
	bIndex.TxCount = int32(txCount)

	bIndex.File = -1
	if bIndex.Status&(BlockHaveData|BlockHaveUndo) != 0 {
		file, err := util.ReadVarLenInt(r)
		if err != nil {
			return err
		}
		bIndex.File = int32(file)
	}
	if bIndex.Status&BlockHaveData != 0 {
		pos, err := util.ReadVarLenInt(r)
		if err != nil {
			return err
		}
		bIndex.DataPos = uint32(pos)
	}
	if bIndex.Status&BlockHaveUndo != 0 {
		pos, err := util.ReadVarLenInt(r)
		if err != nil {
			return err
		}
		bIndex.UndoPos = uint32(pos)
	}
	return bIndex.Header.Unserialize(r)
}
