package block

import (
	"fmt"
	"io"

	"github.com/copernet/blockstore/util"
)

// DiskBlockPos locates a stored record: the payload offset inside
// blk?????.dat or rev?????.dat number File.
type DiskBlockPos struct {
	File int32
	Pos  uint32
}

// DiskTxPos locates one transaction inside a stored block.
type DiskTxPos struct {
	BlockIn    *DiskBlockPos
	TxOffsetIn uint32
}

func (dbp *DiskBlockPos) Serialize(w io.Writer) error {
	return util.WriteElements(w, dbp.File, dbp.Pos)
}

func (dbp *DiskBlockPos) Unserialize(r io.Reader) error {
	return util.ReadElements(r, &dbp.File, &dbp.Pos)
}

func (dtp *DiskTxPos) Serialize(w io.Writer) error {
	if err := dtp.BlockIn.Serialize(w); err != nil {
		return err
	}
	return util.WriteElements(w, dtp.TxOffsetIn)
}

func (dtp *DiskTxPos) Unserialize(r io.Reader) error {
	dbp := new(DiskBlockPos)
	if err := dbp.Unserialize(r); err != nil {
		return err
	}
	dtp.BlockIn = dbp
	return util.ReadElements(r, &dtp.TxOffsetIn)
}

func (dbp *DiskBlockPos) SetNull() {
	dbp.File = -1
	dbp.Pos = 0
}

func (dbp *DiskBlockPos) IsNull() bool {
	return dbp.File == -1
}

func (dbp *DiskBlockPos) Equal(other *DiskBlockPos) bool {
	return dbp.Pos == other.Pos && dbp.File == other.File
}

func (dbp *DiskBlockPos) String() string {
	return fmt.Sprintf("DiskBlockPos(file=%d, pos=%d)", dbp.File, dbp.Pos)
}

func NewDiskBlockPos(file int32, pos uint32) *DiskBlockPos {
	return &DiskBlockPos{File: file, Pos: pos}
}

func NewDiskBlockPosNull() *DiskBlockPos {
	dbp := new(DiskBlockPos)
	dbp.SetNull()
	return dbp
}

func NewDiskTxPos(blockIn *DiskBlockPos, offsetIn uint32) *DiskTxPos {
	return &DiskTxPos{
		BlockIn:    blockIn,
		TxOffsetIn: offsetIn,
	}
}
