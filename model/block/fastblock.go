package block

import (
	"encoding/binary"

	"github.com/copernet/blockstore/crypto"
	"github.com/copernet/blockstore/util"
	"github.com/pkg/errors"
)

// FastBlock is a block in canonical form: a thin view over a byte buffer
// known to hold a serialized block. Header fields are decoded straight from
// the buffer, there is no parse step and copies stay cheap. The buffer is
// typically a slice of a memory-mapped block file and must not be modified.
type FastBlock struct {
	data []byte
	txs  []Tx
	// view pins the file mapping backing data; nil for heap buffers.
	view interface{}
}

// NewFastBlock wraps raw. The buffer must be at least HeaderSize bytes.
func NewFastBlock(raw []byte) *FastBlock {
	return &FastBlock{data: raw}
}

// NewFastBlockFromView wraps the payload bytes of a mapped file view. The
// block keeps a reference to the view, so the mapping stays valid memory
// for as long as the block itself is reachable.
func NewFastBlockFromView(raw []byte, view interface{}) *FastBlock {
	return &FastBlock{data: raw, view: view}
}

func (fb *FastBlock) IsValid() bool {
	return len(fb.data) >= HeaderSize
}

// IsFullBlock reports whether the buffer holds more than a bare header.
func (fb *FastBlock) IsFullBlock() bool {
	return len(fb.data) > HeaderSize
}

func (fb *FastBlock) Size() int {
	return len(fb.data)
}

func (fb *FastBlock) Data() []byte {
	return fb.data
}

func (fb *FastBlock) BlockVersion() int32 {
	return int32(binary.LittleEndian.Uint32(fb.data[0:4]))
}

func (fb *FastBlock) PreviousBlockID() util.Hash {
	var h util.Hash
	copy(h[:], fb.data[4:36])
	return h
}

func (fb *FastBlock) MerkleRoot() util.Hash {
	var h util.Hash
	copy(h[:], fb.data[36:68])
	return h
}

func (fb *FastBlock) Timestamp() uint32 {
	return binary.LittleEndian.Uint32(fb.data[68:72])
}

func (fb *FastBlock) Bits() uint32 {
	return binary.LittleEndian.Uint32(fb.data[72:76])
}

func (fb *FastBlock) Nonce() uint32 {
	return binary.LittleEndian.Uint32(fb.data[76:80])
}

// CreateHash hashes the 80 byte header.
func (fb *FastBlock) CreateHash() util.Hash {
	return crypto.DoubleSha256Hash(fb.data[:HeaderSize])
}

func (fb *FastBlock) Header() *BlockHeader {
	return &BlockHeader{
		Version:       fb.BlockVersion(),
		HashPrevBlock: fb.PreviousBlockID(),
		MerkleRoot:    fb.MerkleRoot(),
		Time:          fb.Timestamp(),
		Bits:          fb.Bits(),
		Nonce:         fb.Nonce(),
	}
}

// FindTransactions splits the body into Tx views. Call it once; the result
// is kept on the block and returned by Transactions.
func (fb *FastBlock) FindTransactions() error {
	if !fb.IsFullBlock() {
		return errors.New("not a full block")
	}
	body := fb.data[HeaderSize:]
	count, offset, err := readCompactSize(body)
	if err != nil {
		return err
	}
	// A serialized transaction takes at least 10 bytes, so a count beyond
	// that bound cannot be satisfied by the remaining body.
	if count > uint64(len(body)-offset)/10 {
		return errors.Errorf("transaction count %d exceeds the block body", count)
	}
	txs := make([]Tx, 0, count)
	for i := uint64(0); i < count; i++ {
		size, err := txSize(body[offset:])
		if err != nil {
			return errors.Wrapf(err, "transaction %d", i)
		}
		txs = append(txs, Tx{data: body[offset : offset+size]})
		offset += size
	}
	fb.txs = txs
	return nil
}

func (fb *FastBlock) Transactions() []Tx {
	return fb.txs
}

// FastUndoBlock is the undo-data counterpart of FastBlock: a view over the
// rollback payload stored in a rev file.
type FastUndoBlock struct {
	data []byte
	view interface{}
}

func NewFastUndoBlock(raw []byte) *FastUndoBlock {
	return &FastUndoBlock{data: raw}
}

// NewFastUndoBlockFromView wraps the payload bytes of a mapped file view,
// pinning the mapping the way NewFastBlockFromView does.
func NewFastUndoBlockFromView(raw []byte, view interface{}) *FastUndoBlock {
	return &FastUndoBlock{data: raw, view: view}
}

func (fu *FastUndoBlock) Size() int {
	return len(fu.data)
}

func (fu *FastUndoBlock) Data() []byte {
	return fu.data
}

// Tx is one transaction in canonical form, a sub-slice of its block buffer.
type Tx struct {
	data []byte
}

func (tx *Tx) IsValid() bool {
	return len(tx.data) >= 10
}

func (tx *Tx) Size() int {
	return len(tx.data)
}

func (tx *Tx) Data() []byte {
	return tx.data
}

func (tx *Tx) TxVersion() uint32 {
	return binary.LittleEndian.Uint32(tx.data[0:4])
}

// CreateHash returns the double sha256 of the whole transaction, commonly
// called the transaction id.
func (tx *Tx) CreateHash() util.Hash {
	return crypto.DoubleSha256Hash(tx.data)
}

func readCompactSize(buf []byte) (uint64, int, error) {
	if len(buf) < 1 {
		return 0, 0, errors.New("compact size: short buffer")
	}
	switch n := buf[0]; {
	case n < 0xfd:
		return uint64(n), 1, nil
	case n == 0xfd:
		if len(buf) < 3 {
			return 0, 0, errors.New("compact size: short buffer")
		}
		return uint64(binary.LittleEndian.Uint16(buf[1:3])), 3, nil
	case n == 0xfe:
		if len(buf) < 5 {
			return 0, 0, errors.New("compact size: short buffer")
		}
		return uint64(binary.LittleEndian.Uint32(buf[1:5])), 5, nil
	default:
		if len(buf) < 9 {
			return 0, 0, errors.New("compact size: short buffer")
		}
		return binary.LittleEndian.Uint64(buf[1:9]), 9, nil
	}
}

// txSize walks one serialized transaction and returns its total length.
func txSize(buf []byte) (int, error) {
	offset := 4 // version
	inCount, n, err := readCompactSize(sliceFrom(buf, offset))
	if err != nil {
		return 0, err
	}
	offset += n
	for i := uint64(0); i < inCount; i++ {
		offset += 36 // outpoint
		scriptLen, n, err := readCompactSize(sliceFrom(buf, offset))
		if err != nil {
			return 0, err
		}
		if scriptLen > uint64(len(buf)) {
			return 0, errors.Errorf("input script of %d bytes exceeds the buffer", scriptLen)
		}
		offset += n + int(scriptLen) + 4 // script + sequence
	}
	outCount, n, err := readCompactSize(sliceFrom(buf, offset))
	if err != nil {
		return 0, err
	}
	offset += n
	for i := uint64(0); i < outCount; i++ {
		offset += 8 // value
		scriptLen, n, err := readCompactSize(sliceFrom(buf, offset))
		if err != nil {
			return 0, err
		}
		if scriptLen > uint64(len(buf)) {
			return 0, errors.Errorf("output script of %d bytes exceeds the buffer", scriptLen)
		}
		offset += n + int(scriptLen)
	}
	offset += 4 // locktime
	if offset > len(buf) {
		return 0, errors.New("transaction exceeds buffer")
	}
	return offset, nil
}

func sliceFrom(buf []byte, offset int) []byte {
	if offset >= len(buf) {
		return nil
	}
	return buf[offset:]
}
