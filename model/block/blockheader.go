package block

import (
	"bytes"
	"fmt"
	"io"

	"github.com/copernet/blockstore/crypto"
	"github.com/copernet/blockstore/util"
)

// HeaderSize is the size of a serialized block header.
const HeaderSize = 16 + util.Hash256Size*2

type BlockHeader struct {
	Version       int32
	HashPrevBlock util.Hash
	MerkleRoot    util.Hash
	Time          uint32
	Bits          uint32
	Nonce         uint32
}

func NewBlockHeader() *BlockHeader {
	return &BlockHeader{}
}

func (bh *BlockHeader) IsNull() bool {
	return bh.Bits == 0
}

func (bh *BlockHeader) GetBlockTime() int64 {
	return int64(bh.Time)
}

func (bh *BlockHeader) GetHash() util.Hash {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	_ = bh.Serialize(buf)
	return crypto.DoubleSha256Hash(buf.Bytes())
}

func (bh *BlockHeader) SetNull() {
	*bh = BlockHeader{}
}

func (bh *BlockHeader) Serialize(w io.Writer) error {
	return util.WriteElements(w, bh.Version, &bh.HashPrevBlock, &bh.MerkleRoot,
		bh.Time, bh.Bits, bh.Nonce)
}

func (bh *BlockHeader) Unserialize(r io.Reader) error {
	return util.ReadElements(r, &bh.Version, &bh.HashPrevBlock, &bh.MerkleRoot,
		&bh.Time, &bh.Bits, &bh.Nonce)
}

func (bh *BlockHeader) String() string {
	return fmt.Sprintf("BlockHeader(version=%d, hashPrevBlock=%s, merkleRoot=%s, "+
		"time=%d, bits=%d, nonce=%d)", bh.Version, bh.HashPrevBlock.String(),
		bh.MerkleRoot.String(), bh.Time, bh.Bits, bh.Nonce)
}
