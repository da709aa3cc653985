package blockindex

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/copernet/blockstore/model/block"
	"github.com/copernet/blockstore/util"
)

/**
 * The block chain is a tree shaped structure starting with the genesis block
 * at the root, with each block potentially having multiple candidates to be
 * the next block. A BlockIndex may have multiple children pointing back to
 * it, but at most one of them can be part of the currently active branch.
 */

type BlockIndex struct {
	Header block.BlockHeader
	// hash of this block
	BlockHash util.Hash
	// index of the predecessor of this block
	Prev *BlockIndex
	// index of some further predecessor of this block
	Skip *BlockIndex
	// height of the entry in the chain, the genesis block has height 0
	Height int32
	// which # file this block is stored in (blk?????.dat)
	File int32
	// byte offset within blk?????.dat where this block's data is stored
	DataPos uint32
	// byte offset within rev?????.dat where this block's undo data is stored
	UndoPos uint32
	// (memory only) total amount of work (expected number of hashes) in the
	// chain up to and including this block
	ChainWork big.Int
	// number of transactions in this block
	TxCount int32
	// status of this block, see blockstatus.go
	Status uint32
	// (memory only) maximum time in the chain up to and including this block
	TimeMax uint32
}

const medianTimeSpan = 11

func NewBlockIndex(blkHeader *block.BlockHeader) *BlockIndex {
	bi := new(BlockIndex)
	bi.SetNull()
	bi.Header = *blkHeader
	return bi
}

func (bIndex *BlockIndex) SetNull() {
	bIndex.Header.SetNull()
	bIndex.BlockHash = util.Hash{}
	bIndex.Prev = nil
	bIndex.Skip = nil

	bIndex.Height = 0
	bIndex.File = -1
	bIndex.DataPos = 0
	bIndex.UndoPos = 0
	bIndex.ChainWork = big.Int{}
	bIndex.TxCount = 0
	bIndex.Status = 0
	bIndex.TimeMax = 0
}

func (bIndex *BlockIndex) HasData() bool {
	return bIndex.Status&BlockHaveData != 0
}

func (bIndex *BlockIndex) HasUndo() bool {
	return bIndex.Status&BlockHaveUndo != 0
}

// IsInvalid reports whether this block or one of its ancestors failed
// validation. Invalid entries never make it onto the active chain.
func (bIndex *BlockIndex) IsInvalid() bool {
	return bIndex.Status&BlockInvalidMask != 0
}

func (bIndex *BlockIndex) AddStatus(status uint32) {
	bIndex.Status |= status
}

func (bIndex *BlockIndex) SubStatus(status uint32) {
	bIndex.Status &= ^status
}

// IsValid checks whether this entry is valid up to the passed validity level.
func (bIndex *BlockIndex) IsValid(upto uint32) bool {
	if bIndex.IsInvalid() {
		return false
	}
	return bIndex.Status&BlockValidityMask >= upto
}

// RaiseValidity raises the validity level of this entry, returning true if
// the level changed.
func (bIndex *BlockIndex) RaiseValidity(upto uint32) bool {
	if bIndex.IsInvalid() {
		return false
	}
	if bIndex.Status&BlockValidityMask >= upto {
		return false
	}
	bIndex.Status = (bIndex.Status &^ BlockValidityMask) | upto
	return true
}

func (bIndex *BlockIndex) SetBlockHash(hash util.Hash) {
	bIndex.BlockHash = hash
}

func (bIndex *BlockIndex) GetBlockHash() *util.Hash {
	return &bIndex.BlockHash
}

func (bIndex *BlockIndex) GetBlockHeader() *block.BlockHeader {
	return &bIndex.Header
}

func (bIndex *BlockIndex) GetBlockPos() block.DiskBlockPos {
	return block.DiskBlockPos{File: bIndex.File, Pos: bIndex.DataPos}
}

func (bIndex *BlockIndex) GetUndoPos() block.DiskBlockPos {
	return block.DiskBlockPos{File: bIndex.File, Pos: bIndex.UndoPos}
}

func (bIndex *BlockIndex) GetBlockTime() uint32 {
	return bIndex.Header.Time
}

func (bIndex *BlockIndex) GetBlockTimeMax() uint32 {
	return bIndex.TimeMax
}

func (bIndex *BlockIndex) IsGenesis() bool {
	return bIndex.Prev == nil && bIndex.Height == 0
}

func (bIndex *BlockIndex) GetMedianTimePast() int64 {
	median := make([]int64, 0, medianTimeSpan)
	index := bIndex
	for i := 0; i < medianTimeSpan && index != nil; i++ {
		median = append(median, int64(index.GetBlockTime()))
		index = index.Prev
	}
	sort.Slice(median, func(i, j int) bool {
		return median[i] < median[j]
	})
	return median[len(median)/2]
}

func (bIndex *BlockIndex) BuildSkip() {
	if bIndex.Prev != nil {
		bIndex.Skip = bIndex.Prev.GetAncestor(getSkipHeight(bIndex.Height))
	}
}

// Turn the lowest '1' bit in the binary representation of a number into a '0'.
func invertLowestOne(n int32) int32 {
	return n & (n - 1)
}

// getSkipHeight computes what height to jump back to with the Skip pointer.
func getSkipHeight(height int32) int32 {
	if height < 2 {
		return 0
	}

	// Any number strictly lower than height is acceptable, but the following
	// expression performs well in simulations (max 110 steps to go back up to
	// 2**18 blocks).
	if height&1 > 0 {
		return invertLowestOne(invertLowestOne(height-1)) + 1
	}
	return invertLowestOne(height)
}

// GetAncestor efficiently finds the ancestor of this block at the given
// height, following skip pointers where they help.
func (bIndex *BlockIndex) GetAncestor(height int32) *BlockIndex {
	if height > bIndex.Height || height < 0 {
		return nil
	}
	indexWalk := bIndex
	heightWalk := bIndex.Height
	for heightWalk > height {
		heightSkip := getSkipHeight(heightWalk)
		heightSkipPrev := getSkipHeight(heightWalk - 1)
		if indexWalk.Skip != nil && (heightSkip == height ||
			(heightSkip > height && !(heightSkipPrev < heightSkip-2 && heightSkipPrev >= height))) {
			// Only follow skip if prev->skip isn't better than skip->prev.
			indexWalk = indexWalk.Skip
			heightWalk = heightSkip
		} else {
			if indexWalk.Prev == nil {
				return nil
			}
			indexWalk = indexWalk.Prev
			heightWalk--
		}
	}
	return indexWalk
}

func (bIndex *BlockIndex) String() string {
	return fmt.Sprintf("BlockIndex(height=%d, merkle=%s, hashBlock=%s)",
		bIndex.Height, bIndex.Header.MerkleRoot.String(), bIndex.BlockHash.String())
}
