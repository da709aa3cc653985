package chain

import (
	"github.com/copernet/blockstore/model/blockindex"
)

// Chain is an in-memory indexed chain of blocks: active[h] is the entry at
// height h, active[len-1] the tip. Callers serialize mutation.
type Chain struct {
	active []*blockindex.BlockIndex
}

func NewChain() *Chain {
	return &Chain{}
}

// Genesis returns the entry for the genesis block of this chain, or nil.
func (c *Chain) Genesis() *blockindex.BlockIndex {
	if len(c.active) > 0 {
		return c.active[0]
	}
	return nil
}

// Tip returns the entry for the tip of this chain, or nil if empty.
func (c *Chain) Tip() *blockindex.BlockIndex {
	if len(c.active) > 0 {
		return c.active[len(c.active)-1]
	}
	return nil
}

// Height returns the maximal height in the chain, or -1 when empty.
func (c *Chain) Height() int32 {
	return int32(len(c.active)) - 1
}

// GetIndex returns the entry at a particular height, or nil if no such
// height exists.
func (c *Chain) GetIndex(height int32) *blockindex.BlockIndex {
	if height < 0 || height >= int32(len(c.active)) {
		return nil
	}
	return c.active[height]
}

// Contains efficiently checks whether a block is present in this chain.
func (c *Chain) Contains(index *blockindex.BlockIndex) bool {
	if index == nil {
		return false
	}
	return c.GetIndex(index.Height) == index
}

// Next finds the successor of a block in this chain, or nil if the given
// index is not found or is the tip.
func (c *Chain) Next(index *blockindex.BlockIndex) *blockindex.BlockIndex {
	if c.Contains(index) {
		return c.GetIndex(index.Height + 1)
	}
	return nil
}

// Equal compares two chains by length and tip.
func (c *Chain) Equal(dst *Chain) bool {
	if dst == nil || len(c.active) != len(dst.active) {
		return false
	}
	if len(c.active) == 0 {
		return true
	}
	return c.active[len(c.active)-1] == dst.active[len(dst.active)-1]
}

// SetTip sets/initializes the chain with the given tip, rewriting the height
// index back to the fork point with the previous active chain. A nil index
// clears the chain.
func (c *Chain) SetTip(index *blockindex.BlockIndex) {
	if index == nil {
		c.active = nil
		return
	}

	tmp := make([]*blockindex.BlockIndex, index.Height+1)
	copy(tmp, c.active)
	c.active = tmp
	for index != nil && c.active[index.Height] != index {
		c.active[index.Height] = index
		index = index.Prev
	}
}

// FindFork finds the last common block between this chain and the branch the
// given entry sits on.
func (c *Chain) FindFork(index *blockindex.BlockIndex) *blockindex.BlockIndex {
	if index == nil {
		return nil
	}
	if index.Height > c.Height() {
		index = index.GetAncestor(c.Height())
	}
	for index != nil && !c.Contains(index) {
		index = index.Prev
	}
	return index
}
