package chain

import (
	"testing"

	"github.com/copernet/blockstore/model/block"
	"github.com/copernet/blockstore/model/blockindex"
)

func makeChain(count int32) []*blockindex.BlockIndex {
	entries := make([]*blockindex.BlockIndex, count)
	entries[0] = blockindex.NewBlockIndex(block.NewBlockHeader())
	for i := int32(1); i < count; i++ {
		bi := blockindex.NewBlockIndex(block.NewBlockHeader())
		bi.Prev = entries[i-1]
		bi.Height = i
		bi.BuildSkip()
		entries[i] = bi
	}
	return entries
}

func TestEmptyChain(t *testing.T) {
	c := NewChain()
	if c.Tip() != nil || c.Genesis() != nil {
		t.Error("empty chain should have no tip or genesis")
	}
	if c.Height() != -1 {
		t.Errorf("empty chain height should be -1, got %d", c.Height())
	}
}

func TestSetTipAndLookups(t *testing.T) {
	entries := makeChain(20)
	c := NewChain()
	c.SetTip(entries[19])

	if c.Height() != 19 {
		t.Errorf("height expect 19, got %d", c.Height())
	}
	if c.Genesis() != entries[0] {
		t.Error("wrong genesis")
	}
	if c.Tip() != entries[19] {
		t.Error("wrong tip")
	}
	for i, bi := range entries {
		if c.GetIndex(int32(i)) != bi {
			t.Errorf("GetIndex(%d) returned wrong entry", i)
		}
		if !c.Contains(bi) {
			t.Errorf("chain should contain entry at height %d", i)
		}
		if bi.Height != int32(i) {
			t.Errorf("chain[%d].Height = %d", i, bi.Height)
		}
	}
	if c.Next(entries[5]) != entries[6] {
		t.Error("Next(5) should be entry 6")
	}
	if c.Next(entries[19]) != nil {
		t.Error("Next(tip) should be nil")
	}
}

func TestSetTipReorg(t *testing.T) {
	entries := makeChain(10)
	c := NewChain()
	c.SetTip(entries[9])

	// Fork at height 5 with a competing branch of the same length.
	fork := make([]*blockindex.BlockIndex, 10)
	copy(fork, entries[:6])
	for i := int32(6); i < 10; i++ {
		bi := blockindex.NewBlockIndex(block.NewBlockHeader())
		bi.Header.Nonce = uint32(i) // distinguish from main branch
		bi.Prev = fork[i-1]
		bi.Height = i
		fork[i] = bi
	}
	c.SetTip(fork[9])

	if c.Tip() != fork[9] {
		t.Error("tip should move to the fork")
	}
	for i := int32(0); i <= 5; i++ {
		if c.GetIndex(i) != entries[i] {
			t.Errorf("shared prefix at height %d should be untouched", i)
		}
	}
	for i := int32(6); i < 10; i++ {
		if c.GetIndex(i) != fork[i] {
			t.Errorf("height %d should hold the fork entry", i)
		}
		if c.Contains(entries[i]) {
			t.Errorf("old branch entry at height %d should be gone", i)
		}
	}

	if f := c.FindFork(entries[9]); f != entries[5] {
		t.Errorf("FindFork should land on height 5, got %v", f)
	}

	// Shrink to a lower tip.
	c.SetTip(entries[3])
	if c.Height() != 3 || c.Tip() != entries[3] {
		t.Error("chain should shrink when tip is an ancestor")
	}

	c.SetTip(nil)
	if c.Height() != -1 {
		t.Error("nil tip should clear the chain")
	}
}

func TestEqual(t *testing.T) {
	entries := makeChain(5)
	a, b := NewChain(), NewChain()
	if !a.Equal(b) {
		t.Error("two empty chains should be equal")
	}
	a.SetTip(entries[4])
	if a.Equal(b) {
		t.Error("chains of different length should differ")
	}
	b.SetTip(entries[4])
	if !a.Equal(b) {
		t.Error("same tip should compare equal")
	}
}
