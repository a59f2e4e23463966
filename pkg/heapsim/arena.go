package heapsim

import (
	"math/bits"

	"github.com/tidwall/btree"
)

const (
	// minOrder is the order of the smallest block handed out.
	minOrder = 4
	// minArenaOrder is the order of the smallest arena.
	minArenaOrder = 12
)

// HighBit returns the order of the smallest power of two holding n.
func HighBit(n uint64) int {
	if n <= 1 {
		return 0
	}
	return bits.Len64(n - 1)
}

func lessOffset(a, b uint64) bool { return a < b }

// arena is a buddy allocator over the virtual range [base, base+1<<order).
type arena struct {
	base  uint64
	order int
	// free[h] holds the offsets of free blocks of order h.
	free  []*btree.BTreeG[uint64]
	stats ArenaStats
}

// ArenaStats counts the bytes of one arena.
type ArenaStats struct {
	TotalSize     uint64 `json:"total" yaml:"total"`
	AllocatedSize uint64 `json:"allocated" yaml:"allocated"`
}

func newArena(base uint64, order int) *arena {
	if order < minArenaOrder {
		order = minArenaOrder
	}
	a := &arena{
		base:  base,
		order: order,
		free:  make([]*btree.BTreeG[uint64], order+1),
	}
	for h := range a.free {
		a.free[h] = btree.NewBTreeG(lessOffset)
	}
	a.free[order].Set(0)
	a.stats.TotalSize = 1 << uint(order)
	return a
}

func (a *arena) size() uint64 { return 1 << uint(a.order) }

func (a *arena) contains(addr uint64) bool {
	return addr >= a.base && addr < a.base+a.size()
}

// alloc returns the address and order of a free block of at least size
// bytes, splitting larger blocks as needed.
func (a *arena) alloc(size uint64) (uint64, int, bool) {
	want := HighBit(size)
	if want < minOrder {
		want = minOrder
	}
	if want > a.order {
		return 0, 0, false
	}
	h := want
	for ; h <= a.order; h++ {
		if a.free[h].Len() > 0 {
			break
		}
	}
	if h > a.order {
		return 0, 0, false
	}
	offset, _ := a.free[h].PopMin()
	// Split, keeping the low half and freeing the high half.
	for h > want {
		h--
		a.free[h].Set(offset + 1<<uint(h))
	}
	a.stats.AllocatedSize += 1 << uint(want)
	return a.base + offset, want, true
}

// release returns the block at addr of the given order and merges buddies.
func (a *arena) release(addr uint64, order int) {
	offset := addr - a.base
	a.stats.AllocatedSize -= 1 << uint(order)
	for order < a.order {
		buddy := offset ^ (1 << uint(order))
		if _, ok := a.free[order].Delete(buddy); !ok {
			break
		}
		if buddy < offset {
			offset = buddy
		}
		order++
	}
	a.free[order].Set(offset)
}

// canGrowInPlace reports whether the block at addr of order from can become
// a block of order to by absorbing its free upper buddies.
func (a *arena) canGrowInPlace(addr uint64, from, to int) bool {
	offset := addr - a.base
	if to > a.order || offset%(1<<uint(to)) != 0 {
		return false
	}
	for h := from; h < to; h++ {
		if _, ok := a.free[h].Get(offset + 1<<uint(h)); !ok {
			return false
		}
	}
	return true
}

// growInPlace absorbs the upper buddies checked by canGrowInPlace.
func (a *arena) growInPlace(addr uint64, from, to int) {
	offset := addr - a.base
	for h := from; h < to; h++ {
		a.free[h].Delete(offset + 1<<uint(h))
	}
	a.stats.AllocatedSize += (1 << uint(to)) - (1 << uint(from))
}

// shrinkInPlace frees the upper halves of a block going from order from to
// order to.
func (a *arena) shrinkInPlace(addr uint64, from, to int) {
	offset := addr - a.base
	for h := from - 1; h >= to; h-- {
		a.free[h].Set(offset + 1<<uint(h))
	}
	a.stats.AllocatedSize -= (1 << uint(from)) - (1 << uint(to))
}
