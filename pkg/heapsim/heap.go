package heapsim

import (
	"sync"

	"github.com/tidwall/btree"

	"github.com/willibrandon/ChronoHeap/pkg/heapapi"
)

// block is one live allocation.
type block struct {
	arena     *arena
	order     int
	requested uint64
}

// HeapStats counts the activity of one heap.
type HeapStats struct {
	Arenas         int    `json:"arenas" yaml:"arenas"`
	LiveBlocks     int    `json:"live_blocks" yaml:"live_blocks"`
	ReservedBytes  uint64 `json:"reserved_bytes" yaml:"reserved_bytes"`
	AllocatedBytes uint64 `json:"allocated_bytes" yaml:"allocated_bytes"`
	RequestedBytes uint64 `json:"requested_bytes" yaml:"requested_bytes"`
	Allocs         uint64 `json:"allocs" yaml:"allocs"`
	Frees          uint64 `json:"frees" yaml:"frees"`
	ReAllocs       uint64 `json:"reallocs" yaml:"reallocs"`
	Failures       uint64 `json:"failures" yaml:"failures"`
}

func (s *HeapStats) add(o HeapStats) {
	s.Arenas += o.Arenas
	s.LiveBlocks += o.LiveBlocks
	s.ReservedBytes += o.ReservedBytes
	s.AllocatedBytes += o.AllocatedBytes
	s.RequestedBytes += o.RequestedBytes
	s.Allocs += o.Allocs
	s.Frees += o.Frees
	s.ReAllocs += o.ReAllocs
	s.Failures += o.Failures
}

// heap is one simulated heap. A fixed heap owns a single arena and rejects
// requests above its maximum size; a growable heap adds arenas on demand.
type heap struct {
	mu sync.Mutex

	handle    heapapi.Handle
	options   uint32
	maxSize   uint64
	arenas    []*arena
	blocks    btree.Map[uint64, block]
	stats     HeapStats
	compat    uint64
	terminate bool
}

func (h *heap) growable() bool { return h.maxSize == 0 }

// allocLocked carves size bytes out of the first arena that fits, asking
// grow for a new arena when none does. grow returns nil once the address
// space is exhausted.
func (h *heap) allocLocked(size uint64, grow func(size uint64) *arena) (uint64, bool) {
	if HighBit(size) > maxBlockOrder || (!h.growable() && size > h.maxSize) {
		return 0, false
	}
	for _, a := range h.arenas {
		if addr, order, ok := a.alloc(size); ok {
			h.blocks.Set(addr, block{arena: a, order: order, requested: size})
			h.stats.RequestedBytes += size
			return addr, true
		}
	}
	if !h.growable() {
		return 0, false
	}
	a := grow(size)
	if a == nil {
		return 0, false
	}
	h.arenas = append(h.arenas, a)
	addr, order, ok := a.alloc(size)
	if !ok {
		return 0, false
	}
	h.blocks.Set(addr, block{arena: a, order: order, requested: size})
	h.stats.RequestedBytes += size
	return addr, true
}

func (h *heap) freeLocked(addr uint64) bool {
	b, ok := h.blocks.Delete(addr)
	if !ok {
		return false
	}
	b.arena.release(addr, b.order)
	h.stats.RequestedBytes -= b.requested
	return true
}

// reallocLocked resizes the block at addr. Blocks stay put when the new
// size fits the block or its free buddies; otherwise they move unless
// inPlaceOnly is set.
func (h *heap) reallocLocked(addr, size uint64, inPlaceOnly bool, grow func(size uint64) *arena) (uint64, bool) {
	b, ok := h.blocks.Get(addr)
	if !ok {
		return 0, false
	}
	if !h.growable() && size > h.maxSize {
		return 0, false
	}
	want := HighBit(size)
	if want > maxBlockOrder {
		return 0, false
	}
	if want < minOrder {
		want = minOrder
	}
	switch {
	case want == b.order:
	case want < b.order:
		b.arena.shrinkInPlace(addr, b.order, want)
		b.order = want
	case b.arena.canGrowInPlace(addr, b.order, want):
		b.arena.growInPlace(addr, b.order, want)
		b.order = want
	default:
		if inPlaceOnly {
			return 0, false
		}
		naddr, ok := h.allocLocked(size, grow)
		if !ok {
			return 0, false
		}
		h.freeLocked(addr)
		return naddr, true
	}
	h.stats.RequestedBytes += size
	h.stats.RequestedBytes -= b.requested
	b.requested = size
	h.blocks.Set(addr, b)
	return addr, true
}

func (h *heap) sizeLocked(addr uint64) (uint64, bool) {
	b, ok := h.blocks.Get(addr)
	if !ok {
		return 0, false
	}
	return b.requested, true
}

func (h *heap) statsLocked() HeapStats {
	s := h.stats
	s.Arenas = len(h.arenas)
	s.LiveBlocks = h.blocks.Len()
	s.ReservedBytes = 0
	s.AllocatedBytes = 0
	for _, a := range h.arenas {
		s.ReservedBytes += a.stats.TotalSize
		s.AllocatedBytes += a.stats.AllocatedSize
	}
	return s
}
