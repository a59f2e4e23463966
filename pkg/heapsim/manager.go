// Package heapsim is a simulated Win32-style heap manager. It hands out
// handles and addresses from a virtual address space without backing
// memory, which makes it a deterministic replay target.
package heapsim

import (
	"sync"

	"github.com/tidwall/btree"

	"github.com/willibrandon/ChronoHeap/pkg/heapapi"
)

const (
	// DefaultArenaSize is the size of the first arena of a growable heap.
	DefaultArenaSize = 1 << 20
	// addressBase is the first virtual address handed out.
	addressBase = 0x10000000
	// handleBase is the first heap handle handed out.
	handleBase = 0x00500000
	// handleStride spaces consecutive heap handles.
	handleStride = 0x10000
	// maxBlockOrder bounds a single block or arena to 1 TiB.
	maxBlockOrder = 40
	// addressLimit is the end of the virtual address space.
	addressLimit = 1 << 47
)

// Manager owns a set of heaps. It is safe for concurrent use.
type Manager struct {
	mu         sync.Mutex
	arenaOrder int
	nextHandle uint64
	nextBase   uint64
	heaps      btree.Map[heapapi.Handle, *heap]
	destroyed  HeapStats
	terminate  bool

	allMu  sync.Mutex
	locked []*heap
}

var _ heapapi.Heap = (*Manager)(nil)

// New returns a Manager whose growable heaps start with arenas of
// arenaSize bytes, rounded up to a power of two and capped at 1 TiB. Zero
// means DefaultArenaSize.
func New(arenaSize uint64) *Manager {
	if arenaSize == 0 {
		arenaSize = DefaultArenaSize
	}
	order := HighBit(arenaSize)
	if order > maxBlockOrder {
		order = maxBlockOrder
	}
	return &Manager{
		arenaOrder: order,
		nextHandle: handleBase,
		nextBase:   addressBase,
	}
}

// newArenaLocked reserves a fresh virtual range of at least size bytes, or
// returns nil when none is left.
func (m *Manager) newArenaLocked(size uint64) *arena {
	order := HighBit(size)
	if order < m.arenaOrder {
		order = m.arenaOrder
	}
	return m.reserveLocked(order)
}

// reserveLocked carves an arena of the given order out of the virtual
// address space. Arenas are followed by a guard gap of the same size so
// stray addresses never alias.
func (m *Manager) reserveLocked(order int) *arena {
	if order < minArenaOrder {
		order = minArenaOrder
	}
	if order > maxBlockOrder {
		return nil
	}
	span := uint64(2) << uint(order)
	if m.nextBase > addressLimit-span {
		return nil
	}
	a := newArena(m.nextBase, order)
	m.nextBase += span
	return a
}

func (m *Manager) grower() func(size uint64) *arena {
	return func(size uint64) *arena {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.newArenaLocked(size)
	}
}

func (m *Manager) lookup(handle heapapi.Handle) *heap {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, _ := m.heaps.Get(handle)
	return h
}

// HeapCreate creates a heap. A zero maximumSize makes it growable; a
// non-zero initialSize larger than maximumSize fails.
func (m *Manager) HeapCreate(options uint32, initialSize, maximumSize uint64) heapapi.Handle {
	if maximumSize != 0 && initialSize > maximumSize {
		return heapapi.NullHandle
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	size := initialSize
	if maximumSize != 0 {
		size = maximumSize
	}
	var a *arena
	if maximumSize != 0 {
		// Fixed heaps never borrow the manager's default arena size.
		a = m.reserveLocked(HighBit(size))
	} else {
		a = m.newArenaLocked(size)
	}
	if a == nil {
		return heapapi.NullHandle
	}
	h := &heap{
		handle:  heapapi.Handle(m.nextHandle),
		options: options,
		maxSize: maximumSize,
		arenas:  []*arena{a},
	}
	m.nextHandle += handleStride
	m.heaps.Set(h.handle, h)
	return h.handle
}

// HeapDestroy destroys a heap and every allocation in it.
func (m *Manager) HeapDestroy(handle heapapi.Handle) bool {
	m.mu.Lock()
	h, ok := m.heaps.Delete(handle)
	m.mu.Unlock()
	if !ok {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.statsLocked()
	m.mu.Lock()
	m.destroyed.Allocs += s.Allocs
	m.destroyed.Frees += s.Frees
	m.destroyed.ReAllocs += s.ReAllocs
	m.destroyed.Failures += s.Failures
	m.mu.Unlock()
	return true
}

// HeapAlloc allocates bytes from a heap. Memory is virtual, so
// HEAP_ZERO_MEMORY needs no work.
func (m *Manager) HeapAlloc(handle heapapi.Handle, flags uint32, bytes uint64) heapapi.Address {
	h := m.lookup(handle)
	if h == nil {
		return heapapi.NullAddress
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	addr, ok := h.allocLocked(bytes, m.grower())
	if !ok {
		h.stats.Failures++
		return heapapi.NullAddress
	}
	h.stats.Allocs++
	return heapapi.Address(addr)
}

// HeapFree frees an allocation. Freeing null succeeds.
func (m *Manager) HeapFree(handle heapapi.Handle, flags uint32, mem heapapi.Address) bool {
	h := m.lookup(handle)
	if h == nil {
		return false
	}
	if mem == heapapi.NullAddress {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.freeLocked(uint64(mem)) {
		h.stats.Failures++
		return false
	}
	h.stats.Frees++
	return true
}

// HeapReAlloc resizes an allocation, moving it unless
// HEAP_REALLOC_IN_PLACE_ONLY is set.
func (m *Manager) HeapReAlloc(handle heapapi.Handle, flags uint32, mem heapapi.Address, bytes uint64) heapapi.Address {
	h := m.lookup(handle)
	if h == nil {
		return heapapi.NullAddress
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	inPlace := flags&heapapi.HeapReAllocInPlaceOnly != 0
	addr, ok := h.reallocLocked(uint64(mem), bytes, inPlace, m.grower())
	if !ok {
		h.stats.Failures++
		return heapapi.NullAddress
	}
	h.stats.ReAllocs++
	return heapapi.Address(addr)
}

// HeapSize returns the requested size of an allocation or
// heapapi.SizeFailure.
func (m *Manager) HeapSize(handle heapapi.Handle, flags uint32, mem heapapi.Address) uint64 {
	h := m.lookup(handle)
	if h == nil {
		return heapapi.SizeFailure
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	size, ok := h.sizeLocked(uint64(mem))
	if !ok {
		return heapapi.SizeFailure
	}
	return size
}

// HeapSetInformation accepts the compatibility and termination-on-corruption
// classes. Termination may be set process wide with a null heap.
func (m *Manager) HeapSetInformation(handle heapapi.Handle, infoClass uint32, info, infoLength uint64) bool {
	switch infoClass {
	case heapapi.HeapEnableTerminationOnCorruption:
		if handle == heapapi.NullHandle {
			m.mu.Lock()
			m.terminate = true
			m.mu.Unlock()
			return true
		}
		h := m.lookup(handle)
		if h == nil {
			return false
		}
		h.mu.Lock()
		h.terminate = true
		h.mu.Unlock()
		return true
	case heapapi.HeapCompatibilityInformation:
		h := m.lookup(handle)
		if h == nil {
			return false
		}
		h.mu.Lock()
		h.compat = info
		h.mu.Unlock()
		return true
	default:
		return false
	}
}

// Handles returns the live heap handles in ascending order.
func (m *Manager) Handles() []heapapi.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]heapapi.Handle, 0, m.heaps.Len())
	m.heaps.Scan(func(k heapapi.Handle, _ *heap) bool {
		out = append(out, k)
		return true
	})
	return out
}

// HeapStats returns the stats of one heap.
func (m *Manager) HeapStats(handle heapapi.Handle) (HeapStats, bool) {
	h := m.lookup(handle)
	if h == nil {
		return HeapStats{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statsLocked(), true
}

// ManagerStats aggregates all heaps, live and destroyed.
type ManagerStats struct {
	Heaps     int `json:"heaps" yaml:"heaps"`
	HeapStats `yaml:",inline"`
}

// Stats returns totals across every heap. Counters of destroyed heaps are
// kept; their bytes and blocks are not.
func (m *Manager) Stats() ManagerStats {
	var s ManagerStats
	for _, handle := range m.Handles() {
		if hs, ok := m.HeapStats(handle); ok {
			s.Heaps++
			s.add(hs)
		}
	}
	m.mu.Lock()
	s.add(m.destroyed)
	m.mu.Unlock()
	return s
}

// BestEffortLockAll takes the manager's global lock and then tries every
// heap lock without blocking. It returns how many heap locks it holds, and
// false when the global lock is already held.
func (m *Manager) BestEffortLockAll() (int, bool) {
	if !m.allMu.TryLock() {
		return 0, false
	}
	m.mu.Lock()
	var all []*heap
	m.heaps.Scan(func(_ heapapi.Handle, h *heap) bool {
		all = append(all, h)
		return true
	})
	m.mu.Unlock()

	m.locked = m.locked[:0]
	for _, h := range all {
		if h.mu.TryLock() {
			m.locked = append(m.locked, h)
		}
	}
	return len(m.locked), true
}

// UnlockAll releases what BestEffortLockAll acquired.
func (m *Manager) UnlockAll() {
	for i := len(m.locked) - 1; i >= 0; i-- {
		m.locked[i].mu.Unlock()
	}
	m.locked = m.locked[:0]
	m.allMu.Unlock()
}

// TerminationOnCorruption reports whether termination was enabled process
// wide or for handle.
func (m *Manager) TerminationOnCorruption(handle heapapi.Handle) bool {
	m.mu.Lock()
	global := m.terminate
	m.mu.Unlock()
	if global {
		return true
	}
	h := m.lookup(handle)
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminate
}

// Merge adds the totals of o to s.
func (s *ManagerStats) Merge(o ManagerStats) {
	s.Heaps += o.Heaps
	s.add(o.HeapStats)
}
