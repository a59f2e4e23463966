// Package backdrop is the single point of dispatch between decoded heap
// events and the heap implementation a trace is replayed against.
//
// A HeapBackdrop owns the trace <-> live identifier maps for heaps and
// allocations, one slot per heap operation, and the per-operation timing
// statistics. Every dispatch holds the backdrop lock across identifier
// translation, the call into the slot and the resulting map update, so no
// replay thread ever observes a half-applied call.
package backdrop

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/willibrandon/ChronoHeap/pkg/heapapi"
	"github.com/willibrandon/ChronoHeap/pkg/idmap"
)

// Stats holds the totals for one event type: the time spent inside the
// implementation and the number of calls.
type Stats struct {
	Time  time.Duration `json:"time" yaml:"time"`
	Calls uint64        `json:"calls" yaml:"calls"`
}

// HeapBackdrop is safe for concurrent use. Its lock is not reentrant: slot
// implementations must not call back into the backdrop.
type HeapBackdrop struct {
	mu sync.Mutex

	// Pointers to the heap implementation that is being evaluated.
	heapAlloc          heapapi.HeapAllocFunc
	heapCreate         heapapi.HeapCreateFunc
	heapDestroy        heapapi.HeapDestroyFunc
	heapFree           heapapi.HeapFreeFunc
	heapReAlloc        heapapi.HeapReAllocFunc
	heapSetInformation heapapi.HeapSetInformationFunc
	heapSize           heapapi.HeapSizeFunc

	heapMap  *idmap.IDMap[heapapi.Handle]
	allocMap *idmap.IDMap[heapapi.Address]

	// Trace-space heap owning each live trace-space allocation, so that a
	// destroyed heap releases its allocations.
	allocOwner map[heapapi.Address]heapapi.Handle

	totalStats map[heapapi.EventType]Stats

	now func() time.Time
}

// New returns a backdrop with no slots bound.
func New() *HeapBackdrop {
	return &HeapBackdrop{
		heapMap:    idmap.New[heapapi.Handle]("heap"),
		allocMap:   idmap.New[heapapi.Address]("alloc"),
		allocOwner: make(map[heapapi.Address]heapapi.Handle),
		totalStats: make(map[heapapi.EventType]Stats),
		now:        time.Now,
	}
}

// Bind sets every slot from impl.
func (b *HeapBackdrop) Bind(impl heapapi.Heap) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.heapAlloc = impl.HeapAlloc
	b.heapCreate = impl.HeapCreate
	b.heapDestroy = impl.HeapDestroy
	b.heapFree = impl.HeapFree
	b.heapReAlloc = impl.HeapReAlloc
	b.heapSetInformation = impl.HeapSetInformation
	b.heapSize = impl.HeapSize
}

// SetHeapAlloc binds the HeapAlloc slot. A nil fn unbinds it.
func (b *HeapBackdrop) SetHeapAlloc(fn heapapi.HeapAllocFunc) {
	b.mu.Lock()
	b.heapAlloc = fn
	b.mu.Unlock()
}

// SetHeapCreate binds the HeapCreate slot.
func (b *HeapBackdrop) SetHeapCreate(fn heapapi.HeapCreateFunc) {
	b.mu.Lock()
	b.heapCreate = fn
	b.mu.Unlock()
}

// SetHeapDestroy binds the HeapDestroy slot.
func (b *HeapBackdrop) SetHeapDestroy(fn heapapi.HeapDestroyFunc) {
	b.mu.Lock()
	b.heapDestroy = fn
	b.mu.Unlock()
}

// SetHeapFree binds the HeapFree slot.
func (b *HeapBackdrop) SetHeapFree(fn heapapi.HeapFreeFunc) {
	b.mu.Lock()
	b.heapFree = fn
	b.mu.Unlock()
}

// SetHeapReAlloc binds the HeapReAlloc slot.
func (b *HeapBackdrop) SetHeapReAlloc(fn heapapi.HeapReAllocFunc) {
	b.mu.Lock()
	b.heapReAlloc = fn
	b.mu.Unlock()
}

// SetHeapSetInformation binds the HeapSetInformation slot.
func (b *HeapBackdrop) SetHeapSetInformation(fn heapapi.HeapSetInformationFunc) {
	b.mu.Lock()
	b.heapSetInformation = fn
	b.mu.Unlock()
}

// SetHeapSize binds the HeapSize slot.
func (b *HeapBackdrop) SetHeapSize(fn heapapi.HeapSizeFunc) {
	b.mu.Lock()
	b.heapSize = fn
	b.mu.Unlock()
}

// HeapMap returns the heap handle map.
func (b *HeapBackdrop) HeapMap() *idmap.IDMap[heapapi.Handle] {
	return b.heapMap
}

// AllocMap returns the allocation address map.
func (b *HeapBackdrop) AllocMap() *idmap.IDMap[heapapi.Address] {
	return b.allocMap
}

// UpdateStats adds elapsed to the totals of type et and counts one call.
func (b *HeapBackdrop) UpdateStats(et heapapi.EventType, elapsed time.Duration) {
	b.mu.Lock()
	b.updateStatsLocked(et, elapsed)
	b.mu.Unlock()
}

func (b *HeapBackdrop) updateStatsLocked(et heapapi.EventType, elapsed time.Duration) {
	if elapsed < 0 {
		elapsed = 0
	}
	s := b.totalStats[et]
	s.Time += elapsed
	s.Calls++
	b.totalStats[et] = s
}

// Stats returns a copy of the accumulated statistics.
func (b *HeapBackdrop) Stats() map[heapapi.EventType]Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[heapapi.EventType]Stats, len(b.totalStats))
	for et, s := range b.totalStats {
		out[et] = s
	}
	return out
}

func unbound(et heapapi.EventType) error {
	return errors.Wrapf(heapapi.ErrUnboundOperation, "%s", et)
}

// outcome compares the success of a recorded call with its replay.
func outcome(et heapapi.EventType, traceOK, liveOK bool) error {
	if traceOK == liveOK {
		return nil
	}
	return errors.Wrapf(heapapi.ErrDivergence, "%s: trace succeeded=%t, replay succeeded=%t", et, traceOK, liveOK)
}

func (b *HeapBackdrop) translateHeap(trace heapapi.Handle) (heapapi.Handle, error) {
	if trace == heapapi.NullHandle {
		return heapapi.NullHandle, nil
	}
	return b.heapMap.Translate(trace)
}

func (b *HeapBackdrop) translateAlloc(trace heapapi.Address) (heapapi.Address, error) {
	if trace == heapapi.NullAddress {
		return heapapi.NullAddress, nil
	}
	return b.allocMap.Translate(trace)
}

func (b *HeapBackdrop) addAlloc(heap heapapi.Handle, trace, live heapapi.Address) error {
	if err := b.allocMap.Insert(trace, live); err != nil {
		return err
	}
	b.allocOwner[trace] = heap
	return nil
}

func (b *HeapBackdrop) removeAlloc(trace heapapi.Address) error {
	if err := b.allocMap.Remove(trace); err != nil {
		return err
	}
	delete(b.allocOwner, trace)
	return nil
}

// recoverSlot turns a panic raised by a slot into an error so that a
// misbehaving implementation fails the event instead of the replay.
func recoverSlot(et heapapi.EventType, err *error) {
	if r := recover(); r != nil {
		*err = errors.Wrapf(heapapi.ErrDivergence, "%s implementation panicked: %v", et, r)
	}
}
