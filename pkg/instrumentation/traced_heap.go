// Package instrumentation wraps a heap implementation so every call through
// it is written to a recorder as raw trace records.
package instrumentation

import (
	"sync"

	"go.uber.org/zap"

	"github.com/willibrandon/ChronoHeap/pkg/events"
	"github.com/willibrandon/ChronoHeap/pkg/heapapi"
	"github.com/willibrandon/ChronoHeap/pkg/logutil"
	"github.com/willibrandon/ChronoHeap/pkg/recorder"
)

// DefaultThreadID is the thread calls through TracedHeap itself are
// attributed to.
const DefaultThreadID = 1

// TracedHeap records calls into impl. Calls are serialized so that record
// order matches the order impl observed them in.
type TracedHeap struct {
	mu       sync.Mutex
	impl     heapapi.Heap
	rec      recorder.Recorder
	registry *heapapi.Registry
	opts     InstrumentationOptions
	pid      uint32

	fids     map[heapapi.EventType]uint32
	nextFID  uint32
	clock    uint64
	deferred []recorder.Record
	calls    uint64
	errs     int
}

var _ heapapi.Heap = (*TracedHeap)(nil)

// NewTracedHeap wraps impl, attributing records to process pid.
func NewTracedHeap(impl heapapi.Heap, rec recorder.Recorder, pid uint32, opts InstrumentationOptions) *TracedHeap {
	return &TracedHeap{
		impl:     impl,
		rec:      rec,
		registry: heapapi.DefaultRegistry(),
		opts:     opts,
		pid:      pid,
		fids:     make(map[heapapi.EventType]uint32),
		nextFID:  1,
	}
}

// NewTracedHeapFromEnvironment is NewTracedHeap with options read from the
// CHRONOHEAP_TRACE_* environment variables.
func NewTracedHeapFromEnvironment(impl heapapi.Heap, rec recorder.Recorder, pid uint32) *TracedHeap {
	return NewTracedHeap(impl, rec, pid, loadOptionsFromEnvironment())
}

// Thread returns a view of t whose calls are attributed to tid.
func (t *TracedHeap) Thread(tid uint32) *ThreadHeap {
	return &ThreadHeap{t: t, tid: tid}
}

// Calls returns the number of call records emitted.
func (t *TracedHeap) Calls() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Errors returns the number of records the recorder rejected.
func (t *TracedHeap) Errors() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errs
}

// FlushNames emits name records held back by DeferNames.
func (t *TracedHeap) FlushNames() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.deferred {
		t.emitLocked(r)
	}
	t.deferred = nil
}

func (t *TracedHeap) emitLocked(r recorder.Record) {
	if err := t.rec.RecordEvent(r); err != nil {
		t.errs++
		logutil.Warn("recording failed", zap.Stringer("record", r), zap.Error(err))
	}
}

// fidLocked returns the function id of et, announcing it on first use.
func (t *TracedHeap) fidLocked(et heapapi.EventType) uint32 {
	if fid, ok := t.fids[et]; ok {
		return fid
	}
	fid := t.nextFID
	t.nextFID++
	t.fids[et] = fid

	name, ok := t.registry.NameOf(et)
	if !ok {
		name = heapapi.FunctionNamePrefix + et.String()
	}
	r := recorder.NewFunctionNameRecord(t.pid, fid, name)
	if t.opts.DeferNames {
		t.deferred = append(t.deferred, r)
	} else {
		t.emitLocked(r)
	}
	return fid
}

// do runs call and records the event it returns.
func (t *TracedHeap) do(tid uint32, et heapapi.EventType, call func() events.Event) {
	if !t.opts.ShouldTrace(et) {
		call()
		return
	}
	stack := stackID(2)

	t.mu.Lock()
	defer t.mu.Unlock()
	e := call()
	fid := t.fidLocked(et)
	t.clock++
	t.calls++
	t.emitLocked(recorder.NewCallRecord(t.pid, tid, t.clock, fid, stack, events.Encode(e)))
}

func (t *TracedHeap) HeapAlloc(heap heapapi.Handle, flags uint32, bytes uint64) heapapi.Address {
	return t.Thread(DefaultThreadID).HeapAlloc(heap, flags, bytes)
}

func (t *TracedHeap) HeapCreate(options uint32, initialSize, maximumSize uint64) heapapi.Handle {
	return t.Thread(DefaultThreadID).HeapCreate(options, initialSize, maximumSize)
}

func (t *TracedHeap) HeapDestroy(heap heapapi.Handle) bool {
	return t.Thread(DefaultThreadID).HeapDestroy(heap)
}

func (t *TracedHeap) HeapFree(heap heapapi.Handle, flags uint32, mem heapapi.Address) bool {
	return t.Thread(DefaultThreadID).HeapFree(heap, flags, mem)
}

func (t *TracedHeap) HeapReAlloc(heap heapapi.Handle, flags uint32, mem heapapi.Address, bytes uint64) heapapi.Address {
	return t.Thread(DefaultThreadID).HeapReAlloc(heap, flags, mem, bytes)
}

func (t *TracedHeap) HeapSetInformation(heap heapapi.Handle, infoClass uint32, info, infoLength uint64) bool {
	return t.Thread(DefaultThreadID).HeapSetInformation(heap, infoClass, info, infoLength)
}

func (t *TracedHeap) HeapSize(heap heapapi.Handle, flags uint32, mem heapapi.Address) uint64 {
	return t.Thread(DefaultThreadID).HeapSize(heap, flags, mem)
}

// ThreadHeap is a TracedHeap bound to one thread id.
type ThreadHeap struct {
	t   *TracedHeap
	tid uint32
}

var _ heapapi.Heap = (*ThreadHeap)(nil)

func (th *ThreadHeap) HeapAlloc(heap heapapi.Handle, flags uint32, bytes uint64) (ret heapapi.Address) {
	th.t.do(th.tid, heapapi.HeapAlloc, func() events.Event {
		ret = th.t.impl.HeapAlloc(heap, flags, bytes)
		return events.NewHeapAllocEvent(events.Header{}, heap, flags, bytes, ret)
	})
	return ret
}

func (th *ThreadHeap) HeapCreate(options uint32, initialSize, maximumSize uint64) (ret heapapi.Handle) {
	th.t.do(th.tid, heapapi.HeapCreate, func() events.Event {
		ret = th.t.impl.HeapCreate(options, initialSize, maximumSize)
		return events.NewHeapCreateEvent(events.Header{}, options, initialSize, maximumSize, ret)
	})
	return ret
}

func (th *ThreadHeap) HeapDestroy(heap heapapi.Handle) (ret bool) {
	th.t.do(th.tid, heapapi.HeapDestroy, func() events.Event {
		ret = th.t.impl.HeapDestroy(heap)
		return events.NewHeapDestroyEvent(events.Header{}, heap, ret)
	})
	return ret
}

func (th *ThreadHeap) HeapFree(heap heapapi.Handle, flags uint32, mem heapapi.Address) (ret bool) {
	th.t.do(th.tid, heapapi.HeapFree, func() events.Event {
		ret = th.t.impl.HeapFree(heap, flags, mem)
		return events.NewHeapFreeEvent(events.Header{}, heap, flags, mem, ret)
	})
	return ret
}

func (th *ThreadHeap) HeapReAlloc(heap heapapi.Handle, flags uint32, mem heapapi.Address, bytes uint64) (ret heapapi.Address) {
	th.t.do(th.tid, heapapi.HeapReAlloc, func() events.Event {
		ret = th.t.impl.HeapReAlloc(heap, flags, mem, bytes)
		return events.NewHeapReAllocEvent(events.Header{}, heap, flags, mem, bytes, ret)
	})
	return ret
}

func (th *ThreadHeap) HeapSetInformation(heap heapapi.Handle, infoClass uint32, info, infoLength uint64) (ret bool) {
	th.t.do(th.tid, heapapi.HeapSetInformation, func() events.Event {
		ret = th.t.impl.HeapSetInformation(heap, infoClass, info, infoLength)
		return events.NewHeapSetInformationEvent(events.Header{}, heap, infoClass, info, infoLength, ret)
	})
	return ret
}

func (th *ThreadHeap) HeapSize(heap heapapi.Handle, flags uint32, mem heapapi.Address) (ret uint64) {
	th.t.do(th.tid, heapapi.HeapSize, func() events.Event {
		ret = th.t.impl.HeapSize(heap, flags, mem)
		return events.NewHeapSizeEvent(events.Header{}, heap, flags, mem, ret)
	})
	return ret
}
