package grinder

import (
	"github.com/RoaringBitmap/roaring"

	"github.com/willibrandon/ChronoHeap/pkg/events"
	"github.com/willibrandon/ChronoHeap/pkg/heapapi"
	"github.com/willibrandon/ChronoHeap/pkg/recorder"
)

// PlotLine is the ordered sequence of decoded events for one thread.
type PlotLine []events.Event

// callSlot is one call record waiting in a thread's backlog. A slot is done
// once its event is decoded or it has been dropped; event stays nil for
// dropped calls.
type callSlot struct {
	rec   recorder.Record
	event events.Event
	done  bool
}

// ProcessData is the ingestion state for one traced process.
type ProcessData struct {
	ProcessID uint32

	// FunctionIDMap holds every function id resolved to an operation.
	FunctionIDMap map[uint32]heapapi.EventType
	// PendingFunctionIDs holds ids referenced by calls but not yet named.
	PendingFunctionIDs *roaring.Bitmap
	// PendingCalls queues unresolved calls per function id in arrival order.
	PendingCalls map[uint32][]*callSlot
	// PlotLines maps thread id to its plot line.
	PlotLines map[uint32]*PlotLine

	// backlog holds, per thread, the calls that cannot join the plot line
	// yet because they or an earlier call of that thread are unresolved.
	backlog map[uint32][]*callSlot
}

func newProcessData(pid uint32) *ProcessData {
	return &ProcessData{
		ProcessID:          pid,
		FunctionIDMap:      make(map[uint32]heapapi.EventType),
		PendingFunctionIDs: roaring.New(),
		PendingCalls:       make(map[uint32][]*callSlot),
		PlotLines:          make(map[uint32]*PlotLine),
		backlog:            make(map[uint32][]*callSlot),
	}
}

// hold queues slot behind whatever the thread already holds.
func (pd *ProcessData) hold(tid uint32, slot *callSlot) {
	pd.backlog[tid] = append(pd.backlog[tid], slot)
}

// held reports whether tid has calls waiting ahead of new arrivals.
func (pd *ProcessData) held(tid uint32) bool {
	return len(pd.backlog[tid]) > 0
}

// flush moves the done prefix of tid's backlog onto its plot line.
func (pd *ProcessData) flush(tid uint32, plot func(tid uint32) *PlotLine) {
	q := pd.backlog[tid]
	i := 0
	for ; i < len(q) && q[i].done; i++ {
		if q[i].event != nil {
			pl := plot(tid)
			*pl = append(*pl, q[i].event)
		}
	}
	if i == len(q) {
		delete(pd.backlog, tid)
		return
	}
	pd.backlog[tid] = q[i:]
}

// takePending removes fid from the pending set and returns its queue.
func (pd *ProcessData) takePending(fid uint32) []*callSlot {
	q := pd.PendingCalls[fid]
	delete(pd.PendingCalls, fid)
	pd.PendingFunctionIDs.Remove(fid)
	return q
}

// Threads returns the number of threads with a plot line.
func (pd *ProcessData) Threads() int {
	return len(pd.PlotLines)
}

// Events returns the number of events across all plot lines.
func (pd *ProcessData) Events() int {
	n := 0
	for _, pl := range pd.PlotLines {
		n += len(*pl)
	}
	return n
}
