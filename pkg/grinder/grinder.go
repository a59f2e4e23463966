// Package grinder ingests a raw trace into per-process, per-thread plot lines
// of decoded heap events.
//
// Name records and call records may arrive in any order. A call whose
// function id is not yet named is held until the name arrives, and every
// later call of the same thread is held behind it, so each plot line keeps
// the arrival order of its thread.
package grinder

import (
	"context"
	"io"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/willibrandon/ChronoHeap/pkg/events"
	"github.com/willibrandon/ChronoHeap/pkg/heapapi"
	"github.com/willibrandon/ChronoHeap/pkg/logutil"
	"github.com/willibrandon/ChronoHeap/pkg/recorder"
)

// LostCalls reports calls still unresolved when the stream ended.
type LostCalls struct {
	ProcessID  uint32 `json:"pid" yaml:"pid"`
	FunctionID uint32 `json:"fid" yaml:"fid"`
	Calls      int    `json:"calls" yaml:"calls"`
}

// MemReplayGrinder builds plot lines from a raw trace. It is not safe for
// concurrent use.
type MemReplayGrinder struct {
	registry *heapapi.Registry

	processes map[uint32]*ProcessData
	// ignored holds, per process, function ids bound to unknown names.
	ignored map[uint32]*roaring.Bitmap

	missingEvents map[string]struct{}
	missingOrder  []string
	parseErrors   int
	discarded     int
	records       int
	lost          []LostCalls
}

// New returns a grinder resolving names through registry. A nil registry
// means heapapi.DefaultRegistry.
func New(registry *heapapi.Registry) *MemReplayGrinder {
	if registry == nil {
		registry = heapapi.DefaultRegistry()
	}
	return &MemReplayGrinder{
		registry:      registry,
		processes:     make(map[uint32]*ProcessData),
		ignored:       make(map[uint32]*roaring.Bitmap),
		missingEvents: make(map[string]struct{}),
	}
}

// FindOrCreateProcessData returns the state for pid, creating it on first
// reference.
func (g *MemReplayGrinder) FindOrCreateProcessData(pid uint32) *ProcessData {
	pd, ok := g.processes[pid]
	if !ok {
		pd = newProcessData(pid)
		g.processes[pid] = pd
	}
	return pd
}

// FindOrCreatePlotLine returns the plot line of tid in pd, creating it on
// first reference.
func (g *MemReplayGrinder) FindOrCreatePlotLine(pd *ProcessData, tid uint32) *PlotLine {
	pl, ok := pd.PlotLines[tid]
	if !ok {
		pl = &PlotLine{}
		pd.PlotLines[tid] = pl
	}
	return pl
}

// ProcessData returns the state for pid if it has been referenced.
func (g *MemReplayGrinder) ProcessData(pid uint32) (*ProcessData, bool) {
	pd, ok := g.processes[pid]
	return pd, ok
}

// ProcessIDs returns the ids of all referenced processes in ascending order.
func (g *MemReplayGrinder) ProcessIDs() []uint32 {
	ids := make([]uint32, 0, len(g.processes))
	for pid := range g.processes {
		ids = append(ids, pid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MissingEvents returns the unrecognized function names in first-seen order.
func (g *MemReplayGrinder) MissingEvents() []string {
	out := make([]string, len(g.missingOrder))
	copy(out, g.missingOrder)
	return out
}

// ParseErrors returns the number of records that could not be decoded.
func (g *MemReplayGrinder) ParseErrors() int {
	return g.parseErrors
}

// OnRecord dispatches one raw record.
func (g *MemReplayGrinder) OnRecord(rec recorder.Record) {
	g.records++
	switch rec.Kind {
	case recorder.FunctionNameRecord:
		g.OnFunctionNameTableEntry(rec.ProcessID, rec.FunctionID, rec.Name)
	case recorder.DetailedCallRecord:
		g.OnDetailedFunctionCall(rec)
	default:
		g.parseErrors++
		logutil.Warn("skipping record of unknown kind",
			zap.Int("kind", int(rec.Kind)), zap.Uint32("pid", rec.ProcessID))
	}
}

// OnFunctionNameTableEntry binds fid to name in process pid.
func (g *MemReplayGrinder) OnFunctionNameTableEntry(pid, fid uint32, name string) {
	et, err := g.registry.Lookup(name)
	if err != nil {
		g.onUnrecognizedName(pid, fid, name)
		return
	}

	if ign, ok := g.ignored[pid]; ok {
		ign.Remove(fid)
	}
	pd := g.FindOrCreateProcessData(pid)
	if prev, ok := pd.FunctionIDMap[fid]; ok && prev != et {
		logutil.Warn("function id rebound",
			zap.Uint32("pid", pid), zap.Uint32("fid", fid),
			zap.Stringer("from", prev), zap.Stringer("to", et))
	}
	pd.FunctionIDMap[fid] = et

	if !pd.PendingFunctionIDs.Contains(fid) {
		return
	}
	threads := make(map[uint32]struct{})
	for _, slot := range pd.takePending(fid) {
		slot.event = g.decode(et, slot.rec)
		slot.done = true
		threads[slot.rec.ThreadID] = struct{}{}
	}
	g.flushThreads(pd, threads)
}

func (g *MemReplayGrinder) onUnrecognizedName(pid, fid uint32, name string) {
	if _, ok := g.missingEvents[name]; !ok {
		g.missingEvents[name] = struct{}{}
		g.missingOrder = append(g.missingOrder, name)
		logutil.Warn("unrecognized function name",
			zap.Uint32("pid", pid), zap.Uint32("fid", fid), zap.String("name", name))
	}

	ign, ok := g.ignored[pid]
	if !ok {
		ign = roaring.New()
		g.ignored[pid] = ign
	}
	ign.Add(fid)

	pd, ok := g.processes[pid]
	if !ok {
		return
	}
	delete(pd.FunctionIDMap, fid)
	if !pd.PendingFunctionIDs.Contains(fid) {
		return
	}
	threads := make(map[uint32]struct{})
	for _, slot := range pd.takePending(fid) {
		slot.done = true
		threads[slot.rec.ThreadID] = struct{}{}
		g.discarded++
	}
	g.flushThreads(pd, threads)
}

// OnDetailedFunctionCall files one call record.
func (g *MemReplayGrinder) OnDetailedFunctionCall(rec recorder.Record) {
	if ign, ok := g.ignored[rec.ProcessID]; ok && ign.Contains(rec.FunctionID) {
		g.discarded++
		return
	}

	pd := g.FindOrCreateProcessData(rec.ProcessID)
	tid := rec.ThreadID

	if et, ok := pd.FunctionIDMap[rec.FunctionID]; ok {
		e := g.decode(et, rec)
		if pd.held(tid) {
			pd.hold(tid, &callSlot{rec: rec, event: e, done: true})
			return
		}
		if e != nil {
			pl := g.FindOrCreatePlotLine(pd, tid)
			*pl = append(*pl, e)
		}
		return
	}

	slot := &callSlot{rec: rec}
	pd.PendingCalls[rec.FunctionID] = append(pd.PendingCalls[rec.FunctionID], slot)
	pd.PendingFunctionIDs.Add(rec.FunctionID)
	pd.hold(tid, slot)
}

// decode returns nil and counts a parse error when rec does not decode.
func (g *MemReplayGrinder) decode(et heapapi.EventType, rec recorder.Record) events.Event {
	hdr := events.Header{Timestamp: rec.Timestamp, StackTraceID: rec.StackTraceID}
	e, err := events.Decode(et, hdr, rec.Args)
	if err != nil {
		g.parseErrors++
		logutil.Warn("skipping undecodable call",
			zap.Uint32("pid", rec.ProcessID), zap.Uint32("tid", rec.ThreadID),
			zap.Uint64("ts", rec.Timestamp), zap.Error(err))
		return nil
	}
	return e
}

func (g *MemReplayGrinder) flushThreads(pd *ProcessData, threads map[uint32]struct{}) {
	plot := func(tid uint32) *PlotLine { return g.FindOrCreatePlotLine(pd, tid) }
	for tid := range threads {
		pd.flush(tid, plot)
	}
}

// MaxConsecutiveReadErrors is how many read errors in a row Consume
// tolerates before it gives up on a source.
const MaxConsecutiveReadErrors = 1024

// ErrSourceBroken is returned by Consume when a source keeps failing.
var ErrSourceBroken = errors.New("record source keeps failing")

// Consume feeds every record of src to the grinder until io.EOF. Errors
// reading a single record are counted as parse errors; ctx cancellation
// stops the loop, and so do MaxConsecutiveReadErrors errors in a row.
func (g *MemReplayGrinder) Consume(ctx context.Context, src recorder.Source) error {
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := src.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			g.parseErrors++
			failures++
			if failures >= MaxConsecutiveReadErrors {
				return errors.Wrapf(ErrSourceBroken, "%d read errors in a row, last: %v", failures, err)
			}
			logutil.Warn("skipping unreadable record", zap.Error(err))
			continue
		}
		failures = 0
		g.OnRecord(rec)
	}
}

// Finalize ends ingestion. Calls whose function id was never named are
// dropped and reported, and calls held behind them join their plot lines.
func (g *MemReplayGrinder) Finalize() []LostCalls {
	var lost []LostCalls
	for _, pid := range g.ProcessIDs() {
		pd := g.processes[pid]
		threads := make(map[uint32]struct{})
		for _, fid := range pd.PendingFunctionIDs.ToArray() {
			q := pd.takePending(fid)
			for _, slot := range q {
				slot.done = true
				threads[slot.rec.ThreadID] = struct{}{}
			}
			lost = append(lost, LostCalls{ProcessID: pid, FunctionID: fid, Calls: len(q)})
			logutil.Warn("function id never named",
				zap.Uint32("pid", pid), zap.Uint32("fid", fid), zap.Int("calls", len(q)))
		}
		g.flushThreads(pd, threads)
	}
	g.lost = append(g.lost, lost...)
	return lost
}

// PlotLine returns the plot line of tid in pid, or nil.
func (g *MemReplayGrinder) PlotLine(pid, tid uint32) PlotLine {
	pd, ok := g.processes[pid]
	if !ok {
		return nil
	}
	pl, ok := pd.PlotLines[tid]
	if !ok {
		return nil
	}
	return *pl
}

// ErrNoPlotLines is returned by Validate when ingestion produced nothing to
// replay.
var ErrNoPlotLines = errors.New("trace produced no plot lines")

// Validate reports whether any process has an event to replay.
func (g *MemReplayGrinder) Validate() error {
	for _, pd := range g.processes {
		if pd.Events() > 0 {
			return nil
		}
	}
	return ErrNoPlotLines
}
