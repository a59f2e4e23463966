// Package replay plays plot lines of decoded heap events against a backdrop.
package replay

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/willibrandon/ChronoHeap/pkg/backdrop"
	"github.com/willibrandon/ChronoHeap/pkg/events"
	"github.com/willibrandon/ChronoHeap/pkg/logutil"
)

// Replayer interface defines methods for replaying a plot line
type Replayer interface {
	// LoadEvents loads the events to replay and rewinds
	LoadEvents([]events.Event) error

	// ReplayForward replays all events from the current position
	ReplayForward(ctx context.Context) error

	// ReplayUntilBreakpoint replays events until a breakpoint is hit
	ReplayUntilBreakpoint(ctx context.Context, breakpointCheck func(idx int, e events.Event) bool) error

	// ReplayToEventIndex replays events up to and including idx
	ReplayToEventIndex(ctx context.Context, idx int) error

	// CurrentIndex returns the index of the last replayed event
	CurrentIndex() int

	// Events returns all loaded events
	Events() []events.Event
}

// EventError is a replay failure of one event.
type EventError struct {
	ProcessID uint32
	ThreadID  uint32
	Index     int
	Event     events.Event
	Err       error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("pid %d tid %d event %d %s: %v", e.ProcessID, e.ThreadID, e.Index, e.Event, e.Err)
}

func (e *EventError) Unwrap() error { return e.Err }

// PlotLineReplayer replays one thread's plot line. Events cannot be
// unplayed, so there is no stepping backward.
type PlotLineReplayer struct {
	backdrop    *backdrop.HeapBackdrop
	processID   uint32
	threadID    uint32
	events      []events.Event
	currentIdx  int
	stopOnError bool
	failures    int
}

// NewPlotLineReplayer creates a replayer for the plot line of tid in pid.
// With stopOnError the first failing event ends replay; otherwise failures
// are collected and replay continues.
func NewPlotLineReplayer(b *backdrop.HeapBackdrop, pid, tid uint32, stopOnError bool) *PlotLineReplayer {
	return &PlotLineReplayer{
		backdrop:    b,
		processID:   pid,
		threadID:    tid,
		events:      []events.Event{},
		currentIdx:  -1,
		stopOnError: stopOnError,
	}
}

// LoadEvents loads the given events into the replayer
func (r *PlotLineReplayer) LoadEvents(evs []events.Event) error {
	r.events = evs
	r.currentIdx = -1
	r.failures = 0
	return nil
}

// ReplayForward replays all events from current position to the end
func (r *PlotLineReplayer) ReplayForward(ctx context.Context) error {
	return r.ReplayUntilBreakpoint(ctx, nil)
}

// ReplayUntilBreakpoint replays events until a breakpoint is hit. The event
// that hits the breakpoint is not played. If breakpointCheck is nil, replay
// all events.
func (r *PlotLineReplayer) ReplayUntilBreakpoint(ctx context.Context, breakpointCheck func(idx int, e events.Event) bool) error {
	var errs error
	for r.HasNext() {
		next := r.currentIdx + 1
		if breakpointCheck != nil && breakpointCheck(next, r.events[next]) {
			logutil.Debug("breakpoint hit",
				zap.Uint32("pid", r.processID), zap.Uint32("tid", r.threadID), zap.Int("index", next))
			return errs
		}
		if err := r.Step(ctx); err != nil {
			if r.stopOnError || ctx.Err() != nil {
				return multierr.Append(errs, err)
			}
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// ReplayToEventIndex replays events up to and including idx
func (r *PlotLineReplayer) ReplayToEventIndex(ctx context.Context, idx int) error {
	if idx < 0 || idx >= len(r.events) {
		return errors.Newf("event index %d out of range [0, %d)", idx, len(r.events))
	}
	if idx <= r.currentIdx {
		return errors.Newf("event %d already replayed", idx)
	}
	return r.ReplayUntilBreakpoint(ctx, func(i int, _ events.Event) bool { return i > idx })
}

// HasNext reports whether events remain.
func (r *PlotLineReplayer) HasNext() bool {
	return r.currentIdx+1 < len(r.events)
}

// Peek returns the next event without playing it.
func (r *PlotLineReplayer) Peek() (events.Event, bool) {
	if !r.HasNext() {
		return nil, false
	}
	return r.events[r.currentIdx+1], true
}

// Step plays the next event. The position advances even when the event
// fails.
func (r *PlotLineReplayer) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.HasNext() {
		return nil
	}
	r.currentIdx++
	e := r.events[r.currentIdx]
	if err := e.Play(r.backdrop); err != nil {
		r.failures++
		logutil.Debug("event diverged",
			zap.Uint32("pid", r.processID), zap.Uint32("tid", r.threadID),
			zap.Int("index", r.currentIdx), zap.Stringer("event", e), zap.Error(err))
		return &EventError{ProcessID: r.processID, ThreadID: r.threadID, Index: r.currentIdx, Event: e, Err: err}
	}
	return nil
}

// CurrentIndex returns the current event index
func (r *PlotLineReplayer) CurrentIndex() int {
	return r.currentIdx
}

// Events returns all loaded events
func (r *PlotLineReplayer) Events() []events.Event {
	return r.events
}

// Failures returns the number of events that failed so far.
func (r *PlotLineReplayer) Failures() int {
	return r.failures
}
