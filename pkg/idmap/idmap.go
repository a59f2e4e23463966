// Package idmap translates identifiers between the space they had in a
// recorded trace and the space produced by the implementation a trace is
// replayed against.
package idmap

import (
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"

	"github.com/willibrandon/ChronoHeap/pkg/heapapi"
)

// IDMap is a bijection between trace-space and live-space identifiers of
// one domain. It is safe for concurrent use.
type IDMap[T constraints.Unsigned] struct {
	mu          sync.RWMutex
	name        string
	traceToLive map[T]T
	liveToTrace map[T]T
}

// New returns an empty map. name is used in error messages.
func New[T constraints.Unsigned](name string) *IDMap[T] {
	return &IDMap[T]{
		name:        name,
		traceToLive: make(map[T]T),
		liveToTrace: make(map[T]T),
	}
}

// Name returns the domain name the map was created with.
func (m *IDMap[T]) Name() string {
	return m.name
}

// Insert registers trace <-> live. It fails with ErrDuplicateIdentifier if
// either side is already registered.
func (m *IDMap[T]) Insert(trace, live T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.traceToLive[trace]; ok {
		return errors.Wrapf(heapapi.ErrDuplicateIdentifier,
			"%s: trace id %#x already maps to live id %#x", m.name, uint64(trace), uint64(prev))
	}
	if prev, ok := m.liveToTrace[live]; ok {
		return errors.Wrapf(heapapi.ErrDuplicateIdentifier,
			"%s: live id %#x already maps to trace id %#x", m.name, uint64(live), uint64(prev))
	}
	m.traceToLive[trace] = live
	m.liveToTrace[live] = trace
	return nil
}

// Translate returns the live id registered for trace.
func (m *IDMap[T]) Translate(trace T) (T, error) {
	m.mu.RLock()
	live, ok := m.traceToLive[trace]
	m.mu.RUnlock()
	if !ok {
		return 0, errors.Wrapf(heapapi.ErrUnknownIdentifier, "%s: trace id %#x", m.name, uint64(trace))
	}
	return live, nil
}

// TraceOf returns the trace id registered for live.
func (m *IDMap[T]) TraceOf(live T) (T, error) {
	m.mu.RLock()
	trace, ok := m.liveToTrace[live]
	m.mu.RUnlock()
	if !ok {
		return 0, errors.Wrapf(heapapi.ErrUnknownIdentifier, "%s: live id %#x", m.name, uint64(live))
	}
	return trace, nil
}

// Remove drops both directions of the mapping for trace.
func (m *IDMap[T]) Remove(trace T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	live, ok := m.traceToLive[trace]
	if !ok {
		return errors.Wrapf(heapapi.ErrUnknownIdentifier, "%s: trace id %#x", m.name, uint64(trace))
	}
	delete(m.traceToLive, trace)
	delete(m.liveToTrace, live)
	return nil
}

// Len returns the number of live entries.
func (m *IDMap[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.traceToLive)
}

// Snapshot returns a copy of the trace -> live direction.
func (m *IDMap[T]) Snapshot() map[T]T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[T]T, len(m.traceToLive))
	for k, v := range m.traceToLive {
		out[k] = v
	}
	return out
}
