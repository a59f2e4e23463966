package heapapi

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

// FunctionNamePrefix is prepended by the instrumentation agent to the names
// of the heap functions it intercepts.
const FunctionNamePrefix = "asan_"

// Registry maps traced function names to EventTypes.
type Registry struct {
	mu    sync.RWMutex
	names map[string]EventType
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]EventType)}
}

// DefaultRegistry returns a registry knowing the instrumented name of every
// EventType, e.g. "asan_HeapAlloc".
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, et := range AllEventTypes {
		// Cannot fail: every name is distinct.
		_ = r.Register(FunctionNamePrefix+et.String(), et)
	}
	return r
}

// Register binds name to et. Rebinding a name to a different type fails.
func (r *Registry) Register(name string, et EventType) error {
	if !et.Valid() {
		return errors.Newf("cannot register %q: invalid event type %d", name, int(et))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.names[name]; ok && prev != et {
		return errors.Newf("function %q already bound to %s", name, prev)
	}
	r.names[name] = et
	return nil
}

// Lookup resolves name. The error wraps ErrUnrecognizedFunctionName.
func (r *Registry) Lookup(name string) (EventType, error) {
	r.mu.RLock()
	et, ok := r.names[name]
	r.mu.RUnlock()
	if !ok {
		return 0, errors.Wrapf(ErrUnrecognizedFunctionName, "%q", name)
	}
	return et, nil
}

// NameOf returns a registered name for et, preferring the lexically
// smallest when several names map to it.
func (r *Registry) NameOf(et EventType) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, t := range r.names {
		if t == et {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	return names[0], true
}

// Len returns the number of registered names.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
