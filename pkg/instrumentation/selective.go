package instrumentation

import (
	"os"
	"strings"

	"github.com/willibrandon/ChronoHeap/pkg/heapapi"
)

// InstrumentationOptions stores configuration for selective tracing
type InstrumentationOptions struct {
	// Enabled indicates whether tracing is enabled
	Enabled bool

	// ExcludeOperations lists operations that pass through untraced, by
	// EventType name ("HeapSize") or recorded name ("asan_HeapSize")
	ExcludeOperations []string

	// DeferNames holds name records back until FlushNames, so call records
	// reach the stream before the names that resolve them
	DeferNames bool
}

// DefaultInstrumentationOptions returns the default instrumentation options
func DefaultInstrumentationOptions() InstrumentationOptions {
	return InstrumentationOptions{
		Enabled:           true,
		ExcludeOperations: []string{},
	}
}

// loadOptionsFromEnvironment loads instrumentation options from environment variables
func loadOptionsFromEnvironment() InstrumentationOptions {
	options := DefaultInstrumentationOptions()

	// CHRONOHEAP_TRACE_ENABLED controls whether tracing is enabled
	if enabled := os.Getenv("CHRONOHEAP_TRACE_ENABLED"); enabled != "" {
		options.Enabled = isTrue(enabled)
	}

	// CHRONOHEAP_TRACE_EXCLUDE lists operations to leave untraced
	if excludes := os.Getenv("CHRONOHEAP_TRACE_EXCLUDE"); excludes != "" {
		options.ExcludeOperations = strings.Split(excludes, ",")
		for i, op := range options.ExcludeOperations {
			options.ExcludeOperations[i] = strings.TrimSpace(op)
		}
	}

	// CHRONOHEAP_TRACE_DEFER_NAMES holds name records until flushed
	if deferNames := os.Getenv("CHRONOHEAP_TRACE_DEFER_NAMES"); deferNames != "" {
		options.DeferNames = isTrue(deferNames)
	}

	return options
}

func isTrue(s string) bool {
	return s == "1" || s == "true" || s == "yes"
}

// ShouldTrace checks if an operation should be traced
func (o InstrumentationOptions) ShouldTrace(et heapapi.EventType) bool {
	if !o.Enabled {
		return false
	}
	for _, exclude := range o.ExcludeOperations {
		if strings.EqualFold(exclude, et.String()) ||
			strings.EqualFold(exclude, heapapi.FunctionNamePrefix+et.String()) {
			return false
		}
	}
	return true
}
