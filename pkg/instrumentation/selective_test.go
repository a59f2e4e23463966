package instrumentation

import (
	"os"
	"testing"

	"github.com/willibrandon/ChronoHeap/pkg/heapapi"
)

func TestShouldTrace(t *testing.T) {
	tests := []struct {
		name    string
		options InstrumentationOptions
		op      heapapi.EventType
		want    bool
	}{
		{
			name:    "all operations enabled",
			options: DefaultInstrumentationOptions(),
			op:      heapapi.HeapAlloc,
			want:    true,
		},
		{
			name:    "disabled tracing",
			options: InstrumentationOptions{Enabled: false},
			op:      heapapi.HeapAlloc,
			want:    false,
		},
		{
			name:    "excluded by type name",
			options: InstrumentationOptions{Enabled: true, ExcludeOperations: []string{"HeapSize"}},
			op:      heapapi.HeapSize,
			want:    false,
		},
		{
			name:    "excluded by recorded name",
			options: InstrumentationOptions{Enabled: true, ExcludeOperations: []string{"asan_heapsize"}},
			op:      heapapi.HeapSize,
			want:    false,
		},
		{
			name:    "other operations unaffected",
			options: InstrumentationOptions{Enabled: true, ExcludeOperations: []string{"HeapSize"}},
			op:      heapapi.HeapFree,
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.options.ShouldTrace(tt.op); got != tt.want {
				t.Errorf("ShouldTrace(%s) = %v, want %v", tt.op, got, tt.want)
			}
		})
	}
}

func TestLoadOptionsFromEnvironment(t *testing.T) {
	t.Setenv("CHRONOHEAP_TRACE_ENABLED", "yes")
	t.Setenv("CHRONOHEAP_TRACE_EXCLUDE", " HeapSize , asan_HeapSetInformation")
	t.Setenv("CHRONOHEAP_TRACE_DEFER_NAMES", "1")

	options := loadOptionsFromEnvironment()
	if !options.Enabled {
		t.Error("Expected tracing to be enabled")
	}
	if !options.DeferNames {
		t.Error("Expected DeferNames to be set")
	}
	if len(options.ExcludeOperations) != 2 ||
		options.ExcludeOperations[0] != "HeapSize" ||
		options.ExcludeOperations[1] != "asan_HeapSetInformation" {
		t.Errorf("Unexpected ExcludeOperations: %q", options.ExcludeOperations)
	}

	os.Unsetenv("CHRONOHEAP_TRACE_EXCLUDE")
	t.Setenv("CHRONOHEAP_TRACE_ENABLED", "0")
	options = loadOptionsFromEnvironment()
	if options.Enabled {
		t.Error("Expected tracing to be disabled")
	}
	if len(options.ExcludeOperations) != 0 {
		t.Errorf("Expected no exclusions, got %q", options.ExcludeOperations)
	}
}
