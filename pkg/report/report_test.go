package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/willibrandon/ChronoHeap/pkg/backdrop"
	"github.com/willibrandon/ChronoHeap/pkg/events"
	"github.com/willibrandon/ChronoHeap/pkg/grinder"
	"github.com/willibrandon/ChronoHeap/pkg/heapsim"
	"github.com/willibrandon/ChronoHeap/pkg/recorder"
	"github.com/willibrandon/ChronoHeap/pkg/replay"
	"github.com/willibrandon/ChronoHeap/pkg/version"
)

func sampleReport(t *testing.T) *Report {
	t.Helper()
	g := grinder.New(nil)
	blob := events.Encode(events.NewHeapAllocEvent(events.Header{}, 0xDEADBEEF, 0xFF, 247, 0xBAADF00D))
	g.OnRecord(recorder.NewFunctionNameRecord(1, 1, "asan_HeapAlloc"))
	g.OnRecord(recorder.NewCallRecord(1, 1, 1, 1, 0, blob))
	g.OnRecord(recorder.NewFunctionNameRecord(1, 2, "asan_HeapWalk"))

	r := New("trace.jsonl.zst", g)
	r.Replay = &replay.Result{
		SessionID: "0d4b6a4e-7c55-4d7e-9d1b-0b6a8a2f3c11",
		Mode:      replay.ModeTimestamp,
		Events:    1,
		Played:    1,
		Failures:  1,
		Stats:     map[string]backdrop.Stats{"HeapAlloc": {Calls: 1, Time: 3 * time.Microsecond}},
	}
	r.Heap = &heapsim.ManagerStats{Heaps: 2}
	return r
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "text": FormatText, "YAML": FormatYAML, "yml": FormatYAML, "json": FormatJSON} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	require.Error(t, err)
}

func TestWriteYAML(t *testing.T) {
	r := sampleReport(t)
	var buf bytes.Buffer
	require.NoError(t, r.Write(&buf, FormatYAML))

	var back map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	require.Equal(t, "trace.jsonl.zst", back["trace"])
	build := back["build"].(map[string]interface{})
	require.Equal(t, version.TraceFormat, build["trace_format"])
	grind := back["grind"].(map[string]interface{})
	require.Equal(t, 3, grind["records"])
	require.Equal(t, []interface{}{"asan_HeapWalk"}, grind["missing_events"])
	rep := back["replay"].(map[string]interface{})
	require.Equal(t, "timestamp", rep["mode"])
	heap := back["heap"].(map[string]interface{})
	require.Equal(t, 2, heap["heaps"])
}

func TestWriteJSON(t *testing.T) {
	r := sampleReport(t)
	var buf bytes.Buffer
	require.NoError(t, r.Write(&buf, FormatJSON))

	var back Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	require.Equal(t, r.Grind, back.Grind)
	require.Equal(t, r.Replay.Stats, back.Replay.Stats)
}

func TestWriteText(t *testing.T) {
	r := sampleReport(t)
	var buf bytes.Buffer
	require.NoError(t, r.Write(&buf, FormatText))
	out := buf.String()
	require.Contains(t, out, "missing events:")
	require.Contains(t, out, "asan_HeapWalk")
	require.Contains(t, out, "played:")
	require.Contains(t, out, "HeapAlloc")
	require.Contains(t, out, "heaps:")

	require.Error(t, r.Write(&buf, Format("xml")))
}
