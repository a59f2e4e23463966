// Package report renders the outcome of grinding and replaying a trace.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/willibrandon/ChronoHeap/pkg/grinder"
	"github.com/willibrandon/ChronoHeap/pkg/heapsim"
	"github.com/willibrandon/ChronoHeap/pkg/replay"
	"github.com/willibrandon/ChronoHeap/pkg/version"
)

// Format selects the rendering of a Report.
type Format string

const (
	FormatText Format = "text"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat maps a config value to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatText:
		return FormatText, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", errors.Newf("unknown report format %q", s)
	}
}

// Report collects everything known about one run.
type Report struct {
	Tool        string                `json:"tool" yaml:"tool"`
	Build       version.Info          `json:"build" yaml:"build"`
	GeneratedAt time.Time             `json:"generated_at" yaml:"generated_at"`
	Trace       string                `json:"trace,omitempty" yaml:"trace,omitempty"`
	Grind       grinder.Summary       `json:"grind" yaml:"grind"`
	Replay      *replay.Result        `json:"replay,omitempty" yaml:"replay,omitempty"`
	Heap        *heapsim.ManagerStats `json:"heap,omitempty" yaml:"heap,omitempty"`
}

// New returns a report for a trace ingested into g.
func New(trace string, g *grinder.MemReplayGrinder) *Report {
	return &Report{
		Tool:        version.GetVersionInfo(),
		Build:       version.Get(),
		GeneratedAt: time.Now().UTC(),
		Trace:       trace,
		Grind:       g.Summary(),
	}
}

// Write renders r to w in the given format.
func (r *Report) Write(w io.Writer, f Format) error {
	switch f {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return errors.Wrap(err, "encoding yaml report")
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(r), "encoding json report")
	case FormatText, "":
		return r.writeText(w)
	default:
		return errors.Newf("unknown report format %q", f)
	}
}

func (r *Report) writeText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	p := func(format string, args ...interface{}) { fmt.Fprintf(tw, format, args...) }

	p("%s\n", r.Tool)
	if r.Trace != "" {
		p("trace:\t%s\n", r.Trace)
	}
	g := r.Grind
	p("records:\t%d\n", g.Records)
	p("events:\t%d\n", g.Events())
	p("parse errors:\t%d\n", g.ParseErrors)
	p("discarded calls:\t%d\n", g.DiscardedCalls)
	if len(g.MissingEvents) > 0 {
		p("missing events:\t%s\n", strings.Join(g.MissingEvents, ", "))
	}
	for _, l := range g.LostCalls {
		p("lost calls:\tpid %d fid %d x%d\n", l.ProcessID, l.FunctionID, l.Calls)
	}
	for _, proc := range g.Processes {
		p("process %d:\t%d threads, %d function ids\n", proc.ProcessID, len(proc.Threads), proc.FunctionIDs)
	}

	if res := r.Replay; res != nil {
		p("\nreplay %s (%s)\n", res.SessionID, res.Mode)
		p("played:\t%d/%d\n", res.Played, res.Events)
		p("failures:\t%d\n", res.Failures)
		p("duration:\t%s\n", res.Duration)
		names := make([]string, 0, len(res.Stats))
		for name := range res.Stats {
			names = append(names, name)
		}
		sort.Strings(names)
		p("\nevent\tcalls\ttime\tper call\n")
		for _, name := range names {
			st := res.Stats[name]
			var per time.Duration
			if st.Calls > 0 {
				per = st.Time / time.Duration(st.Calls)
			}
			p("%s\t%d\t%s\t%s\n", name, st.Calls, st.Time, per)
		}
	}

	if h := r.Heap; h != nil {
		p("\nheaps:\t%d live\n", h.Heaps)
		p("allocs/frees/reallocs:\t%d/%d/%d\n", h.Allocs, h.Frees, h.ReAllocs)
		p("failures:\t%d\n", h.Failures)
	}
	return tw.Flush()
}
