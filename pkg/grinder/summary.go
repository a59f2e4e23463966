package grinder

import "sort"

// ThreadSummary counts the events of one plot line.
type ThreadSummary struct {
	ThreadID uint32 `json:"tid" yaml:"tid"`
	Events   int    `json:"events" yaml:"events"`
}

// ProcessSummary describes the plot lines of one process.
type ProcessSummary struct {
	ProcessID   uint32          `json:"pid" yaml:"pid"`
	FunctionIDs int             `json:"function_ids" yaml:"function_ids"`
	Pending     int             `json:"pending_calls" yaml:"pending_calls"`
	Threads     []ThreadSummary `json:"threads" yaml:"threads"`
}

// Summary is the outcome of an ingestion pass.
type Summary struct {
	Records        int              `json:"records" yaml:"records"`
	MissingEvents  []string         `json:"missing_events" yaml:"missing_events"`
	ParseErrors    int              `json:"parse_errors" yaml:"parse_errors"`
	DiscardedCalls int              `json:"discarded_calls" yaml:"discarded_calls"`
	LostCalls      []LostCalls      `json:"lost_calls,omitempty" yaml:"lost_calls,omitempty"`
	Processes      []ProcessSummary `json:"processes" yaml:"processes"`
}

// Events returns the total number of events across all processes.
func (s Summary) Events() int {
	n := 0
	for _, p := range s.Processes {
		for _, t := range p.Threads {
			n += t.Events
		}
	}
	return n
}

// Summary reports the current ingestion state.
func (g *MemReplayGrinder) Summary() Summary {
	s := Summary{
		Records:        g.records,
		MissingEvents:  g.MissingEvents(),
		ParseErrors:    g.parseErrors,
		DiscardedCalls: g.discarded,
		LostCalls:      append([]LostCalls(nil), g.lost...),
	}
	for _, pid := range g.ProcessIDs() {
		pd := g.processes[pid]
		ps := ProcessSummary{ProcessID: pid, FunctionIDs: len(pd.FunctionIDMap)}
		for _, q := range pd.PendingCalls {
			ps.Pending += len(q)
		}
		for tid, pl := range pd.PlotLines {
			ps.Threads = append(ps.Threads, ThreadSummary{ThreadID: tid, Events: len(*pl)})
		}
		sort.Slice(ps.Threads, func(i, j int) bool { return ps.Threads[i].ThreadID < ps.Threads[j].ThreadID })
		s.Processes = append(s.Processes, ps)
	}
	return s
}
