package replay

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/tidwall/btree"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/willibrandon/ChronoHeap/pkg/backdrop"
	"github.com/willibrandon/ChronoHeap/pkg/grinder"
	"github.com/willibrandon/ChronoHeap/pkg/heapapi"
	"github.com/willibrandon/ChronoHeap/pkg/logutil"
)

// Mode selects how the plot lines of a process are scheduled.
type Mode string

const (
	// ModeTimestamp plays all plot lines of a process on one goroutine in
	// recorded timestamp order. Handles passed between threads replay
	// correctly.
	ModeTimestamp Mode = "timestamp"
	// ModeConcurrent plays each plot line as its own task on a worker pool.
	ModeConcurrent Mode = "concurrent"
)

// ParseMode maps a config value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeTimestamp:
		return ModeTimestamp, nil
	case ModeConcurrent:
		return ModeConcurrent, nil
	default:
		return "", errors.Newf("unknown replay mode %q", s)
	}
}

// Factory returns the implementation a process is replayed against.
type Factory func(pid uint32) heapapi.Heap

// Options configures a Session.
type Options struct {
	Mode        Mode
	Workers     int
	StopOnError bool
}

// DefaultOptions returns timestamp-ordered replay that keeps going after
// failures.
func DefaultOptions() Options {
	return Options{Mode: ModeTimestamp, Workers: 4}
}

// PlotLineResult is the outcome of one plot line.
type PlotLineResult struct {
	ProcessID uint32 `json:"pid" yaml:"pid"`
	ThreadID  uint32 `json:"tid" yaml:"tid"`
	Events    int    `json:"events" yaml:"events"`
	Played    int    `json:"played" yaml:"played"`
	Failures  int    `json:"failures" yaml:"failures"`
}

// Result is the outcome of a Session run.
type Result struct {
	SessionID string                    `json:"session_id" yaml:"session_id"`
	Mode      Mode                      `json:"mode" yaml:"mode"`
	Duration  time.Duration             `json:"duration" yaml:"duration"`
	Events    int                       `json:"events" yaml:"events"`
	Played    int                       `json:"played" yaml:"played"`
	Failures  int                       `json:"failures" yaml:"failures"`
	Stats     map[string]backdrop.Stats `json:"stats" yaml:"stats"`
	PlotLines []PlotLineResult          `json:"plot_lines" yaml:"plot_lines"`
}

// Session replays every process of an ingested trace, each against its own
// backdrop bound to an implementation from the factory.
type Session struct {
	ID      uuid.UUID
	opts    Options
	factory Factory

	mu        sync.Mutex
	backdrops map[uint32]*backdrop.HeapBackdrop
}

// NewSession validates opts and returns a Session.
func NewSession(factory Factory, opts Options) (*Session, error) {
	if factory == nil {
		return nil, errors.New("replay session needs an implementation factory")
	}
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	opts.Mode = mode
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Session{
		ID:        uuid.New(),
		opts:      opts,
		factory:   factory,
		backdrops: make(map[uint32]*backdrop.HeapBackdrop),
	}, nil
}

// Backdrops returns the backdrops used so far, keyed by process id.
func (s *Session) Backdrops() map[uint32]*backdrop.HeapBackdrop {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint32]*backdrop.HeapBackdrop, len(s.backdrops))
	for pid, b := range s.backdrops {
		out[pid] = b
	}
	return out
}

func (s *Session) backdropFor(pid uint32) *backdrop.HeapBackdrop {
	b := backdrop.New()
	b.Bind(s.factory(pid))
	s.mu.Lock()
	s.backdrops[pid] = b
	s.mu.Unlock()
	return b
}

// Run replays every plot line held by g. The returned error combines every
// event failure; the Result is filled in either way.
func (s *Session) Run(ctx context.Context, g *grinder.MemReplayGrinder) (Result, error) {
	start := time.Now()
	logutil.Info("replay started",
		zap.Stringer("session", s.ID), zap.String("mode", string(s.opts.Mode)))

	var replayers []*PlotLineReplayer
	byProcess := make(map[uint32][]*PlotLineReplayer)
	for _, pid := range g.ProcessIDs() {
		pd, _ := g.ProcessData(pid)
		if pd.Events() == 0 {
			continue
		}
		b := s.backdropFor(pid)
		tids := make([]uint32, 0, len(pd.PlotLines))
		for tid := range pd.PlotLines {
			tids = append(tids, tid)
		}
		sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })
		for _, tid := range tids {
			r := NewPlotLineReplayer(b, pid, tid, s.opts.StopOnError)
			r.LoadEvents(*pd.PlotLines[tid])
			replayers = append(replayers, r)
			byProcess[pid] = append(byProcess[pid], r)
		}
	}

	var err error
	switch s.opts.Mode {
	case ModeConcurrent:
		err = s.runConcurrent(ctx, replayers)
	default:
		pids := make([]uint32, 0, len(byProcess))
		for pid := range byProcess {
			pids = append(pids, pid)
		}
		sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
		for _, pid := range pids {
			perr := runMerged(ctx, byProcess[pid], s.opts.StopOnError)
			err = multierr.Append(err, perr)
			if perr != nil && (s.opts.StopOnError || ctx.Err() != nil) {
				break
			}
		}
	}

	res := s.result(replayers, time.Since(start))
	logutil.Info("replay finished",
		zap.Stringer("session", s.ID), zap.Int("played", res.Played),
		zap.Int("failures", res.Failures), zap.Duration("duration", res.Duration))
	return res, err
}

// cursor orders plot lines by the timestamp of their next event.
type cursor struct {
	ts  uint64
	tid uint32
	r   *PlotLineReplayer
}

func lessCursor(a, b cursor) bool {
	if a.ts != b.ts {
		return a.ts < b.ts
	}
	return a.tid < b.tid
}

func nextCursor(r *PlotLineReplayer) (cursor, bool) {
	e, ok := r.Peek()
	if !ok {
		return cursor{}, false
	}
	return cursor{ts: e.Header().Timestamp, tid: r.threadID, r: r}, true
}

// runMerged interleaves the plot lines of one process by timestamp.
func runMerged(ctx context.Context, replayers []*PlotLineReplayer, stopOnError bool) error {
	queue := btree.NewBTreeG(lessCursor)
	for _, r := range replayers {
		if c, ok := nextCursor(r); ok {
			queue.Set(c)
		}
	}
	var errs error
	for queue.Len() > 0 {
		c, _ := queue.PopMin()
		if err := c.r.Step(ctx); err != nil {
			errs = multierr.Append(errs, err)
			if stopOnError || ctx.Err() != nil {
				return errs
			}
		}
		if next, ok := nextCursor(c.r); ok {
			queue.Set(next)
		}
	}
	return errs
}

func (s *Session) runConcurrent(ctx context.Context, replayers []*PlotLineReplayer) error {
	pool, err := ants.NewPool(s.opts.Workers)
	if err != nil {
		return errors.Wrap(err, "creating replay pool")
	}
	defer func() {
		if err := pool.ReleaseTimeout(5 * time.Second); err != nil {
			logutil.Warn("replay pool did not drain", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, r := range replayers {
		r := r
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			if rerr := r.ReplayForward(ctx); rerr != nil {
				mu.Lock()
				errs = multierr.Append(errs, rerr)
				mu.Unlock()
				if s.opts.StopOnError {
					cancel()
				}
			}
		}); err != nil {
			wg.Done()
			mu.Lock()
			errs = multierr.Append(errs, errors.Wrap(err, "submitting plot line"))
			mu.Unlock()
		}
	}
	wg.Wait()
	return errs
}

func (s *Session) result(replayers []*PlotLineReplayer, d time.Duration) Result {
	res := Result{
		SessionID: s.ID.String(),
		Mode:      s.opts.Mode,
		Duration:  d,
		Stats:     make(map[string]backdrop.Stats),
	}
	for _, r := range replayers {
		pl := PlotLineResult{
			ProcessID: r.processID,
			ThreadID:  r.threadID,
			Events:    len(r.events),
			Played:    r.currentIdx + 1,
			Failures:  r.failures,
		}
		res.Events += pl.Events
		res.Played += pl.Played
		res.Failures += pl.Failures
		res.PlotLines = append(res.PlotLines, pl)
	}
	for _, b := range s.Backdrops() {
		for et, st := range b.Stats() {
			agg := res.Stats[et.String()]
			agg.Calls += st.Calls
			agg.Time += st.Time
			res.Stats[et.String()] = agg
		}
	}
	return res
}
