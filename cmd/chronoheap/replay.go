package main

import (
	"context"
	"io"
	"os"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/willibrandon/ChronoHeap/pkg/backdrop"
	"github.com/willibrandon/ChronoHeap/pkg/config"
	"github.com/willibrandon/ChronoHeap/pkg/heapapi"
	"github.com/willibrandon/ChronoHeap/pkg/heapsim"
	"github.com/willibrandon/ChronoHeap/pkg/replay"
	"github.com/willibrandon/ChronoHeap/pkg/report"
)

type replayOptions struct {
	mode        string
	workers     int
	stopOnError bool
	metrics     string
}

func newReplayCommand(root *rootOptions) *cobra.Command {
	opts := &replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a trace against the simulated heap and report divergences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			flags := cmd.Flags()
			if flags.Changed("mode") {
				cfg.Replay.Mode = opts.mode
			}
			if flags.Changed("workers") {
				cfg.Replay.Workers = opts.workers
			}
			if flags.Changed("stop-on-error") {
				cfg.Replay.StopOnError = opts.stopOnError
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runReplay(cmd.Context(), cfg, opts.metrics, cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.mode, "mode", "m", "", "timestamp or concurrent, overrides replay.mode")
	flags.IntVar(&opts.workers, "workers", 0, "pool size for concurrent replay, overrides replay.workers")
	flags.BoolVar(&opts.stopOnError, "stop-on-error", false, "stop at the first divergence")
	flags.StringVar(&opts.metrics, "metrics", "", "write backdrop metrics in Prometheus text format to this file, - for stdout")
	return cmd
}

func runReplay(ctx context.Context, cfg config.Config, metricsPath string, out io.Writer) error {
	g, err := grindTrace(ctx, cfg)
	if err != nil {
		return err
	}
	if err := g.Validate(); err != nil {
		return err
	}

	var managers []*heapsim.Manager
	factory := func(pid uint32) heapapi.Heap {
		m := heapsim.New(cfg.Heap.ArenaSize)
		managers = append(managers, m)
		return m
	}
	sess, err := replay.NewSession(factory, cfg.ReplayOptions())
	if err != nil {
		return err
	}
	res, rerr := sess.Run(ctx, g)

	rep := report.New(cfg.Trace.Path, g)
	rep.Replay = &res
	var hs heapsim.ManagerStats
	for _, m := range managers {
		hs.Merge(m.Stats())
	}
	rep.Heap = &hs

	format, _ := report.ParseFormat(cfg.Report.Format)
	if err := rep.Write(out, format); err != nil {
		return multierr.Append(rerr, err)
	}
	if metricsPath != "" {
		if err := writeMetricsFile(metricsPath, out, sess.Backdrops()); err != nil {
			return multierr.Append(rerr, err)
		}
	}
	if rerr != nil {
		return errors.Wrapf(rerr, "replay %s diverged on %d events", res.SessionID, res.Failures)
	}
	return nil
}

func writeMetricsFile(path string, stdout io.Writer, backdrops map[uint32]*backdrop.HeapBackdrop) error {
	if path == "-" {
		return writeMetrics(stdout, backdrops)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating metrics file %s", path)
	}
	return multierr.Combine(writeMetrics(f, backdrops), f.Close())
}

// writeMetrics renders the stats of every backdrop, labelled by process.
func writeMetrics(w io.Writer, backdrops map[uint32]*backdrop.HeapBackdrop) error {
	pids := make([]uint32, 0, len(backdrops))
	for pid := range backdrops {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	reg := prometheus.NewRegistry()
	for _, pid := range pids {
		if err := reg.Register(backdrop.NewProcessStatsCollector(pid, backdrops[pid])); err != nil {
			return errors.Wrapf(err, "registering metrics for pid %d", pid)
		}
	}
	families, err := reg.Gather()
	if err != nil {
		return errors.Wrap(err, "gathering metrics")
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return errors.Wrap(err, "writing metrics")
		}
	}
	return nil
}
