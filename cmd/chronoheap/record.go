package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/willibrandon/ChronoHeap/pkg/config"
	"github.com/willibrandon/ChronoHeap/pkg/heapsim"
	"github.com/willibrandon/ChronoHeap/pkg/instrumentation"
	"github.com/willibrandon/ChronoHeap/pkg/logutil"
	"github.com/willibrandon/ChronoHeap/pkg/recorder"
)

type recordOptions struct {
	pid         uint32
	appendTrace bool
	threads     int
	ops         int
	seed        int64
	compression string
}

func newRecordCommand(root *rootOptions) *cobra.Command {
	opts := &recordOptions{}
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a synthetic multi-threaded workload against the simulated heap",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			flags := cmd.Flags()
			if flags.Changed("threads") {
				cfg.Workload.Threads = opts.threads
			}
			if flags.Changed("ops") {
				cfg.Workload.OpsPerThread = opts.ops
			}
			if flags.Changed("seed") {
				cfg.Workload.Seed = opts.seed
			}
			if flags.Changed("compression") {
				cfg.Trace.Compression = opts.compression
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runRecord(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.Uint32Var(&opts.pid, "pid", 1, "process id written to the trace")
	flags.BoolVar(&opts.appendTrace, "append", false, "append to an existing trace instead of replacing it")
	flags.IntVar(&opts.threads, "threads", 0, "workload threads, overrides workload.threads")
	flags.IntVar(&opts.ops, "ops", 0, "operations per thread, overrides workload.ops_per_thread")
	flags.Int64Var(&opts.seed, "seed", 0, "workload seed, overrides workload.seed")
	flags.StringVar(&opts.compression, "compression", "", "none or zstd, overrides trace.compression")
	return cmd
}

func runRecord(ctx context.Context, cfg config.Config, opts *recordOptions, out io.Writer) error {
	if !opts.appendTrace {
		if err := os.Remove(cfg.Trace.Path); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "replacing trace %s", cfg.Trace.Path)
		}
	}
	fr, err := recorder.NewFileRecorderWithOptions(cfg.Trace.Path, cfg.RecorderOptions())
	if err != nil {
		return err
	}

	mgr := heapsim.New(cfg.Heap.ArenaSize)
	th := instrumentation.NewTracedHeapFromEnvironment(mgr, fr, opts.pid)
	werr := instrumentation.RunWorkload(ctx, th, cfg.WorkloadOptions())
	th.FlushNames()
	if err := multierr.Combine(werr, fr.Close()); err != nil {
		return err
	}
	if n := th.Errors(); n > 0 {
		return errors.Newf("%d records could not be written to %s", n, cfg.Trace.Path)
	}

	logutil.Info("trace recorded",
		zap.String("path", cfg.Trace.Path),
		zap.Int("records", fr.Count()),
		zap.Uint64("calls", th.Calls()),
		zap.Int("heaps", mgr.Stats().Heaps))
	fmt.Fprintf(out, "recorded %d calls (%d records) to %s\n", th.Calls(), fr.Count(), cfg.Trace.Path)
	return nil
}
