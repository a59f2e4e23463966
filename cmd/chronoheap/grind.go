package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/willibrandon/ChronoHeap/pkg/config"
	"github.com/willibrandon/ChronoHeap/pkg/grinder"
	"github.com/willibrandon/ChronoHeap/pkg/logutil"
	"github.com/willibrandon/ChronoHeap/pkg/recorder"
	"github.com/willibrandon/ChronoHeap/pkg/report"
)

func newGrindCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "grind",
		Short: "Ingest a trace into per-thread plot lines and report on it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := grindTrace(cmd.Context(), root.cfg)
			if err != nil {
				return err
			}
			format, _ := report.ParseFormat(root.cfg.Report.Format)
			return report.New(root.cfg.Trace.Path, g).Write(cmd.OutOrStdout(), format)
		},
	}
}

// grindTrace reads the configured trace to the end and finalizes it.
func grindTrace(ctx context.Context, cfg config.Config) (*grinder.MemReplayGrinder, error) {
	src, err := recorder.OpenFileSource(cfg.Trace.Path, []byte(cfg.Trace.IntegrityKey))
	if err != nil {
		return nil, err
	}
	defer src.Close()

	g := grinder.New(nil)
	if err := g.Consume(ctx, src); err != nil {
		return nil, err
	}
	g.Finalize()

	s := g.Summary()
	logutil.Info("trace ingested",
		zap.String("path", cfg.Trace.Path),
		zap.Int("records", s.Records),
		zap.Int("events", s.Events()),
		zap.Int("parse_errors", s.ParseErrors),
		zap.Strings("missing_events", s.MissingEvents))
	return g, nil
}
