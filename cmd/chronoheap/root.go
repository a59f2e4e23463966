package main

import (
	"github.com/spf13/cobra"

	"github.com/willibrandon/ChronoHeap/pkg/config"
	"github.com/willibrandon/ChronoHeap/pkg/logutil"
)

type rootOptions struct {
	configPath string
	tracePath  string
	key        string
	format     string
	logLevel   string

	cfg config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "chronoheap",
		Short:        "Record and replay heap allocator traces",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "TOML configuration file")
	flags.StringVarP(&opts.tracePath, "trace", "t", "", "trace file, overrides trace.path")
	flags.StringVar(&opts.key, "integrity-key", "", "HMAC key for sealed traces, overrides trace.integrity_key")
	flags.StringVarP(&opts.format, "format", "f", "", "report format: text, yaml or json")
	flags.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")

	cmd.AddCommand(
		newRecordCommand(opts),
		newGrindCommand(opts),
		newReplayCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// load reads the config file and applies flag overrides.
func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("trace") {
		cfg.Trace.Path = o.tracePath
	}
	if flags.Changed("integrity-key") {
		cfg.Trace.IntegrityKey = o.key
	}
	if flags.Changed("format") {
		cfg.Report.Format = o.format
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logutil.SetupLogger(cfg.Log); err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}
