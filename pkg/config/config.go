// Package config loads the TOML configuration shared by all chronoheap
// commands.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	"github.com/willibrandon/ChronoHeap/pkg/heapsim"
	"github.com/willibrandon/ChronoHeap/pkg/instrumentation"
	"github.com/willibrandon/ChronoHeap/pkg/logutil"
	"github.com/willibrandon/ChronoHeap/pkg/recorder"
	"github.com/willibrandon/ChronoHeap/pkg/replay"
	"github.com/willibrandon/ChronoHeap/pkg/report"
)

// TraceConfig describes the trace file.
type TraceConfig struct {
	Path        string `toml:"path"`
	Compression string `toml:"compression"`
	// IntegrityKey enables sealed records when not empty.
	IntegrityKey string `toml:"integrity_key"`
}

// ReplayConfig selects how plot lines are replayed.
type ReplayConfig struct {
	Mode        string `toml:"mode"`
	Workers     int    `toml:"workers"`
	StopOnError bool   `toml:"stop_on_error"`
}

// HeapConfig sizes the simulated heap manager.
type HeapConfig struct {
	ArenaSize uint64 `toml:"arena_size"`
}

// ReportConfig selects the report format.
type ReportConfig struct {
	Format string `toml:"format"`
}

// WorkloadConfig drives the synthetic workload of the record command.
type WorkloadConfig struct {
	Threads      int    `toml:"threads"`
	OpsPerThread int    `toml:"ops_per_thread"`
	MaxAllocSize uint64 `toml:"max_alloc_size"`
	Seed         int64  `toml:"seed"`
}

type Config struct {
	Trace    TraceConfig       `toml:"trace"`
	Replay   ReplayConfig      `toml:"replay"`
	Heap     HeapConfig        `toml:"heap"`
	Workload WorkloadConfig    `toml:"workload"`
	Log      logutil.LogConfig `toml:"log"`
	Report   ReportConfig      `toml:"report"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	ro := replay.DefaultOptions()
	return Config{
		Trace: TraceConfig{
			Path:        "chronoheap.trace",
			Compression: recorder.DefaultCompression.String(),
		},
		Replay: ReplayConfig{
			Mode:    string(ro.Mode),
			Workers: ro.Workers,
		},
		Heap:     HeapConfig{ArenaSize: heapsim.DefaultArenaSize},
		Workload: WorkloadConfig(instrumentation.DefaultWorkloadOptions()),
		Log:      logutil.LogConfig{Level: "info"},
		Report:   ReportConfig{Format: string(report.FormatText)},
	}
}

// Load reads path over the defaults. Keys absent from the file keep their
// default values; unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.Wrapf(err, "loading config %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, errors.Newf("config %s: unknown key %s", path, undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Validate checks every field that has a closed set of values.
func (c Config) Validate() error {
	if c.Trace.Path == "" {
		return errors.New("trace.path must not be empty")
	}
	if _, err := recorder.ParseCompressionType(c.Trace.Compression); err != nil {
		return errors.Wrap(err, "trace.compression")
	}
	if _, err := replay.ParseMode(c.Replay.Mode); err != nil {
		return errors.Wrap(err, "replay.mode")
	}
	if c.Replay.Workers < 1 {
		return errors.Newf("replay.workers must be positive, got %d", c.Replay.Workers)
	}
	if c.Heap.ArenaSize < 1<<12 || c.Heap.ArenaSize&(c.Heap.ArenaSize-1) != 0 {
		return errors.Newf("heap.arena_size must be a power of two of at least 4096, got %d", c.Heap.ArenaSize)
	}
	if c.Workload.Threads < 1 || c.Workload.OpsPerThread < 0 || c.Workload.MaxAllocSize == 0 {
		return errors.New("workload needs at least one thread and a positive max_alloc_size")
	}
	if _, err := report.ParseFormat(c.Report.Format); err != nil {
		return errors.Wrap(err, "report.format")
	}
	return nil
}

// ReplayOptions converts the [replay] section.
func (c Config) ReplayOptions() replay.Options {
	mode, _ := replay.ParseMode(c.Replay.Mode)
	return replay.Options{Mode: mode, Workers: c.Replay.Workers, StopOnError: c.Replay.StopOnError}
}

// RecorderOptions converts the [trace] section.
func (c Config) RecorderOptions() recorder.FileRecorderOptions {
	ct, _ := recorder.ParseCompressionType(c.Trace.Compression)
	return recorder.FileRecorderOptions{CompressionType: ct, IntegrityKey: []byte(c.Trace.IntegrityKey)}
}

// WorkloadOptions converts the [workload] section.
func (c Config) WorkloadOptions() instrumentation.WorkloadOptions {
	return instrumentation.WorkloadOptions(c.Workload)
}
