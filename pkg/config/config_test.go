package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/willibrandon/ChronoHeap/pkg/recorder"
	"github.com/willibrandon/ChronoHeap/pkg/replay"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chronoheap.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, replay.ModeTimestamp, cfg.ReplayOptions().Mode)
	require.Equal(t, recorder.ZstdCompression, cfg.RecorderOptions().CompressionType)
	require.Equal(t, 4, cfg.WorkloadOptions().Threads)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[trace]
path = "/tmp/app.trace"
compression = "none"
integrity_key = "s3cret"

[replay]
mode = "concurrent"
workers = 8
stop_on_error = true

[log]
level = "debug"
format = "json"

[report]
format = "yaml"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/app.trace", cfg.Trace.Path)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, "yaml", cfg.Report.Format)
	require.Equal(t, Default().Heap, cfg.Heap)
	require.Equal(t, Default().Workload, cfg.Workload)

	ro := cfg.ReplayOptions()
	require.Equal(t, replay.Options{Mode: replay.ModeConcurrent, Workers: 8, StopOnError: true}, ro)

	rec := cfg.RecorderOptions()
	require.Equal(t, recorder.NoCompression, rec.CompressionType)
	require.Equal(t, []byte("s3cret"), rec.IntegrityKey)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "[replay]\nmodes = \"concurrent\"\n")
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "replay.modes")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty path", func(c *Config) { c.Trace.Path = "" }},
		{"compression", func(c *Config) { c.Trace.Compression = "lz4" }},
		{"mode", func(c *Config) { c.Replay.Mode = "parallel" }},
		{"workers", func(c *Config) { c.Replay.Workers = 0 }},
		{"arena not power of two", func(c *Config) { c.Heap.ArenaSize = 5000 }},
		{"arena too small", func(c *Config) { c.Heap.ArenaSize = 1024 }},
		{"workload threads", func(c *Config) { c.Workload.Threads = 0 }},
		{"report format", func(c *Config) { c.Report.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
