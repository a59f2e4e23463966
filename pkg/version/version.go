package version

import (
	"fmt"
	"runtime"
)

// TraceFormat is the version of the record stream layout: JSON lines of
// name and call records, optionally sealed and zstd framed.
const TraceFormat = 1

// These variables are populated by the build process
var (
	// Version is the version of the build
	Version = "dev"
	// BuildTime is the time when the build was created
	BuildTime = "unknown"
)

// Info describes the running build.
type Info struct {
	Version     string `json:"version" yaml:"version"`
	BuildTime   string `json:"build_time" yaml:"build_time"`
	GoVersion   string `json:"go" yaml:"go"`
	Platform    string `json:"platform" yaml:"platform"`
	TraceFormat int    `json:"trace_format" yaml:"trace_format"`
}

// Get returns the build information.
func Get() Info {
	return Info{
		Version:     Version,
		BuildTime:   BuildTime,
		GoVersion:   runtime.Version(),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
		TraceFormat: TraceFormat,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("ChronoHeap v%s (trace format %d, built: %s, %s, %s)",
		i.Version, i.TraceFormat, i.BuildTime, i.GoVersion, i.Platform)
}

// GetVersionInfo returns a formatted string with version information
func GetVersionInfo() string {
	return Get().String()
}
