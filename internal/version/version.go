// Package version carries build metadata for the supervisor binary.
//
// Set at link time:
//
//	go build -ldflags "-X github.com/rickgao/stream-supervisor/internal/version.Version=0.3.0 \
//	                   -X github.com/rickgao/stream-supervisor/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/stream-supervisor/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" \
//	         ./cmd/supervisor
package version

import "runtime"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// BuildInfo is the build metadata reported on /health.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// String returns "version (commit) built time".
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}

// Info returns the current build metadata.
func Info() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}
