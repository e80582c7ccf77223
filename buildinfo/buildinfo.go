// Package buildinfo holds SDK version and build metadata stamped at
// compile time via ldflags, for logging and the example commands'
// version output. The broker handshake's dsId carries only the fixed
// suffix from DsIDSuffix, not the version or commit.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// Info returns compile-time and platform metadata.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}

// Uptime returns the duration since process start.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// String returns a one-line summary suitable for logging and the
// example commands' "version" subcommand output.
func String() string {
	return fmt.Sprintf("dslink-go %s (%s) built %s", Version, GitCommit, BuildTime)
}

// DsIDSuffix returns the suffix the link appends to its configured name
// when forming the broker dsId, e.g. "-js" / "-cpp" style suffixes used
// by other DSA SDKs.
func DsIDSuffix() string {
	return "-go"
}
