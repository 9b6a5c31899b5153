// Package version carries build metadata injected via -ldflags.
package version

import "fmt"

// Build-time variables set by ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns version information
func Info() (string, string, string) {
	return Version, GitCommit, BuildDate
}

// String renders a one-line version banner.
func String() string {
	return fmt.Sprintf("codescan %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
