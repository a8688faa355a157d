// Package version carries build metadata injected via ldflags.
package version

import "fmt"

var (
	// Version is the release version, set with -ldflags "-X ...version.Version=v1.2.3".
	Version = "v0.1.0-dev"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)

// String formats the build metadata for --version style output.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date)
}
