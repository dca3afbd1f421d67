// Package buildinfo holds build-time identity injected via ldflags:
//
//	-X github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/buildinfo.Version=v1.2.3
//
// Leaf modules (gateway capabilities, health documents, the CLI version
// command) read these instead of threading version strings through every
// constructor.
package buildinfo

import "fmt"

// Set at build time via ldflags. Defaults identify a source build.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// ServiceName is the stable service identifier used in envelopes,
// capability listings, and health documents.
const ServiceName = "user-memory"

// Summary returns a one-line human-readable build description.
func Summary() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", ServiceName, Version, Commit, Date)
}
