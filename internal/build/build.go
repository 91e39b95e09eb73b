// Package build holds build-time metadata stamped in via -ldflags.
package build

// ProjectName is used as the namespace for metrics and as the env var prefix
// for configuration.
const ProjectName = "persondir"

var (
	// Version is the release version, set at build time.
	Version = "dev"

	// Commit is the git commit the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)
