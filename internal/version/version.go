// Package version exposes build metadata injected at link time.
package version

// Set via -ldflags at build time.
var (
	// Version is the semantic version, e.g. "1.2.0".
	Version = "dev"
	// Commit is the git commit hash.
	Commit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// GetVersion returns the semantic version string.
func GetVersion() string {
	return Version
}

// GetCommit returns the commit hash.
func GetCommit() string {
	return Commit
}

// GetBuildDate returns the build timestamp.
func GetBuildDate() string {
	return BuildDate
}

// GetFullVersion returns a human-readable version string.
func GetFullVersion() string {
	if Version == "dev" {
		return "dev (commit: " + Commit + ")"
	}
	return Version + " (commit: " + Commit + ")"
}
