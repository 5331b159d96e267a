// Package version carries build metadata. The values here are development
// defaults; release builds overwrite them with -ldflags -X.
package version

import "fmt"

var (
	// Version is the release tag, "dev" when built from a working tree.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String returns the one-line form printed by --version.
func String() string {
	return fmt.Sprintf("%s (%s) built %s", Version, GitSHA, BuildTime)
}
