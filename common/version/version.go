// Package version holds build-time version information.
// The variables are populated via -ldflags at build time:
//
//	go build -ldflags "-X github.com/cloudops/autobot/common/version.Version=v1.2.0"
package version

var (
	// Version is the semantic version of the build (e.g. "v1.2.0").
	Version = "dev"
	// GitCommit is the short git commit hash the binary was built from.
	GitCommit = "unknown"
	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"
)
