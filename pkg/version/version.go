// Package version holds the build-time version string stamped in by
// the release pipeline via -ldflags.
package version

// Version is overwritten at build time with -X, e.g.:
//
//	go build -ldflags "-X github.com/bbc/nmos-discovery-registration-ri/pkg/version.Version=v1.3.0"
var Version = "unreleased"
