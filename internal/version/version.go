// Package version holds the build version, overridden at link time with
// -ldflags "-X github.com/t77yq/registry-monitor/internal/version.Version=..."
package version

// Version of the agent
var Version = "0.3.0-dev"
