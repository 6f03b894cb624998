// Package version carries the build version of the fleetdeck server.
package version

// Version is set at build time via
// -ldflags "-X github.com/obot-platform/fleetdeck/server/internal/version.Version=v1.2.3".
var Version = "dev"

// Get returns the build version.
func Get() string {
	if Version == "" {
		return "dev"
	}
	return Version
}
