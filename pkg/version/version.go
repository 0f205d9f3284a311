// Package version reports the build version of the flashmasta tools.
package version

import "runtime/debug"

// Version is the release version, overridden at build time via
// -ldflags "-X github.com/retroflash/flashmasta-go/pkg/version.Version=...".
var Version = "dev"

// String returns the effective version: the release version when set, else
// the module version recorded in build info.
func String() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}
