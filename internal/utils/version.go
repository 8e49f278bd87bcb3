package utils

import "runtime/debug"

// Version is stamped at build time via -ldflags; "dev" otherwise.
var Version = "dev"

// BuildVersion returns the stamped version, falling back to module build info.
func BuildVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}
