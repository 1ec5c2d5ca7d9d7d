// Package version resolves the build-time version of this module, the same
// way a downstream importer would see it: by reading the running binary's
// own module info rather than a hand-maintained constant.
package version

import "runtime/debug"

const defaultVersion = "dev"

// GetRopforgeVersion returns the version of the ropforge module baked into
// the running binary. For a binary built via `go build` in-tree (cmd/finder,
// cmd/scheduler) this is "dev"; for a binary built via `go install
// ropforge/cmd/finder@vX.Y.Z` it is the resolved module version recorded in
// the Go build info.
func GetRopforgeVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return defaultVersion
	}
	if info.Main.Path == "ropforge" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	for _, dep := range info.Deps {
		if dep.Path == "ropforge" {
			return dep.Version
		}
	}
	return defaultVersion
}
