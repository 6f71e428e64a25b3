// Package version derives the build identity reported by the health endpoint
// and the startup log from the binary's embedded VCS metadata.
package version

import "runtime/debug"

const appName = "sniper"

// Commit is the short VCS revision, or "dev" when the binary was built
// outside a git checkout (go test, ad-hoc builds).
var Commit = commitFromBuildInfo()

func commitFromBuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 8 {
				return s.Value[:8]
			}
			return s.Value
		}
	}
	return "dev"
}

// Full returns the "sniper/<commit>" identity string.
func Full() string {
	return appName + "/" + Commit
}
