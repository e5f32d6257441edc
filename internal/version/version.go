// Package version reports the version of this module as recorded in the
// build information of the running binary.
package version

import (
	"runtime/debug"
	"strings"
)

// Default is the version reported when the build information carries none,
// as is the case for `go run` and tests.
const Default = "dev"

// modulePath is the path of this module in go.mod.
const modulePath = "github.com/sfilabs/x64lower"

// GetVersion returns the version of this module, either as the main module
// or as a dependency of the main module.
func GetVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Default
	}
	return versionOf(info)
}

func versionOf(info *debug.BuildInfo) string {
	if info.Main.Path == modulePath {
		return normalize(info.Main.Version)
	}
	for _, dep := range info.Deps {
		if dep.Path != modulePath {
			continue
		}
		if dep.Replace != nil && dep.Replace.Version != "" {
			return normalize(dep.Replace.Version)
		}
		return normalize(dep.Version)
	}
	return Default
}

func normalize(v string) string {
	// "(devel)" is set for the main module built from a checkout.
	if v == "" || strings.HasPrefix(v, "(") {
		return Default
	}
	return v
}
