// Package appinfo reports build metadata for the running binary
package appinfo

import (
	"os"
	"runtime/debug"
)

const unknownVersion = "0.0.0-dev"

// Version resolves the reported application version. APP_VERSION wins,
// then the main module version, then the VCS revision stamped by go build.
func Version() string {
	if v := os.Getenv("APP_VERSION"); v != "" {
		return v
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return unknownVersion
	}
	return versionFrom(info)
}

func versionFrom(info *debug.BuildInfo) string {
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}

	var revision string
	modified := false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	if revision == "" {
		return unknownVersion
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if modified {
		revision += "-dirty"
	}
	return revision
}
