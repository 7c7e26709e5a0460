package unireq

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Release metadata. Commit and BuildDate are stamped by release builds:
//
//	go build -ldflags "-X github.com/oorabona/unireq-sub005.Commit=$(git rev-parse --short HEAD)"
//
// An unstamped Commit falls back to the VCS revision the toolchain embedded.
var (
	Version   = "v0.3.0"
	Commit    = ""
	BuildDate = ""
)

// GetVersion describes the running build on one line, as printed by
// `unireq version`.
func GetVersion() string {
	return fmt.Sprintf("unireq %s (commit %s, built %s, %s)",
		Version, orUnknown(revision()), orUnknown(BuildDate), runtime.Version())
}

func revision() string {
	if Commit != "" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return ""
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
