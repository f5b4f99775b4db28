// Package version reports which ghostai build is running.
package version

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Overridden with -ldflags "-X github.com/bdobrica/ghostai/common/version.Version=...".
var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Build describes the running binary.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

var (
	once    sync.Once
	current Build
)

// Current returns the build description. Values not set through ldflags
// fall back to the module and VCS data embedded by the Go toolchain.
func Current() Build {
	once.Do(func() {
		current = resolve(Version, GitCommit, BuildTime, debug.ReadBuildInfo)
	})
	return current
}

func resolve(ver, commit, built string, read func() (*debug.BuildInfo, bool)) Build {
	b := Build{Version: ver, Commit: commit, BuildTime: built}
	info, ok := read()
	if !ok || info == nil {
		return b
	}
	if b.Version == "v0.0.0-dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "unknown" && s.Value != "" {
				b.Commit = s.Value
				if len(b.Commit) > 12 {
					b.Commit = b.Commit[:12]
				}
			}
		case "vcs.time":
			if b.BuildTime == "unknown" && s.Value != "" {
				b.BuildTime = s.Value
			}
		}
	}
	return b
}

// Info returns a one-line description for `ghostai version`.
func Info() string {
	b := Current()
	return "ghostai " + b.Version + " (" + b.Commit + ") built at " + b.BuildTime
}

// LogAttrs returns the build as slog attributes.
func LogAttrs() []any {
	b := Current()
	return []any{slog.String("version", b.Version), slog.String("commit", b.Commit)}
}
