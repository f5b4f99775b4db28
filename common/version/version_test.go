package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func buildInfo(mainVersion string, settings ...debug.BuildSetting) func() (*debug.BuildInfo, bool) {
	return func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Main: debug.Module{Version: mainVersion}, Settings: settings}, true
	}
}

func TestResolve_LdflagsWin(t *testing.T) {
	b := resolve("v1.2.3", "abc", "2026-01-01", buildInfo("v9.9.9",
		debug.BuildSetting{Key: "vcs.revision", Value: "ffffffffffffffff"},
	))
	assert.Equal(t, Build{Version: "v1.2.3", Commit: "abc", BuildTime: "2026-01-01"}, b)
}

func TestResolve_FallsBackToBuildInfo(t *testing.T) {
	b := resolve("v0.0.0-dev", "unknown", "unknown", buildInfo("v0.4.0",
		debug.BuildSetting{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		debug.BuildSetting{Key: "vcs.time", Value: "2026-10-01T10:00:00Z"},
	))
	assert.Equal(t, "v0.4.0", b.Version)
	assert.Equal(t, "0123456789ab", b.Commit)
	assert.Equal(t, "2026-10-01T10:00:00Z", b.BuildTime)
}

func TestResolve_DevelBuildKeepsDefault(t *testing.T) {
	b := resolve("v0.0.0-dev", "unknown", "unknown", buildInfo("(devel)"))
	assert.Equal(t, "v0.0.0-dev", b.Version)
	assert.Equal(t, "unknown", b.Commit)
}

func TestResolve_NoBuildInfo(t *testing.T) {
	b := resolve("v0.0.0-dev", "unknown", "unknown", func() (*debug.BuildInfo, bool) { return nil, false })
	assert.Equal(t, Build{Version: "v0.0.0-dev", Commit: "unknown", BuildTime: "unknown"}, b)
}

func TestInfo_NamesBinary(t *testing.T) {
	assert.Contains(t, Info(), "ghostai "+Current().Version)
}
