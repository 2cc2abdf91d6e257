package buildinfo

import (
	"runtime"
	"runtime/debug"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
	if info.Version == "" || info.Commit == "" || info.BuildTime == "" {
		t.Errorf("Get() has empty fields: %+v", info)
	}
}

func TestFillFromBuildInfo(t *testing.T) {
	info := Info{Version: "dev", Commit: "unknown", BuildTime: "unknown"}
	fillFromBuildInfo(&info, &debug.BuildInfo{
		Main: debug.Module{Version: "v0.3.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
		},
	})
	if info.Version != "v0.3.0" || info.Commit != "0123456789abcdef" || info.BuildTime != "2026-01-02T03:04:05Z" {
		t.Errorf("fillFromBuildInfo() = %+v", info)
	}
}

func TestFillFromBuildInfo_LdflagsWin(t *testing.T) {
	info := Info{Version: "v1.0.0", Commit: "abc", BuildTime: "today"}
	fillFromBuildInfo(&info, &debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "zzz"}},
	})
	if info.Version != "v1.0.0" || info.Commit != "abc" || info.BuildTime != "today" {
		t.Errorf("ldflags values overwritten: %+v", info)
	}
}

func TestString(t *testing.T) {
	old := Commit
	Commit = "0123456789abcdef0123"
	defer func() { Commit = old }()

	s := String()
	if !strings.Contains(s, "0123456789ab") || strings.Contains(s, "0123456789abc") {
		t.Errorf("String() = %q, want commit shortened to 12 chars", s)
	}
}
