package session

import (
	"runtime"
	"runtime/debug"
)

var (
	buildCommit = "dev"
	buildTime   = ""
)

// BuildInfo contains library build/runtime details for diagnostics.
type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	GOOS      string `json:"goos"`
	GOARCH    string `json:"goarch"`
}

// GetBuildInfo returns build/runtime details for diagnostics. The linker
// flags -X meshcore/session.buildCommit / .buildTime override the VCS
// stamping that module builds embed on their own.
func (s *Session) GetBuildInfo() BuildInfo {
	info := BuildInfo{
		Commit:    buildCommit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
		GOOS:      runtime.GOOS,
		GOARCH:    runtime.GOARCH,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		if bi.GoVersion != "" {
			info.GoVersion = bi.GoVersion
		}
		for _, setting := range bi.Settings {
			switch setting.Key {
			case "vcs.revision":
				if info.Commit == "" || info.Commit == "dev" {
					info.Commit = setting.Value
				}
			case "vcs.time":
				if info.BuildTime == "" {
					info.BuildTime = setting.Value
				}
			}
		}
	}
	return info
}
