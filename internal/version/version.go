// Package version provides application version and build info.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

var (
	// Version is overridden by ldflags at build time.
	Version = "dev"
	// CommitHash is overridden by ldflags at build time; falls back to vcs.revision.
	CommitHash = ""
	// BuildTime is overridden by ldflags at build time; falls back to vcs.time.
	BuildTime = ""

	buildInfoOnce sync.Once
)

// Info is the structured form printed by the version command.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

// Get returns the build info, reading VCS settings embedded by the Go toolchain when
// ldflags did not set them.
func Get() Info {
	buildInfoOnce.Do(func() {
		if CommitHash != "" {
			return
		}
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				CommitHash = setting.Value
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	})
	return Info{Version: Version, Commit: CommitHash, BuildTime: BuildTime}
}

// GetInfo returns "version (shortsha)" or just the version.
func GetInfo() string {
	info := Get()
	if info.Commit == "" {
		return info.Version
	}
	short := info.Commit
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("%s (%s)", info.Version, short)
}
