// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Release builds set these with -ldflags, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/buildjail/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Left empty, the VCS stamp the Go toolchain embeds is used instead.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = ""

	// GitDirty is "true" when the tree had uncommitted changes.
	GitDirty = ""

	// BuildTime is the UTC timestamp of the build.
	BuildTime = ""

	// Version is the release version.
	Version = "0.1.0-dev"
)

// stamp is the commit, dirty flag and time of the build.
type stamp struct {
	commit string
	dirty  bool
	time   string
}

// current merges the ldflags values over the embedded VCS stamp.
func current(info *debug.BuildInfo, ok bool) stamp {
	var s stamp
	if ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				s.commit = setting.Value
				if len(s.commit) > 12 {
					s.commit = s.commit[:12]
				}
			case "vcs.modified":
				s.dirty = setting.Value == "true"
			case "vcs.time":
				s.time = setting.Value
			}
		}
	}
	if GitCommit != "" {
		s.commit = GitCommit
		s.dirty = GitDirty == "true"
	}
	if BuildTime != "" {
		s.time = BuildTime
	}
	if s.commit == "" {
		s.commit = "unknown"
	}
	if s.time == "" {
		s.time = "unknown"
	}
	return s
}

// Info returns the one-line version string.
func Info() string {
	s := current(debug.ReadBuildInfo())
	dirty := ""
	if s.dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, s.commit, dirty, s.time)
}

// Full returns Info followed by the Go version and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
