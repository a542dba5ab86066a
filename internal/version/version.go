/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build information.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version is the current version of radiorelay.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/radiorelay/internal/version.Version=X.Y.Z
var Version = "0.1.0"

// Commit is the VCS revision, filled from build info when not set by ldflags.
var Commit = ""

// UserAgent identifies outbound HTTP requests such as ICY probes.
func UserAgent() string {
	return "radiorelay/" + Version
}

// String returns a one-line description for `radiorelay version`.
func String() string {
	commit := Commit
	if commit == "" {
		commit = vcsRevision()
	}
	s := fmt.Sprintf("radiorelay %s (%s, %s/%s)", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if commit != "" {
		s += " commit " + commit
	}
	return s
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			return shorten(setting.Value)
		}
	}
	return ""
}

func shorten(rev string) string {
	rev = strings.TrimSpace(rev)
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// Compare compares two semver versions.
// Returns -1 if a < b, 0 if a == b, 1 if a > b
func Compare(a, b string) int {
	aParts := parseVersion(a)
	bParts := parseVersion(b)

	for i := 0; i < 3; i++ {
		if aParts[i] < bParts[i] {
			return -1
		}
		if aParts[i] > bParts[i] {
			return 1
		}
	}
	return 0
}

// parseVersion parses a semver string into major, minor, patch.
func parseVersion(v string) [3]int {
	v = strings.TrimPrefix(v, "v")
	parts := strings.Split(v, ".")

	var result [3]int
	for i := 0; i < len(parts) && i < 3; i++ {
		fmt.Sscanf(parts[i], "%d", &result[i])
	}
	return result
}
