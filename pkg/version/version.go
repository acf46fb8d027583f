// Package version holds build metadata for the aideploy binary.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	// Version is set at build time via ldflags.
	Version = "dev"

	// BuildTime is set at build time via ldflags.
	BuildTime = "unknown"

	// Commit is the git SHA, set at build time via ldflags.
	Commit = "unknown"
)

// Info returns version information as a formatted string.
func Info() string {
	return fmt.Sprintf("aideploy %s (%s) - %s %s/%s",
		Version,
		shortCommit(),
		BuildTime,
		runtime.GOOS,
		runtime.GOARCH,
	)
}

// Map returns version information as a map.
func Map() map[string]string {
	return map[string]string{
		"version":   Version,
		"commit":    Commit,
		"buildTime": BuildTime,
		"goVersion": runtime.Version(),
		"os":        runtime.GOOS,
		"arch":      runtime.GOARCH,
	}
}

// LabelValue renders Version as a resource label value: lowercase letters,
// digits, '-' and '_', at most 63 characters.
func LabelValue() string {
	var b strings.Builder
	for _, r := range strings.ToLower(Version) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	s := b.String()
	if len(s) > 63 {
		s = s[:63]
	}
	return s
}

func shortCommit() string {
	if len(Commit) > 8 {
		return Commit[:8]
	}
	return Commit
}
