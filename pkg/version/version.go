// Package version holds build-time version info injected via ldflags.
//
// Set at compile time:
//
//	go build -ldflags "-X github.com/NicolasHaas/chatrelay/pkg/version.tag=v1.0.0
//	  -X github.com/NicolasHaas/chatrelay/pkg/version.commit=abc1234"
package version

import "runtime/debug"

// Populated by -ldflags "-X ...". Empty values fall back to the VCS stamp
// the Go toolchain embeds in module builds.
var (
	tag    = ""
	commit = ""
	date   = ""
)

// String returns a short version: the tag, else the commit, else "dev".
func String() string {
	if tag != "" {
		return tag
	}
	if c := Commit(); c != "" {
		return c
	}
	return "dev"
}

// Full returns "version (commit) built date", dropping unknown parts.
func Full() string {
	s := String()
	if c := Commit(); tag != "" && c != "" {
		s += " (" + c + ")"
	}
	if d := Date(); d != "" {
		s += " built " + d
	}
	return s
}

// Commit returns the short commit SHA, or "" when unknown.
func Commit() string {
	if commit != "" {
		return commit
	}
	rev := buildSetting("vcs.revision")
	if len(rev) > 7 {
		rev = rev[:7]
	}
	return rev
}

// Date returns the build or commit date, or "" when unknown.
func Date() string {
	if date != "" {
		return date
	}
	return buildSetting("vcs.time")
}

func buildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}
