package buildinfo

import "fmt"

// BuildInfo holds all sorts of information about the build of an executable artifact.
type BuildInfo struct {
	Version    string
	CommitHash string
	BuildDate  string
}

// String returns the build info as a string. An empty commit hash or build
// date is elided so binaries built without -ldflags stamping still print
// something sensible; the version is always printed.
func (i BuildInfo) String() string {
	s := "version " + i.Version
	if i.CommitHash != "" {
		s += fmt.Sprintf(" (%s)", i.CommitHash)
	}
	if i.BuildDate != "" {
		s += fmt.Sprintf(" built on %s", i.BuildDate)
	}
	return s
}
