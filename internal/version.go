package internal

import "github.com/carlmjohnson/versioninfo"

// Version is the release of the visitor tracker API.
// This should be updated with each release
const Version = "1.0.0"

// BuildInfo reports the release plus the vcs revision the binary was built from.
func BuildInfo() string {
	revision := versioninfo.Revision
	if revision == "" || revision == "unknown" {
		return Version
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	if versioninfo.DirtyBuild {
		revision += "-dirty"
	}
	return Version + "+" + revision
}
