package stage

import "github.com/blang/semver"

// InitialVersion is released when a repository has no parseable release yet.
const InitialVersion = "v0.1.0"

// NextVersion returns the next patch release after latest.
func NextVersion(latest string) string {
	v, err := semver.ParseTolerant(latest)
	if latest == "" || err != nil {
		return InitialVersion
	}
	v.Patch++
	v.Pre = nil
	v.Build = nil
	return "v" + v.String()
}
