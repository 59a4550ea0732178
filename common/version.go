package common

import "fmt"

// Must be manually updated before tagging a release.
var version = Version{
	Major:      0,
	Minor:      3,
	Patch:      0,
	Prerelease: "-pre",
}

// Set via -ldflags. Example:
//
//	go install -ldflags "-X github.com/blerps/blerps/common.COMMIT=`git rev-parse HEAD`" ./cmd/blerps
var (
	COMMIT    = ""
	BUILDDATE = ""
)

// GetAppVersion returns the version of this build.
func GetAppVersion() Version {
	return version
}

// Version is a semantic version.
type Version struct {
	Major      uint32
	Minor      uint32
	Patch      uint32
	Prerelease string
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d%s", v.Major, v.Minor, v.Patch, v.Prerelease)
}
