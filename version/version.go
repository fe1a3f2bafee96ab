// Package version provides build and version information for mantid.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/Masterminds/semver"
)

// Version is the semantic version of the build. It can be overridden via ldflags at build time.
var Version = "0.3.0"

// GitCommit is the git commit hash the binary was built from, populated from runtime/debug build info.
var GitCommit = ""

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			GitCommit = setting.Value
		}
	}
}

// String returns a human-readable version string including the go runtime version and, if known, the commit hash.
func String() string {
	s := fmt.Sprintf("mantid %s (%s)", Version, runtime.Version())
	if GitCommit != "" {
		s += fmt.Sprintf(" commit %s", GitCommit)
	}
	return s
}

// Semver parses the build version into a semver.Version. Returns an error if the embedded version string is
// malformed.
func Semver() (*semver.Version, error) {
	return semver.NewVersion(Version)
}

// CheckCompatibility compares a version string recorded by another build (e.g. in a project configuration file)
// against the running build. It returns an error when the other version has a greater major version than ours, as
// configurations written by a newer major version may not be understood.
func CheckCompatibility(other string) error {
	// An absent version predates version stamping and is accepted as-is.
	if other == "" {
		return nil
	}

	otherVersion, err := semver.NewVersion(other)
	if err != nil {
		return fmt.Errorf("could not parse version '%s': %v", other, err)
	}
	ourVersion, err := Semver()
	if err != nil {
		return err
	}

	if otherVersion.Major() > ourVersion.Major() {
		return fmt.Errorf("configuration was written by mantid %s, which is newer than this build (%s)", other, Version)
	}
	return nil
}
