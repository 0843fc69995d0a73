package race

import (
	"errors"
	"fmt"

	"golang.org/x/mod/semver"
)

// Version is the runtime version, in semantic version form.
const Version = "v0.3.0"

var (
	// ErrBadVersion is returned by CheckVersion for a malformed version.
	ErrBadVersion = errors.New("race: malformed version")

	// ErrIncompatible is returned by CheckVersion when the runtime cannot
	// serve a host built against the given version.
	ErrIncompatible = errors.New("race: incompatible version")
)

// CheckVersion reports whether a host instrumented against runtime version
// want can use this runtime: same major version, and no newer than
// Version.
func CheckVersion(want string) error {
	if !semver.IsValid(want) {
		return fmt.Errorf("%w: %q", ErrBadVersion, want)
	}
	if semver.Major(want) != semver.Major(Version) || semver.Compare(want, Version) > 0 {
		return fmt.Errorf("%w: host wants %s, runtime is %s", ErrIncompatible, semver.Canonical(want), Version)
	}
	return nil
}

// Info provides runtime information about the race detector.
type Info struct {
	// Version is the runtime version string.
	Version string

	// Algorithm is the race detection algorithm used.
	Algorithm string

	// Enabled indicates whether race detection is active.
	Enabled bool
}

// Info returns information about the runtime.
//
// Example:
//
//	info := rt.Info()
//	fmt.Printf("ktsan %s (%s)\n", info.Version, info.Algorithm)
func (rt *Runtime) Info() Info {
	return Info{
		Version:   Version,
		Algorithm: "happens-before, vector clocks over a 4-slot shadow",
		Enabled:   rt.Enabled(),
	}
}
