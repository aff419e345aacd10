package frame

import (
	"errors"
	"fmt"
)

// Version is a frame format version.
type Version struct {
	Major byte
	Minor byte
	Patch uint16
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// The format version this reader writes and the newest minor it can read.
// Minor revisions only ever add optional sections and feature bits, so any
// minor at or below MaxKnownMinor parses with this code.
var (
	CurrentVersion = Version{Major: 1, Minor: 0, Patch: 0}
	MaxKnownMinor  = CurrentVersion.Minor
)

var (
	// ErrMajorMismatch means the package needs a different reader
	// generation. It is not corruption and callers surface it as an
	// upgrade-required condition.
	ErrMajorMismatch = errors.New("frame: major version mismatch, reader upgrade required")
	// ErrMinorTooNew means a same-generation writer newer than this
	// reader produced the package.
	ErrMinorTooNew = errors.New("frame: minor version newer than this reader")
)

// CheckVersion applies the read gate: the major must match exactly and the
// minor must not exceed what this reader knows. Patch is informational.
func CheckVersion(v Version) error {
	if v.Major != CurrentVersion.Major {
		return fmt.Errorf("%w: package %s, reader %s", ErrMajorMismatch, v, CurrentVersion)
	}
	if v.Minor > MaxKnownMinor {
		return fmt.Errorf("%w: package %s, reader %s", ErrMinorTooNew, v, CurrentVersion)
	}
	return nil
}
