package store

import (
	"fmt"

	"golang.org/x/mod/semver"
)

// checkFormatVersionCompatible reports whether a trace stamped with stored
// can be read by a Reader built against block.FormatVersion: compatible
// requires an identical major version, minor and patch are free to differ
// in either direction.
func checkFormatVersionCompatible(stored, want string) error {
	storedV, wantV := "v"+stored, "v"+want
	if !semver.IsValid(storedV) {
		return &Error{Code: ErrOpenFailed, Message: fmt.Sprintf("malformed format_version %q", stored)}
	}
	if semver.Major(storedV) == semver.Major(wantV) {
		return nil
	}
	if semver.Compare(storedV, wantV) < 0 {
		return &Error{
			Code:    ErrIncompatibleVersionPast,
			Message: fmt.Sprintf("trace format_version %s predates supported major version %s", stored, want),
		}
	}
	return &Error{
		Code:    ErrIncompatibleVersionFuture,
		Message: fmt.Sprintf("trace format_version %s is newer than supported major version %s", stored, want),
	}
}
