package store

import (
	"errors"
	"fmt"
)

// Code classifies the failures a Writer or Reader can report that are part
// of the trace format's contract, rather than an underlying SQLite error.
type Code string

const (
	// ErrOpenFailed means the file being opened isn't a recognizable
	// rvnblock trace: missing or malformed metadata header, or a
	// resource_type other than "Block".
	ErrOpenFailed Code = "open_failed"

	// ErrIncompatibleVersionPast means the trace's format_version has an
	// older major version than this package supports.
	ErrIncompatibleVersionPast Code = "incompatible_version_past"

	// ErrIncompatibleVersionFuture means the trace's format_version has a
	// newer major version than this package supports.
	ErrIncompatibleVersionFuture Code = "incompatible_version_future"

	// ErrMissingInterruptBlock means a Reader could not find the reserved
	// interrupt sentinel block at handle 1, so the file is corrupt.
	ErrMissingInterruptBlock Code = "missing_interrupt_block"

	// ErrUnknownBlockHandle means a lookup was made against a BlockHandle
	// that doesn't exist in the trace.
	ErrUnknownBlockHandle Code = "unknown_block_handle"

	// ErrCollision means two distinct block descriptors produced the same
	// fingerprint within one writer's dedup map.
	ErrCollision Code = "collision"

	// ErrLogicError means the writer or reader was used in a way its state
	// machine doesn't support (e.g. add_block_instruction before any
	// add_block call).
	ErrLogicError Code = "logic_error"
)

// Error is the error type returned for trace-format-contract violations.
// Storage-layer failures (a failing SQLite call) are instead wrapped with
// fmt.Errorf("...: %w", err) and surface as the underlying *sqlite3.Error.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err is, or wraps, a *Error with the given Code.
func IsCode(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
