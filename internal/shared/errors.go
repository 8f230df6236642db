package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrLockTimeout indicates a row lock could not be acquired in time. The
	// unit is rolled back; retrying is the caller's decision.
	ErrLockTimeout = errors.New("lock wait timeout")
)
