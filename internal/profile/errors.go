package profile

import "errors"

// Domain-specific errors for profile operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrProfileNotFound is returned when a profile reference does not
	// resolve to an existing profile document.
	ErrProfileNotFound = errors.New("profile: not found")

	// ErrNotProfile is returned when a path exists but is not a regular
	// file with a recognised profile extension.
	ErrNotProfile = errors.New("profile: not a profile document")
)
