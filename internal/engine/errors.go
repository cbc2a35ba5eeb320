package engine

import "errors"

// Sentinel errors for engine supervision.
var (
	// ErrExecutableNotFound indicates the configured engine binary is
	// missing, empty or not a regular file. It is a configuration error and
	// is never retried.
	ErrExecutableNotFound = errors.New("engine: executable not found")

	// ErrLaunchFailed wraps the OS error returned when the engine could not
	// be started.
	ErrLaunchFailed = errors.New("engine: launch failed")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("engine: supervisor closed")
)
