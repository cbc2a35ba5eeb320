package process

import "errors"

// Sentinel errors for process lifecycle operations.
var (
	// ErrAlreadyRunning is returned by Start while a process is still running.
	ErrAlreadyRunning = errors.New("process: already running")

	// ErrStopTimeout is returned by Stop when the killed process is not
	// reaped within the configured timeout.
	ErrStopTimeout = errors.New("process: stop timed out")
)
