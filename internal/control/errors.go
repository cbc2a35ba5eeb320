package control

import "errors"

var (
	// ErrInvalidCommand is returned for a command payload that is not JSON.
	ErrInvalidCommand = errors.New("control: invalid command")

	// ErrUnknownAction is returned for a command with an unsupported action.
	ErrUnknownAction = errors.New("control: unknown action")
)
