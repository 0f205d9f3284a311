package devices

import "errors"

var (
	// ErrNotFound is returned when a device id is not currently in the
	// registry. This races legitimately with disconnection and is an
	// expected, recoverable condition: re-enumerate instead of failing.
	ErrNotFound = errors.New("device not found")

	// ErrClosed is returned for operations on a closed registry.
	ErrClosed = errors.New("registry closed")
)
