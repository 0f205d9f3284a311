// Package devices maintains the live table of USB-attached programmers and
// arbitrates exclusive access to them.
//
// A Registry is explicitly constructed with a usb.Bus and explicitly owned
// by whoever starts its enumeration loop; there is no process-wide
// singleton. The loop periodically reconciles the table against the bus:
// newly seen supported devices get a fresh surrogate id, their descriptor
// strings are read once, and a transport is constructed for the life of the
// physical connection. Devices that vanish are retired — unless claimed, in
// which case the entry survives as an orphan until released, so a transport
// can never be destroyed out from under a caller mid-operation. That
// deferred destruction is the one safety invariant this package exists to
// guarantee.
//
// Claiming is advisory mutual exclusion over use of a device's transport:
// TryClaim atomically tests-and-sets the flag, and Claim wraps it in a
// bounded wait for callers that would otherwise busy-spin. The registry
// does not police what a claimant does with the transport.
//
// Lookup by id can legitimately race a disconnection, so every accessor
// returns ErrNotFound as a recoverable condition; callers re-enumerate
// rather than treat it as fatal.
package devices
