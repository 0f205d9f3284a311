// Package flash drives the NOR flash chips on Neo Geo Pocket and WonderSwan
// cartridges through their JEDEC-style unlock/command protocol.
//
// The driver is a belief-state machine: Chip tracks which mode it last
// commanded the hardware into (read, autoselect, bypass, erase), but the
// hardware gives no acknowledgement, so the tracked mode is only trustworthy
// between operations that document a resulting mode. While an erase runs the
// tracked mode is explicitly untrustworthy; the only way to observe real
// progress is PollErase, which performs the toggle-bit completion poll.
// CachedMode and Erasing never touch hardware and exist for inspection
// between polls only.
//
// The driver is intentionally blocking and single-operation: flash commands
// are physically sequential and order-dependent, so callers serialize all
// access (normally by holding the device claim from pkg/devices). Bulk
// operations cooperate with a caller-supplied ProgressSink for progress
// reporting and cancellation; cancellation is not an error, it simply yields
// the count transferred so far.
//
// Nothing here retries or validates: a chip that does not follow the
// protocol yields wrong values, and verifying data is the caller's job.
package flash
