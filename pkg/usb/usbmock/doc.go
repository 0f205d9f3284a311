// Package usbmock simulates the USB layer for tests and for the CLI's -sim
// mode.
//
// It provides three doubles:
//   - Bus: an enumerable device list that tests mutate with Attach/Detach
//     to simulate plugging and unplugging hardware between refresh passes.
//   - Device: a bus handle with reference-count and open/close accounting
//     so tests can assert the registry balances every acquisition.
//   - Chip: a JEDEC-style NOR flash simulation behind a Transport. The chip
//     decodes the real unlock/command cycles (reset, autoselect, program,
//     bypass, chip/sector erase) and enforces the hardware rule that
//     programming can only clear bits; attempts to set a bit are recorded
//     as contract violations for tests to inspect.
package usbmock
