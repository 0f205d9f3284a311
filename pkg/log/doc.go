// Package log provides structured event capture for the programmer stack.
//
// This package defines the Logger interface and Event types for recording
// what the device registry and flash protocol layers actually did: devices
// appearing and vanishing, claims and releases, chip commands, erase polls
// and bulk transfer progress. It is separate from operational logging
// (slog) — event capture produces a complete machine-readable trace for
// debugging flaky cartridges and hotplug races.
//
// # Basic Usage
//
// Consumers configure capture by providing a Logger implementation:
//
//	// For development: events to console via slog
//	cfg.Events = log.NewSlogAdapter(slog.Default())
//
//	// For field debugging: binary trace file
//	cfg.Events, _ = log.NewFileLogger("/var/log/flashmasta/trace.flog")
//
//	// Both at once
//	cfg.Events = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # File Format
//
// Trace files are a stream of CBOR-encoded events with integer keys, read
// back with Reader and an optional Filter.
package log
