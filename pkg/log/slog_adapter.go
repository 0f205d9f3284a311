package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes trace events to an slog.Logger.
// Useful for development when you want to see events in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("category", event.Category.String()),
	}

	if event.DeviceID != "" {
		attrs = append(attrs, slog.String("device_id", event.DeviceID))
	}
	if event.VendorID != 0 || event.ProductID != 0 {
		attrs = append(attrs,
			slog.String("vendor", hex16(event.VendorID)),
			slog.String("product", hex16(event.ProductID)),
		)
	}
	if event.ChipIndex != nil {
		attrs = append(attrs, slog.Uint64("chip", uint64(*event.ChipIndex)))
	}
	if event.Address != nil {
		attrs = append(attrs, slog.Uint64("address", uint64(*event.Address)))
	}
	if event.Total != 0 {
		attrs = append(attrs,
			slog.Int("done", event.Done),
			slog.Int("total", event.Total),
		)
	}
	if event.Detail != "" {
		attrs = append(attrs, slog.String("detail", event.Detail))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "trace", attrs...)
}

const hexDigits = "0123456789ABCDEF"

// hex16 formats a 16-bit id as 0xXXXX without pulling fmt into the hot path.
func hex16(v uint16) string {
	b := []byte{'0', 'x', 0, 0, 0, 0}
	for i := 0; i < 4; i++ {
		b[5-i] = hexDigits[v&0xF]
		v >>= 4
	}
	return string(b)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
