package log

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func sampleEvent() Event {
	chip := uint8(1)
	addr := uint32(0x5555)
	return Event{
		Timestamp: time.Date(2026, 8, 27, 10, 30, 0, 123456789, time.UTC),
		Category:  CategoryChipCommand,
		DeviceID:  "9f2c1d0a-0000-4000-8000-000000000001",
		VendorID:  0x20A0,
		ProductID: 0x4178,
		ChipIndex: &chip,
		Address:   &addr,
		Detail:    "erase start",
	}
}

func TestCategoryString(t *testing.T) {
	cases := []struct {
		category Category
		want     string
	}{
		{CategoryDeviceAdded, "DEVICE_ADDED"},
		{CategoryDeviceRemoved, "DEVICE_REMOVED"},
		{CategoryClaim, "CLAIM"},
		{CategoryRelease, "RELEASE"},
		{CategoryChipCommand, "CHIP_COMMAND"},
		{CategoryErasePoll, "ERASE_POLL"},
		{CategoryBulkProgress, "BULK_PROGRESS"},
		{CategoryError, "ERROR"},
		{Category(200), "UNKNOWN"},
	}
	for _, c := range cases {
		if got := c.category.String(); got != c.want {
			t.Errorf("Category(%d).String() = %q, want %q", c.category, got, c.want)
		}
	}
}

func TestEncodeDecodeEvent(t *testing.T) {
	event := sampleEvent()

	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}

	if !decoded.Timestamp.Equal(event.Timestamp) {
		t.Errorf("timestamp = %v, want %v", decoded.Timestamp, event.Timestamp)
	}
	if decoded.Category != event.Category {
		t.Errorf("category = %v, want %v", decoded.Category, event.Category)
	}
	if decoded.DeviceID != event.DeviceID {
		t.Errorf("device id = %q, want %q", decoded.DeviceID, event.DeviceID)
	}
	if decoded.VendorID != event.VendorID || decoded.ProductID != event.ProductID {
		t.Errorf("ids = %04X:%04X, want %04X:%04X",
			decoded.VendorID, decoded.ProductID, event.VendorID, event.ProductID)
	}
	if decoded.ChipIndex == nil || *decoded.ChipIndex != *event.ChipIndex {
		t.Errorf("chip index = %v, want %v", decoded.ChipIndex, *event.ChipIndex)
	}
	if decoded.Address == nil || *decoded.Address != *event.Address {
		t.Errorf("address = %v, want %v", decoded.Address, *event.Address)
	}
	if decoded.Detail != event.Detail {
		t.Errorf("detail = %q, want %q", decoded.Detail, event.Detail)
	}
}

func TestEncodeOmitsEmptyFields(t *testing.T) {
	minimal := Event{
		Timestamp: time.Now().UTC(),
		Category:  CategoryDeviceAdded,
	}
	full := sampleEvent()

	minData, err := EncodeEvent(minimal)
	if err != nil {
		t.Fatalf("EncodeEvent(minimal): %v", err)
	}
	fullData, err := EncodeEvent(full)
	if err != nil {
		t.Fatalf("EncodeEvent(full): %v", err)
	}
	if len(minData) >= len(fullData) {
		t.Errorf("minimal event (%d bytes) not smaller than full event (%d bytes)",
			len(minData), len(fullData))
	}
}

func TestFileLoggerAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.flog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	events := []Event{
		{Timestamp: time.Now().UTC(), Category: CategoryDeviceAdded, DeviceID: "dev-a"},
		{Timestamp: time.Now().UTC(), Category: CategoryClaim, DeviceID: "dev-a"},
		{Timestamp: time.Now().UTC(), Category: CategoryClaim, DeviceID: "dev-b"},
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close is idempotent, and logging after close is a silent no-op.
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	logger.Log(Event{Category: CategoryError})

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer reader.Close()

	var got []Event
	for {
		e, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, e)
	}
	if len(got) != len(events) {
		t.Fatalf("read %d events, want %d", len(got), len(events))
	}
	for i := range events {
		if got[i].Category != events[i].Category || got[i].DeviceID != events[i].DeviceID {
			t.Errorf("event %d = {%v %q}, want {%v %q}",
				i, got[i].Category, got[i].DeviceID, events[i].Category, events[i].DeviceID)
		}
	}
}

func TestFileLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.flog")

	for i := 0; i < 2; i++ {
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger #%d: %v", i, err)
		}
		logger.Log(Event{Timestamp: time.Now().UTC(), Category: CategoryDeviceAdded})
		if err := logger.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i, err)
		}
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer reader.Close()
	count := 0
	for {
		if _, err := reader.Next(); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("Next: %v", err)
		}
		count++
	}
	if count != 2 {
		t.Errorf("read %d events across sessions, want 2", count)
	}
}

func TestFilteredReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.flog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	base := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	logger.Log(Event{Timestamp: base, Category: CategoryDeviceAdded, DeviceID: "dev-a"})
	logger.Log(Event{Timestamp: base.Add(time.Second), Category: CategoryClaim, DeviceID: "dev-a"})
	logger.Log(Event{Timestamp: base.Add(2 * time.Second), Category: CategoryClaim, DeviceID: "dev-b"})
	logger.Log(Event{Timestamp: base.Add(3 * time.Second), Category: CategoryRelease, DeviceID: "dev-a"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	claim := CategoryClaim
	start := base.Add(time.Second)
	end := base.Add(3 * time.Second)
	reader, err := NewFilteredReader(path, Filter{
		DeviceID:  "dev-a",
		Category:  &claim,
		TimeStart: &start,
		TimeEnd:   &end,
	})
	if err != nil {
		t.Fatalf("NewFilteredReader: %v", err)
	}
	defer reader.Close()

	event, err := reader.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if event.Category != CategoryClaim || event.DeviceID != "dev-a" {
		t.Errorf("filtered event = {%v %q}, want {CLAIM dev-a}", event.Category, event.DeviceID)
	}
	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("second Next err = %v, want io.EOF", err)
	}
}

// captureLogger records events for MultiLogger fan-out checks.
type captureLogger struct {
	events []Event
}

func (c *captureLogger) Log(e Event) {
	c.events = append(c.events, e)
}

func TestMultiLoggerFansOut(t *testing.T) {
	a := &captureLogger{}
	b := &captureLogger{}
	m := NewMultiLogger(a, b)

	m.Log(Event{Category: CategoryClaim})
	m.Log(Event{Category: CategoryRelease})

	for name, c := range map[string]*captureLogger{"a": a, "b": b} {
		if len(c.events) != 2 {
			t.Fatalf("logger %s got %d events, want 2", name, len(c.events))
		}
		if c.events[0].Category != CategoryClaim || c.events[1].Category != CategoryRelease {
			t.Errorf("logger %s got %v, %v", name, c.events[0].Category, c.events[1].Category)
		}
	}
}

func TestNoopLogger(t *testing.T) {
	// Must not panic.
	NoopLogger{}.Log(sampleEvent())
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	adapter := NewSlogAdapter(slog.New(handler))

	adapter.Log(sampleEvent())

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["category"] != "CHIP_COMMAND" {
		t.Errorf("category = %v, want CHIP_COMMAND", record["category"])
	}
	if record["vendor"] != "0x20A0" {
		t.Errorf("vendor = %v, want 0x20A0", record["vendor"])
	}
	if record["product"] != "0x4178" {
		t.Errorf("product = %v, want 0x4178", record["product"])
	}
	if record["detail"] != "erase start" {
		t.Errorf("detail = %v, want %q", record["detail"], "erase start")
	}
	if record["chip"] != float64(1) {
		t.Errorf("chip = %v, want 1", record["chip"])
	}
}

func TestHex16(t *testing.T) {
	cases := []struct {
		in   uint16
		want string
	}{
		{0x0000, "0x0000"},
		{0x20A0, "0x20A0"},
		{0xFFFF, "0xFFFF"},
		{0x0042, "0x0042"},
	}
	for _, c := range cases {
		if got := hex16(c.in); got != c.want {
			t.Errorf("hex16(0x%04X) = %q, want %q", c.in, got, c.want)
		}
	}
}
