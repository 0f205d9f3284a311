// Package commands implements the flashmasta-trace CLI commands.
package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/retroflash/flashmasta-go/pkg/log"
)

// RunView prints matching events in human-readable form.
func RunView(path, category, devicePrefix string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if category != "" && !strings.EqualFold(event.Category.String(), category) {
			continue
		}
		if devicePrefix != "" && !strings.HasPrefix(event.DeviceID, devicePrefix) {
			continue
		}
		formatEvent(w, event)
	}
}

// formatEvent writes a human-readable representation of one event.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	fmt.Fprintf(w, "%s [dev:%s] %s", ts, shortenID(event.DeviceID), event.Category)

	if event.VendorID != 0 || event.ProductID != 0 {
		fmt.Fprintf(w, " %04X:%04X", event.VendorID, event.ProductID)
	}
	if event.ChipIndex != nil {
		fmt.Fprintf(w, " chip=%d", *event.ChipIndex)
	}
	if event.Address != nil {
		fmt.Fprintf(w, " addr=0x%X", *event.Address)
	}
	if event.Total != 0 {
		fmt.Fprintf(w, " %d/%d", event.Done, event.Total)
	}
	if event.Detail != "" {
		fmt.Fprintf(w, " %s", event.Detail)
	}
	if event.Error != "" {
		fmt.Fprintf(w, " error=%q", event.Error)
	}
	fmt.Fprintln(w)
}

// shortenID returns the first 8 characters of a surrogate id.
func shortenID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}

// RunExport writes every event as one JSON object per line.
func RunExport(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer reader.Close()

	enc := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := enc.Encode(exportRecord(event)); err != nil {
			return err
		}
	}
}

// exportRecord flattens an Event for JSON output with readable names.
func exportRecord(event log.Event) map[string]any {
	rec := map[string]any{
		"time":     event.Timestamp.UTC().Format(time.RFC3339Nano),
		"category": event.Category.String(),
	}
	if event.DeviceID != "" {
		rec["device_id"] = event.DeviceID
	}
	if event.VendorID != 0 || event.ProductID != 0 {
		rec["vendor"] = fmt.Sprintf("0x%04X", event.VendorID)
		rec["product"] = fmt.Sprintf("0x%04X", event.ProductID)
	}
	if event.ChipIndex != nil {
		rec["chip"] = *event.ChipIndex
	}
	if event.Address != nil {
		rec["address"] = *event.Address
	}
	if event.Total != 0 {
		rec["done"] = event.Done
		rec["total"] = event.Total
	}
	if event.Detail != "" {
		rec["detail"] = event.Detail
	}
	if event.Error != "" {
		rec["error"] = event.Error
	}
	return rec
}

// Stats holds aggregate statistics about a trace file.
type Stats struct {
	TotalEvents int
	ByCategory  map[log.Category]int
	Devices     map[string]int
	Errors      int
	Start       time.Time
	End         time.Time
}

// RunStats analyzes the trace file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer reader.Close()

	stats := Stats{
		ByCategory: make(map[log.Category]int),
		Devices:    make(map[string]int),
	}
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.TotalEvents++
		stats.ByCategory[event.Category]++
		if event.DeviceID != "" {
			stats.Devices[event.DeviceID]++
		}
		if event.Category == log.CategoryError {
			stats.Errors++
		}
		if stats.Start.IsZero() || event.Timestamp.Before(stats.Start) {
			stats.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.End) {
			stats.End = event.Timestamp
		}
	}

	fmt.Fprintf(w, "Events:   %d\n", stats.TotalEvents)
	fmt.Fprintf(w, "Devices:  %d\n", len(stats.Devices))
	fmt.Fprintf(w, "Errors:   %d\n", stats.Errors)
	if !stats.Start.IsZero() {
		fmt.Fprintf(w, "Range:    %s .. %s\n",
			stats.Start.UTC().Format(time.RFC3339),
			stats.End.UTC().Format(time.RFC3339))
	}
	for cat := log.CategoryDeviceAdded; cat <= log.CategoryError; cat++ {
		if n := stats.ByCategory[cat]; n > 0 {
			fmt.Fprintf(w, "  %-15s %d\n", cat.String(), n)
		}
	}
	return nil
}
