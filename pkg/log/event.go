package log

import (
	"time"
)

// Event is one captured occurrence in the registry or protocol layers.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// Category classifies the event.
	Category Category `cbor:"2,keyasint"`

	// DeviceID is the registry surrogate id, when the event concerns a
	// registered device.
	DeviceID string `cbor:"3,keyasint,omitempty"`

	// VendorID and ProductID identify the programmer hardware.
	VendorID  uint16 `cbor:"4,keyasint,omitempty"`
	ProductID uint16 `cbor:"5,keyasint,omitempty"`

	// ChipIndex is the chip's index on its cartridge, for protocol events.
	ChipIndex *uint8 `cbor:"6,keyasint,omitempty"`

	// Address is the target address of a command or transfer.
	Address *uint32 `cbor:"7,keyasint,omitempty"`

	// Done and Total carry bulk transfer progress in units.
	Done  int `cbor:"8,keyasint,omitempty"`
	Total int `cbor:"9,keyasint,omitempty"`

	// Detail is a short free-form note (command name, erase status).
	Detail string `cbor:"10,keyasint,omitempty"`

	// Error carries the error text for CategoryError events.
	Error string `cbor:"11,keyasint,omitempty"`
}

// Category classifies an event.
type Category uint8

const (
	// CategoryDeviceAdded records a supported device entering the registry.
	CategoryDeviceAdded Category = iota

	// CategoryDeviceRemoved records a registry entry being retired.
	CategoryDeviceRemoved

	// CategoryClaim records a successful exclusive claim.
	CategoryClaim

	// CategoryRelease records a claim being released.
	CategoryRelease

	// CategoryChipCommand records a protocol command (reset, autoselect,
	// erase start, bypass unlock).
	CategoryChipCommand

	// CategoryErasePoll records an erase completion poll and its outcome.
	CategoryErasePoll

	// CategoryBulkProgress records bulk read/program progress checkpoints.
	CategoryBulkProgress

	// CategoryError records an operational error at any layer.
	CategoryError
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryDeviceAdded:
		return "DEVICE_ADDED"
	case CategoryDeviceRemoved:
		return "DEVICE_REMOVED"
	case CategoryClaim:
		return "CLAIM"
	case CategoryRelease:
		return "RELEASE"
	case CategoryChipCommand:
		return "CHIP_COMMAND"
	case CategoryErasePoll:
		return "ERASE_POLL"
	case CategoryBulkProgress:
		return "BULK_PROGRESS"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
