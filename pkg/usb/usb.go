package usb

// VendorID is a USB vendor identifier.
type VendorID uint16

// ProductID is a USB product identifier.
type ProductID uint16

// System identifies which cartridge system a programmer targets.
type System int

const (
	// SystemUnknown is returned for product ids outside the allow-list.
	SystemUnknown System = iota

	// SystemNeoGeoPocket covers both Neo Geo Pocket programmer variants.
	SystemNeoGeoPocket

	// SystemWonderSwan covers the WonderSwan programmer.
	SystemWonderSwan
)

// String returns the system name.
func (s System) String() string {
	switch s {
	case SystemNeoGeoPocket:
		return "NeoGeoPocket"
	case SystemWonderSwan:
		return "WonderSwan"
	default:
		return "Unknown"
	}
}

// Supported programmer identifiers. The allow-list is fixed hardware
// knowledge, not configuration.
const (
	VendorFlashmasta VendorID = 0x20A0

	ProductNGPLinkmasta  ProductID = 0x4178
	ProductNGPFlashmasta ProductID = 0x4256
	ProductWSFlashmasta  ProductID = 0x4252
)

// Supported reports whether a vendor/product pair is a programmer this
// system knows how to drive. Unsupported devices are ignored at enumeration
// time, never reported as errors.
func Supported(vendor VendorID, product ProductID) bool {
	if vendor != VendorFlashmasta {
		return false
	}
	switch product {
	case ProductNGPLinkmasta, ProductNGPFlashmasta, ProductWSFlashmasta:
		return true
	default:
		return false
	}
}

// SystemForProduct maps a supported product id to its cartridge system.
func SystemForProduct(product ProductID) System {
	switch product {
	case ProductNGPLinkmasta, ProductNGPFlashmasta:
		return SystemNeoGeoPocket
	case ProductWSFlashmasta:
		return SystemWonderSwan
	default:
		return SystemUnknown
	}
}

// DescriptorStrings holds the descriptive strings fetched from a device
// once at discovery time.
type DescriptorStrings struct {
	Manufacturer string
	Product      string
	SerialNumber string
}

// Bus enumerates the devices currently visible on a USB bus. A Bus makes no
// support-filtering decisions; callers apply Supported themselves.
type Bus interface {
	// Devices returns a snapshot of the devices visible right now. The
	// returned handles are not referenced; callers that keep one past the
	// next enumeration must Ref it.
	Devices() ([]Device, error)
}

// Device is a handle to one physical device on the bus.
//
// The handle is shared with the bus library's own device list, so ownership
// is reference counted: a caller that stores the handle calls Ref, and
// Unref when done. Key is stable for the lifetime of one physical
// connection and is how two enumeration snapshots are matched up.
type Device interface {
	// Key returns an identity token for the underlying physical device.
	// Two Device values refer to the same physical connection iff their
	// keys are equal. Keys may be reused after the device disconnects.
	Key() string

	VendorID() VendorID
	ProductID() ProductID

	// Ref takes a reference on the native handle. Unref releases one.
	Ref()
	Unref()

	// ReadDescriptorStrings transiently opens the device, reads its
	// descriptor strings, and closes it again.
	ReadDescriptorStrings() (DescriptorStrings, error)

	// OpenTransport opens the device for cartridge I/O. The transport is
	// owned by the caller and must be closed exactly once.
	OpenTransport() (Transport, error)
}

// Transport is a byte-addressable channel to one chip on one cartridge
// slot. Operations are blocking and carry no retry or protocol knowledge.
type Transport interface {
	// Read returns the word at address. In read mode this is cartridge
	// data; in autoselect mode it is chip metadata.
	Read(address uint32) (byte, error)

	// Write sends a word to address. Writes are commands to the chip, not
	// storage mutations; programming goes through the flash package.
	Write(address uint32, data byte) error

	// Close tears down the channel. A transport for a physically removed
	// device may fail to close gracefully; the registry swallows that.
	Close() error
}
