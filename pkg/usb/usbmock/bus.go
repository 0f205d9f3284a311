package usbmock

import (
	"errors"
	"fmt"
	"sync"

	"github.com/retroflash/flashmasta-go/pkg/usb"
)

// Bus is a simulated USB bus. Tests mutate its visible device set with
// Attach and Detach to model plugging and unplugging between enumeration
// passes.
type Bus struct {
	mu      sync.Mutex
	devices []*Device

	// EnumerateErr, when set, is returned by the next Devices call.
	EnumerateErr error
}

// NewBus creates an empty simulated bus.
func NewBus() *Bus {
	return &Bus{}
}

// Attach makes a device visible on the bus.
func (b *Bus) Attach(d *Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices = append(b.devices, d)
}

// Detach removes the device with the given key from the bus. The device
// object itself stays alive; handles referenced by the registry remain
// valid until unreferenced, mirroring libusb semantics.
func (b *Bus) Detach(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, d := range b.devices {
		if d.key == key {
			b.devices = append(b.devices[:i], b.devices[i+1:]...)
			return
		}
	}
}

// Devices implements usb.Bus.
func (b *Bus) Devices() ([]usb.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.EnumerateErr != nil {
		err := b.EnumerateErr
		b.EnumerateErr = nil
		return nil, err
	}
	out := make([]usb.Device, len(b.devices))
	for i, d := range b.devices {
		out[i] = d
	}
	return out, nil
}

// Device is a simulated bus handle with reference-count and open/close
// accounting.
type Device struct {
	key     string
	vendor  usb.VendorID
	product usb.ProductID
	strings usb.DescriptorStrings
	chip    *Chip

	mu         sync.Mutex
	refs       int
	opens      int
	closes     int
	transports int

	// Failure injection.
	OpenErr           error
	TransportCloseErr error
}

// NewDevice creates a simulated device backed by the given chip. A nil chip
// gets a DefaultChipConfig chip.
func NewDevice(key string, vendor usb.VendorID, product usb.ProductID, chip *Chip) *Device {
	if chip == nil {
		chip = NewChip(DefaultChipConfig())
	}
	return &Device{
		key:     key,
		vendor:  vendor,
		product: product,
		chip:    chip,
		strings: usb.DescriptorStrings{
			Manufacturer: "7400 Circuits",
			Product:      fmt.Sprintf("Flashmasta %04X", uint16(product)),
			SerialNumber: key,
		},
	}
}

// NewNGPDevice creates a simulated Neo Geo Pocket Linkmasta.
func NewNGPDevice(key string) *Device {
	return NewDevice(key, usb.VendorFlashmasta, usb.ProductNGPLinkmasta, nil)
}

// Chip returns the simulated flash chip behind this device.
func (d *Device) Chip() *Chip { return d.chip }

// Key implements usb.Device.
func (d *Device) Key() string { return d.key }

// VendorID implements usb.Device.
func (d *Device) VendorID() usb.VendorID { return d.vendor }

// ProductID implements usb.Device.
func (d *Device) ProductID() usb.ProductID { return d.product }

// Ref implements usb.Device.
func (d *Device) Ref() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs++
}

// Unref implements usb.Device.
func (d *Device) Unref() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs--
}

// Refs returns the current native-handle reference count.
func (d *Device) Refs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refs
}

// OpenBalance returns opens minus closes across descriptor reads and
// transports. Zero means every acquisition was released.
func (d *Device) OpenBalance() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens - d.closes
}

// ReadDescriptorStrings implements usb.Device.
func (d *Device) ReadDescriptorStrings() (usb.DescriptorStrings, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return usb.DescriptorStrings{}, d.OpenErr
	}
	// Transient open/close for the descriptor fetch.
	d.opens++
	d.closes++
	return d.strings, nil
}

// OpenTransport implements usb.Device.
func (d *Device) OpenTransport() (usb.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	d.opens++
	d.transports++
	return &ChipTransport{chip: d.chip, dev: d}, nil
}

// ChipTransport is a usb.Transport over a simulated chip.
type ChipTransport struct {
	chip   *Chip
	dev    *Device
	mu     sync.Mutex
	closed bool
}

// NewChipTransport wraps a bare chip in a transport, for flash-layer tests
// that need no bus at all.
func NewChipTransport(chip *Chip) *ChipTransport {
	return &ChipTransport{chip: chip}
}

var errTransportClosed = errors.New("usbmock: transport closed")

// Read implements usb.Transport.
func (t *ChipTransport) Read(address uint32) (byte, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return 0, errTransportClosed
	}
	return t.chip.Read(address), nil
}

// Write implements usb.Transport.
func (t *ChipTransport) Write(address uint32, data byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return errTransportClosed
	}
	t.chip.Write(address, data)
	return nil
}

// Close implements usb.Transport.
func (t *ChipTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTransportClosed
	}
	t.closed = true
	if t.dev != nil {
		t.dev.mu.Lock()
		t.dev.closes++
		err := t.dev.TransportCloseErr
		t.dev.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

var (
	_ usb.Bus       = (*Bus)(nil)
	_ usb.Device    = (*Device)(nil)
	_ usb.Transport = (*ChipTransport)(nil)
)
