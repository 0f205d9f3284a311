package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	eventlog "github.com/retroflash/flashmasta-go/pkg/log"
	"github.com/retroflash/flashmasta-go/pkg/usb"
)

// DeviceID is the process-local surrogate identifier of one physical
// connection. Stable for the connection's lifetime, unique at any instant,
// never reused while the device remains connected or claimed.
type DeviceID string

// DeviceInfo is a point-in-time snapshot of one registry entry.
type DeviceInfo struct {
	ID           DeviceID
	VendorID     usb.VendorID
	ProductID    usb.ProductID
	System       usb.System
	Manufacturer string
	Product      string
	SerialNumber string
	Claimed      bool
}

// Config configures a Registry.
type Config struct {
	// Interval is the enumeration loop period for Run.
	Interval time.Duration

	// ClaimRetryInterval is how often Claim re-attempts TryClaim.
	ClaimRetryInterval time.Duration

	// Logger receives operational log records. Nil means slog.Default.
	Logger *slog.Logger

	// Events receives trace events. Nil disables capture.
	Events eventlog.Logger
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		Interval:           250 * time.Millisecond,
		ClaimRetryInterval: 10 * time.Millisecond,
	}
}

// entry is one connected device. All fields are guarded by Registry.mu
// except device/transport method calls made after the entry is removed.
type entry struct {
	id        DeviceID
	device    usb.Device
	vendor    usb.VendorID
	product   usb.ProductID
	strings   usb.DescriptorStrings
	transport usb.Transport
	claimed   bool
	seen      bool
}

// Registry is the authoritative, concurrently-accessed table of currently
// visible supported programmers.
//
// Two locks with distinct scopes: mu guards the entry table and is held
// only for the duration of each accessor or reconciliation bookkeeping
// step; refreshMu serializes reconciliation passes against each other and
// against Close, standing in for the USB-library init/teardown guard, so
// no pass starts after shutdown begins.
type Registry struct {
	bus    usb.Bus
	log    *slog.Logger
	events eventlog.Logger

	interval      time.Duration
	claimInterval time.Duration

	refreshMu chanMutex
	mu        chanMutex
	entries   map[DeviceID]*entry
	closed    bool
}

// chanMutex is a mutex with a non-blocking TryLock, built on a buffered
// channel so TryDeviceIDs can bail out instead of stalling behind a
// reconciliation pass.
type chanMutex chan struct{}

func newChanMutex() chanMutex { return make(chanMutex, 1) }

func (m chanMutex) Lock() { m <- struct{}{} }

func (m chanMutex) Unlock() { <-m }

func (m chanMutex) TryLock() bool {
	select {
	case m <- struct{}{}:
		return true
	default:
		return false
	}
}

// NewRegistry creates a registry over the given bus. The caller owns the
// registry's lifecycle: start reconciliation with Run (or drive Refresh
// directly) and tear down with Close.
func NewRegistry(bus usb.Bus, cfg Config) *Registry {
	if bus == nil {
		panic("devices: NewRegistry with nil bus")
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ClaimRetryInterval <= 0 {
		cfg.ClaimRetryInterval = def.ClaimRetryInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var events eventlog.Logger = cfg.Events
	if events == nil {
		events = eventlog.NoopLogger{}
	}
	return &Registry{
		bus:           bus,
		log:           logger,
		events:        events,
		interval:      cfg.Interval,
		claimInterval: cfg.ClaimRetryInterval,
		refreshMu:     newChanMutex(),
		mu:            newChanMutex(),
		entries:       make(map[DeviceID]*entry),
	}
}

// Run drives periodic reconciliation until ctx is done. One pass runs
// immediately; enumeration errors are logged and the loop continues.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.Refresh(); err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			r.log.Warn("device enumeration failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh performs one reconciliation pass against the live bus state.
// Passes are serialized; concurrent calls queue behind each other.
func (r *Registry) Refresh() error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	visible, err := r.bus.Devices()
	if err != nil {
		return fmt.Errorf("devices: enumerate bus: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		e.seen = false
	}

	for _, dev := range visible {
		if !usb.Supported(dev.VendorID(), dev.ProductID()) {
			continue
		}
		if e := r.findByKeyLocked(dev.Key()); e != nil {
			e.seen = true
			continue
		}
		r.addDeviceLocked(dev)
	}

	for id, e := range r.entries {
		if e.seen || e.claimed {
			continue
		}
		r.removeEntryLocked(id, e)
	}

	return nil
}

func (r *Registry) findByKeyLocked(key string) *entry {
	for _, e := range r.entries {
		if e.device.Key() == key {
			return e
		}
	}
	return nil
}

// addDeviceLocked registers a newly seen supported device: fresh surrogate
// id, one transient open for the descriptor strings, a transport for the
// life of the connection, and a reference on the native handle. The brief
// descriptor read is the only blocking USB call made under the table lock.
func (r *Registry) addDeviceLocked(dev usb.Device) {
	strings, err := dev.ReadDescriptorStrings()
	if err != nil {
		// Device vanished between enumeration and open, or is wedged.
		// It will be retried on the next pass if still visible.
		r.log.Warn("descriptor read failed, skipping device",
			"vendor", fmt.Sprintf("0x%04X", uint16(dev.VendorID())),
			"product", fmt.Sprintf("0x%04X", uint16(dev.ProductID())),
			"error", err)
		return
	}
	transport, err := dev.OpenTransport()
	if err != nil {
		r.log.Warn("transport open failed, skipping device",
			"vendor", fmt.Sprintf("0x%04X", uint16(dev.VendorID())),
			"product", fmt.Sprintf("0x%04X", uint16(dev.ProductID())),
			"error", err)
		return
	}

	e := &entry{
		id:        DeviceID(uuid.NewString()),
		device:    dev,
		vendor:    dev.VendorID(),
		product:   dev.ProductID(),
		strings:   strings,
		transport: transport,
		seen:      true,
	}
	dev.Ref()
	r.entries[e.id] = e

	r.log.Info("device connected",
		"id", string(e.id),
		"vendor", fmt.Sprintf("0x%04X", uint16(e.vendor)),
		"product", fmt.Sprintf("0x%04X", uint16(e.product)),
		"serial", strings.SerialNumber)
	r.events.Log(eventlog.Event{
		Timestamp: time.Now(),
		Category:  eventlog.CategoryDeviceAdded,
		DeviceID:  string(e.id),
		VendorID:  uint16(e.vendor),
		ProductID: uint16(e.product),
	})
}

// removeEntryLocked retires an entry whose device is gone. Transport
// teardown errors are swallowed: a physically removed device cannot be
// expected to ack a graceful close.
func (r *Registry) removeEntryLocked(id DeviceID, e *entry) {
	if err := e.transport.Close(); err != nil {
		r.log.Debug("transport teardown failed on removal", "id", string(id), "error", err)
	}
	e.device.Unref()
	delete(r.entries, id)

	r.log.Info("device disconnected", "id", string(id))
	r.events.Log(eventlog.Event{
		Timestamp: time.Now(),
		Category:  eventlog.CategoryDeviceRemoved,
		DeviceID:  string(id),
		VendorID:  uint16(e.vendor),
		ProductID: uint16(e.product),
	})
}

// Close shuts the registry down: no reconciliation pass starts afterwards,
// and every remaining entry — claimed or not — is torn down. Callers are
// expected to have released their claims first.
func (r *Registry) Close() error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	for id, e := range r.entries {
		if err := e.transport.Close(); err != nil {
			r.log.Debug("transport teardown failed on close", "id", string(id), "error", err)
		}
		e.device.Unref()
		delete(r.entries, id)
	}
	return nil
}

// DeviceIDs returns a snapshot of the current registry keys. Blocks briefly
// for the table lock.
func (r *Registry) DeviceIDs() []DeviceID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]DeviceID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// TryDeviceIDs is the non-blocking variant of DeviceIDs for pollers that
// must never stall: it reports false when a reconciliation pass or another
// caller currently holds the table lock.
func (r *Registry) TryDeviceIDs() ([]DeviceID, bool) {
	if !r.mu.TryLock() {
		return nil, false
	}
	defer r.mu.Unlock()
	ids := make([]DeviceID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids, true
}

// IsConnected reports whether the id is currently registered.
func (r *Registry) IsConnected(id DeviceID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

func (r *Registry) lookup(id DeviceID) (*entry, error) {
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("devices: id %s: %w", id, ErrNotFound)
	}
	return e, nil
}

// VendorID returns the USB vendor id for a registered device.
func (r *Registry) VendorID(id DeviceID) (usb.VendorID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.lookup(id)
	if err != nil {
		return 0, err
	}
	return e.vendor, nil
}

// ProductID returns the USB product id for a registered device.
func (r *Registry) ProductID(id DeviceID) (usb.ProductID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.lookup(id)
	if err != nil {
		return 0, err
	}
	return e.product, nil
}

// ManufacturerString returns the manufacturer descriptor string.
func (r *Registry) ManufacturerString(id DeviceID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.lookup(id)
	if err != nil {
		return "", err
	}
	return e.strings.Manufacturer, nil
}

// ProductString returns the product descriptor string.
func (r *Registry) ProductString(id DeviceID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.lookup(id)
	if err != nil {
		return "", err
	}
	return e.strings.Product, nil
}

// SerialNumber returns the serial number descriptor string.
func (r *Registry) SerialNumber(id DeviceID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.lookup(id)
	if err != nil {
		return "", err
	}
	return e.strings.SerialNumber, nil
}

// Transport returns the device's transport. The transport is owned by the
// registry entry; borrow it under a claim and do not close it.
func (r *Registry) Transport(id DeviceID) (usb.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.transport, nil
}

// Claimed reports the claim state of a registered device.
func (r *Registry) Claimed(id DeviceID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.lookup(id)
	if err != nil {
		return false, err
	}
	return e.claimed, nil
}

// Info returns a snapshot of one entry.
func (r *Registry) Info(id DeviceID) (DeviceInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.lookup(id)
	if err != nil {
		return DeviceInfo{}, err
	}
	return DeviceInfo{
		ID:           e.id,
		VendorID:     e.vendor,
		ProductID:    e.product,
		System:       usb.SystemForProduct(e.product),
		Manufacturer: e.strings.Manufacturer,
		Product:      e.strings.Product,
		SerialNumber: e.strings.SerialNumber,
		Claimed:      e.claimed,
	}, nil
}

// TryClaim atomically tests-and-sets the claim flag. The boolean reports
// whether this call transitioned the device from unclaimed to claimed; it
// never blocks. Claiming is advisory: it arbitrates belief of ownership,
// not transport access itself.
func (r *Registry) TryClaim(id DeviceID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.lookup(id)
	if err != nil {
		return false, err
	}
	if e.claimed {
		return false, nil
	}
	e.claimed = true
	r.events.Log(eventlog.Event{
		Timestamp: time.Now(),
		Category:  eventlog.CategoryClaim,
		DeviceID:  string(id),
	})
	return true, nil
}

// Claim blocks until the device is claimed, ctx is done, or the device
// vanishes. It retries TryClaim on a short interval rather than exposing a
// wait primitive, preserving the non-blocking claim semantics underneath.
func (r *Registry) Claim(ctx context.Context, id DeviceID) error {
	ticker := time.NewTicker(r.claimInterval)
	defer ticker.Stop()

	for {
		ok, err := r.TryClaim(id)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release clears the claim flag. Idempotent with respect to claim state;
// fails only for an unknown id. An orphaned entry (device already gone)
// is retired by the next reconciliation pass after release.
func (r *Registry) Release(id DeviceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.claimed = false
	r.events.Log(eventlog.Event{
		Timestamp: time.Now(),
		Category:  eventlog.CategoryRelease,
		DeviceID:  string(id),
	})
	return nil
}
