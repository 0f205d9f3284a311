package flash

import (
	"fmt"

	"github.com/retroflash/flashmasta-go/pkg/usb"
)

// Mode is the driver's belief about the chip's current state. See the
// package documentation for when this belief can be trusted.
type Mode int

const (
	// ModeRead is the default mode; reads return stored data.
	ModeRead Mode = iota

	// ModeAutoselect makes reads return identity and protection metadata.
	ModeAutoselect

	// ModeBypass enables the shortened per-byte program sequence.
	ModeBypass

	// ModeErase means an embedded erase is running and the chip is not
	// usable for anything else.
	ModeErase
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "READ"
	case ModeAutoselect:
		return "AUTOSELECT"
	case ModeBypass:
		return "BYPASS"
	case ModeErase:
		return "ERASE"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// EraseStatus is the result of an erase completion poll.
type EraseStatus int

const (
	// EraseStatusIdle means no erase is in flight.
	EraseStatusIdle EraseStatus = iota

	// EraseStatusErasing means the poll observed the erase still running.
	EraseStatusErasing

	// EraseStatusComplete means the poll observed completion; the chip is
	// back in read mode.
	EraseStatusComplete
)

// String returns the status name.
func (s EraseStatus) String() string {
	switch s {
	case EraseStatusIdle:
		return "IDLE"
	case EraseStatusErasing:
		return "ERASING"
	case EraseStatusComplete:
		return "COMPLETE"
	default:
		return fmt.Sprintf("EraseStatus(%d)", int(s))
	}
}

// Command-cycle addresses and words for the cartridge flash family.
const (
	unlockAddr1 uint32 = 0x5555
	unlockAddr2 uint32 = 0x2AAA

	cmdUnlock1      byte = 0xAA
	cmdUnlock2      byte = 0x55
	cmdReset        byte = 0xF0
	cmdAutoselect   byte = 0x90
	cmdProgram      byte = 0xA0
	cmdEraseSetup   byte = 0x80
	cmdEraseChip    byte = 0x10
	cmdEraseSector  byte = 0x30
	cmdUnlockBypass byte = 0x20
	cmdBypassResetA byte = 0x90
	cmdBypassResetB byte = 0x00
)

// Autoselect metadata offsets.
const (
	addrManufacturerID uint32 = 0x00
	addrDeviceID       uint32 = 0x01
	protectionOffset   uint32 = 0x02
)

// bypassDeviceID identifies the cartridge chip family that supports bypass
// programming. Other ids program through the full four-cycle sequence.
const bypassDeviceID = 0x2F

// MaxChipsPerCartridge bounds the per-cartridge chip index.
const MaxChipsPerCartridge = 4

// Chip drives one flash chip on one cartridge slot. Not safe for concurrent
// use; callers serialize access, typically by holding the device claim.
//
// Callers should Reset the chip back to read mode before discarding a Chip,
// otherwise the physical hardware may be left in a non-default mode.
type Chip struct {
	transport usb.Transport
	index     uint

	mode       Mode
	lastErased uint32

	bypassProbed    bool
	bypassSupported bool
}

// NewChip creates a driver for the chip at the given cartridge index. It
// panics on a nil transport or an out-of-range index; both are programmer
// errors, not operational conditions.
func NewChip(transport usb.Transport, index uint) *Chip {
	if transport == nil {
		panic("flash: NewChip with nil transport")
	}
	if index >= MaxChipsPerCartridge {
		panic(fmt.Sprintf("flash: NewChip index %d out of range", index))
	}
	return &Chip{transport: transport, index: index, mode: ModeRead}
}

// Index returns the chip's index on its cartridge.
func (c *Chip) Index() uint { return c.index }

// CachedMode returns the belief-state without touching hardware. During an
// erase this never observes completion; use PollErase for that.
func (c *Chip) CachedMode() Mode { return c.mode }

// Erasing reports whether the belief-state is ModeErase. Like CachedMode it
// never touches hardware.
func (c *Chip) Erasing() bool { return c.mode == ModeErase }

// Read reads a single word. In read mode this is stored data; in autoselect
// mode it is metadata. The result is whatever the hardware answered; the
// driver performs no validation.
func (c *Chip) Read(address uint32) (byte, error) {
	b, err := c.transport.Read(address)
	if err != nil {
		return 0, fmt.Errorf("flash: read 0x%X: %w", address, err)
	}
	return b, nil
}

// Write sends a single command word. It does not program storage; use
// ProgramByte for that.
func (c *Chip) Write(address uint32, data byte) error {
	if err := c.transport.Write(address, data); err != nil {
		return fmt.Errorf("flash: write 0x%X: %w", address, err)
	}
	return nil
}

// Reset returns the chip to read mode. Bypass mode ignores the plain reset
// word and needs its own two-cycle exit sequence, so a bypassed chip leaves
// bypass instead of writing 0xF0. Safe to call mid-erase, in which case the
// duration is hardware-dependent and the interrupted sector's contents are
// undefined.
func (c *Chip) Reset() error {
	if c.mode == ModeBypass {
		return c.exitBypass()
	}
	if err := c.Write(0x00, cmdReset); err != nil {
		return err
	}
	c.mode = ModeRead
	return nil
}

// enterAutoselect issues the unlock sequence into autoselect mode, leaving
// bypass first if needed.
func (c *Chip) enterAutoselect() error {
	if c.mode == ModeBypass {
		if err := c.exitBypass(); err != nil {
			return err
		}
	}
	if err := c.Write(unlockAddr1, cmdUnlock1); err != nil {
		return err
	}
	if err := c.Write(unlockAddr2, cmdUnlock2); err != nil {
		return err
	}
	if err := c.Write(unlockAddr1, cmdAutoselect); err != nil {
		return err
	}
	c.mode = ModeAutoselect
	return nil
}

// ManufacturerID enters autoselect mode and reads the manufacturer id word.
// The chip stays in autoselect mode. The value is unvalidated: hardware
// that does not follow the protocol yields an undefined result.
func (c *Chip) ManufacturerID() (byte, error) {
	if err := c.enterAutoselect(); err != nil {
		return 0, err
	}
	return c.Read(addrManufacturerID)
}

// DeviceID enters autoselect mode and reads the device id word. The chip
// stays in autoselect mode. The value is unvalidated.
func (c *Chip) DeviceID() (byte, error) {
	if err := c.enterAutoselect(); err != nil {
		return 0, err
	}
	return c.Read(addrDeviceID)
}

// BlockProtected enters autoselect mode and reads the protection flag for
// the sector with the given base address.
func (c *Chip) BlockProtected(sectorAddress uint32) (bool, error) {
	if err := c.enterAutoselect(); err != nil {
		return false, err
	}
	b, err := c.Read(sectorAddress | protectionOffset)
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// ProgramByte programs one byte. The caller must have erased the target
// bits to ones first: flash hardware can only clear bits, so programming
// over non-erased data yields undefined results. The driver cannot verify
// this precondition.
//
// Outside bypass mode the belief-state ends at ModeRead; inside bypass mode
// the shortened two-cycle sequence is used and the chip stays bypassed.
func (c *Chip) ProgramByte(address uint32, data byte) error {
	if c.mode == ModeBypass {
		if err := c.Write(address, cmdProgram); err != nil {
			return err
		}
		return c.Write(address, data)
	}
	if err := c.Write(unlockAddr1, cmdUnlock1); err != nil {
		return err
	}
	if err := c.Write(unlockAddr2, cmdUnlock2); err != nil {
		return err
	}
	if err := c.Write(unlockAddr1, cmdProgram); err != nil {
		return err
	}
	if err := c.Write(address, data); err != nil {
		return err
	}
	c.mode = ModeRead
	return nil
}

// SupportsBypass returns the cached bypass capability. False until
// ProbeBypassSupport has run.
func (c *Chip) SupportsBypass() bool {
	return c.bypassProbed && c.bypassSupported
}

// ProbeBypassSupport lazily determines whether the chip supports bypass
// programming by reading its device id. The chip is left in autoselect
// mode. The result is cached for the driver's lifetime.
func (c *Chip) ProbeBypassSupport() (bool, error) {
	if c.bypassProbed {
		return c.bypassSupported, nil
	}
	id, err := c.DeviceID()
	if err != nil {
		return false, err
	}
	c.bypassProbed = true
	c.bypassSupported = id == bypassDeviceID
	return c.bypassSupported, nil
}

// UnlockBypass enters bypass mode for fast programming. On chips without
// bypass support this is a no-op. Probes support lazily if needed.
func (c *Chip) UnlockBypass() error {
	supported, err := c.ProbeBypassSupport()
	if err != nil {
		return err
	}
	if !supported {
		return nil
	}
	if c.mode == ModeBypass {
		return nil
	}
	if err := c.Write(unlockAddr1, cmdUnlock1); err != nil {
		return err
	}
	if err := c.Write(unlockAddr2, cmdUnlock2); err != nil {
		return err
	}
	if err := c.Write(unlockAddr1, cmdUnlockBypass); err != nil {
		return err
	}
	c.mode = ModeBypass
	return nil
}

// exitBypass issues the bypass reset sequence.
func (c *Chip) exitBypass() error {
	if err := c.Write(0x00, cmdBypassResetA); err != nil {
		return err
	}
	if err := c.Write(0x00, cmdBypassResetB); err != nil {
		return err
	}
	c.mode = ModeRead
	return nil
}

// eraseSetup issues the shared six-cycle erase prefix.
func (c *Chip) eraseSetup() error {
	if c.mode == ModeBypass {
		if err := c.exitBypass(); err != nil {
			return err
		}
	}
	if err := c.Write(unlockAddr1, cmdUnlock1); err != nil {
		return err
	}
	if err := c.Write(unlockAddr2, cmdUnlock2); err != nil {
		return err
	}
	if err := c.Write(unlockAddr1, cmdEraseSetup); err != nil {
		return err
	}
	if err := c.Write(unlockAddr1, cmdUnlock1); err != nil {
		return err
	}
	return c.Write(unlockAddr2, cmdUnlock2)
}

// EraseChip starts a full-chip erase, setting every bit to one. The
// belief-state becomes ModeErase and is no longer trustworthy: the caller
// must drive PollErase until it reports completion. CachedMode and Erasing
// will never observe completion on their own.
func (c *Chip) EraseChip() error {
	if err := c.eraseSetup(); err != nil {
		return err
	}
	if err := c.Write(unlockAddr1, cmdEraseChip); err != nil {
		return err
	}
	c.lastErased = 0x00
	c.mode = ModeErase
	return nil
}

// EraseBlock starts a single-sector erase at the given sector base address.
// An address that is not a sector base will likely never start or never
// complete; the driver cannot tell. Poll semantics are as for EraseChip.
func (c *Chip) EraseBlock(blockAddress uint32) error {
	if err := c.eraseSetup(); err != nil {
		return err
	}
	if err := c.Write(blockAddress, cmdEraseSector); err != nil {
		return err
	}
	c.lastErased = blockAddress
	c.mode = ModeErase
	return nil
}

// PollErase performs one hardware completion poll for an in-flight erase:
// two consecutive reads of the erase target; while the embedded algorithm
// runs a status bit toggles between reads, and a stable pair signals
// completion, at which point the belief-state returns to ModeRead.
//
// Returns EraseStatusIdle without touching hardware when no erase is in
// flight.
func (c *Chip) PollErase() (EraseStatus, error) {
	if c.mode != ModeErase {
		return EraseStatusIdle, nil
	}
	first, err := c.Read(c.lastErased)
	if err != nil {
		return EraseStatusErasing, err
	}
	second, err := c.Read(c.lastErased)
	if err != nil {
		return EraseStatusErasing, err
	}
	if first != second {
		return EraseStatusErasing, nil
	}
	c.mode = ModeRead
	return EraseStatusComplete, nil
}

// ReadBytes reads len(buf) bytes starting at address into buf. After each
// byte the sink, if any, is notified and polled for cancellation; on
// cancellation the transfer stops and the count so far is returned with a
// nil error. Callers detect cancellation by comparing the count against
// len(buf).
func (c *Chip) ReadBytes(address uint32, buf []byte, sink ProgressSink) (int, error) {
	total := len(buf)
	for i := 0; i < total; i++ {
		if sink != nil && sink.Cancelled() {
			return i, nil
		}
		b, err := c.Read(address + uint32(i))
		if err != nil {
			return i, err
		}
		buf[i] = b
		if sink != nil {
			sink.ReportProgress(i+1, total)
		}
	}
	return total, nil
}

// ProgramBytes programs len(data) bytes starting at address, using the
// bypass fast path when the chip is bypassed. The caller remains
// responsible for having erased the destination range first. Progress and
// cancellation semantics match ReadBytes.
func (c *Chip) ProgramBytes(address uint32, data []byte, sink ProgressSink) (int, error) {
	total := len(data)
	for i := 0; i < total; i++ {
		if sink != nil && sink.Cancelled() {
			return i, nil
		}
		if err := c.ProgramByte(address+uint32(i), data[i]); err != nil {
			return i, err
		}
		if sink != nil {
			sink.ReportProgress(i+1, total)
		}
	}
	return total, nil
}
