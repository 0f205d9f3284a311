package usbmock

import (
	"fmt"
	"sync"
)

// Command-cycle addresses and command words for the JEDEC-style flash family
// used on Neo Geo Pocket and WonderSwan cartridges.
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

// Autoselect metadata offsets within a sector.
const (
	autoselectManufacturer uint32 = 0x00
	autoselectDevice       uint32 = 0x01
	autoselectProtection   uint32 = 0x02
)

// DQ6 is the toggle bit reported while an embedded erase is running.
const toggleBit byte = 0x40

// decode states for the command cycle.
type chipState int

const (
	stateRead chipState = iota
	stateUnlock1
	stateUnlock2
	stateAutoselect
	stateProgramPending
	stateEraseSetup
	stateEraseUnlock1
	stateEraseUnlock2
	stateBypass
	stateBypassProgram
	stateBypassReset
	stateErasing
)

// Sector describes one erase block of the simulated chip.
type Sector struct {
	Base uint32
	Size uint32
}

// ChipConfig configures a simulated chip.
type ChipConfig struct {
	// Sectors is the erase block map. Sectors must be contiguous from
	// address zero.
	Sectors []Sector

	// ManufacturerID and DeviceID are returned in autoselect mode.
	ManufacturerID byte
	DeviceID       byte

	// ErasePolls is how many status reads an erase takes before it
	// completes. Zero means erases complete on the first poll pair.
	ErasePolls int

	// Protected marks sector bases whose protection flag reads back set.
	Protected []uint32
}

// DefaultChipSize is the capacity of the default simulated chip.
const DefaultChipSize uint32 = 0x20000

// DefaultChipConfig returns a 128 KiB chip with the cartridge boot-block
// layout (64 KiB block plus a split 32K/8K/8K/16K tail) and the identity of
// the bypass-capable Flashmasta cartridge chip.
func DefaultChipConfig() ChipConfig {
	return ChipConfig{
		Sectors: []Sector{
			{Base: 0x00000, Size: 0x10000},
			{Base: 0x10000, Size: 0x8000},
			{Base: 0x18000, Size: 0x2000},
			{Base: 0x1A000, Size: 0x2000},
			{Base: 0x1C000, Size: 0x4000},
		},
		ManufacturerID: 0x98,
		DeviceID:       BypassDeviceID,
		ErasePolls:     4,
	}
}

// BypassDeviceID is the device id the flash layer recognizes as
// bypass-capable.
const BypassDeviceID byte = 0x2F

// Chip is a simulated NOR flash chip. It decodes the same command cycles
// the real hardware does and models erase completion via toggle-bit polling.
// Safe for concurrent use, though the protocol layer above it is not.
type Chip struct {
	mu sync.Mutex

	data      []byte
	sectors   []Sector
	protected map[uint32]bool

	manufacturerID byte
	deviceID       byte

	state       chipState
	erasePolls  int // configured poll budget per erase
	pollsLeft   int // remaining status reads before the running erase lands
	toggle      bool
	eraseTarget uint32 // sector base, or eraseAll
	eraseAll    bool

	violations []string
}

// NewChip creates a simulated chip with all bits erased to one.
func NewChip(cfg ChipConfig) *Chip {
	var size uint32
	for _, s := range cfg.Sectors {
		size += s.Size
	}
	data := make([]byte, size)
	for i := range data {
		data[i] = 0xFF
	}
	protected := make(map[uint32]bool)
	for _, base := range cfg.Protected {
		protected[base] = true
	}
	return &Chip{
		data:           data,
		sectors:        cfg.Sectors,
		protected:      protected,
		manufacturerID: cfg.ManufacturerID,
		deviceID:       cfg.DeviceID,
		state:          stateRead,
		erasePolls:     cfg.ErasePolls,
	}
}

// Size returns the chip's capacity in bytes.
func (c *Chip) Size() uint32 {
	return uint32(len(c.data))
}

// Violations returns contract violations recorded so far, such as attempts
// to program a one over a zero.
func (c *Chip) Violations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.violations...)
}

// Bytes returns a copy of the current storage contents, ignoring chip mode.
// Test inspection only; real hardware has no such backdoor.
func (c *Chip) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.data...)
}

// Seed overwrites storage contents directly, bypassing the program rules.
// Test setup only.
func (c *Chip) Seed(address uint32, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copy(c.data[address:], data)
}

func (c *Chip) sectorOf(address uint32) Sector {
	for _, s := range c.sectors {
		if address >= s.Base && address < s.Base+s.Size {
			return s
		}
	}
	return Sector{}
}

// Read implements the read side of the command cycle.
func (c *Chip) Read(address uint32) byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateErasing:
		if c.pollsLeft > 0 {
			c.pollsLeft--
			c.toggle = !c.toggle
			if c.toggle {
				return toggleBit
			}
			return 0x00
		}
		// Erase lands once the poll budget is spent; subsequent reads are
		// stable erased data.
		c.completeEraseLocked()
		fallthrough
	case stateRead:
		if int(address) >= len(c.data) {
			return 0xFF
		}
		return c.data[address]
	case stateAutoselect:
		switch address & 0xFF {
		case autoselectManufacturer:
			return c.manufacturerID
		case autoselectDevice:
			return c.deviceID
		case autoselectProtection:
			if c.protected[c.sectorOf(address).Base] {
				return 0x01
			}
			return 0x00
		default:
			return 0x00
		}
	default:
		// Reads mid-sequence are undefined on hardware; return open-bus.
		return 0xFF
	}
}

// Write implements the command side of the command cycle.
func (c *Chip) Write(address uint32, data byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Reset is honored from any state, including mid-erase. An aborted
	// erase leaves the sector contents undefined; the simulation applies
	// the erase so the outcome is at least deterministic.
	if data == cmdReset && c.state != stateProgramPending && c.state != stateBypass && c.state != stateBypassProgram {
		if c.state == stateErasing {
			c.completeEraseLocked()
		}
		c.state = stateRead
		return
	}

	switch c.state {
	case stateRead, stateAutoselect:
		if address == unlockAddr1 && data == cmdUnlock1 {
			c.state = stateUnlock1
		}
	case stateUnlock1:
		if address == unlockAddr2 && data == cmdUnlock2 {
			c.state = stateUnlock2
		} else {
			c.state = stateRead
		}
	case stateUnlock2:
		if address != unlockAddr1 {
			c.state = stateRead
			return
		}
		switch data {
		case cmdAutoselect:
			c.state = stateAutoselect
		case cmdProgram:
			c.state = stateProgramPending
		case cmdEraseSetup:
			c.state = stateEraseSetup
		case cmdUnlockBypass:
			c.state = stateBypass
		default:
			c.state = stateRead
		}
	case stateProgramPending:
		c.programLocked(address, data)
		c.state = stateRead
	case stateEraseSetup:
		if address == unlockAddr1 && data == cmdUnlock1 {
			c.state = stateEraseUnlock1
		} else {
			c.state = stateRead
		}
	case stateEraseUnlock1:
		if address == unlockAddr2 && data == cmdUnlock2 {
			c.state = stateEraseUnlock2
		} else {
			c.state = stateRead
		}
	case stateEraseUnlock2:
		switch {
		case address == unlockAddr1 && data == cmdEraseChip:
			c.beginEraseLocked(0, true)
		case data == cmdEraseSector:
			c.beginEraseLocked(c.sectorOf(address).Base, false)
		default:
			c.state = stateRead
		}
	case stateBypass:
		switch data {
		case cmdProgram:
			c.state = stateBypassProgram
		case cmdBypassResetA:
			c.state = stateBypassReset
		}
	case stateBypassProgram:
		c.programLocked(address, data)
		c.state = stateBypass
	case stateBypassReset:
		if data == cmdBypassResetB {
			c.state = stateRead
		} else {
			c.state = stateBypass
		}
	case stateErasing:
		// Writes other than reset are ignored while the embedded erase
		// algorithm runs.
	}
}

// programLocked applies the monotonic bit-clearing rule: flash programming
// can clear bits but never set them.
func (c *Chip) programLocked(address uint32, data byte) {
	if int(address) >= len(c.data) {
		c.violations = append(c.violations,
			fmt.Sprintf("program at 0x%X beyond chip size 0x%X", address, len(c.data)))
		return
	}
	old := c.data[address]
	if data&^old != 0 {
		c.violations = append(c.violations,
			fmt.Sprintf("program at 0x%X would set bits: have 0x%02X, want 0x%02X", address, old, data))
	}
	if c.protected[c.sectorOf(address).Base] {
		// Protected sectors silently refuse programming.
		return
	}
	c.data[address] = old & data
}

func (c *Chip) beginEraseLocked(target uint32, all bool) {
	c.state = stateErasing
	c.pollsLeft = c.erasePolls
	c.toggle = false
	c.eraseTarget = target
	c.eraseAll = all
}

func (c *Chip) completeEraseLocked() {
	if c.eraseAll {
		for i := range c.data {
			if !c.protected[c.sectorOf(uint32(i)).Base] {
				c.data[i] = 0xFF
			}
		}
	} else {
		s := c.sectorOf(c.eraseTarget)
		if !c.protected[s.Base] {
			for i := s.Base; i < s.Base+s.Size; i++ {
				c.data[i] = 0xFF
			}
		}
	}
	c.state = stateRead
}
