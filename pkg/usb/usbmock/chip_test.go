package usbmock

import (
	"testing"

	"github.com/retroflash/flashmasta-go/pkg/usb"
)

func testConfig() ChipConfig {
	return ChipConfig{
		Sectors: []Sector{
			{Base: 0x0000, Size: 0x1000},
			{Base: 0x1000, Size: 0x1000},
		},
		ManufacturerID: 0x98,
		DeviceID:       BypassDeviceID,
		ErasePolls:     2,
	}
}

func unlock(c *Chip, cmd byte) {
	c.Write(unlockAddr1, cmdUnlock1)
	c.Write(unlockAddr2, cmdUnlock2)
	c.Write(unlockAddr1, cmd)
}

func TestNewChipStartsErased(t *testing.T) {
	c := NewChip(testConfig())
	if c.Size() != 0x2000 {
		t.Fatalf("Size() = 0x%X, want 0x2000", c.Size())
	}
	for _, addr := range []uint32{0x0, 0x7FF, 0x1FFF} {
		if got := c.Read(addr); got != 0xFF {
			t.Errorf("fresh chip byte 0x%X = 0x%02X, want 0xFF", addr, got)
		}
	}
}

func TestAutoselectMetadata(t *testing.T) {
	cfg := testConfig()
	cfg.Protected = []uint32{0x1000}
	c := NewChip(cfg)

	unlock(c, cmdAutoselect)

	if got := c.Read(autoselectManufacturer); got != 0x98 {
		t.Errorf("manufacturer = 0x%02X, want 0x98", got)
	}
	if got := c.Read(autoselectDevice); got != BypassDeviceID {
		t.Errorf("device = 0x%02X, want 0x%02X", got, BypassDeviceID)
	}
	if got := c.Read(0x0000 | autoselectProtection); got != 0x00 {
		t.Errorf("sector 0 protection = 0x%02X, want 0x00", got)
	}
	if got := c.Read(0x1000 | autoselectProtection); got != 0x01 {
		t.Errorf("sector 1 protection = 0x%02X, want 0x01", got)
	}

	// Reset drops back to data reads.
	c.Write(0, cmdReset)
	if got := c.Read(autoselectManufacturer); got != 0xFF {
		t.Errorf("post-reset read = 0x%02X, want data 0xFF", got)
	}
}

func TestBrokenUnlockSequenceIgnored(t *testing.T) {
	c := NewChip(testConfig())

	// Wrong second cycle falls back to read state.
	c.Write(unlockAddr1, cmdUnlock1)
	c.Write(0x1234, cmdUnlock2)
	c.Write(unlockAddr1, cmdAutoselect)
	if got := c.Read(autoselectDevice); got != 0xFF {
		t.Errorf("read after broken unlock = 0x%02X, want data 0xFF", got)
	}
}

func TestProgramCycle(t *testing.T) {
	c := NewChip(testConfig())

	unlock(c, cmdProgram)
	c.Write(0x42, 0x3C)
	if got := c.Read(0x42); got != 0x3C {
		t.Errorf("programmed byte = 0x%02X, want 0x3C", got)
	}

	// Setting bits back is recorded as a violation and has no effect.
	unlock(c, cmdProgram)
	c.Write(0x42, 0xC3)
	if got := c.Read(0x42); got != 0x00 {
		t.Errorf("byte = 0x%02X, want AND result 0x00", got)
	}
	if v := c.Violations(); len(v) != 1 {
		t.Errorf("violations = %v, want one", v)
	}
}

func TestProtectedSectorRefusesProgramAndErase(t *testing.T) {
	cfg := testConfig()
	cfg.Protected = []uint32{0x0000}
	c := NewChip(cfg)
	c.Seed(0x10, []byte{0x55})

	unlock(c, cmdProgram)
	c.Write(0x10, 0x00)
	if got := c.Read(0x10); got != 0x55 {
		t.Errorf("protected byte = 0x%02X after program, want 0x55", got)
	}

	// Sector erase of the protected sector leaves it intact.
	unlock(c, cmdEraseSetup)
	c.Write(unlockAddr1, cmdUnlock1)
	c.Write(unlockAddr2, cmdUnlock2)
	c.Write(0x0000, cmdEraseSector)
	drainErase(c)
	if got := c.Read(0x10); got != 0x55 {
		t.Errorf("protected byte = 0x%02X after erase, want 0x55", got)
	}
}

// drainErase reads status until the erase lands.
func drainErase(c *Chip) {
	for i := 0; i < 64; i++ {
		a := c.Read(0)
		b := c.Read(0)
		if a == b {
			return
		}
	}
}

func TestTogglePolling(t *testing.T) {
	cfg := testConfig()
	cfg.ErasePolls = 4
	c := NewChip(cfg)
	c.Seed(0x0, []byte{0x00})

	unlock(c, cmdEraseSetup)
	c.Write(unlockAddr1, cmdUnlock1)
	c.Write(unlockAddr2, cmdUnlock2)
	c.Write(unlockAddr1, cmdEraseChip)

	// Four budgeted status reads alternate the toggle bit.
	want := []byte{toggleBit, 0x00, toggleBit, 0x00}
	for i, w := range want {
		if got := c.Read(0); got != w {
			t.Fatalf("status read %d = 0x%02X, want 0x%02X", i, got, w)
		}
	}
	// Budget spent; reads are stable erased data.
	if got := c.Read(0); got != 0xFF {
		t.Fatalf("post-budget read = 0x%02X, want 0xFF", got)
	}
	if got := c.Read(0); got != 0xFF {
		t.Fatalf("second post-budget read = 0x%02X, want 0xFF", got)
	}
}

func TestResetMidEraseAppliesErase(t *testing.T) {
	c := NewChip(testConfig())
	c.Seed(0x800, []byte{0x00})

	unlock(c, cmdEraseSetup)
	c.Write(unlockAddr1, cmdUnlock1)
	c.Write(unlockAddr2, cmdUnlock2)
	c.Write(unlockAddr1, cmdEraseChip)

	c.Write(0, cmdReset)
	if got := c.Read(0x800); got != 0xFF {
		t.Errorf("byte = 0x%02X after aborted erase, want 0xFF", got)
	}
}

func TestBypassSequence(t *testing.T) {
	c := NewChip(testConfig())

	unlock(c, cmdUnlockBypass)
	// Two-cycle program while bypassed.
	c.Write(0x30, cmdProgram)
	c.Write(0x30, 0x0F)
	c.Write(0x31, cmdProgram)
	c.Write(0x31, 0xF0)

	// Exit bypass and verify data.
	c.Write(0, cmdBypassResetA)
	c.Write(0, cmdBypassResetB)
	if got := c.Read(0x30); got != 0x0F {
		t.Errorf("byte 0x30 = 0x%02X, want 0x0F", got)
	}
	if got := c.Read(0x31); got != 0xF0 {
		t.Errorf("byte 0x31 = 0x%02X, want 0xF0", got)
	}
}

func TestProgramBeyondChipRecordsViolation(t *testing.T) {
	c := NewChip(testConfig())
	unlock(c, cmdProgram)
	c.Write(0x9999, 0x00)
	if v := c.Violations(); len(v) != 1 {
		t.Errorf("violations = %v, want one", v)
	}
}

func TestTransportCloseAccounting(t *testing.T) {
	dev := NewNGPDevice("SER-T1")
	tr, err := dev.OpenTransport()
	if err != nil {
		t.Fatalf("OpenTransport: %v", err)
	}
	if dev.OpenBalance() != 1 {
		t.Fatalf("OpenBalance = %d after open, want 1", dev.OpenBalance())
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if dev.OpenBalance() != 0 {
		t.Fatalf("OpenBalance = %d after close, want 0", dev.OpenBalance())
	}
	// Double close fails and is not double-counted.
	if err := tr.Close(); err == nil {
		t.Error("second Close succeeded")
	}
	if dev.OpenBalance() != 0 {
		t.Errorf("OpenBalance = %d after double close, want 0", dev.OpenBalance())
	}
	if _, err := tr.Read(0); err == nil {
		t.Error("Read on closed transport succeeded")
	}
	if err := tr.Write(0, 0); err == nil {
		t.Error("Write on closed transport succeeded")
	}
}

func TestBusEnumerateErrIsOneShot(t *testing.T) {
	bus := NewBus()
	bus.Attach(NewNGPDevice("SER-T2"))
	bus.EnumerateErr = errTransportClosed

	if _, err := bus.Devices(); err == nil {
		t.Fatal("expected injected enumeration error")
	}
	devs, err := bus.Devices()
	if err != nil {
		t.Fatalf("second Devices: %v", err)
	}
	if len(devs) != 1 {
		t.Fatalf("Devices = %d entries, want 1", len(devs))
	}
	var _ usb.Device = devs[0]
}
