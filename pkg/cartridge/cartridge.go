package cartridge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/retroflash/flashmasta-go/pkg/flash"
	eventlog "github.com/retroflash/flashmasta-go/pkg/log"
	"github.com/retroflash/flashmasta-go/pkg/usb"
)

// ErrNotInitialized is returned by workflows run before Init.
var ErrNotInitialized = errors.New("cartridge: not initialized")

// Cartridge is one cartridge session over a claimed device transport.
// Like the flash driver underneath, it is single-threaded by contract.
type Cartridge struct {
	system usb.System
	layout Layout
	chip   *flash.Chip
	desc   *Descriptor

	events   eventlog.Logger
	deviceID string
}

// New creates a cartridge session. The transport is borrowed, not owned:
// it stays alive for as long as the registry entry backing it, and the
// cartridge must not outlive it.
func New(transport usb.Transport, system usb.System, layout Layout) *Cartridge {
	return &Cartridge{
		system: system,
		layout: layout,
		chip:   flash.NewChip(transport, 0),
		events: eventlog.NoopLogger{},
	}
}

// SetEvents attaches a trace event logger for this session's protocol
// activity (erase commands, erase polls, bulk transfer outcomes). deviceID
// tags the emitted events with the registry surrogate id.
func (c *Cartridge) SetEvents(events eventlog.Logger, deviceID string) {
	if events == nil {
		events = eventlog.NoopLogger{}
	}
	c.events = events
	c.deviceID = deviceID
}

func (c *Cartridge) logChipCommand(address uint32, detail string) {
	idx := uint8(c.chip.Index())
	c.events.Log(eventlog.Event{
		Timestamp: time.Now(),
		Category:  eventlog.CategoryChipCommand,
		DeviceID:  c.deviceID,
		ChipIndex: &idx,
		Address:   &address,
		Detail:    detail,
	})
}

func (c *Cartridge) logErasePoll(address uint32, status flash.EraseStatus) {
	idx := uint8(c.chip.Index())
	c.events.Log(eventlog.Event{
		Timestamp: time.Now(),
		Category:  eventlog.CategoryErasePoll,
		DeviceID:  c.deviceID,
		ChipIndex: &idx,
		Address:   &address,
		Detail:    status.String(),
	})
}

func (c *Cartridge) logBulkProgress(done, total int, detail string) {
	idx := uint8(c.chip.Index())
	c.events.Log(eventlog.Event{
		Timestamp: time.Now(),
		Category:  eventlog.CategoryBulkProgress,
		DeviceID:  c.deviceID,
		ChipIndex: &idx,
		Done:      done,
		Total:     total,
		Detail:    detail,
	})
}

// Chip exposes the underlying flash driver for direct protocol access.
func (c *Cartridge) Chip() *flash.Chip { return c.chip }

// Descriptor returns the probed descriptor, or nil before Init.
func (c *Cartridge) Descriptor() *Descriptor { return c.desc }

// Init probes chip identity and per-block protection and builds the
// cartridge descriptor. The chip is returned to read mode afterward.
func (c *Cartridge) Init() error {
	manufacturer, err := c.chip.ManufacturerID()
	if err != nil {
		return fmt.Errorf("cartridge: probe manufacturer: %w", err)
	}
	device, err := c.chip.DeviceID()
	if err != nil {
		return fmt.Errorf("cartridge: probe device: %w", err)
	}

	chipDesc := ChipDescriptor{
		Index:          c.chip.Index(),
		ManufacturerID: manufacturer,
		DeviceID:       device,
		Size:           c.layout.Size(),
	}
	saveFrom := len(c.layout.Blocks) - c.layout.SaveBlocks
	var base uint32
	for i, size := range c.layout.Blocks {
		protected, err := c.chip.BlockProtected(base)
		if err != nil {
			return fmt.Errorf("cartridge: probe protection at 0x%X: %w", base, err)
		}
		chipDesc.Blocks = append(chipDesc.Blocks, BlockDescriptor{
			Base:      base,
			Size:      size,
			Protected: protected,
			Save:      i >= saveFrom,
		})
		base += size
	}

	if err := c.chip.Reset(); err != nil {
		return fmt.Errorf("cartridge: reset after probe: %w", err)
	}

	c.desc = &Descriptor{
		System: c.system,
		Size:   chipDesc.Size,
		Chips:  []ChipDescriptor{chipDesc},
	}
	return nil
}

// blockSet selects which blocks a workflow touches.
type blockSet int

const (
	gameBlocks blockSet = iota
	saveBlocks
)

func (c *Cartridge) selectBlocks(set blockSet) ([]BlockDescriptor, error) {
	if c.desc == nil {
		return nil, ErrNotInitialized
	}
	var out []BlockDescriptor
	for _, b := range c.desc.Chips[0].Blocks {
		if (set == saveBlocks) == b.Save {
			out = append(out, b)
		}
	}
	return out, nil
}

// regionSize sums the selected blocks.
func regionSize(blocks []BlockDescriptor) int {
	total := 0
	for _, b := range blocks {
		total += int(b.Size)
	}
	return total
}

// offsetSink maps a block-local transfer onto region-global progress, so
// the caller sees one continuous count across block boundaries.
type offsetSink struct {
	inner flash.ProgressSink
	base  int
	total int
}

func (s *offsetSink) ReportProgress(done, _ int) {
	if s.inner != nil {
		s.inner.ReportProgress(s.base+done, s.total)
	}
}

func (s *offsetSink) Cancelled() bool {
	return s.inner != nil && s.inner.Cancelled()
}

// BackupGameData reads the game-data region into w. Returns the byte count
// actually written; a count short of the region size means the sink
// cancelled, which is not an error.
func (c *Cartridge) BackupGameData(w io.Writer, sink flash.ProgressSink) (int, error) {
	blocks, err := c.selectBlocks(gameBlocks)
	if err != nil {
		return 0, err
	}
	return c.backup(w, blocks, sink)
}

// BackupSaveData reads the save-data region into w.
func (c *Cartridge) BackupSaveData(w io.Writer, sink flash.ProgressSink) (int, error) {
	blocks, err := c.selectBlocks(saveBlocks)
	if err != nil {
		return 0, err
	}
	return c.backup(w, blocks, sink)
}

func (c *Cartridge) backup(w io.Writer, blocks []BlockDescriptor, sink flash.ProgressSink) (done int, err error) {
	total := regionSize(blocks)
	defer func() { c.logBulkProgress(done, total, "backup") }()
	for _, b := range blocks {
		buf := make([]byte, b.Size)
		n, err := c.chip.ReadBytes(b.Base, buf, &offsetSink{inner: sink, base: done, total: total})
		if err != nil {
			return done, err
		}
		if _, werr := w.Write(buf[:n]); werr != nil {
			return done, fmt.Errorf("cartridge: write backup: %w", werr)
		}
		done += n
		if n < len(buf) {
			// Cancelled mid-block.
			return done, nil
		}
	}
	return done, nil
}

// RestoreGameData erases the game-data region and programs the image read
// from r into it. Protected blocks are skipped. Returns the byte count
// actually programmed; short counts mean cancellation. The chip is reset
// to read mode afterward regardless of how far the restore got.
func (c *Cartridge) RestoreGameData(r io.Reader, sink flash.ProgressSink) (int, error) {
	blocks, err := c.selectBlocks(gameBlocks)
	if err != nil {
		return 0, err
	}
	return c.restore(r, blocks, sink)
}

// RestoreSaveData erases the save-data region and programs the image from r.
func (c *Cartridge) RestoreSaveData(r io.Reader, sink flash.ProgressSink) (int, error) {
	blocks, err := c.selectBlocks(saveBlocks)
	if err != nil {
		return 0, err
	}
	return c.restore(r, blocks, sink)
}

func (c *Cartridge) restore(r io.Reader, blocks []BlockDescriptor, sink flash.ProgressSink) (done int, err error) {
	total := regionSize(blocks)
	defer func() {
		c.logBulkProgress(done, total, "restore")
		if rerr := c.chip.Reset(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	for _, b := range blocks {
		image := make([]byte, b.Size)
		read, rerr := io.ReadFull(r, image)
		if rerr == io.EOF {
			return done, nil
		}
		if rerr != nil && rerr != io.ErrUnexpectedEOF {
			return done, fmt.Errorf("cartridge: read image: %w", rerr)
		}
		if b.Protected {
			done += read
			continue
		}
		if sink != nil && sink.Cancelled() {
			return done, nil
		}

		if err := c.eraseBlockAndWait(b.Base, sink); err != nil {
			return done, err
		}
		// Bypass programming halves the per-byte command traffic on chips
		// that support it; on others this is a no-op.
		if err := c.chip.UnlockBypass(); err != nil {
			return done, err
		}
		wrote, perr := c.chip.ProgramBytes(b.Base, image[:read],
			&offsetSink{inner: sink, base: done, total: total})
		done += wrote
		if perr != nil {
			return done, perr
		}
		if wrote < read {
			return done, nil
		}
		if read < int(b.Size) {
			// Image ended inside this block.
			return done, nil
		}
	}
	return done, nil
}

// eraseBlockAndWait starts a block erase and polls until the hardware
// reports completion, checking for cancellation between polls. A cancelled
// wait still polls through to completion: abandoning a chip mid-erase
// would leave it unusable for the caller's next operation.
func (c *Cartridge) eraseBlockAndWait(base uint32, sink flash.ProgressSink) error {
	if err := c.chip.EraseBlock(base); err != nil {
		return err
	}
	c.logChipCommand(base, "erase block")
	for {
		status, err := c.chip.PollErase()
		if err != nil {
			return err
		}
		c.logErasePoll(base, status)
		if status != flash.EraseStatusErasing {
			return nil
		}
	}
}

// VerifyGameData compares the game-data region against the image in r.
// Returns true when every byte matches. A cancelled verify returns false
// with a nil error and no claim about the unchecked remainder.
func (c *Cartridge) VerifyGameData(r io.Reader, sink flash.ProgressSink) (bool, error) {
	blocks, err := c.selectBlocks(gameBlocks)
	if err != nil {
		return false, err
	}
	return c.verify(r, blocks, sink)
}

// VerifySaveData compares the save-data region against the image in r.
func (c *Cartridge) VerifySaveData(r io.Reader, sink flash.ProgressSink) (bool, error) {
	blocks, err := c.selectBlocks(saveBlocks)
	if err != nil {
		return false, err
	}
	return c.verify(r, blocks, sink)
}

func (c *Cartridge) verify(r io.Reader, blocks []BlockDescriptor, sink flash.ProgressSink) (match bool, err error) {
	total := regionSize(blocks)
	done := 0
	defer func() { c.logBulkProgress(done, total, "verify") }()
	for _, b := range blocks {
		want := make([]byte, b.Size)
		read, rerr := io.ReadFull(r, want)
		if rerr == io.EOF {
			return true, nil
		}
		if rerr != nil && rerr != io.ErrUnexpectedEOF {
			return false, fmt.Errorf("cartridge: read image: %w", rerr)
		}
		have := make([]byte, read)
		n, err := c.chip.ReadBytes(b.Base, have, &offsetSink{inner: sink, base: done, total: total})
		if err != nil {
			return false, err
		}
		if n < read {
			return false, nil
		}
		if !bytes.Equal(have[:read], want[:read]) {
			return false, nil
		}
		done += read
		if read < int(b.Size) {
			return true, nil
		}
	}
	return true, nil
}
