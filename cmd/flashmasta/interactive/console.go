// Package interactive provides the interactive command-line interface for
// the flashmasta tool.
package interactive

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/retroflash/flashmasta-go/pkg/cartridge"
	"github.com/retroflash/flashmasta-go/pkg/devices"
	"github.com/retroflash/flashmasta-go/pkg/flash"
	eventlog "github.com/retroflash/flashmasta-go/pkg/log"
)

// claimTimeout bounds how long the claim command waits for a busy device.
const claimTimeout = 5 * time.Second

// Console handles interactive mode for flashmasta.
type Console struct {
	registry *devices.Registry
	events   eventlog.Logger
	rl       *readline.Instance
}

// New creates a new interactive console over the registry. Protocol events
// from cartridge sessions go to events; nil disables capture.
func New(registry *devices.Registry, events eventlog.Logger) (*Console, error) {
	if events == nil {
		events = eventlog.NoopLogger{}
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "flashmasta> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{registry: registry, events: events, rl: rl}, nil
}

// Stdout returns a writer that coordinates with the readline prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		fields := strings.Fields(input)
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()
		case "list", "ls":
			c.cmdList()
		case "info":
			c.withDevice(args, func(id devices.DeviceID) { c.cmdInfo(id) })
		case "claim":
			c.withDevice(args, func(id devices.DeviceID) { c.cmdClaim(ctx, id) })
		case "release":
			c.withDevice(args, func(id devices.DeviceID) { c.cmdRelease(id) })
		case "id":
			c.withDevice(args, func(id devices.DeviceID) { c.cmdChipID(id) })
		case "erase":
			c.withDevice(args, func(id devices.DeviceID) { c.cmdErase(ctx, id) })
		case "backup":
			c.withDeviceFile(args, func(id devices.DeviceID, path string) { c.cmdBackup(ctx, id, path, args) })
		case "restore":
			c.withDeviceFile(args, func(id devices.DeviceID, path string) { c.cmdRestore(ctx, id, path, args) })
		case "verify":
			c.withDeviceFile(args, func(id devices.DeviceID, path string) { c.cmdVerify(ctx, id, path, args) })
		case "exit", "quit":
			cancel()
			return
		default:
			fmt.Fprintf(c.rl.Stdout(), "unknown command %q; try help\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	out := c.rl.Stdout()
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  list                          show connected programmers")
	fmt.Fprintln(out, "  info <id>                     show device details")
	fmt.Fprintln(out, "  claim <id>                    take exclusive access (waits up to 5s)")
	fmt.Fprintln(out, "  release <id>                  give exclusive access back")
	fmt.Fprintln(out, "  id <id>                       read chip manufacturer/device ids")
	fmt.Fprintln(out, "  erase <id>                    erase the whole chip")
	fmt.Fprintln(out, "  backup <id> <file> [save]     dump cartridge data to file")
	fmt.Fprintln(out, "  restore <id> <file> [save]    flash file to cartridge")
	fmt.Fprintln(out, "  verify <id> <file> [save]     compare cartridge against file")
	fmt.Fprintln(out, "  exit")
	fmt.Fprintln(out, "Device ids may be abbreviated to any unique prefix.")
}

// resolve expands a unique id prefix to a full DeviceID.
func (c *Console) resolve(prefix string) (devices.DeviceID, bool) {
	var match devices.DeviceID
	count := 0
	for _, id := range c.registry.DeviceIDs() {
		if strings.HasPrefix(string(id), prefix) {
			match = id
			count++
		}
	}
	switch count {
	case 1:
		return match, true
	case 0:
		fmt.Fprintf(c.rl.Stdout(), "no device matches %q\n", prefix)
	default:
		fmt.Fprintf(c.rl.Stdout(), "%q is ambiguous (%d matches)\n", prefix, count)
	}
	return "", false
}

func (c *Console) withDevice(args []string, fn func(devices.DeviceID)) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "usage: <command> <id>")
		return
	}
	if id, ok := c.resolve(args[0]); ok {
		fn(id)
	}
}

func (c *Console) withDeviceFile(args []string, fn func(devices.DeviceID, string)) {
	if len(args) < 2 {
		fmt.Fprintln(c.rl.Stdout(), "usage: <command> <id> <file>")
		return
	}
	if id, ok := c.resolve(args[0]); ok {
		fn(id, args[1])
	}
}

func (c *Console) cmdList() {
	out := c.rl.Stdout()
	ids := c.registry.DeviceIDs()
	if len(ids) == 0 {
		fmt.Fprintln(out, "no programmers connected")
		return
	}
	for _, id := range ids {
		info, err := c.registry.Info(id)
		if err != nil {
			// Raced with disconnection; skip.
			continue
		}
		state := ""
		if info.Claimed {
			state = " [claimed]"
		}
		fmt.Fprintf(out, "  %.8s  %-14s %s%s\n", string(info.ID), info.System, info.Product, state)
	}
}

func (c *Console) cmdInfo(id devices.DeviceID) {
	out := c.rl.Stdout()
	info, err := c.registry.Info(id)
	if err != nil {
		fmt.Fprintln(out, "error:", err)
		return
	}
	fmt.Fprintf(out, "id:           %s\n", string(info.ID))
	fmt.Fprintf(out, "vendor:       0x%04X\n", uint16(info.VendorID))
	fmt.Fprintf(out, "product:      0x%04X (%s)\n", uint16(info.ProductID), info.System)
	fmt.Fprintf(out, "manufacturer: %s\n", info.Manufacturer)
	fmt.Fprintf(out, "product str:  %s\n", info.Product)
	fmt.Fprintf(out, "serial:       %s\n", info.SerialNumber)
	fmt.Fprintf(out, "claimed:      %v\n", info.Claimed)
}

func (c *Console) cmdClaim(ctx context.Context, id devices.DeviceID) {
	waitCtx, cancel := context.WithTimeout(ctx, claimTimeout)
	defer cancel()
	if err := c.registry.Claim(waitCtx, id); err != nil {
		fmt.Fprintln(c.rl.Stdout(), "claim failed:", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "claimed %.8s\n", string(id))
}

func (c *Console) cmdRelease(id devices.DeviceID) {
	if err := c.registry.Release(id); err != nil {
		fmt.Fprintln(c.rl.Stdout(), "release failed:", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "released %.8s\n", string(id))
}

// session prepares a cartridge session on a device the user has claimed.
func (c *Console) session(id devices.DeviceID) (*cartridge.Cartridge, bool) {
	out := c.rl.Stdout()
	claimed, err := c.registry.Claimed(id)
	if err != nil {
		fmt.Fprintln(out, "error:", err)
		return nil, false
	}
	if !claimed {
		fmt.Fprintln(out, "claim the device first")
		return nil, false
	}
	transport, err := c.registry.Transport(id)
	if err != nil {
		fmt.Fprintln(out, "error:", err)
		return nil, false
	}
	info, err := c.registry.Info(id)
	if err != nil {
		fmt.Fprintln(out, "error:", err)
		return nil, false
	}
	size, err := cartridge.DetectChipSize(transport)
	if err != nil {
		fmt.Fprintln(out, "chip probe failed:", err)
		return nil, false
	}
	cart := cartridge.New(transport, info.System,
		cartridge.LayoutForSystem(info.System, size))
	cart.SetEvents(c.events, string(id))
	if err := cart.Init(); err != nil {
		fmt.Fprintln(out, "cartridge init failed:", err)
		return nil, false
	}
	return cart, true
}

func (c *Console) cmdChipID(id devices.DeviceID) {
	out := c.rl.Stdout()
	cart, ok := c.session(id)
	if !ok {
		return
	}
	chip := cart.Descriptor().Chips[0]
	fmt.Fprintf(out, "manufacturer id: 0x%02X\n", chip.ManufacturerID)
	fmt.Fprintf(out, "device id:       0x%02X\n", chip.DeviceID)
	for _, b := range chip.Blocks {
		tag := ""
		if b.Protected {
			tag = " protected"
		}
		if b.Save {
			tag += " save"
		}
		fmt.Fprintf(out, "block 0x%05X +0x%05X%s\n", b.Base, b.Size, tag)
	}
}

func (c *Console) cmdErase(ctx context.Context, id devices.DeviceID) {
	out := c.rl.Stdout()
	cart, ok := c.session(id)
	if !ok {
		return
	}
	chip := cart.Chip()
	if err := chip.EraseChip(); err != nil {
		fmt.Fprintln(out, "erase failed:", err)
		return
	}
	c.logChipEvent(eventlog.CategoryChipCommand, id, chip.Index(), "erase chip")
	for {
		status, err := chip.PollErase()
		if err != nil {
			fmt.Fprintln(out, "erase poll failed:", err)
			return
		}
		c.logChipEvent(eventlog.CategoryErasePoll, id, chip.Index(), status.String())
		if status != flash.EraseStatusErasing {
			break
		}
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "interrupted; chip may still be erasing")
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	fmt.Fprintln(out, "erase complete")
}

func (c *Console) logChipEvent(category eventlog.Category, id devices.DeviceID, chipIndex uint, detail string) {
	idx := uint8(chipIndex)
	c.events.Log(eventlog.Event{
		Timestamp: time.Now(),
		Category:  category,
		DeviceID:  string(id),
		ChipIndex: &idx,
		Detail:    detail,
	})
}

// wantSave reports whether the trailing argument selects the save region.
func wantSave(args []string) bool {
	return len(args) > 2 && args[len(args)-1] == "save"
}

func (c *Console) cmdBackup(ctx context.Context, id devices.DeviceID, path string, args []string) {
	out := c.rl.Stdout()
	cart, ok := c.session(id)
	if !ok {
		return
	}
	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintln(out, "error:", err)
		return
	}
	defer f.Close()

	sink := newConsoleSink(ctx, out, "backup")
	var n int
	if wantSave(args) {
		n, err = cart.BackupSaveData(f, sink)
	} else {
		n, err = cart.BackupGameData(f, sink)
	}
	sink.finish()
	if err != nil {
		fmt.Fprintln(out, "backup failed:", err)
		return
	}
	fmt.Fprintf(out, "backed up %d bytes to %s\n", n, path)
}

func (c *Console) cmdRestore(ctx context.Context, id devices.DeviceID, path string, args []string) {
	out := c.rl.Stdout()
	cart, ok := c.session(id)
	if !ok {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintln(out, "error:", err)
		return
	}
	defer f.Close()

	sink := newConsoleSink(ctx, out, "restore")
	var n int
	if wantSave(args) {
		n, err = cart.RestoreSaveData(f, sink)
	} else {
		n, err = cart.RestoreGameData(f, sink)
	}
	sink.finish()
	if err != nil {
		fmt.Fprintln(out, "restore failed:", err)
		return
	}
	fmt.Fprintf(out, "programmed %d bytes from %s\n", n, path)
}

func (c *Console) cmdVerify(ctx context.Context, id devices.DeviceID, path string, args []string) {
	out := c.rl.Stdout()
	cart, ok := c.session(id)
	if !ok {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintln(out, "error:", err)
		return
	}
	defer f.Close()

	sink := newConsoleSink(ctx, out, "verify")
	var match bool
	if wantSave(args) {
		match, err = cart.VerifySaveData(f, sink)
	} else {
		match, err = cart.VerifyGameData(f, sink)
	}
	sink.finish()
	if err != nil {
		fmt.Fprintln(out, "verify failed:", err)
		return
	}
	if match {
		fmt.Fprintln(out, "verify OK")
	} else {
		fmt.Fprintln(out, "verify FAILED: contents differ")
	}
}

// consoleSink prints coarse progress and maps Ctrl+C (context cancellation)
// onto cooperative cancellation of the running transfer.
type consoleSink struct {
	ctx      context.Context
	out      io.Writer
	label    string
	lastDeci int
}

func newConsoleSink(ctx context.Context, out io.Writer, label string) *consoleSink {
	return &consoleSink{ctx: ctx, out: out, label: label, lastDeci: -1}
}

func (s *consoleSink) ReportProgress(done, total int) {
	if total == 0 {
		return
	}
	deci := done * 10 / total
	if deci != s.lastDeci {
		s.lastDeci = deci
		fmt.Fprintf(s.out, "\r%s: %d%%", s.label, deci*10)
	}
}

func (s *consoleSink) Cancelled() bool {
	return s.ctx.Err() != nil
}

func (s *consoleSink) finish() {
	if s.lastDeci >= 0 {
		fmt.Fprintln(s.out)
	}
}

var _ flash.ProgressSink = (*consoleSink)(nil)
