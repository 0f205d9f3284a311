package cartridge

import (
	"fmt"

	"github.com/retroflash/flashmasta-go/pkg/flash"
	"github.com/retroflash/flashmasta-go/pkg/usb"
)

// BlockDescriptor describes one erase block of a chip.
type BlockDescriptor struct {
	// Base is the block's base address, the only valid erase target for it.
	Base uint32

	// Size in bytes. Erasing sets every bit in the block to one.
	Size uint32

	// Protected blocks refuse erase and program operations.
	Protected bool

	// Save marks blocks belonging to the cartridge's save-data region.
	Save bool
}

// ChipDescriptor describes one flash chip on the cartridge.
type ChipDescriptor struct {
	Index          uint
	ManufacturerID byte
	DeviceID       byte
	Size           uint32
	Blocks         []BlockDescriptor
}

// Descriptor describes a whole cartridge.
type Descriptor struct {
	System usb.System
	Size   uint32
	Chips  []ChipDescriptor
}

// Layout is an erase-block plan: block sizes in address order, with the
// trailing SaveBlocks marked as the save-data region.
type Layout struct {
	Blocks     []uint32
	SaveBlocks int
}

// Size returns the total size the layout covers.
func (l Layout) Size() uint32 {
	var total uint32
	for _, b := range l.Blocks {
		total += b
	}
	return total
}

// NGPLayout returns the block plan of a Neo Geo Pocket cartridge chip:
// 64 KiB blocks with the final 64 KiB split 32K/8K/8K/16K, the split tail
// holding save data. Sizes below 64 KiB get a uniform fallback so small
// simulated chips still carry a valid plan.
func NGPLayout(chipSize uint32) Layout {
	const block = 0x10000
	if chipSize < block {
		return UniformLayout(chipSize, chipSize/2)
	}
	var blocks []uint32
	for remaining := chipSize; remaining > block; remaining -= block {
		blocks = append(blocks, block)
	}
	blocks = append(blocks, 0x8000, 0x2000, 0x2000, 0x4000)
	return Layout{Blocks: blocks, SaveBlocks: 4}
}

// WSLayout returns the block plan of a WonderSwan cartridge chip: uniform
// 64 KiB blocks, the last one holding save data.
func WSLayout(chipSize uint32) Layout {
	const block = 0x10000
	if chipSize < block {
		return UniformLayout(chipSize, chipSize/2)
	}
	var blocks []uint32
	for remaining := chipSize; remaining > 0; remaining -= block {
		blocks = append(blocks, block)
	}
	return Layout{Blocks: blocks, SaveBlocks: 1}
}

// UniformLayout returns chipSize/blockSize equal blocks with the last one
// marked as save data. Intended for tests against small simulated chips.
func UniformLayout(chipSize, blockSize uint32) Layout {
	var blocks []uint32
	for remaining := chipSize; remaining > 0; remaining -= blockSize {
		blocks = append(blocks, blockSize)
	}
	return Layout{Blocks: blocks, SaveBlocks: 1}
}

// chipCapacities maps probed device ids to chip capacity in bytes. Only the
// bypass-capable Flashmasta cartridge chip family is known so far.
var chipCapacities = map[byte]uint32{
	0x2F: 0x20000,
}

// DetectChipSize probes the chip behind the transport and returns its
// capacity from the device id. The chip is reset back to read mode after
// the probe. Unknown ids fail rather than guess: a wrong capacity would
// mis-map every erase block on the cartridge.
func DetectChipSize(transport usb.Transport) (uint32, error) {
	chip := flash.NewChip(transport, 0)
	id, err := chip.DeviceID()
	if err != nil {
		return 0, fmt.Errorf("cartridge: probe device id: %w", err)
	}
	if err := chip.Reset(); err != nil {
		return 0, err
	}
	size, ok := chipCapacities[id]
	if !ok {
		return 0, fmt.Errorf("cartridge: unrecognized chip device id 0x%02X", id)
	}
	return size, nil
}

// LayoutForSystem picks the standard layout for a cartridge system.
func LayoutForSystem(system usb.System, chipSize uint32) Layout {
	if system == usb.SystemWonderSwan {
		return WSLayout(chipSize)
	}
	return NGPLayout(chipSize)
}
