// Package cartridge builds cartridge descriptors and runs the backup,
// restore, and verify workflows on top of the flash driver.
//
// A Cartridge is bound to one claimed device transport. Init probes the
// chip identity and walks the block layout, recording per-block protection;
// the resulting Descriptor tells the workflows where erase boundaries lie
// and which blocks hold save data.
//
// Restore is the destructive path: it erases every affected block (polling
// each erase to completion), programs through the bypass fast path when the
// chip supports it, and resets the chip back to read mode afterward.
// Backup and verify are plain sequential reads. All three cooperate with a
// flash.ProgressSink; a cancelled operation stops at a block boundary or
// byte checkpoint and reports how far it got.
package cartridge
