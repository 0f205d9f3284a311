// Package usb defines the contracts between the device registry and the
// underlying USB bus.
//
// The package deliberately contains no bus implementation. A production
// build supplies a libusb-backed Bus; tests and the -sim CLI mode use the
// simulator in the usbmock subpackage. Everything above this package
// (registry, flash protocol, cartridge workflows) is written purely against
// these interfaces.
//
// # Layering
//
//	┌────────────────────────────────┐
//	│  pkg/cartridge  (workflows)    │
//	├────────────────────────────────┤
//	│  pkg/flash      (chip driver)  │
//	├────────────────────────────────┤
//	│  pkg/devices    (registry)     │
//	├────────────────────────────────┤
//	│  pkg/usb        (this package) │
//	├────────────────────────────────┤
//	│  libusb / usbmock              │
//	└────────────────────────────────┘
//
// # Supported hardware
//
// Only three programmer models are in scope, identified by their USB
// vendor/product pair:
//   - 0x20A0:0x4178 — Neo Geo Pocket Linkmasta
//   - 0x20A0:0x4256 — Neo Geo Pocket Flashmasta
//   - 0x20A0:0x4252 — WonderSwan Flashmasta
//
// Any other device on the bus is ignored entirely: never registered and
// never surfaced as an error.
package usb
