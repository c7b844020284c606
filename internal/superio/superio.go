// Package superio talks to a Nuvoton Super I/O chip through its index/data
// port pair.
//
// The chip exposes its configuration registers (CRs) behind two consecutive
// ISA I/O ports. Writing a register number to the index port selects which
// register the next data port access reaches. The registers are only visible
// while the chip is in "extended function mode", which is unlocked by writing
// 0x87 twice to the index port and locked again by writing 0xAA.
//
// The ports are a machine-wide resource. Nothing at the OS level stops another
// program (or the kernel's nct6775 driver) from touching them at the same time,
// so callers must hold a PortLock around a whole enter/read/exit sequence and
// should not run a probe while the kernel driver is active.
package superio

import (
	"errors"
	"fmt"
)

// Extended function mode keys, written to the index port.
const (
	EnterKey = 0x87
	ExitKey  = 0xAA
)

// Global configuration registers.
const (
	RegLogicalDevice = 0x07 // logical device select
	RegChipIDHigh    = 0x20
	RegChipIDLow     = 0x21
)

// Per-device configuration registers, valid after RegLogicalDevice is set.
const (
	RegBaseHigh = 0x60
	RegBaseLow  = 0x61
)

// LDNHardwareMonitor is the logical device number of the Hardware Monitor block.
const LDNHardwareMonitor = 0x0B

var (
	// ErrPermissionDenied means the OS refused raw access to the port range,
	// either for lack of privilege or because firmware owns it.
	ErrPermissionDenied = errors.New("port access denied")

	// ErrNoDevice means the ports answered with the all-ones pattern of an
	// empty bus.
	ErrNoDevice = errors.New("no device responding")

	// ErrUnexpectedChip means a chip answered but it is not the one asked for.
	ErrUnexpectedChip = errors.New("unexpected chip identity")

	// ErrNotEntered is returned by register operations issued outside
	// extended function mode.
	ErrNotEntered = errors.New("not in extended function mode")

	// ErrDeviceNotSelected is returned when a device-relative register is read
	// before the matching logical device was selected in this session.
	ErrDeviceNotSelected = errors.New("logical device not selected")

	// ErrUnsupported is returned on platforms without ISA port I/O.
	ErrUnsupported = errors.New("port I/O not supported on this platform")

	// ErrLockUnavailable means the port lock file could not be opened or
	// locked.
	ErrLockUnavailable = errors.New("port lock unavailable")

	// ErrNoChipFound is returned by Report.Err when no candidate answered.
	ErrNoChipFound = errors.New("no supported Super I/O chip found")
)

// PortPair is an index port and the data port right after it.
type PortPair struct {
	Index uint16
	Data  uint16
}

// NewPortPair returns the pair whose index port is index.
func NewPortPair(index uint16) PortPair {
	return PortPair{Index: index, Data: index + 1}
}

func (p PortPair) String() string {
	return fmt.Sprintf("0x%02X/0x%02X", p.Index, p.Data)
}

// Candidates are the two index ports Nuvoton boards strap the chip to, in
// probe order. There is no discovery beyond this list.
var Candidates = []PortPair{
	NewPortPair(0x2E),
	NewPortPair(0x4E),
}
