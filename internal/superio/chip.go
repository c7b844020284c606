package superio

import "fmt"

// ChipIdentity is the 16-bit device ID read from CR 0x20 (high) and CR 0x21 (low).
type ChipIdentity uint16

// chipIDMask drops the revision bits Nuvoton keeps in the low nibble.
const chipIDMask = 0xFFF8

// NCT6798D is the chip this tool is built around.
const NCT6798D ChipIdentity = 0xD428

// knownChips maps masked IDs to part names, as listed by the Linux nct6775 driver.
var knownChips = map[ChipIdentity]string{
	0xC450: "NCT6106D",
	0xD280: "NCT6116D",
	0xB470: "NCT6775F",
	0xC330: "NCT6776F",
	0xC560: "NCT6779D",
	0xC800: "NCT6791D",
	0xC910: "NCT6792D",
	0xD120: "NCT6793D",
	0xD350: "NCT6795D",
	0xD420: "NCT6796D",
	0xD450: "NCT6797D",
	0xD428: "NCT6798D",
	0xD800: "NCT6799D",
}

// Responding reports whether the ID looks like a chip answered. A floating
// ISA bus reads back as all ones.
func (c ChipIdentity) Responding() bool {
	return c != 0xFFFF
}

// Matches compares two identities ignoring revision bits. A zero expected
// value matches anything.
func (c ChipIdentity) Matches(expected ChipIdentity) bool {
	if expected == 0 {
		return true
	}
	return c&chipIDMask == expected&chipIDMask
}

// Name returns the part name, or "unknown".
func (c ChipIdentity) Name() string {
	if name, ok := knownChips[c&chipIDMask]; ok {
		return name
	}
	return "unknown"
}

func (c ChipIdentity) String() string {
	return fmt.Sprintf("0x%04X", uint16(c))
}

// HWMBase is the I/O base of the Hardware Monitor register block.
type HWMBase uint16

// IndexPort is the HWM bank index port, base+5.
func (b HWMBase) IndexPort() uint16 { return uint16(b) + 5 }

// DataPort is the HWM bank data port, base+6.
func (b HWMBase) DataPort() uint16 { return uint16(b) + 6 }

func (b HWMBase) String() string {
	return fmt.Sprintf("0x%04X", uint16(b))
}
