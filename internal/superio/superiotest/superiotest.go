// Package superiotest provides a fake superio.Bus for tests outside the
// superio package.
package superiotest

import (
	"fmt"
	"sync"

	"github.com/junevm/nctfancontrol/internal/superio"
)

// Chip is a Nuvoton Super I/O strapped to one index port.
type Chip struct {
	ID uint16

	// Bases maps a logical device number to its CR 0x60/0x61 value.
	Bases map[uint8]uint16

	keys  int
	index uint8
	ldn   uint8

	// Exits counts ExitKey writes.
	Exits int
}

// Locked reports whether the chip is out of extended function mode.
func (c *Chip) Locked() bool { return c.keys < 2 }

// Selected returns the last logical device written to CR 0x07.
func (c *Chip) Selected() uint8 { return c.ldn }

// Board routes port I/O to its chips. Ports without a chip read 0xFF.
type Board struct {
	mu     sync.Mutex
	chips  map[uint16]*Chip
	denied map[uint16]bool
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{
		chips:  make(map[uint16]*Chip),
		denied: make(map[uint16]bool),
	}
}

// Add puts a chip at index whose HWM device has base address hwm.
func (b *Board) Add(index, id, hwm uint16) *Chip {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := &Chip{ID: id, Bases: map[uint8]uint16{superio.LDNHardwareMonitor: hwm}}
	b.chips[index] = c
	return c
}

// Deny makes Acquire fail with ErrPermissionDenied for index.
func (b *Board) Deny(index uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.denied[index] = true
}

func (b *Board) Acquire(pair superio.PortPair) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.denied[pair.Index] {
		return fmt.Errorf("%w: %s", superio.ErrPermissionDenied, pair)
	}
	return nil
}

func (b *Board) Release(superio.PortPair) error { return nil }

func (b *Board) Outb(port uint16, v uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.chips[port]; ok {
		switch {
		case v == superio.ExitKey:
			c.keys = 0
			c.Exits++
		case c.keys < 2 && v == superio.EnterKey:
			c.keys++
		case c.keys < 2:
			c.keys = 0
		default:
			c.index = v
		}
		return nil
	}
	if c, ok := b.chips[port-1]; ok && !c.Locked() && c.index == superio.RegLogicalDevice {
		c.ldn = v
	}
	return nil
}

func (b *Board) Inb(port uint16) (uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.chips[port-1]
	if !ok || c.Locked() {
		return 0xFF, nil
	}
	switch c.index {
	case superio.RegChipIDHigh:
		return uint8(c.ID >> 8), nil
	case superio.RegChipIDLow:
		return uint8(c.ID), nil
	case superio.RegBaseHigh:
		return uint8(c.Bases[c.ldn] >> 8), nil
	case superio.RegBaseLow:
		return uint8(c.Bases[c.ldn]), nil
	}
	return 0x00, nil
}
