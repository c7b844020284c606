package superio

import (
	"errors"
	"fmt"
	"testing"
)

// fakeChip models a Nuvoton Super I/O behind one port pair.
type fakeChip struct {
	t    *testing.T
	pair PortPair
	id   uint16
	base uint16

	// bases holds the base address of logical devices other than the HWM.
	bases map[uint8]uint16

	// failReg makes data port reads of that register fail.
	failReg uint8
	failOn  bool

	keys     int
	unlocked bool
	index    uint8
	ldn      uint8
	ldnSet   bool

	enters, exits int
}

func (c *fakeChip) out(port uint16, v uint8) {
	switch port {
	case c.pair.Index:
		if v == ExitKey {
			c.exits++
			c.unlocked, c.keys, c.ldnSet = false, 0, false
			return
		}
		if !c.unlocked {
			if v == EnterKey {
				c.keys++
				if c.keys == 2 {
					c.unlocked = true
					c.enters++
				}
			} else {
				c.keys = 0
			}
			return
		}
		c.index = v
	case c.pair.Data:
		if !c.unlocked {
			c.t.Errorf("data write 0x%02X to %s while locked", v, c.pair)
			return
		}
		if c.index == RegLogicalDevice {
			c.ldn, c.ldnSet = v, true
		}
	}
}

func (c *fakeChip) in(port uint16) (uint8, error) {
	if port != c.pair.Data || !c.unlocked {
		return 0xFF, nil
	}
	if c.failOn && c.index == c.failReg {
		return 0, fmt.Errorf("injected read failure on CR 0x%02X", c.index)
	}
	switch c.index {
	case RegChipIDHigh:
		return uint8(c.id >> 8), nil
	case RegChipIDLow:
		return uint8(c.id), nil
	case RegBaseHigh, RegBaseLow:
		if !c.ldnSet {
			c.t.Errorf("CR 0x%02X read on %s without selecting a logical device", c.index, c.pair)
			return 0xFF, nil
		}
		base := c.bases[c.ldn]
		if c.ldn == LDNHardwareMonitor {
			base = c.base
		}
		if c.index == RegBaseHigh {
			return uint8(base >> 8), nil
		}
		return uint8(base), nil
	}
	return 0x00, nil
}

// fakeBoard routes port I/O to the chips it carries. Ports without a chip
// float high.
type fakeBoard struct {
	t        *testing.T
	chips    map[uint16]*fakeChip
	denied   map[uint16]bool
	acquired map[uint16]int
	released map[uint16]int
}

func newFakeBoard(t *testing.T) *fakeBoard {
	return &fakeBoard{
		t:        t,
		chips:    make(map[uint16]*fakeChip),
		denied:   make(map[uint16]bool),
		acquired: make(map[uint16]int),
		released: make(map[uint16]int),
	}
}

func (b *fakeBoard) addChip(index uint16, id, base uint16) *fakeChip {
	c := &fakeChip{t: b.t, pair: NewPortPair(index), id: id, base: base}
	b.chips[index] = c
	return c
}

func (b *fakeBoard) Acquire(pair PortPair) error {
	if b.denied[pair.Index] {
		return fmt.Errorf("%w: %s: ioperm: operation not permitted", ErrPermissionDenied, pair)
	}
	b.acquired[pair.Index]++
	return nil
}

func (b *fakeBoard) Release(pair PortPair) error {
	b.released[pair.Index]++
	return nil
}

func (b *fakeBoard) chipFor(port uint16) *fakeChip {
	for _, c := range b.chips {
		if c.pair.Index == port || c.pair.Data == port {
			return c
		}
	}
	return nil
}

func (b *fakeBoard) held(port uint16) bool {
	for idx, n := range b.acquired {
		if n > b.released[idx] && (port == idx || port == idx+1) {
			return true
		}
	}
	return false
}

func (b *fakeBoard) Outb(port uint16, v uint8) error {
	if !b.held(port) {
		b.t.Errorf("write to port 0x%02X without access", port)
	}
	if c := b.chipFor(port); c != nil {
		c.out(port, v)
	}
	return nil
}

func (b *fakeBoard) Inb(port uint16) (uint8, error) {
	if !b.held(port) {
		b.t.Errorf("read from port 0x%02X without access", port)
	}
	if c := b.chipFor(port); c != nil {
		return c.in(port)
	}
	return 0xFF, nil
}

// op is one expected port access, in the style of a scripted register fake.
type op struct {
	write bool
	port  uint16
	data  uint8
}

func (o op) String() string {
	dir := "in"
	if o.write {
		dir = "out"
	}
	return fmt.Sprintf("{%s 0x%02X = 0x%02X}", dir, o.port, o.data)
}

// scriptBus fails the test on any access that differs from ops.
type scriptBus struct {
	t   *testing.T
	ops []op
}

func (s *scriptBus) next(got op) op {
	s.t.Helper()
	if len(s.ops) == 0 {
		s.t.Fatalf("unexpected %s after end of script", got)
	}
	o := s.ops[0]
	s.ops = s.ops[1:]
	return o
}

func (s *scriptBus) Acquire(PortPair) error { return nil }
func (s *scriptBus) Release(PortPair) error { return nil }

func (s *scriptBus) Outb(port uint16, v uint8) error {
	got := op{write: true, port: port, data: v}
	if want := s.next(got); want != got {
		s.t.Errorf("expected %s, got %s", want, got)
	}
	return nil
}

func (s *scriptBus) Inb(port uint16) (uint8, error) {
	got := op{port: port}
	want := s.next(got)
	if want.write || want.port != port {
		s.t.Errorf("expected %s, got 8 bit read on 0x%02X", want, port)
	}
	return want.data, nil
}

func (s *scriptBus) done() {
	s.t.Helper()
	if len(s.ops) != 0 {
		s.t.Errorf("%d scripted accesses never happened, first %s", len(s.ops), s.ops[0])
	}
}

var errBus = errors.New("bus exploded")

// brokenBus accepts the acquire and then fails every access.
type brokenBus struct{ outs int }

func (b *brokenBus) Acquire(PortPair) error { return nil }
func (b *brokenBus) Release(PortPair) error { return nil }
func (b *brokenBus) Outb(uint16, uint8) error {
	b.outs++
	return errBus
}
func (b *brokenBus) Inb(uint16) (uint8, error) { return 0, errBus }
