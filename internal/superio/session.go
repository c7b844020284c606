package superio

import (
	"errors"
	"fmt"
)

// Bus performs byte-wide port I/O. NewPortBus returns the real one; tests
// provide fakes.
type Bus interface {
	// Acquire asks the OS for access to both ports of the pair.
	Acquire(pair PortPair) error
	// Release gives the access back.
	Release(pair PortPair) error
	Outb(port uint16, v uint8) error
	Inb(port uint16) (uint8, error)
}

// Session is the right to drive one port pair. It is only created by Acquire
// and every register operation hangs off it.
type Session struct {
	bus  Bus
	pair PortPair

	entered bool
	exited  bool
	closed  bool

	// Last logical device written to RegLogicalDevice in this session.
	device   uint8
	selected bool
}

// Acquire requests raw access to pair. A failure leaves nothing to unlock.
func Acquire(bus Bus, pair PortPair) (*Session, error) {
	if err := bus.Acquire(pair); err != nil {
		return nil, fmt.Errorf("acquire %s: %w", pair, err)
	}
	return &Session{bus: bus, pair: pair}, nil
}

// Pair returns the port pair the session drives.
func (s *Session) Pair() PortPair {
	return s.pair
}

// Enter unlocks extended function mode by writing EnterKey twice.
func (s *Session) Enter() error {
	if s.exited {
		return fmt.Errorf("enter %s: session already exited", s.pair)
	}
	for i := 0; i < 2; i++ {
		if err := s.bus.Outb(s.pair.Index, EnterKey); err != nil {
			return fmt.Errorf("enter %s: %w", s.pair, err)
		}
	}
	s.entered = true
	return nil
}

// Exit locks the chip again. The key is written at most once per session,
// whether or not Enter completed.
func (s *Session) Exit() error {
	if s.exited {
		return nil
	}
	s.exited = true
	s.entered = false
	s.selected = false
	if err := s.bus.Outb(s.pair.Index, ExitKey); err != nil {
		return fmt.Errorf("exit %s: %w", s.pair, err)
	}
	return nil
}

// Close exits extended function mode if needed and releases the ports.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	exitErr := s.Exit()
	if err := s.bus.Release(s.pair); err != nil {
		return errors.Join(exitErr, fmt.Errorf("release %s: %w", s.pair, err))
	}
	return exitErr
}

func (s *Session) ready(reg uint8) error {
	if !s.entered {
		return fmt.Errorf("CR 0x%02X on %s: %w", reg, s.pair, ErrNotEntered)
	}
	return nil
}

// ReadConfig selects reg on the index port and reads it from the data port.
func (s *Session) ReadConfig(reg uint8) (uint8, error) {
	if err := s.ready(reg); err != nil {
		return 0, err
	}
	if err := s.bus.Outb(s.pair.Index, reg); err != nil {
		return 0, fmt.Errorf("select CR 0x%02X: %w", reg, err)
	}
	v, err := s.bus.Inb(s.pair.Data)
	if err != nil {
		return 0, fmt.Errorf("read CR 0x%02X: %w", reg, err)
	}
	return v, nil
}

// WriteConfig selects reg on the index port and writes v to the data port.
func (s *Session) WriteConfig(reg, v uint8) error {
	if err := s.ready(reg); err != nil {
		return err
	}
	if err := s.bus.Outb(s.pair.Index, reg); err != nil {
		return fmt.Errorf("select CR 0x%02X: %w", reg, err)
	}
	if err := s.bus.Outb(s.pair.Data, v); err != nil {
		return fmt.Errorf("write CR 0x%02X: %w", reg, err)
	}
	if reg == RegLogicalDevice {
		s.device = v
		s.selected = true
	}
	return nil
}

func (s *Session) readWord(hi, lo uint8) (uint16, error) {
	h, err := s.ReadConfig(hi)
	if err != nil {
		return 0, err
	}
	l, err := s.ReadConfig(lo)
	if err != nil {
		return 0, err
	}
	return uint16(h)<<8 | uint16(l), nil
}

// ChipIdentity reads CR 0x20 then CR 0x21.
func (s *Session) ChipIdentity() (ChipIdentity, error) {
	id, err := s.readWord(RegChipIDHigh, RegChipIDLow)
	return ChipIdentity(id), err
}

// SelectLogicalDevice points the device-relative registers at device.
func (s *Session) SelectLogicalDevice(device uint8) error {
	return s.WriteConfig(RegLogicalDevice, device)
}

// BaseAddress reads CR 0x60/0x61 of the logical device selected earlier in
// the same session.
func (s *Session) BaseAddress() (uint16, error) {
	if !s.selected {
		return 0, fmt.Errorf("base address on %s: %w", s.pair, ErrDeviceNotSelected)
	}
	return s.readWord(RegBaseHigh, RegBaseLow)
}

// HWMBaseAddress is BaseAddress for the Hardware Monitor device. Any other
// selection fails with ErrDeviceNotSelected.
func (s *Session) HWMBaseAddress() (HWMBase, error) {
	if !s.selected || s.device != LDNHardwareMonitor {
		return 0, fmt.Errorf("HWM base on %s: %w", s.pair, ErrDeviceNotSelected)
	}
	base, err := s.BaseAddress()
	return HWMBase(base), err
}

// Run acquires pair, enters extended function mode and calls fn. The chip is
// always locked again and the ports released before Run returns, on every
// path that got past Acquire.
func Run(bus Bus, pair PortPair, fn func(*Session) error) (err error) {
	s, err := Acquire(bus, pair)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	if err := s.Enter(); err != nil {
		return err
	}
	return fn(s)
}
