//go:build !(linux && (amd64 || 386))

package superio

type portBus struct{}

// NewPortBus returns a Bus whose Acquire always fails with ErrUnsupported.
func NewPortBus() Bus {
	return portBus{}
}

func (portBus) Acquire(PortPair) error { return ErrUnsupported }
func (portBus) Release(PortPair) error { return nil }
func (portBus) Outb(uint16, uint8) error { return ErrUnsupported }
func (portBus) Inb(uint16) (uint8, error) { return 0, ErrUnsupported }
