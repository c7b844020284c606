//go:build linux && (amd64 || 386)

package superio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/u-root/u-root/pkg/memio"
)

// DevPort is the character device memio uses for port I/O.
const DevPort = "/dev/port"

type portBus struct{}

// NewPortBus returns a Bus backed by /dev/port. It needs root with
// CAP_SYS_RAWIO.
func NewPortBus() Bus {
	return portBus{}
}

// Acquire checks that /dev/port can be opened for writing. memio opens the
// device per access, so nothing is kept open here.
func (portBus) Acquire(pair PortPair) error {
	f, err := os.OpenFile(DevPort, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, pair, err)
		}
		return err
	}
	return f.Close()
}

func (portBus) Release(PortPair) error { return nil }

func (portBus) Outb(port uint16, v uint8) error {
	d := memio.Uint8(v)
	return memio.Out(port, &d)
}

func (portBus) Inb(port uint16) (uint8, error) {
	var d memio.Uint8
	if err := memio.In(port, &d); err != nil {
		return 0, err
	}
	return uint8(d), nil
}
