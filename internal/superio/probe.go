package superio

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// Status is the outcome of probing one port pair.
type Status int

const (
	StatusFound          Status = iota // expected chip answered
	StatusUnexpectedChip               // some other chip answered
	StatusNoDevice                     // ports read back as an empty bus
	StatusAccessDenied                 // OS refused the port range
	StatusUnsupported                  // no port I/O on this platform
	StatusFailed                       // I/O or locking error
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusUnexpectedChip:
		return "unexpected chip"
	case StatusNoDevice:
		return "no device"
	case StatusAccessDenied:
		return "access denied"
	case StatusUnsupported:
		return "unsupported"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Result is what one port pair told us.
type Result struct {
	Port    PortPair
	Status  Status
	Chip    ChipIdentity
	HWMBase HWMBase
	Err     error
}

// Responded reports whether a chip answered at this port pair, whatever it was.
func (r Result) Responded() bool {
	return r.Status == StatusFound || r.Status == StatusUnexpectedChip
}

// Line renders the result in the nct-id output format.
func (r Result) Line() string {
	return fmt.Sprintf("SIO at 0x%02X: DEVID=0x%04X  HWM base=0x%04X (index/data @ base+5/base+6)",
		r.Port.Index, uint16(r.Chip), uint16(r.HWMBase))
}

// Report holds one Result per probed port pair, in probe order.
type Report []Result

// Found returns the results where a chip answered.
func (rep Report) Found() []Result {
	var out []Result
	for _, r := range rep {
		if r.Responded() {
			out = append(out, r)
		}
	}
	return out
}

// Err is nil if any candidate answered. Otherwise it wraps ErrNoChipFound
// together with every per-candidate error.
func (rep Report) Err() error {
	if len(rep.Found()) > 0 {
		return nil
	}
	errs := []error{ErrNoChipFound}
	for _, r := range rep {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Port, r.Err))
		}
	}
	return errors.Join(errs...)
}

// WriteLines writes Line for every result where a chip answered.
func (rep Report) WriteLines(w io.Writer) error {
	for _, r := range rep.Found() {
		if _, err := fmt.Fprintln(w, r.Line()); err != nil {
			return err
		}
	}
	return nil
}

// Hint suggests what to check after a probe in which nothing answered.
func (rep Report) Hint() string {
	for _, r := range rep {
		switch {
		case errors.Is(r.Err, ErrUnsupported):
			return "raw port I/O is only available on x86 Linux"
		case errors.Is(r.Err, ErrPermissionDenied):
			return "port access denied: run as root and check that firmware does not reserve the ports"
		case errors.Is(r.Err, ErrLockUnavailable):
			return "the port lock could not be taken: check the lock directory"
		}
	}
	return "check that the board has a Nuvoton Super I/O and that no driver holds the ports"
}

// Locker serializes access to a port pair. The returned func releases it.
type Locker interface {
	Lock(pair PortPair) (func(), error)
}

// Prober identifies the chip behind each candidate port pair and reads the
// base address of one of its logical devices, the Hardware Monitor by default.
type Prober struct {
	Bus Bus

	// Expected is the chip being looked for. Zero accepts any chip.
	Expected ChipIdentity

	// Device is the logical device whose base address ends up in
	// Result.HWMBase. Zero means LDNHardwareMonitor.
	Device uint8

	// Locker guards each transaction. Nil uses a process-wide PortLock
	// without a lock file.
	Locker Locker

	Log zerolog.Logger
}

var processLock = &PortLock{}

// Probe runs the full sequence on one port pair. Failures are reported in
// the Result, never returned, so the next candidate can still be tried.
func (p *Prober) Probe(pair PortPair) Result {
	res := Result{Port: pair}
	log := p.Log.With().Str("port", pair.String()).Logger()

	locker := p.Locker
	if locker == nil {
		locker = processLock
	}
	unlock, err := locker.Lock(pair)
	if err != nil {
		res.Status, res.Err = StatusFailed, err
		if errors.Is(err, ErrPermissionDenied) {
			res.Status = StatusAccessDenied
		}
		log.Warn().Err(err).Msg("could not lock port pair")
		return res
	}
	defer unlock()

	device := p.Device
	if device == 0 {
		device = LDNHardwareMonitor
	}

	var (
		id   ChipIdentity
		base HWMBase
	)
	err = Run(p.Bus, pair, func(s *Session) error {
		var err error
		if id, err = s.ChipIdentity(); err != nil {
			return err
		}
		if err := s.SelectLogicalDevice(device); err != nil {
			return err
		}
		if device == LDNHardwareMonitor {
			base, err = s.HWMBaseAddress()
			return err
		}
		v, err := s.BaseAddress()
		base = HWMBase(v)
		return err
	})

	switch {
	case errors.Is(err, ErrUnsupported):
		res.Status, res.Err = StatusUnsupported, err
		log.Debug().Err(err).Msg("skipping port pair")
		return res
	case errors.Is(err, ErrPermissionDenied):
		res.Status, res.Err = StatusAccessDenied, err
		log.Debug().Err(err).Msg("skipping port pair")
		return res
	case err != nil:
		res.Status, res.Err = StatusFailed, err
		log.Warn().Err(err).Msg("probe failed")
		return res
	}

	res.Chip, res.HWMBase = id, base
	switch {
	case !id.Responding():
		res.Status, res.Err = StatusNoDevice, ErrNoDevice
		log.Debug().Msg("nothing answered")
	case !id.Matches(p.Expected):
		res.Status = StatusUnexpectedChip
		res.Err = fmt.Errorf("%w: got %s (%s), want %s", ErrUnexpectedChip, id, id.Name(), p.Expected)
		log.Info().Str("chip", id.String()).Str("name", id.Name()).Msg("non-target chip answered")
	default:
		res.Status = StatusFound
		log.Debug().Str("chip", id.String()).Str("name", id.Name()).Str("hwm", base.String()).Msg("chip found")
	}
	return res
}

// ProbeAll probes every pair in order. One pair failing never stops the others.
func (p *Prober) ProbeAll(pairs []PortPair) Report {
	rep := make(Report, 0, len(pairs))
	for _, pair := range pairs {
		rep = append(rep, p.Probe(pair))
	}
	return rep
}
