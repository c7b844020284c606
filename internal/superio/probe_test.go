package superio

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const knownGoodLine = "SIO at 0x2E: DEVID=0xD428  HWM base=0x0290 (index/data @ base+5/base+6)"

func TestProbeKnownGoodChip(t *testing.T) {
	board := newFakeBoard(t)
	chip := board.addChip(0x2E, 0xD428, 0x0290)
	p := &Prober{Bus: board, Expected: NCT6798D}

	res := p.Probe(NewPortPair(0x2E))
	if res.Status != StatusFound || res.Err != nil {
		t.Fatalf("status = %v err = %v, want found", res.Status, res.Err)
	}
	if res.Chip != 0xD428 || res.HWMBase != 0x0290 {
		t.Errorf("chip = %s base = %s", res.Chip, res.HWMBase)
	}
	if got := res.Line(); got != knownGoodLine {
		t.Errorf("Line() =\n%q\nwant\n%q", got, knownGoodLine)
	}
	if chip.enters != 1 || chip.exits != 1 {
		t.Errorf("enters=%d exits=%d, want 1/1", chip.enters, chip.exits)
	}
	if res.HWMBase.IndexPort() != 0x295 || res.HWMBase.DataPort() != 0x296 {
		t.Errorf("HWM ports = 0x%X/0x%X", res.HWMBase.IndexPort(), res.HWMBase.DataPort())
	}
}

func TestProbeAllAccessDeniedThenFound(t *testing.T) {
	board := newFakeBoard(t)
	first := board.addChip(0x2E, 0xD428, 0x0290)
	second := board.addChip(0x4E, 0xD428, 0x0290)
	board.denied[0x2E] = true
	p := &Prober{Bus: board, Expected: NCT6798D}

	rep := p.ProbeAll(Candidates)
	if len(rep) != 2 {
		t.Fatalf("got %d results, want 2", len(rep))
	}
	if rep[0].Status != StatusAccessDenied || !errors.Is(rep[0].Err, ErrPermissionDenied) {
		t.Errorf("0x2E: status = %v err = %v", rep[0].Status, rep[0].Err)
	}
	found := rep.Found()
	if len(found) != 1 || found[0].Port.Index != 0x4E {
		t.Fatalf("Found() = %+v, want only 0x4E", found)
	}
	if got, want := found[0].Line(), "SIO at 0x4E: DEVID=0xD428  HWM base=0x0290 (index/data @ base+5/base+6)"; got != want {
		t.Errorf("Line() = %q, want %q", got, want)
	}
	if err := rep.Err(); err != nil {
		t.Errorf("Report.Err() = %v, want nil", err)
	}
	if first.exits != 0 {
		t.Errorf("denied pair saw %d exits, want 0", first.exits)
	}
	if second.exits != 1 {
		t.Errorf("granted pair saw %d exits, want 1", second.exits)
	}
}

func TestProbeAllBothDenied(t *testing.T) {
	board := newFakeBoard(t)
	board.denied[0x2E] = true
	board.denied[0x4E] = true
	p := &Prober{Bus: board, Expected: NCT6798D}

	rep := p.ProbeAll(Candidates)
	if n := len(rep.Found()); n != 0 {
		t.Fatalf("Found() has %d results, want 0", n)
	}
	err := rep.Err()
	if !errors.Is(err, ErrNoChipFound) {
		t.Errorf("Report.Err() = %v, want ErrNoChipFound", err)
	}
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Report.Err() = %v, want it to carry ErrPermissionDenied", err)
	}
}

func TestProbeFloatingBus(t *testing.T) {
	board := newFakeBoard(t)
	chip := board.addChip(0x2E, 0xFFFF, 0xFFFF)
	p := &Prober{Bus: board, Expected: NCT6798D}

	res := p.Probe(NewPortPair(0x2E))
	if res.Status != StatusNoDevice || !errors.Is(res.Err, ErrNoDevice) {
		t.Fatalf("status = %v err = %v, want no device", res.Status, res.Err)
	}
	if res.Responded() {
		t.Error("0xFFFF counted as a chip")
	}
	if chip.exits != 1 {
		t.Errorf("exits = %d, want 1", chip.exits)
	}

	// No chip strapped at all reads the same way.
	res = p.Probe(NewPortPair(0x4E))
	if res.Status != StatusNoDevice {
		t.Errorf("empty 0x4E: status = %v, want no device", res.Status)
	}
}

func TestProbeUnexpectedChip(t *testing.T) {
	board := newFakeBoard(t)
	board.addChip(0x2E, 0xC562, 0x0290)
	p := &Prober{Bus: board, Expected: NCT6798D}

	res := p.Probe(NewPortPair(0x2E))
	if res.Status != StatusUnexpectedChip || !errors.Is(res.Err, ErrUnexpectedChip) {
		t.Fatalf("status = %v err = %v, want unexpected chip", res.Status, res.Err)
	}
	if !res.Responded() {
		t.Error("unexpected chip not reported as responding")
	}
	if res.Chip != 0xC562 {
		t.Errorf("chip = %s, want the value actually read", res.Chip)
	}
	if res.Chip.Name() != "NCT6779D" {
		t.Errorf("Name() = %q", res.Chip.Name())
	}
}

func TestProbeAcceptsRevisionBits(t *testing.T) {
	board := newFakeBoard(t)
	board.addChip(0x2E, 0xD42B, 0x0290)
	p := &Prober{Bus: board, Expected: NCT6798D}

	if res := p.Probe(NewPortPair(0x2E)); res.Status != StatusFound {
		t.Errorf("status = %v, want found", res.Status)
	}
}

func TestProbeReadFailureStillExits(t *testing.T) {
	board := newFakeBoard(t)
	chip := board.addChip(0x2E, 0xD428, 0x0290)
	chip.failOn, chip.failReg = true, RegChipIDLow
	p := &Prober{Bus: board, Expected: NCT6798D}

	res := p.Probe(NewPortPair(0x2E))
	if res.Status != StatusFailed || res.Err == nil {
		t.Fatalf("status = %v err = %v, want failed", res.Status, res.Err)
	}
	if chip.exits != 1 {
		t.Errorf("exits = %d, want 1", chip.exits)
	}
	if board.released[0x2E] != 1 {
		t.Errorf("released = %d, want 1", board.released[0x2E])
	}
}

func TestProbeIsIdempotent(t *testing.T) {
	board := newFakeBoard(t)
	board.addChip(0x2E, 0xD428, 0x0290)
	p := &Prober{Bus: board, Expected: NCT6798D}

	a := p.ProbeAll(Candidates)
	b := p.ProbeAll(Candidates)
	for i := range a {
		if a[i].Status != b[i].Status || a[i].Chip != b[i].Chip || a[i].HWMBase != b[i].HWMBase {
			t.Errorf("run 1 %+v != run 2 %+v", a[i], b[i])
		}
	}
}

type failingLocker struct{}

var errLocked = errors.New("lock unavailable")

func (failingLocker) Lock(PortPair) (func(), error) { return nil, errLocked }

func TestProbeLockFailureSkipsPair(t *testing.T) {
	board := newFakeBoard(t)
	chip := board.addChip(0x2E, 0xD428, 0x0290)
	p := &Prober{Bus: board, Locker: failingLocker{}}

	res := p.Probe(NewPortPair(0x2E))
	if res.Status != StatusFailed || !errors.Is(res.Err, errLocked) {
		t.Fatalf("status = %v err = %v", res.Status, res.Err)
	}
	if board.acquired[0x2E] != 0 || chip.enters != 0 {
		t.Error("ports touched without holding the lock")
	}
}

func TestPortLockSerializes(t *testing.T) {
	l := &PortLock{Dir: t.TempDir()}
	pair := NewPortPair(0x2E)

	var (
		mu     sync.Mutex
		inside int
		peak   int
		wg     sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(pair)
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > peak {
				peak = inside
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Errorf("%d holders at once, want 1", peak)
	}
	if got, want := l.LockPath(pair), l.Dir+"/superio-0x2E.lock"; got != want {
		t.Errorf("LockPath = %q, want %q", got, want)
	}
}

func TestPortLockMissingDir(t *testing.T) {
	l := &PortLock{Dir: t.TempDir() + "/missing"}
	if _, err := l.Lock(NewPortPair(0x4E)); err == nil {
		t.Fatal("Lock succeeded without a lock directory")
	}
	// The in-process mutex must have been released on the error path.
	l.Dir = ""
	unlock, err := l.Lock(NewPortPair(0x4E))
	if err != nil {
		t.Fatal(err)
	}
	unlock()
}

func TestReportOutput(t *testing.T) {
	board := newFakeBoard(t)
	board.addChip(0x4E, 0xD428, 0x0290)
	board.denied[0x2E] = true
	p := &Prober{Bus: board, Expected: NCT6798D}

	var buf bytes.Buffer
	if err := p.ProbeAll(Candidates).WriteLines(&buf); err != nil {
		t.Fatal(err)
	}
	if got, want := buf.String(), "SIO at 0x4E: DEVID=0xD428  HWM base=0x0290 (index/data @ base+5/base+6)\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	board.denied[0x4E] = true
	rep := p.ProbeAll(Candidates)
	buf.Reset()
	if err := rep.WriteLines(&buf); err != nil || buf.Len() != 0 {
		t.Errorf("wrote %q, err %v", buf.String(), err)
	}
	if !strings.Contains(rep.Hint(), "run as root") {
		t.Errorf("Hint() = %q", rep.Hint())
	}

	empty := (&Prober{Bus: newFakeBoard(t), Expected: NCT6798D}).ProbeAll(Candidates)
	if strings.Contains(empty.Hint(), "root") {
		t.Errorf("privilege hint on an empty bus: %q", empty.Hint())
	}
}

func TestOtherLogicalDeviceBase(t *testing.T) {
	board := newFakeBoard(t)
	chip := board.addChip(0x2E, 0xD428, 0x0290)
	chip.bases = map[uint8]uint16{0x0A: 0x0A00}
	p := &Prober{Bus: board, Expected: NCT6798D, Device: 0x0A}

	res := p.Probe(NewPortPair(0x2E))
	if res.Status != StatusFound || res.Err != nil {
		t.Fatalf("status = %v err = %v", res.Status, res.Err)
	}
	if res.HWMBase != 0x0A00 || chip.ldn != 0x0A {
		t.Errorf("base = %s, selected LDN 0x%02X", res.HWMBase, chip.ldn)
	}
	if chip.exits != 1 {
		t.Errorf("exits = %d, want 1", chip.exits)
	}
}

func TestUnusableLockDir(t *testing.T) {
	// A regular file where the lock directory should be.
	dir := filepath.Join(t.TempDir(), "lock")
	if err := os.WriteFile(dir, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	board := newFakeBoard(t)
	board.addChip(0x2E, 0xD428, 0x0290)
	p := &Prober{Bus: board, Expected: NCT6798D, Locker: &PortLock{Dir: dir}}

	rep := p.ProbeAll(Candidates)
	for _, r := range rep {
		if r.Status != StatusFailed || !errors.Is(r.Err, ErrLockUnavailable) {
			t.Errorf("%s: status = %v err = %v", r.Port, r.Status, r.Err)
		}
	}
	if !strings.Contains(rep.Hint(), "lock directory") {
		t.Errorf("Hint() = %q", rep.Hint())
	}
}

func TestLockDirPermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can write any directory")
	}
	dir := t.TempDir()
	if err := os.Chmod(dir, 0o555); err != nil {
		t.Fatal(err)
	}
	board := newFakeBoard(t)
	board.addChip(0x2E, 0xD428, 0x0290)
	p := &Prober{Bus: board, Expected: NCT6798D, Locker: &PortLock{Dir: dir}}

	rep := p.ProbeAll(Candidates)
	for _, r := range rep {
		if r.Status != StatusAccessDenied || !errors.Is(r.Err, ErrPermissionDenied) {
			t.Errorf("%s: status = %v err = %v", r.Port, r.Status, r.Err)
		}
	}
	if !strings.Contains(rep.Hint(), "run as root") {
		t.Errorf("Hint() = %q", rep.Hint())
	}
}

type deniedLocker struct{}

func (deniedLocker) Lock(pair PortPair) (func(), error) {
	return nil, lockError("open lock for", pair, os.ErrPermission)
}

func TestLockPermissionIsAccessDenied(t *testing.T) {
	board := newFakeBoard(t)
	board.addChip(0x2E, 0xD428, 0x0290)
	rep := (&Prober{Bus: board, Locker: deniedLocker{}}).ProbeAll(Candidates)

	if rep[0].Status != StatusAccessDenied || !errors.Is(rep[0].Err, ErrPermissionDenied) {
		t.Errorf("status = %v err = %v", rep[0].Status, rep[0].Err)
	}
	if board.acquired[0x2E] != 0 {
		t.Error("ports touched without holding the lock")
	}
	if !strings.Contains(rep.Hint(), "run as root") {
		t.Errorf("Hint() = %q", rep.Hint())
	}
}

type unsupportedBus struct{}

func (unsupportedBus) Acquire(PortPair) error     { return ErrUnsupported }
func (unsupportedBus) Release(PortPair) error     { return nil }
func (unsupportedBus) Outb(uint16, uint8) error   { return ErrUnsupported }
func (unsupportedBus) Inb(uint16) (uint8, error) { return 0, ErrUnsupported }

func TestUnsupportedPlatform(t *testing.T) {
	rep := (&Prober{Bus: unsupportedBus{}}).ProbeAll(Candidates)
	for _, r := range rep {
		if r.Status != StatusUnsupported {
			t.Errorf("%s: status = %v, want unsupported", r.Port, r.Status)
		}
	}
	if h := rep.Hint(); strings.Contains(h, "root") || !strings.Contains(h, "x86") {
		t.Errorf("Hint() = %q", h)
	}
}
