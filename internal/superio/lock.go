package superio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// DefaultLockDir is where cooperating tools keep their port lock files.
const DefaultLockDir = "/run/lock"

// PortLock serializes transactions on a port pair. Inside the process it
// keeps one mutex per index port. When Dir is set it also takes an exclusive
// flock(2) on Dir/superio-0xNN.lock, which keeps other instances of this tool
// out. The kernel driver does not honour the file, so the lock only works
// between programs that agree to use it.
type PortLock struct {
	Dir string

	mu    sync.Mutex
	ports map[uint16]*sync.Mutex
}

func (l *PortLock) mutexFor(index uint16) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ports == nil {
		l.ports = make(map[uint16]*sync.Mutex)
	}
	m, ok := l.ports[index]
	if !ok {
		m = &sync.Mutex{}
		l.ports[index] = m
	}
	return m
}

// LockPath returns the lock file used for pair.
func (l *PortLock) LockPath(pair PortPair) string {
	return filepath.Join(l.Dir, fmt.Sprintf("superio-0x%02X.lock", pair.Index))
}

// Lock blocks until pair is free. A lock file the caller may not create
// fails with ErrPermissionDenied, any other lock file error with
// ErrLockUnavailable.
func (l *PortLock) Lock(pair PortPair) (func(), error) {
	m := l.mutexFor(pair.Index)
	m.Lock()
	if l.Dir == "" {
		return m.Unlock, nil
	}

	f, err := os.OpenFile(l.LockPath(pair), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		m.Unlock()
		return nil, lockError("open lock for", pair, err)
	}
	if err := flock(f); err != nil {
		f.Close()
		m.Unlock()
		return nil, lockError("lock", pair, err)
	}
	return func() {
		funlock(f)
		f.Close()
		m.Unlock()
	}, nil
}

func lockError(op string, pair PortPair, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%s %s: %w: %w", op, pair, ErrPermissionDenied, err)
	}
	return fmt.Errorf("%s %s: %w: %w", op, pair, ErrLockUnavailable, err)
}
