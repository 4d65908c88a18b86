// Package instance guarantees a single running monitor per host.
package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// DefaultLockName is the lock file created in the temp dir when no path is
// configured.
const DefaultLockName = "zealywatch.lock"

// ErrAlreadyRunning means another process holds the lock.
var ErrAlreadyRunning = errors.New("another zealywatch instance is running")

// Lock is an advisory file lock held for the process lifetime.
type Lock struct {
	fl *flock.Flock
}

// Path returns path, or the default lock location when path is empty.
func Path(path string) string {
	if path != "" {
		return path
	}
	return filepath.Join(os.TempDir(), DefaultLockName)
}

// Acquire takes the lock without blocking. It returns ErrAlreadyRunning when
// another process already holds it.
func Acquire(path string) (*Lock, error) {
	path = Path(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock held on %s)", ErrAlreadyRunning, path)
	}
	return &Lock{fl: fl}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.fl.Path()
}

// Release unlocks and removes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", l.fl.Path(), err)
	}
	if err := os.Remove(l.fl.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}
