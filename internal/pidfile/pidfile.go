// Package pidfile locks and writes a PID file for the lifetime of the
// process, using gofrs/flock so a second instance started against the
// same file fails fast instead of silently double-running.
package pidfile

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
)

// File holds an exclusive lock on a PID file and removes it on Release.
type File struct {
	lock *flock.Flock
	path string
}

// Acquire locks path exclusively and writes the current PID into it.
// Returns an error if another process already holds the lock.
func Acquire(path string) (*File, error) {
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("pidfile: lock %q: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("pidfile: %q is already locked by another instance", path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("pidfile: write %q: %w", path, err)
	}
	_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
	cerr := f.Close()
	if werr != nil {
		lock.Unlock()
		return nil, fmt.Errorf("pidfile: write %q: %w", path, werr)
	}
	if cerr != nil {
		lock.Unlock()
		return nil, fmt.Errorf("pidfile: close %q: %w", path, cerr)
	}

	return &File{lock: lock, path: path}, nil
}

// Release unlocks and removes the PID file.
func (f *File) Release() error {
	err := f.lock.Unlock()
	_ = os.Remove(f.path)
	return err
}
