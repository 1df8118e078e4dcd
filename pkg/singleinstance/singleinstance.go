// Package singleinstance prevents two processes from acting as the
// same client against the same server. Two instances would fight over
// the durable queue's single-consumer cursor and double-deliver, so a
// second start must fail fast.
package singleinstance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning reports that another process holds the instance
// lock for this name.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Lock is a held instance lock. Release it on shutdown; the OS also
// releases it if the process dies.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes a non-blocking exclusive lock on a file named after the
// client identity inside dir. Returns ErrAlreadyRunning when another
// process already holds it.
func Acquire(dir, name string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(filepath.Join(dir, name+".lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrAlreadyRunning)
	}
	return &Lock{fl: fl}, nil
}

// Release gives up the lock.
func (l *Lock) Release() error { return l.fl.Unlock() }
