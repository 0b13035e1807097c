// Package lock keeps two daemons from managing the same base directory.
package lock

import "errors"

// FileName is the lock file created in the base directory.
const FileName = "jobletd.lock"

var ErrLocked = errors.New("lock: held by another process")

// Lock is a daemon-wide exclusive lock.
type Lock interface {
	Acquire() error
	Release() error
}

// NoOp always succeeds.
type NoOp struct{}

func (NoOp) Acquire() error { return nil }
func (NoOp) Release() error { return nil }
