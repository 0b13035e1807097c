package registry

import (
	"errors"
	"fmt"

	"github.com/loykin/jobletd/internal/kv"
)

var (
	ErrDirectoryCreateFailed = errors.New("registry: directory create failed")
	ErrWriteFailed           = errors.New("registry: write failed")
	ErrCommitFailed          = errors.New("registry: commit failed")
	ErrCorruptEntry          = errors.New("registry: corrupt entry")
	ErrHandlerFailed         = errors.New("registry: termination handler failed")
	ErrInvalidPID            = errors.New("registry: invalid pid")
)

// mapPutError translates kv staging errors into the registry taxonomy.
func mapPutError(pid int, err error) error {
	switch {
	case errors.Is(err, kv.ErrDirectoryCreate):
		return fmt.Errorf("%w: pid %d: %w", ErrDirectoryCreateFailed, pid, err)
	case errors.Is(err, kv.ErrWrite):
		return fmt.Errorf("%w: pid %d: %w", ErrWriteFailed, pid, err)
	case errors.Is(err, kv.ErrCommit):
		return fmt.Errorf("%w: pid %d: %w", ErrCommitFailed, pid, err)
	default:
		return fmt.Errorf("%w: pid %d: %w", ErrWriteFailed, pid, err)
	}
}
