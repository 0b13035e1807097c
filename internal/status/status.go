// Package status records the lifecycle state of every submitted job as one
// small text file per job id.
package status

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/loykin/jobletd/internal/kv"
)

// DirName is the sub-directory of the base directory that holds status files.
const DirName = "job_statuses"

type State string

const (
	StatePending    State = "PENDING"
	StateInProgress State = "IN_PROGRESS"
	StateDone       State = "DONE"
	StateError      State = "ERROR"
)

// Terminal reports whether no further transition is expected.
func (s State) Terminal() bool { return s == StateDone || s == StateError }

func ParseState(s string) (State, error) {
	switch st := State(strings.TrimSpace(s)); st {
	case StatePending, StateInProgress, StateDone, StateError:
		return st, nil
	default:
		return "", fmt.Errorf("unknown state %q", s)
	}
}

// ErrorInfo is recorded only alongside StateError.
type ErrorInfo struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

var (
	ErrIOFailure = errors.New("status: io failure")
	ErrInvalidID = errors.New("status: invalid job id")
)

// Store persists job states under <base>/job_statuses/<id>.
// Line 1 holds the state; lines 2 and 3 hold the error code and message for StateError.
type Store struct {
	dir *kv.Dir
}

// New returns a store rooted at <baseDir>/job_statuses.
func New(baseDir string) *Store {
	return &Store{dir: kv.NewDir(filepath.Join(baseDir, DirName))}
}

// Dir returns the status directory.
func (s *Store) Dir() string { return s.dir.Path() }

func (s *Store) Start(id string) error    { return s.write(id, StateInProgress, nil) }
func (s *Store) Complete(id string) error { return s.write(id, StateDone, nil) }

func (s *Store) SaveError(id string, info ErrorInfo) error {
	return s.write(id, StateError, &info)
}

func (s *Store) write(id string, st State, info *ErrorInfo) error {
	if err := validateID(id); err != nil {
		return err
	}
	var b bytes.Buffer
	b.WriteString(string(st))
	b.WriteByte('\n')
	if info != nil {
		b.WriteString(strconv.FormatInt(info.Code, 10))
		b.WriteByte('\n')
		// the message is the rest of the file; keep it on one line
		b.WriteString(strings.ReplaceAll(info.Message, "\n", " "))
		b.WriteByte('\n')
	}
	if err := s.dir.Put(id, b.Bytes()); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrIOFailure, id, err)
	}
	return nil
}

// Status returns the job's state. A job without a status file is StatePending.
func (s *Store) Status(id string) (State, error) {
	lines, err := s.read(id)
	if err != nil {
		return "", err
	}
	if lines == nil {
		return StatePending, nil
	}
	st, err := ParseState(lines[0])
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrIOFailure, id, err)
	}
	return st, nil
}

// ErrorInfo returns the recorded error payload, or nil when none was recorded.
func (s *Store) ErrorInfo(id string) (*ErrorInfo, error) {
	lines, err := s.read(id)
	if err != nil {
		return nil, err
	}
	if len(lines) < 3 {
		return nil, nil
	}
	code, err := strconv.ParseInt(strings.TrimSpace(lines[1]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: bad error code: %w", ErrIOFailure, id, err)
	}
	return &ErrorInfo{Code: code, Message: lines[2]}, nil
}

func (s *Store) Exists(id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	ok, err := s.dir.Exists(id)
	if err != nil {
		return false, fmt.Errorf("%w: stat %s: %w", ErrIOFailure, id, err)
	}
	return ok, nil
}

// Remove deletes the job's status file. A missing file is not an error.
func (s *Store) Remove(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := s.dir.Delete(id); err != nil {
		return fmt.Errorf("%w: remove %s: %w", ErrIOFailure, id, err)
	}
	return nil
}

// IDs lists every job id with a status file.
func (s *Store) IDs() ([]string, error) {
	ids, err := s.dir.Scan(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: scan: %w", ErrIOFailure, err)
	}
	return ids, nil
}

// read returns the lines of the status file, or nil when it does not exist.
func (s *Store) read(id string) ([]string, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	b, err := s.dir.Get(id)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrIOFailure, id, err)
	}
	raw := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	if len(raw) == 0 || strings.TrimSpace(raw[0]) == "" {
		return nil, fmt.Errorf("%w: %s: empty status file", ErrIOFailure, id)
	}
	return raw, nil
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) ||
		strings.Contains(id, "..") || strings.HasSuffix(id, kv.TmpSuffix) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
