package inspector

import (
	"context"
	"fmt"
	"sync"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// PIDSet is a snapshot of process ids reported alive by the OS.
type PIDSet map[int]struct{}

// NewPIDSet builds a set from pids.
func NewPIDSet(pids ...int) PIDSet {
	s := make(PIDSet, len(pids))
	for _, p := range pids {
		s[p] = struct{}{}
	}
	return s
}

// Has reports whether pid is in the set.
func (s PIDSet) Has(pid int) bool {
	_, ok := s[pid]
	return ok
}

// Inspector reports the set of live process ids.
// Implementations must be safe for concurrent use.
type Inspector interface {
	LivePIDs(ctx context.Context) (PIDSet, error)
}

// System reads the live process table of the host through gopsutil
// (/proc on Linux, sysctl on Darwin/BSD).
type System struct{}

func (System) LivePIDs(ctx context.Context) (PIDSet, error) {
	pids, err := gopsproc.PidsWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pids: %w", err)
	}
	s := make(PIDSet, len(pids))
	for _, p := range pids {
		s[int(p)] = struct{}{}
	}
	return s, nil
}

// Func adapts a function to Inspector.
type Func func(ctx context.Context) (PIDSet, error)

func (f Func) LivePIDs(ctx context.Context) (PIDSet, error) { return f(ctx) }

// Static is an Inspector whose live set is set explicitly. Used by tests and dry runs.
type Static struct {
	mu   sync.Mutex
	pids PIDSet
	err  error
}

func NewStatic(pids ...int) *Static { return &Static{pids: NewPIDSet(pids...)} }

// Set replaces the live set.
func (s *Static) Set(pids ...int) {
	s.mu.Lock()
	s.pids = NewPIDSet(pids...)
	s.mu.Unlock()
}

// Fail makes subsequent LivePIDs calls return err (nil clears it).
func (s *Static) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Static) LivePIDs(_ context.Context) (PIDSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(PIDSet, len(s.pids))
	for p := range s.pids {
		out[p] = struct{}{}
	}
	return out, nil
}
