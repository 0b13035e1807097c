// Package registry durably tracks live joblet processes as one file per pid
// and reconciles them against the operating system's process table.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/loykin/jobletd/internal/codec"
	"github.com/loykin/jobletd/internal/inspector"
	"github.com/loykin/jobletd/internal/kv"
	"github.com/loykin/jobletd/internal/metrics"
	"github.com/loykin/jobletd/internal/notify"
)

// DefaultPollInterval is used when Options.PollInterval is not set.
const DefaultPollInterval = 5 * time.Second

// Entry is one tracked process.
type Entry[T any] struct {
	PID      int `json:"pid"`
	Metadata T   `json:"metadata"`
}

// Handler is invoked once for every tracked process found dead.
type Handler[T any] interface {
	OnRemove(ctx context.Context, e Entry[T]) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(ctx context.Context, e Entry[T]) error

func (f HandlerFunc[T]) OnRemove(ctx context.Context, e Entry[T]) error { return f(ctx, e) }

type Options[T any] struct {
	Dir          string
	Codec        codec.Codec[T]
	Inspector    inspector.Inspector
	Handler      Handler[T]
	Notifier     notify.Notifier
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Controller owns the pid-file directory. Disk is the only source of truth:
// every List rescans it, and one mutex serialises List, Register, Deregister
// and reconciliation cycles.
type Controller[T any] struct {
	store    *kv.Dir
	codec    codec.Codec[T]
	insp     inspector.Inspector
	handler  Handler[T]
	notifier notify.Notifier
	interval time.Duration
	log      *slog.Logger

	mu sync.Mutex

	pollMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New[T any](opts Options[T]) (*Controller[T], error) {
	if opts.Dir == "" {
		return nil, errors.New("registry: base directory is required")
	}
	c := &Controller[T]{
		store:    kv.NewDir(opts.Dir),
		codec:    opts.Codec,
		insp:     opts.Inspector,
		handler:  opts.Handler,
		notifier: opts.Notifier,
		interval: opts.PollInterval,
		log:      opts.Logger,
	}
	if c.codec == nil {
		c.codec = codec.JSON[T]{}
	}
	if c.insp == nil {
		c.insp = inspector.System{}
	}
	if c.notifier == nil {
		c.notifier = notify.Nop{}
	}
	if c.interval <= 0 {
		c.interval = DefaultPollInterval
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c, nil
}

// Dir returns the pid-file directory.
func (c *Controller[T]) Dir() string { return c.store.Path() }

// Register persists md under pid. The entry becomes visible to List only
// once the staged file has been renamed into place.
func (c *Controller[T]) Register(pid int, md T) error {
	if pid <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPID, pid)
	}
	b, err := c.codec.Encode(md)
	if err != nil {
		return fmt.Errorf("%w: pid %d: %w", ErrWriteFailed, pid, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Put(strconv.Itoa(pid), b); err != nil {
		metrics.IncRegistration("error")
		return mapPutError(pid, err)
	}
	metrics.IncRegistration("ok")
	return nil
}

// Deregister removes pid without invoking the termination handler.
func (c *Controller[T]) Deregister(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPID, pid)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Delete(strconv.Itoa(pid))
}

// List returns every tracked process ordered by pid.
func (c *Controller[T]) List() ([]Entry[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, err := c.scan()
	if err != nil {
		return nil, err
	}
	out := make([]Entry[T], 0, len(items))
	for _, s := range items {
		if s.err != nil {
			return nil, s.err
		}
		out = append(out, s.entry)
	}
	return out, nil
}

// Count returns the number of tracked processes. Decoding is skipped.
func (c *Controller[T]) Count() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys, err := c.store.Scan(isPID)
	if err != nil {
		return 0, fmt.Errorf("registry: scan %s: %w", c.store.Path(), err)
	}
	return len(keys), nil
}

type scanned[T any] struct {
	entry Entry[T]
	err   error // ErrCorruptEntry when the payload could not be read or decoded
}

// scan reads every canonical pid file. Callers hold c.mu.
func (c *Controller[T]) scan() ([]scanned[T], error) {
	keys, err := c.store.Scan(isPID)
	if err != nil {
		return nil, fmt.Errorf("registry: scan %s: %w", c.store.Path(), err)
	}
	out := make([]scanned[T], 0, len(keys))
	for _, k := range keys {
		pid, _ := strconv.Atoi(k)
		b, err := c.store.Get(k)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			out = append(out, scanned[T]{entry: Entry[T]{PID: pid}, err: fmt.Errorf("%w: pid %d: %w", ErrCorruptEntry, pid, err)})
			continue
		}
		md, err := c.codec.Decode(b)
		if err != nil {
			out = append(out, scanned[T]{entry: Entry[T]{PID: pid}, err: fmt.Errorf("%w: pid %d: %w", ErrCorruptEntry, pid, err)})
			continue
		}
		out = append(out, scanned[T]{entry: Entry[T]{PID: pid, Metadata: md}})
	}
	// keys are sorted lexically; order numerically.
	sort.Slice(out, func(i, j int) bool { return out[i].entry.PID < out[j].entry.PID })
	return out, nil
}

// isPID accepts only the names Register writes: a positive pid in decimal
// without sign or leading zeros. Anything else is a foreign file.
func isPID(name string) bool {
	pid, err := strconv.Atoi(name)
	return err == nil && pid > 0 && strconv.Itoa(pid) == name
}
