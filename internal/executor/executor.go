// Package executor admits joblets against a concurrency limit and launches
// them as tracked OS processes.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/jobletd/internal/configstore"
	"github.com/loykin/jobletd/internal/history"
	"github.com/loykin/jobletd/internal/joblet"
	"github.com/loykin/jobletd/internal/metrics"
	"github.com/loykin/jobletd/internal/runner"
)

var (
	// ErrConfigPersistFailed is returned when the configuration could not be stored.
	ErrConfigPersistFailed = configstore.ErrConfigPersistFailed
	// ErrUntracked wraps a registration failure that happened after the
	// joblet was launched: the process keeps running without being tracked.
	ErrUntracked = errors.New("executor: joblet launched but not tracked")
)

// Registry is the subset of the process registry the executor needs.
type Registry interface {
	Register(pid int, md joblet.Metadata) error
	Count() (int, error)
}

// ConfigStore persists configurations and names the directory the child reads them from.
type ConfigStore interface {
	Store(ctx context.Context, cfg joblet.Config) (string, error)
	Delete(ctx context.Context, id string) error
	Dir() string
}

type Options struct {
	Registry      Registry
	Configs       ConfigStore
	Runner        runner.Runner
	MaxConcurrent int
	// Factory is used for configs that do not name one.
	Factory string
	BaseDir string
	WorkDir string
	LogDir  string
	Env     map[string]string
	History history.Sink // optional; receives launched events
	Logger  *slog.Logger
}

// Result identifies a launched joblet.
type Result struct {
	ID  string `json:"id"`
	PID int    `json:"pid"`
}

type Executor struct {
	registry Registry
	configs  ConfigStore
	runner   runner.Runner
	factory  string
	baseDir  string
	workDir  string
	logDir   string
	env      map[string]string
	history  history.Sink
	log      *slog.Logger

	max   atomic.Int64
	tryMu sync.Mutex
	now   func() time.Time
}

func New(opts Options) (*Executor, error) {
	if opts.Registry == nil || opts.Configs == nil || opts.Runner == nil {
		return nil, errors.New("executor: registry, config store and runner are required")
	}
	if opts.MaxConcurrent < 0 {
		return nil, fmt.Errorf("executor: max concurrent processes must not be negative, got %d", opts.MaxConcurrent)
	}
	e := &Executor{
		registry: opts.Registry,
		configs:  opts.Configs,
		runner:   opts.Runner,
		factory:  opts.Factory,
		baseDir:  opts.BaseDir,
		workDir:  opts.WorkDir,
		logDir:   opts.LogDir,
		env:      opts.Env,
		history:  opts.History,
		log:      opts.Logger,
		now:      time.Now,
	}
	if e.factory == "" {
		e.factory = joblet.CommandFactory
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.SetMaxConcurrent(opts.MaxConcurrent)
	return e, nil
}

// SetMaxConcurrent changes the concurrency limit. Running joblets are not affected.
func (e *Executor) SetMaxConcurrent(n int) {
	if n < 0 {
		n = 0
	}
	e.max.Store(int64(n))
	metrics.SetMaxConcurrent(n)
}

func (e *Executor) MaxConcurrent() int { return int(e.max.Load()) }

// CanExecuteAnother reports whether fewer processes are tracked than the
// limit allows. It is advisory: a concurrent Execute may take the slot.
func (e *Executor) CanExecuteAnother() (bool, error) {
	n, err := e.registry.Count()
	if err != nil {
		return false, err
	}
	return int64(n) < e.max.Load(), nil
}

// Execute stores cfg, launches it and registers the new process. Nothing is
// registered when storing or launching fails, and the stored config is
// removed again when the launch fails. A registration failure after
// launch is returned wrapped in ErrUntracked.
func (e *Executor) Execute(ctx context.Context, cfg joblet.Config) (Result, error) {
	factory := cfg.Factory
	if factory == "" {
		factory = e.factory
	}
	id, err := e.configs.Store(ctx, cfg)
	if err != nil {
		metrics.IncExecution(factory, "config_error")
		return Result{}, err
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = e.workDir
	}
	pid, err := e.runner.Run(runner.Request{
		Factory:   factory,
		ConfigDir: e.configs.Dir(),
		ConfigID:  id,
		BaseDir:   e.baseDir,
		WorkDir:   workDir,
		LogDir:    e.logDir,
		Env:       e.env,
	})
	if err != nil {
		metrics.IncExecution(factory, "launch_error")
		if derr := e.configs.Delete(ctx, id); derr != nil {
			e.log.Warn("Failed to delete config of unlaunched joblet", "id", id, "error", derr)
		}
		return Result{ID: id}, err
	}
	md := joblet.Metadata{ConfigID: id, Factory: factory, Name: cfg.Name, SubmittedAt: e.now().UTC()}
	if err := e.registry.Register(pid, md); err != nil {
		metrics.IncExecution(factory, "register_error")
		e.log.Error("Joblet is running untracked", "pid", pid, "id", id, "error", err)
		return Result{ID: id, PID: pid}, fmt.Errorf("%w: pid %d: %w", ErrUntracked, pid, err)
	}
	metrics.IncExecution(factory, "ok")
	e.log.Info("Joblet executed", "pid", pid, "id", id, "name", cfg.Name, "factory", factory)
	if e.history != nil {
		ev := history.Event{
			Type:       history.EventLaunched,
			OccurredAt: md.SubmittedAt,
			Record:     history.Record{ID: id, Name: cfg.Name, Factory: factory, PID: pid, SubmittedAt: md.SubmittedAt},
		}
		if err := e.history.Send(ctx, ev); err != nil {
			e.log.Warn("Failed to send history event", "id", id, "error", err)
		}
	}
	return Result{ID: id, PID: pid}, nil
}

// TryExecute runs the admission check and Execute as one step for callers
// sharing this Executor. It returns false without error when at capacity.
// Other Executors or daemons on the same directory are not serialised.
func (e *Executor) TryExecute(ctx context.Context, cfg joblet.Config) (Result, bool, error) {
	e.tryMu.Lock()
	defer e.tryMu.Unlock()
	ok, err := e.CanExecuteAnother()
	if err != nil {
		return Result{}, false, err
	}
	if !ok {
		metrics.IncAdmissionRejection()
		return Result{}, false, nil
	}
	res, err := e.Execute(ctx, cfg)
	if err != nil {
		return res, false, err
	}
	return res, true, nil
}
