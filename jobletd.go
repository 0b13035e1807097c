// Package jobletd supervises joblets: units of work launched as detached OS
// processes, tracked through pid files and reconciled against the process table.
package jobletd

import (
	"context"
	"net/http"
	"time"

	"github.com/loykin/jobletd/internal/config"
	"github.com/loykin/jobletd/internal/daemon"
	"github.com/loykin/jobletd/internal/executor"
	"github.com/loykin/jobletd/internal/joblet"
	"github.com/loykin/jobletd/internal/metrics"
	"github.com/loykin/jobletd/internal/registry"
	"github.com/loykin/jobletd/internal/runner"
	"github.com/loykin/jobletd/internal/server"
	"github.com/loykin/jobletd/internal/status"
	"github.com/loykin/jobletd/internal/termination"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type JobletConfig = joblet.Config

type Metadata = joblet.Metadata

type Joblet = joblet.Joblet

type JobletFunc = joblet.Func

type Factory = joblet.Factory

type CodedError = joblet.CodedError

type Output = joblet.Output

type Entry = registry.Entry[joblet.Metadata]

type State = status.State

type ErrorInfo = status.ErrorInfo

type Result = executor.Result

type TerminationResult = termination.Result

type Config = config.Config

type Options = daemon.Options

type Runner = runner.Runner

type RunRequest = runner.Request

type RunnerFunc = runner.Func

const (
	StatePending    = status.StatePending
	StateInProgress = status.StateInProgress
	StateDone       = status.StateDone
	StateError      = status.StateError
)

var (
	ErrConfigPersistFailed = executor.ErrConfigPersistFailed
	ErrUntracked           = executor.ErrUntracked
	ErrCorruptEntry        = registry.ErrCorruptEntry
	ErrUnknownFactory      = joblet.ErrUnknownFactory
)

// RegisterFactory makes a joblet factory available to forked processes.
// Call it from init so the child side of the same binary sees it too.
func RegisterFactory(name string, f Factory) { joblet.Register(name, f) }

// OutputFrom returns where a running joblet should write its output.
func OutputFrom(ctx context.Context) Output { return joblet.OutputFrom(ctx) }

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

func DefaultConfig() *Config { return config.Default() }

// Daemon is a thin facade over internal/daemon.Daemon.
// It provides a stable public API for embedding.
type Daemon struct{ inner *daemon.Daemon }

func New(opts Options) (*Daemon, error) {
	d, err := daemon.New(opts)
	if err != nil {
		return nil, err
	}
	return &Daemon{inner: d}, nil
}

func (d *Daemon) Run(ctx context.Context) error { return d.inner.Run(ctx) }
func (d *Daemon) Close() error                  { return d.inner.Close() }
func (d *Daemon) Addr(name string) string       { return d.inner.Addr(name) }

func (d *Daemon) Execute(ctx context.Context, cfg JobletConfig) (Result, error) {
	return d.inner.Executor.Execute(ctx, cfg)
}
func (d *Daemon) TryExecute(ctx context.Context, cfg JobletConfig) (Result, bool, error) {
	return d.inner.Executor.TryExecute(ctx, cfg)
}
func (d *Daemon) CanExecuteAnother() (bool, error) { return d.inner.Executor.CanExecuteAnother() }
func (d *Daemon) SetMaxConcurrent(n int)           { d.inner.Executor.SetMaxConcurrent(n) }
func (d *Daemon) MaxConcurrent() int               { return d.inner.Executor.MaxConcurrent() }

func (d *Daemon) List() ([]Entry, error) { return d.inner.Registry.List() }
func (d *Daemon) Reconcile(ctx context.Context) (int, error) {
	return d.inner.Registry.Reconcile(ctx)
}

func (d *Daemon) Status(id string) (State, error)         { return d.inner.Statuses.Status(id) }
func (d *Daemon) ErrorInfo(id string) (*ErrorInfo, error) { return d.inner.Statuses.ErrorInfo(id) }
func (d *Daemon) Forget(id string) error                  { return d.inner.Statuses.Remove(id) }

// Handler returns the HTTP API of d for mounting in another server.
func (d *Daemon) Handler(basePath string) http.Handler {
	return server.NewRouter(server.Backend{
		Executor:  d.inner.Executor,
		Registry:  d.inner.Registry,
		Statuses:  d.inner.Statuses,
		Resources: d.inner.Resources,
	}, basePath).Handler()
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It blocks until the server fails.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
