// Package daemon assembles a running jobletd from its configuration.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loykin/jobletd/internal/config"
	"github.com/loykin/jobletd/internal/configstore"
	"github.com/loykin/jobletd/internal/executor"
	"github.com/loykin/jobletd/internal/history"
	"github.com/loykin/jobletd/internal/history/factory"
	"github.com/loykin/jobletd/internal/inspector"
	"github.com/loykin/jobletd/internal/joblet"
	"github.com/loykin/jobletd/internal/lock"
	"github.com/loykin/jobletd/internal/logger"
	"github.com/loykin/jobletd/internal/metrics"
	"github.com/loykin/jobletd/internal/notify"
	"github.com/loykin/jobletd/internal/registry"
	"github.com/loykin/jobletd/internal/runner"
	"github.com/loykin/jobletd/internal/server"
	"github.com/loykin/jobletd/internal/status"
	"github.com/loykin/jobletd/internal/termination"
	tlsconf "github.com/loykin/jobletd/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LogDirName is the default directory for joblet output under the base directory.
const LogDirName = "logs"

const shutdownTimeout = 5 * time.Second

type Options struct {
	Config *config.Config
	// Logger overrides the logger built from Config.Log.
	Logger *slog.Logger
	// Runner defaults to re-executing the current binary.
	Runner    runner.Runner
	Inspector inspector.Inspector
	// Notifier receives operator-facing failures in addition to the log.
	Notifier notify.Notifier
	// Registerer defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	// Watch reloads max_concurrent_processes when the config file changes.
	Watch bool
	// OnSuccess and OnFailure are passed to the termination handler.
	OnSuccess func(ctx context.Context, r termination.Result) error
	OnFailure func(ctx context.Context, r termination.Result) error
}

// Daemon owns every long-lived component. Build it with New, drive it with
// Run and release it with Close.
type Daemon struct {
	cfg       *config.Config
	log       *slog.Logger
	logCloser io.Closer
	lock      lock.Lock
	gatherer  prometheus.Gatherer
	watch     bool

	addrMu sync.Mutex
	addrs  map[string]string

	Registry  *registry.Controller[joblet.Metadata]
	Statuses  *status.Store
	Configs   *configstore.Store
	Executor  *executor.Executor
	History   history.Multi
	Resources *metrics.ResourceCollector
}

// New acquires the daemon lock and builds all components. Nothing is
// started until Run.
func New(opts Options) (*Daemon, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("daemon: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Daemon{cfg: cfg, log: opts.Logger, logCloser: nopCloser{}, watch: opts.Watch}
	if d.log == nil {
		d.log, d.logCloser = logger.New(cfg.Log)
	}
	ok := false
	defer func() {
		if !ok {
			_ = d.Close()
		}
	}()

	if err := os.MkdirAll(cfg.BaseDir, 0o750); err != nil {
		return nil, fmt.Errorf("daemon: create base dir: %w", err)
	}
	switch cfg.Lock.Type {
	case config.LockFile:
		d.lock = lock.NewFile(filepath.Join(cfg.BaseDir, lock.FileName))
	default:
		d.lock = lock.NoOp{}
	}
	if err := d.lock.Acquire(); err != nil {
		d.lock = nil
		return nil, err
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	d.gatherer = opts.Gatherer
	if d.gatherer == nil {
		d.gatherer = prometheus.DefaultGatherer
	}
	if err := metrics.Register(reg); err != nil {
		d.log.Warn("Failed to register metrics", "error", err)
	}
	d.Resources = metrics.NewResourceCollector(cfg.Metrics.Resources)
	if err := d.Resources.RegisterMetrics(reg); err != nil {
		d.log.Warn("Failed to register resource metrics", "error", err)
	}

	sinks, err := factory.NewSinks(cfg.History)
	if err != nil {
		return nil, fmt.Errorf("daemon: history: %w", err)
	}
	d.History = sinks
	var sink history.Sink
	if len(sinks) > 0 {
		sink = sinks
	}

	d.Statuses = status.New(cfg.BaseDir)
	d.Configs, err = configstore.New(filepath.Join(cfg.BaseDir, configstore.DirName))
	if err != nil {
		return nil, err
	}

	handler, err := termination.New(termination.Options{
		Statuses:  d.Statuses,
		Configs:   d.Configs,
		History:   sink,
		OnSuccess: opts.OnSuccess,
		OnFailure: opts.OnFailure,
		Logger:    d.log,
	})
	if err != nil {
		return nil, err
	}
	var notifier notify.Notifier = notify.Log{Logger: d.log}
	if opts.Notifier != nil {
		notifier = notify.Multi{notifier, opts.Notifier}
	}
	d.Registry, err = registry.New(registry.Options[joblet.Metadata]{
		Dir:          cfg.BaseDir,
		Inspector:    opts.Inspector,
		Handler:      handler,
		Notifier:     notifier,
		PollInterval: cfg.PollInterval,
		Logger:       d.log,
	})
	if err != nil {
		return nil, err
	}

	run := opts.Runner
	if run == nil {
		environ, err := cfg.Environment()
		if err != nil {
			return nil, err
		}
		run = &runner.Exec{Env: environ, Logger: d.log}
	}
	logDir := cfg.Log.File.Dir
	if logDir == "" {
		logDir = filepath.Join(cfg.BaseDir, LogDirName)
	}
	d.Executor, err = executor.New(executor.Options{
		Registry:      d.Registry,
		Configs:       d.Configs,
		Runner:        run,
		MaxConcurrent: cfg.MaxConcurrent,
		Factory:       cfg.Factory,
		BaseDir:       cfg.BaseDir,
		WorkDir:       cfg.WorkDir,
		LogDir:        logDir,
		History:       sink,
		Logger:        d.log,
	})
	if err != nil {
		return nil, err
	}
	ok = true
	return d, nil
}

// Config returns the configuration the daemon was built from.
func (d *Daemon) Config() *config.Config { return d.cfg }

// Logger returns the daemon logger.
func (d *Daemon) Logger() *slog.Logger { return d.log }

// Run starts the poller, the HTTP endpoints, resource sampling and the
// config watcher, then blocks until ctx is cancelled or a listener fails.
// Everything it started is stopped before it returns.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.Registry.Start(ctx)
	defer d.Registry.Stop()

	d.Resources.Start(ctx, d.trackedProcesses)
	defer d.Resources.Stop()

	errCh := make(chan error, 2)
	var servers []*http.Server
	if d.cfg.Server.Enabled {
		srv := server.NewServer(d.cfg.Server.Listen, d.cfg.Server.BasePath, server.Backend{
			Executor:  d.Executor,
			Registry:  d.Registry,
			Statuses:  d.Statuses,
			Resources: d.Resources,
		})
		tlsCfg, err := tlsconf.Setup(d.cfg.Server.TLS)
		if err != nil {
			return fmt.Errorf("daemon: api tls: %w", err)
		}
		srv.TLSConfig = tlsCfg
		if err := d.serve(srv, "api", errCh); err != nil {
			return err
		}
		servers = append(servers, srv)
	}
	if d.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: d.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		if err := d.serve(srv, "metrics", errCh); err != nil {
			shutdown(servers)
			return err
		}
		servers = append(servers, srv)
	}
	defer shutdown(servers)

	if d.watch && d.cfg.Path() != "" {
		w, err := config.NewWatcher(d.cfg.Path())
		if err == nil {
			err = w.Start(ctx)
		}
		if err != nil {
			if w != nil {
				_ = w.Stop()
			}
			d.log.Warn("Config watcher disabled", "path", d.cfg.Path(), "error", err)
		} else {
			defer func() { _ = w.Stop() }()
			go d.applyReloads(w.Events())
		}
	}

	d.log.Info("Jobletd started",
		"base_dir", d.cfg.BaseDir,
		"max_concurrent", d.Executor.MaxConcurrent(),
		"api", d.cfg.Server.Listen,
		"metrics", d.cfg.Metrics.Listen)

	select {
	case <-ctx.Done():
		d.log.Info("Shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

func (d *Daemon) serve(srv *http.Server, name string, errCh chan<- error) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("daemon: %s listen %s: %w", name, srv.Addr, err)
	}
	d.addrMu.Lock()
	if d.addrs == nil {
		d.addrs = make(map[string]string)
	}
	d.addrs[name] = ln.Addr().String()
	d.addrMu.Unlock()
	d.log.Info("Listening", "endpoint", name, "addr", ln.Addr().String(), "tls", srv.TLSConfig != nil)
	go func() {
		var err error
		if srv.TLSConfig != nil {
			err = srv.ServeTLS(ln, "", "")
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("daemon: %s server: %w", name, err)
		}
	}()
	return nil
}

// Addr returns the bound address of the "api" or "metrics" endpoint once Run
// is listening, or "" otherwise.
func (d *Daemon) Addr(name string) string {
	d.addrMu.Lock()
	defer d.addrMu.Unlock()
	return d.addrs[name]
}

func shutdown(servers []*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, s := range servers {
		_ = s.Shutdown(ctx)
	}
}

// applyReloads follows the watcher until its channel closes. Only the
// concurrency limit is applied live; other keys need a restart.
func (d *Daemon) applyReloads(events <-chan config.Event) {
	for ev := range events {
		if ev.Error != nil {
			d.log.Warn("Config reload failed", "path", ev.Path, "error", ev.Error)
			continue
		}
		if n := ev.Config.MaxConcurrent; n != d.Executor.MaxConcurrent() {
			d.Executor.SetMaxConcurrent(n)
			d.log.Info("Concurrency limit updated", "max_concurrent", n)
		}
	}
}

// trackedProcesses maps job ids to pids for resource sampling.
func (d *Daemon) trackedProcesses() map[string]int32 {
	entries, err := d.Registry.List()
	if err != nil {
		d.log.Debug("Skipping resource sample", "error", err)
		return nil
	}
	out := make(map[string]int32, len(entries))
	for _, e := range entries {
		out[e.Metadata.ConfigID] = int32(e.PID)
	}
	return out
}

// Close stops history sinks, releases the lock and closes the log file.
// It is safe to call after a failed New.
func (d *Daemon) Close() error {
	var errs []error
	if d.History != nil {
		errs = append(errs, d.History.Close())
		d.History = nil
	}
	if d.lock != nil {
		errs = append(errs, d.lock.Release())
		d.lock = nil
	}
	if d.logCloser != nil {
		errs = append(errs, d.logCloser.Close())
		d.logCloser = nil
	}
	return errors.Join(errs...)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
