// Package runner launches joblets as independent OS processes.
package runner

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/loykin/jobletd/internal/env"
	"github.com/spf13/pflag"
)

// Subcommand is the hidden CLI entry point executed by forked joblets.
const Subcommand = "run-joblet"

var ErrLaunchFailed = errors.New("runner: launch failed")

// Request describes one joblet launch.
type Request struct {
	Factory   string
	ConfigDir string
	ConfigID  string
	BaseDir   string
	WorkDir   string
	LogDir    string            // joblet output is rotated here by the child; empty discards it
	Env       map[string]string // overrides applied on top of the daemon environment
}

// Runner starts a joblet process and returns its pid without waiting for it.
type Runner interface {
	Run(req Request) (int, error)
}

// Exec re-executes a binary (the daemon itself by default) with the
// run-joblet subcommand. The child runs in its own session so it outlives
// the daemon, and it is reaped in the background while the daemon lives.
type Exec struct {
	// Executable defaults to os.Executable().
	Executable string
	// Prefix is inserted before the subcommand.
	Prefix []string
	// Env is the daemon-wide environment. nil means the OS environment.
	Env    *env.Env
	Logger *slog.Logger
}

// Args returns the argument list handed to the child after Prefix.
func Args(req Request) []string {
	args := []string{
		Subcommand,
		"--factory", req.Factory,
		"--config-dir", req.ConfigDir,
		"--base-dir", req.BaseDir,
		"--work-dir", req.WorkDir,
		"--id", req.ConfigID,
	}
	if req.LogDir != "" {
		args = append(args, "--log-dir", req.LogDir)
	}
	return args
}

func (e *Exec) Run(req Request) (int, error) {
	if req.Factory == "" || req.ConfigID == "" {
		return 0, fmt.Errorf("%w: factory and config id are required", ErrLaunchFailed)
	}
	exe := e.Executable
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return 0, fmt.Errorf("%w: resolve executable: %w", ErrLaunchFailed, err)
		}
		exe = self
	}
	log := e.Logger
	if log == nil {
		log = slog.Default()
	}
	base := e.Env
	if base == nil {
		base = env.New()
	}

	args := append(append([]string{}, e.Prefix...), Args(req)...)
	// #nosec G204
	cmd := exec.Command(exe, args...)
	cmd.Dir = req.WorkDir
	cmd.Env = base.WithMap(req.Env).Merge(nil)
	configureSysProcAttr(cmd)

	// stdio is backed by real files so the child never writes into a pipe
	// owned by the daemon.
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %w", ErrLaunchFailed, os.DevNull, err)
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = devNull, devNull, devNull

	if err := cmd.Start(); err != nil {
		_ = devNull.Close()
		return 0, fmt.Errorf("%w: %s: %w", ErrLaunchFailed, req.ConfigID, err)
	}
	_ = devNull.Close()
	pid := cmd.Process.Pid
	log.Info("Joblet launched", "pid", pid, "id", req.ConfigID, "factory", req.Factory)

	go func() {
		err := cmd.Wait()
		log.Debug("Joblet process reaped", "pid", pid, "id", req.ConfigID, "error", err)
	}()
	return pid, nil
}

// Func adapts a function to Runner.
type Func func(req Request) (int, error)

func (f Func) Run(req Request) (int, error) { return f(req) }

// ParseArgs is the inverse of Args. args starts with Subcommand.
func ParseArgs(args []string) (Request, error) {
	var req Request
	if len(args) == 0 || args[0] != Subcommand {
		return req, fmt.Errorf("runner: expected %s subcommand", Subcommand)
	}
	fs := pflag.NewFlagSet(Subcommand, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&req.Factory, "factory", "", "")
	fs.StringVar(&req.ConfigDir, "config-dir", "", "")
	fs.StringVar(&req.BaseDir, "base-dir", "", "")
	fs.StringVar(&req.WorkDir, "work-dir", "", "")
	fs.StringVar(&req.ConfigID, "id", "", "")
	fs.StringVar(&req.LogDir, "log-dir", "", "")
	if err := fs.Parse(args[1:]); err != nil {
		return req, fmt.Errorf("runner: %w", err)
	}
	if req.Factory == "" || req.ConfigDir == "" || req.BaseDir == "" || req.ConfigID == "" {
		return req, errors.New("runner: --factory, --config-dir, --base-dir and --id are required")
	}
	return req, nil
}
