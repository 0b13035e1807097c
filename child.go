package jobletd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/jobletd/internal/configstore"
	"github.com/loykin/jobletd/internal/joblet"
	"github.com/loykin/jobletd/internal/logger"
	"github.com/loykin/jobletd/internal/runner"
	"github.com/loykin/jobletd/internal/status"
)

// IsChild reports whether args (usually os.Args[1:]) invoke the joblet
// entry point the daemon launches.
func IsChild(args []string) bool {
	return len(args) > 0 && args[0] == runner.Subcommand
}

// HandleChild runs the joblet and exits when the process was started by a
// daemon. Programs embedding a Daemon must call it first thing in main,
// after registering their factories.
func HandleChild() {
	if !IsChild(os.Args[1:]) {
		return
	}
	req, err := runner.ParseArgs(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	os.Exit(ExitCode(RunChild(context.Background(), req)))
}

// RunChild executes one joblet in the current process: it switches to the
// work directory, routes output to rotated files under LogDir and records
// IN_PROGRESS then DONE or ERROR in the status store. SIGINT and SIGTERM
// cancel the joblet's context.
func RunChild(ctx context.Context, req RunRequest) error {
	if req.WorkDir != "" {
		if err := os.Chdir(req.WorkDir); err != nil {
			return err
		}
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	outW, errW, err := logger.FileConfig{Dir: req.LogDir}.ProcessWriters(req.ConfigID)
	if err != nil {
		return err
	}
	var logW io.Writer = io.Discard
	if errW != nil {
		defer func() { _ = errW.Close() }()
		logW = errW
	}
	if outW != nil {
		defer func() { _ = outW.Close() }()
	}
	ctx = joblet.WithOutput(ctx, joblet.Output{Stdout: outW, Stderr: errW})

	configs, err := configstore.New(req.ConfigDir)
	if err != nil {
		return err
	}
	return joblet.RunForked(ctx, joblet.ForkedOptions{
		Factory:  req.Factory,
		ID:       req.ConfigID,
		Configs:  configs,
		Statuses: status.New(req.BaseDir),
		Logger:   slog.New(slog.NewTextHandler(logW, nil)),
	})
}

// ExitCode maps a RunChild error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if code := joblet.CodeOf(err); code > 0 && code < 256 {
		return int(code)
	}
	return 1
}
