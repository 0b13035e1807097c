package joblet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/loykin/jobletd/internal/status"
)

// ConfigLoader loads a stored joblet configuration by id.
type ConfigLoader interface {
	Load(ctx context.Context, id string) (Config, error)
}

// ForkedOptions are the inputs of the child-side entry point.
type ForkedOptions struct {
	Factory  string
	ID       string
	Configs  ConfigLoader
	Statuses *status.Store
	Logger   *slog.Logger
}

// RunForked is executed inside the forked process. It marks the job
// IN_PROGRESS, rebuilds the joblet through the named factory, runs it and
// records DONE or ERROR. The joblet's error is returned so the caller can
// choose an exit code.
func RunForked(ctx context.Context, opts ForkedOptions) error {
	if opts.Statuses == nil || opts.Configs == nil {
		return errors.New("joblet: status store and config loader are required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("id", opts.ID, "factory", opts.Factory)

	if err := opts.Statuses.Start(opts.ID); err != nil {
		return err
	}
	runErr := runJoblet(ctx, opts)
	if runErr != nil {
		log.Error("Joblet failed", "error", runErr)
		info := status.ErrorInfo{Code: CodeOf(runErr), Message: runErr.Error()}
		if err := opts.Statuses.SaveError(opts.ID, info); err != nil {
			return errors.Join(runErr, err)
		}
		return runErr
	}
	log.Info("Joblet completed")
	return opts.Statuses.Complete(opts.ID)
}

func runJoblet(ctx context.Context, opts ForkedOptions) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("joblet panicked: %v\n%s", r, debug.Stack())
		}
	}()
	cfg, err := opts.Configs.Load(ctx, opts.ID)
	if err != nil {
		return fmt.Errorf("load config %s: %w", opts.ID, err)
	}
	factory, err := Lookup(opts.Factory)
	if err != nil {
		return err
	}
	j, err := factory(cfg)
	if err != nil {
		return fmt.Errorf("build joblet: %w", err)
	}
	return j.Run(ctx)
}
