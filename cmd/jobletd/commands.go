package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/loykin/jobletd"
	"github.com/loykin/jobletd/internal/config"
	"github.com/loykin/jobletd/internal/joblet"
	"github.com/loykin/jobletd/internal/registry"
	"github.com/loykin/jobletd/internal/status"
	"github.com/loykin/jobletd/pkg/client"
)

func runServe(ctx context.Context, flags ServeFlags) error {
	if flags.ConfigPath == "" {
		return errors.New("serve requires a config file (serve config.toml or --config)")
	}
	cfg, err := jobletd.LoadConfig(flags.ConfigPath)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := jobletd.New(jobletd.Options{Config: cfg, Watch: !flags.NoWatch})
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Run(ctx)
}

func newAPIClient(flags SubmitFlags) *client.Client {
	cfg := client.Config{BaseURL: flags.APIUrl, Timeout: flags.APITimeout, Insecure: flags.Insecure}
	if flags.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{CACert: flags.CACert}
	}
	return client.New(cfg)
}

func runSubmit(ctx context.Context, out io.Writer, flags SubmitFlags) error {
	api := newAPIClient(flags)
	res, err := api.Submit(ctx, client.JobletRequest{
		Name:    flags.Name,
		Factory: flags.Factory,
		Command: flags.Command,
		WorkDir: flags.WorkDir,
		Env:     flags.Env,
		Params:  flags.Params,
	})
	if err != nil {
		return err
	}
	if !flags.Wait {
		return printJSON(out, res)
	}
	st, err := api.WaitTerminal(ctx, res.ID, flags.PollInterval)
	if err != nil {
		return err
	}
	if err := printJSON(out, st); err != nil {
		return err
	}
	if st.State == client.StateError {
		code := 1
		if st.Error != nil && st.Error.Code > 0 {
			code = int(st.Error.Code)
		}
		return &exitError{code: code, err: fmt.Errorf("joblet %s failed", res.ID)}
	}
	return nil
}

// resolveBaseDir prefers an explicit --base-dir over the config file.
func resolveBaseDir(flags LocalFlags) (string, error) {
	if flags.BaseDir != "" {
		return flags.BaseDir, nil
	}
	if flags.ConfigPath == "" {
		return "", errors.New("either --base-dir or --config is required")
	}
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return "", err
	}
	return cfg.BaseDir, nil
}

func runList(out io.Writer, flags LocalFlags) error {
	base, err := resolveBaseDir(flags)
	if err != nil {
		return err
	}
	reg, err := registry.New(registry.Options[joblet.Metadata]{Dir: base})
	if err != nil {
		return err
	}
	entries, err := reg.List()
	if err != nil {
		return err
	}
	statuses := status.New(base)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PID\tID\tNAME\tFACTORY\tSTATE\tSUBMITTED")
	for _, e := range entries {
		st, err := statuses.Status(e.Metadata.ConfigID)
		if err != nil {
			st = "UNKNOWN"
		}
		submitted := "-"
		if !e.Metadata.SubmittedAt.IsZero() {
			submitted = e.Metadata.SubmittedAt.Local().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.PID, e.Metadata.ConfigID, orDash(e.Metadata.Name), e.Metadata.Factory, st, submitted)
	}
	return tw.Flush()
}

func runStatus(out io.Writer, flags StatusFlags) error {
	base, err := resolveBaseDir(flags.LocalFlags)
	if err != nil {
		return err
	}
	statuses := status.New(base)
	st, err := statuses.Status(flags.ID)
	if err != nil {
		return err
	}
	res := client.JobStatus{ID: flags.ID, State: client.JobState(st)}
	if st == status.StateError {
		info, err := statuses.ErrorInfo(flags.ID)
		if err != nil {
			return err
		}
		if info != nil {
			res.Error = &client.ErrorInfo{Code: info.Code, Message: info.Message}
		}
	}
	return printJSON(out, res)
}

// runJoblet is the child side of a launch. Its exit code mirrors the
// joblet's coded error, if any.
func runJoblet(ctx context.Context, flags RunJobletFlags) error {
	err := jobletd.RunChild(ctx, jobletd.RunRequest{
		Factory:   flags.Factory,
		ConfigDir: flags.ConfigDir,
		ConfigID:  flags.ID,
		BaseDir:   flags.BaseDir,
		WorkDir:   flags.WorkDir,
		LogDir:    flags.LogDir,
	})
	if err != nil {
		return &exitError{code: jobletd.ExitCode(err), err: err}
	}
	return nil
}
