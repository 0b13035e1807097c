package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/loykin/jobletd/pkg/client"
	"github.com/spf13/cobra"
)

// exitError carries a joblet's exit code out of the run-joblet command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

func buildRoot() *cobra.Command {
	var global GlobalFlags
	root := createRootCommand(&global)
	root.AddCommand(
		createServeCommand(&global),
		createSubmitCommand(),
		createListCommand(&global),
		createStatusCommand(&global),
		createRunJobletCommand(),
	)
	return root
}

func createRootCommand(global *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:           "jobletd",
		Short:         "Local joblet supervisor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&global.ConfigPath, "config", "", "path to jobletd TOML config file")
	return root
}

func createServeCommand(global *GlobalFlags) *cobra.Command {
	var flags ServeFlags
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the jobletd daemon in the foreground",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			if len(args) == 1 {
				flags.ConfigPath = args[0]
			}
			return runServe(cmd.Context(), flags)
		},
	}
	cmd.Flags().BoolVar(&flags.NoWatch, "no-watch", false, "do not reload the config file on change")
	return cmd
}

func createSubmitCommand() *cobra.Command {
	var flags SubmitFlags
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a joblet to a running daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSubmit(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "joblet name")
	cmd.Flags().StringVar(&flags.Command, "command", "", "command line for the command factory")
	cmd.Flags().StringVar(&flags.Factory, "factory", "", "joblet factory (daemon default when empty)")
	cmd.Flags().StringVar(&flags.WorkDir, "work-dir", "", "absolute working directory")
	cmd.Flags().StringSliceVar(&flags.Env, "env", nil, "KEY=VALUE environment entries")
	cmd.Flags().StringToStringVar(&flags.Params, "param", nil, "factory parameters as key=value")
	cmd.Flags().BoolVar(&flags.Wait, "wait", false, "poll until the joblet reaches DONE or ERROR")
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", client.DefaultBaseURL, "jobletd API base URL")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", client.DefaultTimeout, "API request timeout")
	cmd.Flags().StringVar(&flags.CACert, "ca-cert", "", "CA certificate for an https API URL")
	cmd.Flags().BoolVar(&flags.Insecure, "insecure", false, "skip TLS certificate verification")
	cmd.Flags().DurationVar(&flags.PollInterval, "poll-interval", time.Second, "status poll interval for --wait")
	return cmd
}

func createListCommand(global *GlobalFlags) *cobra.Command {
	var flags LocalFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked joblets from the daemon state directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.ConfigPath == "" {
				flags.ConfigPath = global.ConfigPath
			}
			return runList(cmd.OutOrStdout(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.BaseDir, "base-dir", "", "daemon base directory (overrides --config)")
	return cmd
}

func createStatusCommand(global *GlobalFlags) *cobra.Command {
	var flags StatusFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the recorded state of a job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.ConfigPath == "" {
				flags.ConfigPath = global.ConfigPath
			}
			return runStatus(cmd.OutOrStdout(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.ID, "id", "", "job id")
	cmd.Flags().StringVar(&flags.BaseDir, "base-dir", "", "daemon base directory (overrides --config)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func createRunJobletCommand() *cobra.Command {
	var flags RunJobletFlags
	cmd := &cobra.Command{
		Use:    "run-joblet",
		Short:  "Run one joblet (used by the daemon)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJoblet(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.Factory, "factory", "", "joblet factory")
	cmd.Flags().StringVar(&flags.ConfigDir, "config-dir", "", "joblet config directory")
	cmd.Flags().StringVar(&flags.BaseDir, "base-dir", "", "daemon base directory")
	cmd.Flags().StringVar(&flags.WorkDir, "work-dir", "", "working directory")
	cmd.Flags().StringVar(&flags.ID, "id", "", "job id")
	cmd.Flags().StringVar(&flags.LogDir, "log-dir", "", "directory for rotated joblet output")
	for _, name := range []string{"factory", "config-dir", "base-dir", "id"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
