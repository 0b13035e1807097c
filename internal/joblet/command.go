package joblet

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/loykin/jobletd/internal/env"
)

// CommandFactory is the name of the built-in factory that runs Config.Command.
const CommandFactory = "command"

func init() {
	Register(CommandFactory, NewCommand)
}

// NewCommand builds a joblet that runs cfg.Command and waits for it.
func NewCommand(cfg Config) (Joblet, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("joblet: command is required")
	}
	return &command{cfg: cfg}, nil
}

type command struct {
	cfg Config
}

func (c *command) Run(ctx context.Context) error {
	cmd := BuildCommand(ctx, c.cfg.Command)
	if c.cfg.WorkDir != "" {
		cmd.Dir = c.cfg.WorkDir
	}
	cmd.Env = env.New().Merge(c.cfg.Env)
	out := OutputFrom(ctx)
	cmd.Stdin = nil
	cmd.Stdout = out.Stdout
	cmd.Stderr = out.Stderr
	if err := cmd.Run(); err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return &CodedError{Code: int64(ee.ExitCode()), Err: fmt.Errorf("%s: %w", c.cfg.Name, err)}
		}
		return fmt.Errorf("%s: %w", c.cfg.Name, err)
	}
	return nil
}

// BuildCommand constructs an *exec.Cmd for cmdStr. A shell is only used when
// the string asks for one explicitly or contains shell metacharacters.
func BuildCommand(ctx context.Context, cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		// #nosec G204
		return exec.CommandContext(ctx, "/bin/true")
	}
	if script, ok := parseExplicitShell(cmdStr); ok {
		// #nosec G204
		return exec.CommandContext(ctx, "/bin/sh", "-c", script)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.CommandContext(ctx, "/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.CommandContext(ctx, parts[0], parts[1:]...)
}

// parseExplicitShell matches "sh -c <script>" style prefixes and returns the
// script with one pair of surrounding quotes removed.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(trim, p) {
			continue
		}
		script := trim[len(p):]
		if n := len(script); n >= 2 {
			if (script[0] == '\'' && script[n-1] == '\'') || (script[0] == '"' && script[n-1] == '"') {
				script = script[1 : n-1]
			}
		}
		return script, true
	}
	return "", false
}
