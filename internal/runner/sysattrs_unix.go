//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr starts the joblet in a new session so it is detached
// from the daemon's terminal and process group.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
