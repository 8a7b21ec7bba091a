//go:build !windows

package conn

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// setProcAttrs places the child in its own process group
func setProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killTree kills the child's whole process group. Falls back to killing
// just the child when the group kill is not possible. A process that is
// already gone counts as success.
func killTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
