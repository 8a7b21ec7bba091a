//go:build windows

package conn

import (
	"errors"
	"os"
	"os/exec"
)

// setProcAttrs is a no-op on windows, there are no process groups to join
func setProcAttrs(cmd *exec.Cmd) {
}

// killTree kills the child process. Grandchildren are not tracked on
// windows, the engine is expected not to spawn any. A process that is
// already gone counts as success.
func killTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
