package conn

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/kvpipe/kvpipe/ipc/common"
)

// --------------------------------------------------------------------------
// Subprocess Launcher
// --------------------------------------------------------------------------

// ExecLauncher starts the engine as a child process with piped stdin and
// stdout. The child is placed in its own process group where the platform
// supports it, so Terminate can take down the whole process tree.
type ExecLauncher struct {
	command       string
	args          []string
	inheritStderr bool
}

// NewExecLauncher creates a launcher for the engine command configured in
// cfg. Stderr of the child is discarded unless cfg.InheritStderr is set.
func NewExecLauncher(cfg common.Config) *ExecLauncher {
	return &ExecLauncher{
		command:       cfg.Command,
		args:          cfg.Args,
		inheritStderr: cfg.InheritStderr,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see conn.Launcher)
// --------------------------------------------------------------------------

func (l *ExecLauncher) GetName() string {
	return "exec"
}

func (l *ExecLauncher) Launch() (Process, error) {
	cmd := exec.Command(l.command, l.args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %v", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %v", err)
	}

	if l.inheritStderr {
		cmd.Stderr = os.Stderr
	}

	// Own process group so Terminate reaches children of the engine too
	setProcAttrs(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %v", l.command, err)
	}

	p := &execProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		done:   make(chan ExitStatus, 1),
	}

	// Reap the child and publish its exit status
	go func() {
		p.done <- exitStatus(cmd.Wait())
	}()

	return p, nil
}

// --------------------------------------------------------------------------
// Process Handle
// --------------------------------------------------------------------------

// execProcess wraps a running exec.Cmd
type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	done   chan ExitStatus
}

func (p *execProcess) Stdin() io.Writer {
	return p.stdin
}

func (p *execProcess) Stdout() io.Reader {
	return p.stdout
}

func (p *execProcess) Done() <-chan ExitStatus {
	return p.done
}

func (p *execProcess) Pid() int {
	if p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Terminate() error {
	// Closing stdin first gives a well-behaved engine its EOF
	_ = p.stdin.Close()
	return killTree(p.cmd)
}

// exitStatus converts the result of cmd.Wait into an ExitStatus
func exitStatus(err error) ExitStatus {
	if err == nil {
		return ExitStatus{Code: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// ExitCode is -1 when the process was killed by a signal
		return ExitStatus{Code: exitErr.ExitCode()}
	}
	return ExitStatus{Code: -1, Err: err}
}
