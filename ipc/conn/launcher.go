package conn

import (
	"io"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// Launcher abstracts how an engine process is started. The production
// implementation spawns a subprocess, tests run the engine in-process
// over pipes.
type Launcher interface {
	// Launch starts a fresh engine process and returns a handle to it
	Launch() (Process, error)

	// GetName returns the name of the launcher type (e.g. "exec", "inproc")
	GetName() string
}

// Process is a handle to a running engine. Stdin and Stdout are the two
// halves of the duplex byte pipe the protocol runs over.
type Process interface {
	// Stdin returns the writer connected to the engine's standard input
	Stdin() io.Writer

	// Stdout returns the reader connected to the engine's standard output
	Stdout() io.Reader

	// Done returns a channel that delivers the exit status once the
	// process has terminated for any reason
	Done() <-chan ExitStatus

	// Terminate forcefully kills the process and everything it spawned.
	// Safe to call more than once and after the process has exited.
	Terminate() error

	// Pid returns the operating system process id, or -1 if the engine
	// does not run as a separate process
	Pid() int
}

// ExitStatus describes how an engine process ended.
type ExitStatus struct {
	Code int   // Exit code, -1 when killed by a signal
	Err  error // Non-nil when waiting on the process itself failed
}

// Clean reports whether the engine ended voluntarily with status zero.
// Anything else (non-zero exit, signal, wait failure) counts as abnormal
// and triggers reconnection.
func (s ExitStatus) Clean() bool {
	return s.Code == 0 && s.Err == nil
}
