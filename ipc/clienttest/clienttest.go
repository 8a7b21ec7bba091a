// Package clienttest provides helpers for testing code against a real
// cache engine without spawning child processes: an in-process engine
// behind the conn.Launcher interface and a reusable behavior suite for
// client setups.
package clienttest

import (
	"errors"
	"io"
	"sync"

	"github.com/kvpipe/kvpipe/ipc/conn"
	"github.com/kvpipe/kvpipe/lib/engine"
)

// --------------------------------------------------------------------------
// In-Process Engine
// --------------------------------------------------------------------------

// EngineLauncher runs the real engine in-process, connected through pipe
// pairs instead of a child process. Tests can crash or stop the current
// engine and make launches fail to exercise the reconnect machinery.
type EngineLauncher struct {
	mu       sync.Mutex
	opts     engine.Options
	launches int
	failing  bool
	current  *engineProcess
}

func NewEngineLauncher(opts engine.Options) *EngineLauncher {
	return &EngineLauncher{opts: opts}
}

func (l *EngineLauncher) GetName() string { return "in-process" }

func (l *EngineLauncher) Launch() (conn.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.launches++
	if l.failing {
		return nil, errors.New("launches disabled")
	}
	p := newEngineProcess(l.launches, l.opts)
	l.current = p
	return p, nil
}

// Launches returns how many launches were attempted, failed ones included
func (l *EngineLauncher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// SetFailing makes every following launch fail until cleared
func (l *EngineLauncher) SetFailing(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failing = v
}

// CrashCurrent kills the running engine the way a crashed process would
// die: pipes break, the exit status is not clean
func (l *EngineLauncher) CrashCurrent() {
	l.mu.Lock()
	p := l.current
	l.mu.Unlock()
	if p != nil {
		p.exit(conn.ExitStatus{Code: -1})
	}
}

// ExitCurrent ends the running engine with a clean exit status, like an
// engine that shut itself down voluntarily
func (l *EngineLauncher) ExitCurrent() {
	l.mu.Lock()
	p := l.current
	l.mu.Unlock()
	if p != nil {
		p.exit(conn.ExitStatus{Code: 0})
	}
}

// engineProcess adapts an engine.Serve goroutine to the conn.Process
// interface
type engineProcess struct {
	pid  int
	cmdR *io.PipeReader
	cmdW *io.PipeWriter
	repR *io.PipeReader
	repW *io.PipeWriter
	done chan conn.ExitStatus
	once sync.Once
}

func newEngineProcess(pid int, opts engine.Options) *engineProcess {
	p := &engineProcess{pid: pid, done: make(chan conn.ExitStatus, 1)}
	p.cmdR, p.cmdW = io.Pipe()
	p.repR, p.repW = io.Pipe()

	e := engine.New(opts)
	go func() {
		if err := e.Serve(p.cmdR, p.repW); err != nil {
			p.exit(conn.ExitStatus{Code: 1})
			return
		}
		p.exit(conn.ExitStatus{Code: 0})
	}()

	return p
}

func (p *engineProcess) exit(st conn.ExitStatus) {
	p.once.Do(func() {
		p.cmdW.CloseWithError(io.ErrClosedPipe)
		p.cmdR.CloseWithError(io.ErrClosedPipe)
		_ = p.repW.Close()
		p.done <- st
	})
}

func (p *engineProcess) Stdin() io.Writer             { return p.cmdW }
func (p *engineProcess) Stdout() io.Reader            { return p.repR }
func (p *engineProcess) Done() <-chan conn.ExitStatus { return p.done }
func (p *engineProcess) Pid() int                     { return p.pid }

func (p *engineProcess) Terminate() error {
	p.exit(conn.ExitStatus{Code: -1})
	return nil
}
