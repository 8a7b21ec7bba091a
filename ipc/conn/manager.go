package conn

import (
	"fmt"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/kvpipe/kvpipe/ipc/common"
	"github.com/kvpipe/kvpipe/ipc/wire"
)

var Logger = logger.GetLogger("ipc/conn")

var (
	spawnsTotal     = metrics.GetOrCreateCounter(`kvpipe_engine_spawns_total`)
	restartsTotal   = metrics.GetOrCreateCounter(`kvpipe_engine_restarts_total`)
	violationsTotal = metrics.GetOrCreateCounter(`kvpipe_protocol_violations_total`)
)

// --------------------------------------------------------------------------
// Connection State
// --------------------------------------------------------------------------

// State describes the manager's view of the engine link
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// --------------------------------------------------------------------------
// Manager
// --------------------------------------------------------------------------

// Manager owns the engine process lifecycle. It launches the process on
// demand, probes it for readiness, performs request/reply roundtrips over
// its stdio pipes and restarts it with linear backoff when it dies.
//
// Thread-safety: all methods are safe for concurrent use. Roundtrip is
// designed to be called from a single dispatch goroutine, the FIFO reply
// pairing depends on commands entering the pipe one at a time.
type Manager struct {
	launcher Launcher
	config   common.Config

	mu        sync.Mutex
	cond      *sync.Cond
	state     State
	conn      *connection
	exhausted bool          // reconnect budget spent, cleared by Connect
	closeCh   chan struct{} // closed once, aborts backoff sleeps
}

// connection is one live attachment to an engine process
type connection struct {
	owner   *Manager
	proc    Process
	demux   *demux
	stopCh  chan struct{}
	writeMu sync.Mutex
}

// NewManager creates a manager in the disconnected state. No process is
// launched until Connect or the first Roundtrip.
func NewManager(launcher Launcher, config common.Config) *Manager {
	m := &Manager{
		launcher: launcher,
		config:   config,
		state:    StateDisconnected,
		closeCh:  make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// State returns the current connection state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect establishes the engine link if it is not already up. It also
// clears a previous reconnect exhaustion, making Connect the explicit
// restart after the manager gave up.
func (m *Manager) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.exhausted = false
	for {
		switch m.state {
		case StateConnected:
			return nil
		case StateClosing, StateClosed:
			return common.NewError(common.CodeClientClosed, "client is closed")
		case StateConnecting, StateReconnecting:
			m.cond.Wait()
		case StateDisconnected:
			return m.connectLocked()
		}
	}
}

// acquire returns a live connection, launching the engine lazily. While a
// reconnect is in flight the caller waits for its outcome instead of
// racing it.
func (m *Manager) acquire() (*connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		switch m.state {
		case StateConnected:
			return m.conn, nil
		case StateClosing, StateClosed:
			return nil, common.NewError(common.CodeClientClosed, "client is closed")
		case StateConnecting, StateReconnecting:
			m.cond.Wait()
		case StateDisconnected:
			if m.exhausted {
				return nil, common.Errorf(common.CodeReconnectExhausted,
					"gave up after %d reconnect attempts", m.config.MaxReconnectAttempts)
			}
			if err := m.connectLocked(); err != nil {
				return nil, err
			}
		}
	}
}

// connectLocked launches the engine and waits for it to become ready.
// Called with m.mu held; the probe reply arrives via the read goroutine,
// which never touches the manager lock.
func (m *Manager) connectLocked() error {
	m.setStateLocked(StateConnecting)

	proc, err := m.launcher.Launch()
	if err != nil {
		m.setStateLocked(StateDisconnected)
		return common.Errorf(common.CodeSpawnFailed,
			"failed to launch engine via %s: %v", m.launcher.GetName(), err)
	}
	spawnsTotal.Inc()

	c := &connection{
		owner:  m,
		proc:   proc,
		demux:  newDemux(),
		stopCh: make(chan struct{}),
	}
	go c.readReplies()
	go c.monitor()

	if err := c.probe(m.config.ReadyTimeout); err != nil {
		c.shutdown(common.Errorf(common.CodeSpawnFailed, "engine not ready: %v", err))
		m.setStateLocked(StateDisconnected)
		return common.Errorf(common.CodeSpawnFailed, "engine not ready: %v", err)
	}

	m.conn = c
	m.exhausted = false
	m.setStateLocked(StateConnected)
	Logger.Infof("engine ready (launcher %s, pid %d)", m.launcher.GetName(), proc.Pid())
	return nil
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	Logger.Debugf("connection state %v -> %v", m.state, s)
	m.state = s
	m.cond.Broadcast()
}

// --------------------------------------------------------------------------
// Roundtrips
// --------------------------------------------------------------------------

// Roundtrip writes one encoded command frame and waits for the matching
// reply payload. On timeout the connection is recycled: once a reply has
// been missed the FIFO pairing cannot be trusted anymore, so the process
// is killed and relaunched rather than resynchronized.
func (m *Manager) Roundtrip(kind wire.Kind, frame []byte) ([]byte, error) {
	c, err := m.acquire()
	if err != nil {
		return nil, err
	}

	p := newPending(kind)
	if err := c.send(p, frame); err != nil {
		return nil, err
	}

	var timeoutCh <-chan time.Time
	if m.config.RequestTimeout > 0 {
		timer := time.NewTimer(m.config.RequestTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case res := <-p.respCh:
		return res.payload, res.err
	case <-timeoutCh:
		Logger.Warningf("%v request timed out after %v, recycling engine", kind, m.config.RequestTimeout)
		_ = c.proc.Terminate()
		return nil, common.Errorf(common.CodeRequestTimeout,
			"%v request timed out after %v", kind, m.config.RequestTimeout)
	}
}

// send registers the pending request and writes the frame. Registration
// must happen before the write, the reply can arrive arbitrarily fast.
func (c *connection) send(p *pendingRequest, frame []byte) error {
	if err := c.demux.register(p); err != nil {
		return err
	}

	c.writeMu.Lock()
	_, err := c.proc.Stdin().Write(frame)
	c.writeMu.Unlock()

	if err != nil {
		// A broken stdin means the engine is dying, make sure the
		// monitor sees an exit
		_ = c.proc.Terminate()
		return common.Errorf(common.CodeConnectionLost, "failed to send %v command: %v", p.kind, err)
	}
	return nil
}

// probe sends an empty-key get and waits for any reply. The engine
// rejects the empty key, but a rejection proves the process is attached
// to its pipes and parsing frames.
func (c *connection) probe(timeout time.Duration) error {
	frame, err := wire.EncodeCommand(wire.NewGet(""))
	if err != nil {
		return err
	}

	p := newPending(wire.KindGet)
	if err := c.send(p, frame); err != nil {
		return err
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case res := <-p.respCh:
		return res.err
	case <-timeoutCh:
		return fmt.Errorf("no reply to readiness probe within %v", timeout)
	}
}

// --------------------------------------------------------------------------
// Read / Monitor Goroutines
// --------------------------------------------------------------------------

// readReplies pumps the engine's stdout into the demultiplexer until the
// stream ends or the pairing breaks. Runs without the manager lock so
// replies flow while connectLocked waits on the probe.
func (c *connection) readReplies() {
	buf := make([]byte, 4096)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		n, err := c.proc.Stdout().Read(buf)
		if n > 0 {
			if ferr := c.demux.feed(buf[:n]); ferr != nil {
				if common.HasCode(ferr, common.CodeProtocolViolation) {
					violationsTotal.Inc()
					Logger.Errorf("%v", ferr)
				}
				_ = c.proc.Terminate()
				return
			}
		}
		if err != nil {
			// EOF when the engine exits, anything else means the pipe broke
			remnant := c.demux.fail(common.Errorf(common.CodeConnectionLost, "engine reply stream ended: %v", err))
			if remnant > 0 {
				Logger.Warningf("dropping %d partial reply bytes", remnant)
			}
			_ = c.proc.Terminate()
			return
		}
	}
}

// monitor waits for the process to exit and hands the status to the
// manager. stopCh covers the close path, where Done may already have
// been consumed by the halt handshake.
func (c *connection) monitor() {
	select {
	case st := <-c.proc.Done():
		c.owner.handleExit(c, st)
	case <-c.stopCh:
	}
}

// handleExit reacts to a process exit: a clean exit parks the manager in
// the disconnected state for a lazy relaunch, anything else starts the
// reconnect loop. Exits of an already detached connection are ignored.
func (m *Manager) handleExit(c *connection, st ExitStatus) {
	// Fail outstanding requests before taking the manager lock, the
	// first recorded error wins over this generic one
	c.demux.fail(common.Errorf(common.CodeConnectionLost, "engine exited: %s", describeExit(st)))

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != c {
		return
	}
	m.conn = nil
	close(c.stopCh)

	if m.state == StateClosing || m.state == StateClosed {
		return
	}

	if st.Clean() {
		Logger.Infof("engine exited cleanly, will relaunch on demand")
		m.setStateLocked(StateDisconnected)
		return
	}

	Logger.Warningf("engine died (%s), reconnecting", describeExit(st))
	m.setStateLocked(StateReconnecting)
	go m.reconnectLoop()
}

// reconnectLoop relaunches the engine with linearly growing pauses.
// Runs in its own goroutine; waiters in acquire stay blocked on the
// reconnecting state until the loop settles the outcome.
func (m *Manager) reconnectLoop() {
	max := m.config.MaxReconnectAttempts
	if max <= 0 {
		m.mu.Lock()
		if m.state == StateReconnecting {
			m.exhausted = true
			m.setStateLocked(StateDisconnected)
		}
		m.mu.Unlock()
		return
	}

	for attempt := 1; attempt <= max; attempt++ {
		delay := time.Duration(attempt) * m.config.ReconnectBaseDelay
		Logger.Infof("reconnect attempt %d/%d in %v", attempt, max, delay)

		select {
		case <-time.After(delay):
		case <-m.closeCh:
			return
		}

		m.mu.Lock()
		if m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		err := m.connectLocked()
		if err != nil {
			if attempt < max {
				// connectLocked parked us in disconnected, keep the
				// reconnecting state so waiters do not race the loop
				m.setStateLocked(StateReconnecting)
			} else {
				m.exhausted = true
				Logger.Errorf("giving up after %d reconnect attempts: %v", max, err)
			}
		}
		m.mu.Unlock()

		if err == nil {
			restartsTotal.Inc()
			Logger.Infof("engine restored after %d attempt(s)", attempt)
			return
		}
		Logger.Warningf("reconnect attempt %d/%d failed: %v", attempt, max, err)
	}
}

func describeExit(st ExitStatus) string {
	if st.Err != nil {
		return fmt.Sprintf("wait failed: %v", st.Err)
	}
	if st.Code == -1 {
		return "killed by signal"
	}
	return fmt.Sprintf("exit status %d", st.Code)
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Close shuts the manager down for good. The engine gets a halt command
// and a short grace period to persist its state, then the whole process
// tree is killed. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == StateClosing || m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	c := m.conn
	m.conn = nil
	m.setStateLocked(StateClosing)
	close(m.closeCh)
	m.mu.Unlock()

	if c != nil {
		c.haltGracefully(m.config.HaltTimeout)
		c.shutdown(common.NewError(common.CodeClientClosed, "client closed"))
	}

	m.mu.Lock()
	m.setStateLocked(StateClosed)
	m.mu.Unlock()
	return nil
}

// haltGracefully sends the halt command and waits up to grace for a
// voluntary exit. Best effort: a dead pipe or an ignored halt both end
// in the hard kill.
func (c *connection) haltGracefully(grace time.Duration) {
	frame, err := wire.EncodeCommand(wire.NewHalt())
	if err != nil {
		return
	}

	c.writeMu.Lock()
	_, err = c.proc.Stdin().Write(frame)
	c.writeMu.Unlock()
	if err != nil || grace <= 0 {
		return
	}

	select {
	case <-c.proc.Done():
		Logger.Debugf("engine halted voluntarily")
	case <-time.After(grace):
		Logger.Debugf("engine ignored halt within %v, killing", grace)
	}
}

// shutdown stops the goroutines, kills the process tree and fails all
// outstanding requests with err
func (c *connection) shutdown(err error) {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	_ = c.proc.Terminate()
	c.demux.fail(err)
}
