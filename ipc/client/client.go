package client

import (
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/kvpipe/kvpipe/ipc/common"
	"github.com/kvpipe/kvpipe/ipc/conn"
	"github.com/kvpipe/kvpipe/ipc/wire"
	"github.com/kvpipe/kvpipe/lib/queue"
)

var Logger = logger.GetLogger("ipc/client")

var (
	insertsTotal     = metrics.GetOrCreateCounter(`kvpipe_client_commands_total{kind="insert"}`)
	getsTotal        = metrics.GetOrCreateCounter(`kvpipe_client_commands_total{kind="get"}`)
	removesTotal     = metrics.GetOrCreateCounter(`kvpipe_client_commands_total{kind="remove"}`)
	errorsTotal      = metrics.GetOrCreateCounter(`kvpipe_client_errors_total`)
	roundtripSeconds = metrics.GetOrCreateSummary(`kvpipe_client_roundtrip_seconds`)
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// operation travels from a caller to the dispatch goroutine
type operation struct {
	kind   wire.Kind
	frame  []byte
	respCh chan opResult
}

type opResult struct {
	payload []byte
	err     error
}

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// Client is the public handle to the cache engine. Callers from any
// goroutine enqueue commands, a single dispatch goroutine feeds them to
// the engine one at a time. That serialization is what keeps the ID-less
// wire protocol correlatable, so there is exactly one dispatch loop per
// client.
//
// Commands submitted while the engine is down or restarting wait in the
// queue and are sent once the connection is back.
type Client struct {
	config  common.Config
	manager *conn.Manager
	ops     *queue.MPSC[operation]
	done    chan struct{}
	closed  atomic.Bool
}

// New creates a client that launches the engine from config.Command. The
// engine is not started yet, use Start for an eager launch or let the
// first command trigger it.
func New(config common.Config) (*Client, error) {
	return NewWithLauncher(config, conn.NewExecLauncher(config))
}

// NewWithLauncher creates a client on a custom launcher. Used by tests
// to run the engine in-process.
func NewWithLauncher(config common.Config, launcher conn.Launcher) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config:  config,
		manager: conn.NewManager(launcher, config),
		ops:     queue.New[operation](),
		done:    make(chan struct{}),
	}
	go c.dispatch()

	Logger.Debugf("client created (engine command %q)", config.Command)
	return c, nil
}

// dispatch is the single consumer of the operation queue. One command is
// in flight at a time, the next one leaves only after the reply (or
// failure) of the previous one.
func (c *Client) dispatch() {
	defer close(c.done)
	for op := range c.ops.Recv() {
		payload, err := c.manager.Roundtrip(op.kind, op.frame)
		op.respCh <- opResult{payload: payload, err: err}
	}
}

// submit enqueues one command and waits for its outcome
func (c *Client) submit(cmd wire.Command) ([]byte, error) {
	if c.closed.Load() {
		return nil, common.NewError(common.CodeClientClosed, "client is closed")
	}

	frame, err := wire.EncodeCommand(cmd)
	if err != nil {
		return nil, err
	}

	op := operation{kind: cmd.Kind, frame: frame, respCh: make(chan opResult, 1)}
	if !c.ops.Push(&op) {
		return nil, common.NewError(common.CodeClientClosed, "client is closed")
	}

	select {
	case res := <-op.respCh:
		return res.payload, res.err
	case <-c.done:
		// The dispatch loop is gone. Pick up a result that raced the
		// shutdown, otherwise the operation was never dispatched.
		select {
		case res := <-op.respCh:
			return res.payload, res.err
		default:
			return nil, common.NewError(common.CodeClientClosed, "client is closed")
		}
	}
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// Insert stores value under key with an optional time to live in seconds
// (0 means no expiry). The returned slice is the value as stored, which
// differs from the input only when oversize truncation is enabled.
func (c *Client) Insert(key string, value []byte, expire uint16) ([]byte, error) {
	if c.config.TruncateOversize {
		key = wire.TruncateKey(key)
		value = wire.TruncateValue(value)
	}

	insertsTotal.Inc()
	start := time.Now()
	payload, err := c.submit(wire.NewInsert(key, value, expire))
	roundtripSeconds.UpdateDuration(start)
	if err != nil {
		errorsTotal.Inc()
		return nil, err
	}

	if err := wire.InterpretInsertReply(payload); err != nil {
		errorsTotal.Inc()
		return nil, err
	}
	return value, nil
}

// Get looks a key up. A missing or expired key is reported through found,
// not through an error.
func (c *Client) Get(key string) (value []byte, found bool, err error) {
	if c.config.TruncateOversize {
		key = wire.TruncateKey(key)
	}

	getsTotal.Inc()
	start := time.Now()
	payload, err := c.submit(wire.NewGet(key))
	roundtripSeconds.UpdateDuration(start)
	if err != nil {
		errorsTotal.Inc()
		return nil, false, err
	}

	value, found = wire.InterpretGetReply(payload)
	return value, found, nil
}

// Remove deletes a key. Removing a key that does not exist is not an
// error.
func (c *Client) Remove(key string) error {
	if c.config.TruncateOversize {
		key = wire.TruncateKey(key)
	}

	removesTotal.Inc()
	start := time.Now()
	payload, err := c.submit(wire.NewRemove(key))
	roundtripSeconds.UpdateDuration(start)
	if err != nil {
		errorsTotal.Inc()
		return err
	}

	if err := wire.InterpretRemoveReply(payload); err != nil {
		errorsTotal.Inc()
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Start launches the engine eagerly instead of waiting for the first
// command. It is also the explicit restart after the reconnect budget is
// spent.
func (c *Client) Start() error {
	if c.closed.Load() {
		return common.NewError(common.CodeClientClosed, "client is closed")
	}
	return c.manager.Connect()
}

// State reports the engine connection state
func (c *Client) State() conn.State {
	return c.manager.State()
}

// Close shuts the client down: the in-flight command fails, queued
// commands fail as they drain, the engine gets a halt command and is
// then killed with its whole process tree. Safe to call more than once.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Closing the manager first unblocks a dispatch goroutine stuck in a
	// roundtrip, then the queue drains through the dispatch loop
	err := c.manager.Close()
	c.ops.Close()
	<-c.done

	Logger.Debugf("client closed")
	return err
}
