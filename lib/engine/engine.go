package engine

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lni/dragonboat/v4/logger"

	"github.com/kvpipe/kvpipe/ipc/wire"
)

var Logger = logger.GetLogger("engine")

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

// Options configures a Serve run
type Options struct {
	// SnapshotPath is where the store is persisted across runs. Empty
	// disables persistence.
	SnapshotPath string
	// SweepInterval is the period of the background expiry sweep. Zero
	// disables the sweeper, expired entries are then only dropped on
	// access.
	SweepInterval time.Duration
}

// Engine executes command frames against a Store and answers each one
// with a single reply frame. It is the counterpart of the client in
// ipc/client and normally runs as its child process, attached to it via
// stdin and stdout.
type Engine struct {
	store *Store
	opts  Options
}

func New(opts Options) *Engine {
	return &Engine{store: NewStore(), opts: opts}
}

// Store exposes the underlying store, mainly for tests
func (e *Engine) Store() *Store {
	return e.store
}

// Serve reads command frames from r and writes one reply frame per
// command to w. It returns when the command stream ends or a halt
// command arrives, after persisting the store. A snapshot from a
// previous run is loaded before the first frame.
//
// The halt command and a closed stream both mean an orderly shutdown:
// the client closes stdin right before it kills a halted engine, and a
// dead client leaves the engine with a closed stdin too.
func (e *Engine) Serve(r io.Reader, w io.Writer) error {
	if err := e.loadSnapshot(); err != nil {
		Logger.Warningf("starting with an empty store: %v", err)
	}

	if e.opts.SweepInterval > 0 {
		stop := make(chan struct{})
		go e.sweepLoop(stop)
		defer close(stop)
	}

	frame := make([]byte, wire.CommandFrameSize)
	for {
		if _, err := io.ReadFull(r, frame); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				Logger.Infof("command stream closed, shutting down")
				return e.saveSnapshot()
			}
			return fmt.Errorf("failed to read command frame: %v", err)
		}

		reply, halt := e.apply(frame)
		if halt {
			Logger.Infof("halt received, shutting down")
			return e.saveSnapshot()
		}
		if _, err := w.Write(reply); err != nil {
			return fmt.Errorf("failed to write reply: %v", err)
		}
	}
}

// apply executes one command frame and builds the reply. A get hit
// answers with the stored record block verbatim, everything else with
// the single-letter sentinels of the wire protocol.
func (e *Engine) apply(frame []byte) (reply []byte, halt bool) {
	cmd, err := wire.DecodeCommand(frame)
	if err != nil {
		Logger.Errorf("rejecting malformed frame: %v", err)
		return wire.SentinelReply(wire.SentinelError), false
	}

	switch cmd.Kind {
	case wire.KindInsert:
		if cmd.Key == "" {
			return wire.SentinelReply(wire.SentinelError), false
		}
		e.store.Put(cmd.Key, wire.RecordBlock(frame), cmd.Expire)
		return wire.SentinelReply(wire.SentinelInsertOK), false

	case wire.KindGet:
		if cmd.Key == "" {
			return wire.SentinelReply(wire.SentinelError), false
		}
		block, ok := e.store.Get(cmd.Key)
		if !ok {
			return wire.SentinelReply(wire.SentinelGetMiss), false
		}
		return block[:], false

	case wire.KindRemove:
		if cmd.Key == "" {
			return wire.SentinelReply(wire.SentinelError), false
		}
		e.store.Delete(cmd.Key)
		return wire.SentinelReply(wire.SentinelRemoveOK), false

	case wire.KindHalt:
		return nil, true
	}

	return wire.SentinelReply(wire.SentinelError), false
}

// --------------------------------------------------------------------------
// Background Sweep
// --------------------------------------------------------------------------

func (e *Engine) sweepLoop(stop chan struct{}) {
	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := e.store.Sweep(); removed > 0 {
				Logger.Debugf("swept %d expired records", removed)
			}
		case <-stop:
			return
		}
	}
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

func (e *Engine) loadSnapshot() error {
	if e.opts.SnapshotPath == "" {
		return nil
	}

	f, err := os.Open(e.opts.SnapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open snapshot: %v", err)
	}
	defer func() { _ = f.Close() }()

	if err := e.store.Load(f); err != nil {
		return fmt.Errorf("failed to load snapshot %s: %v", e.opts.SnapshotPath, err)
	}
	Logger.Infof("loaded %d records from %s", e.store.Len(), e.opts.SnapshotPath)
	return nil
}

func (e *Engine) saveSnapshot() error {
	if e.opts.SnapshotPath == "" {
		return nil
	}

	// Write to the side and move into place, a crash mid-write must not
	// eat the previous snapshot
	tmp := e.opts.SnapshotPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %v", err)
	}
	if err := e.store.Save(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write snapshot: %v", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %v", err)
	}
	if err := os.Rename(tmp, e.opts.SnapshotPath); err != nil {
		return fmt.Errorf("failed to move snapshot into place: %v", err)
	}

	Logger.Infof("persisted %d records to %s", e.store.Len(), e.opts.SnapshotPath)
	return nil
}
