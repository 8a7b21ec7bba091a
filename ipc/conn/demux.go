package conn

import (
	"sync"

	"github.com/kvpipe/kvpipe/ipc/common"
	"github.com/kvpipe/kvpipe/ipc/wire"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// responseResult contains the result of a request
type responseResult struct {
	payload []byte
	err     error
}

// pendingRequest is a single command awaiting its reply
type pendingRequest struct {
	kind   wire.Kind
	respCh chan responseResult
}

// newPending creates a pending request. The channel is buffered so the
// demultiplexer never blocks on delivery, even when the requester has
// already given up.
func newPending(kind wire.Kind) *pendingRequest {
	return &pendingRequest{
		kind:   kind,
		respCh: make(chan responseResult, 1),
	}
}

// --------------------------------------------------------------------------
// Reply Demultiplexer
// --------------------------------------------------------------------------

// demux reassembles fixed-size reply frames from an unframed byte stream
// and pairs them with pending requests in strict FIFO order. The protocol
// has no request IDs: the only correlation rule is that the engine answers
// every command with exactly one reply, in command order.
type demux struct {
	mu      sync.Mutex
	buf     []byte            // accumulator for partial frames
	pending []*pendingRequest // oldest first
	dead    bool
	deadErr error
}

func newDemux() *demux {
	return &demux{}
}

// register appends a pending request to the FIFO. Fails when the
// connection is already torn down.
func (d *demux) register(p *pendingRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dead {
		return d.deadErr
	}
	d.pending = append(d.pending, p)
	return nil
}

// feed consumes a chunk of the reply stream. Chunk boundaries carry no
// meaning: the accumulator hands out replies only once a full frame is
// buffered, partial frames are held back, surplus bytes stay queued for
// the next call.
func (d *demux) feed(chunk []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dead {
		return d.deadErr
	}

	d.buf = append(d.buf, chunk...)

	for len(d.buf) >= wire.ReplyFrameSize {
		if len(d.pending) == 0 {
			// No request can own this frame, the pairing is broken
			err := common.NewError(common.CodeProtocolViolation, "reply frame without an outstanding request")
			d.failLocked(err)
			return err
		}

		frame := d.buf[:wire.ReplyFrameSize]
		p := d.pending[0]
		d.pending = d.pending[1:]
		p.respCh <- responseResult{payload: wire.DecodeReplyPayload(frame)}

		d.buf = d.buf[wire.ReplyFrameSize:]
	}

	// Release the backing array once fully drained
	if len(d.buf) == 0 {
		d.buf = nil
	}

	return nil
}

// fail tears the demultiplexer down: every outstanding request is
// completed with err, later registrations fail immediately. Returns the
// number of buffered partial-frame bytes that had to be dropped. Calling
// fail more than once keeps the first error.
func (d *demux) fail(err error) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	remnant := len(d.buf)
	d.failLocked(err)
	return remnant
}

func (d *demux) failLocked(err error) {
	if d.dead {
		return
	}
	d.dead = true
	d.deadErr = err

	for _, p := range d.pending {
		p.respCh <- responseResult{err: err}
	}
	d.pending = nil
	d.buf = nil
}

// outstanding returns the number of requests still awaiting a reply
func (d *demux) outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
