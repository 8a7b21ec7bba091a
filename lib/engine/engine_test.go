package engine

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kvpipe/kvpipe/ipc/wire"
)

// engineHarness drives Serve over in-memory pipes, standing in for the
// stdin/stdout wiring of a real engine process
type engineHarness struct {
	t      *testing.T
	engine *Engine
	stdin  *io.PipeWriter
	stdout *io.PipeReader
	result chan error
}

func startEngine(t *testing.T, opts Options) *engineHarness {
	t.Helper()

	cmdR, cmdW := io.Pipe()
	repR, repW := io.Pipe()
	e := New(opts)

	result := make(chan error, 1)
	go func() {
		result <- e.Serve(cmdR, repW)
		_ = repW.Close()
	}()

	return &engineHarness{t: t, engine: e, stdin: cmdW, stdout: repR, result: result}
}

// roundtrip sends one command and returns the raw reply frame
func (h *engineHarness) roundtrip(cmd wire.Command) []byte {
	h.t.Helper()

	frame, err := wire.EncodeCommand(cmd)
	if err != nil {
		h.t.Fatalf("encode failed: %v", err)
	}
	return h.sendRaw(frame)
}

func (h *engineHarness) sendRaw(frame []byte) []byte {
	h.t.Helper()

	if _, err := h.stdin.Write(frame); err != nil {
		h.t.Fatalf("write failed: %v", err)
	}
	reply := make([]byte, wire.ReplyFrameSize)
	if _, err := io.ReadFull(h.stdout, reply); err != nil {
		h.t.Fatalf("read reply failed: %v", err)
	}
	return reply
}

// shutdown ends the run via a closed command stream and returns Serve's
// error
func (h *engineHarness) shutdown() error {
	h.t.Helper()

	_ = h.stdin.Close()
	select {
	case err := <-h.result:
		return err
	case <-time.After(2 * time.Second):
		h.t.Fatal("engine did not shut down")
		return nil
	}
}

func payloadOf(reply []byte) string {
	return string(wire.DecodeReplyPayload(reply))
}

func TestEngineInsertGetRemove(t *testing.T) {
	h := startEngine(t, Options{})
	defer h.shutdown()

	if got := payloadOf(h.roundtrip(wire.NewInsert("greeting", []byte("hello"), 0))); got != wire.SentinelInsertOK {
		t.Fatalf("insert reply = %q, want %q", got, wire.SentinelInsertOK)
	}

	value, found := wire.InterpretGetReply(wire.DecodeReplyPayload(h.roundtrip(wire.NewGet("greeting"))))
	if !found {
		t.Fatal("inserted key not found")
	}
	if string(value) != "hello" {
		t.Errorf("value = %q, want %q", value, "hello")
	}

	if got := payloadOf(h.roundtrip(wire.NewRemove("greeting"))); got != wire.SentinelRemoveOK {
		t.Errorf("remove reply = %q, want %q", got, wire.SentinelRemoveOK)
	}
	if _, found := wire.InterpretGetReply(wire.DecodeReplyPayload(h.roundtrip(wire.NewGet("greeting")))); found {
		t.Error("removed key still found")
	}

	// Removing again is answered the same way
	if got := payloadOf(h.roundtrip(wire.NewRemove("greeting"))); got != wire.SentinelRemoveOK {
		t.Errorf("repeated remove reply = %q, want %q", got, wire.SentinelRemoveOK)
	}
}

func TestEngineGetHitReturnsRecordBlock(t *testing.T) {
	h := startEngine(t, Options{})
	defer h.shutdown()

	insert, err := wire.EncodeCommand(wire.NewInsert("blocky", []byte("raw"), 300))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	h.sendRaw(insert)

	reply := h.roundtrip(wire.NewGet("blocky"))
	want := wire.RecordBlock(insert)
	if !bytes.Equal(reply, want[:]) {
		t.Error("get hit did not return the record block verbatim")
	}
}

func TestEngineEmptyKey(t *testing.T) {
	h := startEngine(t, Options{})
	defer h.shutdown()

	// The empty key is rejected across all commands, the client uses the
	// get variant as its readiness probe
	if got := payloadOf(h.roundtrip(wire.NewGet(""))); got != wire.SentinelError {
		t.Errorf("empty-key get reply = %q, want %q", got, wire.SentinelError)
	}
	if got := payloadOf(h.roundtrip(wire.NewRemove(""))); got != wire.SentinelError {
		t.Errorf("empty-key remove reply = %q, want %q", got, wire.SentinelError)
	}
	frame := make([]byte, wire.CommandFrameSize)
	frame[0] = byte(wire.KindInsert)
	if got := payloadOf(h.sendRaw(frame)); got != wire.SentinelError {
		t.Errorf("empty-key insert reply = %q, want %q", got, wire.SentinelError)
	}
}

func TestEngineEmptyValue(t *testing.T) {
	h := startEngine(t, Options{})
	defer h.shutdown()

	h.roundtrip(wire.NewInsert("hollow", nil, 0))

	payload := wire.DecodeReplyPayload(h.roundtrip(wire.NewGet("hollow")))
	value, found := wire.InterpretGetReply(payload)
	if !found {
		t.Fatal("key with empty value reported as miss")
	}
	if len(value) != 0 {
		t.Errorf("value = %q, want empty", value)
	}
}

func TestEngineMalformedFrame(t *testing.T) {
	h := startEngine(t, Options{})
	defer h.shutdown()

	garbage := bytes.Repeat([]byte{'X'}, wire.CommandFrameSize)
	if got := payloadOf(h.sendRaw(garbage)); got != wire.SentinelError {
		t.Fatalf("garbage frame reply = %q, want %q", got, wire.SentinelError)
	}

	// The engine keeps serving after a bad frame
	if got := payloadOf(h.roundtrip(wire.NewInsert("after", []byte("ok"), 0))); got != wire.SentinelInsertOK {
		t.Errorf("insert after garbage = %q, want %q", got, wire.SentinelInsertOK)
	}
}

func TestEngineTTLExpiry(t *testing.T) {
	h := startEngine(t, Options{})
	defer h.shutdown()

	h.roundtrip(wire.NewInsert("shortlived", []byte("v"), 1))

	if _, found := wire.InterpretGetReply(wire.DecodeReplyPayload(h.roundtrip(wire.NewGet("shortlived")))); !found {
		t.Fatal("fresh entry reported as miss")
	}

	time.Sleep(1100 * time.Millisecond)

	if _, found := wire.InterpretGetReply(wire.DecodeReplyPayload(h.roundtrip(wire.NewGet("shortlived")))); found {
		t.Error("expired entry still served")
	}
}

func TestEngineSweeper(t *testing.T) {
	h := startEngine(t, Options{SweepInterval: 50 * time.Millisecond})
	defer h.shutdown()

	h.roundtrip(wire.NewInsert("doomed", []byte("v"), 1))

	time.Sleep(1300 * time.Millisecond)

	// The sweeper drops the entry without any access
	if got := h.engine.Store().Len(); got != 0 {
		t.Errorf("len = %d after sweep, want 0", got)
	}
}

func TestEngineHaltPersistsAndRestores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.snap")

	h := startEngine(t, Options{SnapshotPath: path})
	h.roundtrip(wire.NewInsert("durable", []byte("survives"), 0))

	// Halt gets no reply, the engine persists and exits
	frame, err := wire.EncodeCommand(wire.NewHalt())
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if _, err := h.stdin.Write(frame); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	select {
	case err := <-h.result:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not halt")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("no snapshot written: %v", err)
	}

	// A fresh engine on the same path serves the persisted record
	h2 := startEngine(t, Options{SnapshotPath: path})
	defer h2.shutdown()

	value, found := wire.InterpretGetReply(wire.DecodeReplyPayload(h2.roundtrip(wire.NewGet("durable"))))
	if !found {
		t.Fatal("persisted key not found after restart")
	}
	if string(value) != "survives" {
		t.Errorf("value = %q, want %q", value, "survives")
	}
}

func TestEngineStreamCloseActsLikeHalt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.snap")

	h := startEngine(t, Options{SnapshotPath: path})
	h.roundtrip(wire.NewInsert("durable", []byte("v"), 0))

	if err := h.shutdown(); err != nil {
		t.Fatalf("serve returned %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("no snapshot written on stream close: %v", err)
	}
}
