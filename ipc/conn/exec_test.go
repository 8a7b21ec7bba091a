//go:build !windows

package conn

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/kvpipe/kvpipe/ipc/common"
)

func launcherFor(command string, args ...string) *ExecLauncher {
	cfg := common.DefaultConfig()
	cfg.Command = command
	cfg.Args = args
	return NewExecLauncher(cfg)
}

func TestExecLaunchPipes(t *testing.T) {
	// cat echoes stdin to stdout unchanged, which is all this test needs
	l := launcherFor("cat")
	proc, err := l.Launch()
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	defer func() { _ = proc.Terminate() }()

	if proc.Pid() <= 0 {
		t.Errorf("pid = %d, want > 0", proc.Pid())
	}

	msg := []byte("pipe payload\n")
	if _, err := proc.Stdin().Write(msg); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(proc.Stdout(), buf); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(buf, msg) {
		t.Errorf("echoed %q, want %q", buf, msg)
	}
}

func TestExecLaunchMissingBinary(t *testing.T) {
	l := launcherFor("kvpipe-no-such-binary")
	if _, err := l.Launch(); err == nil {
		t.Fatal("launching a missing binary succeeded")
	}
}

func TestExecCleanExit(t *testing.T) {
	l := launcherFor("true")
	proc, err := l.Launch()
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}

	select {
	case st := <-proc.Done():
		if !st.Clean() {
			t.Errorf("exit status = %+v, want clean", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exit")
	}
}

func TestExecExitCode(t *testing.T) {
	l := launcherFor("sh", "-c", "exit 3")
	proc, err := l.Launch()
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}

	select {
	case st := <-proc.Done():
		if st.Clean() {
			t.Error("non-zero exit reported as clean")
		}
		if st.Code != 3 {
			t.Errorf("code = %d, want 3", st.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exit")
	}
}

func TestExecTerminate(t *testing.T) {
	l := launcherFor("sleep", "60")
	proc, err := l.Launch()
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}

	if err := proc.Terminate(); err != nil {
		t.Fatalf("terminate failed: %v", err)
	}
	select {
	case st := <-proc.Done():
		if st.Clean() {
			t.Error("killed process reported a clean exit")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("terminate did not end the process")
	}

	// Terminating twice is harmless
	if err := proc.Terminate(); err != nil {
		t.Errorf("second terminate failed: %v", err)
	}
}
