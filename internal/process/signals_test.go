package process

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSignalSIGTERMInvokesHandler(t *testing.T) {
	r := NewRegistry()
	sr := NewSignalRouter(r)

	p := &Process{PID: 1, Name: "test", State: StateRunning}
	_ = r.Register(p)

	var called atomic.Bool
	sr.Register(p.PID, func(pid PID, sig Signal, info *ExitInfo) {
		called.Store(true)
	})

	if err := sr.Send(p.PID, SIGTERM, nil); err != nil {
		t.Fatalf("SIGTERM failed: %v", err)
	}
	if !called.Load() {
		t.Fatal("handler was not called")
	}
}

func TestSignalSIGKILL(t *testing.T) {
	r := NewRegistry()
	sr := NewSignalRouter(r)

	p := &Process{PID: 1, Name: "test", State: StateRunning}
	_ = r.Register(p)

	if err := sr.Send(p.PID, SIGKILL, nil); err != nil {
		t.Fatalf("SIGKILL failed: %v", err)
	}

	got, _ := r.Get(p.PID)
	if got.State != StateDead {
		t.Fatalf("expected StateDead after SIGKILL, got %s", got.State)
	}
}

func TestSignalSIGCHLD(t *testing.T) {
	r := NewRegistry()
	sr := NewSignalRouter(r)

	parent := &Process{PID: 1, Name: "root", State: StateRunning}
	_ = r.Register(parent)

	child := &Process{PID: 2, PPID: parent.PID, Name: "worker", State: StateRunning}
	_ = r.Register(child)

	var receivedInfo *ExitInfo
	sr.Register(parent.PID, func(pid PID, sig Signal, info *ExitInfo) {
		if sig == SIGCHLD {
			receivedInfo = info
		}
	})

	sr.NotifyParent(child.PID, 0)

	if receivedInfo == nil {
		t.Fatal("parent did not receive SIGCHLD")
	}
	if receivedInfo.PID != child.PID {
		t.Fatalf("expected child PID %d, got %d", child.PID, receivedInfo.PID)
	}
	if receivedInfo.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", receivedInfo.ExitCode)
	}
}

func TestSendWithGraceEscalatesToKill(t *testing.T) {
	r := NewRegistry()
	sr := NewSignalRouter(r)

	p := &Process{PID: 1, Name: "slow", State: StateRunning}
	_ = r.Register(p)

	sr.SendWithGrace(p.PID, 50*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	got, _ := r.Get(p.PID)
	if got.State != StateDead {
		t.Fatalf("expected StateDead after grace period, got %s", got.State)
	}
}
