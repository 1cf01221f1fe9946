package cluster

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lineCode/postoffice/internal/postoffice"
)

func newTestPostoffice(t *testing.T) *postoffice.Postoffice {
	t.Helper()
	cfg := postoffice.DefaultConfig()
	cfg.DispatchWorkers = 2
	cfg.DispatchQueueSize = 32
	p := postoffice.New(cfg)
	t.Cleanup(p.Stop)
	return p
}

func newTestRoot(t *testing.T, po *postoffice.Postoffice) *Root {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "postoffice.sock")
	r := NewRoot(po, sock)
	if err := r.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	go r.Serve()
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// TestClusterForward verifies a message published on the root reaches a
// dialed worker's local subscriber (§4.5 fan-out).
func TestClusterForward(t *testing.T) {
	rootPO := newTestPostoffice(t)
	root := newTestRoot(t, rootPO)

	workerPO := newTestPostoffice(t)
	worker, err := Dial(workerPO, root.SocketPath())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = worker.Close() })
	go worker.Run()

	var got atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	if _, err := workerPO.Subscribe(postoffice.SubscribeArgs{
		Channel: []byte("news"),
		Callback: func(v *postoffice.MessageView) {
			defer wg.Done()
			got.Add(1)
			if string(v.Payload()) != "hi" {
				t.Errorf("unexpected payload %q", v.Payload())
			}
		},
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Let the SUB frame reach the root before publishing there.
	time.Sleep(50 * time.Millisecond)

	if err := rootPO.Publish(postoffice.ScopeCluster, 0, "news", "hi"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitOrTimeout(t, &wg)
	if got.Load() != 1 {
		t.Errorf("expected exactly one delivery, got %d", got.Load())
	}
}

// TestClusterParentCrash verifies that a link closing without a prior
// SHUTDOWN frame runs the worker's parent-crash hook and self-delivers
// SIGINT (§4.5, §7 "Parent crash"). selfSignal is stubbed for the
// duration of the test so the assertion doesn't actually signal the test
// binary.
func TestClusterParentCrash(t *testing.T) {
	var signaled atomic.Bool
	origSignal := selfSignal
	selfSignal = func(os.Signal) { signaled.Store(true) }
	t.Cleanup(func() { selfSignal = origSignal })

	rootPO := newTestPostoffice(t)
	root := newTestRoot(t, rootPO)

	workerPO := newTestPostoffice(t)
	worker, err := Dial(workerPO, root.SocketPath())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = worker.Close() })

	crashed := make(chan struct{}, 1)
	worker.OnParentCrash(func() { crashed <- struct{}{} })
	go worker.Run()

	time.Sleep(50 * time.Millisecond)
	// Sever the connection out from under the worker without a SHUTDOWN
	// frame, simulating the root vanishing unexpectedly. Root.Close, not
	// Worker.Close, so the closing flag that suppresses crash handling
	// isn't set.
	if err := root.Close(); err != nil {
		t.Fatalf("close root: %v", err)
	}
	if err := worker.link.close(); err != nil {
		t.Fatalf("close link: %v", err)
	}

	select {
	case <-crashed:
	case <-time.After(1 * time.Second):
		t.Fatal("parent-crash hook did not fire after the link dropped")
	}
	if !signaled.Load() {
		t.Error("expected selfSignal to be invoked after an unexpected disconnect")
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}
