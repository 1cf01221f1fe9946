package cluster

import (
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/lineCode/postoffice/internal/hklog"
	"github.com/lineCode/postoffice/internal/postoffice"
)

var logWorker = hklog.For("cluster.worker")

// ParentCrashHook is invoked when the worker's upstream link closes
// without a prior SHUTDOWN frame — facil.io's ON_PARENT_CRUSH (§4.5,
// §7 "Parent crash"). Register one to run cleanup before the worker
// self-delivers SIGINT.
type ParentCrashHook func()

// Worker is the connecting side of the cluster topology (C9): it dials
// the root's Unix-domain socket, replays its live channels upstream, and
// forwards local publishes according to scope.
type Worker struct {
	po   *postoffice.Postoffice
	link *link

	mu      sync.Mutex
	onCrash ParentCrashHook

	closing atomic.Bool
}

// Dial connects to the root at socketPath and wires this Worker into po
// as po's ClusterSender.
func Dial(po *postoffice.Postoffice, socketPath string) (*Worker, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, err
	}
	w := &Worker{po: po, link: newLink(conn)}
	po.Attach(w)
	return w, nil
}

// OnParentCrash registers the hook fired when the upstream link drops
// unexpectedly.
func (w *Worker) OnParentCrash(hook ParentCrashHook) {
	w.mu.Lock()
	w.onCrash = hook
	w.mu.Unlock()
}

// Close shuts down the worker's link to the root. Unlike an unexpected
// disconnect, an explicit Close is not treated as a parent crash: the
// ParentCrashHook does not fire and no SIGINT is self-delivered. Safe to
// call more than once.
func (w *Worker) Close() error {
	w.closing.Store(true)
	return w.link.close()
}

// Run replays every currently live pub/sub and pattern channel upstream
// (§4.5, "on worker connect... replays its currently live... channels
// upstream as SUB/UNSUB frames"), then blocks reading frames until the
// link closes.
func (w *Worker) Run() {
	for _, ch := range w.po.LiveChannels() {
		if err := w.SendSub(ch.IsPattern, ch.Identity); err != nil {
			logWorker.Warn("failed to replay channel to root on connect", "err", err)
		}
	}
	w.link.runReadLoop(w.handleFrame, w.handleClose)
}

func (w *Worker) handleFrame(f Frame) error {
	switch f.Type {
	case FrameForward, FrameJSON:
		w.po.DispatchRaw(postoffice.NewRawMessage(int64(f.Filter), f.Channel, f.Payload, encodingOf(f.Type)))
	case FrameShutdown:
		logWorker.Info("received SHUTDOWN from root, terminating")
		selfSignal(syscall.SIGINT)
	default:
		// ROOT/ROOT_JSON/PUBSUB_*/PATTERN_*/PING are never sent
		// downstream to a worker; ignore per §4.5.
	}
	return nil
}

func (w *Worker) handleClose(sawShutdown bool) {
	if sawShutdown || w.closing.Load() {
		return
	}
	logWorker.Error("cluster link to root closed without SHUTDOWN, treating as parent crash")
	w.mu.Lock()
	hook := w.onCrash
	w.mu.Unlock()
	if hook != nil {
		hook()
	}
	selfSignal(syscall.SIGINT)
}

// selfSignal delivers sig to this process. It is a package-level var
// rather than a plain function so tests can stub it out and observe the
// crash-handling path without actually signaling the test binary.
var selfSignal = func(sig os.Signal) {
	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		return
	}
	_ = p.Signal(sig)
}

// --- postoffice.ClusterSender implementation ---

func (w *Worker) IsRoot() bool { return false }

func (w *Worker) Send(scope postoffice.Scope, msg *postoffice.Message) error {
	f := Frame{
		Type:    frameTypeFor(msg.Encoding(), scope == postoffice.ScopeRoot),
		Filter:  int32(msg.Filter()),
		Channel: msg.Channel(),
		Payload: msg.Payload(),
	}
	return w.link.send(f)
}

func (w *Worker) SendSub(isPattern bool, id []byte) error {
	t := FramePubsubSub
	if isPattern {
		t = FramePatternSub
	}
	return w.link.send(Frame{Type: t, Channel: id})
}

func (w *Worker) SendUnsub(isPattern bool, id []byte) error {
	t := FramePubsubUnsub
	if isPattern {
		t = FramePatternUnsub
	}
	return w.link.send(Frame{Type: t, Channel: id})
}

// SendShutdown is a no-op on the worker: it has no downstream of its own.
func (w *Worker) SendShutdown() error { return nil }
