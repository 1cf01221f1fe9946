package cluster

import (
	"net"
	"sync"

	"github.com/lineCode/postoffice/internal/hklog"
	"github.com/lineCode/postoffice/internal/postoffice"
)

var logRoot = hklog.For("cluster.root")

// clientLink is one worker's connection as seen by the root, plus the
// mock subscriptions installed on its behalf (§4.5: "install a mock
// subscription in a per-link table so that... the channel exists and
// engines get notified").
type clientLink struct {
	link *link

	mu   sync.Mutex
	mock map[string]*postoffice.Subscription // key: (pattern?"p":"s")+identity
}

func newClientLink(l *link) *clientLink {
	return &clientLink{link: l, mock: make(map[string]*postoffice.Subscription)}
}

func mockKey(isPattern bool, id []byte) string {
	prefix := "s:"
	if isPattern {
		prefix = "p:"
	}
	return prefix + string(id)
}

// Root is the cluster listener side of the topology (C9): it binds the
// local-domain socket before any worker is spawned, accepts one
// connection per worker in a tight drain-accept loop, and fans a worker's
// FORWARD/JSON frames out to every other connected worker plus its own
// local dispatch.
type Root struct {
	po *postoffice.Postoffice

	socketPath string
	listener   net.Listener

	mu      sync.Mutex
	clients map[*clientLink]struct{}
}

// NewRoot creates the root side of the cluster topology and wires it into
// po as po's ClusterSender. Listen must be called before workers connect.
func NewRoot(po *postoffice.Postoffice, socketPath string) *Root {
	r := &Root{
		po:         po,
		socketPath: socketPath,
		clients:    make(map[*clientLink]struct{}),
	}
	po.Attach(r)
	return r
}

// Listen binds the Unix-domain socket, removing any stale file first.
func (r *Root) Listen() error {
	removeStale(r.socketPath)
	ln, err := net.Listen("unix", r.socketPath)
	if err != nil {
		return err
	}
	r.listener = ln
	return nil
}

// SocketPath returns the bound socket path, for workers to connect to.
func (r *Root) SocketPath() string { return r.socketPath }

// Serve drain-accepts connections in a tight loop (§4.5) until the
// listener is closed.
func (r *Root) Serve() {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			logRoot.Info("cluster root listener closed", "err", err)
			return
		}
		cl := newClientLink(newLink(conn))
		r.mu.Lock()
		r.clients[cl] = struct{}{}
		r.mu.Unlock()
		go r.handleClient(cl)
	}
}

// Close closes the listener and unlinks the socket file. It does not
// close already accepted worker links, and it removes the socket path
// again on every call.
func (r *Root) Close() error {
	if r.listener != nil {
		_ = r.listener.Close()
	}
	removeStale(r.socketPath)
	return nil
}

func (r *Root) handleClient(cl *clientLink) {
	cl.link.runReadLoop(
		func(f Frame) error { return r.handleFrame(cl, f) },
		func(sawShutdown bool) {
			r.mu.Lock()
			delete(r.clients, cl)
			r.mu.Unlock()
			r.cleanupMocks(cl)
			logRoot.Info("worker link closed", "shutdown", sawShutdown)
		},
	)
}

// handleFrame is the root-side handler table from §4.5.
func (r *Root) handleFrame(cl *clientLink, f Frame) error {
	switch f.Type {
	case FrameForward, FrameJSON:
		r.broadcastExcept(cl, f)
		r.po.DispatchRaw(postoffice.NewRawMessage(int64(f.Filter), f.Channel, f.Payload, encodingOf(f.Type)))

	case FramePubsubSub, FramePatternSub:
		isPattern := f.Type == FramePatternSub
		sub, err := r.po.InstallMockSubscription(f.Channel, isPattern)
		if err != nil {
			logRoot.Warn("failed to install mock subscription", "err", err)
			return nil
		}
		cl.mu.Lock()
		cl.mock[mockKey(isPattern, f.Channel)] = sub
		cl.mu.Unlock()

	case FramePubsubUnsub, FramePatternUnsub:
		isPattern := f.Type == FramePatternUnsub
		key := mockKey(isPattern, f.Channel)
		cl.mu.Lock()
		sub := cl.mock[key]
		delete(cl.mock, key)
		cl.mu.Unlock()
		if sub != nil {
			_ = r.po.Unsubscribe(sub)
		}

	case FrameRoot, FrameRootJSON:
		r.po.DispatchRaw(postoffice.NewRawMessage(int64(f.Filter), f.Channel, f.Payload, encodingOf(f.Type)))

	case FramePing:
		// keepalive only

	case FrameShutdown:
		// handled by runReadLoop's exit path

	default:
		logRoot.Debug("root received frame not addressed to root", "type", f.Type)
	}
	return nil
}

func (r *Root) cleanupMocks(cl *clientLink) {
	cl.mu.Lock()
	subs := make([]*postoffice.Subscription, 0, len(cl.mock))
	for _, s := range cl.mock {
		subs = append(subs, s)
	}
	cl.mock = nil
	cl.mu.Unlock()
	for _, s := range subs {
		_ = r.po.Unsubscribe(s)
	}
}

func (r *Root) broadcastExcept(except *clientLink, f Frame) {
	r.mu.Lock()
	targets := make([]*clientLink, 0, len(r.clients))
	for c := range r.clients {
		if c != except {
			targets = append(targets, c)
		}
	}
	r.mu.Unlock()
	for _, c := range targets {
		if err := c.link.send(f); err != nil {
			logRoot.Warn("failed to forward frame to worker", "err", err)
		}
	}
}

// --- postoffice.ClusterSender implementation ---

func (r *Root) IsRoot() bool { return true }

// Send broadcasts a locally originated publish to every worker. The root
// itself dispatches locally through the normal Postoffice.Publish path,
// so Send here only needs to reach the *other* processes.
func (r *Root) Send(scope postoffice.Scope, msg *postoffice.Message) error {
	f := Frame{
		Type:    frameTypeFor(msg.Encoding(), false),
		Filter:  int32(msg.Filter()),
		Channel: msg.Channel(),
		Payload: msg.Payload(),
	}
	r.broadcastExcept(nil, f)
	return nil
}

// SendSub/SendUnsub are no-ops on the root: it has no further upstream to
// forward subscribe intent to.
func (r *Root) SendSub(isPattern bool, id []byte) error   { return nil }
func (r *Root) SendUnsub(isPattern bool, id []byte) error { return nil }

// SendShutdown broadcasts a SHUTDOWN frame to every connected worker
// (cluster_signal_children, §4 supplemented feature).
func (r *Root) SendShutdown() error {
	r.broadcastExcept(nil, Frame{Type: FrameShutdown})
	return nil
}

func encodingOf(t FrameType) postoffice.Encoding {
	if t == FrameJSON || t == FrameRootJSON {
		return postoffice.EncodingJSON
	}
	return postoffice.EncodingForward
}
