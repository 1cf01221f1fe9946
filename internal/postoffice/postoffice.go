package postoffice

import (
	"sync"
	"sync/atomic"

	"github.com/lineCode/postoffice/internal/hklog"
)

// Postoffice is the composition root wiring the three channel collections,
// the engine registry, the metadata registry, and the deferred-task queue
// into the pub/sub bus described by C1–C7. Its shape — New() wiring
// subsystems, Run()/Stop(), and one-liner subsystem accessors — mirrors
// internal/kernel.King in the teacher, stripped of every AI-agent-kernel
// concern (budgets, permissions, migration, cgroups) this domain has no
// use for.
type Postoffice struct {
	cfg Config

	filters  *collection[int64]
	pubsub   *collection[string]
	patterns *collection[string]

	engines  *engineRegistry
	metadata *metadataRegistry
	tasks    *taskQueue

	nextHandle   atomic.Uint64
	subsByHandle sync.Map // uint64 -> *Subscription

	// cluster is nil until Attach is called by internal/cluster's root
	// or worker wiring; a Postoffice with no cluster attached behaves as
	// a single-process bus (every scope other than SIBLINGS/ROOT-on-worker
	// degenerates to local dispatch).
	cluster ClusterSender

	mu     sync.Mutex
	closed bool
}

// New builds a Postoffice ready to Subscribe/Publish. Call Attach
// afterwards to wire in a cluster link.
func New(cfg Config) *Postoffice {
	p := &Postoffice{
		cfg:      cfg,
		engines:  newEngineRegistry(),
		metadata: newMetadataRegistry(),
		tasks:    newTaskQueue(max(1, cfg.DispatchWorkers), max(1, cfg.DispatchQueueSize)),
	}

	p.filters = newCollection[int64](kindFilters)
	p.pubsub = newCollection[string](kindPubsub)
	p.patterns = newCollection[string](kindPatterns)

	p.pubsub.onCreate = p.engines.notifyCreate
	p.pubsub.onDestroy = p.engines.notifyDestroy
	p.patterns.onCreate = p.engines.notifyCreate
	p.patterns.onDestroy = p.engines.notifyDestroy

	return p
}

// Attach wires a cluster link into this Postoffice (called once by
// internal/cluster's root/worker bootstrap).
func (p *Postoffice) Attach(c ClusterSender) {
	p.mu.Lock()
	p.cluster = c
	p.mu.Unlock()
}

// AttachEngine attaches e per §4.3, replaying every existing channel.
func (p *Postoffice) AttachEngine(e Engine) error {
	return p.engines.attach(e, p.pubsub, p.patterns)
}

// DetachEngine removes e from the registry.
func (p *Postoffice) DetachEngine(e Engine) error {
	return p.engines.detach(e)
}

// ReattachEngine replays all current channels to e without re-inserting it.
func (p *Postoffice) ReattachEngine(e Engine) error {
	return p.engines.reattach(e, p.pubsub, p.patterns)
}

// IsEngineAttached reports whether e is currently attached.
func (p *Postoffice) IsEngineAttached(e Engine) bool {
	return p.engines.isAttached(e)
}

// SetMetadataProducer enables or disables a metadata producer.
func (p *Postoffice) SetMetadataProducer(producer MetadataProducer, enable bool) {
	p.metadata.set(producer, enable)
}

// LiveChannel describes one currently subscribed-to channel or pattern,
// as returned by LiveChannels for cluster worker-connect replay (§4.5).
type LiveChannel struct {
	Identity  []byte
	IsPattern bool
}

// LiveChannels snapshots every currently live pub/sub and pattern
// channel. A newly connecting worker replays these upstream as SUB
// frames so the root can aggregate subscriber interest (§4.5).
func (p *Postoffice) LiveChannels() []LiveChannel {
	var out []LiveChannel
	for _, ch := range p.pubsub.snapshot() {
		out = append(out, LiveChannel{Identity: ch.Identity()})
	}
	for _, ch := range p.patterns.snapshot() {
		out = append(out, LiveChannel{Identity: ch.Identity(), IsPattern: true})
	}
	return out
}

// DispatchRaw re-enters local dispatch for a message that already arrived
// framed over the cluster link (internal/cluster calls this from a root
// or worker frame handler for FORWARD/JSON/ROOT/ROOT_JSON frames).
func (p *Postoffice) DispatchRaw(msg *Message) {
	p.dispatchLocal(msg)
}

// InstallMockSubscription registers a no-op subscription used by the
// cluster root to mirror a worker's subscribe intent locally, so the
// channel exists in the root's own collections and engines are notified
// (§4.5, "install a mock subscription... so that... the channel exists
// and engines get notified"). The returned Subscription's handle is the
// caller's key for later removal via Unsubscribe.
func (p *Postoffice) InstallMockSubscription(channel []byte, isPattern bool) (*Subscription, error) {
	args := SubscribeArgs{
		Channel:  channel,
		Callback: func(*MessageView) {},
	}
	if isPattern {
		args.MatchFn = Glob
	}
	return p.Subscribe(args)
}

// SignalChildren broadcasts a SHUTDOWN frame to every worker and begins
// graceful teardown; a no-op if this process is not the cluster root or
// has no cluster attached (§ API surface, cluster_signal_children).
func (p *Postoffice) SignalChildren() error {
	p.mu.Lock()
	c := p.cluster
	p.mu.Unlock()
	if c == nil || !c.IsRoot() {
		return nil
	}
	return c.SendShutdown()
}

// Stop drains the deferred-task queue and stops accepting new work.
func (p *Postoffice) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.tasks.performAll()
	p.tasks.close()
}

var log = hklog.For("postoffice")
