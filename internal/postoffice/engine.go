package postoffice

import (
	"sync"

	"github.com/lineCode/postoffice/internal/hklog"
)

// Engine is the pluggable external-broker interface (C6). Subscribe and
// Unsubscribe are notified once per channel lifecycle transition for
// every non-filter channel; Publish delivers an engine-scoped publish
// (see Scope and Postoffice.PublishToEngine).
type Engine interface {
	Subscribe(id []byte, isPattern bool)
	Unsubscribe(id []byte, isPattern bool)
	Publish(channel []byte, view *MessageView)
}

// StartupEngine is the optional on_startup hook an Engine may also
// implement.
type StartupEngine interface {
	OnStartup()
}

// engineRegistry notifies attached engines on first-subscriber/last-
// unsubscriber per channel and replays existing channels to newly
// attached engines (§4.3).
type engineRegistry struct {
	mu      sync.RWMutex
	engines map[Engine]struct{}
}

func newEngineRegistry() *engineRegistry {
	return &engineRegistry{engines: make(map[Engine]struct{})}
}

// attach inserts engine into the registry and, per §4.3, replays every
// currently existing pub/sub and pattern channel to it so the engine
// observes subscribe(id, match) for channels that predate the attach.
func (r *engineRegistry) attach(e Engine, pubsub, patterns *collection[string]) error {
	r.mu.Lock()
	if _, ok := r.engines[e]; ok {
		r.mu.Unlock()
		return ErrEngineAlreadyAttached
	}
	r.engines[e] = struct{}{}
	r.mu.Unlock()

	r.replay(e, pubsub, patterns)
	if s, ok := e.(StartupEngine); ok {
		s.OnStartup()
	}
	return nil
}

func (r *engineRegistry) detach(e Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engines[e]; !ok {
		return ErrEngineNotAttached
	}
	delete(r.engines, e)
	return nil
}

// reattach replays all current channels to e without re-inserting it,
// per §4.3's pubsub_reattach.
func (r *engineRegistry) reattach(e Engine, pubsub, patterns *collection[string]) error {
	r.mu.RLock()
	_, ok := r.engines[e]
	r.mu.RUnlock()
	if !ok {
		return ErrEngineNotAttached
	}
	r.replay(e, pubsub, patterns)
	return nil
}

func (r *engineRegistry) isAttached(e Engine) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.engines[e]
	return ok
}

func (r *engineRegistry) replay(e Engine, pubsub, patterns *collection[string]) {
	for _, ch := range pubsub.snapshot() {
		e.Subscribe(ch.Identity(), false)
	}
	for _, ch := range patterns.snapshot() {
		e.Subscribe(ch.Identity(), true)
	}
}

// notifyCreate fires engine.Subscribe for a newly created non-filter
// channel, invoked from within the owning collection's lock per the
// fixed collection→channel lock order (§4.1).
func (r *engineRegistry) notifyCreate(ch *Channel) {
	id := ch.Identity()
	isPattern := ch.IsPattern()
	r.mu.RLock()
	snapshot := make([]Engine, 0, len(r.engines))
	for e := range r.engines {
		snapshot = append(snapshot, e)
	}
	r.mu.RUnlock()

	for _, e := range snapshot {
		e.Subscribe(id, isPattern)
	}
}

func (r *engineRegistry) notifyDestroy(ch *Channel) {
	id := ch.Identity()
	isPattern := ch.IsPattern()
	r.mu.RLock()
	snapshot := make([]Engine, 0, len(r.engines))
	for e := range r.engines {
		snapshot = append(snapshot, e)
	}
	r.mu.RUnlock()

	for _, e := range snapshot {
		e.Unsubscribe(id, isPattern)
	}
}

var logEngine = hklog.For("engine")
