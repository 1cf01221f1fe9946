package postoffice

import "sync"

// MetadataProducer builds per-message side data, invoked once per
// publish() when filter == 0, before any subscriber is scheduled (§4.2).
// It returns the typeID/value pair to attach, or ok=false to attach
// nothing for this message.
type MetadataProducer struct {
	TypeID   int
	Build    func(channel, payload []byte) (value any, ok bool)
	OnFinish func(msg *Message, value any)
}

// metadataRegistry holds the set of enabled metadata producers (C7).
type metadataRegistry struct {
	mu        sync.Mutex
	producers []MetadataProducer
}

func newMetadataRegistry() *metadataRegistry {
	return &metadataRegistry{}
}

// set enables or disables producer p, matching §4.2/API table's
// message_metadata_set(producer, enable): a repeat registration of the
// same TypeID replaces the prior entry; enable=false removes it.
func (r *metadataRegistry) set(p MetadataProducer, enable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	filtered := r.producers[:0:0]
	for _, existing := range r.producers {
		if existing.TypeID != p.TypeID {
			filtered = append(filtered, existing)
		}
	}
	r.producers = filtered
	if enable {
		r.producers = append(r.producers, p)
	}
}

// invoke snapshots the producer list under its lock (so user code never
// runs while the lock is held, per §4.2) and calls each producer with the
// message's raw channel/payload, attaching any metadata it returns.
func (r *metadataRegistry) invoke(msg *Message) {
	r.mu.Lock()
	snapshot := make([]MetadataProducer, len(r.producers))
	copy(snapshot, r.producers)
	r.mu.Unlock()

	for _, p := range snapshot {
		value, ok := p.Build(msg.channel, msg.payload)
		if !ok {
			continue
		}
		msg.addMetadata(&metadataNode{typeID: p.TypeID, value: value, onFinish: p.OnFinish})
	}
}
