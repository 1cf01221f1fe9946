package postoffice

import (
	"encoding/json"
	"sync"
	"sync/atomic"
)

// Encoding records how a Message's channel/payload were normalized
// during publish (C4, §4.2 Normalization).
type Encoding int

const (
	// EncodingForward carries channel/payload as opaque bytes, unchanged.
	EncodingForward Encoding = iota
	// EncodingJSON carries channel/payload re-encoded as canonical JSON
	// text, used when the publisher supplied non-byte-string values.
	EncodingJSON
)

func (e Encoding) String() string {
	if e == EncodingJSON {
		return "json"
	}
	return "forward"
}

// metadataNode is one node of a message's metadata linked list (C7).
type metadataNode struct {
	typeID   int
	value    any
	onFinish func(msg *Message, value any)
}

// Message is the reference-counted envelope dispatched to every matching
// subscriber (C4). A single Message is shared by every delivery of one
// publish() call; each delivery sees a MessageView with its own
// subscriber-specific udata1/udata2.
type Message struct {
	channel  []byte
	payload  []byte
	filter   int64
	encoding Encoding

	ref atomic.Int32

	metaMu sync.Mutex
	meta   []*metadataNode
}

// NewRawMessage builds a Message directly from already-framed bytes,
// bypassing normalize(). It is used by internal/cluster when a frame
// arrives off the wire and needs to re-enter local dispatch without
// re-serializing what the sending process already normalized once.
func NewRawMessage(filter int64, channel, payload []byte, encoding Encoding) *Message {
	return newMessage(filter, channel, payload, encoding)
}

func newMessage(filter int64, channel, payload []byte, encoding Encoding) *Message {
	m := &Message{
		channel:  channel,
		payload:  payload,
		filter:   filter,
		encoding: encoding,
	}
	m.ref.Store(1)
	return m
}

func (m *Message) retain() { m.ref.Add(1) }

func (m *Message) release() {
	if m.ref.Add(-1) == 0 {
		m.metaMu.Lock()
		nodes := m.meta
		m.meta = nil
		m.metaMu.Unlock()
		for _, n := range nodes {
			if n.onFinish != nil {
				n.onFinish(m, n.value)
			}
		}
	}
}

func (m *Message) addMetadata(n *metadataNode) {
	m.metaMu.Lock()
	m.meta = append(m.meta, n)
	m.metaMu.Unlock()
}

// metadata returns the opaque value a producer of typeID attached to this
// message, or nil if none did.
func (m *Message) metadata(typeID int) any {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()
	for _, n := range m.meta {
		if n.typeID == typeID {
			return n.value
		}
	}
	return nil
}

// normalize implements §4.2's Normalization step: byte-string channel and
// payload are carried FORWARD as-is; anything else is serialized to
// canonical JSON text exactly once.
func normalize(filter int64, channel, payload any) (*Message, error) {
	chBytes, chIsBytes := asBytes(channel)
	plBytes, plIsBytes := asBytes(payload)

	if chIsBytes && plIsBytes {
		return newMessage(filter, chBytes, plBytes, EncodingForward), nil
	}

	chJSON, err := json.Marshal(channel)
	if err != nil {
		return nil, err
	}
	plJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return newMessage(filter, chJSON, plJSON, EncodingJSON), nil
}

func asBytes(v any) ([]byte, bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case []byte:
		return t, true
	case string:
		return []byte(t), true
	default:
		return nil, false
	}
}

// Channel returns the borrowed channel bytes (or JSON-encoded channel
// under EncodingJSON).
func (m *Message) Channel() []byte { return m.channel }

// Payload returns the borrowed payload bytes (or JSON-encoded payload
// under EncodingJSON).
func (m *Message) Payload() []byte { return m.payload }

// Filter returns the numeric filter id, 0 for pub/sub channels.
func (m *Message) Filter() int64 { return m.filter }

// Encoding reports how Channel/Payload were normalized.
func (m *Message) Encoding() Encoding { return m.encoding }

// MessageView is what a subscription's callback actually receives: the
// shared Message plus this subscriber's own udata1/udata2, per §4.2's
// "shallow message view that substitutes S's udata1/udata2".
type MessageView struct {
	*Message
	udata1, udata2 any
	sub            *Subscription

	deferred atomic.Bool
}

// UData1 and UData2 return the opaque values supplied at Subscribe time.
func (v *MessageView) UData1() any { return v.udata1 }
func (v *MessageView) UData2() any { return v.udata2 }

// Metadata returns the value a metadata producer of typeID attached to
// the underlying message, or nil.
func (v *MessageView) Metadata(typeID int) any { return v.metadata(typeID) }

// SubscriptionHandle returns the handle of the subscription this view was
// delivered to (see Subscription.Handle).
func (v *MessageView) SubscriptionHandle() uint64 { return v.sub.handle }

// Defer reschedules this delivery: the callback will be invoked again
// once the current dispatch cycle releases the subscription lock. This
// is the only mechanism by which a callback voluntarily yields and is
// retried (see spec.md design notes, "cooperative suspension").
func (v *MessageView) Defer() { v.deferred.Store(true) }
