// Package cluster implements the postoffice cluster link protocol (C8)
// and topology (C9): a length-prefixed binary framing over a local
// Unix-domain stream socket connecting a root process to its workers.
//
// The wire format and framing limits are a direct port of facil.io's
// cluster_wrap_message/cluster_on_data state machine
// (original_source/lib/facil/core/facil_cluster.c); the single-reactor
// buffered state machine itself is replaced with a goroutine-per-connection
// blocking read loop, the idiomatic Go substitute documented in DESIGN.md.
package cluster

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lineCode/postoffice/internal/postoffice"
)

// FrameType enumerates the cluster wire protocol's message kinds (§4.4).
type FrameType uint32

const (
	FrameForward      FrameType = 0
	FrameJSON         FrameType = 1
	FrameRoot         FrameType = 2
	FrameRootJSON     FrameType = 3
	FramePubsubSub    FrameType = 4
	FramePubsubUnsub  FrameType = 5
	FramePatternSub   FrameType = 6
	FramePatternUnsub FrameType = 7
	FrameShutdown     FrameType = 8
	FrameError        FrameType = 9
	FramePing         FrameType = 10
)

func (t FrameType) String() string {
	switch t {
	case FrameForward:
		return "FORWARD"
	case FrameJSON:
		return "JSON"
	case FrameRoot:
		return "ROOT"
	case FrameRootJSON:
		return "ROOT_JSON"
	case FramePubsubSub:
		return "PUBSUB_SUB"
	case FramePubsubUnsub:
		return "PUBSUB_UNSUB"
	case FramePatternSub:
		return "PATTERN_SUB"
	case FramePatternUnsub:
		return "PATTERN_UNSUB"
	case FrameShutdown:
		return "SHUTDOWN"
	case FrameError:
		return "ERROR"
	case FramePing:
		return "PING"
	default:
		return "UNKNOWN"
	}
}

// Header limits: channel_len < 16 MiB, payload_len < 64 MiB. encode
// refuses an oversized frame and readFrame rejects an oversized header
// with ErrFrameTooLarge, which ends that link's read loop and closes the
// connection; the process itself keeps running.
const (
	headerSize    = 16
	MaxChannelLen = 16 << 20
	MaxPayloadLen = 64 << 20
)

// Frame is one decoded cluster wire message.
type Frame struct {
	Type    FrameType
	Filter  int32
	Channel []byte
	Payload []byte
}

// encode serializes f into the exact wire layout from §4.4:
//
//	uint32 channel_len (BE)
//	uint32 payload_len (BE)
//	uint32 type        (BE)
//	int32  filter       (BE)
//	bytes  channel[channel_len]
//	bytes  payload[payload_len]
func encode(f Frame) ([]byte, error) {
	if len(f.Channel) >= MaxChannelLen {
		return nil, fmt.Errorf("cluster: channel length %d exceeds limit: %w", len(f.Channel), postoffice.ErrFrameTooLarge)
	}
	if len(f.Payload) >= MaxPayloadLen {
		return nil, fmt.Errorf("cluster: payload length %d exceeds limit: %w", len(f.Payload), postoffice.ErrFrameTooLarge)
	}

	buf := make([]byte, headerSize+len(f.Channel)+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(f.Channel)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(f.Payload)))
	binary.BigEndian.PutUint32(buf[8:12], uint32(f.Type))
	binary.BigEndian.PutUint32(buf[12:16], uint32(f.Filter))
	copy(buf[headerSize:], f.Channel)
	copy(buf[headerSize+len(f.Channel):], f.Payload)
	return buf, nil
}

// readFrame implements the HEADER→CHANNEL→PAYLOAD→DISPATCH parser state
// machine from §4.4 as a blocking sequence of io.ReadFull calls instead of
// the original's non-blocking buffered state machine: the goroutine-per-
// connection model means blocking here only ever blocks this connection's
// own goroutine, so there is no need to hand-roll partial-read carryover.
func readFrame(r io.Reader) (Frame, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	channelLen := binary.BigEndian.Uint32(hdr[0:4])
	payloadLen := binary.BigEndian.Uint32(hdr[4:8])
	frameType := FrameType(binary.BigEndian.Uint32(hdr[8:12]))
	filter := int32(binary.BigEndian.Uint32(hdr[12:16]))

	if channelLen >= MaxChannelLen {
		return Frame{}, fmt.Errorf("cluster: channel length %d exceeds limit: %w", channelLen, postoffice.ErrFrameTooLarge)
	}
	if payloadLen >= MaxPayloadLen {
		return Frame{}, fmt.Errorf("cluster: payload length %d exceeds limit: %w", payloadLen, postoffice.ErrFrameTooLarge)
	}

	channel := make([]byte, channelLen)
	if _, err := io.ReadFull(r, channel); err != nil {
		return Frame{}, err
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, err
	}

	return Frame{Type: frameType, Filter: filter, Channel: channel, Payload: payload}, nil
}

// writeFrame encodes and writes f whole in one Write call so frames stay
// FIFO-ordered on the stream socket per §5's cross-process ordering
// guarantee.
func writeFrame(w io.Writer, f Frame) error {
	buf, err := encode(f)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// frameTypeFor picks FORWARD/JSON or ROOT/ROOT_JSON depending on the
// message's encoding and whether this is a root-only-scoped publish.
func frameTypeFor(encoding postoffice.Encoding, rootOnly bool) FrameType {
	switch {
	case rootOnly && encoding == postoffice.EncodingJSON:
		return FrameRootJSON
	case rootOnly:
		return FrameRoot
	case encoding == postoffice.EncodingJSON:
		return FrameJSON
	default:
		return FrameForward
	}
}
