package cluster

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/lineCode/postoffice/internal/hklog"
)

var logLink = hklog.For("cluster")

// link wraps one connected socket (root↔worker) with a write mutex so
// concurrent Send calls never interleave partial frames, and a blocking
// read loop that hands each decoded Frame to a handler. This replaces
// facil.io's single reactor thread driving a buffered HEADER/CHANNEL/
// PAYLOAD state machine per link with one goroutine per connection doing
// plain blocking reads — the idiomatic Go substitute noted in DESIGN.md.
type link struct {
	conn net.Conn

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func newLink(conn net.Conn) *link {
	return &link{conn: conn}
}

func (l *link) send(f Frame) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return writeFrame(l.conn, f)
}

func (l *link) close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}

// runReadLoop blocks reading frames until the connection closes or a
// fatal protocol error occurs (oversized length, per §4.4, is fatal).
// handle returning a non-nil error stops the loop and closes the link.
// onClose is invoked exactly once when the loop exits, with sawShutdown
// reporting whether a SHUTDOWN frame was the reason (needed to
// distinguish an orderly close from a parent crash, per §4.5).
func (l *link) runReadLoop(handle func(Frame) error, onClose func(sawShutdown bool)) {
	sawShutdown := false
	for {
		f, err := readFrame(l.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logLink.Debug("cluster link read error", "err", err)
			}
			break
		}
		if f.Type == FrameShutdown {
			sawShutdown = true
		}
		if err := handle(f); err != nil {
			logLink.Error("cluster link fatal protocol error, terminating", "err", err)
			break
		}
		if f.Type == FrameShutdown {
			break
		}
	}
	l.close()
	if onClose != nil {
		onClose(sawShutdown)
	}
}
