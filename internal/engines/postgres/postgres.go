// Package postgres implements a postoffice.Engine backed by Postgres
// LISTEN/NOTIFY, letting several unrelated postoffice clusters (e.g. one
// per host) share pub/sub traffic through a single database instead of
// a direct cluster socket.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lineCode/postoffice/internal/hklog"
	"github.com/lineCode/postoffice/internal/postoffice"
)

var log = hklog.For("engine.postgres")

// notification is the wire format carried in a single Postgres NOTIFY
// payload — the channel name plus the raw message bytes.
type notification struct {
	Channel string `json:"channel"`
	Payload []byte `json:"payload"`
}

// Config configures a postgres-backed Engine.
type Config struct {
	// DSN is the Postgres connection string, shared by the dedicated
	// LISTEN connection and the NOTIFY connection.
	DSN string
	// NotifyChannel is the single Postgres LISTEN/NOTIFY channel every
	// postoffice channel is multiplexed onto; NOTIFY payloads are capped
	// at 8000 bytes by Postgres, so large messages are dropped with a
	// logged warning rather than silently truncated.
	NotifyChannel string
	// ReconnectDelay is how long the notification loop waits after a
	// LISTEN connection error before waiting for notifications again on
	// the same connection; the connection is not re-established.
	ReconnectDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.NotifyChannel == "" {
		c.NotifyChannel = "postoffice_bus"
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	return c
}

const maxNotifyPayload = 7800

// Engine bridges a postoffice.Postoffice to Postgres LISTEN/NOTIFY. It
// holds two connections — one dedicated to LISTEN, one used for NOTIFY —
// following the split-connection pattern for the same reason a single
// connection can't be shared: WaitForNotification blocks the connection
// for other queries.
type Engine struct {
	cfg Config
	po  *postoffice.Postoffice
	pid uint64 // this process's PID, kept for future self-echo filtering

	listenConn *pgx.Conn
	notifyConn *pgx.Conn

	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

// New connects to Postgres and starts the notification loop. The caller
// must AttachEngine(engine) on the Postoffice separately so the replay-
// on-attach semantics (§4.3) run through the normal path.
func New(ctx context.Context, po *postoffice.Postoffice, pid uint64, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	lc, err := pgx.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres engine: listen connect: %w", err)
	}
	nc, err := pgx.Connect(ctx, cfg.DSN)
	if err != nil {
		_ = lc.Close(ctx)
		return nil, fmt.Errorf("postgres engine: notify connect: %w", err)
	}

	if _, err := lc.Exec(ctx, fmt.Sprintf(`LISTEN %q`, cfg.NotifyChannel)); err != nil {
		_ = lc.Close(ctx)
		_ = nc.Close(ctx)
		return nil, fmt.Errorf("postgres engine: LISTEN %s: %w", cfg.NotifyChannel, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:        cfg,
		po:         po,
		pid:        pid,
		listenConn: lc,
		notifyConn: nc,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go e.notificationLoop(loopCtx)
	return e, nil
}

// Subscribe and Unsubscribe are no-ops: every postoffice channel shares
// the single Postgres NOTIFY channel, so there is nothing per-channel to
// (un)register with the database. facil.io's own Postgres pub/sub engine
// (redis_engine.c's sibling) takes the same shortcut for single-channel
// brokers — subscription bookkeeping stays entirely inside the local
// collection, and Publish below fans every message out unconditionally.
func (e *Engine) Subscribe(id []byte, isPattern bool)   {}
func (e *Engine) Unsubscribe(id []byte, isPattern bool) {}

// Publish forwards a locally-originated message to Postgres via NOTIFY,
// so every other process attached to the same database (whether or not
// it's part of this cluster) observes it.
func (e *Engine) Publish(channel []byte, view *postoffice.MessageView) {
	n := notification{Channel: string(channel), Payload: view.Payload()}
	data, err := json.Marshal(n)
	if err != nil {
		log.Error("marshal notification", "err", err)
		return
	}
	if len(data) > maxNotifyPayload {
		log.Warn("dropping publish: exceeds NOTIFY payload limit",
			"channel", n.Channel, "bytes", len(data), "limit", maxNotifyPayload)
		return
	}

	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := e.notifyConn.Exec(ctx, `SELECT pg_notify($1, $2)`, e.cfg.NotifyChannel, string(data)); err != nil {
		log.Error("NOTIFY failed", "channel", n.Channel, "err", err)
	}
}

// OnStartup satisfies postoffice.StartupEngine; nothing to prime beyond
// what the LISTEN already did in New.
func (e *Engine) OnStartup() {
	log.Info("postgres engine attached", "channel", e.cfg.NotifyChannel)
}

// notificationLoop reads NOTIFY payloads off the dedicated LISTEN
// connection and re-publishes them into the local bus with ScopeProcess,
// so each process only fans the message out to its own local
// subscribers — Postgres has already delivered it to every attached
// process, so a wider scope would re-broadcast it into the cluster and
// loop forever.
func (e *Engine) notificationLoop(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		note, err := e.listenConn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			e.mu.RLock()
			closed := e.closed
			e.mu.RUnlock()
			if closed {
				return
			}
			log.Warn("LISTEN connection error, retrying", "err", err, "delay", e.cfg.ReconnectDelay)
			time.Sleep(e.cfg.ReconnectDelay)
			continue
		}

		var n notification
		if err := json.Unmarshal([]byte(note.Payload), &n); err != nil {
			log.Warn("bad NOTIFY payload", "err", err)
			continue
		}

		if err := e.po.Publish(postoffice.ScopeProcess, 0, n.Channel, n.Payload); err != nil {
			log.Warn("local re-publish failed", "channel", n.Channel, "err", err)
		}
	}
}

// Close stops the notification loop and releases both connections.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	<-e.done

	var err error
	if cerr := e.listenConn.Close(ctx); cerr != nil {
		err = cerr
	}
	if cerr := e.notifyConn.Close(ctx); cerr != nil {
		err = cerr
	}
	return err
}
