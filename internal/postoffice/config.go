package postoffice

import "time"

// Config configures a Postoffice instance, mirroring the shape of
// internal/kernel.Config in the teacher (NodeName/ListenAddr/DefaultLimits)
// generalized to the pub/sub domain.
type Config struct {
	// NodeName names this process. cmd/postoffice sets it; nothing in
	// the Postoffice, its logs or its tracing resource reads it.
	NodeName string

	// SocketDir names a directory for the root's cluster socket file.
	// Nothing reads it: cmd/postoffice passes its -socket-dir flag to
	// cluster.SocketPath, which falls back to $TMPDIR, then /tmp.
	SocketDir string

	// WorkerCount is how many worker processes cmd/postoffice's root
	// spawns.
	WorkerCount int

	// PingInterval is not read anywhere: the cluster link sends no PING
	// frames.
	PingInterval time.Duration

	// MaxChannelLen and MaxPayloadLen hold §4.4's 16MiB/64MiB framing
	// limits. The cluster package enforces its own constants of the same
	// values and does not read these fields.
	MaxChannelLen uint32
	MaxPayloadLen uint32

	// DispatchWorkers is the size of the deferred-task worker pool
	// subscription callbacks run on.
	DispatchWorkers int
	// DispatchQueueSize bounds how many pending deliveries may be
	// buffered before Publish/deliver blocks.
	DispatchQueueSize int

	LogLevel string
	LogFile  string
}

const (
	defaultMaxChannelLen = 16 << 20 // 16 MiB, per §4.4
	defaultMaxPayloadLen = 64 << 20 // 64 MiB, per §4.4
)

// DefaultConfig returns sane development defaults, matching the shape of
// internal/kernel.DefaultConfig in the teacher.
func DefaultConfig() Config {
	return Config{
		NodeName:          "postoffice",
		WorkerCount:       2,
		PingInterval:      15 * time.Second,
		MaxChannelLen:     defaultMaxChannelLen,
		MaxPayloadLen:     defaultMaxPayloadLen,
		DispatchWorkers:   8,
		DispatchQueueSize: 1024,
		LogLevel:          "info",
	}
}
