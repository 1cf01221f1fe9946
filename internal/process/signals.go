package process

import (
	"fmt"
	"sync"
	"time"

	"github.com/lineCode/postoffice/internal/hklog"
)

var logSignal = hklog.For("process.signal")

// Signal represents a process signal (modeled after POSIX signals), trimmed
// to the three a flat root+worker cluster actually needs: there is no
// "sleeping" agent state to pause/resume here.
type Signal int

const (
	SIGTERM Signal = iota // Graceful shutdown request
	SIGKILL                // Forced immediate termination
	SIGCHLD                // Child process exited
)

func (s Signal) String() string {
	switch s {
	case SIGTERM:
		return "SIGTERM"
	case SIGKILL:
		return "SIGKILL"
	case SIGCHLD:
		return "SIGCHLD"
	default:
		return fmt.Sprintf("SIG(%d)", int(s))
	}
}

// ExitInfo contains information about a process exit (attached to SIGCHLD).
type ExitInfo struct {
	PID      PID
	ExitCode int
	ExitedAt time.Time
}

// SignalHandler is a callback invoked when a signal is delivered to a process.
type SignalHandler func(pid PID, sig Signal, info *ExitInfo)

// SignalRouter delivers signals to processes and manages signal handlers.
type SignalRouter struct {
	mu       sync.RWMutex
	handlers map[PID][]SignalHandler
	registry *Registry
}

// NewSignalRouter creates a new signal router backed by the given registry.
func NewSignalRouter(registry *Registry) *SignalRouter {
	return &SignalRouter{
		handlers: make(map[PID][]SignalHandler),
		registry: registry,
	}
}

// Register adds a signal handler for a process.
func (r *SignalRouter) Register(pid PID, handler SignalHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[pid] = append(r.handlers[pid], handler)
}

// Unregister removes all handlers for a process.
func (r *SignalRouter) Unregister(pid PID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, pid)
}

// Send delivers a signal to a process.
func (r *SignalRouter) Send(pid PID, sig Signal, info *ExitInfo) error {
	proc, err := r.registry.Get(pid)
	if err != nil {
		return fmt.Errorf("signal %s to PID %d: %w", sig, pid, err)
	}

	logSignal.Debug("delivering signal", "signal", sig.String(), "pid", pid, "name", proc.Name)

	switch sig {
	case SIGKILL:
		_ = r.registry.SetState(pid, StateDead)
	case SIGTERM:
		// no distinct "shutting down" state for a worker; the entry only
		// becomes dead through SIGKILL or when Supervisor gives up on it.
	case SIGCHLD:
		// delivered to the parent when a child exits; nothing to mutate
		// on the signaled process itself.
	}
	r.invokeHandlers(pid, sig, info)
	return nil
}

// SendWithGrace sends SIGTERM, waits for grace, then SIGKILL if still alive.
func (r *SignalRouter) SendWithGrace(pid PID, grace time.Duration) {
	if err := r.Send(pid, SIGTERM, nil); err != nil {
		logSignal.Warn("SIGTERM failed", "pid", pid, "err", err)
		return
	}

	go func() {
		time.Sleep(grace)
		proc, err := r.registry.Get(pid)
		if err != nil {
			return // already removed
		}
		if proc.State != StateDead {
			logSignal.Warn("process did not exit after grace period, sending SIGKILL", "pid", pid, "grace", grace)
			_ = r.Send(pid, SIGKILL, nil)
		}
	}()
}

// NotifyParent sends SIGCHLD to the parent of the exited process (the root,
// since every worker's parent is the root in this topology).
func (r *SignalRouter) NotifyParent(exitedPID PID, exitCode int) {
	proc, err := r.registry.Get(exitedPID)
	if err != nil {
		return
	}
	if proc.PPID == 0 {
		return // root has no parent
	}

	info := &ExitInfo{
		PID:      exitedPID,
		ExitCode: exitCode,
		ExitedAt: time.Now(),
	}
	_ = r.Send(proc.PPID, SIGCHLD, info)
}

func (r *SignalRouter) invokeHandlers(pid PID, sig Signal, info *ExitInfo) {
	r.mu.RLock()
	handlers := r.handlers[pid]
	r.mu.RUnlock()

	for _, h := range handlers {
		h(pid, sig, info)
	}
}
