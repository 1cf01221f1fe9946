package process

import (
	"context"
	"sync"
	"time"

	"github.com/lineCode/postoffice/internal/hklog"
)

var logSupervisor = hklog.For("process.supervisor")

// SupervisorEvent represents something the supervisor detected.
type SupervisorEvent struct {
	Type    string // "crashed", "restarted", "gave_up"
	PID     PID
	Name    string
	Details string
	Time    time.Time
}

// SupervisorConfig holds tuning parameters for the supervisor.
type SupervisorConfig struct {
	MaxRestartAttempts int           // Max restarts before giving up on a worker
	RestartBackoff     time.Duration // Delay between restart attempts
}

// DefaultSupervisorConfig returns sensible defaults.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		MaxRestartAttempts: 3,
		RestartBackoff:     2 * time.Second,
	}
}

// Supervisor restarts crashed workers with backoff, up to a bounded number
// of attempts, and reports every decision on its Events channel. This is
// SPEC_FULL.md's supplemented "worker respawn supervision" feature — the
// teacher ran this same restart-with-backoff logic for crashed agent
// processes; here every worker gets the same policy since there is no
// per-role restart distinction left once Kernel/Daemon/Agent/Task collapse
// into a single RoleWorker.
type Supervisor struct {
	registry *Registry
	signals  *SignalRouter
	config   SupervisorConfig

	mu            sync.Mutex
	restartCounts map[PID]int
	lastRestart   map[PID]time.Time

	events chan SupervisorEvent

	// onRestart performs the actual os/exec respawn; supplied by the
	// caller since it depends on the Spawner and the worker's original
	// SpawnRequest.
	onRestart func(proc *Process) error
}

// NewSupervisor creates a new supervisor.
func NewSupervisor(registry *Registry, signals *SignalRouter, config SupervisorConfig) *Supervisor {
	return &Supervisor{
		registry:      registry,
		signals:       signals,
		config:        config,
		restartCounts: make(map[PID]int),
		lastRestart:   make(map[PID]time.Time),
		events:        make(chan SupervisorEvent, 100),
	}
}

// Events returns a channel of supervisor events for external consumers.
func (s *Supervisor) Events() <-chan SupervisorEvent {
	return s.events
}

// OnRestart sets the callback invoked when a worker needs restarting.
func (s *Supervisor) OnRestart(fn func(proc *Process) error) {
	s.onRestart = fn
}

// HandleWorkerExit is called when a worker's os/exec.Cmd.Wait() returns —
// it always attempts a restart, bounded by MaxRestartAttempts.
func (s *Supervisor) HandleWorkerExit(exitedPID PID, exitCode int) {
	proc, err := s.registry.Get(exitedPID)
	if err != nil {
		return
	}

	logSupervisor.Info("worker exited", "pid", exitedPID, "name", proc.Name, "exit_code", exitCode)
	s.attemptRestart(proc, exitCode)
}

// attemptRestart tries to restart a crashed worker with backoff.
func (s *Supervisor) attemptRestart(proc *Process, exitCode int) {
	s.mu.Lock()
	count := s.restartCounts[proc.PID]
	lastTime := s.lastRestart[proc.PID]
	s.mu.Unlock()

	if time.Since(lastTime) > 5*time.Minute {
		count = 0
	}

	if count >= s.config.MaxRestartAttempts {
		logSupervisor.Warn("worker exceeded max restart attempts, giving up",
			"pid", proc.PID, "name", proc.Name, "max", s.config.MaxRestartAttempts)
		_ = s.registry.SetState(proc.PID, StateDead)
		s.emitEvent("gave_up", proc, "max restarts exceeded")
		return
	}

	backoff := s.config.RestartBackoff * time.Duration(count+1)
	logSupervisor.Info("restarting worker", "pid", proc.PID, "name", proc.Name,
		"backoff", backoff, "attempt", count+1, "max", s.config.MaxRestartAttempts)

	s.mu.Lock()
	s.restartCounts[proc.PID] = count + 1
	s.lastRestart[proc.PID] = time.Now()
	s.mu.Unlock()
	_ = s.registry.Update(proc.PID, func(p *Process) { p.RestartCount = count + 1 })

	go func() {
		time.Sleep(backoff)

		if s.onRestart != nil {
			if err := s.onRestart(proc); err != nil {
				logSupervisor.Error("restart failed", "pid", proc.PID, "err", err)
				s.emitEvent("crashed", proc, "restart failed: "+err.Error())
				return
			}
		}

		s.emitEvent("restarted", proc, "")
		logSupervisor.Info("worker restarted", "pid", proc.PID, "name", proc.Name)
	}()
}

// Run blocks until ctx is cancelled. It exists to give the supervisor a
// consistent lifecycle with the rest of the cluster's background loops,
// even though restart scheduling itself runs opportunistically from
// HandleWorkerExit rather than on a fixed tick.
func (s *Supervisor) Run(ctx context.Context) {
	<-ctx.Done()
}

// ResetRestartCount clears the restart counter for a process (e.g. after
// it has stayed up longer than the reset window).
func (s *Supervisor) ResetRestartCount(pid PID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.restartCounts, pid)
	delete(s.lastRestart, pid)
}

func (s *Supervisor) emitEvent(typ string, proc *Process, details string) {
	evt := SupervisorEvent{
		Type:    typ,
		PID:     proc.PID,
		Name:    proc.Name,
		Details: details,
		Time:    time.Now(),
	}
	select {
	case s.events <- evt:
	default:
		logSupervisor.Warn("event channel full, dropping event", "type", typ, "pid", proc.PID)
	}
}
