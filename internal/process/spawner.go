package process

import (
	"fmt"
	"os"
	"os/exec"
)

// SpawnRequest describes a worker process to launch.
type SpawnRequest struct {
	Name string
	Args []string // extra flags appended after "-mode=worker"
	Env  []string // extra environment, appended to os.Environ()
}

// Spawner launches worker processes by re-exec'ing the current binary with
// -mode=worker, registers them in a Registry, and hands back the running
// *exec.Cmd so the caller can Wait on it and report the exit to a
// Supervisor.
type Spawner struct {
	registry *Registry
	binPath  string
	socket   string
}

// NewSpawner creates a spawner backed by the given registry. socketPath is
// passed to every spawned worker via -socket so it can Dial the root.
func NewSpawner(registry *Registry, socketPath string) (*Spawner, error) {
	bin, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("spawner: resolve executable: %w", err)
	}
	return &Spawner{registry: registry, binPath: bin, socket: socketPath}, nil
}

// Spawned bundles a running worker process with its registry entry.
type Spawned struct {
	Process *Process
	Cmd     *exec.Cmd
}

// Spawn starts one worker process and registers it with RoleWorker/StateStarting.
func (s *Spawner) Spawn(req SpawnRequest) (*Spawned, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("spawn: name is required")
	}

	args := append([]string{"-mode=worker", "-socket=" + s.socket, "-name=" + req.Name}, req.Args...)
	cmd := exec.Command(s.binPath, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), req.Env...)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", req.Name, err)
	}

	proc := &Process{
		PID:   uint64(cmd.Process.Pid),
		PPID:  uint64(os.Getpid()),
		Name:  req.Name,
		Role:  RoleWorker,
		State: StateStarting,
	}
	if err := s.registry.Register(proc); err != nil {
		return nil, fmt.Errorf("spawn %s: register: %w", req.Name, err)
	}

	return &Spawned{Process: proc, Cmd: cmd}, nil
}

// RegisterRoot registers the calling process itself as the cluster root.
func (s *Spawner) RegisterRoot(name string) (*Process, error) {
	proc := &Process{
		PID:   uint64(os.Getpid()),
		Name:  name,
		Role:  RoleRoot,
		State: StateRunning,
	}
	if err := s.registry.Register(proc); err != nil {
		return nil, fmt.Errorf("register root: %w", err)
	}
	return proc, nil
}
