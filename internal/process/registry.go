package process

import (
	"fmt"
	"sync"
	"time"
)

// Registry is a thread-safe process table tracking the root and every
// worker spawned from it, keyed by OS PID.
type Registry struct {
	mu        sync.RWMutex
	processes map[PID]*Process
	byName    map[string]PID // name → PID for quick lookup
	eventLog  *EventLog
}

// SetEventLog wires an EventLog so that Register/SetState/Remove emit events.
func (r *Registry) SetEventLog(el *EventLog) {
	r.eventLog = el
}

// NewRegistry creates an empty process registry.
func NewRegistry() *Registry {
	return &Registry{
		processes: make(map[PID]*Process),
		byName:    make(map[string]PID),
	}
}

// Register adds a process to the table, keyed by its PID (already assigned
// by the OS via os/exec before Register is called).
func (r *Registry) Register(p *Process) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.PID == 0 {
		return fmt.Errorf("process: cannot register with PID 0")
	}
	p.StartedAt = time.Now()
	p.UpdatedAt = time.Now()

	r.processes[p.PID] = p
	if p.Name != "" {
		r.byName[p.Name] = p.PID
	}

	if r.eventLog != nil {
		r.eventLog.Emit(ProcessEvent{
			Type:  EventSpawned,
			PID:   p.PID,
			PPID:  p.PPID,
			Name:  p.Name,
			Role:  p.Role.String(),
			State: p.State.String(),
		})
	}

	return nil
}

// Get returns a process by PID, or an error if not found.
func (r *Registry) Get(pid PID) (*Process, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.processes[pid]
	if !ok {
		return nil, fmt.Errorf("process %d not found", pid)
	}
	return p, nil
}

// GetByName returns a process by name.
func (r *Registry) GetByName(name string) (*Process, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pid, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("process %q not found", name)
	}
	p, ok := r.processes[pid]
	if !ok {
		return nil, fmt.Errorf("process %q (PID %d) not in table", name, pid)
	}
	return p, nil
}

// Update modifies a process in-place using the provided function.
func (r *Registry) Update(pid PID, fn func(*Process)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.processes[pid]
	if !ok {
		return fmt.Errorf("process %d not found", pid)
	}
	fn(p)
	p.UpdatedAt = time.Now()
	return nil
}

// SetState updates a process's state and emits a state_changed event if the
// state actually changed.
func (r *Registry) SetState(pid PID, state State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.processes[pid]
	if !ok {
		return fmt.Errorf("process %d not found", pid)
	}
	oldState := p.State
	p.State = state
	p.UpdatedAt = time.Now()

	if r.eventLog != nil && oldState != state {
		r.eventLog.Emit(ProcessEvent{
			Type:     EventStateChanged,
			PID:      pid,
			OldState: oldState.String(),
			NewState: state.String(),
		})
	}
	return nil
}

// Remove deletes a process from the table.
func (r *Registry) Remove(pid PID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.processes[pid]
	if !ok {
		return fmt.Errorf("process %d not found", pid)
	}
	if p.Name != "" {
		delete(r.byName, p.Name)
	}
	delete(r.processes, pid)

	if r.eventLog != nil {
		r.eventLog.Emit(ProcessEvent{
			Type: EventRemoved,
			PID:  pid,
		})
	}

	return nil
}

// Workers returns every process with Role == RoleWorker.
func (r *Registry) Workers() []*Process {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Process
	for _, p := range r.processes {
		if p.Role == RoleWorker {
			out = append(out, p)
		}
	}
	return out
}

// CountByState counts processes currently in the given state.
func (r *Registry) CountByState(s State) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, p := range r.processes {
		if p.State == s {
			n++
		}
	}
	return n
}

// List returns all processes. The caller must not modify the returned slice elements.
func (r *Registry) List() []*Process {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Process, 0, len(r.processes))
	for _, p := range r.processes {
		list = append(list, p)
	}
	return list
}
