package process

import "testing"

func TestRegistryBasicCRUD(t *testing.T) {
	r := NewRegistry()

	p := &Process{PID: 100, Name: "worker-a", Role: RoleWorker, State: StateStarting}
	if err := r.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := r.Get(100)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "worker-a" {
		t.Fatalf("expected name worker-a, got %s", got.Name)
	}

	got, err = r.GetByName("worker-a")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if got.PID != 100 {
		t.Fatalf("expected PID 100, got %d", got.PID)
	}

	if _, err = r.Get(999); err == nil {
		t.Fatal("expected error for non-existent PID")
	}

	if err = r.SetState(100, StateRunning); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	got, _ = r.Get(100)
	if got.State != StateRunning {
		t.Fatalf("expected StateRunning, got %s", got.State)
	}

	if err = r.Remove(100); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err = r.Get(100); err == nil {
		t.Fatal("expected error after Remove")
	}
}

func TestRegisterRejectsZeroPID(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Process{Name: "bad"}); err == nil {
		t.Fatal("expected error registering a process with PID 0")
	}
}

func TestRegistryWorkersAndCountByState(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(&Process{PID: 1, Name: "root", Role: RoleRoot, State: StateRunning})
	_ = r.Register(&Process{PID: 2, PPID: 1, Name: "w1", Role: RoleWorker, State: StateRunning})
	_ = r.Register(&Process{PID: 3, PPID: 1, Name: "w2", Role: RoleWorker, State: StateDead})

	workers := r.Workers()
	if len(workers) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(workers))
	}

	if n := r.CountByState(StateDead); n != 1 {
		t.Fatalf("expected 1 dead process, got %d", n)
	}
	if n := r.CountByState(StateRunning); n != 2 {
		t.Fatalf("expected 2 running processes, got %d", n)
	}

	if len(r.List()) != 3 {
		t.Fatalf("expected 3 total processes, got %d", len(r.List()))
	}
}
