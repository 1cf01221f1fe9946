package process

import "testing"

func TestSpawnRequiresName(t *testing.T) {
	r := NewRegistry()
	s := &Spawner{registry: r, binPath: "/bin/sleep", socket: "/tmp/postoffice-test.sock"}

	_, err := s.Spawn(SpawnRequest{Name: ""})
	if err == nil {
		t.Fatal("expected error: name required")
	}
}

func TestSpawnRegistersWorker(t *testing.T) {
	r := NewRegistry()
	s := &Spawner{registry: r, binPath: "/bin/sleep", socket: "/tmp/postoffice-test.sock"}

	spawned, err := s.Spawn(SpawnRequest{Name: "w1", Args: []string{"5"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer spawned.Cmd.Process.Kill()

	got, err := r.Get(uint64(spawned.Cmd.Process.Pid))
	if err != nil {
		t.Fatalf("expected spawned worker registered: %v", err)
	}
	if got.Role != RoleWorker {
		t.Fatalf("expected RoleWorker, got %s", got.Role)
	}
	if got.State != StateStarting {
		t.Fatalf("expected StateStarting, got %s", got.State)
	}
	if got.Name != "w1" {
		t.Fatalf("expected name w1, got %s", got.Name)
	}
}

func TestRegisterRoot(t *testing.T) {
	r := NewRegistry()
	s := &Spawner{registry: r, binPath: "/bin/sleep", socket: "/tmp/postoffice-test.sock"}

	proc, err := s.RegisterRoot("postoffice-root")
	if err != nil {
		t.Fatalf("RegisterRoot: %v", err)
	}
	if proc.Role != RoleRoot {
		t.Fatalf("expected RoleRoot, got %s", proc.Role)
	}
	if proc.State != StateRunning {
		t.Fatalf("expected StateRunning, got %s", proc.State)
	}

	got, err := r.GetByName("postoffice-root")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if got.PID != proc.PID {
		t.Fatalf("expected PID %d, got %d", proc.PID, got.PID)
	}
}
