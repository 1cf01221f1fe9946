package cluster

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies that no test in this package leaks goroutines — each
// Root.Serve accept loop and Worker.Run read loop must actually stop when
// its socket/link is closed.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
