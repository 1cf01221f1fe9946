package postoffice

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies that no test in this package leaks goroutines — the
// deferred-task worker pool and metadata/engine registries are exactly
// the kind of long-lived goroutine owner that a missing Stop() call
// would silently leave running.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
