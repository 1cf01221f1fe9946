package cluster

import (
	"fmt"
	"os"
	"path/filepath"
)

// SocketPath computes the root's cluster socket path, grounded on
// cluster_init's search order in facil_cluster.c: ${TMPDIR}, falling
// back to P_tmpdir (POSIX's compile-time default, "/tmp" in practice),
// then a literal "/tmp". dir overrides the search entirely when non-empty
// (SPEC_FULL's Config.SocketDir).
//
// The original names the file "facil-io-sock-<octal pid>"; this port
// uses decimal pid and a domain-specific prefix, but preserves the
// per-process uniqueness the octal encoding existed for.
func SocketPath(dir string, pid int) string {
	if dir == "" {
		dir = os.Getenv("TMPDIR")
	}
	if dir == "" {
		dir = "/tmp"
	}
	return filepath.Join(dir, fmt.Sprintf("postoffice-sock-%d", pid))
}

// removeStale unlinks a leftover socket file from a prior run, mirroring
// cluster_init's unlink-before-bind and the listen() helper in the
// teacher's cmd/hivekernel/main.go.
func removeStale(path string) {
	_ = os.Remove(path)
}
