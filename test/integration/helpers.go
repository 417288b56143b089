package integration

import (
	"net"
	"testing"
	"time"
)

// skipIfServerNotRunning skips the test when no stream server listens at
// addr. Start one with: go run test/stream-server.go
func skipIfServerNotRunning(t *testing.T, addr string) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Skipf("Skipping integration test: stream server not running at %s", addr)
	}
	conn.Close()
}
