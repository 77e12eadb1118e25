package systemd

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "badgewatch/pkg/logx"
)

func listen(t *testing.T) *net.UnixConn {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Skipf("unixgram not available: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	t.Setenv("NOTIFY_SOCKET", path)
	return conn
}

func read(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	buf := make([]byte, 256)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read notify socket: %v", err)
	}
	return string(buf[:n])
}

func TestNoSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	n := New(logx.Nop())
	if n.Ready() {
		t.Fatalf("Ready() = true without NOTIFY_SOCKET")
	}
	if WatchdogInterval() != 0 {
		t.Fatalf("WatchdogInterval() != 0 without WATCHDOG_USEC")
	}
}

func TestNotifyStates(t *testing.T) {
	conn := listen(t)
	n := New(logx.Nop())

	if !n.Ready() {
		t.Fatalf("Ready() = false")
	}
	if got := read(t, conn); got != "READY=1" {
		t.Fatalf("state = %q, want READY=1", got)
	}
	n.Status("2 subscribers")
	if got := read(t, conn); got != "STATUS=2 subscribers" {
		t.Fatalf("state = %q", got)
	}
	n.Stopping()
	if got := read(t, conn); got != "STOPPING=1" {
		t.Fatalf("state = %q, want STOPPING=1", got)
	}
}

func TestRunWatchdog(t *testing.T) {
	conn := listen(t)
	n := New(logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.RunWatchdog(ctx, 10*time.Millisecond, nil)
	}()
	if got := read(t, conn); !strings.HasPrefix(got, "WATCHDOG=1") {
		t.Fatalf("state = %q, want WATCHDOG=1", got)
	}
	cancel()
	<-done
}

func TestWatchdogInterval(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "2000000")
	t.Setenv("WATCHDOG_PID", "")
	if got := WatchdogInterval(); got != time.Second {
		t.Fatalf("WatchdogInterval() = %v, want 1s", got)
	}
}
