package systemd

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"surveysched/pkg/logx"
)

func listenNotify(t *testing.T) *net.UnixConn {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	t.Setenv("NOTIFY_SOCKET", path)
	return conn
}

func read(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	buf := make([]byte, 256)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestNotifier_States(t *testing.T) {
	conn := listenNotify(t)
	n := New(true, logx.Nop())

	require.True(t, n.Ready())
	require.Equal(t, "READY=1", read(t, conn))
	require.True(t, n.Status("3 schedules active"))
	require.Equal(t, "STATUS=3 schedules active", read(t, conn))
	require.True(t, n.Stopping())
	require.Equal(t, "STOPPING=1", read(t, conn))
}

func TestNotifier_DisabledOrOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	require.False(t, New(true, logx.Nop()).Ready())

	listenNotify(t)
	require.False(t, New(false, logx.Nop()).Ready())
}

func TestWatchdog_PingsWhileHealthy(t *testing.T) {
	conn := listenNotify(t)
	t.Setenv("WATCHDOG_USEC", "100000")
	t.Setenv("WATCHDOG_PID", "")

	every, ok := WatchdogInterval()
	require.True(t, ok)
	require.Equal(t, 100*time.Millisecond, every)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	healthy := make(chan error, 1)
	healthy <- nil
	done := make(chan struct{})
	go func() {
		New(true, logx.Nop()).Watchdog(ctx, func() error {
			select {
			case err := <-healthy:
				return err
			default:
				return errors.New("wedged")
			}
		})
		close(done)
	}()

	require.True(t, strings.HasPrefix(read(t, conn), "WATCHDOG=1"))
	cancel()
	<-done
}

func TestWatchdog_Unconfigured(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	_, ok := WatchdogInterval()
	require.False(t, ok)

	done := make(chan struct{})
	go func() {
		New(true, logx.Nop()).Watchdog(context.Background(), nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog should return without configuration")
	}
}
