package ipc

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// leaveStaleSocket binds path and closes the listener without unlinking, as a crashed
// daemon would.
func leaveStaleSocket(t *testing.T, path string) {
	t.Helper()
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)
	listener.SetUnlinkOnClose(false)
	require.NoError(t, listener.Close())
	_, err = os.Lstat(path)
	require.NoError(t, err)
}

func TestAcquireReplacesSocketOfDeadDaemon(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), SocketName)
	leaveStaleSocket(t, socketPath)

	listener, err := Acquire(context.Background(), socketPath, AcquireOptions{ProbeTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer listener.Close()

	info, err := os.Stat(socketPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestAcquireDefersToRunningDaemon(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), SocketName)
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []Request
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, req Request) Response {
			mu.Lock()
			seen = append(seen, req)
			mu.Unlock()
			return OK(map[string]string{"state": "recording", "mode": "stop_by_silence"})
		}))
	}()

	_, err = Acquire(context.Background(), socketPath, AcquireOptions{ProbeTimeout: 80 * time.Millisecond, Attempts: 1})
	require.ErrorIs(t, err, ErrAlreadyRunning)

	mu.Lock()
	require.Len(t, seen, 1)
	require.Equal(t, RoleDaemon, seen[0].Role)
	require.Equal(t, MethodStatus, seen[0].Method)
	mu.Unlock()

	cancel()
	require.NoError(t, <-done)
}

func TestAcquireLeavesForeignFilesAlone(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), SocketName)
	require.NoError(t, os.WriteFile(socketPath, []byte("manager notes"), 0o600))

	_, err := Acquire(context.Background(), socketPath, AcquireOptions{Attempts: 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a socket")

	content, err := os.ReadFile(socketPath)
	require.NoError(t, err)
	require.Equal(t, "manager notes", string(content))
}

func TestAcquireKeepsSocketWhenOwnerDoesNotAnswer(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), SocketName)
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			conn, acceptErr := listener.Accept()
			if acceptErr != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				time.Sleep(250 * time.Millisecond)
			}(conn)
		}
	}()

	_, err = Acquire(context.Background(), socketPath, AcquireOptions{ProbeTimeout: 30 * time.Millisecond, Attempts: 1})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAlreadyRunning)
	require.Contains(t, err.Error(), "probe existing socket")

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
	require.NoError(t, listener.Close())
	<-acceptDone
}

func TestReleaseUnlinksSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), SocketName)
	listener, err := Acquire(context.Background(), socketPath, AcquireOptions{})
	require.NoError(t, err)

	require.NoError(t, Release(listener, socketPath))
	_, err = os.Lstat(socketPath)
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, Release(listener, socketPath))
}

func TestSocketPath(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	_, err := SocketPath("")
	require.Error(t, err)

	path, err := SocketPath(" /tmp/custom.sock ")
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom.sock", path)

	runtimeDir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)
	path, err = SocketPath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(runtimeDir, SocketName), path)
}
