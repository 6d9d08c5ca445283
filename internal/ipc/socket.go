package ipc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

var ErrAlreadyRunning = errors.New("vcd daemon already running")

// SocketName is the daemon socket file name under XDG_RUNTIME_DIR.
const SocketName = "vcd.sock"

// SocketPath returns override when set, else the socket under XDG_RUNTIME_DIR.
func SocketPath(override string) (string, error) {
	if p := strings.TrimSpace(override); p != "" {
		return p, nil
	}
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtimeDir, SocketName), nil
}

// AcquireOptions tunes how Acquire treats an existing socket file.
type AcquireOptions struct {
	// ProbeTimeout bounds the daemon.status roundtrip sent to a socket already on disk.
	ProbeTimeout time.Duration
	// Attempts is how many times listening is tried before giving up.
	Attempts int
	// Backoff is the wait after the first failed attempt; it grows linearly.
	Backoff time.Duration
}

func (o AcquireOptions) withDefaults() AcquireOptions {
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 200 * time.Millisecond
	}
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 25 * time.Millisecond
	}
	return o
}

// Acquire makes this process the single daemon listening on path.
//
// A socket left behind by a dead daemon is unlinked and listening is retried. A daemon that
// answers daemon.status yields ErrAlreadyRunning. A path that is not a socket, or a listener
// that neither answers nor refuses, is left alone and reported as an error.
func Acquire(ctx context.Context, path string, opts AcquireOptions) (net.Listener, error) {
	opts = opts.withDefaults()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		listener, err := net.Listen("unix", path)
		if err == nil {
			if err := os.Chmod(path, 0o600); err != nil {
				_ = listener.Close()
				return nil, fmt.Errorf("restrict socket %s: %w", path, err)
			}
			return listener, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}
		lastErr = err

		if err := removeStaleSocket(ctx, path, opts.ProbeTimeout); err != nil {
			return nil, err
		}

		if attempt < opts.Attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * opts.Backoff):
			}
		}
	}
	return nil, fmt.Errorf("acquire socket %s after %d attempts: %w", path, opts.Attempts, lastErr)
}

// removeStaleSocket unlinks path when nothing owns it.
func removeStaleSocket(ctx context.Context, path string, probeTimeout time.Duration) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat socket %s: %w", path, err)
	}
	if info.Mode().Type() != fs.ModeSocket {
		return fmt.Errorf("%s exists and is not a socket", path)
	}

	alive, err := Probe(ctx, path, probeTimeout)
	if alive {
		return ErrAlreadyRunning
	}
	if err != nil {
		return fmt.Errorf("probe existing socket %s: %w", path, err)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	return nil
}

// Release closes listener and unlinks path if it still names this daemon's socket.
func Release(listener net.Listener, path string) error {
	closeErr := listener.Close()
	if errors.Is(closeErr, net.ErrClosed) {
		closeErr = nil
	}
	info, err := os.Lstat(path)
	if err != nil || info.Mode().Type() != fs.ModeSocket {
		return closeErr
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Join(closeErr, fmt.Errorf("remove socket %s: %w", path, err))
	}
	return closeErr
}
