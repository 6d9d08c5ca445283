package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rbright/vcd/internal/vcerr"
	"github.com/stretchr/testify/require"
)

func TestSendRoundTrip(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "vcd.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, req Request) Response {
			if req.Role != RoleManager || req.Method != MethodSetAudioType || req.PID != 42 {
				return Fail(vcerr.ErrInvalidArgument)
			}
			var args struct {
				ID string `json:"id"`
			}
			if err := req.Decode(&args); err != nil {
				return Fail(err)
			}
			return OK(map[string]string{"id": args.ID})
		}))
	}()

	req, err := NewRequest(RoleManager, MethodSetAudioType, 42, map[string]string{"id": "usb"})
	require.NoError(t, err)
	resp, err := Call(context.Background(), socketPath, req, 200*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, vcerr.CodeNone, resp.Code)

	var data map[string]string
	require.NoError(t, resp.Decode(&data))
	require.Equal(t, "usb", data["id"])

	cancel()
	require.NoError(t, <-serveDone)
}

func TestSendDecodeResponseError(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "vcd.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)
		_, _ = reader.ReadBytes('\n')
		_, _ = conn.Write([]byte("not-json\n"))
	}()

	_, err = Send(context.Background(), socketPath, Request{Role: RoleDaemon, Method: MethodStatus}, 200*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}

func TestSendReadResponseError(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "vcd.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		_ = conn.Close()
	}()

	_, err = Send(context.Background(), socketPath, Request{Role: RoleDaemon, Method: MethodStatus}, 200*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "read response")
}

func TestServeDecodeRequestErrorResponse(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "vcd.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, _ Request) Response {
			return OK(nil)
		}))
	}()

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not-json\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	require.Equal(t, vcerr.CodeInvalidArgument, resp.Code)
	require.Contains(t, resp.Error, "decode request")
	require.ErrorIs(t, resp.Err(), vcerr.ErrInvalidArgument)

	cancel()
	require.NoError(t, <-serveDone)
}

func TestProbe(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "vcd.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, req Request) Response {
			if req.Method == MethodStatus {
				return OK(map[string]string{"state": "ready"})
			}
			return Fail(vcerr.ErrInvalidArgument)
		}))
	}()

	alive, probeErr := Probe(context.Background(), socketPath, 200*time.Millisecond)
	require.NoError(t, probeErr)
	require.True(t, alive)

	cancel()
	require.NoError(t, <-serveDone)

	alive, probeErr = Probe(context.Background(), socketPath, 100*time.Millisecond)
	require.NoError(t, probeErr)
	require.False(t, alive)
}

func TestCallMapsFailureCode(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "vcd.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, req Request) Response {
			return Fail(fmt.Errorf("start while recording: %w", vcerr.ErrInvalidState))
		}))
	}()

	resp, err := Call(context.Background(), socketPath, Request{Role: RoleManager, Method: MethodStart, PID: 7}, 200*time.Millisecond)
	require.ErrorIs(t, err, vcerr.ErrInvalidState)
	require.Equal(t, "start while recording: invalid state", err.Error())
	require.Equal(t, vcerr.CodeInvalidState, resp.Code)

	cancel()
	require.NoError(t, <-serveDone)
}

func TestRequestDecodeRequiresArgs(t *testing.T) {
	req := Request{Role: RoleClient, Method: MethodSetCommand, PID: 1}
	var v struct{}
	require.ErrorIs(t, req.Decode(&v), vcerr.ErrInvalidArgument)

	req.Args = []byte(`{"type":`)
	require.ErrorIs(t, req.Decode(&v), vcerr.ErrInvalidArgument)
}

func TestResponseDecodeWithoutData(t *testing.T) {
	var v map[string]string
	require.Error(t, OK(nil).Decode(&v))
	require.ErrorIs(t, Fail(vcerr.ErrNotFound).Decode(&v), vcerr.ErrNotFound)
}

func TestServerAnswersEachRequestOnPersistentConnection(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "vcd.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := &Server{
		Handler: HandlerFunc(func(_ context.Context, req Request) Response {
			if req.Role != RoleWidget {
				return Fail(vcerr.ErrInvalidArgument)
			}
			return OK(map[string]string{"method": req.Method})
		}),
		IdleTimeout: time.Minute,
	}
	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(ctx, listener) }()

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)
	enc := json.NewEncoder(conn)

	for _, method := range []string{MethodInitialize, MethodStart, MethodStop} {
		require.NoError(t, enc.Encode(Request{Role: RoleWidget, Method: method, PID: 200}))
		line, err := reader.ReadBytes('\n')
		require.NoError(t, err)

		var resp Response
		require.NoError(t, json.Unmarshal(line, &resp))
		var data map[string]string
		require.NoError(t, resp.Decode(&data))
		require.Equal(t, method, data["method"])
	}

	require.NoError(t, enc.Encode(Request{Role: RoleClient, Method: MethodStart, PID: 100}))
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	require.Equal(t, vcerr.CodeInvalidArgument, resp.Code)

	// An idle connection does not hold up shutdown.
	cancel()
	select {
	case err := <-serveDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop with an idle connection open")
	}
}

func TestServerRejectsOversizedRequest(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "vcd.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(context.Context, Request) Response { return OK(nil) }))
	}()

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	go func() {
		payload := make([]byte, MaxRequestBytes+16)
		for i := range payload {
			payload[i] = 'a'
		}
		_, _ = conn.Write(append(payload, '\n'))
	}()

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	require.Equal(t, vcerr.CodeInvalidArgument, resp.Code)
	require.Contains(t, resp.Error, "exceeds")

	cancel()
	require.NoError(t, <-serveDone)
}
