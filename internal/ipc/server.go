package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rbright/vcd/internal/vcerr"
)

// MaxRequestBytes bounds one request line. Command lists are the largest payloads.
const MaxRequestBytes = 1 << 20

// Handler processes one IPC request.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Server answers newline-delimited requests on accepted connections. A client may keep its
// connection open and send any number of requests; each gets exactly one response line.
type Server struct {
	Handler Handler
	Logger  *slog.Logger
	// IdleTimeout closes a connection that sends nothing for this long. Zero disables it.
	IdleTimeout time.Duration
}

// Serve is Server{Handler: handler}.Serve.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	return (&Server{Handler: handler}).Serve(ctx, listener)
}

// Serve accepts connections until ctx is cancelled or the listener closes, then waits for
// in-flight requests.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	// Cancelled before the wait above so idle connections are released.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conns := make(map[net.Conn]struct{})
	var mu sync.Mutex

	go func() {
		<-ctx.Done()
		_ = listener.Close()
		mu.Lock()
		for c := range conns {
			// Unblocks readers parked on idle connections.
			_ = c.SetReadDeadline(time.Now())
		}
		mu.Unlock()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept IPC connection: %w", err)
		}

		mu.Lock()
		conns[conn] = struct{}{}
		if ctx.Err() != nil {
			_ = conn.SetReadDeadline(time.Now())
		}
		mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, conn, logger)
			mu.Lock()
			delete(conns, conn)
			mu.Unlock()
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn, logger *slog.Logger) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), MaxRequestBytes)
	enc := json.NewEncoder(conn)

	for {
		if s.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.IdleTimeout))
		}
		if ctx.Err() != nil || !scanner.Scan() {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp Response
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			logger.Warn("ipc request rejected", "error", err.Error())
			resp = Fail(fmt.Errorf("decode request: %v: %w", err, vcerr.ErrInvalidArgument))
		} else {
			resp = s.Handler.Handle(ctx, req)
			if resp.Code != 0 {
				logger.Debug("ipc request failed", "role", string(req.Role), "method", req.Method, "pid", req.PID, "error", resp.Error)
			}
		}
		if err := enc.Encode(resp); err != nil {
			logger.Debug("ipc response not written", "error", err.Error())
			return
		}
	}

	if err := scanner.Err(); errors.Is(err, bufio.ErrTooLong) {
		_ = enc.Encode(Fail(fmt.Errorf("request exceeds %d bytes: %w", MaxRequestBytes, vcerr.ErrInvalidArgument)))
	}
}
