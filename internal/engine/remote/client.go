package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Config controls how a remote engine is reached.
type Config struct {
	Endpoint    string
	DialTimeout time.Duration
	CallTimeout time.Duration
}

// Client is one connection to a remote engine.
type Client struct {
	conn        *grpc.ClientConn
	callTimeout time.Duration
}

// CodeError is a non-zero engine result code carried in an RPC response.
type CodeError struct {
	Method string
	Code   int
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("remote engine %s returned %d", e.Method, e.Code)
}

// Dial connects to endpoint and waits until the connection is ready. Servers that also
// implement grpc.health.v1 must report SERVING for ServiceName.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("remote engine endpoint is empty")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial remote engine %q: %w", endpoint, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	conn.Connect()
	if err := waitForReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wait for remote engine readiness: %w", err)
	}
	if err := checkHealth(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Client{conn: conn, callTimeout: cfg.CallTimeout}, nil
}

// waitForReady blocks until the connection enters Ready or fails.
func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("grpc connection entered shutdown state")
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("grpc readiness wait timed out in state %s", state.String())
		}
	}
}

func checkHealth(ctx context.Context, conn *grpc.ClientConn) error {
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	if status.Code(err) == codes.Unimplemented {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remote engine health check: %w", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("remote engine health status %s", resp.GetStatus().String())
	}
	return nil
}

// Call issues one unary RPC. A non-zero "code" response field is returned as *CodeError.
func (c *Client) Call(method string, fields map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
	defer cancel()

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, FullMethod(method), req, resp); err != nil {
		return nil, fmt.Errorf("remote engine %s: %w", method, err)
	}
	if code := int(resp.GetFields()["code"].GetNumberValue()); code != 0 {
		return resp, &CodeError{Method: method, Code: code}
	}
	return resp, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
