// Package ipc carries daemon RPCs as line-delimited JSON over a unix socket.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rbright/vcd/internal/vcerr"
)

// Role names the caller category an RPC is addressed to.
type Role string

const (
	RoleManager Role = "manager"
	RoleClient  Role = "client"
	RoleWidget  Role = "widget"
	// RoleDaemon carries local administrative queries such as status.
	RoleDaemon Role = "daemon"
)

// Method names shared by the daemon and its callers.
const (
	MethodInitialize           = "initialize"
	MethodFinalize             = "finalize"
	MethodSetCommand           = "set_command"
	MethodUnsetCommand         = "unset_command"
	MethodSetDemandableClients = "set_demandable_clients"
	MethodSetAudioType         = "set_audio_type"
	MethodGetAudioType         = "get_audio_type"
	MethodSetClientInfo        = "set_client_info"
	MethodStart                = "start"
	MethodStartRecording       = "start_recording"
	MethodStop                 = "stop"
	MethodCancel               = "cancel"
	MethodResultSelection      = "result_selection"
	MethodGetResult            = "get_result"
	MethodStatus               = "status"
)

// Request is one RPC call. Args holds the method-specific JSON object.
type Request struct {
	Role   Role            `json:"role"`
	Method string          `json:"method"`
	PID    int             `json:"pid"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// Response carries the call's result code (0 on success) and optional data.
type Response struct {
	Code  int             `json:"code"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewRequest encodes args into a request.
func NewRequest(role Role, method string, pid int, args any) (Request, error) {
	req := Request{Role: role, Method: method, PID: pid}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return Request{}, fmt.Errorf("encode %s.%s args: %w", role, method, err)
		}
		req.Args = raw
	}
	return req, nil
}

// Decode unmarshals the request args into v.
func (r Request) Decode(v any) error {
	if len(r.Args) == 0 {
		return fmt.Errorf("%s.%s: missing args: %w", r.Role, r.Method, vcerr.ErrInvalidArgument)
	}
	if err := json.Unmarshal(r.Args, v); err != nil {
		return fmt.Errorf("%s.%s: decode args: %v: %w", r.Role, r.Method, err, vcerr.ErrInvalidArgument)
	}
	return nil
}

// OK builds a success response, encoding data when non-nil.
func OK(data any) Response {
	if data == nil {
		return Response{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Fail(fmt.Errorf("encode response: %v: %w", err, vcerr.ErrOperationFailed))
	}
	return Response{Data: raw}
}

// Fail builds a failure response from err.
func Fail(err error) Response {
	return Response{Code: vcerr.Code(err), Error: err.Error()}
}

// Err maps a failure response back onto the error taxonomy.
func (r Response) Err() error {
	if r.Code == vcerr.CodeNone {
		return nil
	}
	sentinel := vcerr.FromCode(r.Code)
	if r.Error == "" {
		return sentinel
	}
	return &RemoteError{Message: r.Error, err: sentinel}
}

// Decode unmarshals response data into v.
func (r Response) Decode(v any) error {
	if err := r.Err(); err != nil {
		return err
	}
	if len(r.Data) == 0 {
		return errors.New("response carries no data")
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

// RemoteError is a failure reported by the daemon.
type RemoteError struct {
	Message string
	err     error
}

func (e *RemoteError) Error() string { return e.Message }
func (e *RemoteError) Unwrap() error { return e.err }
