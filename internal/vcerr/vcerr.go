// Package vcerr defines the daemon-wide error taxonomy and its wire result codes.
package vcerr

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidState    = errors.New("invalid state")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrResourceBusy    = errors.New("resource busy")
	ErrOperationFailed = errors.New("operation failed")
	ErrOutOfMemory     = errors.New("out of memory")
	ErrEngineNotFound  = errors.New("engine not found")
	ErrTimeout         = errors.New("timed out")
)

// ErrRecorderBusy is returned by the capture port when the device is held elsewhere.
var ErrRecorderBusy = ErrResourceBusy

// Wire result codes. Zero is success; every failure is negative.
const (
	CodeNone            = 0
	CodeOutOfMemory     = -12
	CodeResourceBusy    = -16
	CodeInvalidArgument = -22
	CodeTimeout         = -110
	CodeInvalidState    = -0x0100011
	CodeNotFound        = -0x0100012
	CodeAlreadyExists   = -0x0100013
	CodeOperationFailed = -0x0100014
	CodeEngineNotFound  = -0x0100015
)

var codes = []struct {
	err  error
	code int
}{
	{ErrInvalidArgument, CodeInvalidArgument},
	{ErrInvalidState, CodeInvalidState},
	{ErrNotFound, CodeNotFound},
	{ErrAlreadyExists, CodeAlreadyExists},
	{ErrResourceBusy, CodeResourceBusy},
	{ErrOutOfMemory, CodeOutOfMemory},
	{ErrEngineNotFound, CodeEngineNotFound},
	{ErrTimeout, CodeTimeout},
	{ErrOperationFailed, CodeOperationFailed},
}

// Code maps err onto its wire result code. Unknown errors map to CodeOperationFailed.
func Code(err error) int {
	if err == nil {
		return CodeNone
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeOperationFailed
}

// FromCode maps a wire or engine result code back onto a sentinel error.
func FromCode(code int) error {
	if code == CodeNone {
		return nil
	}
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return fmt.Errorf("%w (code %d)", ErrOperationFailed, code)
}
