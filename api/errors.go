// File: api/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Common error types and error handling utilities for the offload engine.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the engine.
var (
	ErrInvalidArgument   = fmt.Errorf("invalid argument")
	ErrResourceExhausted = fmt.Errorf("resource exhausted")
	ErrOperationTimeout  = fmt.Errorf("operation timeout")
	ErrNotSupported      = fmt.Errorf("operation not supported")
	ErrAlreadyExists     = fmt.Errorf("resource already exists")
	ErrNotFound          = fmt.Errorf("resource not found")
	ErrClosed            = fmt.Errorf("resource is closed")

	// Arena pool.
	ErrArenaExhausted = fmt.Errorf("arena exhausted: %w", ErrResourceExhausted)
	ErrArenaTooSmall  = fmt.Errorf("request exceeds arena capacity: %w", ErrInvalidArgument)
	ErrInvalidIoBase  = fmt.Errorf("io base not checked out")
	ErrStaleHandle    = fmt.Errorf("stale buffer handle")
	ErrBadDevicePtr   = fmt.Errorf("device pointer out of range")

	// Kernel argument stager and context state machine.
	ErrTooManyArgs   = fmt.Errorf("kernel argument limit (%d) exceeded", MaxKernelArgs)
	ErrNoKernelArgs  = fmt.Errorf("kernel launch without arguments")
	ErrContextBusy   = fmt.Errorf("context is running a kernel")
	ErrDeviceFaulted = fmt.Errorf("device path faulted")

	// Remote coprocessor.
	ErrPollTimeout  = fmt.Errorf("poll ring slot timed out: %w", ErrOperationTimeout)
	ErrRemoteReply  = fmt.Errorf("remote rejected request")
	ErrConnectRetry = fmt.Errorf("connection retry budget exhausted")
)

// ErrorCode represents specific error conditions in the engine.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResourceExhausted
	ErrCodeTimeout
	ErrCodeNotSupported
	ErrCodeAlreadyExists
	ErrCodeNotFound
	ErrCodeTransport
	ErrCodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid-argument"
	case ErrCodeResourceExhausted:
		return "resource-exhausted"
	case ErrCodeTimeout:
		return "timeout"
	case ErrCodeNotSupported:
		return "not-supported"
	case ErrCodeAlreadyExists:
		return "already-exists"
	case ErrCodeNotFound:
		return "not-found"
	case ErrCodeTransport:
		return "transport"
	default:
		return "internal"
	}
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WrapError creates a structured error around cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	e := NewError(code, message)
	e.Err = cause
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf returns the code of the outermost structured error in err's chain,
// ErrCodeInternal for unstructured errors and ErrCodeOK for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsCapacity reports whether err is a recoverable capacity condition the
// caller is expected to back off from.
func IsCapacity(err error) bool {
	return errors.Is(err, ErrResourceExhausted) ||
		errors.Is(err, ErrTooManyArgs) ||
		errors.Is(err, ErrContextBusy)
}
