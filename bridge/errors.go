package bridge

import (
	"errors"
	"fmt"
)

// ErrorType classifies bridge errors
type ErrorType int

const (
	ErrorTypeNotRunning ErrorType = iota
	ErrorTypeProcessExited
	ErrorTypeStopped
	ErrorTypeRuntimeNotFound
	ErrorTypeStartFailed
	ErrorTypeStartTimeout
	ErrorTypeCodec
	ErrorTypeIo
	ErrorTypeRemote
	ErrorTypeTimeout
	ErrorTypeAlreadyResponded
)

// Error represents errors from the host bridge
type Error struct {
	Type    ErrorType
	Message string
}

func (e *Error) Error() string {
	switch e.Type {
	case ErrorTypeNotRunning:
		return "extension host is not running"
	case ErrorTypeProcessExited:
		if e.Message != "" {
			return fmt.Sprintf("extension host exited: %s", e.Message)
		}
		return "extension host exited unexpectedly"
	case ErrorTypeStopped:
		return "extension host was stopped"
	case ErrorTypeRuntimeNotFound:
		return fmt.Sprintf("no suitable runtime executable: %s", e.Message)
	case ErrorTypeStartFailed:
		return fmt.Sprintf("failed to start extension host: %s", e.Message)
	case ErrorTypeStartTimeout:
		return fmt.Sprintf("extension host did not start within %s", e.Message)
	case ErrorTypeCodec:
		return fmt.Sprintf("CBOR error: %s", e.Message)
	case ErrorTypeIo:
		return fmt.Sprintf("I/O error: %s", e.Message)
	case ErrorTypeRemote:
		return e.Message
	case ErrorTypeTimeout:
		return fmt.Sprintf("call timed out after %s", e.Message)
	case ErrorTypeAlreadyResponded:
		return fmt.Sprintf("request %s already responded", e.Message)
	default:
		return fmt.Sprintf("Unknown error: %s", e.Message)
	}
}

// Is matches bridge errors by type, so errors.Is(err, ErrNotRunning) holds
// for any not-running error regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Type == e.Type
}

var (
	ErrNotRunning       = &Error{Type: ErrorTypeNotRunning}
	ErrHostExited       = &Error{Type: ErrorTypeProcessExited}
	ErrHostStopped      = &Error{Type: ErrorTypeStopped}
	ErrTimeout          = &Error{Type: ErrorTypeTimeout}
	ErrAlreadyResponded = &Error{Type: ErrorTypeAlreadyResponded}
)

// IsTransport reports whether err means the host connection itself failed,
// as opposed to the host answering with an error.
func IsTransport(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Type {
	case ErrorTypeNotRunning, ErrorTypeProcessExited, ErrorTypeStopped, ErrorTypeIo:
		return true
	}
	return false
}
