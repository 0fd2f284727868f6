// Package fugueerr defines the closed error taxonomy shared by every
// daemon component, so callers can discriminate failures by kind rather
// than by parsing message text.
package fugueerr

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable error category. The set is exhaustive at
// the daemon boundary: a new failure mode must map onto one of these.
type Kind string

const (
	NotFound          Kind = "not_found"
	Conflict          Kind = "conflict"
	InvalidArgument   Kind = "invalid_argument"
	LimitExceeded     Kind = "limit_exceeded"
	NotAttached       Kind = "not_attached"
	ArbitrationDenied Kind = "arbitration_denied"
	PaneExited        Kind = "pane_exited"
	SlowConsumer      Kind = "slow_consumer"
	SpawnFailed       Kind = "spawn_failed"
	ReadFailed        Kind = "read_failed"
	WriteFailed       Kind = "write_failed"
	ResizeFailed      Kind = "resize_failed"
	Timeout           Kind = "timeout"
	ProtocolError     Kind = "protocol_error"
	Internal          Kind = "internal"
)

// Error is the concrete error type returned across the daemon boundary.
// It carries a Kind for programmatic handling and a human Message for
// logs/CLI display; RetryAfter is populated only for ArbitrationDenied.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter float64 // seconds; only meaningful for ArbitrationDenied
	cause      error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind that preserves cause for
// errors.Is/As chains while still exposing a stable Kind.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Denied constructs an ArbitrationDenied error carrying the retry-after
// hint in seconds.
func Denied(retryAfter float64, format string, args ...any) *Error {
	return &Error{Kind: ArbitrationDenied, Message: fmt.Sprintf(format, args...), RetryAfter: retryAfter}
}

// Is reports whether err (or any error it wraps) is a fugueerr.Error of
// the given Kind. Mirrors errors.Is ergonomics without importing errors
// at every call site.
func Is(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}
