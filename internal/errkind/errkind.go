// Package errkind defines the broker-wide error taxonomy and its stable
// JSON-RPC code mapping. Every component that crosses the dispatcher boundary
// reports failures as one of these kinds; free-form errors are folded into
// Internal at the boundary.
package errkind

import (
	"errors"
	"fmt"
)

// Kind classifies a broker failure. The order of this list is frozen: the
// JSON-RPC error code for a kind is -32000 minus its index, and hosts key
// retry behaviour off those codes.
type Kind int

const (
	ToolNotFound Kind = iota
	InvalidArguments
	NoClientAvailable
	ClientDisconnected
	ClientTimeout
	UpstreamError
	UpstreamRateLimited
	NotConfigured
	Cancelled
	TimedOut
	QueueFull
	EmptyClipboard
	UndoNotSupported
	Interrupted
	Internal
)

var kindNames = [...]string{
	"ToolNotFound",
	"InvalidArguments",
	"NoClientAvailable",
	"ClientDisconnected",
	"ClientTimeout",
	"UpstreamError",
	"UpstreamRateLimited",
	"NotConfigured",
	"Cancelled",
	"TimedOut",
	"QueueFull",
	"EmptyClipboard",
	"UndoNotSupported",
	"Interrupted",
	"Internal",
}

// String returns the canonical wire name of the kind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "Internal"
	}
	return kindNames[k]
}

// JSONRPCCode returns the stable JSON-RPC error code for the kind.
func (k Kind) JSONRPCCode() int {
	if k < 0 || int(k) >= len(kindNames) {
		k = Internal
	}
	return -32000 - int(k)
}

// Retryable reports whether the task manager may re-queue a task that failed
// with this kind. Only upstream transport failures are retryable; everything
// else is terminal on first occurrence.
func (k Kind) Retryable() bool {
	return k == UpstreamError || k == UpstreamRateLimited
}

// Error is a classified broker error. Details is optional structured context
// that is safe to show to clients (no stack traces, no credentials).
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	wrapped error
}

// E constructs a classified error.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. The underlying error is kept for
// logging via errors.Unwrap but its text is not exposed unless it already is
// the message.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), wrapped: err}
}

// WithDetails attaches client-safe structured context and returns e.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// KindOf extracts the Kind from err, walking the wrap chain. Unclassified
// errors report Internal.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return Internal
}

// AsError converts any error into a classified *Error, preserving an existing
// classification and folding everything else into Internal.
func AsError(err error) *Error {
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return &Error{Kind: Internal, Message: err.Error(), wrapped: err}
}

// Is supports errors.Is matching on kind sentinels created by E(kind, "").
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}
