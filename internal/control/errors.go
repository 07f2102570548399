package control

import (
	"errors"
	"fmt"
)

// Sentinel errors for control handling. Every *Error unwraps to the
// sentinel of its kind.
var (
	// ErrMalformedRequest is matched by requests with missing or mistyped fields.
	ErrMalformedRequest = errors.New("control: malformed request")

	// ErrOptionNotFound is matched by requests naming an unknown option or stream.
	ErrOptionNotFound = errors.New("control: option not found")

	// ErrCallbackFailed is matched when an injected strategy fails or panics.
	ErrCallbackFailed = errors.New("control: callback failed")

	// ErrInvalidControl is matched by requests no handler recognises.
	ErrInvalidControl = errors.New("control: invalid control")

	// ErrDispatcherStopped is returned by Submit after Stop.
	ErrDispatcherStopped = errors.New("control: dispatcher stopped")

	// ErrStopTimeout is returned by Stop when in-flight jobs outlive the timeout.
	ErrStopTimeout = errors.New("control: timeout waiting for in-flight jobs")
)

// ErrorKind classifies a per-request failure.
type ErrorKind int

const (
	// KindMalformed is a missing field or a field of the wrong type.
	KindMalformed ErrorKind = iota
	// KindResolution is an unknown option name or stream.
	KindResolution
	// KindCallback is a failure raised by an injected strategy.
	KindCallback
	// KindInvalidControl is a request id nobody handles.
	KindInvalidControl
)

// String returns a short name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindResolution:
		return "resolution"
	case KindCallback:
		return "callback"
	case KindInvalidControl:
		return "invalid-control"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindMalformed:
		return ErrMalformedRequest
	case KindResolution:
		return ErrOptionNotFound
	case KindCallback:
		return ErrCallbackFailed
	default:
		return ErrInvalidControl
	}
}

// Error is the failure result of a control handler. Message becomes the
// "explanation" of the reply.
type Error struct {
	Kind    ErrorKind
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error returns the explanation sent to the client.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

func malformed(format string, args ...any) *Error {
	return &Error{Kind: KindMalformed, Message: fmt.Sprintf(format, args...)}
}

func resolution(err error) *Error {
	return &Error{Kind: KindResolution, Message: err.Error(), Err: err}
}

func callbackFailed(err error) *Error {
	return &Error{Kind: KindCallback, Message: err.Error(), Err: err}
}

func invalidControl() *Error {
	return &Error{Kind: KindInvalidControl, Message: "invalid control"}
}
