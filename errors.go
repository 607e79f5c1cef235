package httpdrive

import (
	"errors"
	"fmt"
)

// ErrDisconnected is returned when the caller feeds empty Data while the
// driver is awaiting input (a 100-Continue status or a response).
var ErrDisconnected = errors.New("httpdrive: connection disconnected while awaiting input")

// ErrRedirectFailed is the sentinel wrapped by a failed redirect derivation;
// use errors.Is to detect it regardless of the underlying cause.
var ErrRedirectFailed = errors.New("httpdrive: redirect target could not be derived")

// ErrorKind classifies the recoverable errors a Driver can return.
type ErrorKind int

const (
	// KindTimeout means a deadline was reached; see Error.Reason.
	KindTimeout ErrorKind = iota
	// KindLargeResponseHeader means the parser was offered more bytes than
	// the configured limit without completing the status line and headers.
	KindLargeResponseHeader
	// KindRedirectFailed means a redirection response lacked a usable
	// Location or the flow could not derive a new request from it.
	KindRedirectFailed
	// KindFlowError means the underlying flow rejected or failed to parse
	// something (malformed status line, invalid header, framing violation).
	KindFlowError
)

// Error is the concrete type behind every non-sentinel error a Driver
// returns. Use errors.As to recover it and inspect Kind.
type Error struct {
	Kind   ErrorKind
	Reason TimeoutReason // set when Kind == KindTimeout
	Len    int           // set when Kind == KindLargeResponseHeader
	Limit  int           // set when Kind == KindLargeResponseHeader
	Err    error         // wrapped detail; set for KindRedirectFailed and KindFlowError
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("httpdrive: timeout (%s)", e.Reason)
	case KindLargeResponseHeader:
		return fmt.Sprintf("httpdrive: response header chunk of %d bytes exceeds limit of %d", e.Len, e.Limit)
	case KindRedirectFailed:
		return fmt.Sprintf("%s: %v", ErrRedirectFailed, e.Err)
	case KindFlowError:
		return fmt.Sprintf("httpdrive: flow error: %v", e.Err)
	default:
		return "httpdrive: unknown error"
	}
}

func (e *Error) Unwrap() error {
	switch e.Kind {
	case KindRedirectFailed:
		return ErrRedirectFailed
	default:
		return e.Err
	}
}

func errTimeout(reason TimeoutReason) error {
	return &Error{Kind: KindTimeout, Reason: reason}
}

func errLargeResponseHeader(length, limit int) error {
	return &Error{Kind: KindLargeResponseHeader, Len: length, Limit: limit}
}

func errRedirectFailed(cause error) error {
	return &Error{Kind: KindRedirectFailed, Err: cause}
}

func wrapFlowErr(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindFlowError, Err: err}
}
