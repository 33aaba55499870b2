// Package dwerr defines the tagged error model shared by every layer of
// the bridge: transport faults from the serial line, protocol faults from
// debugWire itself, session faults from the RSP wire format, and usage
// faults from the CLI.
package dwerr

import "fmt"

// Kind tags an Error with the layer that raised it.
type Kind int

const (
	// Transport covers serial I/O failures and echo mismatches (C1/C2).
	Transport Kind = iota + 1
	// Protocol covers debugWire-level faults: bad sync, unknown
	// signature, unexpected response (C3/C4).
	Protocol
	// Session covers RSP-level faults: bad checksum, malformed command
	// (C5).
	Session
	// Usage covers bad CLI invocation.
	Usage
	// Internal covers allocation/invariant failures that should abort
	// the process rather than the current operation.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	case Session:
		return "session"
	case Usage:
		return "usage"
	case Internal:
		return "internal"
	default:
		return "error"
	}
}

// Error is the single concrete error type used across the bridge. It
// carries the layer (Kind), a message, and an optional wrapped cause.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.msg != "" {
		if e.err != nil {
			return e.msg + ": " + e.err.Error()
		}
		return e.msg
	}
	if e.err != nil {
		return e.err.Error()
	}
	return e.Kind.String()
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.err
}

// New builds an Error with a fixed message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a message and Kind to an existing cause. Returns nil if
// cause is nil, so call sites can do `return dwerr.Wrap(Transport, "...", err)`
// unconditionally after an operation that may or may not have failed.
func Wrap(kind Kind, msg string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, msg: msg, err: cause}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), err: cause}
}

// Is reports whether err (or any error in its chain) is an *Error of the
// given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			if e.Kind == kind {
				return true
			}
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// ErrClosed is returned by any Port operation performed after Close.
var ErrClosed = New(Transport, "port already closed")

// ErrUnexpectedEOF is returned when a read times out or observes EOF
// before the requested number of bytes has arrived.
var ErrUnexpectedEOF = New(Transport, "unexpected EOF from serial port")
