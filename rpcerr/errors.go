// Package rpcerr defines the error taxonomy for remote calls.
//
// Every failure is an *Error with a Kind saying what went wrong, the call
// state it happened in (when known), and the raw text the console sent back
// (when there was any). Errors compare by kind with errors.Is:
//
//	if errors.Is(err, rpcerr.ErrTransport) {
//		// the whole call may be retried with a fresh allocation
//	}
package rpcerr

import (
	"errors"
	"strings"
)

// Kind categorizes the error.
type Kind string

const (
	KindProtocol     Kind = "protocol_error"         // console reply had the wrong shape
	KindTransport    Kind = "transport_error"        // connect/send/receive failed or timed out
	KindRemote       Kind = "remote_rejection"       // console reported a failure status
	KindPrecondition Kind = "precondition_violation" // caller or encoder contract broken
)

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrProtocol     = &Error{Kind: KindProtocol}
	ErrTransport    = &Error{Kind: KindTransport}
	ErrRemote       = &Error{Kind: KindRemote}
	ErrPrecondition = &Error{Kind: KindPrecondition}
)

// Error is the structured error returned by every layer of a call.
type Error struct {
	Kind   Kind
	State  string // Orchestrator state the error surfaced in, empty if outside a call
	Detail string
	Raw    string // Raw console text, for diagnosis
	Err    error
}

// New creates an error of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: cause}
}

// Protocol reports a console reply that did not match the expected shape.
func Protocol(detail, raw string) *Error {
	return &Error{Kind: KindProtocol, Detail: detail, Raw: raw}
}

// Remote reports a failure status sent by the console.
func Remote(detail, raw string) *Error {
	return &Error{Kind: KindRemote, Detail: detail, Raw: raw}
}

// Transport wraps a channel failure.
func Transport(detail string, cause error) *Error {
	return &Error{Kind: KindTransport, Detail: detail, Err: cause}
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(string(e.Kind))
	if e.State != "" {
		b.WriteString(" in state ")
		b.WriteString(e.State)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Raw != "" {
		b.WriteString(" (console said: ")
		b.WriteString(strings.TrimRight(e.Raw, "\r\n"))
		b.WriteByte(')')
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind, which is what makes the sentinels work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithState annotates err with the call state it surfaced in. An *Error that
// already carries a state keeps it. Anything else is treated as a transport
// failure, since only the channel produces foreign errors.
func WithState(err error, state string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.State != "" {
			return err
		}
		annotated := *e
		annotated.State = state
		return &annotated
	}
	return &Error{Kind: KindTransport, State: state, Err: err}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the whole call may be attempted again.
// Only transport failures qualify; a retry must start from a fresh allocation.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport)
}
