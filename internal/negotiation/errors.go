package negotiation

import (
	"errors"
	"fmt"
)

// Kind classifies a command failure
type Kind int

const (
	Internal Kind = iota
	NotFound
	NotAllowed
	InvalidState
	InvalidInput
	Conflict
	AlreadyPaid
	GatewayFailed
)

var kindNames = map[Kind]string{
	Internal:      "Internal",
	NotFound:      "NotFound",
	NotAllowed:    "NotAllowed",
	InvalidState:  "InvalidState",
	InvalidInput:  "InvalidInput",
	Conflict:      "Conflict",
	AlreadyPaid:   "AlreadyPaid",
	GatewayFailed: "GatewayFailed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a typed command failure
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrInternal      = &Error{Kind: Internal}
	ErrNotFound      = &Error{Kind: NotFound}
	ErrNotAllowed    = &Error{Kind: NotAllowed}
	ErrInvalidState  = &Error{Kind: InvalidState}
	ErrInvalidInput  = &Error{Kind: InvalidInput}
	ErrConflict      = &Error{Kind: Conflict}
	ErrAlreadyPaid   = &Error{Kind: AlreadyPaid}
	ErrGatewayFailed = &Error{Kind: GatewayFailed}
)

// KindOf returns the kind of err; untyped errors are Internal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Message returns the human-readable part of err suitable for callers
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == Internal {
			return "internal error"
		}
		if e.Msg != "" {
			return e.Msg
		}
		return e.Kind.String()
	}
	return "internal error"
}

func newError(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func wrapError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}
