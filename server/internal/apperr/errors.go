// Package apperr defines the error taxonomy shared by the registry, the
// container lifecycle manager, the remote gateway and both front ends.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for rendering and HTTP status mapping.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindInvalidInput         Kind = "invalid_input"
	KindAlreadyInState       Kind = "already_in_state"
	KindConnectionFailure    Kind = "connection_failure"
	KindConfigurationMissing Kind = "configuration_missing"
	KindEngineError          Kind = "engine_error"
)

// Reason refines a ConnectionFailure.
type Reason string

const (
	ReasonConnectionRefused    Reason = "connection_refused"
	ReasonAuthenticationFailed Reason = "authentication_failed"
	ReasonTimeout              Reason = "timeout"
	ReasonProtocolError        Reason = "protocol_error"
)

// Sentinel errors for errors.Is matching.
var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrAlreadyInState       = errors.New("already in requested state")
	ErrConnectionFailure    = errors.New("connection failure")
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrEngine               = errors.New("container engine error")

	ErrConnectionRefused    = errors.New("connection refused")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrTimeout              = errors.New("timed out")
	ErrProtocol             = errors.New("protocol error")
)

var kindSentinels = map[Kind]error{
	KindNotFound:             ErrNotFound,
	KindInvalidInput:         ErrInvalidInput,
	KindAlreadyInState:       ErrAlreadyInState,
	KindConnectionFailure:    ErrConnectionFailure,
	KindConfigurationMissing: ErrConfigurationMissing,
	KindEngineError:          ErrEngine,
}

var reasonSentinels = map[Reason]error{
	ReasonConnectionRefused:    ErrConnectionRefused,
	ReasonAuthenticationFailed: ErrAuthenticationFailed,
	ReasonTimeout:              ErrTimeout,
	ReasonProtocolError:        ErrProtocol,
}

// Error is a classified failure. The underlying error is kept for diagnostics.
type Error struct {
	Kind    Kind
	Reason  Reason
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if msg == "" {
		msg = kindSentinels[e.Kind].Error()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for this error's kind or reason.
func (e *Error) Is(target error) bool {
	if s, ok := kindSentinels[e.Kind]; ok && s == target {
		return true
	}
	if e.Reason != "" {
		if s, ok := reasonSentinels[e.Reason]; ok && s == target {
			return true
		}
	}
	return false
}

func newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an unresolvable endpoint, file or ordinal reference.
func NotFound(op, format string, args ...any) error {
	return newf(KindNotFound, op, format, args...)
}

// InvalidInput reports missing required fields or an unrecognized kind.
func InvalidInput(op, format string, args ...any) error {
	return newf(KindInvalidInput, op, format, args...)
}

// AlreadyInState reports an idempotent start/stop. Callers render it as a warning.
func AlreadyInState(op, format string, args ...any) error {
	return newf(KindAlreadyInState, op, format, args...)
}

// ConfigurationMissing reports an absent external-service credential.
func ConfigurationMissing(op, format string, args ...any) error {
	return newf(KindConfigurationMissing, op, format, args...)
}

// Engine wraps an error returned by the container engine.
func Engine(op string, err error) error {
	return &Error{Kind: KindEngineError, Op: op, Err: err}
}

// Connection wraps a remote protocol failure with its reason.
func Connection(op string, reason Reason, err error) error {
	return &Error{Kind: KindConnectionFailure, Reason: reason, Op: op, Err: err}
}

// Wrap attaches kind and op to err, preserving it for errors.Is/As.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the taxonomy kind of err. Unclassified errors are EngineError.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindEngineError
}

// ReasonOf returns the connection failure reason, if any.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
