package container

import (
	"errors"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
)

// Sentinel errors for container operations. Runtimes return them wrapped in
// an apperr.Error so both errors.Is forms match.
var (
	// ErrNotFound indicates the instance does not exist.
	ErrNotFound = errors.New("container not found")

	// ErrInvalidKind indicates the requested kind has no base image.
	ErrInvalidKind = errors.New("invalid kind")

	// ErrNameInUse indicates an instance with that name already exists.
	ErrNameInUse = errors.New("container name already in use")

	// ErrAlreadyRunning indicates the instance is already running.
	ErrAlreadyRunning = errors.New("container already running")

	// ErrNotRunning indicates the instance is already stopped.
	ErrNotRunning = errors.New("container not running")
)

// NotFound wraps ErrNotFound for name.
func NotFound(op, name string) error {
	return &apperr.Error{Kind: apperr.KindNotFound, Op: op, Message: name, Err: ErrNotFound}
}

// AlreadyRunning wraps ErrAlreadyRunning for name.
func AlreadyRunning(op, name string) error {
	return &apperr.Error{Kind: apperr.KindAlreadyInState, Op: op, Message: name, Err: ErrAlreadyRunning}
}

// NotRunning wraps ErrNotRunning for name.
func NotRunning(op, name string) error {
	return &apperr.Error{Kind: apperr.KindAlreadyInState, Op: op, Message: name, Err: ErrNotRunning}
}

// InvalidKind wraps ErrInvalidKind.
func InvalidKind(op, kind string) error {
	return &apperr.Error{Kind: apperr.KindInvalidInput, Op: op, Message: kind, Err: ErrInvalidKind}
}

// NameInUse wraps ErrNameInUse.
func NameInUse(op, name string) error {
	return &apperr.Error{Kind: apperr.KindInvalidInput, Op: op, Message: name, Err: ErrNameInUse}
}
