// Package apperr provides the error taxonomy shared across the diff-and-
// upload core, in the style of bb-stream's pkg/errors: sentinel values for
// errors.Is checks, an AppError wrapper carrying a user-safe message, and a
// Sanitize helper that never leaks internal detail to the review UI.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors, one per taxonomy entry in the error-handling design.
var (
	ErrConfigValidation = errors.New("configuration is invalid")
	ErrConfigLoad       = errors.New("configuration file missing or unreadable")
	ErrConnection       = errors.New("remote unreachable or authentication refused")
	ErrRemote           = errors.New("remote returned a non-success response")
	ErrTransfer         = errors.New("local fault while preparing a transfer")
	ErrCancellation     = errors.New("operation was cancelled")
	ErrProtocol         = errors.New("malformed review protocol message")
)

// AppError wraps an internal error with a message that is safe to forward to
// the review UI or CLI output.
type AppError struct {
	Err     error
	Message string
	Kind    error // one of the sentinels above, for errors.Is
}

func (e *AppError) Error() string { return e.Message }

func (e *AppError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, apperr.ErrConnection) succeed against an AppError
// whose Kind is that sentinel.
func (e *AppError) Is(target error) bool {
	return e.Kind != nil && errors.Is(e.Kind, target)
}

// New builds an AppError of the given taxonomy kind.
func New(kind error, err error, message string) *AppError {
	return &AppError{Err: err, Message: message, Kind: kind}
}

// Wrap adds context to err without discarding it, mirroring bb-stream's
// pkg/errors.Wrap.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Sanitize returns a message safe to show a client: never a raw filesystem
// path, credential, or driver-internal string.
func Sanitize(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}

	switch {
	case errors.Is(err, ErrConnection):
		return "connection failed"
	case errors.Is(err, ErrRemote):
		return "remote operation failed"
	case errors.Is(err, ErrTransfer):
		return "transfer failed"
	case errors.Is(err, ErrCancellation):
		return "cancelled"
	case errors.Is(err, ErrProtocol):
		return "malformed message"
	case errors.Is(err, ErrConfigValidation), errors.Is(err, ErrConfigLoad):
		return "invalid configuration"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return "connection timed out"
	case strings.Contains(msg, "refused"), strings.Contains(msg, "no such host"):
		return "connection failed"
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "access denied"):
		return "access denied"
	default:
		return "an error occurred"
	}
}

// IsRetryable reports whether an error should count against a per-file retry
// budget (ErrRemote, ErrTransfer) as opposed to being target-fatal
// (ErrConnection) or silently swallowed (ErrCancellation).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCancellation) {
		return false
	}
	return errors.Is(err, ErrRemote) || errors.Is(err, ErrTransfer) || !errors.Is(err, ErrConnection)
}
