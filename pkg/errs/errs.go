// Package errs defines the error-kind taxonomy the engine surfaces to its
// callers (spec §7), in the spirit of containerd/errdefs: a kind tag
// travels with the error so callers can branch on it with Is, while the
// message and wrapped cause still flow through the normal error chain.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds spec.md §7 names.
type Kind string

const (
	KindInvalidArgument    Kind = "invalid_argument"
	KindInvalidTransition  Kind = "invalid_transition"
	KindAlreadyExists      Kind = "already_exists"
	KindNotFound           Kind = "not_found"
	KindRuntimeFailure     Kind = "runtime_failure"
	KindMountFailure       Kind = "mount_failure"
	KindUmountFailure      Kind = "umount_failure"
	KindSymlinkFailure     Kind = "symlink_failure"
	KindSpecRenewalFailure Kind = "spec_renewal_failure"
	KindEnvTooLong         Kind = "env_too_long"
	KindUserResolution     Kind = "user_resolution"
	KindEmptyArgv          Kind = "empty_argv"
	KindInvalidQuantity    Kind = "invalid_quantity"
	KindAutoRemoveFailed   Kind = "auto_remove_failed"
	KindNotAlive           Kind = "not_alive"
)

// Error is a kind-tagged engine error. Reason is a fine-grained
// sub-classification of KindInvalidTransition, e.g. "NotRunning",
// "Paused", "Restarting", "RemovalInProgress", "InGC".
type Error struct {
	Kind   Kind
	Reason string
	Msg    string
	Cause  error
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "" && e.Msg != "":
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Reason, e.Msg)
	case e.Reason != "":
		return fmt.Sprintf("%s(%s)", e.Kind, e.Reason)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Cause.Error())
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a kind-tagged error with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// NewTransition creates an InvalidTransition error with the given reason.
func NewTransition(reason string) *Error {
	return &Error{Kind: KindInvalidTransition, Reason: reason}
}

// Wrap creates a kind-tagged error wrapping cause, preserving the chain
// so errors.Is/errors.As still reach cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Is reports whether err (or anything it wraps) carries kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ReasonOf returns the Reason field of err if it is an *Error, else "".
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
