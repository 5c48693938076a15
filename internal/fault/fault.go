// Package fault carries the error taxonomy shared by every service: a small
// set of kinds that callers can branch on, plus a machine-readable code that
// stays internal-only for auth-class failures.
package fault

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation is malformed input; the caller's fault.
	KindValidation
	// KindAuth covers credential, session and entitlement failures. External
	// messages for this kind are deliberately generic.
	KindAuth
	// KindConflict means a concurrent mutation race was lost; retryable.
	KindConflict
	// KindPolicy covers hardware mismatch, rate limiting and blocked users.
	// Externally auth-class, but kept distinct for the abuse detector.
	KindPolicy
	// KindUnavailable is a transient storage failure; retryable with backoff.
	KindUnavailable
)

const (
	CodeInvalidCredential  = "INVALID_CREDENTIAL"
	CodeUserBlocked        = "USER_BLOCKED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeHwidMismatch       = "HWID_MISMATCH"
	CodeNotEntitled        = "NOT_ENTITLED"
	CodeEmailTaken         = "EMAIL_TAKEN"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeSessionExpired     = "SESSION_EXPIRED"
	CodeSessionStale       = "SESSION_STALE"
	CodeBindingConflict    = "BINDING_CONFLICT"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeNotFound           = "NOT_FOUND"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets sentinel-style comparisons match on (kind, code) pairs so callers
// can write errors.Is(err, fault.New(fault.KindPolicy, fault.CodeRateLimited, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// KindOf walks the chain and returns the kind of the outermost *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// CodeOf walks the chain and returns the code of the outermost *Error.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsRetryable reports whether the caller may retry the operation.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindConflict, KindUnavailable:
		return true
	}
	return false
}
