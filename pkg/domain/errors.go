package common

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error for propagation policy and API mapping.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindState       Kind = "state"
	KindConcurrency Kind = "concurrency"
	KindProvider    Kind = "provider"
	KindIntegrity   Kind = "integrity"
	KindUnsupported Kind = "unsupported"
)

// Error is the single error type crossing component boundaries. Code is a
// stable machine-readable identifier (e.g. "unbalanced_journal"); Msg is for
// humans; Cause carries the underlying error when there is one.
type Error struct {
	Kind  Kind
	Code  string
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s:%s: %s: %v", e.Kind, e.Code, e.Msg, e.Cause)
	}

	return fmt.Sprintf("%s:%s: %s", e.Kind, e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on kind and code so sentinels built with E can be compared via
// errors.Is without sharing pointers.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
}

// E builds a domain error.
func E(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Ef builds a domain error with a formatted message.
func Ef(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a domain error.
func Wrap(kind Kind, code, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg, Cause: cause}
}

// KindOf extracts the kind of err, or "" when err is not a domain error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return ""
}

// CodeOf extracts the stable code of err, or "" when err is not a domain error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ""
}

// IsKind reports whether err is a domain error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
