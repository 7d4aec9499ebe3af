// Package apperr はドメインエラーの分類を提供する。
//
// クライアント起因 (Validation / Conflict / NotFound) とサーバー起因
// (Driver / Internal) を区別し、HTTP や WebSocket の応答に写像できるようにする。
package apperr

import (
	"errors"
	"fmt"
)

// Kind はエラーの分類。
type Kind int

const (
	KindDriver Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindInternal:
		return "internal"
	default:
		return "driver"
	}
}

// Error is a classified error carrying enough structure for a client to react.
type Error struct {
	Kind   Kind
	Entity string
	Method string
	Target string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("cannot find `%s:%s` in the following %s", e.Entity, e.Target, e.Method)
	case KindConflict:
		return fmt.Sprintf("conflict in `%s`: %s", e.Entity, e.Reason)
	case KindValidation:
		if e.Entity != "" {
			return fmt.Sprintf("invalid %s: %s", e.Entity, e.Reason)
		}
		return "validation error: " + e.Reason
	}
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(entity, reason string) *Error {
	return &Error{Kind: KindValidation, Entity: entity, Reason: reason}
}

func Conflict(entity, reason string) *Error {
	return &Error{Kind: KindConflict, Entity: entity, Reason: reason}
}

func NotFound(entity, method, target string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, Method: method, Target: target}
}

// Driver wraps an I/O or storage failure. nil stays nil.
func Driver(err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	return &Error{Kind: KindDriver, Err: err}
}

// Internal wraps a failure inside this process (e.g. serialization).
func Internal(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindInternal, Err: err}
}

// KindOf returns the kind of err. Unclassified errors count as driver errors.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindDriver
}

// As returns the classified error in err's chain, if any.
func As(err error) (*Error, bool) {
	var classified *Error
	if errors.As(err, &classified) {
		return classified, true
	}
	return nil, false
}

// IsClient reports whether err should be reported to the caller as its own fault.
func IsClient(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindConflict, KindNotFound:
		return true
	}
	return false
}
