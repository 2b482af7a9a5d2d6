package business

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure so callers can branch without parsing
// messages.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindState               Kind = "state"
	KindAuthorization       Kind = "authorization"
	KindPaymentVerification Kind = "payment_verification"
	KindIssuance            Kind = "issuance"
	KindUnavailable         Kind = "unavailable"
	KindPersistence         Kind = "persistence"
	KindInternal            Kind = "internal"
)

// Error is the typed failure returned by every pipeline operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// PreSideEffect reports whether the failure happened before money moved or
// anything was written, so the request can be retried as is.
func (e *Error) PreSideEffect() bool {
	switch e.Kind {
	case KindValidation, KindState, KindAuthorization, KindUnavailable:
		return true
	}
	return false
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func ValidationError(msg string) *Error {
	return newError(KindValidation, msg, nil)
}

func StateError(msg string) *Error {
	return newError(KindState, msg, nil)
}

func AuthorizationError(msg string) *Error {
	return newError(KindAuthorization, msg, nil)
}

func PaymentVerificationError(msg string, err error) *Error {
	return newError(KindPaymentVerification, msg, err)
}

func IssuanceError(msg string, err error) *Error {
	return newError(KindIssuance, msg, err)
}

// UnavailableError reports a dependency read that failed before any side
// effect. Retrying is safe.
func UnavailableError(msg string, err error) *Error {
	return newError(KindUnavailable, msg, err)
}

// PersistenceError reports a write that failed after money or tokens moved.
// It always requires reconciliation.
func PersistenceError(msg string, err error) *Error {
	return newError(KindPersistence, msg, err)
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the caller-facing message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal error."
}
