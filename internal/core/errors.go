package core

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error. Callers branch on kinds, never on
// message text.
type Kind string

const (
	KindNotFound              Kind = "not_found"
	KindInvalidState          Kind = "invalid_state"
	KindExpired               Kind = "expired"
	KindBudgetExhausted       Kind = "budget_exhausted"
	KindInsufficientResources Kind = "insufficient_resources"
	KindStoreFailure          Kind = "store_failure"
	KindInvalidInput          Kind = "invalid_input"
)

// Error is the engine error type.
type Error struct {
	Kind     Kind
	Message  string
	Resource Resource // set for KindInsufficientResources
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound              = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidState          = &Error{Kind: KindInvalidState, Message: "invalid state"}
	ErrExpired               = &Error{Kind: KindExpired, Message: "expired"}
	ErrBudgetExhausted       = &Error{Kind: KindBudgetExhausted, Message: "no progression slots left today"}
	ErrInsufficientResources = &Error{Kind: KindInsufficientResources, Message: "insufficient resources"}
	ErrStoreFailure          = &Error{Kind: KindStoreFailure, Message: "store failure"}
	ErrInvalidInput          = &Error{Kind: KindInvalidInput, Message: "invalid input"}
)

// NotFound reports a missing (or foreign) offer, instance, step or option.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidState reports an operation attempted from the wrong lifecycle state.
func InvalidState(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

// Expired reports a deadline that has already passed.
func Expired(format string, args ...any) *Error {
	return &Error{Kind: KindExpired, Message: fmt.Sprintf(format, args...)}
}

// BudgetExhausted reports that the day's progression slots are used up.
func BudgetExhausted(used, budget int) *Error {
	return &Error{
		Kind:    KindBudgetExhausted,
		Message: fmt.Sprintf("no progression slots left today (%d/%d used)", used, budget),
	}
}

// InsufficientResources reports a failed affordability pre-check.
func InsufficientResources(res Resource, need, have int) *Error {
	return &Error{
		Kind:     KindInsufficientResources,
		Message:  fmt.Sprintf("not enough %s (need %d, have %d)", res.Label(), need, have),
		Resource: res,
	}
}

// StoreFailure wraps a persistence error.
func StoreFailure(op string, cause error) *Error {
	return &Error{Kind: KindStoreFailure, Message: op, Cause: cause}
}

// InvalidInput reports a malformed request.
func InvalidInput(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
