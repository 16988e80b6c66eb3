// Package core defines the fundamental types and errors for lifeops.
package core

import (
	"errors"
	"fmt"
)

// Core errors that can occur across the system
var (
	// Storage errors
	ErrMigrationFailed = errors.New("migration failed")
	ErrRecordNotFound  = errors.New("record not found")
	ErrDuplicateRecord = errors.New("duplicate record")

	// Projection errors
	ErrQueueItemNotFound = errors.New("queue item not found")
	ErrContextNotFound   = errors.New("context not found")
	ErrGoalNotFound      = errors.New("goal not found")

	// Command errors
	ErrInvalidPayload   = errors.New("invalid command payload")
	ErrInvalidSignature = errors.New("invalid impact plan signature")
	ErrRateLimited      = errors.New("too many commands")

	// Rule errors
	ErrRuleNotFound = errors.New("rule not found")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingRequired = errors.New("missing required field")
)

// Kind classifies an error for callers that need differentiated handling.
type Kind string

const (
	KindInvalid      Kind = "invalid"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUnauthorized Kind = "unauthorized"
	KindRateLimited  Kind = "rate_limited"
	KindInternal     Kind = "internal"
)

// Error is a tagged error carrying its kind and the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a tagged error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err. Untagged sentinel errors are mapped to
// their natural kind; anything else is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrRecordNotFound), errors.Is(err, ErrQueueItemNotFound),
		errors.Is(err, ErrContextNotFound), errors.Is(err, ErrGoalNotFound),
		errors.Is(err, ErrRuleNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMissingRequired),
		errors.Is(err, ErrInvalidPayload):
		return KindInvalid
	case errors.Is(err, ErrDuplicateRecord):
		return KindConflict
	case errors.Is(err, ErrInvalidSignature):
		return KindUnauthorized
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	}
	return KindInternal
}
