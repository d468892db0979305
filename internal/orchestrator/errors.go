package orchestrator

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failures the orchestrator reports.
type Kind string

const (
	KindInvalidRequest           Kind = "invalid_request"
	KindInsufficientCredits      Kind = "insufficient_credits"
	KindEngineProcessFailure     Kind = "engine_process_failure"
	KindEngineMalformedOutput    Kind = "engine_malformed_output"
	KindEngineApplicationFailure Kind = "engine_application_failure"
	KindNotFound                 Kind = "not_found"
	KindInternal                 Kind = "internal_error"
)

// Error is returned by every Service operation that fails for a reason other
// than the caller's context ending.
type Error struct {
	Kind   Kind
	Reason string
	Err    error

	// Set for KindInsufficientCredits.
	Required  int
	Available int
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("orchestrator: %s (%s)", e.Kind, e.Reason)
	}
	return fmt.Sprintf("orchestrator: %s (%s): %v", e.Kind, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Message is the text safe to show to end users. Engine diagnostics never
// appear here; they are logged instead.
func (e *Error) Message() string {
	switch e.Kind {
	case KindInsufficientCredits:
		return fmt.Sprintf("insufficient credits: %d required, %d available", e.Required, e.Available)
	case KindEngineProcessFailure, KindEngineMalformedOutput:
		return "the astrology engine failed to produce an answer, please try again"
	case KindEngineApplicationFailure:
		return "the astrology engine could not answer: " + e.Reason
	case KindInternal:
		return "internal error"
	default:
		return e.Reason
	}
}

// KindOf returns the Kind carried by err, or KindInternal when err is not an
// *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsEngineFailure reports whether k is one of the three engine failure kinds.
func IsEngineFailure(k Kind) bool {
	switch k {
	case KindEngineProcessFailure, KindEngineMalformedOutput, KindEngineApplicationFailure:
		return true
	}
	return false
}

func newError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func insufficient(required, available int) *Error {
	return &Error{
		Kind:      KindInsufficientCredits,
		Reason:    "insufficient_credits",
		Required:  required,
		Available: available,
	}
}
