package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/podwire/internal/formula"
	"github.com/roach88/podwire/internal/interpolate"
)

// EvaluationErrorCode categorizes evaluation errors.
type EvaluationErrorCode string

const (
	// ErrCodeUnknownVariable indicates a formula referenced an absent variable.
	ErrCodeUnknownVariable EvaluationErrorCode = "UNKNOWN_VARIABLE"

	// ErrCodeArithmetic indicates division by zero or a non-finite result.
	ErrCodeArithmetic EvaluationErrorCode = "ARITHMETIC"

	// ErrCodeMissingVariable indicates a strict template placeholder had no value.
	ErrCodeMissingVariable EvaluationErrorCode = "MISSING_VARIABLE"

	// ErrCodeNotNumeric indicates a formula variable held a non-numeric value.
	ErrCodeNotNumeric EvaluationErrorCode = "NOT_NUMERIC"

	// ErrCodeInvalidFormula indicates a formula that was not validated at load
	// time failed to parse.
	ErrCodeInvalidFormula EvaluationErrorCode = "INVALID_FORMULA"

	// ErrCodeStaleTick indicates a tick older than the firing guard window.
	ErrCodeStaleTick EvaluationErrorCode = "STALE_TICK"

	// ErrCodeQuotaExceeded indicates the pass emission quota was reached.
	ErrCodeQuotaExceeded EvaluationErrorCode = "QUOTA_EXCEEDED"
)

// EvaluationError reports a candidate emission that was dropped.
// The rest of the pass is unaffected.
type EvaluationError struct {
	Code EvaluationErrorCode

	// MessageID identifies the definition. Empty for pass-level errors.
	MessageID string

	// Tick or EventType identifies the pass.
	Tick      int64
	EventType string

	Err error
}

// Error implements the error interface.
func (e *EvaluationError) Error() string {
	if e.MessageID != "" {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.MessageID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

func errStaleTick(tick, newest int64) error {
	return fmt.Errorf("tick %d is outside the guard window (newest tick %d)", tick, newest)
}

// newEvaluationError classifies err from the formula and interpolate
// packages.
func newEvaluationError(messageID string, err error) *EvaluationError {
	code := ErrCodeArithmetic
	switch {
	case errors.Is(err, formula.ErrUnknownVariable):
		code = ErrCodeUnknownVariable
	case errors.Is(err, formula.ErrNotNumeric):
		code = ErrCodeNotNumeric
	case errors.Is(err, formula.ErrSyntax):
		code = ErrCodeInvalidFormula
	case errors.Is(err, interpolate.ErrMissingVariable):
		code = ErrCodeMissingVariable
	}
	return &EvaluationError{Code: code, MessageID: messageID, Err: err}
}

// IsEvaluationError reports whether err is an EvaluationError with code.
// Uses errors.As to handle wrapped errors.
func IsEvaluationError(err error, code EvaluationErrorCode) bool {
	var ee *EvaluationError
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// ResponseErrorCode categorizes response errors.
type ResponseErrorCode string

const (
	// ErrCodeUnknownMessage indicates no pending entry for the emission id.
	ErrCodeUnknownMessage ResponseErrorCode = "UNKNOWN_MESSAGE"

	// ErrCodeAlreadyResolved indicates the entry was already resolved.
	ErrCodeAlreadyResolved ResponseErrorCode = "ALREADY_RESOLVED"

	// ErrCodeInvalidKey indicates the key is not one of the declared responses.
	ErrCodeInvalidKey ResponseErrorCode = "INVALID_KEY"
)

// ResponseError is returned by Respond. The ledger is unchanged.
type ResponseError struct {
	Code       ResponseErrorCode
	EmissionID string
	Key        string
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	switch e.Code {
	case ErrCodeUnknownMessage:
		return fmt.Sprintf("%s: no pending response for %s", e.Code, e.EmissionID)
	case ErrCodeAlreadyResolved:
		return fmt.Sprintf("%s: %s was already resolved", e.Code, e.EmissionID)
	case ErrCodeInvalidKey:
		return fmt.Sprintf("%s: %q is not a response of %s", e.Code, e.Key, e.EmissionID)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.EmissionID)
	}
}

// IsResponseError reports whether err is a ResponseError with code.
// Uses errors.As to handle wrapped errors.
func IsResponseError(err error, code ResponseErrorCode) bool {
	var re *ResponseError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsAlreadyResolved returns true if the error is an ALREADY_RESOLVED error.
func IsAlreadyResolved(err error) bool {
	return IsResponseError(err, ErrCodeAlreadyResolved)
}
