package domain

import (
	"errors"
	"fmt"
)

// FailureReason classifies why a valuation attempt did not produce an amount.
type FailureReason string

const (
	ReasonNotFound        FailureReason = "not_found"
	ReasonTimeout         FailureReason = "timeout"
	ReasonNavigationError FailureReason = "navigation_error"
	ReasonExtractionError FailureReason = "extraction_error"
	ReasonCrash           FailureReason = "crash"
)

// Definitive reports whether retrying the same record is pointless.
func (r FailureReason) Definitive() bool {
	return r == ReasonNotFound
}

// AttemptError is returned by a valuation attempt that failed for a known reason.
type AttemptError struct {
	Reason FailureReason
	Err    error
}

func (e *AttemptError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// NewAttemptError wraps err with a failure reason.
func NewAttemptError(reason FailureReason, err error) *AttemptError {
	return &AttemptError{Reason: reason, Err: err}
}

// ErrCarNotFound is reported by the target site for unknown plates.
var ErrCarNotFound = errors.New("car not found")

// ReasonOf extracts the failure reason carried by err, if any.
func ReasonOf(err error) (FailureReason, bool) {
	var ae *AttemptError
	if errors.As(err, &ae) {
		return ae.Reason, true
	}
	return "", false
}
