package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// Common domain errors.
var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput is returned when request validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidParameters is returned when StrategyParams violate their invariants.
	ErrInvalidParameters = errors.New("invalid strategy parameters")

	// ErrInvalidSeries is returned when a MarketSeries violates its invariants.
	ErrInvalidSeries = errors.New("invalid market series")

	// ErrInsufficientData is returned when a series is shorter than a required window.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrNumericDegenerate marks a computation that hit a zero denominator.
	ErrNumericDegenerate = errors.New("numeric degenerate")

	// ErrEvaluationFailure is returned when a single combination faults during a sweep.
	ErrEvaluationFailure = errors.New("evaluation failure")

	// ErrNoValidCombination is returned when a sweep produced no scored combination.
	ErrNoValidCombination = errors.New("no valid parameter combination")

	// ErrSweepNotCancellable is returned when cancelling a sweep that is not running.
	ErrSweepNotCancellable = errors.New("sweep cannot be cancelled")
)

// NotFoundError wraps ErrNotFound with additional context.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	return e.Resource + " not found: " + e.ID
}

func (e NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) NotFoundError {
	return NotFoundError{Resource: resource, ID: id}
}

// InvalidParametersError wraps ErrInvalidParameters with the offending field.
type InvalidParametersError struct {
	Field  string
	Reason string
}

func (e InvalidParametersError) Error() string {
	return "invalid strategy parameters: " + e.Field + ": " + e.Reason
}

func (e InvalidParametersError) Unwrap() error {
	return ErrInvalidParameters
}

// InsufficientDataError wraps ErrInsufficientData with the bar counts involved.
type InsufficientDataError struct {
	Required  int
	Available int
}

func (e InsufficientDataError) Error() string {
	return "insufficient data: need " + strconv.Itoa(e.Required) + " bars, have " + strconv.Itoa(e.Available)
}

func (e InsufficientDataError) Unwrap() error {
	return ErrInsufficientData
}

// EvaluationFailureError wraps a fault raised while evaluating one combination.
type EvaluationFailureError struct {
	Params StrategyParams
	Cause  error
}

func (e EvaluationFailureError) Error() string {
	return fmt.Sprintf("evaluation failure for %s: %v", e.Params, e.Cause)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e EvaluationFailureError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrEvaluationFailure}
	}
	return []error{ErrEvaluationFailure, e.Cause}
}
