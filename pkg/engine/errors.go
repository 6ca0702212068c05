package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/pledgeLedger/pkg/models"
	"github.com/mcclellann/pledgeLedger/pkg/money"
)

var (
	// ErrValidation marks bad input. The caller fixes the input; nothing is retried.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidState marks an operation the loan's lifecycle does not allow.
	ErrInvalidState = errors.New("invalid loan state")

	// ErrPrecision marks a step that would leave a balance negative beyond
	// money.Epsilon. It signals a defect, not a user mistake.
	ErrPrecision = errors.New("precision invariant violated")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

type InvalidStateError struct {
	LoanID uuid.UUID
	Status models.LoanStatus
	Op     string
	Reason string
}

func (e *InvalidStateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s loan %s: %s", e.Op, e.LoanID, e.Reason)
	}
	return fmt.Sprintf("cannot %s loan %s in status %s", e.Op, e.LoanID, e.Status)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

type PrecisionError struct {
	Field string
	Value money.Money
}

func (e *PrecisionError) Error() string {
	return fmt.Sprintf("%s would become %d minor units", e.Field, e.Value.Int64())
}

func (e *PrecisionError) Unwrap() error { return ErrPrecision }

// IsClientError reports errors the caller can fix by changing the request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflict reports errors caused by the loan's current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidState)
}
