package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound           = errors.New("resource not found")
	ErrExperimentNotFound = fmt.Errorf("%w: experiment", ErrNotFound)
	ErrVariantNotFound    = fmt.Errorf("%w: variant", ErrNotFound)
	ErrAssignmentNotFound = fmt.Errorf("%w: assignment", ErrNotFound)

	// Validation errors
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidAllocation = errors.New("invalid traffic allocation")
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrVariantLocked     = errors.New("variant is locked once assignments exist")

	// Runtime errors
	ErrExperimentNotRunning   = errors.New("experiment is not running")
	ErrInsufficientData       = errors.New("insufficient data for analysis")
	ErrStatisticalComputation = errors.New("statistical computation failed")
	ErrStateCorruption        = errors.New("analysis state corrupted")
	ErrSequentialHalted       = errors.New("sequential analysis already halted")

	// Storage races, recovered internally
	ErrDuplicateAssignment = errors.New("duplicate assignment")
	ErrDuplicateOutcome    = errors.New("duplicate outcome")
	ErrOutcomeApplied      = errors.New("outcome already applied")
)

// Error constructors with context
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

func NewValidationError(field string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidInput, field, reason)
}

func NewAllocationError(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidAllocation, reason)
}

func NewTransitionError(from, to string) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

func NewComputationError(what string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrStatisticalComputation, what, reason)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidAllocation) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrVariantLocked)
}

func IsConflictError(err error) bool {
	return errors.Is(err, ErrExperimentNotRunning) ||
		errors.Is(err, ErrSequentialHalted) ||
		errors.Is(err, ErrStateCorruption)
}
