// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. Apart from uuid for event ids it
// has no external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation       = errors.New("validation error")
	ErrInvalidID        = errors.New("invalid ID")
	ErrInvalidInput     = errors.New("invalid input")
	ErrEmptyValue       = errors.New("value cannot be empty")
	ErrNegativeValue    = errors.New("value cannot be negative")
	ErrValueOutOfRange  = errors.New("value out of range")
	ErrInvalidReference = errors.New("invalid reference")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrCorruptSnapshot = errors.New("corrupt snapshot")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// Infrastructure errors
	ErrStorage            = errors.New("storage failure")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progress", "curriculum", "store"
	Op      string // Operation that failed, e.g., "RecordLessonActivity"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Progress domain errors
var (
	ErrProgressNotFound     = NewDomainError("progress", "Load", ErrNotFound, "no progress stored for user")
	ErrNoUser               = NewDomainError("progress", "Validate", ErrInvalidID, "user id is required")
	ErrUnknownModule        = NewDomainError("progress", "RecordLessonActivity", ErrInvalidReference, "unknown module")
	ErrUnknownLesson        = NewDomainError("progress", "RecordLessonActivity", ErrInvalidReference, "unknown lesson")
	ErrUnknownCertification = NewDomainError("progress", "RecordCertificationAttempt", ErrInvalidReference, "unknown certification level")
	ErrNegativeDuration     = NewDomainError("progress", "Validate", ErrNegativeValue, "time spent cannot be negative")
	ErrInvalidScore         = NewDomainError("progress", "Validate", ErrValueOutOfRange, "score must be a finite non-negative number")
	ErrEmptyAchievementID   = NewDomainError("progress", "GrantAchievement", ErrEmptyValue, "achievement id is required")
	ErrVersionConflict      = NewDomainError("progress", "Save", ErrConcurrentModification, "stored version advanced since load")
)

// Curriculum errors
var (
	ErrEmptyCurriculum    = NewDomainError("curriculum", "Validate", ErrInvalidInput, "curriculum declares no modules")
	ErrDuplicateModule    = NewDomainError("curriculum", "Validate", ErrAlreadyExists, "duplicate module id")
	ErrInvalidLessonCount = NewDomainError("curriculum", "Validate", ErrValueOutOfRange, "lesson count must be positive")
	ErrUnknownSuccessor   = NewDomainError("curriculum", "Validate", ErrInvalidReference, "successor module is not declared")
	ErrCyclicCurriculum   = NewDomainError("curriculum", "Validate", ErrInvalidState, "module chain contains a cycle")
	ErrDuplicateCertLevel = NewDomainError("curriculum", "Validate", ErrAlreadyExists, "duplicate certification level")
	ErrLessonListMismatch = NewDomainError("curriculum", "Validate", ErrInvalidInput, "lesson ids do not match lesson count")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidReference checks if the error names an id the curriculum does not declare.
func IsInvalidReference(err error) bool {
	return errors.Is(err, ErrInvalidReference)
}

// IsConcurrentModification checks if a save lost an optimistic-lock race.
func IsConcurrentModification(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsRetryable checks if a storage operation can be retried as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
