package core

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("expense not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrTimeout            = errors.New("operation timed out")
)

// ValidationError names the offending field. It matches ErrValidation
// under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
