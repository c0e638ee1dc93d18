package activation

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or out-of-order schedule input.
	ErrValidation = errors.New("invalid schedule")
	// ErrNotFound is returned when the parent entity has no schedule record.
	ErrNotFound = errors.New("schedule not found")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
