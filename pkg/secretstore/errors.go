package secretstore

import (
	"errors"
	"fmt"
)

// RotationError signals that a rotation cannot proceed: a store lacks a
// capability required by its role, or a backing system reported a definitive
// failure (for example a token that could not be created).
//
// Plans never retry on a RotationError; status reporting folds it into the
// returned status instead of failing.
type RotationError struct {
	Message string
	Err     error
}

// NewRotationError creates a RotationError with a formatted message.
func NewRotationError(format string, args ...interface{}) *RotationError {
	return &RotationError{Message: fmt.Sprintf(format, args...)}
}

// WrapRotationError creates a RotationError that wraps err.
func WrapRotationError(err error, format string, args ...interface{}) *RotationError {
	return &RotationError{Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *RotationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *RotationError) Unwrap() error {
	return e.Err
}

// IsRotationError reports whether err is, or wraps, a RotationError.
func IsRotationError(err error) bool {
	var rotationErr *RotationError
	return errors.As(err, &rotationErr)
}
