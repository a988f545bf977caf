package state

import (
	"errors"
	"fmt"
)

// Sentinel errors for schema declaration and merging.
var (
	// ErrUndeclaredField indicates a delta wrote a field with no declared policy.
	ErrUndeclaredField = errors.New("field has no declared merge policy")

	// ErrTypeMismatch indicates a delta value does not match the field's type.
	ErrTypeMismatch = errors.New("value type does not match field")

	// ErrDuplicateField indicates a field was declared more than once.
	ErrDuplicateField = errors.New("field declared more than once")

	// ErrEmptyFieldName indicates a field was declared without a name.
	ErrEmptyFieldName = errors.New("field name cannot be empty")
)

// MergeError reports which field rejected a delta.
// A delta that produces a MergeError is never partially applied.
type MergeError struct {
	// Field is the offending field name.
	Field string
	// Err is ErrUndeclaredField, ErrTypeMismatch or a decode error.
	Err error
}

// Error implements the error interface.
func (e *MergeError) Error() string {
	return fmt.Sprintf("merge field %q: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *MergeError) Unwrap() error {
	return e.Err
}
