package model

import (
	"github.com/pkg/errors"
)

var (
	// ValidationError is the root cause of all configuration validation failures.
	ValidationError = errors.New("validation failed")
	// CoercionError is the root cause of all failures to convert a raw
	// command value into an actuation directive.
	CoercionError = errors.New("coercion failed")
	maskAny       = errors.WithStack
)

// IsValidation returns true when the given error is caused by a ValidationError.
func IsValidation(err error) bool {
	return errors.Cause(err) == ValidationError
}

// IsCoercion returns true when the given error is caused by a CoercionError.
func IsCoercion(err error) bool {
	return errors.Cause(err) == CoercionError
}
