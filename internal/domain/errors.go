package domain

import "errors"

// Error classes shared across components. Concrete errors wrap one of these
// so boundaries can classify them with errors.Is.
var (
	// ErrValidation marks malformed input rejected before any work starts.
	ErrValidation = errors.New("validation failed")

	// ErrPrecondition marks missing credentials or configuration.
	ErrPrecondition = errors.New("precondition failed")

	// ErrNotFound marks lookups of unknown identifiers.
	ErrNotFound = errors.New("not found")
)
