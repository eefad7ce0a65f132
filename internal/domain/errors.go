package domain

import "errors"

// Domain errors (no external dependencies).
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrDuplicate    = errors.New("duplicate resource")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("access denied")

	// ErrStateConflict is returned on an invalid status transition attempt
	// (retrying a CLEARED invoice, or losing a concurrent compare-and-set into
	// PROCESSING). It is surfaced synchronously and mutates nothing.
	ErrStateConflict = errors.New("invoice is not in a retryable or creatable state")
)
