package core

import "errors"

// Error taxonomy. Callers match with errors.Is; every layer wraps with %w.
var (
	// ErrNotFound is returned when a referenced record is not (yet) reachable.
	// Under eventual consistency this may be transient: poll again later.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed caller input such as an empty
	// player list or a non-positive regeneration factor.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDecode is returned when a stored payload cannot be decoded into the
	// expected record type.
	ErrDecode = errors.New("decode error")

	// ErrArithmetic is returned when resource arithmetic leaves int32 range.
	ErrArithmetic = errors.New("arithmetic overflow")
)
