package index

import "errors"

// Sentinel errors. Callers distinguish input errors (fixable by the
// caller, no state was mutated) from infrastructure errors (retryable,
// may have left partial state) with errors.Is.
var (
	// ErrInvalidInput marks malformed or missing request fields.
	ErrInvalidInput = errors.New("index: invalid input")

	// ErrConflict is returned by Ingest when the item identifier is
	// already indexed. Nothing was mutated.
	ErrConflict = errors.New("index: item already exists")

	// ErrNotFound is returned by DeleteItem for unknown identifiers.
	ErrNotFound = errors.New("index: item not found")

	// ErrFetch marks a failure to download the image from the given URL.
	ErrFetch = errors.New("index: fetch image")
)
