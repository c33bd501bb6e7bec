package domain

import "errors"

var (
	// ErrConfiguration marks invalid parameters detected before any work starts.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvalidArgument marks an invalid per-call argument such as k <= 0.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDimensionMismatch is returned when a vector does not match the index dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrNotFound is returned when no persisted index exists.
	ErrNotFound = errors.New("index not found")
	// ErrCorruptIndex is returned when a persisted index cannot be validated.
	ErrCorruptIndex = errors.New("corrupt index")
	// ErrEmptyCorpus means the document source produced nothing to search.
	ErrEmptyCorpus = errors.New("empty corpus")
	// ErrEmptyQuery is returned for empty or whitespace-only queries.
	ErrEmptyQuery = errors.New("empty query")
	// ErrUnavailable wraps failures of the embedding or completion services.
	ErrUnavailable = errors.New("service unavailable")
)
