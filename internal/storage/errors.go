package storage

import "errors"

// Storage errors shared by all implementations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflictingCandle is returned when an upsert carries a candle whose
	// key already exists with a different OHLCV payload. Data revision
	// without an explicit override is an integrity violation, never a
	// silent overwrite.
	ErrConflictingCandle = errors.New("conflicting candle: key exists with different payload")

	// ErrInvalidInput is returned when input validation fails, e.g. a candle
	// whose open time is off the timeframe grid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateKey is returned by append-only stores (the feature record
	// cache) when a key already exists.
	ErrDuplicateKey = errors.New("duplicate key")
)
