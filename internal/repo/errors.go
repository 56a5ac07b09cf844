package repo

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert violates a uniqueness constraint
	ErrConflict = errors.New("already exists")
	// ErrNonceUsed is returned when a nonce was already consumed
	ErrNonceUsed = errors.New("nonce already used")
	// ErrNonceExpired is returned when a nonce outlived its TTL before consumption
	ErrNonceExpired = errors.New("nonce expired")
	// ErrLimitExceeded is returned when an insert would exceed a per-key quota
	ErrLimitExceeded = errors.New("limit exceeded")
)
