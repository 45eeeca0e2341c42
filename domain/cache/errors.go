package cache

import (
	"errors"
	"fmt"
)

// Domain errors for cache operations.
var (
	// ErrKeyNotFound is returned when a key does not exist in the cache.
	ErrKeyNotFound = errors.New("cache key not found")

	// ErrInvalidKey is returned when a key is invalid (e.g., empty).
	ErrInvalidKey = errors.New("invalid cache key")

	// ErrConnectionFailed is returned when connection to the cache backend fails.
	ErrConnectionFailed = errors.New("cache connection failed")

	// ErrOperationTimeout is returned when a cache operation times out.
	ErrOperationTimeout = errors.New("cache operation timeout")

	// ErrCorruptEntry is returned when a stored record cannot be decoded.
	ErrCorruptEntry = errors.New("corrupt cache entry")
)

// TierError reports a failure inside a single tier. The tiered cache logs and
// counts these; they never reach callers of Get or Set.
type TierError struct {
	Tier string
	Op   string
	Err  error
}

func (e *TierError) Error() string {
	return fmt.Sprintf("cache tier %s: %s: %v", e.Tier, e.Op, e.Err)
}

func (e *TierError) Unwrap() error {
	return e.Err
}
