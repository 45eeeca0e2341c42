// Package cache provides the domain interface for cost data cache tiers.
package cache

import (
	"context"
	"time"
)

// Tier is one level of the tiered cache.
// Implementations may be in-memory, file based, Redis, or any other backend.
type Tier interface {
	// Name identifies the tier in logs, stats and errors (l1, l2, l3).
	Name() string

	// Get retrieves a cached value by key.
	// Returns the value, whether it was found, and any error.
	// Expired entries are reported as not found.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value with the given key and options.
	Set(ctx context.Context, key string, value []byte, opts SetOptions) error

	// Delete removes a cached entry by key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries from the tier.
	Clear(ctx context.Context) error
}

// SetOptions configures how a value is stored in the cache.
type SetOptions struct {
	// TTL is the time-to-live for the cached entry.
	// Zero means the tier's own ceiling.
	TTL time.Duration
}

// Entry is a stored value with its lifetime metadata.
type Entry struct {
	Key          string
	Value        []byte
	CreatedAt    time.Time
	ExpiresAt    time.Time
	AccessCount  int64
	LastAccessed time.Time
}

// Live reports whether the entry is still valid at now.
func (e Entry) Live(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// TTL returns the lifetime the entry was stored with.
func (e Entry) TTL() time.Duration {
	return e.ExpiresAt.Sub(e.CreatedAt)
}

// Stats provides per-tier statistics.
type Stats struct {
	// Hits is the number of cache hits.
	Hits int64
	// Misses is the number of cache misses.
	Misses int64
	// Evictions counts entries removed to make room.
	Evictions int64
	// Size is the current number of entries.
	Size int64
	// MaxSize is the maximum number of entries (0 = unlimited).
	MaxSize int64
}

// StatsProvider is an optional interface for tiers that support statistics.
type StatsProvider interface {
	// Stats returns current cache statistics.
	Stats() Stats
}

// Sweeper is implemented by tiers that need explicit expired-entry removal.
type Sweeper interface {
	// Sweep deletes expired entries and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
}

// PrefixClearer is implemented by tiers that can drop a subset of keys.
type PrefixClearer interface {
	// ClearPrefix deletes every key starting with prefix and returns how
	// many were removed.
	ClearPrefix(ctx context.Context, prefix string) (int, error)
}

// EffectiveTTL clamps a requested TTL to a tier ceiling.
// A non-positive request means "use the ceiling"; a non-positive ceiling means unlimited.
func EffectiveTTL(requested, ceiling time.Duration) time.Duration {
	switch {
	case requested <= 0:
		return ceiling
	case ceiling <= 0:
		return requested
	case requested > ceiling:
		return ceiling
	default:
		return requested
	}
}
