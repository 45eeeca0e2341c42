// Package badger provides an alternative L2 cache tier on BadgerDB.
package badger

import (
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config configures the badger tier.
type Config struct {
	// Name is reported by Name(). Defaults to "l2".
	Name string

	// Dir is the database directory.
	Dir string

	// InMemory keeps the database in memory (tests).
	InMemory bool

	// SyncWrites enables synchronous writes.
	SyncWrites bool

	// MaxTTL is the TTL ceiling applied to every Set.
	MaxTTL time.Duration

	// GCDiscardRatio is passed to RunValueLogGC.
	GCDiscardRatio float64

	// GCInterval is the interval between value log GC runs. Zero disables the loop.
	GCInterval time.Duration

	// KeyPrefix namespaces every key.
	KeyPrefix string

	// Logger receives badger's own log output. Nil silences it.
	Logger badger.Logger
}

// Option configures the badger tier.
type Option func(*Config)

// WithDir sets the data directory.
func WithDir(dir string) Option {
	return func(c *Config) {
		c.Dir = dir
	}
}

// WithInMemory enables in-memory storage.
func WithInMemory() Option {
	return func(c *Config) {
		c.InMemory = true
	}
}

// WithMaxTTL sets the TTL ceiling.
func WithMaxTTL(d time.Duration) Option {
	return func(c *Config) {
		c.MaxTTL = d
	}
}

// WithGCInterval sets the value log GC interval.
func WithGCInterval(d time.Duration) Option {
	return func(c *Config) {
		c.GCInterval = d
	}
}

// WithKeyPrefix sets the key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(c *Config) {
		c.KeyPrefix = prefix
	}
}

// DefaultConfig returns a one hour ceiling with GC every five minutes.
func DefaultConfig() Config {
	return Config{
		Name:           "l2",
		MaxTTL:         time.Hour,
		GCDiscardRatio: 0.5,
		GCInterval:     5 * time.Minute,
	}
}

// ErrOpenFailed wraps errors from badger.Open.
var ErrOpenFailed = errors.New("badger: open failed")

func openDB(cfg Config) (*badger.DB, error) {
	opts := badger.DefaultOptions(cfg.Dir).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(cfg.Logger)

	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Join(ErrOpenFailed, err)
	}
	return db, nil
}
