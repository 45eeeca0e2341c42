// Package redis provides the shared L3 cache tier on Redis.
package redis

import (
	"time"
)

// DefaultKeyPrefix namespaces every key this tier writes.
const DefaultKeyPrefix = "cloud_cost:"

// Config holds Redis connection and tier configuration.
type Config struct {
	// Name is reported by Name(). Defaults to "l3".
	Name string

	// Address is the Redis server address (host:port).
	Address string

	// Password for authentication (optional).
	Password string

	// DB selects the Redis database index.
	DB int

	// MaxRetries is go-redis's own command retry count.
	MaxRetries int

	// DialTimeout bounds connection setup and the startup ping.
	DialTimeout time.Duration

	// ReadTimeout is the timeout for socket reads.
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for socket writes.
	WriteTimeout time.Duration

	// PoolSize is the maximum number of socket connections.
	PoolSize int

	// KeyPrefix is prepended to all keys.
	KeyPrefix string

	// MaxTTL is the TTL ceiling applied to every Set.
	MaxTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:         "l3",
		Address:      "localhost:6379",
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		KeyPrefix:    DefaultKeyPrefix,
		MaxTTL:       2 * time.Hour,
	}
}

// ConfigOption configures the tier.
type ConfigOption func(*Config)

// WithAddress sets the Redis server address.
func WithAddress(addr string) ConfigOption {
	return func(c *Config) {
		c.Address = addr
	}
}

// WithPassword sets the authentication password.
func WithPassword(password string) ConfigOption {
	return func(c *Config) {
		c.Password = password
	}
}

// WithDB sets the database index.
func WithDB(db int) ConfigOption {
	return func(c *Config) {
		c.DB = db
	}
}

// WithKeyPrefix sets the key prefix for namespacing.
func WithKeyPrefix(prefix string) ConfigOption {
	return func(c *Config) {
		c.KeyPrefix = prefix
	}
}

// WithMaxTTL sets the TTL ceiling.
func WithMaxTTL(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.MaxTTL = d
	}
}

// WithTimeouts sets connection timeouts.
func WithTimeouts(dial, read, write time.Duration) ConfigOption {
	return func(c *Config) {
		c.DialTimeout = dial
		c.ReadTimeout = read
		c.WriteTimeout = write
	}
}
