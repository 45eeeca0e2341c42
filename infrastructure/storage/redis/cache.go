package redis

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/cost-go/domain/cache"
)

const clearBatch = 100

// Cache is the Redis-backed L3 tier.
type Cache struct {
	name      string
	client    *redis.Client
	keyPrefix string
	maxTTL    time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// New connects to Redis and pings it once. A failed ping returns an error
// wrapping cache.ErrConnectionFailed so callers can fall back to a no-op tier.
func New(cfg Config, opts ...ConfigOption) (*Cache, error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultConfig().DialTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Join(cache.ErrConnectionFailed, err)
	}

	return NewFromClient(client, cfg), nil
}

// NewFromClient wraps an existing client without pinging it.
func NewFromClient(client *redis.Client, cfg Config) *Cache {
	if cfg.Name == "" {
		cfg.Name = DefaultConfig().Name
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = DefaultConfig().MaxTTL
	}
	return &Cache{
		name:      cfg.Name,
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		maxTTL:    cfg.MaxTTL,
	}
}

// Name returns the tier name.
func (c *Cache) Name() string {
	return c.name
}

func (c *Cache) prefixKey(key string) string {
	return c.keyPrefix + key
}

// Get retrieves a value. redis.Nil is a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	result, err := c.client.Get(ctx, c.prefixKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.misses.Add(1)
			return nil, false, nil
		}
		return nil, false, c.wrapError(err)
	}

	c.hits.Add(1)
	return result, true, nil
}

// Set stores value with a TTL clamped to the tier ceiling.
func (c *Cache) Set(ctx context.Context, key string, value []byte, opts cache.SetOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return cache.ErrInvalidKey
	}

	ttl := cache.EffectiveTTL(opts.TTL, c.maxTTL)
	if err := c.client.Set(ctx, c.prefixKey(key), value, ttl).Err(); err != nil {
		return c.wrapError(err)
	}
	return nil
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.client.Del(ctx, c.prefixKey(key)).Err(); err != nil {
		return c.wrapError(err)
	}
	return nil
}

// Clear deletes every key under the prefix, found with SCAN so the server
// is never blocked by KEYS.
func (c *Cache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.deleteMatching(ctx, escapeGlob(c.keyPrefix)+"*")
	return err
}

// ClearPrefix deletes every key starting with prefix and returns how many
// were deleted.
func (c *Cache) ClearPrefix(ctx context.Context, prefix string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.deleteMatching(ctx, escapeGlob(c.prefixKey(prefix))+"*")
}

func (c *Cache) deleteMatching(ctx context.Context, pattern string) (int, error) {
	iter := c.client.Scan(ctx, 0, pattern, clearBatch).Iterator()

	deleted := 0
	keys := make([]string, 0, clearBatch)
	flush := func() error {
		n, err := c.client.Del(ctx, keys...).Result()
		if err != nil {
			return c.wrapError(err)
		}
		deleted += int(n)
		keys = keys[:0]
		return nil
	}

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= clearBatch {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, c.wrapError(err)
	}

	if len(keys) > 0 {
		if err := flush(); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// escapeGlob quotes the characters SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Stats returns hit and miss counters. Size is not tracked for a shared store.
func (c *Cache) Stats() cache.Stats {
	return cache.Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}

// Ping checks the connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Cache) wrapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(cache.ErrOperationTimeout, err)
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Join(cache.ErrOperationTimeout, err)
	}

	return err
}

var (
	_ cache.Tier          = (*Cache)(nil)
	_ cache.StatsProvider = (*Cache)(nil)
	_ cache.PrefixClearer = (*Cache)(nil)
)
