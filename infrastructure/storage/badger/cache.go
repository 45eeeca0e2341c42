package badger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/felixgeelhaar/cost-go/domain/cache"
	"github.com/felixgeelhaar/cost-go/infrastructure/logging"
)

const namespace = "cache:"

// Cache is a badger-backed tier. Expiry is enforced by badger's entry TTL.
type Cache struct {
	name      string
	db        *badger.DB
	keyPrefix string
	maxTTL    time.Duration
	inMemory  bool

	hits   atomic.Int64
	misses atomic.Int64

	gcStop    chan struct{}
	gcWg      sync.WaitGroup
	closeOnce sync.Once
}

// New opens the database and starts the value log GC loop.
func New(cfg Config, opts ...Option) (*Cache, error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = def.MaxTTL
	}
	if cfg.GCDiscardRatio <= 0 {
		cfg.GCDiscardRatio = def.GCDiscardRatio
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	c := newCache(cfg, db)
	if cfg.GCInterval > 0 && !cfg.InMemory {
		c.startGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return c, nil
}

// NewFromDB wraps an open database. Close does not stop a GC loop because
// none is started.
func NewFromDB(db *badger.DB, cfg Config) *Cache {
	if cfg.Name == "" {
		cfg.Name = DefaultConfig().Name
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = DefaultConfig().MaxTTL
	}
	return newCache(cfg, db)
}

func newCache(cfg Config, db *badger.DB) *Cache {
	return &Cache{
		name:      cfg.Name,
		db:        db,
		keyPrefix: cfg.KeyPrefix,
		maxTTL:    cfg.MaxTTL,
		inMemory:  cfg.InMemory,
		gcStop:    make(chan struct{}),
	}
}

func (c *Cache) startGC(interval time.Duration, discardRatio float64) {
	c.gcWg.Add(1)
	go func() {
		defer c.gcWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-c.gcStop:
				return
			case <-ticker.C:
				c.runGC(discardRatio)
			}
		}
	}()
}

// runGC rewrites value log files until badger reports nothing left to reclaim.
func (c *Cache) runGC(discardRatio float64) int {
	rewrites := 0
	for {
		err := c.db.RunValueLogGC(discardRatio)
		if err == nil {
			rewrites++
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) {
			logging.Debug().
				Add(logging.Tier(c.name)).
				Add(logging.ErrorField(err)).
				Msg("value log gc stopped")
		}
		return rewrites
	}
}

// Name returns the tier name.
func (c *Cache) Name() string {
	return c.name
}

func (c *Cache) prefix() []byte {
	return []byte(c.keyPrefix + namespace)
}

func (c *Cache) prefixKey(key string) []byte {
	return []byte(c.keyPrefix + namespace + key)
}

// Get returns the value for key. Badger hides expired entries.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.prefixKey(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	c.hits.Add(1)
	return value, true, nil
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
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(c.prefixKey(key), value).WithTTL(ttl))
	})
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(c.prefixKey(key))
	})
}

// Clear drops every key under the tier prefix.
func (c *Cache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.DropPrefix(c.prefix())
}

// ClearPrefix deletes the live keys starting with prefix.
func (c *Cache) ClearPrefix(ctx context.Context, prefix string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var keys [][]byte
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = c.prefixKey(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil || len(keys) == 0 {
		return 0, err
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Sweep runs one value log GC pass. Badger drops expired keys on its own, so
// the returned count is the number of value log files rewritten.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if c.inMemory {
		return 0, nil
	}
	return c.runGC(DefaultConfig().GCDiscardRatio), nil
}

// ExpiresAt returns the expiry badger holds for key, at second resolution.
func (c *Cache) ExpiresAt(ctx context.Context, key string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	var expiresAt time.Time
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.prefixKey(key))
		if err != nil {
			return err
		}
		if item.ExpiresAt() > 0 {
			expiresAt = time.Unix(int64(item.ExpiresAt()), 0) // #nosec G115 -- unix seconds fit in int64
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return time.Time{}, cache.ErrKeyNotFound
	}
	return expiresAt, err
}

// Stats returns hit and miss counters and the live key count.
func (c *Cache) Stats() cache.Stats {
	var size int64
	_ = c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = c.prefix()

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			size++
		}
		return nil
	})

	return cache.Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   size,
	}
}

// Close stops the GC loop and closes the database.
func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.gcStop)
		c.gcWg.Wait()
		err = c.db.Close()
	})
	return err
}

var (
	_ cache.Tier          = (*Cache)(nil)
	_ cache.StatsProvider = (*Cache)(nil)
	_ cache.Sweeper       = (*Cache)(nil)
	_ cache.PrefixClearer = (*Cache)(nil)
)
