// Package memory provides the in-process L1 cache tier.
package memory

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/cost-go/domain/cache"
)

// Defaults for the L1 tier.
const (
	DefaultMaxSize = 1000
	DefaultMaxTTL  = 300 * time.Second
)

// Config configures the L1 tier.
type Config struct {
	// Name is reported by Name(). Defaults to "l1".
	Name string
	// MaxSize is the entry capacity. The least recently used entry is evicted
	// when a new key would exceed it.
	MaxSize int
	// MaxTTL is the TTL ceiling applied to every Set.
	MaxTTL time.Duration
}

// DefaultConfig returns a 1000 entry, 300s tier.
func DefaultConfig() Config {
	return Config{Name: "l1", MaxSize: DefaultMaxSize, MaxTTL: DefaultMaxTTL}
}

// Cache is a size-bounded LRU with a TTL ceiling. The front of the list is
// the most recently used entry.
type Cache struct {
	name    string
	maxSize int
	maxTTL  time.Duration
	now     func() time.Time

	mu        sync.Mutex
	order     *list.List
	items     map[string]*list.Element
	hits      int64
	misses    int64
	evictions int64
}

// New creates an empty L1 tier.
func New(cfg Config) *Cache {
	if cfg.Name == "" {
		cfg.Name = "l1"
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = DefaultMaxTTL
	}
	return &Cache{
		name:    cfg.Name,
		maxSize: cfg.MaxSize,
		maxTTL:  cfg.MaxTTL,
		now:     time.Now,
		order:   list.New(),
		items:   make(map[string]*list.Element),
	}
}

// Name returns the tier name.
func (c *Cache) Name() string {
	return c.name
}

// Get returns a copy of the value for key. Expired entries are removed and
// reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false, nil
	}

	e := el.Value.(*cache.Entry)
	now := c.now()
	if !e.Live(now) {
		c.removeElement(el)
		c.misses++
		return nil, false, nil
	}

	e.AccessCount++
	e.LastAccessed = now
	c.order.MoveToFront(el)
	c.hits++
	return clone(e.Value), true, nil
}

// Set stores a copy of value. The TTL is clamped to the tier ceiling.
func (c *Cache) Set(ctx context.Context, key string, value []byte, opts cache.SetOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return cache.ErrInvalidKey
	}

	now := c.now()
	entry := &cache.Entry{
		Key:          key,
		Value:        clone(value),
		CreatedAt:    now,
		ExpiresAt:    now.Add(cache.EffectiveTTL(opts.TTL, c.maxTTL)),
		LastAccessed: now,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value = entry
		c.order.MoveToFront(el)
		return nil
	}

	for c.order.Len() >= c.maxSize {
		c.removeElement(c.order.Back())
		c.evictions++
	}
	c.items[key] = c.order.PushFront(entry)
	return nil
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
	return nil
}

// Clear removes every entry.
func (c *Cache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
	return nil
}

// ClearPrefix removes every entry whose key starts with prefix.
func (c *Cache) ClearPrefix(ctx context.Context, prefix string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, el := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.removeElement(el)
			removed++
		}
	}
	return removed, nil
}

// Sweep removes expired entries.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if !el.Value.(*cache.Entry).Live(now) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed, nil
}

// Entry returns a copy of the stored entry for key, live or not.
func (c *Cache) Entry(key string) (cache.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return cache.Entry{}, false
	}
	e := *el.Value.(*cache.Entry)
	e.Value = clone(e.Value)
	return e, true
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns tier counters.
func (c *Cache) Stats() cache.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cache.Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      int64(c.order.Len()),
		MaxSize:   int64(c.maxSize),
	}
}

// removeElement must be called with mu held.
func (c *Cache) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*cache.Entry).Key)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var (
	_ cache.Tier          = (*Cache)(nil)
	_ cache.StatsProvider = (*Cache)(nil)
	_ cache.Sweeper       = (*Cache)(nil)
	_ cache.PrefixClearer = (*Cache)(nil)
)
