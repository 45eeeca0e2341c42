// Package filesystem provides the L2 cache tier on the local filesystem.
//
// Each entry lives in its own file named after the sha256 of its key, so
// arbitrary keys never reach the filesystem. Writes go to a temporary file
// that is renamed into place, which lets the sweeper and readers run without
// coordination: a reader either sees a complete record or no file at all,
// and re-checks expiry itself.
package filesystem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/cost-go/domain/cache"
	"github.com/felixgeelhaar/cost-go/infrastructure/logging"
)

// Defaults for the L2 tier.
const (
	DefaultDir    = ".cost-cache"
	DefaultMaxTTL = time.Hour

	// DefaultTempGrace is how old a leftover temporary file must be before
	// Sweep removes it.
	DefaultTempGrace = 10 * time.Minute

	recordExt = ".json"
	tmpPrefix = ".tmp-"
)

// Config configures the L2 tier.
type Config struct {
	// Name is reported by Name(). Defaults to "l2".
	Name string
	// Dir holds one file per entry. Created with 0750 if missing.
	Dir string
	// MaxTTL is the TTL ceiling applied to every Set.
	MaxTTL time.Duration
	// TempGrace is the age after which an orphaned temporary file, left
	// behind by a crash between write and rename, is swept.
	TempGrace time.Duration
}

// record is the on-disk form of an entry.
type record struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Cache is a file-per-key tier.
type Cache struct {
	name      string
	dir       string
	maxTTL    time.Duration
	tempGrace time.Duration
	now       func() time.Time

	hits   atomic.Int64
	misses atomic.Int64

	sweepOnce sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
}

// New creates the tier and its directory.
func New(cfg Config) (*Cache, error) {
	if cfg.Name == "" {
		cfg.Name = "l2"
	}
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = DefaultMaxTTL
	}
	if cfg.TempGrace <= 0 {
		cfg.TempGrace = DefaultTempGrace
	}

	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	return &Cache{
		name:      cfg.Name,
		dir:       cfg.Dir,
		maxTTL:    cfg.MaxTTL,
		tempGrace: cfg.TempGrace,
		now:       time.Now,
		stop:      make(chan struct{}),
	}, nil
}

// Name returns the tier name.
func (c *Cache) Name() string {
	return c.name
}

// Dir returns the directory holding the records.
func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+recordExt)
}

// Get reads the record for key. Expired records are removed and reported as
// a miss; a record holding a different key is treated as a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	path := c.path(key)
	rec, err := readRecord(path)
	if errors.Is(err, os.ErrNotExist) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if rec.Key != key {
		c.misses.Add(1)
		return nil, false, nil
	}
	if !c.now().Before(rec.ExpiresAt) {
		_ = os.Remove(path) // #nosec G104 -- the sweeper may have removed it already
		c.misses.Add(1)
		return nil, false, nil
	}

	c.hits.Add(1)
	return rec.Value, true, nil
}

// Set writes the record for key through a temporary file and rename.
func (c *Cache) Set(ctx context.Context, key string, value []byte, opts cache.SetOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return cache.ErrInvalidKey
	}

	now := c.now()
	data, err := json.Marshal(record{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(cache.EffectiveTTL(opts.TTL, c.maxTTL)),
	})
	if err != nil {
		return fmt.Errorf("encode cache record: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()        // #nosec G104 -- best-effort cleanup in error path
		os.Remove(tmpName) // #nosec G104 -- best-effort cleanup in error path
		return fmt.Errorf("write cache record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) // #nosec G104 -- best-effort cleanup in error path
		return fmt.Errorf("close cache record: %w", err)
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		os.Remove(tmpName) // #nosec G104 -- best-effort cleanup in error path
		return fmt.Errorf("commit cache record: %w", err)
	}
	return nil
}

// Delete removes the record for key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(c.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete cache record: %w", err)
	}
	return nil
}

// Clear removes every record in the directory along with any leftover
// temporary files.
func (c *Cache) Clear(ctx context.Context) error {
	names, err := c.recordNames()
	if err != nil {
		return err
	}
	temps, err := c.tempNames()
	if err != nil {
		return err
	}
	names = append(names, temps...)

	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ClearPrefix removes every record whose key starts with prefix. Keys are
// only known from inside the records, so each one is read.
func (c *Cache) ClearPrefix(ctx context.Context, prefix string) (int, error) {
	names, err := c.recordNames()
	if err != nil {
		return 0, err
	}

	removed := 0
	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		path := filepath.Join(c.dir, name)
		rec, err := readRecord(path)
		if err != nil || !strings.HasPrefix(rec.Key, prefix) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Sweep deletes expired and unreadable records, and temporary files older
// than the grace period.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	names, err := c.recordNames()
	if err != nil {
		return 0, err
	}

	now := c.now()
	removed := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		path := filepath.Join(c.dir, name)
		rec, err := readRecord(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			continue
		case errors.Is(err, cache.ErrCorruptEntry):
		case err != nil:
			return removed, err
		case now.Before(rec.ExpiresAt):
			continue
		}

		if err := os.Remove(path); err == nil {
			removed++
		}
	}

	stale, err := c.sweepTemps(ctx, now)
	return removed + stale, err
}

// sweepTemps removes temporary files last modified before now minus the
// grace period. Younger ones may belong to a Set still in flight.
func (c *Cache) sweepTemps(ctx context.Context, now time.Time) (int, error) {
	names, err := c.tempNames()
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-c.tempGrace)
	removed := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		path := filepath.Join(c.dir, name)
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	return removed, nil
}

// StartSweeper runs Sweep every interval until Close. Only the first call
// starts a loop.
func (c *Cache) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.sweepOnce.Do(func() {
		c.wg.Add(1)
		go c.sweepLoop(interval)
	})
}

func (c *Cache) sweepLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			removed, err := c.Sweep(context.Background())
			if err != nil {
				logging.Warn().
					Add(logging.Tier(c.name)).
					Add(logging.ErrorField(err)).
					Msg("cache sweep failed")
				continue
			}
			if removed > 0 {
				logging.Debug().
					Add(logging.Tier(c.name)).
					Add(logging.Count("removed", removed)).
					Msg("expired cache records swept")
			}
		}
	}
}

// Close stops the sweeper.
func (c *Cache) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		close(c.stop)
		c.wg.Wait()
	}
	return nil
}

// Stats returns hit and miss counters and the record count.
func (c *Cache) Stats() cache.Stats {
	names, _ := c.recordNames()
	return cache.Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   int64(len(names)),
	}
}

func (c *Cache) recordNames() ([]string, error) {
	return c.listNames(func(name string) bool {
		return strings.HasSuffix(name, recordExt) && !strings.HasPrefix(name, tmpPrefix)
	})
}

func (c *Cache) tempNames() ([]string, error) {
	return c.listNames(func(name string) bool {
		return strings.HasPrefix(name, tmpPrefix)
	})
}

func (c *Cache) listNames(match func(string) bool) ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read cache directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !match(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func readRecord(path string) (record, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is derived from a hash inside the cache dir
	if err != nil {
		return record{}, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("%w: %s: %v", cache.ErrCorruptEntry, filepath.Base(path), err)
	}
	return rec, nil
}

var (
	_ cache.Tier          = (*Cache)(nil)
	_ cache.StatsProvider = (*Cache)(nil)
	_ cache.Sweeper       = (*Cache)(nil)
	_ cache.PrefixClearer = (*Cache)(nil)
)
