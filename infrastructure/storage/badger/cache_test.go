package badger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/felixgeelhaar/cost-go/domain/cache"
	"github.com/felixgeelhaar/cost-go/infrastructure/storage/badger"
)

func newTestCache(t *testing.T, opts ...badger.Option) *badger.Cache {
	t.Helper()

	c, err := badger.New(badger.Config{InMemory: true}, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNew_Defaults(t *testing.T) {
	c := newTestCache(t)
	if c.Name() != "l2" {
		t.Errorf("Name() = %s, want l2", c.Name())
	}
}

func TestCache_SetAndGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "aws:cost_data:abc", []byte(`{"cost":42}`), cache.SetOptions{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	v, ok, err := c.Get(ctx, "aws:cost_data:abc")
	if err != nil || !ok || string(v) != `{"cost":42}` {
		t.Fatalf("Get() = %s, %v, %v", v, ok, err)
	}

	if _, ok, err := c.Get(ctx, "missing"); ok || err != nil {
		t.Errorf("Get(missing) = %v, %v", ok, err)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Size != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestCache_TTLCeiling(t *testing.T) {
	c := newTestCache(t, badger.WithMaxTTL(time.Minute))
	ctx := context.Background()

	before := time.Now()
	_ = c.Set(ctx, "k", []byte("v"), cache.SetOptions{TTL: 24 * time.Hour})

	exp, err := c.ExpiresAt(ctx, "k")
	if err != nil {
		t.Fatalf("ExpiresAt() error = %v", err)
	}
	if exp.After(before.Add(time.Minute + 2*time.Second)) {
		t.Errorf("ExpiresAt() = %v, want at most one minute after %v", exp, before)
	}

	if _, err := c.ExpiresAt(ctx, "missing"); !errors.Is(err, cache.ErrKeyNotFound) {
		t.Errorf("ExpiresAt(missing) error = %v", err)
	}
}

func TestCache_Expiry(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for badger's second-resolution expiry")
	}

	c := newTestCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "expiring", []byte("v"), cache.SetOptions{TTL: time.Second})

	if _, ok, _ := c.Get(ctx, "expiring"); !ok {
		t.Fatal("entry missing right after Set")
	}

	time.Sleep(2500 * time.Millisecond)
	if _, ok, err := c.Get(ctx, "expiring"); ok || err != nil {
		t.Errorf("Get() after expiry = %v, %v", ok, err)
	}
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := newTestCache(t, badger.WithKeyPrefix("cost:"))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), cache.SetOptions{})
	}

	if err := c.Delete(ctx, "k0"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k0"); ok {
		t.Error("deleted key still readable")
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if got := c.Stats().Size; got != 0 {
		t.Errorf("Size after Clear = %d", got)
	}
}

func TestCache_ClearPrefix(t *testing.T) {
	c := newTestCache(t, badger.WithKeyPrefix("cost:"))
	ctx := context.Background()

	awsKey := cache.Key("aws", cache.OpCostData, map[string]string{"start": "2024-03-01"})
	keep := []string{cache.ConnectionStatusKey("aws2"), cache.Key("gcp", cache.OpCostData, nil)}
	for _, key := range append([]string{awsKey, cache.ConnectionStatusKey("aws")}, keep...) {
		if err := c.Set(ctx, key, []byte("v"), cache.SetOptions{}); err != nil {
			t.Fatalf("Set(%s) error = %v", key, err)
		}
	}

	removed, err := c.ClearPrefix(ctx, cache.ProviderPrefix("aws"))
	if err != nil || removed != 2 {
		t.Fatalf("ClearPrefix() = %d, %v; want 2, nil", removed, err)
	}
	if _, ok, _ := c.Get(ctx, awsKey); ok {
		t.Error("aws entry survived ClearPrefix")
	}
	for _, key := range keep {
		if _, ok, _ := c.Get(ctx, key); !ok {
			t.Errorf("%s was removed", key)
		}
	}

	removed, err = c.ClearPrefix(ctx, cache.ProviderPrefix("azure"))
	if err != nil || removed != 0 {
		t.Errorf("ClearPrefix() with no matches = %d, %v", removed, err)
	}
}

func TestCache_SweepInMemory(t *testing.T) {
	c := newTestCache(t)
	n, err := c.Sweep(context.Background())
	if err != nil || n != 0 {
		t.Errorf("Sweep() = %d, %v", n, err)
	}
}

func TestCache_InvalidKeyAndCanceled(t *testing.T) {
	c := newTestCache(t)

	if err := c.Set(context.Background(), "", []byte("v"), cache.SetOptions{}); !errors.Is(err, cache.ErrInvalidKey) {
		t.Errorf("Set(\"\") error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := c.Get(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("Get() error = %v", err)
	}
}

func TestCache_CloseIdempotent(t *testing.T) {
	c, err := badger.New(badger.Config{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
