package cache

import (
	"context"

	"github.com/felixgeelhaar/cost-go/domain/cache"
)

// NoopTier stands in for a disabled or unreachable tier. Every Get misses and
// every write succeeds without storing anything.
type NoopTier struct {
	name string
}

// NewNoopTier returns a no-op tier reporting name.
func NewNoopTier(name string) *NoopTier {
	return &NoopTier{name: name}
}

func (n *NoopTier) Name() string { return n.name }

func (n *NoopTier) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (n *NoopTier) Set(context.Context, string, []byte, cache.SetOptions) error { return nil }

func (n *NoopTier) Delete(context.Context, string) error { return nil }

func (n *NoopTier) Clear(context.Context) error { return nil }

// IsNoop reports whether t is a no-op tier.
func IsNoop(t cache.Tier) bool {
	if t == nil {
		return true
	}
	_, ok := t.(*NoopTier)
	return ok
}

var _ cache.Tier = (*NoopTier)(nil)
