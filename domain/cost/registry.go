package cost

import (
	"fmt"
	"sort"
	"sync"
)

// Registration pairs a provider client with the normalizer for its payloads.
type Registration struct {
	Client     ProviderClient
	Normalizer Normalizer
}

// Registry maps provider IDs to their client and normalizer.
// Adding a provider means registering it here; nothing branches on names.
type Registry struct {
	mu      sync.RWMutex
	entries map[ProviderID]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[ProviderID]Registration)}
}

// Register adds a provider. It fails if the ID is already taken.
func (r *Registry) Register(client ProviderClient, normalizer Normalizer) error {
	if client == nil || normalizer == nil {
		return fmt.Errorf("register provider: client and normalizer are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := client.ID()
	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, id)
	}
	r.entries[id] = Registration{Client: client, Normalizer: normalizer}
	return nil
}

// Lookup returns the registration for id.
func (r *Registry) Lookup(id ProviderID) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.entries[id]
	if !ok {
		return Registration{}, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return reg, nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id ProviderID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// IDs returns the registered provider IDs in sorted order.
func (r *Registry) IDs() []ProviderID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]ProviderID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
