// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// loadAttempts bounds startup retries against an unreachable store.
// The process must not come up without its registry, so Load fails
// hard after the last attempt.
const loadAttempts = 5

// Registry is the authoritative in-process cache of server descriptors,
// backed by an optional persistent store. Every mutation writes through
// to the store before the cache is updated. Thread-safe for concurrent
// access.
type Registry struct {
	mu        sync.RWMutex
	servers   map[string]*ServerDescriptor
	store     Store
	logger    *log.Logger
	listeners []func()
	onRemove  func(serverID string)
	now       func() time.Time
}

// NewRegistry creates an in-memory registry with no persistence.
func NewRegistry() *Registry {
	return NewRegistryWithStore(nil)
}

// NewRegistryWithStore creates a registry backed by a persistent store.
// Call Load before serving requests.
func NewRegistryWithStore(store Store) *Registry {
	return &Registry{
		servers: make(map[string]*ServerDescriptor),
		store:   store,
		logger:  log.New(os.Stdout, "[MCP_REGISTRY] ", log.LstdFlags),
		now:     time.Now,
	}
}

// OnMutation registers fn to be called after every successful mutation
// (add, update, remove, reload that changed the set). Used by the tool
// aggregator to invalidate its catalog. Must be called before the
// registry is shared across goroutines.
func (r *Registry) OnMutation(fn func()) {
	r.listeners = append(r.listeners, fn)
}

// OnRemove registers the cascade hook invoked with the server ID after a
// successful Remove. The session pool uses this to tear down live clients.
// Must be called before the registry is shared across goroutines.
func (r *Registry) OnRemove(fn func(serverID string)) {
	r.onRemove = fn
}

// notifyMutation must be called without r.mu held; listeners may read
// back through the registry.
func (r *Registry) notifyMutation() {
	for _, fn := range r.listeners {
		fn()
	}
}

// Load populates the cache from the persistent store. Idempotent.
// Retries with a linear backoff when the store is unreachable, then
// returns ErrStorageUnavailable; callers are expected to treat that as
// fatal at startup.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	var descriptors []*ServerDescriptor
	var err error
	for attempt := 1; attempt <= loadAttempts; attempt++ {
		descriptors, err = r.store.List(ctx)
		if err == nil {
			break
		}
		if attempt < loadAttempts {
			backoff := time.Duration(attempt*2) * time.Second
			r.logger.Printf("Failed to load servers (attempt %d/%d): %v, retrying in %v", attempt, loadAttempts, err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrStorageUnavailable, ctx.Err())
			}
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range descriptors {
		r.servers[d.ID] = d
	}
	r.logger.Printf("Loaded %d MCP servers from storage", len(descriptors))
	return nil
}

// ReloadFromStore picks up servers registered by other gateway replicas
// and loads them into this instance's cache. Existing entries are left
// untouched; local state is authoritative for servers this replica
// already knows about.
func (r *Registry) ReloadFromStore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	descriptors, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list servers: %w", err)
	}

	r.mu.Lock()
	added := 0
	for _, d := range descriptors {
		if _, exists := r.servers[d.ID]; exists {
			continue
		}
		r.servers[d.ID] = d
		added++
		r.logger.Printf("Auto-loaded new server %q (%s) from storage", d.Name, d.ID)
	}
	r.mu.Unlock()

	if added > 0 {
		r.notifyMutation()
	}
	return nil
}

// StartPeriodicReload starts a background goroutine that periodically
// syncs new servers from the store, keeping multi-replica deployments
// consistent. No-op without a store.
func (r *Registry) StartPeriodicReload(ctx context.Context, interval time.Duration) {
	if r.store == nil {
		return
	}

	r.logger.Printf("Starting periodic registry reload (every %v)", interval)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.logger.Println("Stopping periodic registry reload")
				return
			case <-ticker.C:
				if err := r.ReloadFromStore(ctx); err != nil {
					r.logger.Printf("Periodic reload failed: %v", err)
				}
			}
		}
	}()
}

// Add registers a new server. Fails with ErrDuplicateName if the name is
// taken (including by disabled servers) and ErrValidation if the config
// is invalid. Returns the assigned server ID.
func (r *Registry) Add(ctx context.Context, name string, cfg ServerConfig) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrValidation)
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	r.mu.Lock()

	for _, d := range r.servers {
		if d.Name == name {
			r.mu.Unlock()
			return "", fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
	}

	transport := cfg.Transport
	if transport == "" {
		transport = TransportHTTP
	}

	now := r.now().UTC()
	desc := &ServerDescriptor{
		ID:           uuid.NewString(),
		Name:         name,
		URL:          cfg.URL,
		Transport:    transport,
		Description:  cfg.Description,
		Capabilities: cloneStrings(cfg.Capabilities),
		Keywords:     cloneStrings(cfg.Keywords),
		Tools:        cloneStrings(cfg.Tools),
		Auth:         cloneStringMap(cfg.Auth),
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if r.store != nil {
		if err := r.store.Save(ctx, desc); err != nil {
			r.mu.Unlock()
			return "", fmt.Errorf("failed to persist server %q: %w", name, err)
		}
	}

	r.servers[desc.ID] = desc
	r.mu.Unlock()
	r.logger.Printf("Registered MCP server %q (%s)", name, desc.ID)

	r.notifyMutation()
	return desc.ID, nil
}

// Get returns a copy of the descriptor, or false when the ID is unknown.
func (r *Registry) Get(id string) (*ServerDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.servers[id]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// GetByName returns a copy of the descriptor with that name, or false.
func (r *Registry) GetByName(name string) (*ServerDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.servers {
		if d.Name == name {
			return d.Clone(), true
		}
	}
	return nil, false
}

// Update applies a partial update to a server. Only fields set on the
// update are overwritten. Fails with ErrNotFound if the ID is unknown.
func (r *Registry) Update(ctx context.Context, id string, upd ServerUpdate) error {
	if err := upd.Validate(); err != nil {
		return err
	}

	r.mu.Lock()

	current, ok := r.servers[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next := current.Clone()
	next.apply(upd)
	next.UpdatedAt = r.now().UTC()

	if r.store != nil {
		if err := r.store.Update(ctx, next); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("failed to persist update for %s: %w", id, err)
		}
	}

	r.servers[id] = next
	r.mu.Unlock()
	r.logger.Printf("Updated MCP server %q (%s)", next.Name, id)

	r.notifyMutation()
	return nil
}

// Remove deletes a server from storage and the cache, then cascades to
// the session pool via the OnRemove hook. Fails with ErrNotFound if the
// ID is unknown.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	d, ok := r.servers[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if r.store != nil {
		if err := r.store.Delete(ctx, id); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("failed to delete server %s: %w", id, err)
		}
	}

	delete(r.servers, id)
	name := d.Name
	r.mu.Unlock()

	r.logger.Printf("Removed MCP server %q (%s)", name, id)

	// Cascade outside the lock: client teardown may touch the network.
	if r.onRemove != nil {
		r.onRemove(id)
	}
	r.notifyMutation()
	return nil
}

// List returns a point-in-time snapshot of all descriptors, ordered by
// ascending ID. The snapshot never observes a half-applied mutation.
func (r *Registry) List() []*ServerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot(false)
}

// ListEnabled returns a snapshot of enabled descriptors, ordered by
// ascending ID. This is the stable enumeration order the selector's
// tie-break and fallback are defined against.
func (r *Registry) ListEnabled() []*ServerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot(true)
}

// snapshot must be called with at least the read lock held.
func (r *Registry) snapshot(enabledOnly bool) []*ServerDescriptor {
	out := make([]*ServerDescriptor, 0, len(r.servers))
	for _, d := range r.servers {
		if enabledOnly && !d.Enabled {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered servers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}
