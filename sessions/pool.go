// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

// Package sessions manages live agent clients keyed by (server, user).
// The pool guarantees at most one live client per pair: concurrent
// requests for the same pair share a single construction, and repeated
// requests reuse the existing client until it is disconnected, its
// server is removed, or the pool shuts down.
package sessions

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"mcpgateway/registry"
	"mcpgateway/toolagent"
)

// Client is the session-scoped agent handle the pool manages. The
// concrete implementation is toolagent.Client; the pool depends on the
// contract, not the type.
type Client interface {
	Run(ctx context.Context, prompt string, headers map[string]string, history []toolagent.Message) (*toolagent.Result, error)
	Chat(ctx context.Context, prompt string, headers map[string]string) (*toolagent.Result, error)
	ClearHistory()
	Close(ctx context.Context) error
}

// DescriptorSource is the registry surface the pool needs: a point
// lookup by server ID.
type DescriptorSource interface {
	Get(id string) (*registry.ServerDescriptor, bool)
}

// ModelConfig is the per-session model binding passed through to the
// agent client at construction. Zero value means the deployment
// defaults.
type ModelConfig struct {
	Model        string
	SystemPrompt string
}

// ClientFactory builds a client for one server descriptor on behalf of
// one user. Factories must not retain the descriptor; it is a private
// clone.
type ClientFactory func(desc *registry.ServerDescriptor, userID string, model ModelConfig) (Client, error)

// Key identifies one pooled session.
type Key struct {
	ServerID string
	UserID   string
}

// Entry is a pooled session handle.
type Entry struct {
	Client    Client
	ServerID  string
	UserID    string
	CreatedAt time.Time
}

// Pool owns all live sessions. Safe for concurrent use.
type Pool struct {
	source  DescriptorSource
	factory ClientFactory
	logger  *log.Logger

	mu      sync.RWMutex
	entries map[Key]*Entry
	flight  singleflight.Group

	now func() time.Time
}

// NewPool creates an empty pool. The factory is invoked at most once
// per key at a time, never under the pool lock.
func NewPool(source DescriptorSource, factory ClientFactory) *Pool {
	return &Pool{
		source:  source,
		factory: factory,
		logger:  log.New(os.Stdout, "[SESSIONS] ", log.LstdFlags),
		entries: make(map[Key]*Entry),
		now:     time.Now,
	}
}

func flightKey(k Key) string {
	return k.ServerID + ":" + k.UserID
}

// GetOrCreate returns the live session for (serverID, userID), creating
// it if absent. Concurrent callers for the same key receive the same
// entry and the factory runs exactly once. The server must exist and be
// enabled; otherwise ErrServerUnavailable is returned. The model config
// binds only at creation; an existing session keeps the config it was
// built with.
func (p *Pool) GetOrCreate(ctx context.Context, serverID, userID string, model ModelConfig) (*Entry, error) {
	key := Key{ServerID: serverID, UserID: userID}

	p.mu.RLock()
	entry, ok := p.entries[key]
	p.mu.RUnlock()
	if ok {
		return entry, nil
	}

	v, err, _ := p.flight.Do(flightKey(key), func() (interface{}, error) {
		// Another flight may have won between the fast path and here.
		p.mu.RLock()
		existing, ok := p.entries[key]
		p.mu.RUnlock()
		if ok {
			return existing, nil
		}

		desc, ok := p.source.Get(serverID)
		if !ok {
			return nil, fmt.Errorf("%w: server %s not registered", ErrServerUnavailable, serverID)
		}
		if !desc.Enabled {
			return nil, fmt.Errorf("%w: server %s is disabled", ErrServerUnavailable, desc.Name)
		}

		client, err := p.factory(desc, userID, model)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to server %s: %w", desc.Name, err)
		}

		created := &Entry{
			Client:    client,
			ServerID:  serverID,
			UserID:    userID,
			CreatedAt: p.now(),
		}

		p.mu.Lock()
		p.entries[key] = created
		p.mu.Unlock()

		p.logger.Printf("Session created for server %s user %s", desc.Name, userID)
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

// Get returns the live session for the key without creating one.
func (p *Pool) Get(serverID, userID string) (*Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.entries[Key{ServerID: serverID, UserID: userID}]
	return entry, ok
}

// Disconnect tears down one session. Close errors are logged and
// swallowed; the entry is gone either way. Returns true if a session
// existed.
func (p *Pool) Disconnect(ctx context.Context, serverID, userID string) bool {
	key := Key{ServerID: serverID, UserID: userID}

	p.mu.Lock()
	entry, ok := p.entries[key]
	if ok {
		delete(p.entries, key)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	p.closeEntry(ctx, entry)
	return true
}

// CascadeRemove tears down every session bound to the given server.
// Wired to the registry's remove hook.
func (p *Pool) CascadeRemove(serverID string) {
	p.mu.Lock()
	var doomed []*Entry
	for key, entry := range p.entries {
		if key.ServerID == serverID {
			doomed = append(doomed, entry)
			delete(p.entries, key)
		}
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, entry := range doomed {
		p.closeEntry(ctx, entry)
	}
	if len(doomed) > 0 {
		p.logger.Printf("Removed %d session(s) for server %s", len(doomed), serverID)
	}
}

// Shutdown closes every live session.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	entries := make([]*Entry, 0, len(p.entries))
	for _, entry := range p.entries {
		entries = append(entries, entry)
	}
	p.entries = make(map[Key]*Entry)
	p.mu.Unlock()

	for _, entry := range entries {
		p.closeEntry(ctx, entry)
	}
	p.logger.Printf("Shut down %d session(s)", len(entries))
}

// Len reports the number of live sessions.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

func (p *Pool) closeEntry(ctx context.Context, entry *Entry) {
	if err := entry.Client.Close(ctx); err != nil {
		p.logger.Printf("Warning: failed to close session for server %s user %s: %v",
			entry.ServerID, entry.UserID, err)
	}
}
