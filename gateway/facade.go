// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"mcpgateway/registry"
	"mcpgateway/routing"
	"mcpgateway/sessions"
	"mcpgateway/toolagent"
)

// RouteResult is the outcome of one routed query.
type RouteResult struct {
	Text       string
	Usage      *toolagent.Usage
	ServerID   string
	ServerName string
}

// Facade orchestrates one query end to end: pick a server, obtain the
// caller's session for it, run the prompt. It holds no state of its
// own; all state lives in the registry and the pool.
type Facade struct {
	registry *registry.Registry
	selector routing.Selector
	pool     *sessions.Pool
	logger   *log.Logger
}

// NewFacade wires the routing components together.
func NewFacade(reg *registry.Registry, pool *sessions.Pool) *Facade {
	return &Facade{
		registry: reg,
		pool:     pool,
		logger:   log.New(os.Stdout, "[GATEWAY] ", log.LstdFlags),
	}
}

// pickServer resolves the target server for a prompt. An explicit
// serverID pins the choice; otherwise the selector scores enabled
// servers by keyword.
func (f *Facade) pickServer(prompt, serverID string) (*registry.ServerDescriptor, error) {
	if serverID != "" {
		desc, ok := f.registry.Get(serverID)
		if !ok || !desc.Enabled {
			return nil, fmt.Errorf("%w: requested server %s", sessions.ErrServerUnavailable, serverID)
		}
		return desc, nil
	}

	enabled := f.registry.ListEnabled()
	if len(enabled) == 0 {
		return nil, ErrNoServersAvailable
	}

	id, _ := f.selector.Select(prompt, enabled)
	desc, ok := f.registry.Get(id)
	if !ok {
		// Removed between listing and lookup. Re-reading the list
		// would race the same way; surface it as unavailable.
		return nil, fmt.Errorf("%w: server %s", sessions.ErrServerUnavailable, id)
	}
	return desc, nil
}

// Route runs a one-shot prompt for the caller. serverID, when set,
// bypasses keyword selection. history is the caller-supplied context
// for this run; the session's own chat history is untouched. The model
// config binds at session creation only.
func (f *Facade) Route(ctx context.Context, identity *Identity, prompt, serverID string, model sessions.ModelConfig, history []toolagent.Message) (*RouteResult, error) {
	desc, err := f.pickServer(prompt, serverID)
	if err != nil {
		return nil, err
	}
	return f.run(ctx, identity, desc, prompt, model, func(client sessions.Client, headers map[string]string) (*toolagent.Result, error) {
		return client.Run(ctx, prompt, headers, history)
	})
}

// RouteChat runs a prompt against the caller's persistent session
// history for the selected server.
func (f *Facade) RouteChat(ctx context.Context, identity *Identity, prompt, serverID string, model sessions.ModelConfig) (*RouteResult, error) {
	desc, err := f.pickServer(prompt, serverID)
	if err != nil {
		return nil, err
	}
	return f.run(ctx, identity, desc, prompt, model, func(client sessions.Client, headers map[string]string) (*toolagent.Result, error) {
		return client.Chat(ctx, prompt, headers)
	})
}

func (f *Facade) run(ctx context.Context, identity *Identity, desc *registry.ServerDescriptor, prompt string,
	model sessions.ModelConfig, call func(sessions.Client, map[string]string) (*toolagent.Result, error)) (*RouteResult, error) {

	start := time.Now()

	entry, err := f.pool.GetOrCreate(ctx, desc.ID, identity.UserID, model)
	if err != nil {
		queriesTotal.WithLabelValues(desc.Name, "session_error").Inc()
		return nil, err
	}

	result, err := call(entry.Client, UserHeaders(identity, desc.Name))
	elapsed := time.Since(start)
	if err != nil {
		queriesTotal.WithLabelValues(desc.Name, "error").Inc()
		f.logger.Printf("Query failed on server %s for user %s after %s: %v",
			desc.Name, identity.UserID, elapsed.Round(time.Millisecond), err)
		return nil, err
	}

	queriesTotal.WithLabelValues(desc.Name, "success").Inc()
	queryDuration.WithLabelValues(desc.Name).Observe(elapsed.Seconds())
	f.logger.Printf("Routed query to server %s for user %s in %s",
		desc.Name, identity.UserID, elapsed.Round(time.Millisecond))

	return &RouteResult{
		Text:       result.Text,
		Usage:      result.Usage,
		ServerID:   desc.ID,
		ServerName: desc.Name,
	}, nil
}
