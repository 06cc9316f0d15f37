// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

/*
Package registry manages the table of MCP server descriptors the gateway
routes against.

# Overview

The Registry is an authoritative in-process cache backed by an optional
persistent store. Every mutation writes through to the store before the
cache is updated, so the cache never diverges from storage on the happy
path. Names are unique across all descriptors, enabled or not, and IDs
are never reused or mutated once assigned.

# Creating a Registry

For in-memory storage (development and tests):

	reg := registry.NewRegistry()

For persistent storage (production):

	store, err := registry.NewPostgresStore(databaseURL)
	if err != nil {
	    log.Fatal(err)
	}
	reg := registry.NewRegistryWithStore(store)
	if err := reg.Load(ctx); err != nil {
	    log.Fatal(err) // the process cannot start without its registry
	}

# Registering Servers

	id, err := reg.Add(ctx, "playwright", registry.ServerConfig{
	    URL:       "http://localhost:8001/sse",
	    Transport: registry.TransportSSE,
	    Keywords:  []string{"browse", "screenshot", "click"},
	    Tools:     []string{"browser_navigate", "browser_screenshot"},
	})

# Partial Updates

Updates are field-by-field merges; only fields set on the ServerUpdate
are overwritten:

	enabled := false
	err := reg.Update(ctx, id, registry.ServerUpdate{Enabled: &enabled})

# Cascades and Invalidation

Remove cascades to the session pool through the OnRemove hook, and all
mutations notify OnMutation listeners so the tool catalog can invalidate
its cache.

# Synchronization Across Replicas

In multi-replica deployments, start periodic reload so servers registered
by one replica become routable on the others:

	reg.StartPeriodicReload(ctx, 30*time.Second)

# Thread Safety

The Registry is safe for concurrent use. List and ListEnabled return
point-in-time snapshots ordered by ascending ID; readers never observe a
half-applied mutation.
*/
package registry
