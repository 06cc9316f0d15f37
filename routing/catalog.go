// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"fmt"
	"sync"

	"mcpgateway/registry"
)

// CatalogSource is the registry surface the aggregator depends on.
// *registry.Registry satisfies it.
type CatalogSource interface {
	ListEnabled() []*registry.ServerDescriptor
	OnMutation(func())
}

// ToolInfo describes one tool exposed by an enabled server.
type ToolInfo struct {
	Name         string   `json:"name"`
	ServerID     string   `json:"server_id"`
	ServerName   string   `json:"server_name"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Aggregator maintains the flattened tool catalog across all enabled
// servers, keyed "<serverName>:<toolName>". Catalog reads vastly
// outnumber registry writes, so the catalog is cached and only rebuilt
// after a registry mutation invalidates it.
type Aggregator struct {
	mu      sync.RWMutex
	reg     CatalogSource
	catalog map[string]ToolInfo

	// gen counts invalidations; builtAt is the gen the cached catalog
	// was observed at. The cache is fresh iff builtAt == gen, so an
	// Invalidate that lands while a rebuild is snapshotting the registry
	// keeps the cache dirty instead of being swallowed.
	gen     uint64
	builtAt uint64
}

// NewAggregator creates an aggregator subscribed to registry mutations.
func NewAggregator(reg CatalogSource) *Aggregator {
	a := &Aggregator{
		reg: reg,
		gen: 1,
	}
	reg.OnMutation(a.Invalidate)
	return a
}

// Invalidate marks the cached catalog stale. The next Catalog call
// rebuilds it.
func (a *Aggregator) Invalidate() {
	a.mu.Lock()
	a.gen++
	a.mu.Unlock()
}

// Catalog returns the current tool catalog, rebuilding it if a registry
// mutation occurred since the last build. The returned map is a copy.
func (a *Aggregator) Catalog() map[string]ToolInfo {
	a.mu.RLock()
	if a.builtAt == a.gen {
		out := copyCatalog(a.catalog)
		a.mu.RUnlock()
		return out
	}
	gen := a.gen
	a.mu.RUnlock()

	enabled := a.reg.ListEnabled()
	catalog := BuildCatalog(enabled)

	a.mu.Lock()
	defer a.mu.Unlock()
	if gen > a.builtAt {
		a.catalog = catalog
		a.builtAt = gen
	}
	return copyCatalog(a.catalog)
}

// BuildCatalog derives the tool catalog from a set of descriptors.
// Deterministic given the same input set: disabled servers contribute
// nothing, and every tool of every enabled server contributes exactly
// one entry.
func BuildCatalog(servers []*registry.ServerDescriptor) map[string]ToolInfo {
	catalog := make(map[string]ToolInfo)
	for _, d := range servers {
		if !d.Enabled {
			continue
		}
		for _, tool := range d.Tools {
			key := fmt.Sprintf("%s:%s", d.Name, tool)
			catalog[key] = ToolInfo{
				Name:         tool,
				ServerID:     d.ID,
				ServerName:   d.Name,
				Capabilities: d.Capabilities,
			}
		}
	}
	return catalog
}

func copyCatalog(in map[string]ToolInfo) map[string]ToolInfo {
	out := make(map[string]ToolInfo, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
