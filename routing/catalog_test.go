// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpgateway/registry"
)

func TestBuildCatalog(t *testing.T) {
	servers := []*registry.ServerDescriptor{
		{
			ID: "a1", Name: "apollo", Enabled: true,
			Capabilities: []string{"space_data"},
			Tools:        []string{"get_astronaut_details", "search_upcoming_launches"},
		},
		{
			ID: "b1", Name: "playwright", Enabled: true,
			Tools: []string{"browser_navigate"},
		},
		{
			ID: "c1", Name: "disabled", Enabled: false,
			Tools: []string{"never_visible"},
		},
	}

	catalog := BuildCatalog(servers)

	// Entry count equals the sum of tool counts over enabled servers only.
	require.Len(t, catalog, 3)

	entry, ok := catalog["apollo:get_astronaut_details"]
	require.True(t, ok)
	assert.Equal(t, "get_astronaut_details", entry.Name)
	assert.Equal(t, "a1", entry.ServerID)
	assert.Equal(t, "apollo", entry.ServerName)
	assert.Equal(t, []string{"space_data"}, entry.Capabilities)

	_, ok = catalog["disabled:never_visible"]
	assert.False(t, ok, "disabled servers must contribute zero entries")
}

func TestAggregator_RebuildsOnMutation(t *testing.T) {
	reg := registry.NewRegistry()
	agg := NewAggregator(reg)
	ctx := context.Background()

	assert.Empty(t, agg.Catalog())

	id, err := reg.Add(ctx, "apollo", registry.ServerConfig{
		URL:   "http://localhost:5001/mcp",
		Tools: []string{"get_astronaut_details"},
	})
	require.NoError(t, err)

	catalog := agg.Catalog()
	require.Len(t, catalog, 1)
	assert.Contains(t, catalog, "apollo:get_astronaut_details")

	// Disabling the server drops its tools from the catalog.
	enabled := false
	require.NoError(t, reg.Update(ctx, id, registry.ServerUpdate{Enabled: &enabled}))
	assert.Empty(t, agg.Catalog())

	enabled = true
	require.NoError(t, reg.Update(ctx, id, registry.ServerUpdate{Enabled: &enabled}))
	require.NoError(t, reg.Remove(ctx, id))
	assert.Empty(t, agg.Catalog())
}

// fakeCatalogSource hands out a fixed descriptor list and lets a test
// interleave a mutation with the snapshot a rebuild takes.
type fakeCatalogSource struct {
	servers    []*registry.ServerDescriptor
	onList     func()
	mutateHook func()
}

func (s *fakeCatalogSource) ListEnabled() []*registry.ServerDescriptor {
	out := s.servers
	if s.onList != nil {
		fn := s.onList
		s.onList = nil
		fn()
	}
	return out
}

func (s *fakeCatalogSource) OnMutation(fn func()) { s.mutateHook = fn }

func (s *fakeCatalogSource) commit(servers []*registry.ServerDescriptor) {
	s.servers = servers
	s.mutateHook()
}

func TestAggregator_MutationDuringRebuildIsNotLost(t *testing.T) {
	apollo := &registry.ServerDescriptor{
		ID: "a1", Name: "apollo", Enabled: true, Tools: []string{"get_astronaut_details"},
	}
	playwright := &registry.ServerDescriptor{
		ID: "b1", Name: "playwright", Enabled: true, Tools: []string{"browser_navigate"},
	}

	src := &fakeCatalogSource{servers: []*registry.ServerDescriptor{apollo}}
	agg := NewAggregator(src)

	// A mutation commits while the rebuild is snapshotting the registry:
	// the snapshot the rebuild sees predates the new server.
	src.onList = func() {
		src.commit([]*registry.ServerDescriptor{apollo, playwright})
	}

	first := agg.Catalog()
	require.Len(t, first, 1)

	// The interleaved invalidation must survive the rebuild's commit,
	// so the next read picks up the new server.
	second := agg.Catalog()
	require.Len(t, second, 2)
	assert.Contains(t, second, "playwright:browser_navigate")
}

func TestAggregator_CatalogIsACopy(t *testing.T) {
	reg := registry.NewRegistry()
	agg := NewAggregator(reg)

	_, err := reg.Add(context.Background(), "apollo", registry.ServerConfig{
		URL:   "http://localhost:5001/mcp",
		Tools: []string{"get_astronaut_details"},
	})
	require.NoError(t, err)

	c1 := agg.Catalog()
	delete(c1, "apollo:get_astronaut_details")

	c2 := agg.Catalog()
	assert.Contains(t, c2, "apollo:get_astronaut_details", "mutating a returned catalog must not affect the cache")
}
