// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpgateway/registry"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestSeedRegistry_DefaultsOnEmptyRegistry(t *testing.T) {
	reg := registry.NewRegistry()

	require.NoError(t, SeedRegistry(context.Background(), reg, "", discardLogger()))

	assert.Equal(t, 2, reg.Count())
	playwright, ok := reg.GetByName("playwright")
	require.True(t, ok)
	assert.Equal(t, registry.TransportSSE, playwright.Transport)
	assert.Contains(t, playwright.Keywords, "screenshot")

	apollo, ok := reg.GetByName("apollo")
	require.True(t, ok)
	assert.Equal(t, registry.TransportHTTP, apollo.Transport)
}

func TestSeedRegistry_SkipsNonEmptyRegistry(t *testing.T) {
	reg := registry.NewRegistry()
	_, err := reg.Add(context.Background(), "existing", registry.ServerConfig{
		URL: "http://localhost:1/mcp", Transport: registry.TransportHTTP,
	})
	require.NoError(t, err)

	require.NoError(t, SeedRegistry(context.Background(), reg, "", discardLogger()))
	assert.Equal(t, 1, reg.Count())
}

func TestSeedRegistry_FromFileWithEnvExpansion(t *testing.T) {
	t.Setenv("SEED_TEST_TOKEN", "secret-token")
	path := filepath.Join(t.TempDir(), "servers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
servers:
  - name: weather
    url: http://localhost:7001/mcp
    transport: http
    keywords: [weather, forecast]
    tools: [get_forecast]
    auth:
      Authorization: "Bearer ${SEED_TEST_TOKEN}"
`), 0o600))

	reg := registry.NewRegistry()
	require.NoError(t, SeedRegistry(context.Background(), reg, path, discardLogger()))

	desc, ok := reg.GetByName("weather")
	require.True(t, ok)
	assert.Equal(t, "Bearer secret-token", desc.Auth["Authorization"])
	assert.Equal(t, []string{"weather", "forecast"}, desc.Keywords)
}

func TestSeedRegistry_BadFile(t *testing.T) {
	reg := registry.NewRegistry()
	err := SeedRegistry(context.Background(), reg, "/nonexistent/servers.yaml", discardLogger())
	assert.Error(t, err)
}

func TestSeedRegistry_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("servers: [not: {valid"), 0o600))

	reg := registry.NewRegistry()
	assert.Error(t, SeedRegistry(context.Background(), reg, path, discardLogger()))
}
