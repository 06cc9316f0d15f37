// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpgateway/registry"
	"mcpgateway/sessions"
	"mcpgateway/toolagent"
)

// recordingClient remembers the last call so tests can assert on what
// the facade forwarded.
type recordingClient struct {
	lastPrompt  string
	lastHeaders map[string]string
	chatCalls   int
	runCalls    int
	reply       string
}

func (c *recordingClient) Run(ctx context.Context, prompt string, headers map[string]string, history []toolagent.Message) (*toolagent.Result, error) {
	c.runCalls++
	c.lastPrompt = prompt
	c.lastHeaders = headers
	return &toolagent.Result{Text: c.reply}, nil
}

func (c *recordingClient) Chat(ctx context.Context, prompt string, headers map[string]string) (*toolagent.Result, error) {
	c.chatCalls++
	c.lastPrompt = prompt
	c.lastHeaders = headers
	return &toolagent.Result{Text: c.reply}, nil
}

func (c *recordingClient) ClearHistory()                   {}
func (c *recordingClient) Close(ctx context.Context) error { return nil }

func newTestFacade(t *testing.T) (*Facade, *registry.Registry, map[string]*recordingClient) {
	t.Helper()
	reg := registry.NewRegistry()
	clients := map[string]*recordingClient{}
	pool := sessions.NewPool(reg, func(desc *registry.ServerDescriptor, userID string, model sessions.ModelConfig) (sessions.Client, error) {
		c := &recordingClient{reply: "answer from " + desc.Name}
		clients[desc.Name] = c
		return c, nil
	})
	return NewFacade(reg, pool), reg, clients
}

func addServer(t *testing.T, reg *registry.Registry, name string, keywords []string) *registry.ServerDescriptor {
	t.Helper()
	id, err := reg.Add(context.Background(), name, registry.ServerConfig{
		URL:       "http://localhost:9000/mcp",
		Transport: registry.TransportHTTP,
		Keywords:  keywords,
	})
	require.NoError(t, err)
	desc, ok := reg.Get(id)
	require.True(t, ok)
	return desc
}

func TestRoute_SelectsByKeyword(t *testing.T) {
	facade, reg, clients := newTestFacade(t)
	addServer(t, reg, "apollo", []string{"space", "astronaut"})
	addServer(t, reg, "playwright", []string{"browse", "click", "screenshot"})

	identity := &Identity{UserID: "u1", Email: "u1@example.com"}
	result, err := facade.Route(context.Background(), identity,
		"take a screenshot of github and click the login button", "", sessions.ModelConfig{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "playwright", result.ServerName)
	assert.Equal(t, "answer from playwright", result.Text)

	client := clients["playwright"]
	require.NotNil(t, client)
	assert.Equal(t, 1, client.runCalls)
	assert.Equal(t, "u1", client.lastHeaders["X-User-ID"])
	assert.Equal(t, "playwright", client.lastHeaders["X-Selected-Server"])
}

func TestRoute_ExplicitServerPinsRouting(t *testing.T) {
	facade, reg, clients := newTestFacade(t)
	apollo := addServer(t, reg, "apollo", []string{"space"})
	addServer(t, reg, "playwright", []string{"browse", "click"})

	identity := &Identity{UserID: "u1"}
	result, err := facade.Route(context.Background(), identity, "click something", apollo.ID, sessions.ModelConfig{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "apollo", result.ServerName)
	assert.NotNil(t, clients["apollo"])
	assert.Nil(t, clients["playwright"])
}

func TestRoute_ExplicitDisabledServer(t *testing.T) {
	facade, reg, _ := newTestFacade(t)
	apollo := addServer(t, reg, "apollo", []string{"space"})

	enabled := false
	err := reg.Update(context.Background(), apollo.ID, registry.ServerUpdate{Enabled: &enabled})
	require.NoError(t, err)

	_, err = facade.Route(context.Background(), &Identity{UserID: "u1"}, "anything", apollo.ID, sessions.ModelConfig{}, nil)
	assert.ErrorIs(t, err, sessions.ErrServerUnavailable)
}

func TestRoute_EmptyRegistry(t *testing.T) {
	facade, _, _ := newTestFacade(t)

	_, err := facade.Route(context.Background(), &Identity{UserID: "u1"}, "anything", "", sessions.ModelConfig{}, nil)
	assert.ErrorIs(t, err, ErrNoServersAvailable)
}

func TestRoute_AllServersDisabled(t *testing.T) {
	facade, reg, _ := newTestFacade(t)
	apollo := addServer(t, reg, "apollo", []string{"space"})

	enabled := false
	err := reg.Update(context.Background(), apollo.ID, registry.ServerUpdate{Enabled: &enabled})
	require.NoError(t, err)

	_, err = facade.Route(context.Background(), &Identity{UserID: "u1"}, "anything", "", sessions.ModelConfig{}, nil)
	assert.ErrorIs(t, err, ErrNoServersAvailable)
}

func TestRouteChat_UsesSessionHistory(t *testing.T) {
	facade, reg, clients := newTestFacade(t)
	addServer(t, reg, "apollo", []string{"space"})

	identity := &Identity{UserID: "u1"}
	_, err := facade.RouteChat(context.Background(), identity, "who is in space?", "", sessions.ModelConfig{})
	require.NoError(t, err)
	_, err = facade.RouteChat(context.Background(), identity, "and where is the iss?", "", sessions.ModelConfig{})
	require.NoError(t, err)

	client := clients["apollo"]
	require.NotNil(t, client)
	assert.Equal(t, 2, client.chatCalls)
	assert.Equal(t, 0, client.runCalls)
}

func TestRoute_SessionReusedAcrossQueries(t *testing.T) {
	facade, reg, clients := newTestFacade(t)
	addServer(t, reg, "apollo", []string{"space"})

	identity := &Identity{UserID: "u1"}
	for i := 0; i < 3; i++ {
		_, err := facade.Route(context.Background(), identity, "space question", "", sessions.ModelConfig{}, nil)
		require.NoError(t, err)
	}

	// One client built, three runs through it.
	require.Len(t, clients, 1)
	assert.Equal(t, 3, clients["apollo"].runCalls)
}
