// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"time"
)

// Transport identifies how the gateway talks to an MCP server.
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportSSE  Transport = "sse"
)

// ServerConfig is the client-supplied configuration for registering a server.
// Keywords drive prompt routing; capabilities and tools are informational
// metadata surfaced through the tool catalog.
type ServerConfig struct {
	URL          string            `json:"url"`
	Transport    Transport         `json:"transport,omitempty"`
	Description  string            `json:"description,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Keywords     []string          `json:"keywords,omitempty"`
	Tools        []string          `json:"tools,omitempty"`
	Auth         map[string]string `json:"auth,omitempty"`
}

// Validate checks the config for required fields and known enum values.
func (c ServerConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: url is required", ErrValidation)
	}
	switch c.Transport {
	case "", TransportHTTP, TransportSSE:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrValidation, c.Transport)
	}
	return nil
}

// ServerDescriptor is the registered record for one MCP server.
// The ID is assigned at creation and never reused or mutated.
type ServerDescriptor struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	URL          string            `json:"url"`
	Transport    Transport         `json:"transport"`
	Description  string            `json:"description,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Keywords     []string          `json:"keywords,omitempty"`
	Tools        []string          `json:"tools,omitempty"`
	Auth         map[string]string `json:"auth,omitempty"`
	Enabled      bool              `json:"enabled"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// ServerUpdate is a partial update. Only non-nil fields are applied;
// everything else keeps its prior value. Name and ID are immutable and
// deliberately absent.
type ServerUpdate struct {
	URL          *string            `json:"url,omitempty"`
	Transport    *Transport         `json:"transport,omitempty"`
	Description  *string            `json:"description,omitempty"`
	Capabilities *[]string          `json:"capabilities,omitempty"`
	Keywords     *[]string          `json:"keywords,omitempty"`
	Tools        *[]string          `json:"tools,omitempty"`
	Auth         *map[string]string `json:"auth,omitempty"`
	Enabled      *bool              `json:"enabled,omitempty"`
}

// Validate rejects updates that would leave the descriptor in an invalid state.
func (u ServerUpdate) Validate() error {
	if u.URL != nil && *u.URL == "" {
		return fmt.Errorf("%w: url cannot be cleared", ErrValidation)
	}
	if u.Transport != nil {
		switch *u.Transport {
		case TransportHTTP, TransportSSE:
		default:
			return fmt.Errorf("%w: unknown transport %q", ErrValidation, *u.Transport)
		}
	}
	return nil
}

// apply merges the update into the descriptor field by field.
// Unset fields retain their prior values.
func (d *ServerDescriptor) apply(u ServerUpdate) {
	if u.URL != nil {
		d.URL = *u.URL
	}
	if u.Transport != nil {
		d.Transport = *u.Transport
	}
	if u.Description != nil {
		d.Description = *u.Description
	}
	if u.Capabilities != nil {
		d.Capabilities = cloneStrings(*u.Capabilities)
	}
	if u.Keywords != nil {
		d.Keywords = cloneStrings(*u.Keywords)
	}
	if u.Tools != nil {
		d.Tools = cloneStrings(*u.Tools)
	}
	if u.Auth != nil {
		d.Auth = cloneStringMap(*u.Auth)
	}
	if u.Enabled != nil {
		d.Enabled = *u.Enabled
	}
}

// Clone returns a deep copy so callers can hold descriptors outside the
// registry lock without observing later mutations.
func (d *ServerDescriptor) Clone() *ServerDescriptor {
	if d == nil {
		return nil
	}
	out := *d
	out.Capabilities = cloneStrings(d.Capabilities)
	out.Keywords = cloneStrings(d.Keywords)
	out.Tools = cloneStrings(d.Tools)
	out.Auth = cloneStringMap(d.Auth)
	return &out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
