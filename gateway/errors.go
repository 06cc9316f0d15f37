// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

package gateway

import "errors"

var (
	// ErrNoServersAvailable is returned when routing is attempted with
	// an empty registry or no enabled servers.
	ErrNoServersAvailable = errors.New("no mcp servers available")

	// ErrUnauthenticated is returned when a request carries no valid
	// identity.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrRateLimited is returned when a user exceeds the request
	// budget for the current window.
	ErrRateLimited = errors.New("rate limit exceeded")
)
