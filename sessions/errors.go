// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

package sessions

import "errors"

// ErrServerUnavailable is returned when a session is requested for a
// server that is unknown, disabled, or was removed between selection
// and connection.
var ErrServerUnavailable = errors.New("mcp server unavailable")
