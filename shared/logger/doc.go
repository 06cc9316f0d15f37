// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

/*
Package logger provides structured JSON logging attributed to users for
gateway components.

# Overview

The logger package provides structured logging that outputs JSON to stdout,
making logs easily consumable by CloudWatch, ELK stack, or other log
aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (gateway, registry, etc.)
  - Instance ID and container name (for distributed tracing)
  - User ID (for per-user attribution)
  - Request ID (for request correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("gateway")

Log messages with user and request context:

	log.Info("user-123", "req-456", "Routing query", map[string]interface{}{
	    "method": "POST",
	    "path":   "/mcp/query",
	})

Log errors with status codes:

	log.ErrorWithCode("user-123", "req-456", "Query failed", 502, err, map[string]interface{}{
	    "server": "playwright",
	})

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("user-123", "req-456", "Query completed",
	    float64(time.Since(start).Milliseconds()), nil)

# Output Format

Log entries are output as single-line JSON:

	{"timestamp":"2025-01-15T10:30:00.123456789Z","level":"INFO",
	 "component":"gateway","instance_id":"i-abc123","container":"gateway-xyz",
	 "user_id":"user-123","request_id":"req-456",
	 "message":"Routing query","fields":{"method":"POST"}}

# Environment Variables

The logger reads these environment variables:

  - INSTANCE_ID: Deployment instance identifier
  - HOSTNAME: Container hostname (auto-detected)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
