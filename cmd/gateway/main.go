// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the MCP gateway service.
//
// The gateway routes natural-language prompts to registered MCP
// servers: it scores servers by keyword, maintains per-user agent
// sessions, and exposes server management and chat transcripts over
// HTTP.
//
// Usage:
//
//	./gateway
//
// Environment variables are documented on gateway.Run.
package main

import (
	"mcpgateway/gateway"
)

func main() {
	gateway.Run()
}
