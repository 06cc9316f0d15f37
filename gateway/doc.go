// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

/*
Package gateway is the HTTP surface and composition root of the MCP
gateway.

A request flows through four stages:

 1. Authentication resolves the caller to an Identity (JWT bearer
    token, gateway-injected header, or both).
 2. Rate limiting enforces the per-user budget (Redis sliding window
    when configured, in-process otherwise).
 3. Routing picks the target server: an explicit server ID pins the
    choice, otherwise keyword scoring over the enabled servers decides.
 4. Execution obtains the caller's session for that server from the
    pool and runs the prompt through the agent runtime.

The Service type owns every stateful component (registry, session pool,
tool aggregator, transcript store) and registers the cross-component
hooks: server removal cascades into session teardown, and any registry
mutation invalidates the tool catalog.

Startup order matters: the HTTP listener comes up serving only /health,
the registry then loads its persisted servers (fatal on failure), seeds
run if the registry is empty, and only then does /health report ready.
*/
package gateway
