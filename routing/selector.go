// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"sort"
	"strings"

	"mcpgateway/registry"
)

// Selector picks the MCP server best suited to a prompt by counting how
// many of each server's keywords appear in the lowercased prompt as
// substrings. Substring matching is intentional: short keywords can
// over-match ("type" matches "prototype"), which is an accepted
// trade-off, not a bug.
//
// The enumeration order is ascending server ID. Ties go to the first
// server in that order, and a zero score for every server falls back to
// the first server in that order. The fallback is a default-route
// heuristic: routing a prompt that matched nothing to the first server
// is not a semantic decision about that server.
type Selector struct{}

// Select returns the ID of the chosen server, or false when servers is
// empty. Deterministic: identical inputs always select the same server.
func (Selector) Select(prompt string, servers []*registry.ServerDescriptor) (string, bool) {
	if len(servers) == 0 {
		return "", false
	}

	promptLower := strings.ToLower(prompt)

	ordered := orderByID(servers)

	best := ordered[0]
	bestScore := 0
	for _, d := range ordered {
		score := 0
		for _, kw := range d.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(promptLower, strings.ToLower(kw)) {
				score++
			}
		}
		if score > bestScore {
			best = d
			bestScore = score
		}
	}

	return best.ID, true
}

// orderByID returns the servers in ascending ID order without mutating
// the caller's slice. Registry snapshots already arrive ordered; this
// keeps Select correct for arbitrary input.
func orderByID(servers []*registry.ServerDescriptor) []*registry.ServerDescriptor {
	sorted := true
	for i := 1; i < len(servers); i++ {
		if servers[i-1].ID > servers[i].ID {
			sorted = false
			break
		}
	}
	if sorted {
		return servers
	}

	out := make([]*registry.ServerDescriptor, len(servers))
	copy(out, servers)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
