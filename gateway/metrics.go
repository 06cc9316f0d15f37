// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_queries_total",
		Help: "Total queries routed through the gateway, by server and outcome.",
	}, []string{"server", "status"})

	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcp_gateway_query_duration_seconds",
		Help:    "End-to-end query latency, by server.",
		Buckets: prometheus.DefBuckets,
	}, []string{"server"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcp_gateway_active_sessions",
		Help: "Live agent sessions in the pool.",
	})

	registeredServers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcp_gateway_registered_servers",
		Help: "Servers currently registered.",
	})

	rateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcp_gateway_rate_limit_rejections_total",
		Help: "Requests rejected by the rate limiter.",
	})
)
