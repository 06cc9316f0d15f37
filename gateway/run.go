// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/cors"

	"mcpgateway/registry"
	"mcpgateway/sessions"
	"mcpgateway/toolagent"
)

const defaultRateLimitPerMinute = 120

// Run starts the gateway and blocks until SIGINT or SIGTERM.
//
// Environment variables:
//
//	PORT                  - HTTP port (default 8080)
//	DATABASE_URL          - PostgreSQL connection string; empty runs in-memory
//	REDIS_URL             - Redis for distributed rate limiting; empty uses in-process
//	JWT_SECRET            - HS256 secret for bearer tokens
//	USE_GATEWAY_AUTH      - "true" trusts gateway identity headers, JWT as fallback
//	ENVIRONMENT           - "development" accepts the mock-token bearer token
//	SEED_FILE             - YAML server seed list; empty uses compiled-in defaults
//	AGENT_MODEL           - model name forwarded to the agent runtime
//	RELOAD_INTERVAL_SECONDS - registry reload period (default 60, 0 disables)
//	RATE_LIMIT_PER_MINUTE - per-user request budget (default 120)
func Run() {
	logger := log.New(os.Stdout, "[GATEWAY] ", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Registry and persistence.
	var reg *registry.Registry
	var store registry.Store
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pg, err := registry.NewPostgresStore(dbURL)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		store = pg
		reg = registry.NewRegistryWithStore(pg)
	} else {
		logger.Println("DATABASE_URL not set, running with in-memory registry")
		reg = registry.NewRegistry()
	}

	// Session factory binds descriptors to agent clients. A per-request
	// model config overrides the deployment default at session creation.
	defaultModel := os.Getenv("AGENT_MODEL")
	factory := func(desc *registry.ServerDescriptor, userID string, model sessions.ModelConfig) (sessions.Client, error) {
		if model.Model == "" {
			model.Model = defaultModel
		}
		return toolagent.New(toolagent.Config{
			URL:          desc.URL,
			Transport:    string(desc.Transport),
			Auth:         desc.Auth,
			Model:        model.Model,
			SystemPrompt: model.SystemPrompt,
		}), nil
	}

	// Rate limiting: Redis when configured, in-process otherwise.
	limit := envInt("RATE_LIMIT_PER_MINUTE", defaultRateLimitPerMinute)
	var limiter RateLimiter
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		redisLimiter, err := NewRedisRateLimiter(redisURL, limit)
		if err != nil {
			logger.Printf("Warning: Redis unavailable, using in-memory rate limiting: %v", err)
			limiter = NewMemoryRateLimiter(limit)
		} else {
			defer redisLimiter.Close()
			limiter = redisLimiter
		}
	} else {
		limiter = NewMemoryRateLimiter(limit)
	}

	service := NewService(reg, factory, buildAuthenticator(), limiter)

	// Serve /health immediately so load balancer checks pass while the
	// registry loads.
	port := getEnv("PORT", "8080")
	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-User-ID", "X-Selected-Server", "currentuser"},
	}).Handler(service.Router())

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Printf("Listening on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	// A registry that cannot load its persisted servers must not serve
	// traffic with a silently empty cache.
	if err := reg.Load(ctx); err != nil {
		logger.Fatalf("Failed to load server registry: %v", err)
	}

	if err := SeedRegistry(ctx, reg, os.Getenv("SEED_FILE"), logger); err != nil {
		logger.Fatalf("Failed to seed server registry: %v", err)
	}
	registeredServers.Set(float64(reg.Count()))

	if interval := envInt("RELOAD_INTERVAL_SECONDS", 60); interval > 0 && store != nil {
		reg.StartPeriodicReload(ctx, time.Duration(interval)*time.Second)
	}

	service.SetReady(true)
	logger.Printf("Gateway ready with %d server(s)", reg.Count())

	<-ctx.Done()
	logger.Println("Shutting down...")
	service.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Warning: server shutdown: %v", err)
	}
	service.Pool().Shutdown(shutdownCtx)
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Printf("Warning: store close: %v", err)
		}
	}
	logger.Println("Shutdown complete")
}

func buildAuthenticator() Authenticator {
	devMode := os.Getenv("ENVIRONMENT") == "development"
	jwtAuth := NewJWTAuthenticator(getEnv("JWT_SECRET", "dev-secret"), devMode)

	// Behind an API gateway that already authenticated the caller,
	// trust its identity headers with JWT as a fallback.
	if os.Getenv("USE_GATEWAY_AUTH") == "true" {
		return ChainAuthenticator{HeaderAuthenticator{}, jwtAuth}
	}
	return jwtAuth
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
