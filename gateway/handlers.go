// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mcpgateway/chat"
	"mcpgateway/registry"
	"mcpgateway/routing"
	"mcpgateway/sessions"
	"mcpgateway/shared/logger"
	"mcpgateway/toolagent"
)

// Service is the gateway's composition root: it owns the registry, the
// session pool, the tool aggregator, the transcript store, and the
// routing facade, and exposes them over HTTP. Handlers hold no state of
// their own.
type Service struct {
	registry   *registry.Registry
	pool       *sessions.Pool
	aggregator *routing.Aggregator
	facade     *Facade
	threads    chat.Store
	auth       Authenticator
	limiter    RateLimiter
	logger     *log.Logger
	requestLog *logger.Logger

	ready          atomic.Bool
	startTime      time.Time
	totalRequests  int64
	failedRequests int64
}

// NewService wires the gateway components. The pool's cascade hook and
// the aggregator's invalidation hook are registered here, before the
// registry is shared with any goroutine.
func NewService(reg *registry.Registry, factory sessions.ClientFactory, auth Authenticator, limiter RateLimiter) *Service {
	pool := sessions.NewPool(reg, factory)
	reg.OnRemove(pool.CascadeRemove)

	s := &Service{
		registry:   reg,
		pool:       pool,
		aggregator: routing.NewAggregator(reg),
		threads:    chat.NewMemoryStore(),
		auth:       auth,
		limiter:    limiter,
		logger:     log.New(os.Stdout, "[GATEWAY] ", log.LstdFlags),
		requestLog: logger.New("gateway"),
		startTime:  time.Now(),
	}
	s.facade = NewFacade(reg, pool)
	reg.OnMutation(func() {
		registeredServers.Set(float64(reg.Count()))
	})
	return s
}

// SetReady flips the readiness flag reported by /health.
func (s *Service) SetReady(ready bool) { s.ready.Store(ready) }

// Pool exposes the session pool for shutdown wiring.
func (s *Service) Pool() *sessions.Pool { return s.pool }

// Router builds the HTTP routing table.
func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet) // JSON metrics (legacy)
	r.Handle("/prometheus", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/mcp").Subrouter()
	api.HandleFunc("/query", s.withAuth(s.handleQuery)).Methods(http.MethodPost)
	api.HandleFunc("/chat", s.withAuth(s.handleChat)).Methods(http.MethodPost)
	api.HandleFunc("/chat/threads", s.withAuth(s.handleListThreads)).Methods(http.MethodGet)
	api.HandleFunc("/chat/threads/{id}", s.withAuth(s.handleGetThread)).Methods(http.MethodGet)
	api.HandleFunc("/chat/threads/{id}", s.withAuth(s.handleDeleteThread)).Methods(http.MethodDelete)
	api.HandleFunc("/tools", s.withAuth(s.handleListTools)).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{serverID}", s.withAuth(s.handleDisconnect)).Methods(http.MethodDelete)

	api.HandleFunc("/servers", s.withAuth(s.handleListServers)).Methods(http.MethodGet)
	api.HandleFunc("/servers", s.withAuth(s.handleAddServer)).Methods(http.MethodPost)
	api.HandleFunc("/servers/{id}", s.withAuth(s.handleGetServer)).Methods(http.MethodGet)
	api.HandleFunc("/servers/{id}", s.withAuth(s.handleUpdateServer)).Methods(http.MethodPut)
	api.HandleFunc("/servers/{id}", s.withAuth(s.handleRemoveServer)).Methods(http.MethodDelete)

	return r
}

func (s *Service) withAuth(next func(http.ResponseWriter, *http.Request, *Identity)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		start := time.Now()
		atomic.AddInt64(&s.totalRequests, 1)

		identity, err := s.auth.Authenticate(r)
		if err != nil {
			atomic.AddInt64(&s.failedRequests, 1)
			s.requestLog.ErrorWithCode("", requestID, "Request rejected", http.StatusUnauthorized, err,
				map[string]interface{}{"method": r.Method, "path": r.URL.Path})
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if s.limiter != nil {
			if err := s.limiter.Allow(r.Context(), identity.UserID); err != nil {
				atomic.AddInt64(&s.failedRequests, 1)
				s.requestLog.ErrorWithCode(identity.UserID, requestID, "Request rejected", http.StatusTooManyRequests, err,
					map[string]interface{}{"method": r.Method, "path": r.URL.Path})
				writeError(w, http.StatusTooManyRequests, err)
				return
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r, identity)
		if rec.status >= http.StatusBadRequest {
			atomic.AddInt64(&s.failedRequests, 1)
		}

		s.requestLog.InfoWithDuration(identity.UserID, requestID, "Request handled",
			float64(time.Since(start).Milliseconds()),
			map[string]interface{}{"method": r.Method, "path": r.URL.Path})
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "starting"
	code := http.StatusServiceUnavailable
	if s.ready.Load() {
		status = "healthy"
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"servers":   s.registry.Count(),
		"sessions":  s.pool.Len(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// statusRecorder captures the status code a handler wrote so the
// middleware can count failures.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// handleMetrics serves a JSON snapshot of the gateway counters. The
// Prometheus endpoint is the canonical one; this is kept for clients
// that poll a plain JSON document.
func (s *Service) handleMetrics(w http.ResponseWriter, r *http.Request) {
	total := atomic.LoadInt64(&s.totalRequests)
	failed := atomic.LoadInt64(&s.failedRequests)
	uptime := time.Since(s.startTime).Seconds()
	rps := float64(0)
	if uptime > 0 {
		rps = float64(total) / uptime
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": uptime,
		"requests": map[string]interface{}{
			"total":      total,
			"success":    total - failed,
			"failed":     failed,
			"per_second": rps,
		},
		"sessions":  s.pool.Len(),
		"servers":   s.registry.Count(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type queryRequest struct {
	Prompt       string              `json:"prompt"`
	ServerID     string              `json:"server_id,omitempty"`
	Model        string              `json:"model,omitempty"`
	SystemPrompt string              `json:"system_prompt,omitempty"`
	History      []toolagent.Message `json:"history,omitempty"`
}

type queryResponse struct {
	Result     string           `json:"result"`
	ServerID   string           `json:"server_id"`
	ServerName string           `json:"server_name"`
	Usage      *toolagent.Usage `json:"usage,omitempty"`
	ThreadID   string           `json:"thread_id,omitempty"`
}

func (s *Service) handleQuery(w http.ResponseWriter, r *http.Request, identity *Identity) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, errors.New("prompt is required"))
		return
	}

	// X-Selected-Server pins routing the same way the body field does.
	serverID := req.ServerID
	if serverID == "" {
		serverID = s.resolveServerRef(r.Header.Get("X-Selected-Server"))
	}

	model := sessions.ModelConfig{Model: req.Model, SystemPrompt: req.SystemPrompt}
	result, err := s.facade.Route(r.Context(), identity, req.Prompt, serverID, model, req.History)
	if err != nil {
		s.writeRouteError(w, err)
		return
	}
	activeSessions.Set(float64(s.pool.Len()))

	writeJSON(w, http.StatusOK, queryResponse{
		Result:     result.Text,
		ServerID:   result.ServerID,
		ServerName: result.ServerName,
		Usage:      result.Usage,
	})
}

// resolveServerRef maps an X-Selected-Server value to a server ID.
// The outbound header carries the server name, so round-tripping
// clients send names back; IDs are accepted as well.
func (s *Service) resolveServerRef(ref string) string {
	if ref == "" {
		return ""
	}
	if _, ok := s.registry.Get(ref); ok {
		return ref
	}
	if desc, ok := s.registry.GetByName(ref); ok {
		return desc.ID
	}
	return ref
}

type chatRequest struct {
	Prompt       string `json:"prompt"`
	ServerID     string `json:"server_id,omitempty"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	ThreadID     string `json:"thread_id,omitempty"`
	MessageID    string `json:"message_id,omitempty"`
}

func (s *Service) handleChat(w http.ResponseWriter, r *http.Request, identity *Identity) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, errors.New("prompt is required"))
		return
	}

	var thread *chat.Thread
	var err error
	if req.ThreadID != "" {
		thread, err = s.threads.GetThread(identity.UserID, req.ThreadID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
	} else {
		thread, err = s.threads.CreateThread(identity.UserID, chat.TitleFromPrompt(req.Prompt))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}

	// The user message is recorded before the call; a failed or
	// cancelled query still shows what was asked. The assistant message
	// is appended only after full success.
	if err := s.threads.AppendMessage(identity.UserID, thread.ID, chat.Message{
		ID: req.MessageID, Role: "user", Content: req.Prompt,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	model := sessions.ModelConfig{Model: req.Model, SystemPrompt: req.SystemPrompt}
	result, err := s.facade.RouteChat(r.Context(), identity, req.Prompt, req.ServerID, model)
	if err != nil {
		s.writeRouteError(w, err)
		return
	}
	activeSessions.Set(float64(s.pool.Len()))

	if err := s.threads.AppendMessage(identity.UserID, thread.ID, chat.Message{
		Role: "assistant", Content: result.Text, ServerID: result.ServerID,
	}); err != nil {
		s.logger.Printf("Warning: failed to record assistant message on thread %s: %v", thread.ID, err)
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Result:     result.Text,
		ServerID:   result.ServerID,
		ServerName: result.ServerName,
		Usage:      result.Usage,
		ThreadID:   thread.ID,
	})
}

func (s *Service) handleListThreads(w http.ResponseWriter, r *http.Request, identity *Identity) {
	threads, err := s.threads.ListThreads(identity.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"threads": threads})
}

func (s *Service) handleGetThread(w http.ResponseWriter, r *http.Request, identity *Identity) {
	thread, err := s.threads.GetThread(identity.UserID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

func (s *Service) handleDeleteThread(w http.ResponseWriter, r *http.Request, identity *Identity) {
	if err := s.threads.DeleteThread(identity.UserID, mux.Vars(r)["id"]); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleListTools(w http.ResponseWriter, r *http.Request, identity *Identity) {
	catalog := s.aggregator.Catalog()
	tools := make([]routing.ToolInfo, 0, len(catalog))
	for _, info := range catalog {
		tools = append(tools, info)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools": tools,
		"count": len(tools),
	})
}

func (s *Service) handleDisconnect(w http.ResponseWriter, r *http.Request, identity *Identity) {
	serverID := mux.Vars(r)["serverID"]
	if !s.pool.Disconnect(r.Context(), serverID, identity.UserID) {
		writeError(w, http.StatusNotFound, fmt.Errorf("no session for server %s", serverID))
		return
	}
	activeSessions.Set(float64(s.pool.Len()))
	w.WriteHeader(http.StatusNoContent)
}

type addServerRequest struct {
	Name   string                `json:"name"`
	Config registry.ServerConfig `json:"config"`
}

func (s *Service) handleListServers(w http.ResponseWriter, r *http.Request, identity *Identity) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"servers": s.registry.List(),
	})
}

func (s *Service) handleAddServer(w http.ResponseWriter, r *http.Request, identity *Identity) {
	var req addServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	id, err := s.registry.Add(r.Context(), req.Name, req.Config)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	s.logger.Printf("Server %s registered by user %s", req.Name, identity.UserID)

	desc, _ := s.registry.Get(id)
	writeJSON(w, http.StatusCreated, desc)
}

func (s *Service) handleGetServer(w http.ResponseWriter, r *http.Request, identity *Identity) {
	desc, ok := s.registry.Get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, registry.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (s *Service) handleUpdateServer(w http.ResponseWriter, r *http.Request, identity *Identity) {
	var upd registry.ServerUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	id := mux.Vars(r)["id"]
	if err := s.registry.Update(r.Context(), id, upd); err != nil {
		s.writeRegistryError(w, err)
		return
	}

	desc, _ := s.registry.Get(id)
	writeJSON(w, http.StatusOK, desc)
}

func (s *Service) handleRemoveServer(w http.ResponseWriter, r *http.Request, identity *Identity) {
	id := mux.Vars(r)["id"]
	if err := s.registry.Remove(r.Context(), id); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	s.logger.Printf("Server %s removed by user %s", id, identity.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrDuplicateName):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, registry.ErrValidation):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Service) writeRouteError(w http.ResponseWriter, err error) {
	var upstream *toolagent.UpstreamError
	switch {
	case errors.Is(err, ErrNoServersAvailable):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, sessions.ErrServerUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.As(err, &upstream):
		writeError(w, http.StatusBadGateway, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client gave up; 499 is conventional for this.
		writeError(w, 499, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
