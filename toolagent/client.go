// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

// Package toolagent is the client for the external agent runtime that
// executes a natural-language request against one specific MCP server,
// invoking that server's tools as needed. The gateway treats it as an
// opaque capability: a prompt plus headers go in, text plus usage
// metrics come out. Each Client is bound to exactly one server and one
// conversation history.
package toolagent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const defaultSystemPrompt = "You are an assistant that uses MCP tools to access data and perform tasks. " +
	"Always use the available tools when appropriate to fulfill requests. " +
	"Provide clear and helpful responses based on the tool results."

// Config describes the agent binding for one server.
type Config struct {
	URL          string
	Transport    string // "http" or "sse"
	Auth         map[string]string
	Model        string
	SystemPrompt string
}

// Message is one conversational exchange entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage carries token accounting from the agent runtime. Fields are
// optional and named by contract; they are never discovered at runtime.
type Usage struct {
	Requests         int `json:"requests,omitempty"`
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// Result is the outcome of one agent run.
type Result struct {
	Text     string
	Usage    *Usage
	Messages []Message // full exchange, for history accumulation
}

// Client talks to the agent runtime for a single MCP server. Chat keeps
// conversation history across calls; Run is one-shot with explicit
// history. Safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu      sync.Mutex
	history []Message
}

// New creates a client bound to one server. Tool-backed queries can be
// slow, so the HTTP timeout is generous.
func New(cfg Config) *Client {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// agentRequest is the wire format posted to the agent runtime.
type agentRequest struct {
	Model        string    `json:"model,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Prompt       string    `json:"prompt"`
	History      []Message `json:"history,omitempty"`
}

// agentResponse is the wire format returned by the agent runtime.
type agentResponse struct {
	Result   string    `json:"result"`
	Error    string    `json:"error,omitempty"`
	Usage    *Usage    `json:"usage,omitempty"`
	Messages []Message `json:"messages,omitempty"`
}

// sseChunk is one event payload on the SSE transport.
type sseChunk struct {
	Delta string `json:"delta,omitempty"`
	Error string `json:"error,omitempty"`
	Usage *Usage `json:"usage,omitempty"`
}

// Run executes a single prompt with an explicit history. The client's
// own chat history is not consulted or modified.
func (c *Client) Run(ctx context.Context, prompt string, headers map[string]string, history []Message) (*Result, error) {
	body, err := json.Marshal(agentRequest{
		Model:        c.cfg.Model,
		SystemPrompt: c.cfg.SystemPrompt,
		Prompt:       prompt,
		History:      history,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal agent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create agent request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Auth {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if c.cfg.Transport == "sse" {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Context cancellation is the caller's decision, not an
		// upstream failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &UpstreamError{Provider: c.cfg.URL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	var result *Result
	if c.cfg.Transport == "sse" && strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		result, err = c.readEventStream(resp)
	} else {
		result, err = c.readJSON(resp)
	}
	if err != nil {
		return nil, err
	}

	if len(result.Messages) == 0 {
		result.Messages = []Message{
			{Role: "user", Content: prompt},
			{Role: "assistant", Content: result.Text},
		}
	}
	return result, nil
}

func (c *Client) readJSON(resp *http.Response) (*Result, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Provider: c.cfg.URL, Status: resp.StatusCode, Err: err}
	}

	var ar agentResponse
	if jsonErr := json.Unmarshal(raw, &ar); jsonErr != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &UpstreamError{Provider: c.cfg.URL, Status: resp.StatusCode, Detail: string(raw)}
		}
		return nil, &UpstreamError{Provider: c.cfg.URL, Status: resp.StatusCode, Detail: "malformed agent response", Err: jsonErr}
	}

	if resp.StatusCode != http.StatusOK || ar.Error != "" {
		detail := ar.Error
		if detail == "" {
			detail = fmt.Sprintf("agent returned status %d", resp.StatusCode)
		}
		return nil, &UpstreamError{Provider: c.cfg.URL, Status: resp.StatusCode, Detail: detail}
	}

	return &Result{Text: ar.Result, Usage: ar.Usage, Messages: ar.Messages}, nil
}

// readEventStream accumulates "data:" deltas until the stream closes or
// a [DONE] sentinel arrives. Usage, when present, rides the final chunk.
func (c *Client) readEventStream(resp *http.Response) (*Result, error) {
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, &UpstreamError{Provider: c.cfg.URL, Status: resp.StatusCode, Detail: string(raw)}
	}

	var text strings.Builder
	var usage *Usage

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			if payload == "[DONE]" {
				break
			}
			continue
		}

		var chunk sseChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return nil, &UpstreamError{Provider: c.cfg.URL, Status: resp.StatusCode, Detail: "malformed event payload", Err: err}
		}
		if chunk.Error != "" {
			return nil, &UpstreamError{Provider: c.cfg.URL, Status: resp.StatusCode, Detail: chunk.Error}
		}
		text.WriteString(chunk.Delta)
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &UpstreamError{Provider: c.cfg.URL, Status: resp.StatusCode, Err: err}
	}

	return &Result{Text: text.String(), Usage: usage}, nil
}

// Chat runs a prompt against the client's persistent conversation
// history. History is appended only after the call fully succeeds, so a
// cancelled or failed exchange leaves it exactly as it was.
func (c *Client) Chat(ctx context.Context, prompt string, headers map[string]string) (*Result, error) {
	c.mu.Lock()
	history := make([]Message, len(c.history))
	copy(history, c.history)
	c.mu.Unlock()

	result, err := c.Run(ctx, prompt, headers, history)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.history = append(c.history, result.Messages...)
	c.mu.Unlock()

	return result, nil
}

// ClearHistory resets the conversation.
func (c *Client) ClearHistory() {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
}

// HistoryLen reports the number of accumulated history messages.
func (c *Client) HistoryLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

// Close releases pooled connections. Errors are not possible; the
// signature exists for the session pool's teardown contract.
func (c *Client) Close(ctx context.Context) error {
	c.httpClient.CloseIdleConnections()
	return nil
}
