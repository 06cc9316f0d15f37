// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

// Package chat keeps per-user conversation transcripts. Threads are the
// UI-facing record of what was said; the agent-facing history lives in
// the session clients. The two are deliberately separate so clearing a
// session does not erase the transcript.
package chat

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrThreadNotFound is returned when a thread ID does not exist or
// belongs to another user.
var ErrThreadNotFound = errors.New("chat thread not found")

// Message is one transcript entry.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ServerID  string    `json:"server_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Thread is one conversation transcript owned by a single user.
type Thread struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists transcripts. All methods scope access by user.
type Store interface {
	// CreateThread starts a new thread for the user. The title is
	// derived from the first prompt when empty.
	CreateThread(userID, title string) (*Thread, error)
	// GetThread returns the thread if it exists and belongs to the
	// user, ErrThreadNotFound otherwise.
	GetThread(userID, threadID string) (*Thread, error)
	// ListThreads returns the user's threads, most recently updated
	// first, without message bodies.
	ListThreads(userID string) ([]*Thread, error)
	// AppendMessage adds a message to an existing thread. A message
	// carrying an ID that already exists on the thread replaces that
	// message in place, so client retries do not duplicate entries.
	AppendMessage(userID, threadID string, msg Message) error
	// DeleteThread removes a thread and its messages.
	DeleteThread(userID, threadID string) error
}

const titleLimit = 60

// TitleFromPrompt derives a thread title from its opening prompt.
func TitleFromPrompt(prompt string) string {
	if len(prompt) <= titleLimit {
		return prompt
	}
	return prompt[:titleLimit] + "..."
}

// MemoryStore is the in-process Store. Transcripts live for the process
// lifetime only.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*Thread
	now     func() time.Time
}

// NewMemoryStore creates an empty transcript store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string]*Thread),
		now:     time.Now,
	}
}

func (s *MemoryStore) CreateThread(userID, title string) (*Thread, error) {
	now := s.now()
	thread := &Thread{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.threads[thread.ID] = thread
	s.mu.Unlock()

	return cloneThread(thread, true), nil
}

func (s *MemoryStore) GetThread(userID, threadID string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	thread, ok := s.threads[threadID]
	if !ok || thread.UserID != userID {
		return nil, ErrThreadNotFound
	}
	return cloneThread(thread, true), nil
}

func (s *MemoryStore) ListThreads(userID string) ([]*Thread, error) {
	s.mu.RLock()
	var out []*Thread
	for _, thread := range s.threads {
		if thread.UserID == userID {
			out = append(out, cloneThread(thread, false))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) AppendMessage(userID, threadID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, ok := s.threads[threadID]
	if !ok || thread.UserID != userID {
		return ErrThreadNotFound
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
		thread.Messages = append(thread.Messages, msg)
	} else {
		replaced := false
		for i := range thread.Messages {
			if thread.Messages[i].ID == msg.ID {
				thread.Messages[i] = msg
				replaced = true
				break
			}
		}
		if !replaced {
			thread.Messages = append(thread.Messages, msg)
		}
	}
	thread.UpdatedAt = s.now()
	if thread.Title == "" && msg.Role == "user" {
		thread.Title = TitleFromPrompt(msg.Content)
	}
	return nil
}

func (s *MemoryStore) DeleteThread(userID, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, ok := s.threads[threadID]
	if !ok || thread.UserID != userID {
		return ErrThreadNotFound
	}
	delete(s.threads, threadID)
	return nil
}

func cloneThread(t *Thread, withMessages bool) *Thread {
	clone := &Thread{
		ID:        t.ID,
		UserID:    t.UserID,
		Title:     t.Title,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	if withMessages && len(t.Messages) > 0 {
		clone.Messages = make([]Message, len(t.Messages))
		copy(clone.Messages, t.Messages)
	}
	return clone
}
