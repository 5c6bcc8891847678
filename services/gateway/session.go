// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL is the inactivity window after which a session is
// swept, overridable via SESSION_TTL.
const DefaultSessionTTL = 30 * time.Minute

// sweepInterval is how often the background sweeper runs.
const sweepInterval = 5 * time.Minute

// Turn is one question/answer exchange in a session's conversation history.
type Turn struct {
	Question  string    `json:"question"`
	System    string    `json:"system"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the per-user conversation state.
//
// Description:
//
//	Keyed by user id (default "anonymous"); at most one session exists per
//	user at any time. ID doubles as the backend correlation id sent to the
//	SQL-generation service. Sessions live in process memory only and are
//	intentionally lost on restart.
type Session struct {
	// ID is the session identifier, also used as the TXQL correlation id.
	ID string `json:"session_id"`

	// UserID is the owning user key.
	UserID string `json:"user_id"`

	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`

	// Turns is the append-only conversation history, oldest first.
	Turns []Turn `json:"turns"`
}

// SessionStore abstracts session bookkeeping so the orchestrator never
// touches a shared map directly.
//
// Description:
//
//	Implementations must be safe for concurrent use: unlike the store's
//	single-threaded ancestry, requests here run on parallel goroutines.
//	Get and GetOrCreate return snapshot copies; mutation goes through
//	AppendTurn so no caller ever holds a reference into shared state.
type SessionStore interface {
	// Get returns a snapshot of the user's session, if one exists.
	Get(userID string) (Session, bool)

	// GetOrCreate returns a snapshot of the user's session, creating it
	// with a fresh id when absent. LastActive is refreshed either way.
	GetOrCreate(userID string) Session

	// AppendTurn records one exchange on the user's session. A no-op when
	// the session has been swept since GetOrCreate.
	AppendTurn(userID string, turn Turn)

	// Delete removes the user's session, reporting whether one existed.
	Delete(userID string) bool

	// SweepExpired removes sessions idle longer than maxAge and returns
	// how many were removed.
	SweepExpired(maxAge time.Duration) int
}

// MemorySessionStore is the in-memory SessionStore.
//
// Thread Safety: All methods are safe for concurrent use via an RWMutex.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemorySessionStore creates an empty MemorySessionStore.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

func (s *MemorySessionStore) Get(userID string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return Session{}, false
	}
	return snapshot(sess), true
}

func (s *MemorySessionStore) GetOrCreate(userID string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		now := time.Now()
		sess = &Session{
			ID:         uuid.NewString(),
			UserID:     userID,
			CreatedAt:  now,
			LastActive: now,
		}
		s.sessions[userID] = sess
		sessionsActive.Set(float64(len(s.sessions)))
		slog.Debug("Created session",
			slog.String("user_id", userID),
			slog.String("session_id", sess.ID),
		)
	} else {
		sess.LastActive = time.Now()
	}
	return snapshot(sess)
}

func (s *MemorySessionStore) AppendTurn(userID string, turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return
	}
	sess.Turns = append(sess.Turns, turn)
	sess.LastActive = time.Now()
}

func (s *MemorySessionStore) Delete(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[userID]; !ok {
		return false
	}
	delete(s.sessions, userID)
	sessionsActive.Set(float64(len(s.sessions)))
	return true
}

func (s *MemorySessionStore) SweepExpired(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for userID, sess := range s.sessions {
		if sess.LastActive.Before(cutoff) {
			delete(s.sessions, userID)
			removed++
		}
	}
	if removed > 0 {
		sessionsActive.Set(float64(len(s.sessions)))
		slog.Info("Swept expired sessions",
			slog.Int("removed", removed),
			slog.Int("remaining", len(s.sessions)),
		)
	}
	return removed
}

// StartSweeper runs SweepExpired on a fixed interval until ctx is cancelled.
// This is the gateway's only background task.
func (s *MemorySessionStore) StartSweeper(ctx context.Context, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepExpired(maxAge)
			}
		}
	}()
}

// snapshot copies a session so callers never alias store-owned memory.
func snapshot(sess *Session) Session {
	out := *sess
	out.Turns = make([]Turn, len(sess.Turns))
	copy(out.Turns, sess.Turns)
	return out
}
