// Package session maps each actor to their one active dialogue. Sessions live
// in process memory for the lifetime of the bot.
package session

import (
	"sync"
	"time"
)

// Session is the live association between an actor and a dialogue.
type Session[D any] struct {
	ActorID    string
	Dialogue   D
	CreatedAt  time.Time
	LastActive time.Time
}

// Store holds at most one session per actor. It is safe for concurrent use.
type Store[D any] struct {
	mu       sync.RWMutex
	sessions map[string]*Session[D]
}

// NewStore creates an empty store.
func NewStore[D any]() *Store[D] {
	return &Store[D]{sessions: make(map[string]*Session[D])}
}

// Get returns the actor's dialogue and refreshes its activity time.
func (s *Store[D]) Get(actorID string) (D, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[actorID]
	if !ok {
		var zero D
		return zero, false
	}
	sess.LastActive = time.Now()
	return sess.Dialogue, true
}

// Put starts a session for the actor. It returns false and leaves the store
// unchanged when the actor already has one.
func (s *Store[D]) Put(actorID string, d D) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[actorID]; exists {
		return false
	}
	now := time.Now()
	s.sessions[actorID] = &Session[D]{
		ActorID:    actorID,
		Dialogue:   d,
		CreatedAt:  now,
		LastActive: now,
	}
	return true
}

// Remove ends the actor's session, if any.
func (s *Store[D]) Remove(actorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, actorID)
}

// Len returns the number of live sessions.
func (s *Store[D]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
