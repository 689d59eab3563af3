package wbot

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when no live session exists for a
// connection. Callers treat it as recoverable: the channel is usually
// reconnecting.
var ErrSessionNotFound = errors.New("wbot: session not found")

// Registry holds at most one live session per connection id. It is the
// only structure shared across all workers and is safe for concurrent
// use from connection lifecycles, the ingestion pipeline, and the
// campaign dispatcher.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*Session)}
}

// Put inserts or replaces the session for a connection id.
func (r *Registry) Put(id uuid.UUID, s *Session) {
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
}

// Get returns the live session for a connection id.
func (r *Registry) Get(id uuid.UUID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove evicts the session for a connection id. Removing an absent id
// is a no-op.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
