// Package wbot owns the live protocol sessions: one handle per channel
// connection, registered in a concurrency-safe registry, backed by a
// WebSocket bridge that speaks the channel protocol.
package wbot

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/atendezap/atendezap/internal/model"
)

// Presence states understood by the bridge.
const (
	PresenceComposing = "composing"
	PresencePaused    = "paused"
	PresenceAvailable = "available"
)

// Sender is the outbound half of a protocol session.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
	SendPresence(ctx context.Context, to, state string) error
}

// InboundMessage is the protocol-level payload handed to the ingestion
// pipeline. It is transient; persistence happens downstream.
type InboundMessage struct {
	From      string `json:"from"` // sender channel address
	FromName  string `json:"from_name,omitempty"`
	Body      string `json:"content"`
	MediaURL  string `json:"media_url,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	IsGroup   bool   `json:"group,omitempty"`
	FromMe    bool   `json:"from_me,omitempty"`
}

// Session is the live handle for one connected channel. Created on
// connect, replaced on reconnect, removed on logout.
type Session struct {
	ConnectionID uuid.UUID
	TenantID     uuid.UUID

	mu     sync.RWMutex
	status model.ConnectionStatus
	sender Sender
}

// NewSession wraps a sender into a session handle in the opening state.
func NewSession(connectionID, tenantID uuid.UUID, sender Sender) *Session {
	return &Session{
		ConnectionID: connectionID,
		TenantID:     tenantID,
		status:       model.ConnectionOpening,
		sender:       sender,
	}
}

// Status returns the last observed lifecycle state.
func (s *Session) Status() model.ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus records a lifecycle transition.
func (s *Session) SetStatus(st model.ConnectionStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// SendText delivers a text message through the underlying sender.
func (s *Session) SendText(ctx context.Context, to, text string) error {
	s.mu.RLock()
	snd := s.sender
	s.mu.RUnlock()
	if snd == nil {
		return fmt.Errorf("session %s: %w", s.ConnectionID, ErrSessionNotFound)
	}
	return snd.SendText(ctx, to, text)
}

// SendPresence emits a presence update through the underlying sender.
func (s *Session) SendPresence(ctx context.Context, to, state string) error {
	s.mu.RLock()
	snd := s.sender
	s.mu.RUnlock()
	if snd == nil {
		return fmt.Errorf("session %s: %w", s.ConnectionID, ErrSessionNotFound)
	}
	return snd.SendPresence(ctx, to, state)
}
