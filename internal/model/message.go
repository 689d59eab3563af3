package model

import (
	"time"

	"github.com/google/uuid"
)

// Message is one persisted chat message on a ticket.
type Message struct {
	ID        uuid.UUID `json:"id"`
	TicketID  uuid.UUID `json:"ticket_id"`
	ContactID uuid.UUID `json:"contact_id"`
	Body      string    `json:"body"`
	MediaURL  string    `json:"media_url,omitempty"`
	MediaType string    `json:"media_type,omitempty"`
	FromMe    bool      `json:"from_me"` // sent by an agent or by the engine
	Created   time.Time `json:"created"`
}

// Preview returns the ticket last-message summary for this message.
func (m *Message) Preview() string {
	if m.Body != "" {
		return m.Body
	}
	if m.MediaType != "" {
		return "[" + m.MediaType + "]"
	}
	return "[media]"
}
