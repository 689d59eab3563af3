package model

import (
	"time"

	"github.com/google/uuid"
)

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketPending TicketStatus = "pending"
	TicketOpen    TicketStatus = "open"
	TicketClosed  TicketStatus = "closed"
)

// FlowState is the flow-control sub-record on a ticket. It is written
// only by the flow engine (via store.TicketFlowWriter); human-agent code
// must never touch these fields directly.
type FlowState struct {
	DefinitionID *uuid.UUID        `json:"definition_id,omitempty"`
	StepID       string            `json:"step_id,omitempty"` // current node id
	Context      map[string]string `json:"context,omitempty"` // captured variables
	Stopped      bool              `json:"stopped,omitempty"`
}

// Active reports whether the ticket currently runs an automated flow.
func (f FlowState) Active() bool {
	return f.DefinitionID != nil && !f.Stopped
}

// Ticket is the unit of conversation: at most one open-or-pending ticket
// exists per (contact, connection) pair.
type Ticket struct {
	ID           uuid.UUID    `json:"id"`
	TenantID     uuid.UUID    `json:"tenant_id"`
	ContactID    uuid.UUID    `json:"contact_id"`
	ConnectionID uuid.UUID    `json:"connection_id"`
	Status       TicketStatus `json:"status"`
	AgentID      *uuid.UUID   `json:"agent_id,omitempty"` // assigned human agent
	QueueID      *uuid.UUID   `json:"queue_id,omitempty"`
	LastMessage  string       `json:"last_message"` // preview of most recent message
	UnreadCount  int          `json:"unread_count"`
	Tags         []string     `json:"tags,omitempty"`
	Flow         FlowState    `json:"flow"`

	Created time.Time  `json:"created"`
	Updated time.Time  `json:"updated"`
	Closed  *time.Time `json:"closed,omitempty"`
}

// Assigned reports whether a human agent owns this ticket.
func (t *Ticket) Assigned() bool { return t.AgentID != nil }

// IsOpen reports whether the ticket accepts automated processing.
func (t *Ticket) IsOpen() bool {
	return t.Status == TicketOpen || t.Status == TicketPending
}
