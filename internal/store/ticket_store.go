package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/atendezap/atendezap/internal/model"
)

// TicketFlowWriter is the accessor boundary for the flow-control
// sub-record on tickets. Only the flow engine holds a reference to it;
// nothing else may write StepID/Context/Stopped.
type TicketFlowWriter interface {
	UpdateFlow(ctx context.Context, ticketID uuid.UUID, fs model.FlowState) error
}

// TicketStore manages conversation tickets.
type TicketStore interface {
	TicketFlowWriter

	// Get returns a ticket by id, or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*model.Ticket, error)

	// FindOpen returns the open-or-pending ticket for the pair, or
	// ErrNotFound. At most one such ticket exists at any time.
	FindOpen(ctx context.Context, contactID, connectionID uuid.UUID) (*model.Ticket, error)

	// FindRecentlyClosed returns the most recently closed ticket for the
	// pair whose close time lies within the window, or ErrNotFound.
	FindRecentlyClosed(ctx context.Context, contactID, connectionID uuid.UUID, within time.Duration) (*model.Ticket, error)

	// Create persists a new ticket; fills ID/Created when zero.
	Create(ctx context.Context, t *model.Ticket) error

	// Update persists mutated ticket fields (status, queue, agent,
	// preview, unread counter). Flow fields go through UpdateFlow.
	Update(ctx context.Context, t *model.Ticket) error

	// AddTag attaches a tag to the ticket (idempotent).
	AddTag(ctx context.Context, ticketID uuid.UUID, tag string) error

	// RecentTags returns the tags attached to the contact's most recent
	// tickets, used by the incident short-circuit.
	RecentTags(ctx context.Context, contactID uuid.UUID) ([]string, error)
}
