package store

import (
	"context"

	"github.com/atendezap/atendezap/internal/model"
)

// MessageStore persists chat messages.
type MessageStore interface {
	// Create persists a message; fills ID/Created when zero.
	Create(ctx context.Context, m *model.Message) error
}
