package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/atendezap/atendezap/internal/model"
)

// ContactStore manages external chat identities.
type ContactStore interface {
	// Upsert inserts or refreshes the contact for (address, tenant) and
	// returns the stored row. The display name is only overwritten when
	// the inbound payload carries a non-empty one.
	Upsert(ctx context.Context, tenantID uuid.UUID, address, name string, isGroup bool) (*model.Contact, error)

	// Get returns a contact by id, or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*model.Contact, error)
}
