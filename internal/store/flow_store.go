package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/atendezap/atendezap/internal/flow"
)

// FlowStore manages flow definitions. The engine only reads; Save and
// Delete exist as pass-through for the external editor surface.
type FlowStore interface {
	// ActiveDefinitions returns all active definitions for a tenant,
	// used for trigger-phrase matching.
	ActiveDefinitions(ctx context.Context, tenantID uuid.UUID) ([]*flow.Definition, error)

	// Definition returns one definition by id, or ErrNotFound.
	Definition(ctx context.Context, id uuid.UUID) (*flow.Definition, error)

	// Save inserts or replaces a definition.
	Save(ctx context.Context, d *flow.Definition) error

	// Delete removes a definition.
	Delete(ctx context.Context, id uuid.UUID) error
}
