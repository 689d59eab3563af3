package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/atendezap/atendezap/internal/model"
)

// ConnectionStore manages channel connection rows.
type ConnectionStore interface {
	// Get returns a connection by id, or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*model.Connection, error)

	// ListEnabled returns all connections that should hold a live
	// session, used at engine startup.
	ListEnabled(ctx context.Context) ([]*model.Connection, error)

	// SetStatus records the latest session lifecycle state. The qrcode
	// payload is only stored for ConnectionQrcode and cleared otherwise.
	SetStatus(ctx context.Context, id uuid.UUID, status model.ConnectionStatus, qrcode string) error
}
