package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atendezap/atendezap/internal/model"
	"github.com/atendezap/atendezap/internal/store"
)

// ContactStore implements store.ContactStore backed by Postgres.
type ContactStore struct {
	db *sql.DB
}

func NewContactStore(db *sql.DB) *ContactStore {
	return &ContactStore{db: db}
}

func (s *ContactStore) Upsert(ctx context.Context, tenantID uuid.UUID, address, name string, isGroup bool) (*model.Contact, error) {
	now := time.Now()

	// NULLIF keeps the stored name when the inbound payload has none.
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO contacts (id, tenant_id, address, name, is_group, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 ON CONFLICT (tenant_id, address) DO UPDATE
		   SET name = COALESCE(NULLIF(EXCLUDED.name, ''), contacts.name),
		       updated_at = EXCLUDED.updated_at
		 RETURNING id, tenant_id, address, name, is_group, created_at, updated_at`,
		uuid.Must(uuid.NewV7()), tenantID, address, name, isGroup, now,
	)

	var c model.Contact
	if err := row.Scan(&c.ID, &c.TenantID, &c.Address, &c.Name, &c.IsGroup, &c.Created, &c.Updated); err != nil {
		return nil, fmt.Errorf("upsert contact: %w", err)
	}
	return &c, nil
}

func (s *ContactStore) Get(ctx context.Context, id uuid.UUID) (*model.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, address, name, is_group, created_at, updated_at
		 FROM contacts WHERE id = $1`, id)

	var c model.Contact
	err := row.Scan(&c.ID, &c.TenantID, &c.Address, &c.Name, &c.IsGroup, &c.Created, &c.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return &c, nil
}
