package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atendezap/atendezap/internal/flow"
	"github.com/atendezap/atendezap/internal/store"
)

// FlowStore implements store.FlowStore backed by Postgres. The node
// graph is stored as one JSONB document per definition.
type FlowStore struct {
	db *sql.DB
}

func NewFlowStore(db *sql.DB) *FlowStore {
	return &FlowStore{db: db}
}

func scanDefinition(row interface{ Scan(...any) error }) (*flow.Definition, error) {
	var (
		d     flow.Definition
		nodes []byte
	)
	err := row.Scan(&d.ID, &d.TenantID, &d.Name, &d.Trigger, &d.Active, &nodes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan flow definition: %w", err)
	}
	if err := json.Unmarshal(nodes, &d.Nodes); err != nil {
		return nil, fmt.Errorf("decode flow nodes: %w", err)
	}
	return &d, nil
}

func (s *FlowStore) ActiveDefinitions(ctx context.Context, tenantID uuid.UUID) ([]*flow.Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, trigger_phrase, active, nodes
		 FROM flow_definitions WHERE tenant_id = $1 AND active ORDER BY name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("active flow definitions: %w", err)
	}
	defer rows.Close()

	var out []*flow.Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *FlowStore) Definition(ctx context.Context, id uuid.UUID) (*flow.Definition, error) {
	return scanDefinition(s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, trigger_phrase, active, nodes
		 FROM flow_definitions WHERE id = $1`, id))
}

func (s *FlowStore) Save(ctx context.Context, d *flow.Definition) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.Must(uuid.NewV7())
	}
	nodes, err := json.Marshal(d.Nodes)
	if err != nil {
		return fmt.Errorf("encode flow nodes: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flow_definitions (id, tenant_id, name, trigger_phrase, active, nodes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (id) DO UPDATE
		   SET name = EXCLUDED.name, trigger_phrase = EXCLUDED.trigger_phrase,
		       active = EXCLUDED.active, nodes = EXCLUDED.nodes, updated_at = EXCLUDED.updated_at`,
		d.ID, d.TenantID, d.Name, d.Trigger, d.Active, nodes, time.Now())
	if err != nil {
		return fmt.Errorf("save flow definition: %w", err)
	}
	return nil
}

func (s *FlowStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM flow_definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete flow definition: %w", err)
	}
	return nil
}
