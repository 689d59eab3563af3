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

// ConnectionStore implements store.ConnectionStore backed by Postgres.
type ConnectionStore struct {
	db *sql.DB
}

func NewConnectionStore(db *sql.DB) *ConnectionStore {
	return &ConnectionStore{db: db}
}

const connectionColumns = `id, tenant_id, name, bridge_url, status, qrcode,
	greeting_message, out_of_hours_message, enabled, created_at, updated_at`

func scanConnection(row interface{ Scan(...any) error }) (*model.Connection, error) {
	var c model.Connection
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.BridgeURL, &c.Status, &c.Qrcode,
		&c.GreetingMessage, &c.OutOfHoursMessage, &c.Enabled, &c.Created, &c.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan connection: %w", err)
	}
	return &c, nil
}

func (s *ConnectionStore) Get(ctx context.Context, id uuid.UUID) (*model.Connection, error) {
	return scanConnection(s.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE id = $1`, id))
}

func (s *ConnectionStore) ListEnabled(ctx context.Context) ([]*model.Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE enabled ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []*model.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *ConnectionStore) SetStatus(ctx context.Context, id uuid.UUID, status model.ConnectionStatus, qrcode string) error {
	if status != model.ConnectionQrcode {
		qrcode = ""
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE connections SET status = $2, qrcode = $3, updated_at = $4 WHERE id = $1`,
		id, status, qrcode, time.Now())
	if err != nil {
		return fmt.Errorf("set connection status: %w", err)
	}
	return nil
}
