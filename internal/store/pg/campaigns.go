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

// CampaignStore implements store.CampaignStore backed by Postgres.
type CampaignStore struct {
	db *sql.DB
}

func NewCampaignStore(db *sql.DB) *CampaignStore {
	return &CampaignStore{db: db}
}

const campaignColumns = `id, tenant_id, connection_id, name, status, scheduled_at, cron_expr,
	message1, message2, message3, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(&c.ID, &c.TenantID, &c.ConnectionID, &c.Name, &c.Status,
		&c.ScheduledAt, &c.CronExpr, &c.Message1, &c.Message2, &c.Message3,
		&c.Created, &c.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan campaign: %w", err)
	}
	return &c, nil
}

// Due returns campaigns the dispatcher should look at: SCHEDULED ones
// whose one-shot time has passed or that carry a recurring cron
// expression (the dispatcher evaluates the expression itself), plus
// PROCESSING ones with a partially delivered batch to continue.
func (s *CampaignStore) Due(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns
		 WHERE (status = 'SCHEDULED' AND (scheduled_at <= $1 OR cron_expr <> ''))
		    OR status = 'PROCESSING'
		 ORDER BY scheduled_at NULLS LAST`, now)
	if err != nil {
		return nil, fmt.Errorf("due campaigns: %w", err)
	}
	defer rows.Close()

	var out []*model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *CampaignStore) Status(ctx context.Context, id uuid.UUID) (model.CampaignStatus, error) {
	var status model.CampaignStatus
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM campaigns WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("campaign status: %w", err)
	}
	return status, nil
}

func (s *CampaignStore) SetStatus(ctx context.Context, id uuid.UUID, status model.CampaignStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now())
	if err != nil {
		return fmt.Errorf("set campaign status: %w", err)
	}
	return nil
}

func (s *CampaignStore) BeginProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = 'PROCESSING', updated_at = $2
		 WHERE id = $1 AND status IN ('SCHEDULED', 'PROCESSING')`,
		id, time.Now())
	if err != nil {
		return false, fmt.Errorf("begin campaign processing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("begin campaign processing: %w", err)
	}
	return n > 0, nil
}

func (s *CampaignStore) PendingShippings(ctx context.Context, campaignID uuid.UUID, limit int) ([]*model.CampaignShipping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, campaign_id, address, contact_name, delivered_at, failed, created_at
		 FROM campaign_shippings
		 WHERE campaign_id = $1 AND delivered_at IS NULL AND NOT failed
		 ORDER BY created_at LIMIT $2`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("pending shippings: %w", err)
	}
	defer rows.Close()

	var out []*model.CampaignShipping
	for rows.Next() {
		var sh model.CampaignShipping
		if err := rows.Scan(&sh.ID, &sh.CampaignID, &sh.Address, &sh.ContactName,
			&sh.DeliveredAt, &sh.Failed, &sh.Created); err != nil {
			return nil, fmt.Errorf("scan shipping: %w", err)
		}
		out = append(out, &sh)
	}
	return out, rows.Err()
}

func (s *CampaignStore) PendingCount(ctx context.Context, campaignID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaign_shippings
		 WHERE campaign_id = $1 AND delivered_at IS NULL AND NOT failed`, campaignID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return n, nil
}

func (s *CampaignStore) MarkDelivered(ctx context.Context, shippingID uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaign_shippings SET delivered_at = $2 WHERE id = $1`, shippingID, at)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

func (s *CampaignStore) MarkFailed(ctx context.Context, shippingID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaign_shippings SET failed = TRUE WHERE id = $1`, shippingID)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}
