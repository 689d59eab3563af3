package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/atendezap/atendezap/internal/model"
)

// CampaignStore manages bulk-send campaigns and their per-recipient
// shipping rows.
type CampaignStore interface {
	// Due returns campaigns ready for dispatch: status SCHEDULED with
	// scheduled time at or before now or with a recurring cron
	// expression, plus PROCESSING campaigns whose batch is only
	// partially delivered.
	Due(ctx context.Context, now time.Time) ([]*model.Campaign, error)

	// Status re-reads the current campaign status; polled before every
	// recipient send so mid-batch cancellation takes effect.
	Status(ctx context.Context, id uuid.UUID) (model.CampaignStatus, error)

	// SetStatus transitions the campaign status.
	SetStatus(ctx context.Context, id uuid.UUID, status model.CampaignStatus) error

	// BeginProcessing moves a campaign to PROCESSING only from
	// SCHEDULED or PROCESSING, reporting whether it did. A campaign
	// canceled between selection and dispatch stays CANCELED.
	BeginProcessing(ctx context.Context, id uuid.UUID) (bool, error)

	// PendingShippings returns up to limit rows with no delivery stamp
	// and no error flag, in creation order.
	PendingShippings(ctx context.Context, campaignID uuid.UUID, limit int) ([]*model.CampaignShipping, error)

	// PendingCount reports how many recipients remain unattempted.
	PendingCount(ctx context.Context, campaignID uuid.UUID) (int, error)

	// MarkDelivered stamps the delivery time on a shipping row.
	MarkDelivered(ctx context.Context, shippingID uuid.UUID, at time.Time) error

	// MarkFailed sets the error flag, leaving the delivery stamp null.
	MarkFailed(ctx context.Context, shippingID uuid.UUID) error
}
