package model

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus values match the persisted uppercase form used by the
// campaign scheduler.
type CampaignStatus string

const (
	CampaignScheduled  CampaignStatus = "SCHEDULED"
	CampaignProcessing CampaignStatus = "PROCESSING"
	CampaignCanceled   CampaignStatus = "CANCELED"
	CampaignFinished   CampaignStatus = "FINISHED"
)

// Campaign is one bulk-send job: up to three message variants delivered
// to a list of recipients through the humanizer.
type Campaign struct {
	ID           uuid.UUID      `json:"id"`
	TenantID     uuid.UUID      `json:"tenant_id"`
	ConnectionID uuid.UUID      `json:"connection_id"`
	Name         string         `json:"name"`
	Status       CampaignStatus `json:"status"`
	ScheduledAt  *time.Time     `json:"scheduled_at,omitempty"`
	CronExpr     string         `json:"cron_expr,omitempty"` // optional recurring schedule

	// Message variants; empty entries are skipped during weighted pick.
	Message1 string `json:"message1"`
	Message2 string `json:"message2,omitempty"`
	Message3 string `json:"message3,omitempty"`

	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// Variants returns the non-empty message variants in order.
func (c *Campaign) Variants() []string {
	out := make([]string, 0, 3)
	for _, m := range []string{c.Message1, c.Message2, c.Message3} {
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}

// CampaignShipping is one (campaign, recipient) delivery record.
// DeliveredAt nil + Failed false = still pending.
type CampaignShipping struct {
	ID          uuid.UUID  `json:"id"`
	CampaignID  uuid.UUID  `json:"campaign_id"`
	Address     string     `json:"address"` // recipient channel address
	ContactName string     `json:"contact_name,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	Failed      bool       `json:"failed"`
	Created     time.Time  `json:"created"`
}

// Pending reports whether this recipient is still awaiting a send attempt.
func (s *CampaignShipping) Pending() bool {
	return s.DeliveredAt == nil && !s.Failed
}
