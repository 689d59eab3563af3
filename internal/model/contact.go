package model

import (
	"time"

	"github.com/google/uuid"
)

// Contact is one external chat identity, unique per (address, tenant).
// Contacts are upserted on every inbound message and never deleted by
// the engine.
type Contact struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Name     string    `json:"name"`
	Address  string    `json:"address"` // normalized channel address, e.g. "5511998880000@c.us"
	IsGroup  bool      `json:"is_group"`

	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}
