package model

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionStatus tracks the protocol session lifecycle for a channel
// connection.
type ConnectionStatus string

const (
	ConnectionOpening      ConnectionStatus = "opening"
	ConnectionQrcode       ConnectionStatus = "qrcode"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// Connection is one configured messaging channel (one bridge endpoint).
// The live session handle for it lives in the wbot registry; this row
// only records configuration and last known status.
type Connection struct {
	ID        uuid.UUID        `json:"id"`
	TenantID  uuid.UUID        `json:"tenant_id"`
	Name      string           `json:"name"`
	BridgeURL string           `json:"bridge_url"`
	Status    ConnectionStatus `json:"status"`
	Qrcode    string           `json:"qrcode,omitempty"` // pending pairing QR payload

	// Auto-reply texts sent on a ticket's first inbound message.
	// OutOfHoursMessage takes precedence when the business-hours
	// predicate reports closed.
	GreetingMessage   string `json:"greeting_message,omitempty"`
	OutOfHoursMessage string `json:"out_of_hours_message,omitempty"`

	Enabled bool      `json:"enabled"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}
