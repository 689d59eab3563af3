// Package store declares the persistence collaborator interfaces the
// engine consumes. Implementations live in store/pg (Postgres) and
// store/memory (tests, dev mode).
package store

import "errors"

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// Stores is the top-level container for all storage backends.
type Stores struct {
	Contacts    ContactStore
	Tickets     TicketStore
	Messages    MessageStore
	Flows       FlowStore
	Campaigns   CampaignStore
	Connections ConnectionStore
}

// Config selects and configures a storage backend.
type Config struct {
	PostgresDSN string // from env only, never persisted in config files
}
