// Package pg implements the store interfaces on Postgres using
// database/sql with the pgx stdlib driver and plain SQL.
package pg

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/atendezap/atendezap/internal/store"
)

// OpenDB opens and pings a Postgres connection pool.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewStores creates all stores backed by Postgres.
func NewStores(cfg store.Config) (*store.Stores, error) {
	db, err := OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	return &store.Stores{
		Contacts:    NewContactStore(db),
		Tickets:     NewTicketStore(db),
		Messages:    NewMessageStore(db),
		Flows:       NewFlowStore(db),
		Campaigns:   NewCampaignStore(db),
		Connections: NewConnectionStore(db),
	}, nil
}
