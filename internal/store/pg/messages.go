package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atendezap/atendezap/internal/model"
)

// MessageStore implements store.MessageStore backed by Postgres.
type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) Create(ctx context.Context, m *model.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.Must(uuid.NewV7())
	}
	if m.Created.IsZero() {
		m.Created = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, ticket_id, contact_id, body, media_url, media_type, from_me, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.TicketID, m.ContactID, m.Body, m.MediaURL, m.MediaType, m.FromMe, m.Created)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}
