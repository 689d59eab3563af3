package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/atendezap/atendezap/internal/model"
	"github.com/atendezap/atendezap/internal/store"
)

// TicketStore implements store.TicketStore backed by Postgres. Flow
// fields live on the ticket row but are only written by UpdateFlow.
type TicketStore struct {
	db *sql.DB
}

func NewTicketStore(db *sql.DB) *TicketStore {
	return &TicketStore{db: db}
}

const ticketColumns = `id, tenant_id, contact_id, connection_id, status, agent_id, queue_id,
	last_message, unread_count, tags,
	flow_definition_id, flow_step_id, flow_context, flow_stopped,
	created_at, updated_at, closed_at`

func (s *TicketStore) scan(row interface{ Scan(...any) error }) (*model.Ticket, error) {
	var (
		t       model.Ticket
		tags    pq.StringArray
		flowCtx []byte
	)
	err := row.Scan(&t.ID, &t.TenantID, &t.ContactID, &t.ConnectionID, &t.Status,
		&t.AgentID, &t.QueueID, &t.LastMessage, &t.UnreadCount, &tags,
		&t.Flow.DefinitionID, &t.Flow.StepID, &flowCtx, &t.Flow.Stopped,
		&t.Created, &t.Updated, &t.Closed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ticket: %w", err)
	}
	t.Tags = tags
	if len(flowCtx) > 0 {
		if err := json.Unmarshal(flowCtx, &t.Flow.Context); err != nil {
			return nil, fmt.Errorf("decode flow context: %w", err)
		}
	}
	return &t, nil
}

func (s *TicketStore) Get(ctx context.Context, id uuid.UUID) (*model.Ticket, error) {
	return s.scan(s.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
}

func (s *TicketStore) FindOpen(ctx context.Context, contactID, connectionID uuid.UUID) (*model.Ticket, error) {
	return s.scan(s.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets
		 WHERE contact_id = $1 AND connection_id = $2 AND status IN ('open', 'pending')
		 ORDER BY created_at DESC LIMIT 1`,
		contactID, connectionID))
}

func (s *TicketStore) FindRecentlyClosed(ctx context.Context, contactID, connectionID uuid.UUID, within time.Duration) (*model.Ticket, error) {
	return s.scan(s.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets
		 WHERE contact_id = $1 AND connection_id = $2 AND status = 'closed' AND closed_at >= $3
		 ORDER BY closed_at DESC LIMIT 1`,
		contactID, connectionID, time.Now().Add(-within)))
}

func (s *TicketStore) Create(ctx context.Context, t *model.Ticket) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.Must(uuid.NewV7())
	}
	now := time.Now()
	t.Created = now
	t.Updated = now

	flowCtx, err := json.Marshal(t.Flow.Context)
	if err != nil {
		return fmt.Errorf("encode flow context: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tickets (`+ticketColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		t.ID, t.TenantID, t.ContactID, t.ConnectionID, t.Status, t.AgentID, t.QueueID,
		t.LastMessage, t.UnreadCount, pq.StringArray(t.Tags),
		t.Flow.DefinitionID, t.Flow.StepID, flowCtx, t.Flow.Stopped,
		t.Created, t.Updated, t.Closed)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

// Update persists the non-flow ticket fields. Flow fields go through
// UpdateFlow so the accessor boundary stays intact at the SQL level too.
func (s *TicketStore) Update(ctx context.Context, t *model.Ticket) error {
	t.Updated = time.Now()
	if t.Status == model.TicketClosed && t.Closed == nil {
		now := t.Updated
		t.Closed = &now
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET status = $2, agent_id = $3, queue_id = $4,
		   last_message = $5, unread_count = $6, updated_at = $7, closed_at = $8
		 WHERE id = $1`,
		t.ID, t.Status, t.AgentID, t.QueueID,
		t.LastMessage, t.UnreadCount, t.Updated, t.Closed)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	return nil
}

func (s *TicketStore) UpdateFlow(ctx context.Context, ticketID uuid.UUID, fs model.FlowState) error {
	flowCtx, err := json.Marshal(fs.Context)
	if err != nil {
		return fmt.Errorf("encode flow context: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE tickets SET flow_definition_id = $2, flow_step_id = $3,
		   flow_context = $4, flow_stopped = $5, updated_at = $6
		 WHERE id = $1`,
		ticketID, fs.DefinitionID, fs.StepID, flowCtx, fs.Stopped, time.Now())
	if err != nil {
		return fmt.Errorf("update ticket flow: %w", err)
	}
	return nil
}

func (s *TicketStore) AddTag(ctx context.Context, ticketID uuid.UUID, tag string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET tags = array_append(tags, $2), updated_at = $3
		 WHERE id = $1 AND NOT ($2 = ANY(tags))`,
		ticketID, tag, time.Now())
	if err != nil {
		return fmt.Errorf("add ticket tag: %w", err)
	}
	return nil
}

// RecentTags aggregates the tags of the contact's five most recent
// tickets, newest first, deduplicated.
func (s *TicketStore) RecentTags(ctx context.Context, contactID uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tags FROM tickets WHERE contact_id = $1
		 ORDER BY updated_at DESC LIMIT 5`, contactID)
	if err != nil {
		return nil, fmt.Errorf("recent tags: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var out []string
	for rows.Next() {
		var tags pq.StringArray
		if err := rows.Scan(&tags); err != nil {
			return nil, fmt.Errorf("scan tags: %w", err)
		}
		for _, tag := range tags {
			if !seen[tag] {
				seen[tag] = true
				out = append(out, tag)
			}
		}
	}
	return out, rows.Err()
}
