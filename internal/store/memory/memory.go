// Package memory implements the store interfaces with in-process maps.
// Used by tests and by dev mode, where the engine runs without
// Postgres.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atendezap/atendezap/internal/flow"
	"github.com/atendezap/atendezap/internal/model"
	"github.com/atendezap/atendezap/internal/store"
)

// NewStores creates a full in-memory store set.
func NewStores() *store.Stores {
	return &store.Stores{
		Contacts:    NewContactStore(),
		Tickets:     NewTicketStore(),
		Messages:    NewMessageStore(),
		Flows:       NewFlowStore(),
		Campaigns:   NewCampaignStore(),
		Connections: NewConnectionStore(),
	}
}

// ContactStore is the in-memory store.ContactStore.
type ContactStore struct {
	mu       sync.RWMutex
	contacts map[uuid.UUID]*model.Contact
}

func NewContactStore() *ContactStore {
	return &ContactStore{contacts: make(map[uuid.UUID]*model.Contact)}
}

func (s *ContactStore) Upsert(_ context.Context, tenantID uuid.UUID, address, name string, isGroup bool) (*model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.contacts {
		if c.TenantID == tenantID && c.Address == address {
			if name != "" {
				c.Name = name
			}
			c.Updated = time.Now()
			cp := *c
			return &cp, nil
		}
	}

	now := time.Now()
	c := &model.Contact{
		ID:       uuid.Must(uuid.NewV7()),
		TenantID: tenantID,
		Address:  address,
		Name:     name,
		IsGroup:  isGroup,
		Created:  now,
		Updated:  now,
	}
	s.contacts[c.ID] = c
	cp := *c
	return &cp, nil
}

func (s *ContactStore) Get(_ context.Context, id uuid.UUID) (*model.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// TicketStore is the in-memory store.TicketStore.
type TicketStore struct {
	mu      sync.RWMutex
	tickets map[uuid.UUID]*model.Ticket
}

func NewTicketStore() *TicketStore {
	return &TicketStore{tickets: make(map[uuid.UUID]*model.Ticket)}
}

func copyTicket(t *model.Ticket) *model.Ticket {
	cp := *t
	cp.Tags = append([]string(nil), t.Tags...)
	if t.Flow.Context != nil {
		cp.Flow.Context = make(map[string]string, len(t.Flow.Context))
		for k, v := range t.Flow.Context {
			cp.Flow.Context[k] = v
		}
	}
	return &cp
}

func (s *TicketStore) Get(_ context.Context, id uuid.UUID) (*model.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyTicket(t), nil
}

func (s *TicketStore) FindOpen(_ context.Context, contactID, connectionID uuid.UUID) (*model.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tickets {
		if t.ContactID == contactID && t.ConnectionID == connectionID && t.IsOpen() {
			return copyTicket(t), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *TicketStore) FindRecentlyClosed(_ context.Context, contactID, connectionID uuid.UUID, within time.Duration) (*model.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-within)
	var best *model.Ticket
	for _, t := range s.tickets {
		if t.ContactID != contactID || t.ConnectionID != connectionID ||
			t.Status != model.TicketClosed || t.Closed == nil || t.Closed.Before(cutoff) {
			continue
		}
		if best == nil || t.Closed.After(*best.Closed) {
			best = t
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return copyTicket(best), nil
}

func (s *TicketStore) Create(_ context.Context, t *model.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.Must(uuid.NewV7())
	}
	now := time.Now()
	t.Created = now
	t.Updated = now
	s.tickets[t.ID] = copyTicket(t)
	return nil
}

func (s *TicketStore) Update(_ context.Context, t *model.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tickets[t.ID]
	if !ok {
		return store.ErrNotFound
	}
	t.Updated = time.Now()
	if t.Status == model.TicketClosed && t.Closed == nil {
		now := t.Updated
		t.Closed = &now
	}
	// flow fields stay whatever UpdateFlow last wrote
	flow := cur.Flow
	s.tickets[t.ID] = copyTicket(t)
	s.tickets[t.ID].Flow = flow
	return nil
}

func (s *TicketStore) UpdateFlow(_ context.Context, ticketID uuid.UUID, fs model.FlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return store.ErrNotFound
	}
	cp := copyTicket(t)
	cp.Flow = fs
	if fs.Context != nil {
		cp.Flow.Context = make(map[string]string, len(fs.Context))
		for k, v := range fs.Context {
			cp.Flow.Context[k] = v
		}
	}
	cp.Updated = time.Now()
	s.tickets[ticketID] = cp
	return nil
}

func (s *TicketStore) AddTag(_ context.Context, ticketID uuid.UUID, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return store.ErrNotFound
	}
	for _, existing := range t.Tags {
		if strings.EqualFold(existing, tag) {
			return nil
		}
	}
	t.Tags = append(t.Tags, tag)
	t.Updated = time.Now()
	return nil
}

func (s *TicketStore) RecentTags(_ context.Context, contactID uuid.UUID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recent []*model.Ticket
	for _, t := range s.tickets {
		if t.ContactID == contactID {
			recent = append(recent, t)
		}
	}
	sort.Slice(recent, func(i, j int) bool { return recent[i].Updated.After(recent[j].Updated) })
	if len(recent) > 5 {
		recent = recent[:5]
	}

	seen := make(map[string]bool)
	var out []string
	for _, t := range recent {
		for _, tag := range t.Tags {
			if !seen[tag] {
				seen[tag] = true
				out = append(out, tag)
			}
		}
	}
	return out, nil
}

// MessageStore is the in-memory store.MessageStore.
type MessageStore struct {
	mu       sync.RWMutex
	messages []*model.Message
}

func NewMessageStore() *MessageStore {
	return &MessageStore{}
}

func (s *MessageStore) Create(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.Must(uuid.NewV7())
	}
	if m.Created.IsZero() {
		m.Created = time.Now()
	}
	cp := *m
	s.messages = append(s.messages, &cp)
	return nil
}

// ByTicket returns the stored messages for a ticket, oldest first.
// Test helper, not part of store.MessageStore.
func (s *MessageStore) ByTicket(ticketID uuid.UUID) []*model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Message
	for _, m := range s.messages {
		if m.TicketID == ticketID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out
}

// FlowStore is the in-memory store.FlowStore.
type FlowStore struct {
	mu   sync.RWMutex
	defs map[uuid.UUID]*flow.Definition
}

func NewFlowStore() *FlowStore {
	return &FlowStore{defs: make(map[uuid.UUID]*flow.Definition)}
}

func (s *FlowStore) ActiveDefinitions(_ context.Context, tenantID uuid.UUID) ([]*flow.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*flow.Definition
	for _, d := range s.defs {
		if d.TenantID == tenantID && d.Active {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *FlowStore) Definition(_ context.Context, id uuid.UUID) (*flow.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.defs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return d, nil
}

func (s *FlowStore) Save(_ context.Context, d *flow.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.Must(uuid.NewV7())
	}
	s.defs[d.ID] = d
	return nil
}

func (s *FlowStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.defs, id)
	return nil
}

// CampaignStore is the in-memory store.CampaignStore.
type CampaignStore struct {
	mu        sync.RWMutex
	campaigns map[uuid.UUID]*model.Campaign
	shippings map[uuid.UUID]*model.CampaignShipping
}

func NewCampaignStore() *CampaignStore {
	return &CampaignStore{
		campaigns: make(map[uuid.UUID]*model.Campaign),
		shippings: make(map[uuid.UUID]*model.CampaignShipping),
	}
}

// AddCampaign seeds a campaign (test/editor helper).
func (s *CampaignStore) AddCampaign(c *model.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.Must(uuid.NewV7())
	}
	s.campaigns[c.ID] = c
}

// AddShipping seeds a shipping row (test/editor helper).
func (s *CampaignStore) AddShipping(sh *model.CampaignShipping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh.ID == uuid.Nil {
		sh.ID = uuid.Must(uuid.NewV7())
	}
	if sh.Created.IsZero() {
		sh.Created = time.Now()
	}
	s.shippings[sh.ID] = sh
}

func (s *CampaignStore) Due(_ context.Context, now time.Time) ([]*model.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Campaign
	for _, c := range s.campaigns {
		switch c.Status {
		case model.CampaignScheduled:
			if (c.ScheduledAt != nil && !c.ScheduledAt.After(now)) || c.CronExpr != "" {
				out = append(out, c)
			}
		case model.CampaignProcessing:
			// partially delivered batch, keep going
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *CampaignStore) Status(_ context.Context, id uuid.UUID) (model.CampaignStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return "", store.ErrNotFound
	}
	return c.Status, nil
}

func (s *CampaignStore) SetStatus(_ context.Context, id uuid.UUID, status model.CampaignStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Status = status
	c.Updated = time.Now()
	return nil
}

func (s *CampaignStore) BeginProcessing(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if c.Status != model.CampaignScheduled && c.Status != model.CampaignProcessing {
		return false, nil
	}
	c.Status = model.CampaignProcessing
	c.Updated = time.Now()
	return true, nil
}

func (s *CampaignStore) PendingShippings(_ context.Context, campaignID uuid.UUID, limit int) ([]*model.CampaignShipping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.CampaignShipping
	for _, sh := range s.shippings {
		if sh.CampaignID == campaignID && sh.Pending() {
			out = append(out, sh)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *CampaignStore) PendingCount(_ context.Context, campaignID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sh := range s.shippings {
		if sh.CampaignID == campaignID && sh.Pending() {
			n++
		}
	}
	return n, nil
}

func (s *CampaignStore) MarkDelivered(_ context.Context, shippingID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shippings[shippingID]
	if !ok {
		return store.ErrNotFound
	}
	sh.DeliveredAt = &at
	return nil
}

func (s *CampaignStore) MarkFailed(_ context.Context, shippingID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shippings[shippingID]
	if !ok {
		return store.ErrNotFound
	}
	sh.Failed = true
	return nil
}

// Shipping returns a shipping row by id (test helper).
func (s *CampaignStore) Shipping(id uuid.UUID) (*model.CampaignShipping, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shippings[id]
	if !ok {
		return nil, false
	}
	cp := *sh
	return &cp, true
}

// ConnectionStore is the in-memory store.ConnectionStore.
type ConnectionStore struct {
	mu          sync.RWMutex
	connections map[uuid.UUID]*model.Connection
}

func NewConnectionStore() *ConnectionStore {
	return &ConnectionStore{connections: make(map[uuid.UUID]*model.Connection)}
}

// Add seeds a connection row (test/dev helper).
func (s *ConnectionStore) Add(c *model.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.Must(uuid.NewV7())
	}
	s.connections[c.ID] = c
}

func (s *ConnectionStore) Get(_ context.Context, id uuid.UUID) (*model.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connections[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *ConnectionStore) ListEnabled(_ context.Context) ([]*model.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Connection
	for _, c := range s.connections {
		if c.Enabled {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *ConnectionStore) SetStatus(_ context.Context, id uuid.UUID, status model.ConnectionStatus, qrcode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Status = status
	if status == model.ConnectionQrcode {
		c.Qrcode = qrcode
	} else {
		c.Qrcode = ""
	}
	c.Updated = time.Now()
	return nil
}
