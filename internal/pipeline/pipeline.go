// Package pipeline ingests inbound message batches for one session,
// resolves contact and ticket identity, and routes each message through
// the ordered decision chain: incident short-circuit → flow engine →
// first-contact auto-reply → AI fallback.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/atendezap/atendezap/internal/ai"
	"github.com/atendezap/atendezap/internal/events"
	"github.com/atendezap/atendezap/internal/flow"
	"github.com/atendezap/atendezap/internal/humanizer"
	"github.com/atendezap/atendezap/internal/model"
	"github.com/atendezap/atendezap/internal/store"
	"github.com/atendezap/atendezap/internal/wbot"
)

// defaultClosedReuseWindow is how long after closing a ticket a
// media-only message still continues it instead of opening a new one.
const defaultClosedReuseWindow = 10 * time.Minute

// Options tunes pipeline behavior.
type Options struct {
	AISystemPrompt    string
	ClosedReuseWindow time.Duration
}

// Pipeline drives the per-message decision chain. One instance serves
// all sessions; per-ticket keyed locks serialize flow mutation.
type Pipeline struct {
	stores    *store.Stores
	registry  *wbot.Registry
	human     *humanizer.Humanizer
	flow      *flow.Engine
	completer ai.Completer // nil = AI fallback disabled
	hoursMu   sync.RWMutex
	hours     Hours
	incidents IncidentSource // nil = no incident short-circuit
	bus       events.Publisher
	tracer    trace.Tracer
	opts      Options

	locks sync.Map // ticket id → *sync.Mutex
}

// New wires a pipeline. The flow engine is constructed here so the
// pipeline itself is its outbound sender.
func New(stores *store.Stores, registry *wbot.Registry, human *humanizer.Humanizer,
	completer ai.Completer, hours Hours, incidents IncidentSource,
	bus events.Publisher, opts Options) *Pipeline {

	if hours == nil {
		hours = AlwaysOpen{}
	}
	if opts.ClosedReuseWindow == 0 {
		opts.ClosedReuseWindow = defaultClosedReuseWindow
	}

	p := &Pipeline{
		stores:    stores,
		registry:  registry,
		human:     human,
		completer: completer,
		hours:     hours,
		incidents: incidents,
		bus:       bus,
		tracer:    otel.Tracer("pipeline"),
		opts:      opts,
	}
	p.flow = flow.NewEngine(stores.Flows, stores.Tickets, p)
	return p
}

// FlowEngine exposes the engine for tests and the editor pass-through.
func (p *Pipeline) FlowEngine() *flow.Engine { return p.flow }

// SetHours swaps the business-hours predicate (config hot reload).
func (p *Pipeline) SetHours(h Hours) {
	if h == nil {
		h = AlwaysOpen{}
	}
	p.hoursMu.Lock()
	p.hours = h
	p.hoursMu.Unlock()
}

func (p *Pipeline) outsideHours(now time.Time) bool {
	p.hoursMu.RLock()
	defer p.hoursMu.RUnlock()
	return p.hours.IsOutsideHours(now)
}

// IngestBatch processes one inbound batch for a session. Messages are
// handled strictly in delivery order; a failure in one message is
// logged and never aborts its siblings. Batches for different sessions
// may run concurrently; the bridge guarantees one batch at a time per
// session.
func (p *Pipeline) IngestBatch(ctx context.Context, sess *wbot.Session, batch []wbot.InboundMessage) {
	ctx, span := p.tracer.Start(ctx, "pipeline.IngestBatch",
		trace.WithAttributes(
			attribute.String("connection.id", sess.ConnectionID.String()),
			attribute.Int("batch.size", len(batch)),
		))
	defer span.End()

	for i := range batch {
		if err := p.processMessage(ctx, sess, &batch[i]); err != nil {
			slog.Error("message processing failed",
				"connection", sess.ConnectionID, "from", batch[i].From, "error", err)
		}
	}
}

func (p *Pipeline) processMessage(ctx context.Context, sess *wbot.Session, msg *wbot.InboundMessage) error {
	// 1. Skip self-sent and broadcast/system traffic.
	if msg.FromMe || isBroadcastAddress(msg.From) {
		return nil
	}

	// 2. Resolve the contact.
	contact, err := p.stores.Contacts.Upsert(ctx, sess.TenantID, msg.From, msg.FromName, msg.IsGroup)
	if err != nil {
		return err
	}

	// 3. Incident short-circuit: canned notice and nothing else, no
	// ticket, no flow, no AI.
	if p.incidents != nil {
		tags, err := p.stores.Tickets.RecentTags(ctx, contact.ID)
		if err != nil {
			slog.Warn("recent tags lookup failed", "contact", contact.ID, "error", err)
		}
		notice, active, err := p.incidents.ActiveNoticeFor(ctx, contact, tags)
		if err != nil {
			slog.Warn("incident lookup failed", "contact", contact.ID, "error", err)
		} else if active {
			return p.human.SimulateTyping(ctx, sess, contact.Address, notice)
		}
	}

	// 4. Resolve the ticket.
	ticket, isFirst, err := p.resolveTicket(ctx, sess, contact, msg)
	if err != nil {
		return err
	}

	// Flow state transitions for one ticket must never interleave.
	unlock := p.lockTicket(ticket.ID)
	defer unlock()

	// 5. Persist the message and update the ticket summary.
	if err := p.persistInbound(ctx, ticket, contact, msg); err != nil {
		return err
	}

	// 6. First-contact auto-reply (direct chats only, never when the
	// ticket is flow-controlled). Out-of-hours beats greeting.
	if isFirst && !msg.IsGroup && !ticket.Flow.Active() && !ticket.Flow.Stopped {
		if err := p.autoReply(ctx, ticket, contact); err != nil {
			slog.Warn("auto-reply failed", "ticket", ticket.ID, "error", err)
		}
		if ticket.Status == model.TicketClosed {
			return nil
		}
	}

	// 7. Flow engine.
	if ticket.IsOpen() && !ticket.Assigned() && !msg.IsGroup {
		consumed, err := p.flow.HandleInbound(ctx, ticket, contact, msg.Body)
		if err != nil {
			return err
		}
		if consumed || ticket.Status == model.TicketClosed {
			return nil
		}
	}

	// 8. AI fallback.
	if p.completer != nil && !ticket.Assigned() && !ticket.Flow.Active() &&
		!ticket.Flow.Stopped && !msg.IsGroup && msg.Body != "" {
		reply, err := p.completer.Complete(ctx, ai.Request{
			Prompt: msg.Body,
			System: p.opts.AISystemPrompt,
		})
		if err != nil {
			// Best-effort collaborator: swallow and move on.
			slog.Warn("ai completion failed", "ticket", ticket.ID,
				"provider", p.completer.Name(), "error", err)
			return nil
		}
		if reply != "" {
			return p.Say(ctx, ticket, contact, reply)
		}
	}

	return nil
}

// resolveTicket reuses the open/pending ticket for the pair, falls back
// to a recently-closed one for media-only continuations, and otherwise
// opens a new pending ticket. Reports whether this is the ticket's
// first inbound message.
func (p *Pipeline) resolveTicket(ctx context.Context, sess *wbot.Session, contact *model.Contact, msg *wbot.InboundMessage) (*model.Ticket, bool, error) {
	ticket, err := p.stores.Tickets.FindOpen(ctx, contact.ID, sess.ConnectionID)
	if err == nil {
		return ticket, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	if msg.Body == "" {
		closed, err := p.stores.Tickets.FindRecentlyClosed(ctx, contact.ID, sess.ConnectionID, p.opts.ClosedReuseWindow)
		if err == nil {
			closed.Status = model.TicketPending
			closed.Closed = nil
			if err := p.stores.Tickets.Update(ctx, closed); err != nil {
				return nil, false, err
			}
			return closed, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}
	}

	ticket = &model.Ticket{
		TenantID:     sess.TenantID,
		ContactID:    contact.ID,
		ConnectionID: sess.ConnectionID,
		Status:       model.TicketPending,
	}
	if err := p.stores.Tickets.Create(ctx, ticket); err != nil {
		return nil, false, err
	}
	return ticket, true, nil
}

// persistInbound stores the message, bumps the unread counter, and
// refreshes the last-message preview. Visible to external observers
// even when no automated reply follows.
func (p *Pipeline) persistInbound(ctx context.Context, ticket *model.Ticket, contact *model.Contact, msg *wbot.InboundMessage) error {
	m := &model.Message{
		TicketID:  ticket.ID,
		ContactID: contact.ID,
		Body:      msg.Body,
		MediaURL:  msg.MediaURL,
		MediaType: msg.MediaType,
	}
	if err := p.stores.Messages.Create(ctx, m); err != nil {
		return err
	}

	ticket.LastMessage = m.Preview()
	ticket.UnreadCount++
	if err := p.stores.Tickets.Update(ctx, ticket); err != nil {
		return err
	}

	p.broadcast(events.MessageCreated, m)
	p.broadcast(events.TicketUpdated, ticket)
	return nil
}

// autoReply sends the greeting or out-of-hours notice on a ticket's
// first message. The two are mutually exclusive; out-of-hours wins.
func (p *Pipeline) autoReply(ctx context.Context, ticket *model.Ticket, contact *model.Contact) error {
	conn, err := p.stores.Connections.Get(ctx, ticket.ConnectionID)
	if err != nil {
		return err
	}

	if p.outsideHours(time.Now()) {
		if conn.OutOfHoursMessage != "" {
			return p.Say(ctx, ticket, contact, conn.OutOfHoursMessage)
		}
		return nil
	}
	if conn.GreetingMessage != "" {
		return p.Say(ctx, ticket, contact, conn.GreetingMessage)
	}
	return nil
}

// Say is the single outbound path for engine-authored replies: the
// text goes through the humanizer, is persisted as an agent-authored
// message, and refreshes the ticket preview. Also the flow engine's
// Sender.
func (p *Pipeline) Say(ctx context.Context, ticket *model.Ticket, contact *model.Contact, text string) error {
	sess, err := p.registry.Get(ticket.ConnectionID)
	if err != nil {
		return err
	}

	if err := p.human.SimulateTyping(ctx, sess, contact.Address, text); err != nil {
		return err
	}

	m := &model.Message{
		TicketID:  ticket.ID,
		ContactID: contact.ID,
		Body:      text,
		FromMe:    true,
	}
	if err := p.stores.Messages.Create(ctx, m); err != nil {
		return err
	}

	ticket.LastMessage = m.Preview()
	if err := p.stores.Tickets.Update(ctx, ticket); err != nil {
		return err
	}

	p.broadcast(events.MessageCreated, m)
	p.broadcast(events.TicketUpdated, ticket)
	return nil
}

func (p *Pipeline) lockTicket(id uuid.UUID) func() {
	v, _ := p.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (p *Pipeline) broadcast(name string, payload any) {
	if p.bus != nil {
		p.bus.Broadcast(events.Event{Name: name, Payload: payload})
	}
}

// isBroadcastAddress filters status broadcasts and other system
// addresses that must never open tickets.
func isBroadcastAddress(addr string) bool {
	return addr == "" ||
		strings.HasSuffix(addr, "@broadcast") ||
		strings.HasSuffix(addr, "@newsletter")
}
