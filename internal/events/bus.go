// Package events carries the engine's outward-facing event stream:
// ticket/message/campaign notifications consumed by external UIs over
// an in-process bus and a WebSocket broadcast endpoint.
package events

import "sync"

// Event names emitted by the engine.
const (
	TicketUpdated    = "ticket.updated"
	MessageCreated   = "message.created"
	SessionUpdated   = "session.updated"
	CampaignProgress = "campaign.progress"
	CampaignFinished = "campaign.finished"
)

// Event is one broadcast payload.
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// Handler receives broadcast events.
type Handler func(Event)

// Publisher abstracts event broadcast and subscription so components
// decouple from the concrete bus.
type Publisher interface {
	Subscribe(id string, h Handler)
	Unsubscribe(id string)
	Broadcast(ev Event)
}

// Bus is an in-process fan-out publisher. Handlers run on the
// broadcaster's goroutine and must not block.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]Handler)}
}

// Subscribe registers a handler under an id, replacing any previous one.
func (b *Bus) Subscribe(id string, h Handler) {
	b.mu.Lock()
	b.subs[id] = h
	b.mu.Unlock()
}

// Unsubscribe removes a handler.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Broadcast delivers the event to every subscriber.
func (b *Bus) Broadcast(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
