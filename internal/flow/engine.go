package flow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atendezap/atendezap/internal/model"
)

// ErrNodeMissing marks a dangling node reference. It silently
// terminates the flow; it is never surfaced to the end user.
var ErrNodeMissing = errors.New("flow: node missing")

// maxStepsPerPass bounds one execution pass so a cyclic graph of
// auto-advancing nodes parks the flow instead of looping forever.
const maxStepsPerPass = 64

// InvalidOptionNotice is sent when a choice node receives an unmatched
// reply. The flow stays parked on the same node.
const InvalidOptionNotice = "Opção inválida, por favor escolha uma das opções do menu."

const defaultTransferNotice = "Aguarde um momento, você será atendido por um de nossos agentes."

// DefinitionSource supplies flow definitions.
type DefinitionSource interface {
	ActiveDefinitions(ctx context.Context, tenantID uuid.UUID) ([]*Definition, error)
	Definition(ctx context.Context, id uuid.UUID) (*Definition, error)
}

// TicketWriter is the slice of ticket persistence the engine needs.
// UpdateFlow is the only writer of the flow sub-record in the system.
type TicketWriter interface {
	UpdateFlow(ctx context.Context, ticketID uuid.UUID, fs model.FlowState) error
	Update(ctx context.Context, t *model.Ticket) error
	AddTag(ctx context.Context, ticketID uuid.UUID, tag string) error
}

// Sender delivers a flow-authored text to the ticket's contact,
// humanized and persisted by the caller.
type Sender interface {
	Say(ctx context.Context, t *model.Ticket, c *model.Contact, text string) error
}

// Engine executes flow definitions against a ticket's stored state.
// Callers must serialize invocations per ticket; the engine itself does
// not lock.
type Engine struct {
	defs    DefinitionSource
	tickets TicketWriter
	send    Sender
	sleep   func(ctx context.Context, d time.Duration) error
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSleep replaces the wait-node suspension primitive (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) EngineOption {
	return func(e *Engine) { e.sleep = fn }
}

// NewEngine creates a flow engine.
func NewEngine(defs DefinitionSource, tickets TicketWriter, send Sender, opts ...EngineOption) *Engine {
	e := &Engine{
		defs:    defs,
		tickets: tickets,
		send:    send,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// HandleInbound routes one inbound body through the state machine and
// reports whether the flow consumed the message. Not-consumed lets the
// ingestion pipeline fall through to auto-reply and AI.
func (e *Engine) HandleInbound(ctx context.Context, t *model.Ticket, c *model.Contact, body string) (bool, error) {
	if t.Flow.Stopped || !t.Flow.Active() {
		// A stopped flow only restarts on a fresh trigger match; entry
		// installs a clean FlowState, which clears the stopped flag.
		return e.tryTrigger(ctx, t, c, body)
	}
	return e.resume(ctx, t, c, body)
}

// tryTrigger checks the body against all active definitions' trigger
// phrases and enters the matching flow.
func (e *Engine) tryTrigger(ctx context.Context, t *model.Ticket, c *model.Contact, body string) (bool, error) {
	defs, err := e.defs.ActiveDefinitions(ctx, t.TenantID)
	if err != nil {
		return false, err
	}

	for _, d := range defs {
		if !d.Matches(body) {
			continue
		}
		first, ok := d.First()
		if !ok {
			continue
		}

		defID := d.ID
		t.Flow = model.FlowState{
			DefinitionID: &defID,
			StepID:       first.ID,
			Context:      map[string]string{},
		}
		t.Status = model.TicketPending
		if err := e.tickets.Update(ctx, t); err != nil {
			return false, err
		}
		if err := e.tickets.UpdateFlow(ctx, t.ID, t.Flow); err != nil {
			return false, err
		}

		return true, e.run(ctx, d, t, c, first)
	}
	return false, nil
}

// resume loads the parked node and applies the inbound body to it.
func (e *Engine) resume(ctx context.Context, t *model.Ticket, c *model.Contact, body string) (bool, error) {
	d, err := e.defs.Definition(ctx, *t.Flow.DefinitionID)
	if err != nil {
		// Definition deleted underneath the ticket: terminate silently
		// and let the rest of the chain handle the message.
		return false, e.terminate(ctx, t)
	}

	node, ok := d.Node(t.Flow.StepID)
	if !ok {
		return false, e.terminate(ctx, t)
	}

	switch node.Kind {
	case KindChoice:
		opt, matched := node.MatchOption(body)
		if !matched {
			// consumed, no transition
			return true, e.send.Say(ctx, t, c, InvalidOptionNotice)
		}
		return true, e.advance(ctx, d, t, c, opt.NextID)

	case KindInput:
		if node.Variable != "" {
			if t.Flow.Context == nil {
				t.Flow.Context = map[string]string{}
			}
			t.Flow.Context[node.Variable] = body
			if err := e.tickets.UpdateFlow(ctx, t.ID, t.Flow); err != nil {
				return true, err
			}
		}
		return true, e.advance(ctx, d, t, c, node.NextID)

	default:
		return true, e.advance(ctx, d, t, c, node.NextID)
	}
}

// advance moves to the destination node and executes from there. An
// empty or dangling destination terminates the flow.
func (e *Engine) advance(ctx context.Context, d *Definition, t *model.Ticket, c *model.Contact, destID string) error {
	if destID == "" {
		return e.terminate(ctx, t)
	}
	dest, ok := d.Node(destID)
	if !ok {
		slog.Debug("flow edge dangles, terminating",
			"ticket", t.ID, "definition", d.ID, "dest", destID, "error", ErrNodeMissing)
		return e.terminate(ctx, t)
	}
	return e.run(ctx, d, t, c, dest)
}

// run executes auto-advancing nodes until one parks awaiting input,
// transfers, or terminates the chain. Iterative with a visited set and
// a step cap; exceeding either parks the flow where it stands.
func (e *Engine) run(ctx context.Context, d *Definition, t *model.Ticket, c *model.Contact, node *Node) error {
	visited := make(map[string]bool)

	for steps := 0; ; steps++ {
		if steps >= maxStepsPerPass || visited[node.ID] {
			slog.Warn("flow pass exceeded step budget, parking",
				"ticket", t.ID, "definition", d.ID, "node", node.ID, "steps", steps)
			return e.park(ctx, t, node.ID)
		}
		visited[node.ID] = true

		switch node.Kind {
		case KindTrigger, KindMessage:
			if node.Text != "" {
				if err := e.send.Say(ctx, t, c, Render(node.Text, c.Name, t.Flow.Context)); err != nil {
					return err
				}
			}
			if node.NextID == "" {
				return e.park(ctx, t, node.ID)
			}

		case KindInput:
			if node.Text != "" {
				if err := e.send.Say(ctx, t, c, Render(node.Text, c.Name, t.Flow.Context)); err != nil {
					return err
				}
			}
			return e.park(ctx, t, node.ID)

		case KindChoice:
			if err := e.send.Say(ctx, t, c, RenderMenu(node, c.Name, t.Flow.Context)); err != nil {
				return err
			}
			return e.park(ctx, t, node.ID)

		case KindTransfer:
			return e.transfer(ctx, t, c, node)

		case KindWait:
			if err := e.park(ctx, t, node.ID); err != nil {
				return err
			}
			if err := e.sleep(ctx, node.Delay()); err != nil {
				return err
			}
			if node.NextID == "" {
				return e.terminate(ctx, t)
			}

		case KindCondition:
			dest := node.NextIDFalse
			if evalCondition(node, t.Flow.Context) {
				dest = node.NextIDTrue
			}
			if dest == "" {
				return e.terminate(ctx, t)
			}
			next, ok := d.Node(dest)
			if !ok {
				return e.terminate(ctx, t)
			}
			node = next
			continue

		case KindTag:
			if node.Tag != "" {
				if err := e.tickets.AddTag(ctx, t.ID, node.Tag); err != nil {
					return err
				}
			}
			if node.NextID == "" {
				return e.park(ctx, t, node.ID)
			}

		default:
			slog.Warn("unknown flow node kind, terminating",
				"ticket", t.ID, "definition", d.ID, "node", node.ID, "kind", node.Kind)
			return e.terminate(ctx, t)
		}

		next, ok := d.Node(node.NextID)
		if !ok {
			return e.terminate(ctx, t)
		}
		node = next
	}
}

// transfer hands the ticket off to a queue: flow stops, status resets
// to pending for human pickup.
func (e *Engine) transfer(ctx context.Context, t *model.Ticket, c *model.Contact, node *Node) error {
	t.QueueID = node.QueueID
	t.Status = model.TicketPending
	if err := e.tickets.Update(ctx, t); err != nil {
		return err
	}

	t.Flow.Stopped = true
	t.Flow.DefinitionID = nil
	t.Flow.StepID = ""
	if err := e.tickets.UpdateFlow(ctx, t.ID, t.Flow); err != nil {
		return err
	}

	notice := node.Text
	if notice == "" {
		notice = defaultTransferNotice
	}
	return e.send.Say(ctx, t, c, Render(notice, c.Name, t.Flow.Context))
}

func (e *Engine) park(ctx context.Context, t *model.Ticket, nodeID string) error {
	t.Flow.StepID = nodeID
	return e.tickets.UpdateFlow(ctx, t.ID, t.Flow)
}

func (e *Engine) terminate(ctx context.Context, t *model.Ticket) error {
	t.Flow.DefinitionID = nil
	t.Flow.StepID = ""
	return e.tickets.UpdateFlow(ctx, t.ID, t.Flow)
}

func evalCondition(n *Node, vars map[string]string) bool {
	v, ok := vars[n.Variable]
	switch n.Operator {
	case OpExists:
		return ok && v != ""
	case OpContains:
		return ok && strings.Contains(strings.ToLower(v), strings.ToLower(n.Value))
	case OpEquals:
		return ok && strings.EqualFold(v, n.Value)
	default:
		return false
	}
}
