// Package flow implements the persisted per-ticket conversation state
// machine: a directed graph of typed nodes executed against a ticket's
// stored flow state.
package flow

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NodeKind discriminates the node variants of a flow definition.
type NodeKind string

const (
	KindTrigger   NodeKind = "trigger"
	KindMessage   NodeKind = "message"
	KindInput     NodeKind = "input"
	KindChoice    NodeKind = "choice"
	KindCondition NodeKind = "condition"
	KindWait      NodeKind = "wait"
	KindTransfer  NodeKind = "transfer"
	KindTag       NodeKind = "tag"
)

// Condition operators.
const (
	OpEquals   = "equals"
	OpContains = "contains"
	OpExists   = "exists"
)

// Option is one selectable entry of a choice node.
type Option struct {
	Label  string `json:"label"`
	Value  string `json:"value,omitempty"`
	NextID string `json:"next_id,omitempty"`
}

// Node is one step of a flow definition. Kind selects which of the
// type-specific fields are meaningful; the executor switches
// exhaustively on it.
type Node struct {
	ID   string   `json:"id"`
	Kind NodeKind `json:"kind"`

	Text     string   `json:"text,omitempty"`     // trigger/message/input/choice/transfer
	Variable string   `json:"variable,omitempty"` // input: context key; condition: tested key
	Options  []Option `json:"options,omitempty"`  // choice

	Operator string `json:"operator,omitempty"` // condition: equals|contains|exists
	Value    string `json:"value,omitempty"`    // condition comparand

	DelaySeconds int `json:"delay_seconds,omitempty"` // wait

	QueueID *uuid.UUID `json:"queue_id,omitempty"` // transfer destination
	Tag     string     `json:"tag,omitempty"`      // tag name

	NextID      string `json:"next_id,omitempty"`
	NextIDTrue  string `json:"next_id_true,omitempty"`  // condition true branch
	NextIDFalse string `json:"next_id_false,omitempty"` // condition false branch
}

// Delay returns the wait node's configured duration.
func (n *Node) Delay() time.Duration {
	return time.Duration(n.DelaySeconds) * time.Second
}

// MatchOption resolves an inbound body against the choice options.
// Accepts the 1-based option number, the label, or the configured value,
// all case-insensitive.
func (n *Node) MatchOption(body string) (*Option, bool) {
	body = strings.TrimSpace(body)
	for i := range n.Options {
		opt := &n.Options[i]
		if body == strconv.Itoa(i+1) ||
			strings.EqualFold(body, opt.Label) ||
			(opt.Value != "" && strings.EqualFold(body, opt.Value)) {
			return opt, true
		}
	}
	return nil, false
}

// Definition is a named automated conversation script. Node ids are
// unique within a definition; edges may dangle (no write-time integrity
// check), the engine terminates a flow that follows a dangling edge.
type Definition struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Name     string    `json:"name"`
	Trigger  string    `json:"trigger"` // case-insensitive exact-match phrase
	Active   bool      `json:"active"`
	Nodes    []Node    `json:"nodes"`
}

// Node returns the node with the given id.
func (d *Definition) Node(id string) (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// First returns the definition's entry node: the trigger node when one
// exists, otherwise the first node in the list.
func (d *Definition) First() (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].Kind == KindTrigger {
			return &d.Nodes[i], true
		}
	}
	if len(d.Nodes) == 0 {
		return nil, false
	}
	return &d.Nodes[0], true
}

// Matches reports whether an inbound body triggers this definition.
func (d *Definition) Matches(body string) bool {
	return d.Active && d.Trigger != "" &&
		strings.EqualFold(strings.TrimSpace(body), d.Trigger)
}
