package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/atendezap/atendezap/internal/model"
)

// IncidentSource is the externally-reported incident predicate. A
// non-empty notice short-circuits all processing for the message: the
// canned notice is sent and nothing else happens, not even ticket
// creation.
type IncidentSource interface {
	// ActiveNoticeFor matches an incident against the contact's recent
	// ticket tags and returns the standing notice text when one applies.
	ActiveNoticeFor(ctx context.Context, c *model.Contact, recentTags []string) (string, bool, error)
}

// Incident is one externally-declared outage tied to a ticket tag.
type Incident struct {
	Tag    string `json:"tag"`
	Notice string `json:"notice"`
	Active bool   `json:"active"`
}

// StaticIncidents implements IncidentSource over a mutable in-memory
// list, updated by the operational surface outside this core.
type StaticIncidents struct {
	mu        sync.RWMutex
	incidents []Incident
}

// NewStaticIncidents creates the source with an initial incident list.
func NewStaticIncidents(incidents []Incident) *StaticIncidents {
	return &StaticIncidents{incidents: incidents}
}

// Set replaces the incident list.
func (s *StaticIncidents) Set(incidents []Incident) {
	s.mu.Lock()
	s.incidents = incidents
	s.mu.Unlock()
}

// ActiveNoticeFor returns the first active incident whose tag appears
// among the contact's recent ticket tags.
func (s *StaticIncidents) ActiveNoticeFor(_ context.Context, _ *model.Contact, recentTags []string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inc := range s.incidents {
		if !inc.Active {
			continue
		}
		for _, tag := range recentTags {
			if strings.EqualFold(tag, inc.Tag) {
				return inc.Notice, true, nil
			}
		}
	}
	return "", false, nil
}
