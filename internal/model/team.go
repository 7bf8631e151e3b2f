package model

import (
	"strings"
	"sync"
)

// StartLocationTolerance is how close (meters) an entity must be to a team
// member's authored start location to be identified as that member
const StartLocationTolerance = 1.0

// TeamMember is one role in the team organization
type TeamMember struct {
	Name          string `json:"name" yaml:"name"`
	Marking       string `json:"marking,omitempty" yaml:"marking"`
	StartLocation *Point `json:"startLocation,omitempty" yaml:"startLocation"`
	Playable      bool   `json:"playable" yaml:"playable"`
	EntityID      string `json:"entityId,omitempty" yaml:"-"`
}

// Matches reports whether the entity state identifies this member
func (m TeamMember) Matches(es EntityState) bool {
	if m.EntityID != "" && m.EntityID == es.EntityID {
		return true
	}
	if m.Marking != "" && strings.EqualFold(m.Marking, es.Marking) {
		return true
	}
	if m.StartLocation != nil && m.StartLocation.Distance(es.Location) <= StartLocationTolerance {
		return true
	}
	return false
}

// TeamOrganization holds the session's roles and the entity ids resolved for
// them. Safe for concurrent use.
type TeamOrganization struct {
	mu      sync.RWMutex
	members []TeamMember
	learner string
}

func NewTeamOrganization(members ...TeamMember) *TeamOrganization {
	return &TeamOrganization{members: append([]TeamMember(nil), members...)}
}

func (t *TeamOrganization) Member(name string) (TeamMember, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, m := range t.members {
		if m.Name == name {
			return m, true
		}
	}
	return TeamMember{}, false
}

func (t *TeamOrganization) Members() []TeamMember {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]TeamMember(nil), t.members...)
}

func (t *TeamOrganization) Learner() (TeamMember, bool) {
	t.mu.RLock()
	name := t.learner
	t.mu.RUnlock()
	if name == "" {
		return TeamMember{}, false
	}
	return t.Member(name)
}

func (t *TeamOrganization) SetLearner(name string) {
	t.mu.Lock()
	t.learner = name
	t.mu.Unlock()
}

// FirstPlayable returns the first playable member in authoring order
func (t *TeamOrganization) FirstPlayable() (TeamMember, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, m := range t.members {
		if m.Playable {
			return m, true
		}
	}
	return TeamMember{}, false
}

// Resolve finds the member identified by the entity state and records the
// entity id against it. Entity ids can change mid-session (mounting and
// dismounting vehicles), so a matching member's id is overwritten.
func (t *TeamOrganization) Resolve(es EntityState) (TeamMember, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.members {
		if t.members[i].Matches(es) {
			if es.EntityID != "" {
				t.members[i].EntityID = es.EntityID
			}
			return t.members[i], true
		}
	}
	return TeamMember{}, false
}
