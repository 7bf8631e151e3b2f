package trigger

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"perfassess/internal/model"
)

// LocationTrigger fires when an entity comes within radius of a goal point.
// With RequiresMovement the first sample only sets a baseline; the trigger can
// fire once a later sample has moved away from it.
type LocationTrigger struct {
	Base
	goal             model.Point
	radius           float64
	requiresMovement bool

	mu       sync.Mutex
	baseline *model.Point
	moved    bool
}

func NewLocationTrigger(name string, goal model.Point, radius float64, requiresMovement bool, opts Options) (*LocationTrigger, error) {
	base, err := NewBase(name, opts)
	if err != nil {
		return nil, err
	}
	if radius <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRadius, name)
	}
	return &LocationTrigger{Base: base, goal: goal, radius: radius, requiresMovement: requiresMovement}, nil
}

func (t *LocationTrigger) ShouldActivate(msg model.Message) bool {
	es, ok := msg.EntityState()
	if !ok {
		return false
	}
	if t.requiresMovement && !t.hasMoved(es.Location) {
		return false
	}
	return t.goal.Distance(es.Location) <= t.radius
}

func (t *LocationTrigger) hasMoved(loc model.Point) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.baseline == nil {
		t.baseline = &loc
		return false
	}
	if !t.moved && t.baseline.Distance(loc) > 0 {
		t.moved = true
	}
	return t.moved
}

// EntityLocationTrigger is a LocationTrigger scoped to one team member. The
// member's entity is resolved from the first matching entity state, by
// marking or by start location, and tracked from then on.
type EntityLocationTrigger struct {
	Base
	member string
	team   *model.TeamOrganization
	goal   model.Point
	radius float64

	tracked atomic.Pointer[string]
}

func NewEntityLocationTrigger(name, member string, team *model.TeamOrganization, goal model.Point, radius float64, opts Options) (*EntityLocationTrigger, error) {
	base, err := NewBase(name, opts)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(member) == "" {
		return nil, fmt.Errorf("%w: %q needs a team member", ErrMissingTarget, name)
	}
	if team == nil {
		return nil, fmt.Errorf("%w: %q needs a team organization", ErrNilNode, name)
	}
	if radius <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRadius, name)
	}
	return &EntityLocationTrigger{Base: base, member: member, team: team, goal: goal, radius: radius}, nil
}

// TrackedEntity returns the resolved entity id, empty until resolution
func (t *EntityLocationTrigger) TrackedEntity() string {
	if id := t.tracked.Load(); id != nil {
		return *id
	}
	return ""
}

func (t *EntityLocationTrigger) ShouldActivate(msg model.Message) bool {
	es, ok := msg.EntityState()
	if !ok || es.EntityID == "" {
		return false
	}
	if t.tracked.Load() == nil {
		m, ok := t.team.Member(t.member)
		if !ok || !m.Matches(es) {
			return false
		}
		id := es.EntityID
		t.tracked.CompareAndSwap(nil, &id)
	}
	if *t.tracked.Load() != es.EntityID {
		return false
	}
	return t.goal.Distance(es.Location) <= t.radius
}
