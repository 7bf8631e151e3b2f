package trigger

import (
	"sync/atomic"
	"time"

	"perfassess/internal/model"
)

const (
	// ScenarioEndDelay gives the learner time to read the feedback before the
	// session ends
	ScenarioEndDelay = 5 * time.Second

	LearnerDiedFeedback = "Learner's character has died."
	AppStoppedFeedback  = "The training application stopped unexpectedly."
)

func feedback(text string) model.DomainActions {
	return model.DomainActions{Strategy: model.Strategy{Name: text, Activities: []string{text}}}
}

// latch is a fire-once trigger that ends the scenario
type latch struct {
	Base
	fired atomic.Bool
}

func latchBase(name, text string) Base {
	return Base{name: name, delay: ScenarioEndDelay, actions: feedback(text)}
}

func (l *latch) ScenarioEnding() bool { return true }

func (l *latch) fire() bool {
	return l.fired.CompareAndSwap(false, true)
}

// EntityDestroyedTrigger fires once the learner's entity is destroyed or its
// health reaches zero
type EntityDestroyedTrigger struct {
	latch
	team *model.TeamOrganization
}

func NewEntityDestroyedTrigger(name string, team *model.TeamOrganization) (*EntityDestroyedTrigger, error) {
	if name == "" {
		return nil, ErrNoName
	}
	if team == nil {
		return nil, ErrNilNode
	}
	return &EntityDestroyedTrigger{latch: latch{Base: latchBase(name, LearnerDiedFeedback)}, team: team}, nil
}

func (t *EntityDestroyedTrigger) ShouldActivate(msg model.Message) bool {
	es, ok := msg.EntityState()
	if !ok || (!es.Destroyed && es.Health > 0) {
		return false
	}
	learner, ok := t.team.Learner()
	if !ok {
		return false
	}
	if learner.EntityID != "" {
		if learner.EntityID != es.EntityID {
			return false
		}
	} else if !learner.Matches(es) {
		return false
	}
	return t.fire()
}

// AppStoppedTrigger fires once the training application stops without the
// session asking it to
type AppStoppedTrigger struct {
	latch
}

func NewAppStoppedTrigger(name string) (*AppStoppedTrigger, error) {
	if name == "" {
		return nil, ErrNoName
	}
	return &AppStoppedTrigger{latch: latch{Base: latchBase(name, AppStoppedFeedback)}}, nil
}

func (t *AppStoppedTrigger) ShouldActivate(msg model.Message) bool {
	state, ok := msg.TrainingAppState()
	if !ok || state.Running || state.Expected {
		return false
	}
	return t.fire()
}
