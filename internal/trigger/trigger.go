package trigger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"perfassess/internal/model"
)

var (
	ErrNoName                  = errors.New("trigger name can't be empty")
	ErrInvalidDelay            = errors.New("trigger delay must be greater than zero")
	ErrInvalidRadius           = errors.New("trigger radius must be greater than zero")
	ErrNilNode                 = errors.New("trigger node can't be nil")
	ErrConditionCannotComplete = errors.New("concept has conditions that can never complete")
	ErrMissingTarget           = errors.New("trigger target can't be empty")
)

// ConceptNode is the view of a concept a trigger evaluates
type ConceptNode interface {
	Name() string
	NodeID() int
	IsFinished() bool
	Level() model.AssessmentLevel
	// CanComplete reports whether every descendant condition can complete
	CanComplete() bool
}

// TaskNode is the view of a task a trigger evaluates
type TaskNode interface {
	Name() string
	NodeID() int
	IsFinished() bool
}

// Trigger decides whether an event should start or end a node. Every
// ShouldActivate overload defaults to false; variants override the ones
// relevant to them.
type Trigger interface {
	Name() string
	// Delay is zero when the trigger acts immediately
	Delay() time.Duration
	DomainActions() model.DomainActions
	// ScenarioEnding triggers end the whole session rather than a task
	ScenarioEnding() bool

	ShouldActivate(msg model.Message) bool
	ShouldActivateForConcept(concept ConceptNode) bool
	ShouldActivateForTask(ended, owner TaskNode) bool
	ShouldActivateForStrategy(strategy string) bool
}

// Options are the optional authored parts of a trigger. Delay is in seconds
// and, when set, must be positive.
type Options struct {
	Delay         *float64            `json:"delay,omitempty" yaml:"delay"`
	DomainActions model.DomainActions `json:"domainActions" yaml:"domainActions"`
}

// Base carries the name, delay and domain actions. It never fires.
type Base struct {
	name    string
	delay   time.Duration
	actions model.DomainActions
}

func NewBase(name string, opts Options) (Base, error) {
	if strings.TrimSpace(name) == "" {
		return Base{}, ErrNoName
	}
	b := Base{name: name, actions: opts.DomainActions}
	if opts.Delay != nil {
		if *opts.Delay <= 0 {
			return Base{}, fmt.Errorf("%w: %q has delay %v", ErrInvalidDelay, name, *opts.Delay)
		}
		b.delay = time.Duration(*opts.Delay * float64(time.Second))
	}
	return b, nil
}

func (b *Base) Name() string                              { return b.name }
func (b *Base) Delay() time.Duration                      { return b.delay }
func (b *Base) DomainActions() model.DomainActions        { return b.actions }
func (b *Base) ScenarioEnding() bool                      { return false }
func (b *Base) ShouldActivate(model.Message) bool         { return false }
func (b *Base) ShouldActivateForConcept(ConceptNode) bool { return false }
func (b *Base) ShouldActivateForTask(_, _ TaskNode) bool  { return false }
func (b *Base) ShouldActivateForStrategy(string) bool     { return false }

func (b *Base) String() string {
	return fmt.Sprintf("[%s delay=%v]", b.name, b.delay)
}

// EndInfo describes the first trigger that fired
type EndInfo struct {
	Trigger       Trigger
	Delay         time.Duration
	DomainActions model.DomainActions
}

func newEndInfo(t Trigger) *EndInfo {
	return &EndInfo{Trigger: t, Delay: t.Delay(), DomainActions: t.DomainActions()}
}

// FirstMatch evaluates triggers in authoring order and returns the first that
// fires. A trigger that panics is reported through onPanic and skipped.
func FirstMatch(triggers []Trigger, fires func(Trigger) bool, onPanic func(Trigger, any)) *EndInfo {
	for _, t := range triggers {
		if evaluate(t, fires, onPanic) {
			return newEndInfo(t)
		}
	}
	return nil
}

func evaluate(t Trigger, fires func(Trigger) bool, onPanic func(Trigger, any)) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			if onPanic != nil {
				onPanic(t, r)
			}
		}
	}()
	return fires(t)
}
