package knowledge

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"perfassess/internal/metric"
	"perfassess/internal/model"
)

var ErrNoSimulationInterest = errors.New("condition must declare its simulation interests")

// Condition is the leaf of the assessment tree. It evaluates messages and
// reports a level to its concept.
type Condition interface {
	Name() string
	Level() model.AssessmentLevel
	Explanation() string
	// CanComplete reports whether the condition is ever able to complete
	CanComplete() bool
	HasCompleted() bool
	// SimulationInterests must not be nil; an empty list means the condition
	// is driven by something other than messages
	SimulationInterests() []model.MessageType
	// HandleMessage reports whether the condition's assessment changed
	HandleMessage(msg model.Message) (bool, error)
	Start()
	Stop()
	Initialize(listener ConditionListener)
	Args() *metric.Args
	TeamMemberRefs() []string
	Violators() []string
	AssessCondition()
	Score() model.RawScore
}

// ConditionBase implements the bookkeeping every condition shares. Built-in
// conditions embed it and add their evaluation.
type ConditionBase struct {
	name      string
	interests []model.MessageType
	args      *metric.Args
	refs      []string

	mu          sync.Mutex
	listener    ConditionListener
	level       model.AssessmentLevel
	explanation string
	violators   []string
	completed   bool
	started     bool
}

// Init validates and sets the authored parts of a condition
func (c *ConditionBase) Init(name string, interests []model.MessageType, args *metric.Args, refs []string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: condition name can't be empty", model.ErrInvalidNode)
	}
	if interests == nil {
		return fmt.Errorf("%w: %q", ErrNoSimulationInterest, name)
	}
	c.name = name
	c.interests = interests
	c.args = args
	c.refs = refs
	c.level = model.Unknown
	return nil
}

func (c *ConditionBase) Name() string                             { return c.name }
func (c *ConditionBase) SimulationInterests() []model.MessageType { return c.interests }
func (c *ConditionBase) Args() *metric.Args                       { return c.args }
func (c *ConditionBase) TeamMemberRefs() []string                 { return c.refs }
func (c *ConditionBase) CanComplete() bool                        { return true }
func (c *ConditionBase) AssessCondition()                         {}

func (c *ConditionBase) Level() model.AssessmentLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

func (c *ConditionBase) Explanation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.explanation
}

func (c *ConditionBase) Violators() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.violators...)
}

func (c *ConditionBase) HasCompleted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

func (c *ConditionBase) Initialize(listener ConditionListener) {
	c.mu.Lock()
	c.listener = listener
	c.mu.Unlock()
}

func (c *ConditionBase) Start() {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
}

func (c *ConditionBase) Stop() {
	c.mu.Lock()
	c.started = false
	c.mu.Unlock()
}

func (c *ConditionBase) isStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *ConditionBase) Score() model.RawScore {
	c.mu.Lock()
	defer c.mu.Unlock()
	value := "incomplete"
	if c.completed {
		value = "complete"
	}
	return model.RawScore{Name: c.name, Value: value, Level: c.level}
}

// setAssessment stores a new result and reports whether anything changed
func (c *ConditionBase) setAssessment(level model.AssessmentLevel, explanation string, violators []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.level != level || c.explanation != explanation || len(c.violators) != len(violators)
	c.level = level
	c.explanation = explanation
	c.violators = violators
	return changed
}

func (c *ConditionBase) complete() {
	c.mu.Lock()
	c.completed = true
	c.mu.Unlock()
}

// notify reports an out-of-band change to the concept
func (c *ConditionBase) notify(self Condition) {
	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()
	if l != nil {
		l.ConditionAssessmentUpdated(self)
	}
}

// ObservedCondition is assessed by an observer. It never completes on its own.
type ObservedCondition struct {
	ConditionBase
}

func NewObservedCondition(name string, args *metric.Args, refs []string) (*ObservedCondition, error) {
	c := &ObservedCondition{}
	if err := c.Init(name, []model.MessageType{}, args, refs); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ObservedCondition) CanComplete() bool { return false }

func (c *ObservedCondition) HandleMessage(model.Message) (bool, error) { return false, nil }

// Observe records an observer's assessment and notifies the concept
func (c *ObservedCondition) Observe(level model.AssessmentLevel, explanation string, violators []string) {
	if c.setAssessment(level, explanation, violators) {
		c.notify(c)
	}
}

// LearnerActionCondition is met when the learner performs the authored action
type LearnerActionCondition struct {
	ConditionBase
	actionID string
}

func NewLearnerActionCondition(name, actionID string, args *metric.Args, refs []string) (*LearnerActionCondition, error) {
	if strings.TrimSpace(actionID) == "" {
		return nil, fmt.Errorf("%w: condition %q needs an action", model.ErrInvalidNode, name)
	}
	c := &LearnerActionCondition{actionID: actionID}
	if err := c.Init(name, []model.MessageType{model.MsgLearnerAction}, args, refs); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *LearnerActionCondition) HandleMessage(msg model.Message) (bool, error) {
	action, ok := msg.LearnerAction()
	if !ok || !c.isStarted() || action.ActionID != c.actionID || c.HasCompleted() {
		return false, nil
	}
	c.complete()
	return c.setAssessment(model.AtExpectation, fmt.Sprintf("Performed %s.", c.actionID), nil), nil
}

// ReachLocationCondition is met when the referenced team member (or any
// entity when none is referenced) comes within radius of the goal
type ReachLocationCondition struct {
	ConditionBase
	goal   model.Point
	radius float64
	team   *model.TeamOrganization
	member string
}

func NewReachLocationCondition(name string, goal model.Point, radius float64, team *model.TeamOrganization, member string, args *metric.Args) (*ReachLocationCondition, error) {
	if radius <= 0 {
		return nil, fmt.Errorf("%w: condition %q radius must be greater than zero", model.ErrInvalidNode, name)
	}
	var refs []string
	if member != "" {
		refs = []string{member}
	}
	c := &ReachLocationCondition{goal: goal, radius: radius, team: team, member: member}
	if err := c.Init(name, []model.MessageType{model.MsgEntityState}, args, refs); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ReachLocationCondition) HandleMessage(msg model.Message) (bool, error) {
	es, ok := msg.EntityState()
	if !ok || !c.isStarted() || c.HasCompleted() {
		return false, nil
	}
	if c.member != "" && c.team != nil {
		m, ok := c.team.Member(c.member)
		if !ok {
			return false, fmt.Errorf("condition %q references unknown team member %q", c.name, c.member)
		}
		if !m.Matches(es) {
			return false, nil
		}
	}
	if c.goal.Distance(es.Location) > c.radius {
		return false, nil
	}
	c.complete()
	return c.setAssessment(model.AboveExpectation, fmt.Sprintf("Reached the location for %s.", c.name), nil), nil
}
