package knowledge

import (
	"fmt"

	"perfassess/internal/metric"
	"perfassess/internal/model"
	"perfassess/internal/platform/logger"
	"perfassess/internal/proxy"
	"perfassess/internal/trigger"

	"github.com/google/uuid"
)

// ConceptNode is a concept or an intermediate concept as seen by its parent
type ConceptNode interface {
	trigger.ConceptNode
	ID() uuid.UUID
	Kind() model.NodeKind
	IsActive() bool
	Assessment() *model.Assessment
	// Concepts is empty for leaf concepts
	Concepts() []ConceptNode

	Start()
	Stop()
	Cleanup(reg *proxy.Registry)
	IsInterested(mt model.MessageType) bool
	// HandleMessage reports whether the concept's assessment changed and
	// whether it finished
	HandleMessage(msg model.Message) (changed, ended bool)

	HandleConversationAssessment(assessments []model.ConversationAssessment) bool
	HandleSurveyResults(resp model.SurveyResponse)
	HandlePerformanceAssessmentRequest(presenter SurveyPresenter) bool
	UpdatePerformanceAssessmentMetrics(req model.EvaluatorUpdateRequest) error
	ResetSurveyLevel()
	Score() *model.GradedScoreNode

	setParent(parent ConceptListener)
	attachTree(p *proxy.AssessmentProxy, log *logger.Logger)
}

// Concept is assessed from its conditions
type Concept struct {
	*node
	conditions []Condition
	interests  map[model.MessageType]bool
	parent     ConceptListener
}

func NewConcept(nodeID int, name string, conditions []Condition) (*Concept, error) {
	n, err := newNode(nodeID, name, model.KindConcept)
	if err != nil {
		return nil, err
	}
	if len(conditions) == 0 {
		return nil, fmt.Errorf("%w: concept %q has no conditions", model.ErrInvalidNode, name)
	}
	c := &Concept{node: n, conditions: conditions, interests: make(map[model.MessageType]bool)}
	for _, cond := range conditions {
		if cond == nil {
			return nil, fmt.Errorf("%w: concept %q has a nil condition", model.ErrInvalidNode, name)
		}
		interests := cond.SimulationInterests()
		if interests == nil {
			return nil, fmt.Errorf("%w: %q in concept %q", ErrNoSimulationInterest, cond.Name(), name)
		}
		for _, mt := range interests {
			c.interests[mt] = true
		}
		if _, ok := cond.(*ObservedCondition); ok {
			n.working.ContainsObservedCondition = true
		}
		cond.Initialize(c)
	}
	n.conditions = c.conditionResults
	return c, nil
}

func (c *Concept) Conditions() []Condition     { return c.conditions }
func (c *Concept) Concepts() []ConceptNode     { return nil }
func (c *Concept) setParent(p ConceptListener) { c.parent = p }

func (c *Concept) attachTree(p *proxy.AssessmentProxy, log *logger.Logger) {
	c.attach(p, log)
}

func (c *Concept) IsInterested(mt model.MessageType) bool {
	return c.interests[mt]
}

// CanComplete reports whether every condition is able to complete
func (c *Concept) CanComplete() bool {
	for _, cond := range c.conditions {
		if !cond.CanComplete() {
			return false
		}
	}
	return true
}

func (c *Concept) conditionResults() []metric.ConditionResult {
	out := make([]metric.ConditionResult, 0, len(c.conditions))
	for _, cond := range c.conditions {
		r := metric.ConditionResult{
			Name:           cond.Name(),
			Level:          cond.Level(),
			Explanation:    cond.Explanation(),
			TeamMemberRefs: cond.TeamMemberRefs(),
			Violators:      cond.Violators(),
		}
		if args := cond.Args(); args != nil {
			r.Weight = args.Weight
		}
		out = append(out, r)
	}
	return out
}

func (c *Concept) Start() {
	c.mu.Lock()
	c.active = true
	c.finished = false
	c.setStateLocked(model.NodeActive)
	c.publishLocked()
	c.mu.Unlock()

	for _, cond := range c.conditions {
		cond.Start()
	}
}

func (c *Concept) Stop() {
	c.mu.Lock()
	c.active = false
	if !c.finished {
		c.setStateLocked(model.NodeDeactivated)
	}
	c.publishLocked()
	c.mu.Unlock()

	for _, cond := range c.conditions {
		cond.Stop()
	}
}

// Cleanup removes the concept from the registry
func (c *Concept) Cleanup(reg *proxy.Registry) {
	if reg != nil {
		reg.Unregister(c.id)
	}
}

// HandleMessage feeds the message to interested conditions, recomputes when
// any of them changed and finishes the concept once every condition completed
func (c *Concept) HandleMessage(msg model.Message) (changed, ended bool) {
	if !c.IsActive() {
		return false, false
	}
	conditionChanged := false
	for _, cond := range c.conditions {
		if !interested(cond, msg.Type) {
			continue
		}
		if c.handleCondition(cond, msg) {
			conditionChanged = true
		}
	}
	if conditionChanged {
		changed = c.updateAssessment(model.CauseConditionSyncUpdated) != nil
	}
	if c.allConditionsCompleted() {
		ended = c.finish()
	}
	return changed, ended
}

func interested(cond Condition, mt model.MessageType) bool {
	for _, i := range cond.SimulationInterests() {
		if i == mt {
			return true
		}
	}
	return false
}

func (c *Concept) handleCondition(cond Condition, msg model.Message) (changed bool) {
	defer func() {
		if r := recover(); r != nil {
			changed = false
			c.log.Error("condition panicked handling message", "condition", cond.Name(), "panic", r)
		}
	}()
	ch, err := cond.HandleMessage(msg)
	if err != nil {
		c.log.Error("condition failed handling message", "condition", cond.Name(), "error", err)
		return false
	}
	return ch
}

func (c *Concept) allConditionsCompleted() bool {
	for _, cond := range c.conditions {
		if !cond.HasCompleted() {
			return false
		}
	}
	return true
}

func (c *Concept) finish() bool {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return false
	}
	c.finished = true
	c.active = false
	c.setStateLocked(model.NodeFinished)
	c.publishLocked()
	c.mu.Unlock()

	for _, cond := range c.conditions {
		cond.Stop()
	}
	return true
}

// updateAssessment recomputes unless a survey assessment is in force
func (c *Concept) updateAssessment(cause model.UpdateCause) *model.Assessment {
	a := c.recompute(true)
	if a != nil {
		c.log.Debug("concept assessment updated", "cause", string(cause), "level", string(a.Level))
	}
	return a
}

func (c *Concept) notifyParent(cause model.UpdateCause) {
	if c.parent != nil {
		c.parent.ConceptAssessmentUpdated(c, cause)
	}
}

// ConditionAssessmentUpdated handles a condition change outside message
// handling
func (c *Concept) ConditionAssessmentUpdated(cond Condition) {
	c.ResetSurveyLevel()
	if c.updateAssessment(model.CauseConditionAsyncUpdated) != nil {
		c.notifyParent(model.CauseConditionAsyncUpdated)
	}
}

// AssessConditions asks every condition to re-assess itself
func (c *Concept) AssessConditions() {
	for _, cond := range c.conditions {
		cond.AssessCondition()
	}
	c.ConditionAssessmentUpdated(nil)
}

func (c *Concept) HandleConversationAssessment(assessments []model.ConversationAssessment) bool {
	if c.applyConversation(assessments) == nil {
		return false
	}
	c.notifyParent(model.CauseConceptAsyncUpdated)
	return true
}

func (c *Concept) HandleSurveyResults(resp model.SurveyResponse) {
	if c.applySurvey(resp) != nil {
		c.notifyParent(model.CauseSurveyAssessment)
	}
}

func (c *Concept) HandlePerformanceAssessmentRequest(presenter SurveyPresenter) bool {
	return c.requestAssessment(presenter, c)
}

// UpdatePerformanceAssessmentMetrics applies an observer override. Observed
// conditions take the overridden level so later recomputation keeps it.
func (c *Concept) UpdatePerformanceAssessmentMetrics(req model.EvaluatorUpdateRequest) error {
	if req.Performance != nil {
		for _, cond := range c.conditions {
			if observed, ok := cond.(*ObservedCondition); ok {
				observed.setAssessment(*req.Performance, req.Reason, nil)
			}
		}
	}
	if _, err := c.applyEvaluatorUpdate(req); err != nil {
		return fmt.Errorf("evaluator update for %q: %w", c.name, err)
	}
	c.notifyParent(model.CauseConceptEvaluatorUpdate)
	return nil
}

func (c *Concept) Score() *model.GradedScoreNode {
	score := &model.GradedScoreNode{Name: c.name, NodeID: c.nodeID}
	for _, cond := range c.conditions {
		score.Raw = append(score.Raw, cond.Score())
	}
	return c.gradeScore(score)
}
