package knowledge

import (
	"fmt"

	"perfassess/internal/model"
	"perfassess/internal/platform/logger"
	"perfassess/internal/proxy"

	"github.com/google/uuid"
)

// IntermediateConcept groups sub-concepts and aggregates their assessments
type IntermediateConcept struct {
	*node
	concepts []ConceptNode
	ids      []uuid.UUID
	parent   ConceptListener
}

func NewIntermediateConcept(nodeID int, name string, concepts []ConceptNode) (*IntermediateConcept, error) {
	n, err := newNode(nodeID, name, model.KindIntermediateConcept)
	if err != nil {
		return nil, err
	}
	if len(concepts) == 0 {
		return nil, fmt.Errorf("%w: intermediate concept %q has no sub-concepts", model.ErrInvalidNode, name)
	}
	ic := &IntermediateConcept{node: n, concepts: concepts}
	for _, c := range concepts {
		if c == nil {
			return nil, fmt.Errorf("%w: intermediate concept %q has a nil sub-concept", model.ErrInvalidNode, name)
		}
		ic.ids = append(ic.ids, c.ID())
		c.setParent(ic)
	}
	n.working.ChildIDs = append([]uuid.UUID(nil), ic.ids...)
	n.childIDs = func() []uuid.UUID { return ic.ids }
	return ic, nil
}

func (ic *IntermediateConcept) Concepts() []ConceptNode     { return ic.concepts }
func (ic *IntermediateConcept) setParent(p ConceptListener) { ic.parent = p }

func (ic *IntermediateConcept) attachTree(p *proxy.AssessmentProxy, log *logger.Logger) {
	for _, c := range ic.concepts {
		c.attachTree(p, log)
	}
	ic.attach(p, log)
}

func (ic *IntermediateConcept) IsInterested(mt model.MessageType) bool {
	for _, c := range ic.concepts {
		if c.IsInterested(mt) {
			return true
		}
	}
	return false
}

// CanComplete reports whether every sub-concept can complete
func (ic *IntermediateConcept) CanComplete() bool {
	for _, c := range ic.concepts {
		if !c.CanComplete() {
			return false
		}
	}
	return true
}

func (ic *IntermediateConcept) Start() {
	ic.mu.Lock()
	ic.active = true
	ic.finished = false
	ic.setStateLocked(model.NodeActive)
	ic.publishLocked()
	ic.mu.Unlock()

	for _, c := range ic.concepts {
		c.Start()
	}
}

func (ic *IntermediateConcept) Stop() {
	ic.mu.Lock()
	ic.active = false
	if !ic.finished {
		ic.setStateLocked(model.NodeDeactivated)
	}
	ic.publishLocked()
	ic.mu.Unlock()

	for _, c := range ic.concepts {
		if c.IsActive() {
			c.Stop()
		}
	}
}

func (ic *IntermediateConcept) Cleanup(reg *proxy.Registry) {
	for _, c := range ic.concepts {
		c.Cleanup(reg)
	}
	if reg != nil {
		reg.Unregister(ic.id)
	}
}

func (ic *IntermediateConcept) HandleMessage(msg model.Message) (changed, ended bool) {
	if !ic.IsActive() {
		return false, false
	}
	childChanged := false
	for _, c := range ic.concepts {
		if !c.IsActive() || !c.IsInterested(msg.Type) {
			continue
		}
		if ch, _ := c.HandleMessage(msg); ch {
			childChanged = true
		}
	}
	if childChanged {
		changed = ic.recompute(false) != nil
	}
	if ic.allFinished() {
		ended = ic.finish()
	}
	return changed, ended
}

func (ic *IntermediateConcept) allFinished() bool {
	for _, c := range ic.concepts {
		if !c.IsFinished() {
			return false
		}
	}
	return true
}

func (ic *IntermediateConcept) finish() bool {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if ic.finished {
		return false
	}
	ic.finished = true
	ic.active = false
	ic.setStateLocked(model.NodeFinished)
	ic.publishLocked()
	return true
}

func (ic *IntermediateConcept) notifyParent(c ConceptNode, cause model.UpdateCause) {
	if ic.parent != nil {
		ic.parent.ConceptAssessmentUpdated(c, cause)
	}
}

// ConceptAssessmentUpdated handles a sub-concept change outside message
// handling. The parent hears about the sub-concept first, then about this
// concept if its own assessment changed.
func (ic *IntermediateConcept) ConceptAssessmentUpdated(child ConceptNode, cause model.UpdateCause) {
	ic.ResetSurveyLevel()
	a := ic.recompute(false)
	ic.notifyParent(child, cause)
	if a != nil {
		ic.notifyParent(ic, model.CauseConceptAsyncUpdated)
	}
}

// HandleConversationAssessment applies to this concept and to every
// sub-concept. Reports whether any of them took the assessment.
func (ic *IntermediateConcept) HandleConversationAssessment(assessments []model.ConversationAssessment) bool {
	applied := false
	for _, c := range ic.concepts {
		if c.HandleConversationAssessment(assessments) {
			applied = true
		}
	}
	if ic.applyConversation(assessments) != nil {
		ic.notifyParent(ic, model.CauseConceptAsyncUpdated)
		applied = true
	}
	return applied
}

func (ic *IntermediateConcept) HandleSurveyResults(resp model.SurveyResponse) {
	if ic.applySurvey(resp) != nil {
		ic.notifyParent(ic, model.CauseSurveyAssessment)
	}
}

func (ic *IntermediateConcept) HandlePerformanceAssessmentRequest(presenter SurveyPresenter) bool {
	return ic.requestAssessment(presenter, ic)
}

func (ic *IntermediateConcept) UpdatePerformanceAssessmentMetrics(req model.EvaluatorUpdateRequest) error {
	if _, err := ic.applyEvaluatorUpdate(req); err != nil {
		return fmt.Errorf("evaluator update for %q: %w", ic.name, err)
	}
	ic.notifyParent(ic, model.CauseConceptEvaluatorUpdate)
	return nil
}

func (ic *IntermediateConcept) Score() *model.GradedScoreNode {
	score := &model.GradedScoreNode{Name: ic.name, NodeID: ic.nodeID}
	for _, c := range ic.concepts {
		score.Children = append(score.Children, c.Score())
	}
	return ic.gradeScore(score)
}
