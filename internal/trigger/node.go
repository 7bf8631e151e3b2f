package trigger

import (
	"fmt"
	"strings"

	"perfassess/internal/model"
)

// ConceptAssessmentTrigger fires when the named concept reaches the goal level
type ConceptAssessmentTrigger struct {
	Base
	concept string
	goal    model.AssessmentLevel
}

func NewConceptAssessmentTrigger(name, concept string, goal model.AssessmentLevel, opts Options) (*ConceptAssessmentTrigger, error) {
	base, err := NewBase(name, opts)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(concept) == "" {
		return nil, fmt.Errorf("%w: %q needs a concept", ErrMissingTarget, name)
	}
	return &ConceptAssessmentTrigger{Base: base, concept: concept, goal: goal}, nil
}

func (t *ConceptAssessmentTrigger) ShouldActivateForConcept(c ConceptNode) bool {
	return c != nil && c.Name() == t.concept && c.Level() == t.goal
}

// ConceptEndedTrigger fires when the tracked concept finishes
type ConceptEndedTrigger struct {
	Base
	concept ConceptNode
}

// NewConceptEndedTrigger rejects concepts that could never finish
func NewConceptEndedTrigger(name string, concept ConceptNode, opts Options) (*ConceptEndedTrigger, error) {
	base, err := NewBase(name, opts)
	if err != nil {
		return nil, err
	}
	if concept == nil {
		return nil, fmt.Errorf("%w: %q", ErrNilNode, name)
	}
	if !concept.CanComplete() {
		return nil, fmt.Errorf("%w: trigger %q tracks %q", ErrConditionCannotComplete, name, concept.Name())
	}
	return &ConceptEndedTrigger{Base: base, concept: concept}, nil
}

func (t *ConceptEndedTrigger) ShouldActivateForConcept(c ConceptNode) bool {
	return c != nil && c.NodeID() == t.concept.NodeID() && c.IsFinished()
}

// TaskEndedTrigger fires when the task with the authored node id finishes.
// Tasks reference each other, so the id is resolved when events arrive.
type TaskEndedTrigger struct {
	Base
	taskID int
}

func NewTaskEndedTrigger(name string, taskNodeID int, opts Options) (*TaskEndedTrigger, error) {
	base, err := NewBase(name, opts)
	if err != nil {
		return nil, err
	}
	if taskNodeID < 0 {
		return nil, fmt.Errorf("%w: %q has task id %d", ErrMissingTarget, name, taskNodeID)
	}
	return &TaskEndedTrigger{Base: base, taskID: taskNodeID}, nil
}

func (t *TaskEndedTrigger) ShouldActivateForTask(ended, _ TaskNode) bool {
	return ended != nil && ended.NodeID() == t.taskID && ended.IsFinished()
}
