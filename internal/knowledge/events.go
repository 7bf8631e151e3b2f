package knowledge

import (
	"perfassess/internal/model"
)

// TriggerEvent is a node change queued for the session's event handler
type TriggerEvent interface {
	EventKind() string
}

type ConceptStartedEvent struct {
	Task    *Task
	Concept ConceptNode
}

type ConceptEndedEvent struct {
	Task    *Task
	Concept ConceptNode
}

type ConceptAssessmentEvent struct {
	Task    *Task
	Concept ConceptNode
}

type TaskStartedEvent struct {
	Task *Task
}

type TaskEndedEvent struct {
	Task *Task
}

// TaskAssessmentEvent carries the published task assessment and why it changed
type TaskAssessmentEvent struct {
	Task       *Task
	Assessment *model.Assessment
	Cause      model.UpdateCause
}

func (ConceptStartedEvent) EventKind() string    { return "concept_started" }
func (ConceptEndedEvent) EventKind() string      { return "concept_ended" }
func (ConceptAssessmentEvent) EventKind() string { return "concept_assessment" }
func (TaskStartedEvent) EventKind() string       { return "task_started" }
func (TaskEndedEvent) EventKind() string         { return "task_ended" }
func (TaskAssessmentEvent) EventKind() string    { return "task_assessment" }

// TaskListener receives task lifecycle and assessment changes. The session
// implements it by queueing TriggerEvents.
type TaskListener interface {
	TaskStarted(task *Task)
	TaskEnded(task *Task)
	TaskAssessmentUpdated(task *Task, assessment *model.Assessment, cause model.UpdateCause)
	ConceptStarted(task *Task, concept ConceptNode)
	ConceptEnded(task *Task, concept ConceptNode)
	ConceptAssessmentUpdated(task *Task, concept ConceptNode)
	// DomainActions asks for a fired trigger's feedback to be delivered
	DomainActions(task *Task, actions model.DomainActions)
	// FatalError ends the session
	FatalError(task *Task, reason string)
}

// ConceptListener is the parent of a concept (an intermediate concept or task)
type ConceptListener interface {
	ConceptAssessmentUpdated(concept ConceptNode, cause model.UpdateCause)
}

// ConditionListener is notified when a condition changes outside message
// handling (observer input, timers)
type ConditionListener interface {
	ConditionAssessmentUpdated(condition Condition)
}

// SurveyResultListener receives a presented survey's responses
type SurveyResultListener interface {
	HandleSurveyResults(resp model.SurveyResponse)
}

// SurveyPresenter shows a survey to the learner. It returns immediately; the
// responses arrive later through the listener.
type SurveyPresenter interface {
	PresentSurvey(nodeName, surveyName string, listener SurveyResultListener)
}
