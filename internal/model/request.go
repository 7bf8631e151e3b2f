package model

import "time"

// EvaluatorUpdateRequest is an observer-submitted override. Nil fields are
// left untouched.
type EvaluatorUpdateRequest struct {
	// NodeName targets a task or concept (case-insensitive); empty means the
	// whole session
	NodeName  string    `json:"nodeName"`
	Evaluator string    `json:"evaluator" validate:"max=256"`
	Reason    string    `json:"reason" validate:"max=4096"`
	MediaFile string    `json:"mediaFile,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Performance *AssessmentLevel `json:"performance,omitempty" validate:"omitempty,oneof=BelowExpectation AtExpectation AboveExpectation Unknown"`
	Confidence  *float64         `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	Competence  *float64         `json:"competence,omitempty" validate:"omitempty,gte=0,lte=1"`
	Trend       *float64         `json:"trend,omitempty" validate:"omitempty,gte=-1,lte=1"`
	Priority    *int             `json:"priority,omitempty" validate:"omitempty,gte=1"`

	AssessmentHold *bool `json:"assessmentHold,omitempty"`
	ConfidenceHold *bool `json:"confidenceHold,omitempty"`
	CompetenceHold *bool `json:"competenceHold,omitempty"`
	TrendHold      *bool `json:"trendHold,omitempty"`
	PriorityHold   *bool `json:"priorityHold,omitempty"`

	// TeamOrgEntities scopes the override to these team members
	TeamOrgEntities map[string]AssessmentLevel `json:"teamOrgEntities,omitempty" validate:"omitempty,dive,keys,required,endkeys,oneof=BelowExpectation AtExpectation AboveExpectation Unknown"`

	// State lets an observer manually start (ACTIVE) or end (FINISHED) a task
	State *NodeState `json:"state,omitempty" validate:"omitempty,oneof=ACTIVE FINISHED"`
}

// ConversationAssessment is one concept assessment produced by a conversation
// with the learner
type ConversationAssessment struct {
	Concept    string          `json:"concept" validate:"required"`
	Level      AssessmentLevel `json:"level" validate:"required,oneof=BelowExpectation AtExpectation AboveExpectation Unknown"`
	Confidence float64         `json:"confidence" validate:"gte=0,lte=1"`
}

// SurveyResponse is a learner's completed survey
type SurveyResponse struct {
	SurveyName string           `json:"surveyName" validate:"required"`
	Responses  []QuestionAnswer `json:"responses"`
}

type QuestionAnswer struct {
	QuestionKey string  `json:"questionKey"`
	Answer      string  `json:"answer"`
	Points      float64 `json:"points"`
}

// TotalPoints sums the points earned across all answers
func (r SurveyResponse) TotalPoints() float64 {
	var total float64
	for _, a := range r.Responses {
		total += a.Points
	}
	return total
}

// Strategy is a named bundle of activities (feedback, prompts) delivered to the learner
type Strategy struct {
	Name       string   `json:"name" yaml:"name" bson:"name"`
	Activities []string `json:"activities,omitempty" yaml:"activities" bson:"activities,omitempty"`
}

// DomainActions is what a trigger asks the session to show when it fires
type DomainActions struct {
	Strategy Strategy `json:"strategy" yaml:"strategy" bson:"strategy"`
}

// HasActivities reports whether there is anything to deliver
func (d DomainActions) HasActivities() bool {
	return len(d.Strategy.Activities) > 0
}

// StrategyAppliedEvent notifies that a pedagogical strategy was applied
type StrategyAppliedEvent struct {
	StrategyName string `json:"strategyName" validate:"required"`
	// TasksAppliedTo holds task session node ids; empty applies to every active task
	TasksAppliedTo []string `json:"tasksAppliedTo,omitempty"`
	Difficulty     *float64 `json:"difficulty,omitempty"`
	Stress         *float64 `json:"stress,omitempty"`
}
