package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"perfassess/internal/model"
	"perfassess/internal/trigger"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidDefinition = errors.New("invalid session definition")
	ErrUnsupportedFormat = errors.New("unsupported definition format")
)

// Definition is an authored assessment tree: the team, the tasks with their
// concepts and conditions, and the triggers that move them along
type Definition struct {
	Name        string             `json:"name" yaml:"name" validate:"required,max=256"`
	Team        []model.TeamMember `json:"team,omitempty" yaml:"team" validate:"dive"`
	Learner     string             `json:"learner,omitempty" yaml:"learner"`
	Tasks       []TaskDef          `json:"tasks" yaml:"tasks" validate:"required,min=1,dive"`
	EndTriggers []TriggerDef       `json:"endTriggers,omitempty" yaml:"endTriggers" validate:"dive"`
}

type TaskDef struct {
	// NodeID is assigned after the highest authored id when left out
	NodeID          *int         `json:"nodeId,omitempty" yaml:"nodeId" validate:"omitempty,gte=0"`
	Name            string       `json:"name" yaml:"name" validate:"required,max=256"`
	StartTriggers   []TriggerDef `json:"startTriggers,omitempty" yaml:"startTriggers" validate:"dive"`
	EndTriggers     []TriggerDef `json:"endTriggers" yaml:"endTriggers" validate:"required,min=1,dive"`
	Concepts        []ConceptDef `json:"concepts" yaml:"concepts" validate:"required,min=1,dive"`
	Priority        *int         `json:"priority,omitempty" yaml:"priority" validate:"omitempty,gte=1"`
	ScenarioSupport bool         `json:"scenarioSupport,omitempty" yaml:"scenarioSupport"`
	Difficulty      *float64     `json:"difficulty,omitempty" yaml:"difficulty"`
	Stress          *float64     `json:"stress,omitempty" yaml:"stress"`
	Survey          *SurveyDef   `json:"survey,omitempty" yaml:"survey"`
}

// ConceptDef is a leaf concept when it has conditions and an intermediate
// concept when it has sub-concepts
type ConceptDef struct {
	NodeID          *int           `json:"nodeId,omitempty" yaml:"nodeId" validate:"omitempty,gte=0"`
	Name            string         `json:"name" yaml:"name" validate:"required,max=256"`
	Conditions      []ConditionDef `json:"conditions,omitempty" yaml:"conditions" validate:"required_without=Concepts,excluded_with=Concepts,dive"`
	Concepts        []ConceptDef   `json:"concepts,omitempty" yaml:"concepts" validate:"dive"`
	Priority        *int           `json:"priority,omitempty" yaml:"priority" validate:"omitempty,gte=1"`
	Weight          *float64       `json:"weight,omitempty" yaml:"weight" validate:"omitempty,gte=0"`
	ScenarioSupport bool           `json:"scenarioSupport,omitempty" yaml:"scenarioSupport"`
	Survey          *SurveyDef     `json:"survey,omitempty" yaml:"survey"`

	// AssessConditions lets an assessment request re-assess the conditions
	AssessConditions bool `json:"assessConditions,omitempty" yaml:"assessConditions"`
}

const (
	ConditionObserved      = "observed"
	ConditionLearnerAction = "learner_action"
	ConditionReachLocation = "reach_location"
)

type ConditionDef struct {
	Kind   string       `json:"kind" yaml:"kind" validate:"required,oneof=observed learner_action reach_location"`
	Name   string       `json:"name" yaml:"name" validate:"required,max=256"`
	Action string       `json:"action,omitempty" yaml:"action" validate:"required_if=Kind learner_action"`
	Goal   *model.Point `json:"goal,omitempty" yaml:"goal" validate:"required_if=Kind reach_location"`
	Radius float64      `json:"radius,omitempty" yaml:"radius" validate:"required_if=Kind reach_location,gte=0"`
	Member string       `json:"member,omitempty" yaml:"member"`

	// TeamMembers are the roles the condition assesses
	TeamMembers []string `json:"teamMembers,omitempty" yaml:"teamMembers"`
	Weight      *float64 `json:"weight,omitempty" yaml:"weight" validate:"omitempty,gte=0"`
}

const (
	TriggerLocation          = "location"
	TriggerEntityLocation    = "entity_location"
	TriggerConceptAssessment = "concept_assessment"
	TriggerConceptEnded      = "concept_ended"
	TriggerTaskEnded         = "task_ended"
	TriggerLearnerAction     = "learner_action"
	TriggerStrategyApplied   = "strategy_applied"
	TriggerManual            = "manual"
	TriggerScenarioStart     = "scenario_start"
)

// TriggerDef names its target (task, concept, member) rather than
// referencing it, so triggers can point at nodes authored after them
type TriggerDef struct {
	Kind             string                `json:"kind" yaml:"kind" validate:"required,oneof=location entity_location concept_assessment concept_ended task_ended learner_action strategy_applied manual scenario_start"`
	Name             string                `json:"name" yaml:"name" validate:"required,max=256"`
	Goal             *model.Point          `json:"goal,omitempty" yaml:"goal" validate:"required_if=Kind location,required_if=Kind entity_location"`
	Radius           float64               `json:"radius,omitempty" yaml:"radius" validate:"gte=0"`
	RequiresMovement bool                  `json:"requiresMovement,omitempty" yaml:"requiresMovement"`
	Member           string                `json:"member,omitempty" yaml:"member" validate:"required_if=Kind entity_location"`
	Concept          string                `json:"concept,omitempty" yaml:"concept" validate:"required_if=Kind concept_assessment,required_if=Kind concept_ended"`
	Level            model.AssessmentLevel `json:"level,omitempty" yaml:"level" validate:"required_if=Kind concept_assessment"`
	Task             string                `json:"task,omitempty" yaml:"task" validate:"required_if=Kind task_ended"`
	Action           string                `json:"action,omitempty" yaml:"action" validate:"required_if=Kind learner_action"`
	Strategy         string                `json:"strategy,omitempty" yaml:"strategy" validate:"required_if=Kind strategy_applied"`

	trigger.Options `yaml:",inline"`
}

type SurveyDef struct {
	Name    string  `json:"name" yaml:"name" validate:"required"`
	AboveAt float64 `json:"aboveAt" yaml:"aboveAt"`
	AtAt    float64 `json:"atAt" yaml:"atAt" validate:"ltefield=AboveAt"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the authored fields. Cross references (task and concept
// names, node ids) are checked by Build.
func (d *Definition) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	return nil
}

// Decode parses a definition from JSON or YAML, picked by content type or
// file extension
func Decode(data []byte, format string) (*Definition, error) {
	var def Definition
	switch f := strings.ToLower(strings.TrimSpace(format)); {
	case f == "" || strings.Contains(f, "json"):
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
		}
	case strings.Contains(f, "yaml") || strings.Contains(f, "yml"):
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}
