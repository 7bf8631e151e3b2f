package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultConfidence = 1.0
	MinConfidence     = 0.0
	MaxConfidence     = 1.0

	DefaultCompetence = 1.0
	MinCompetence     = 0.0
	MaxCompetence     = 1.0

	DefaultTrend = 1.0
	MinTrend     = -1.0
	MaxTrend     = 1.0
)

var (
	ErrOutOfRange      = errors.New("metric value out of range")
	ErrInvalidPriority = errors.New("priority must be greater than zero")
	ErrInvalidNode     = errors.New("invalid assessment node")
)

// Holds are per-field manual override locks. A held field is skipped by
// automatic recomputation but still written by explicit evaluator requests.
type Holds struct {
	Assessment bool `json:"assessment" bson:"assessment"`
	Confidence bool `json:"confidence" bson:"confidence"`
	Competence bool `json:"competence" bson:"competence"`
	Trend      bool `json:"trend" bson:"trend"`
	Priority   bool `json:"priority" bson:"priority"`
}

// Assessment is the current value of one task, concept or intermediate concept.
// Values stored in the proxy are never mutated; nodes edit a private working
// copy and publish clones.
type Assessment struct {
	ID     uuid.UUID       `json:"id" bson:"_id"`
	NodeID int             `json:"nodeId" bson:"nodeId"`
	Name   string          `json:"name" bson:"name"`
	Kind   NodeKind        `json:"kind" bson:"kind"`
	Level  AssessmentLevel `json:"level" bson:"level"`
	State  NodeState       `json:"state" bson:"state"`

	Confidence float64 `json:"confidence" bson:"confidence"`
	Competence float64 `json:"competence" bson:"competence"`
	Trend      float64 `json:"trend" bson:"trend"`
	Priority   *int    `json:"priority,omitempty" bson:"priority,omitempty"`
	Holds      Holds   `json:"holds" bson:"holds"`

	Evaluator       string `json:"evaluator,omitempty" bson:"evaluator,omitempty"`
	ObserverComment string `json:"observerComment,omitempty" bson:"observerComment,omitempty"`
	ObserverMedia   string `json:"observerMedia,omitempty" bson:"observerMedia,omitempty"`

	Explanations    []string                   `json:"explanations,omitempty" bson:"explanations,omitempty"`
	TeamOrgEntities map[string]AssessmentLevel `json:"teamOrgEntities,omitempty" bson:"teamOrgEntities,omitempty"`

	// ChildIDs is set for tasks and intermediate concepts, in authoring order
	ChildIDs []uuid.UUID `json:"childIds,omitempty" bson:"childIds,omitempty"`

	ScenarioSupport           bool `json:"scenarioSupport" bson:"scenarioSupport"`
	ContainsObservedCondition bool `json:"containsObservedCondition" bson:"containsObservedCondition"`

	// Task only
	Difficulty       *float64 `json:"difficulty,omitempty" bson:"difficulty,omitempty"`
	DifficultyReason string   `json:"difficultyReason,omitempty" bson:"difficultyReason,omitempty"`
	Stress           *float64 `json:"stress,omitempty" bson:"stress,omitempty"`
	StressReason     string   `json:"stressReason,omitempty" bson:"stressReason,omitempty"`

	Time time.Time `json:"time" bson:"time"`
}

// NewAssessment creates an Unknown, unactivated assessment with default metrics
func NewAssessment(id uuid.UUID, nodeID int, name string, kind NodeKind) (*Assessment, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name can't be empty", ErrInvalidNode)
	}
	if nodeID < 0 {
		return nil, fmt.Errorf("%w: node id %d must not be negative", ErrInvalidNode, nodeID)
	}
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: session node id can't be nil", ErrInvalidNode)
	}
	return &Assessment{
		ID:              id,
		NodeID:          nodeID,
		Name:            name,
		Kind:            kind,
		Level:           Unknown,
		State:           NodeUnactivated,
		Confidence:      DefaultConfidence,
		Competence:      DefaultCompetence,
		Trend:           DefaultTrend,
		TeamOrgEntities: make(map[string]AssessmentLevel),
		Time:            time.Now(),
	}, nil
}

// UpdateLevel sets the level unless held. Reports whether the value was written.
func (a *Assessment) UpdateLevel(level AssessmentLevel, ignoreHold bool) bool {
	if a.Holds.Assessment && !ignoreHold {
		return false
	}
	a.Level = level
	a.Time = time.Now()
	return true
}

func (a *Assessment) UpdateConfidence(v float64, ignoreHold bool) error {
	if a.Holds.Confidence && !ignoreHold {
		return nil
	}
	if v < MinConfidence || v > MaxConfidence {
		return fmt.Errorf("%w: confidence %v not in [%v, %v]", ErrOutOfRange, v, MinConfidence, MaxConfidence)
	}
	a.Confidence = v
	return nil
}

func (a *Assessment) UpdateCompetence(v float64, ignoreHold bool) error {
	if a.Holds.Competence && !ignoreHold {
		return nil
	}
	if v < MinCompetence || v > MaxCompetence {
		return fmt.Errorf("%w: competence %v not in [%v, %v]", ErrOutOfRange, v, MinCompetence, MaxCompetence)
	}
	a.Competence = v
	return nil
}

func (a *Assessment) UpdateTrend(v float64, ignoreHold bool) error {
	if a.Holds.Trend && !ignoreHold {
		return nil
	}
	if v < MinTrend || v > MaxTrend {
		return fmt.Errorf("%w: trend %v not in [%v, %v]", ErrOutOfRange, v, MinTrend, MaxTrend)
	}
	a.Trend = v
	return nil
}

// UpdatePriority sets or clears (nil) the priority unless held
func (a *Assessment) UpdatePriority(p *int, ignoreHold bool) error {
	if a.Holds.Priority && !ignoreHold {
		return nil
	}
	if p != nil && *p < 1 {
		return ErrInvalidPriority
	}
	if p == nil {
		a.Priority = nil
		return nil
	}
	v := *p
	a.Priority = &v
	return nil
}

// SetExplanations replaces the explanation set unless the assessment is held
func (a *Assessment) SetExplanations(explanations []string) {
	if a.Holds.Assessment {
		return
	}
	a.Explanations = nil
	for _, e := range explanations {
		a.AddExplanation(e)
	}
}

// AddExplanation adds a non-blank explanation once
func (a *Assessment) AddExplanation(explanation string) {
	if a.Holds.Assessment || strings.TrimSpace(explanation) == "" {
		return
	}
	for _, e := range a.Explanations {
		if e == explanation {
			return
		}
	}
	a.Explanations = append(a.Explanations, explanation)
}

func (a *Assessment) AddTeamOrgEntry(member string, level AssessmentLevel) {
	if strings.TrimSpace(member) == "" {
		return
	}
	if a.TeamOrgEntities == nil {
		a.TeamOrgEntities = make(map[string]AssessmentLevel)
	}
	a.TeamOrgEntities[member] = level
}

func (a *Assessment) AddTeamOrgEntries(entries map[string]AssessmentLevel) {
	for member, level := range entries {
		a.AddTeamOrgEntry(member, level)
	}
}

// Clone returns a deep copy
func (a *Assessment) Clone() *Assessment {
	if a == nil {
		return nil
	}
	c := *a
	if a.Priority != nil {
		p := *a.Priority
		c.Priority = &p
	}
	if a.Difficulty != nil {
		d := *a.Difficulty
		c.Difficulty = &d
	}
	if a.Stress != nil {
		s := *a.Stress
		c.Stress = &s
	}
	if a.Explanations != nil {
		c.Explanations = append([]string(nil), a.Explanations...)
	}
	if a.ChildIDs != nil {
		c.ChildIDs = append([]uuid.UUID(nil), a.ChildIDs...)
	}
	if a.TeamOrgEntities != nil {
		c.TeamOrgEntities = make(map[string]AssessmentLevel, len(a.TeamOrgEntities))
		for k, v := range a.TeamOrgEntities {
			c.TeamOrgEntities[k] = v
		}
	}
	return &c
}

func (a *Assessment) String() string {
	return fmt.Sprintf("[%s %q id=%d level=%s state=%s confidence=%.2f]", a.Kind, a.Name, a.NodeID, a.Level, a.State, a.Confidence)
}
