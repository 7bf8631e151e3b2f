package metric

import (
	"errors"

	"perfassess/internal/model"

	"github.com/google/uuid"
)

var ErrNilNode = errors.New("metric called without a node")

// AssessmentSource resolves the current value of a child node. The session
// proxy satisfies it.
type AssessmentSource interface {
	Get(id uuid.UUID) (*model.Assessment, error)
}

// ConditionResult is what a leaf concept's condition currently reports
type ConditionResult struct {
	Name           string
	Level          model.AssessmentLevel
	Explanation    string
	Weight         *float64
	TeamMemberRefs []string
	Violators      []string
}

// Node is the view of an assessment node the metrics work against. Working
// returns the node's private working copy; metrics mutate it in place and the
// node publishes a clone afterwards.
type Node interface {
	Name() string
	Kind() model.NodeKind
	Working() *model.Assessment
	// ChildIDs are the concept children of tasks and intermediate concepts
	ChildIDs() []uuid.UUID
	// Conditions is empty for anything but leaf concepts
	Conditions() []ConditionResult
}

// Args are authored per-child metric arguments
type Args struct {
	Weight *float64 `json:"weight,omitempty" yaml:"weight"`
}

type PerformanceMetric interface {
	SetPerformance(node Node, src AssessmentSource) (bool, error)
	SetChildArgs(args map[uuid.UUID]*Args)
}

type ConfidenceMetric interface {
	SetConfidence(node Node, src AssessmentSource) (bool, error)
}

type CompetenceMetric interface {
	SetCompetence(node Node, src AssessmentSource) (bool, error)
}

type TrendMetric interface {
	SetTrend(node Node, src AssessmentSource) (bool, error)
}

type PriorityMetric interface {
	SetPriority(node Node, src AssessmentSource) (bool, error)
}

type GradeMetric interface {
	UpdateGrade(node Node, grade *model.GradedScoreNode) error
}

// DifficultyMetric and StressMetric only apply to tasks
type DifficultyMetric interface {
	SetDifficulty(node Node, event model.StrategyAppliedEvent) (bool, error)
}

type StressMetric interface {
	SetStress(node Node, event model.StrategyAppliedEvent) (bool, error)
}

// children resolves the child assessments of a node, skipping none
func children(node Node, src AssessmentSource) ([]*model.Assessment, error) {
	ids := node.ChildIDs()
	out := make([]*model.Assessment, 0, len(ids))
	for _, id := range ids {
		a, err := src.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// worse reports whether a is a worse known level than b
func worse(a, b model.AssessmentLevel) bool {
	if !a.IsKnown() {
		return false
	}
	if !b.IsKnown() {
		return true
	}
	return a.Value() < b.Value()
}
