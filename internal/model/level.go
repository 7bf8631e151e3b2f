package model

import (
	"fmt"
	"strings"
)

// AssessmentLevel is the performance level of a node, condition or survey result
type AssessmentLevel string

const (
	BelowExpectation AssessmentLevel = "BelowExpectation"
	AtExpectation    AssessmentLevel = "AtExpectation"
	AboveExpectation AssessmentLevel = "AboveExpectation"
	Unknown          AssessmentLevel = "Unknown"
)

// DisplayName returns the human readable label used in explanations
func (l AssessmentLevel) DisplayName() string {
	switch l {
	case BelowExpectation:
		return "Below Expectation"
	case AtExpectation:
		return "At Expectation"
	case AboveExpectation:
		return "Above Expectation"
	default:
		return "Unknown"
	}
}

// Value orders levels from worst to best. Unknown sorts after every known level
// so that "worst of" comparisons ignore it.
func (l AssessmentLevel) Value() int {
	switch l {
	case BelowExpectation:
		return 1
	case AtExpectation:
		return 2
	case AboveExpectation:
		return 3
	default:
		return 4
	}
}

// IsKnown reports whether the level carries an actual assessment
func (l AssessmentLevel) IsKnown() bool {
	return l == BelowExpectation || l == AtExpectation || l == AboveExpectation
}

// ParseAssessmentLevel accepts the enum name, the display name or the legacy
// upper snake case form (ABOVE_EXPECTATION)
func ParseAssessmentLevel(s string) (AssessmentLevel, error) {
	norm := strings.ToLower(strings.NewReplacer("_", "", " ", "").Replace(s))
	switch norm {
	case "belowexpectation":
		return BelowExpectation, nil
	case "atexpectation":
		return AtExpectation, nil
	case "aboveexpectation":
		return AboveExpectation, nil
	case "unknown", "":
		return Unknown, nil
	}
	return Unknown, fmt.Errorf("unknown assessment level %q", s)
}

// NodeState is the lifecycle state reported for a node
type NodeState string

const (
	NodeUnactivated NodeState = "UNACTIVATED"
	NodeActive      NodeState = "ACTIVE"
	NodeDeactivated NodeState = "DEACTIVATED"
	NodeFinished    NodeState = "FINISHED"
)

// NodeKind discriminates the three assessment node variants
type NodeKind string

const (
	KindTask                NodeKind = "task"
	KindConcept             NodeKind = "concept"
	KindIntermediateConcept NodeKind = "intermediate_concept"
)

// UpdateCause records why a node recomputed or republished its assessment
type UpdateCause string

const (
	CauseConceptCreated         UpdateCause = "CONCEPT_CREATED"
	CauseConceptInitialized     UpdateCause = "CONCEPT_INITIALIZED"
	CauseConditionSyncUpdated   UpdateCause = "CONDITION_SYNC_UPDATED"
	CauseConditionAsyncUpdated  UpdateCause = "CONDITION_ASYNC_UPDATED"
	CauseConceptSyncUpdated     UpdateCause = "CONCEPT_SYNC_UPDATED"
	CauseConceptAsyncUpdated    UpdateCause = "CONCEPT_ASYNC_UPDATED"
	CauseConceptEvaluatorUpdate UpdateCause = "CONCEPT_EVALUATOR_UPDATE"
	CauseSurveyAssessment       UpdateCause = "SURVEY_ASSESSMENT"
	CauseTaskInitialized        UpdateCause = "TASK_INITIALIZED"
	CauseTaskActivated          UpdateCause = "TASK_ACTIVATED"
	CauseTaskDeactivated        UpdateCause = "TASK_DEACTIVATED"
	CauseTaskEvaluatorUpdate    UpdateCause = "TASK_EVALUATOR_UPDATE"
	CauseStrategyAppliesToTask  UpdateCause = "STRATEGY_APPLIES_TO_TASK"
)

// UpdateCauses lists every cause in declaration order
var UpdateCauses = []UpdateCause{
	CauseConceptCreated,
	CauseConceptInitialized,
	CauseConditionSyncUpdated,
	CauseConditionAsyncUpdated,
	CauseConceptSyncUpdated,
	CauseConceptAsyncUpdated,
	CauseConceptEvaluatorUpdate,
	CauseSurveyAssessment,
	CauseTaskInitialized,
	CauseTaskActivated,
	CauseTaskDeactivated,
	CauseTaskEvaluatorUpdate,
	CauseStrategyAppliesToTask,
}
