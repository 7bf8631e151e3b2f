package knowledge

import (
	"fmt"
	"strings"

	"perfassess/internal/model"
)

// LessonAssessment is an assessment channel besides metric computation
type LessonAssessment interface {
	LessonKind() string
}

const (
	LessonSurvey     = "survey"
	LessonConditions = "conditions"
)

// SurveyAssessment assesses a node from a learner's survey responses
type SurveyAssessment interface {
	LessonAssessment
	SurveyName() string
	Assess(resp model.SurveyResponse) model.AssessmentLevel
}

// ConditionAssessor is implemented by nodes that can re-assess their
// conditions on request
type ConditionAssessor interface {
	AssessConditions()
}

// ScoredSurveyAssessment maps a survey's total points onto a level. Totals at
// or above AboveAt are above expectation, at or above AtAt at expectation,
// anything else below.
type ScoredSurveyAssessment struct {
	Survey  string  `json:"survey" yaml:"survey"`
	AboveAt float64 `json:"aboveAt" yaml:"aboveAt"`
	AtAt    float64 `json:"atAt" yaml:"atAt"`
}

func NewScoredSurveyAssessment(survey string, aboveAt, atAt float64) (*ScoredSurveyAssessment, error) {
	if strings.TrimSpace(survey) == "" {
		return nil, fmt.Errorf("%w: survey name can't be empty", model.ErrInvalidNode)
	}
	if aboveAt < atAt {
		return nil, fmt.Errorf("%w: survey %q above threshold %v is lower than at threshold %v", model.ErrInvalidNode, survey, aboveAt, atAt)
	}
	return &ScoredSurveyAssessment{Survey: survey, AboveAt: aboveAt, AtAt: atAt}, nil
}

func (s *ScoredSurveyAssessment) LessonKind() string { return LessonSurvey }
func (s *ScoredSurveyAssessment) SurveyName() string { return s.Survey }

// Assess returns Unknown for responses to a different survey or with no answers
func (s *ScoredSurveyAssessment) Assess(resp model.SurveyResponse) model.AssessmentLevel {
	if resp.SurveyName != s.Survey || len(resp.Responses) == 0 {
		return model.Unknown
	}
	total := resp.TotalPoints()
	switch {
	case total >= s.AboveAt:
		return model.AboveExpectation
	case total >= s.AtAt:
		return model.AtExpectation
	default:
		return model.BelowExpectation
	}
}

// ConditionsLessonAssessment re-assesses a concept's conditions on request
type ConditionsLessonAssessment struct{}

func (ConditionsLessonAssessment) LessonKind() string { return LessonConditions }

func surveyExplanation(survey string, level model.AssessmentLevel) string {
	return fmt.Sprintf("The '%s' survey resulted in a %s assessment.", survey, level.DisplayName())
}
