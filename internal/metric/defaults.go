package metric

import (
	"fmt"

	"perfassess/internal/model"
)

// DefaultConfidence averages the children's confidence
type DefaultConfidence struct{}

func (DefaultConfidence) SetConfidence(node Node, src AssessmentSource) (bool, error) {
	return setMean(node, src, "confidence",
		func(a *model.Assessment) float64 { return a.Confidence },
		func(a *model.Assessment, v float64) error { return a.UpdateConfidence(v, false) })
}

// DefaultCompetence averages the children's competence
type DefaultCompetence struct{}

func (DefaultCompetence) SetCompetence(node Node, src AssessmentSource) (bool, error) {
	return setMean(node, src, "competence",
		func(a *model.Assessment) float64 { return a.Competence },
		func(a *model.Assessment, v float64) error { return a.UpdateCompetence(v, false) })
}

// DefaultTrend averages the children's trend
type DefaultTrend struct{}

func (DefaultTrend) SetTrend(node Node, src AssessmentSource) (bool, error) {
	return setMean(node, src, "trend",
		func(a *model.Assessment) float64 { return a.Trend },
		func(a *model.Assessment, v float64) error { return a.UpdateTrend(v, false) })
}

func setMean(node Node, src AssessmentSource, field string, get func(*model.Assessment) float64, set func(*model.Assessment, float64) error) (bool, error) {
	if node == nil {
		return false, ErrNilNode
	}
	kids, err := children(node, src)
	if err != nil {
		return false, err
	}
	if len(kids) == 0 {
		return false, nil
	}
	var sum float64
	for _, k := range kids {
		sum += get(k)
	}
	working := node.Working()
	before := get(working)
	if err := set(working, round2(sum/float64(len(kids)))); err != nil {
		return false, fmt.Errorf("%s for %q: %w", field, node.Name(), err)
	}
	return get(working) != before, nil
}

// DefaultPriority takes the most urgent (lowest) child priority. The authored
// priority stays when no child has one.
type DefaultPriority struct{}

func (DefaultPriority) SetPriority(node Node, src AssessmentSource) (bool, error) {
	if node == nil {
		return false, ErrNilNode
	}
	kids, err := children(node, src)
	if err != nil {
		return false, err
	}
	var best *int
	for _, k := range kids {
		if k.Priority != nil && (best == nil || *k.Priority < *best) {
			best = k.Priority
		}
	}
	if best == nil {
		return false, nil
	}
	working := node.Working()
	if working.Priority != nil && *working.Priority == *best {
		return false, nil
	}
	if err := working.UpdatePriority(best, false); err != nil {
		return false, err
	}
	return working.Priority != nil && *working.Priority == *best, nil
}

// DefaultGrade grades a score node with the worst known level below it
type DefaultGrade struct{}

func (DefaultGrade) UpdateGrade(node Node, grade *model.GradedScoreNode) error {
	if grade == nil {
		return fmt.Errorf("grade for %v: nil score node", node)
	}
	level := model.Unknown
	for _, c := range grade.Children {
		if worse(c.Grade, level) {
			level = c.Grade
		}
	}
	for _, r := range grade.Raw {
		if worse(r.Level, level) {
			level = r.Level
		}
	}
	grade.Grade = level
	return nil
}

// DefaultDifficulty adopts the difficulty of the applied strategy
type DefaultDifficulty struct{}

func (DefaultDifficulty) SetDifficulty(node Node, event model.StrategyAppliedEvent) (bool, error) {
	if node == nil {
		return false, ErrNilNode
	}
	working := node.Working()
	if event.Difficulty == nil || (working.Difficulty != nil && *working.Difficulty == *event.Difficulty) {
		return false, nil
	}
	v := *event.Difficulty
	working.Difficulty = &v
	working.DifficultyReason = event.StrategyName
	return true, nil
}

// DefaultStress adopts the stress of the applied strategy
type DefaultStress struct{}

func (DefaultStress) SetStress(node Node, event model.StrategyAppliedEvent) (bool, error) {
	if node == nil {
		return false, ErrNilNode
	}
	working := node.Working()
	if event.Stress == nil || (working.Stress != nil && *working.Stress == *event.Stress) {
		return false, nil
	}
	v := *event.Stress
	working.Stress = &v
	working.StressReason = event.StrategyName
	return true, nil
}
