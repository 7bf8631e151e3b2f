package metric

import (
	"math"

	"perfassess/internal/model"

	"github.com/google/uuid"
)

const (
	aboveScore = 4.0
	atScore    = 2.0
	belowScore = 0.0

	// normalized score thresholds
	belowThreshold = 2.0
	aboveThreshold = 3.33

	minWeightToConsider = 0.01
)

// DefaultPerformance aggregates child levels by authored weight. When any
// child lacks a weight all children are weighted evenly.
type DefaultPerformance struct {
	childArgs map[uuid.UUID]*Args
}

func (m *DefaultPerformance) SetChildArgs(args map[uuid.UUID]*Args) {
	m.childArgs = args
}

func (m *DefaultPerformance) SetPerformance(node Node, src AssessmentSource) (bool, error) {
	if node == nil {
		return false, ErrNilNode
	}
	working := node.Working()

	var weighted []weightedLevel
	if node.Kind() == model.KindConcept {
		conditions := node.Conditions()
		working.SetExplanations(nil)
		for _, c := range conditions {
			weighted = append(weighted, weightedLevel{level: c.Level, weight: c.Weight})
			working.AddExplanation(c.Explanation)
		}
		working.AddTeamOrgEntries(teamOrgLevels(conditions))
	} else {
		kids, err := children(node, src)
		if err != nil {
			return false, err
		}
		for _, k := range kids {
			var w *float64
			if args := m.childArgs[k.ID]; args != nil {
				w = args.Weight
			}
			weighted = append(weighted, weightedLevel{level: k.Level, weight: w})
		}
	}

	working.UpdateLevel(aggregate(weighted), false)
	return true, nil
}

type weightedLevel struct {
	level  model.AssessmentLevel
	weight *float64
}

func aggregate(levels []weightedLevel) model.AssessmentLevel {
	if len(levels) == 0 {
		return model.Unknown
	}
	even := false
	for _, l := range levels {
		if l.weight == nil {
			even = true
			break
		}
	}

	var score, weightToConsider float64
	for _, l := range levels {
		w := 1.0 / float64(len(levels))
		if !even {
			w = *l.weight
		}
		weightToConsider += w
		switch l.level {
		case model.AboveExpectation:
			score += aboveScore * w
		case model.AtExpectation:
			score += atScore * w
		case model.BelowExpectation:
			score += belowScore * w
		default:
			weightToConsider -= w
		}
	}
	score = round2(score)
	weightToConsider = round2(weightToConsider)
	if weightToConsider < minWeightToConsider {
		return model.Unknown
	}

	normalized := score / weightToConsider
	switch {
	case normalized < belowThreshold:
		return model.BelowExpectation
	case normalized >= aboveThreshold:
		return model.AboveExpectation
	default:
		return model.AtExpectation
	}
}

// teamOrgLevels gives violators the condition level and referenced members the
// base level (Unknown once someone violated). Each member keeps the worst.
func teamOrgLevels(conditions []ConditionResult) map[string]model.AssessmentLevel {
	out := make(map[string]model.AssessmentLevel)
	put := func(member string, level model.AssessmentLevel) {
		cur, ok := out[member]
		if !ok || worse(level, cur) {
			out[member] = level
		}
	}
	for _, c := range conditions {
		violated := make(map[string]bool, len(c.Violators))
		for _, v := range c.Violators {
			violated[v] = true
			put(v, c.Level)
		}
		base := c.Level
		if len(c.Violators) > 0 {
			base = model.Unknown
		}
		for _, ref := range c.TeamMemberRefs {
			if !violated[ref] {
				put(ref, base)
			}
		}
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
