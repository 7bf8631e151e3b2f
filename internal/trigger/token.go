package trigger

import (
	"fmt"
	"strings"
	"sync/atomic"

	"perfassess/internal/model"
)

// LearnerActionTrigger fires when the learner performs the authored action
type LearnerActionTrigger struct {
	Base
	actionID string
}

func NewLearnerActionTrigger(name, actionID string, opts Options) (*LearnerActionTrigger, error) {
	base, err := NewBase(name, opts)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(actionID) == "" {
		return nil, fmt.Errorf("%w: %q needs an action", ErrMissingTarget, name)
	}
	return &LearnerActionTrigger{Base: base, actionID: actionID}, nil
}

func (t *LearnerActionTrigger) ShouldActivate(msg model.Message) bool {
	action, ok := msg.LearnerAction()
	return ok && action.ActionID == t.actionID
}

// StrategyAppliedTrigger fires when the named strategy is applied
type StrategyAppliedTrigger struct {
	Base
	strategy string
}

func NewStrategyAppliedTrigger(name, strategy string, opts Options) (*StrategyAppliedTrigger, error) {
	base, err := NewBase(name, opts)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(strategy) == "" {
		return nil, fmt.Errorf("%w: %q needs a strategy", ErrMissingTarget, name)
	}
	return &StrategyAppliedTrigger{Base: base, strategy: strategy}, nil
}

func (t *StrategyAppliedTrigger) ShouldActivateForStrategy(strategy string) bool {
	return strings.EqualFold(t.strategy, strategy)
}

// ManualTrigger only fires by observer request (evaluator state change)
type ManualTrigger struct {
	Base
}

func NewManualTrigger(name string, opts Options) (*ManualTrigger, error) {
	base, err := NewBase(name, opts)
	if err != nil {
		return nil, err
	}
	return &ManualTrigger{Base: base}, nil
}

// ScenarioStartTrigger fires once, for its owning task, when the scenario
// starts
type ScenarioStartTrigger struct {
	Base
	fired atomic.Bool
}

func NewScenarioStartTrigger(name string, opts Options) (*ScenarioStartTrigger, error) {
	base, err := NewBase(name, opts)
	if err != nil {
		return nil, err
	}
	return &ScenarioStartTrigger{Base: base}, nil
}

func (t *ScenarioStartTrigger) ShouldActivateForTask(ended, owner TaskNode) bool {
	if ended == nil || owner == nil || ended.NodeID() != owner.NodeID() {
		return false
	}
	return t.fired.CompareAndSwap(false, true)
}
