package knowledge

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"perfassess/internal/metric"
	"perfassess/internal/model"
	"perfassess/internal/observability"
	"perfassess/internal/platform/logger"
	"perfassess/internal/proxy"
	"perfassess/internal/trigger"

	"github.com/google/uuid"
)

var (
	ErrNoEndTriggers          = errors.New("task must have at least one end trigger")
	ErrDuplicateScenarioStart = errors.New("task can have at most one scenario start trigger")
	ErrNilTrigger             = errors.New("task trigger can't be nil")
)

const scenarioEndReason = "A scenario level end trigger was activated."

// Task is the root of an assessment tree. Start and end triggers decide when
// it is active; its concepts only see messages while it is.
type Task struct {
	*node
	concepts      []ConceptNode
	ids           []uuid.UUID
	startTriggers []trigger.Trigger
	endTriggers   []trigger.Trigger
	listener      TaskListener

	difficulty metric.DifficultyMetric
	stress     metric.StressMetric

	// handleMu serializes message handling with timer driven transitions
	handleMu sync.Mutex

	timerMu    sync.Mutex
	startTimer *time.Timer
	endTimer   *time.Timer
}

func NewTask(nodeID int, name string, startTriggers, endTriggers []trigger.Trigger, concepts []ConceptNode) (*Task, error) {
	n, err := newNode(nodeID, name, model.KindTask)
	if err != nil {
		return nil, err
	}
	if len(endTriggers) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoEndTriggers, name)
	}
	scenarioStarts := 0
	for _, tr := range startTriggers {
		if tr == nil {
			return nil, fmt.Errorf("%w: start trigger of %q", ErrNilTrigger, name)
		}
		if _, ok := tr.(*trigger.ScenarioStartTrigger); ok {
			scenarioStarts++
		}
	}
	if scenarioStarts > 1 {
		return nil, fmt.Errorf("%w: %q has %d", ErrDuplicateScenarioStart, name, scenarioStarts)
	}
	for _, tr := range endTriggers {
		if tr == nil {
			return nil, fmt.Errorf("%w: end trigger of %q", ErrNilTrigger, name)
		}
	}

	t := &Task{
		node:          n,
		concepts:      concepts,
		startTriggers: startTriggers,
		endTriggers:   endTriggers,
		listener:      nopTaskListener{},
	}
	for _, c := range concepts {
		if c == nil {
			return nil, fmt.Errorf("%w: task %q has a nil concept", model.ErrInvalidNode, name)
		}
		t.ids = append(t.ids, c.ID())
		if c.Assessment().ContainsObservedCondition {
			n.working.ContainsObservedCondition = true
		}
		c.setParent(t)
	}
	n.working.ChildIDs = append([]uuid.UUID(nil), t.ids...)
	n.childIDs = func() []uuid.UUID { return t.ids }
	return t, nil
}

func (t *Task) Concepts() []ConceptNode          { return t.concepts }
func (t *Task) StartTriggers() []trigger.Trigger { return t.startTriggers }
func (t *Task) EndTriggers() []trigger.Trigger   { return t.endTriggers }
func (t *Task) SetListener(l TaskListener)       { t.listener = l }
func (t *Task) String() string                   { return fmt.Sprintf("[Task %d %s]", t.nodeID, t.name) }

func (t *Task) difficultyMetric() metric.DifficultyMetric {
	if t.difficulty == nil {
		t.difficulty = metric.DefaultDifficulty{}
	}
	return t.difficulty
}

func (t *Task) stressMetric() metric.StressMetric {
	if t.stress == nil {
		t.stress = metric.DefaultStress{}
	}
	return t.stress
}

// AddEndTrigger appends a trigger evaluated after the authored ones
func (t *Task) AddEndTrigger(tr trigger.Trigger) error {
	if tr == nil {
		return fmt.Errorf("%w: end trigger of %q", ErrNilTrigger, t.name)
	}
	t.endTriggers = append(t.endTriggers, tr)
	return nil
}

func (t *Task) SetDifficultyMetric(m metric.DifficultyMetric) error {
	if m == nil {
		return fmt.Errorf("%w: difficulty for %q", ErrNilMetric, t.name)
	}
	t.difficulty = m
	return nil
}

func (t *Task) SetStressMetric(m metric.StressMetric) error {
	if m == nil {
		return fmt.Errorf("%w: stress for %q", ErrNilMetric, t.name)
	}
	t.stress = m
	return nil
}

// SetInitialLoad sets the authored difficulty and stress
func (t *Task) SetInitialLoad(difficulty, stress *float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.working.Difficulty = difficulty
	t.working.Stress = stress
}

// Attach binds the task and its concepts to a session proxy and publishes
// their initial assessments
func (t *Task) Attach(p *proxy.AssessmentProxy, log *logger.Logger) {
	t.attachTree(p, log)
}

func (t *Task) attachTree(p *proxy.AssessmentProxy, log *logger.Logger) {
	for _, c := range t.concepts {
		c.attachTree(p, log)
	}
	t.attach(p, log)
}

func (t *Task) triggerPanicked(tr trigger.Trigger, r any) {
	t.log.Error("trigger panicked", "trigger", tr.Name(), "panic", r)
}

func (t *Task) shouldStart(fires func(trigger.Trigger) bool) *trigger.EndInfo {
	return trigger.FirstMatch(t.startTriggers, fires, t.triggerPanicked)
}

func (t *Task) shouldEnd(fires func(trigger.Trigger) bool) *trigger.EndInfo {
	return trigger.FirstMatch(t.endTriggers, fires, t.triggerPanicked)
}

// Start activates the task right away when it has no start triggers,
// otherwise when one of them is satisfied by the task itself
func (t *Task) Start() {
	if len(t.startTriggers) == 0 {
		t.log.Info("starting task without start triggers")
		t.activate()
		return
	}
	if info := t.shouldStart(func(tr trigger.Trigger) bool { return tr.ShouldActivateForTask(t, t) }); info != nil {
		t.handleStart(info)
	}
}

// activate moves the task to ACTIVE and starts its concepts. A finished
// task may be activated again.
func (t *Task) activate() {
	t.stopTimer(&t.startTimer)

	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		return
	}
	t.active = true
	t.finished = false
	t.setStateLocked(model.NodeActive)
	t.publishLocked()
	t.mu.Unlock()

	t.log.Info("task activated")
	t.listener.TaskStarted(t)
	for _, c := range t.concepts {
		c.Start()
		t.listener.ConceptStarted(t, c)
	}
	t.updateAssessment(model.CauseTaskActivated)
}

// updateAssessment recomputes the task and always reports the current value
// to the listener
func (t *Task) updateAssessment(cause model.UpdateCause) {
	a := t.recompute(true)
	if a == nil {
		a = t.Assessment()
	}
	t.listener.TaskAssessmentUpdated(t, a, cause)
}

func (t *Task) handleStart(info *trigger.EndInfo) {
	observability.TriggersFired.WithLabelValues("start").Inc()
	if info.Delay > 0 {
		t.log.Info("task starting after delay", "trigger", info.Trigger.Name(), "delay", info.Delay.String())
		t.schedule(&t.startTimer, info.Delay, func() {
			t.deliver(info.DomainActions)
			t.activate()
		})
		return
	}
	t.log.Info("task starting", "trigger", info.Trigger.Name())
	t.deliver(info.DomainActions)
	t.activate()
}

func (t *Task) handleEnd(info *trigger.EndInfo) {
	if !t.IsActive() {
		return
	}
	role := "end"
	if info.Trigger.ScenarioEnding() {
		role = "scenario_end"
	}
	observability.TriggersFired.WithLabelValues(role).Inc()
	t.deliver(info.DomainActions)

	if info.Delay <= 0 {
		t.end(info.Trigger)
		return
	}
	t.log.Info("task ending after delay", "trigger", info.Trigger.Name(), "delay", info.Delay.String())
	t.schedule(&t.endTimer, info.Delay, func() { t.end(info.Trigger) })
}

func (t *Task) end(tr trigger.Trigger) {
	if tr.ScenarioEnding() {
		t.mu.Lock()
		t.finished = true
		t.mu.Unlock()
		t.listener.FatalError(t, fmt.Sprintf("%s The task named %s fired %s.", scenarioEndReason, t.name, tr.Name()))
		return
	}
	t.unload()
}

func (t *Task) deliver(actions model.DomainActions) {
	if actions.HasActivities() {
		t.listener.DomainActions(t, actions)
	}
}

func (t *Task) schedule(slot **time.Timer, d time.Duration, fn func()) {
	t.timerMu.Lock()
	defer t.timerMu.Unlock()
	if *slot != nil {
		(*slot).Stop()
	}
	*slot = time.AfterFunc(d, func() {
		t.handleMu.Lock()
		defer t.handleMu.Unlock()
		fn()
	})
}

func (t *Task) stopTimer(slot **time.Timer) {
	t.timerMu.Lock()
	defer t.timerMu.Unlock()
	if *slot != nil {
		(*slot).Stop()
		*slot = nil
	}
}

// unload finishes the task, stops its concepts and cancels pending timers
func (t *Task) unload() {
	t.stopTimer(&t.startTimer)
	t.stopTimer(&t.endTimer)

	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.finished = true
	t.setStateLocked(model.NodeFinished)
	t.publishLocked()
	t.mu.Unlock()

	for _, c := range t.concepts {
		if c.IsActive() {
			c.Stop()
		}
	}
	t.log.Info("task deactivated")
	t.listener.TaskEnded(t)
}

// HandleMessage gives the message to the start triggers when inactive and to
// the interested concepts when active. Reports whether any assessment changed.
func (t *Task) HandleMessage(msg model.Message) bool {
	t.handleMu.Lock()
	defer t.handleMu.Unlock()

	if !t.IsActive() {
		info := t.shouldStart(func(tr trigger.Trigger) bool { return tr.ShouldActivate(msg) })
		if info == nil {
			return false
		}
		t.handleStart(info)
	}
	if !t.IsActive() || t.IsFinished() {
		return false
	}

	var updated, ended []ConceptNode
	var endInfos []*trigger.EndInfo
	for _, c := range t.concepts {
		if !c.IsActive() || !c.IsInterested(msg.Type) {
			continue
		}
		changed, finished := c.HandleMessage(msg)
		if finished {
			ended = append(ended, c)
		}
		if !changed && !finished {
			continue
		}
		if changed {
			t.ResetSurveyLevel()
			updated = append(updated, c)
		}
		if info := t.shouldEnd(func(tr trigger.Trigger) bool { return tr.ShouldActivateForConcept(c) }); info != nil {
			endInfos = append(endInfos, info)
		}
	}

	if len(ended) > 0 && t.allConceptsFinished() {
		t.unload()
	} else if info := t.shouldEnd(func(tr trigger.Trigger) bool { return tr.ShouldActivate(msg) }); info != nil {
		endInfos = append(endInfos, info)
	}
	for _, info := range endInfos {
		t.handleEnd(info)
	}

	for _, c := range ended {
		t.listener.ConceptEnded(t, c)
	}
	for _, c := range updated {
		t.listener.ConceptAssessmentUpdated(t, c)
	}
	if len(updated) == 0 {
		return len(ended) > 0
	}
	t.updateAssessment(model.CauseConceptSyncUpdated)
	return true
}

func (t *Task) allConceptsFinished() bool {
	for _, c := range t.concepts {
		if !c.IsFinished() {
			return false
		}
	}
	return true
}

func (t *Task) isDirectChild(c ConceptNode) bool {
	for _, child := range t.concepts {
		if child == c {
			return true
		}
	}
	return false
}

// ConceptAssessmentUpdated handles a concept change outside message handling.
// Only direct children cause the task to recompute; every change is checked
// against the triggers.
func (t *Task) ConceptAssessmentUpdated(c ConceptNode, cause model.UpdateCause) {
	t.ResetSurveyLevel()
	if t.isDirectChild(c) {
		t.updateAssessment(model.CauseConceptAsyncUpdated)
	}
	t.ConceptUpdatedNotification(c)
	t.listener.ConceptAssessmentUpdated(t, c)
}

// ConceptUpdatedNotification checks a changed or ended concept against the
// triggers. Concepts of other tasks are passed in by the session.
func (t *Task) ConceptUpdatedNotification(c ConceptNode) {
	switch {
	case t.IsActive() && t.allConceptsFinished():
		t.log.Debug("all concepts finished")
		t.unload()
	case !t.IsActive():
		if info := t.shouldStart(func(tr trigger.Trigger) bool { return tr.ShouldActivateForConcept(c) }); info != nil {
			t.handleStart(info)
		}
	default:
		if info := t.shouldEnd(func(tr trigger.Trigger) bool { return tr.ShouldActivateForConcept(c) }); info != nil {
			t.handleEnd(info)
		}
	}
}

// TaskEndedNotification lets another task's end start or end this one
func (t *Task) TaskEndedNotification(ended *Task) {
	if !t.IsActive() {
		if info := t.shouldStart(func(tr trigger.Trigger) bool { return tr.ShouldActivateForTask(ended, t) }); info != nil {
			t.handleStart(info)
		}
		return
	}
	if info := t.shouldEnd(func(tr trigger.Trigger) bool { return tr.ShouldActivateForTask(ended, t) }); info != nil {
		t.handleEnd(info)
	}
}

// StrategyApplied checks the strategy against the triggers and, when the
// strategy targets this task, updates its difficulty and stress
func (t *Task) StrategyApplied(ev model.StrategyAppliedEvent) {
	applies := t.targetedBy(ev.TasksAppliedTo)
	if !t.IsActive() {
		if info := t.shouldStart(func(tr trigger.Trigger) bool { return tr.ShouldActivateForStrategy(ev.StrategyName) }); info != nil {
			t.handleStart(info)
		}
	} else {
		applies = applies || len(ev.TasksAppliedTo) == 0
		if info := t.shouldEnd(func(tr trigger.Trigger) bool { return tr.ShouldActivateForStrategy(ev.StrategyName) }); info != nil {
			t.handleEnd(info)
		}
	}
	if !applies {
		return
	}

	t.mu.Lock()
	v := metricView{t.node}
	changed := t.calc("stress", func() (bool, error) { return t.stressMetric().SetStress(v, ev) })
	changed = t.calc("difficulty", func() (bool, error) { return t.difficultyMetric().SetDifficulty(v, ev) }) || changed
	var a *model.Assessment
	if changed {
		a = t.publishLocked()
	}
	t.mu.Unlock()

	if a != nil {
		t.listener.TaskAssessmentUpdated(t, a, model.CauseStrategyAppliesToTask)
	}
}

func (t *Task) targetedBy(ids []string) bool {
	for _, id := range ids {
		if strings.EqualFold(id, t.id.String()) {
			return true
		}
	}
	return false
}

// ManualStart activates the task without a trigger
func (t *Task) ManualStart() {
	t.activate()
}

// ManualEnd ends the task without a trigger
func (t *Task) ManualEnd(reason string) {
	tr, err := trigger.NewManualTrigger(reason, trigger.Options{})
	if err != nil {
		t.log.Warn("invalid manual end", "error", err)
		return
	}
	t.handleEnd(&trigger.EndInfo{Trigger: tr})
}

// Deactivate ends an active task and reports TASK_DEACTIVATED
func (t *Task) Deactivate() {
	if !t.IsActive() {
		return
	}
	t.unload()
	t.listener.TaskAssessmentUpdated(t, t.Assessment(), model.CauseTaskDeactivated)
}

// UpdatePerformanceAssessmentMetrics applies an observer override and any
// manual state change it asks for
func (t *Task) UpdatePerformanceAssessmentMetrics(req model.EvaluatorUpdateRequest) error {
	if _, err := t.applyEvaluatorUpdate(req); err != nil {
		return fmt.Errorf("evaluator update for %q: %w", t.name, err)
	}
	if req.State != nil {
		switch *req.State {
		case model.NodeActive:
			t.ManualStart()
		case model.NodeFinished:
			t.ManualEnd(t.name + " ended by an observer request")
		}
	}
	t.listener.TaskAssessmentUpdated(t, t.Assessment(), model.CauseTaskEvaluatorUpdate)
	return nil
}

// HandleConversationAssessment applies to the task and each of its concepts
func (t *Task) HandleConversationAssessment(assessments []model.ConversationAssessment) bool {
	applied := t.applyConversation(assessments) != nil
	for _, c := range t.concepts {
		if c.HandleConversationAssessment(assessments) {
			applied = true
		}
	}
	return applied
}

func (t *Task) HandleSurveyResults(resp model.SurveyResponse) {
	if a := t.applySurvey(resp); a != nil {
		t.listener.TaskAssessmentUpdated(t, a, model.CauseSurveyAssessment)
	}
}

func (t *Task) HandlePerformanceAssessmentRequest(presenter SurveyPresenter) bool {
	return t.requestAssessment(presenter, t)
}

// AssessConditions asks every concept's conditions to re-assess
func (t *Task) AssessConditions() {
	var walk func([]ConceptNode)
	walk = func(cs []ConceptNode) {
		for _, c := range cs {
			if assessor, ok := c.(ConditionAssessor); ok {
				assessor.AssessConditions()
			}
			walk(c.Concepts())
		}
	}
	walk(t.concepts)
}

// Score is nil when no concept below the task produced a score
func (t *Task) Score() *model.GradedScoreNode {
	score := &model.GradedScoreNode{Name: t.name, NodeID: t.nodeID}
	for _, c := range t.concepts {
		if s := c.Score(); s != nil {
			score.Children = append(score.Children, s)
		}
	}
	if score.IsLeaf() {
		return nil
	}
	return t.gradeScore(score)
}

// Cleanup cancels timers and removes the tree from the registry
func (t *Task) Cleanup(reg *proxy.Registry) {
	t.stopTimer(&t.startTimer)
	t.stopTimer(&t.endTimer)
	for _, c := range t.concepts {
		c.Cleanup(reg)
	}
	if reg != nil {
		reg.Unregister(t.id)
	}
}

// FindConcept finds a concept or intermediate concept by name, ignoring case
func (t *Task) FindConcept(name string) (ConceptNode, bool) {
	var find func([]ConceptNode) (ConceptNode, bool)
	find = func(cs []ConceptNode) (ConceptNode, bool) {
		for _, c := range cs {
			if strings.EqualFold(c.Name(), name) {
				return c, true
			}
			if found, ok := find(c.Concepts()); ok {
				return found, true
			}
		}
		return nil, false
	}
	return find(t.concepts)
}

// Walk visits every concept below the task, parents first
func (t *Task) Walk(fn func(ConceptNode)) {
	var walk func([]ConceptNode)
	walk = func(cs []ConceptNode) {
		for _, c := range cs {
			fn(c)
			walk(c.Concepts())
		}
	}
	walk(t.concepts)
}

type nopTaskListener struct{}

func (nopTaskListener) TaskStarted(*Task)                                                 {}
func (nopTaskListener) TaskEnded(*Task)                                                   {}
func (nopTaskListener) TaskAssessmentUpdated(*Task, *model.Assessment, model.UpdateCause) {}
func (nopTaskListener) ConceptStarted(*Task, ConceptNode)                                 {}
func (nopTaskListener) ConceptEnded(*Task, ConceptNode)                                   {}
func (nopTaskListener) ConceptAssessmentUpdated(*Task, ConceptNode)                       {}
func (nopTaskListener) DomainActions(*Task, model.DomainActions)                          {}
func (nopTaskListener) FatalError(*Task, string)                                          {}
