package knowledge

import (
	"sync"
	"testing"
	"time"

	"perfassess/internal/metric"
	"perfassess/internal/model"
	"perfassess/internal/platform/logger"
	"perfassess/internal/proxy"
	"perfassess/internal/trigger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recorder struct {
	mu      sync.Mutex
	events  []TriggerEvent
	actions []model.DomainActions
	fatal   []string
}

func (r *recorder) add(ev TriggerEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) TaskStarted(t *Task) { r.add(TaskStartedEvent{Task: t}) }
func (r *recorder) TaskEnded(t *Task)   { r.add(TaskEndedEvent{Task: t}) }

func (r *recorder) TaskAssessmentUpdated(t *Task, a *model.Assessment, cause model.UpdateCause) {
	r.add(TaskAssessmentEvent{Task: t, Assessment: a, Cause: cause})
}

func (r *recorder) ConceptStarted(t *Task, c ConceptNode) { r.add(ConceptStartedEvent{Task: t, Concept: c}) }
func (r *recorder) ConceptEnded(t *Task, c ConceptNode)   { r.add(ConceptEndedEvent{Task: t, Concept: c}) }

func (r *recorder) ConceptAssessmentUpdated(t *Task, c ConceptNode) {
	r.add(ConceptAssessmentEvent{Task: t, Concept: c})
}

func (r *recorder) DomainActions(_ *Task, actions model.DomainActions) {
	r.mu.Lock()
	r.actions = append(r.actions, actions)
	r.mu.Unlock()
}

func (r *recorder) FatalError(_ *Task, reason string) {
	r.mu.Lock()
	r.fatal = append(r.fatal, reason)
	r.mu.Unlock()
}

func (r *recorder) taskCauses() []model.UpdateCause {
	r.mu.Lock()
	defer r.mu.Unlock()
	var causes []model.UpdateCause
	for _, ev := range r.events {
		if ta, ok := ev.(TaskAssessmentEvent); ok {
			causes = append(causes, ta.Cause)
		}
	}
	return causes
}

func (r *recorder) has(kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.EventKind() == kind {
			return true
		}
	}
	return false
}

func (r *recorder) conceptUpdates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, ev := range r.events {
		if ca, ok := ev.(ConceptAssessmentEvent); ok {
			names = append(names, ca.Concept.Name())
		}
	}
	return names
}

func observedConcept(t *testing.T, nodeID int, name string) (*Concept, *ObservedCondition) {
	t.Helper()
	cond, err := NewObservedCondition(name+" observation", nil, nil)
	require.NoError(t, err)
	c, err := NewConcept(nodeID, name, []Condition{cond})
	require.NoError(t, err)
	return c, cond
}

func manualEnd(t *testing.T) []trigger.Trigger {
	t.Helper()
	tr, err := trigger.NewManualTrigger("observer ends task", trigger.Options{})
	require.NoError(t, err)
	return []trigger.Trigger{tr}
}

func startedTask(t *testing.T, start, end []trigger.Trigger, concepts ...ConceptNode) (*Task, *recorder, *proxy.AssessmentProxy) {
	t.Helper()
	task, err := NewTask(1, "Clear Building", start, end, concepts)
	require.NoError(t, err)
	rec := &recorder{}
	task.SetListener(rec)
	p := proxy.New("session-1")
	task.Attach(p, logger.NewNop())
	task.Start()
	return task, rec, p
}

func level(t *testing.T, p *proxy.AssessmentProxy, id uuid.UUID) model.AssessmentLevel {
	t.Helper()
	a, err := p.Get(id)
	require.NoError(t, err)
	return a.Level
}

func survey(points float64) model.SurveyResponse {
	return model.SurveyResponse{
		SurveyName: "Room Clearing",
		Responses:  []model.QuestionAnswer{{QuestionKey: "q1", Answer: "yes", Points: points}},
	}
}

func ptr[T any](v T) *T { return &v }

func TestSurveyResultUpdatesConceptAndTask(t *testing.T) {
	a, _ := observedConcept(t, 2, "Secure Entry")
	b, _ := observedConcept(t, 3, "Communicate")
	lesson, err := NewScoredSurveyAssessment("Room Clearing", 8, 5)
	require.NoError(t, err)
	a.AddLessonAssessment(lesson)

	task, rec, p := startedTask(t, nil, manualEnd(t), a, b)
	require.True(t, task.IsActive())
	assert.Equal(t, model.Unknown, level(t, p, task.ID()))

	a.HandleSurveyResults(survey(9))

	got, err := p.Get(a.ID())
	require.NoError(t, err)
	assert.Equal(t, model.AboveExpectation, got.Level)
	assert.Contains(t, got.Explanations, "The 'Room Clearing' survey resulted in a Above Expectation assessment.")
	assert.Equal(t, model.Unknown, level(t, p, b.ID()))

	assert.Contains(t, rec.taskCauses(), model.CauseConceptAsyncUpdated)
	assert.Equal(t, model.AboveExpectation, level(t, p, task.ID()))
	assert.Equal(t, []string{"Secure Entry"}, rec.conceptUpdates())

	snap, err := p.GeneratePerformanceAssessment([]uuid.UUID{task.ID()})
	require.NoError(t, err)
	found, ok := snap.FindByName("Secure Entry")
	require.True(t, ok)
	assert.Equal(t, model.AboveExpectation, found.Level)
}

func TestSurveyInForceSuppressesRecompute(t *testing.T) {
	c, cond := observedConcept(t, 2, "Secure Entry")
	lesson, err := NewScoredSurveyAssessment("Room Clearing", 8, 5)
	require.NoError(t, err)
	c.AddLessonAssessment(lesson)
	p := proxy.New("session-1")
	c.attachTree(p, logger.NewNop())

	c.HandleSurveyResults(survey(1))
	assert.Equal(t, model.BelowExpectation, c.Level())

	assert.Nil(t, c.recompute(true))
	assert.Equal(t, model.BelowExpectation, c.Level())

	cond.Observe(model.AboveExpectation, "cleared quickly", nil)
	assert.Equal(t, model.AboveExpectation, c.Level())
}

func TestConversationAssessment(t *testing.T) {
	t.Run("applies a confident match", func(t *testing.T) {
		c, _ := observedConcept(t, 2, "Secure Entry")
		p := proxy.New("session-1")
		c.attachTree(p, logger.NewNop())

		applied := c.HandleConversationAssessment([]model.ConversationAssessment{
			{Concept: "Communicate", Level: model.BelowExpectation, Confidence: 0.99},
			{Concept: "Secure Entry", Level: model.AboveExpectation, Confidence: 0.95},
		})
		require.True(t, applied)

		got, err := p.Get(c.ID())
		require.NoError(t, err)
		assert.Equal(t, model.AboveExpectation, got.Level)
		assert.InDelta(t, 0.95, got.Confidence, 1e-9)
	})

	t.Run("names match exactly", func(t *testing.T) {
		c, _ := observedConcept(t, 2, "Secure Entry")
		c.attachTree(proxy.New("session-1"), logger.NewNop())

		applied := c.HandleConversationAssessment([]model.ConversationAssessment{
			{Concept: "secure entry", Level: model.AboveExpectation, Confidence: 0.95},
		})
		assert.False(t, applied)
		assert.Equal(t, model.Unknown, c.Level())
	})

	t.Run("low confidence stops the scan", func(t *testing.T) {
		c, _ := observedConcept(t, 2, "Secure Entry")
		c.attachTree(proxy.New("session-1"), logger.NewNop())

		applied := c.HandleConversationAssessment([]model.ConversationAssessment{
			{Concept: "Secure Entry", Level: model.BelowExpectation, Confidence: 0.5},
			{Concept: "Secure Entry", Level: model.AboveExpectation, Confidence: 0.95},
		})
		assert.False(t, applied)
		assert.Equal(t, model.Unknown, c.Level())
	})
}

func TestEvaluatorOverrideWritesThroughAndHolds(t *testing.T) {
	c, cond := observedConcept(t, 2, "Secure Entry")
	p := proxy.New("session-1")
	c.attachTree(p, logger.NewNop())

	err := c.UpdatePerformanceAssessmentMetrics(model.EvaluatorUpdateRequest{
		Evaluator:      "observer-1",
		Performance:    ptr(model.BelowExpectation),
		AssessmentHold: ptr(true),
		Confidence:     ptr(0.4),
	})
	require.NoError(t, err)

	got, err := p.Get(c.ID())
	require.NoError(t, err)
	assert.Equal(t, model.BelowExpectation, got.Level)
	assert.True(t, got.Holds.Assessment)
	assert.Equal(t, "observer-1", got.Evaluator)
	assert.InDelta(t, 0.4, got.Confidence, 1e-9)
	assert.Equal(t, model.BelowExpectation, cond.Level())

	cond.Observe(model.AboveExpectation, "cleared quickly", nil)
	assert.Equal(t, model.BelowExpectation, level(t, p, c.ID()))
}

func TestEvaluatorOverrideScopesTeamMembers(t *testing.T) {
	cond, err := NewObservedCondition("Covers sector", nil, []string{"alpha", "bravo"})
	require.NoError(t, err)
	c, err := NewConcept(2, "Secure Entry", []Condition{cond})
	require.NoError(t, err)
	p := proxy.New("session-1")
	c.attachTree(p, logger.NewNop())
	c.working.AddTeamOrgEntries(map[string]model.AssessmentLevel{"alpha": model.AtExpectation, "bravo": model.AtExpectation})

	require.NoError(t, c.UpdatePerformanceAssessmentMetrics(model.EvaluatorUpdateRequest{
		Performance:     ptr(model.BelowExpectation),
		TeamOrgEntities: map[string]model.AssessmentLevel{"bravo": model.BelowExpectation},
	}))
	got, err := p.Get(c.ID())
	require.NoError(t, err)
	assert.Equal(t, model.AtExpectation, got.TeamOrgEntities["alpha"])
	assert.Equal(t, model.BelowExpectation, got.TeamOrgEntities["bravo"])
	assert.Equal(t, []string{"[bravo] has been assessed."}, got.Explanations)

	require.NoError(t, c.UpdatePerformanceAssessmentMetrics(model.EvaluatorUpdateRequest{
		Performance: ptr(model.AboveExpectation),
	}))
	got, err = p.Get(c.ID())
	require.NoError(t, err)
	assert.Equal(t, model.AboveExpectation, got.TeamOrgEntities["alpha"])
	assert.Equal(t, model.AboveExpectation, got.TeamOrgEntities["bravo"])
}

func TestEvaluatorOverrideKeepsEarlierContext(t *testing.T) {
	c, _ := observedConcept(t, 2, "Secure Entry")
	p := proxy.New("session-1")
	c.attachTree(p, logger.NewNop())

	require.NoError(t, c.UpdatePerformanceAssessmentMetrics(model.EvaluatorUpdateRequest{
		Evaluator:   "observer-1",
		Reason:      "Slow to stack",
		Performance: ptr(model.BelowExpectation),
	}))
	require.NoError(t, c.UpdatePerformanceAssessmentMetrics(model.EvaluatorUpdateRequest{
		Reason:         "Recovered well",
		Performance:    ptr(model.AtExpectation),
		AssessmentHold: ptr(true),
	}))

	got, err := p.Get(c.ID())
	require.NoError(t, err)
	assert.Equal(t, "observer-1", got.Evaluator)
	assert.Equal(t, []string{"Slow to stack"}, got.Explanations)

	require.NoError(t, c.UpdatePerformanceAssessmentMetrics(model.EvaluatorUpdateRequest{
		Evaluator:      "observer-2",
		Reason:         "Clean entry",
		AssessmentHold: ptr(false),
	}))
	got, err = p.Get(c.ID())
	require.NoError(t, err)
	assert.Equal(t, "observer-2", got.Evaluator)
	assert.Equal(t, []string{"Slow to stack", "Clean entry"}, got.Explanations)
}

func TestOverrideExplanation(t *testing.T) {
	tests := []struct {
		name string
		req  model.EvaluatorUpdateRequest
		want string
	}{
		{"reason wins", model.EvaluatorUpdateRequest{Reason: "Good stack", TeamOrgEntities: map[string]model.AssessmentLevel{"a": model.AtExpectation}}, "Good stack"},
		{"one member", model.EvaluatorUpdateRequest{TeamOrgEntities: map[string]model.AssessmentLevel{"alpha": model.AtExpectation}}, "[alpha] has been assessed."},
		{"members sorted", model.EvaluatorUpdateRequest{TeamOrgEntities: map[string]model.AssessmentLevel{"bravo": model.AtExpectation, "alpha": model.AtExpectation}}, "[alpha, bravo] have been assessed."},
		{"nothing", model.EvaluatorUpdateRequest{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, overrideExplanation(tt.req))
		})
	}
}

type panickingPerformance struct{}

func (panickingPerformance) SetPerformance(metric.Node, metric.AssessmentSource) (bool, error) {
	panic("bad plugin")
}

func (panickingPerformance) SetChildArgs(map[uuid.UUID]*metric.Args) {}

func TestPanickingMetricIsNoChange(t *testing.T) {
	c, cond := observedConcept(t, 2, "Secure Entry")
	require.NoError(t, c.SetPerformanceMetric(panickingPerformance{}))
	c.attachTree(proxy.New("session-1"), logger.NewNop())

	assert.NotPanics(t, func() {
		cond.Observe(model.AboveExpectation, "cleared quickly", nil)
	})
	assert.Equal(t, model.Unknown, c.Level())
}

func TestSettersWhileAssessing(t *testing.T) {
	a, condA := observedConcept(t, 2, "Secure Entry")
	b, condB := observedConcept(t, 3, "Communicate")
	task, _, p := startedTask(t, nil, manualEnd(t), a, b)
	lesson, err := NewScoredSurveyAssessment("Room Clearing", 8, 5)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			task.SetChildArgs(a.ID(), &metric.Args{Weight: ptr(0.5)})
			task.SetChildArgs(b.ID(), &metric.Args{Weight: ptr(0.5)})
			assert.NoError(t, task.SetConfidenceMetric(metric.DefaultConfidence{}))
			assert.NoError(t, a.SetTrendMetric(metric.DefaultTrend{}))
			a.AddLessonAssessment(lesson)
		}
	}()
	go func() {
		defer wg.Done()
		levels := []model.AssessmentLevel{model.AboveExpectation, model.BelowExpectation}
		for i := 0; i < 50; i++ {
			condA.Observe(levels[i%2], "", nil)
		}
	}()
	wg.Wait()

	condB.Observe(model.BelowExpectation, "", nil)
	condA.Observe(model.AboveExpectation, "", nil)
	assert.Equal(t, model.AboveExpectation, level(t, p, a.ID()))
	// 0.5*4 + 0.5*0 = 2, at expectation
	assert.Equal(t, model.AtExpectation, level(t, p, task.ID()))
}

func TestNilMetricsRejected(t *testing.T) {
	c, _ := observedConcept(t, 2, "Secure Entry")
	assert.ErrorIs(t, c.SetPerformanceMetric(nil), ErrNilMetric)
	assert.ErrorIs(t, c.SetConfidenceMetric(nil), ErrNilMetric)
	assert.ErrorIs(t, c.SetCompetenceMetric(nil), ErrNilMetric)
	assert.ErrorIs(t, c.SetTrendMetric(nil), ErrNilMetric)
	assert.ErrorIs(t, c.SetPriorityMetric(nil), ErrNilMetric)
	assert.ErrorIs(t, c.SetGradeMetric(nil), ErrNilMetric)

	task, err := NewTask(1, "Clear Building", nil, manualEnd(t), []ConceptNode{c})
	require.NoError(t, err)
	assert.ErrorIs(t, task.SetDifficultyMetric(nil), ErrNilMetric)
	assert.ErrorIs(t, task.SetStressMetric(nil), ErrNilMetric)
}

type mutedCondition struct {
	ConditionBase
}

func (*mutedCondition) HandleMessage(model.Message) (bool, error) { return false, nil }

func TestConditionWithoutInterestsRejected(t *testing.T) {
	_, err := NewConcept(2, "Secure Entry", []Condition{&mutedCondition{}})
	assert.ErrorIs(t, err, ErrNoSimulationInterest)

	var base ConditionBase
	assert.ErrorIs(t, base.Init("Covers sector", nil, nil, nil), ErrNoSimulationInterest)
}

func TestNodeConstructionErrors(t *testing.T) {
	c, _ := observedConcept(t, 2, "Secure Entry")

	_, err := NewConcept(3, "Empty", nil)
	assert.ErrorIs(t, err, model.ErrInvalidNode)

	_, err = NewIntermediateConcept(4, "Empty", nil)
	assert.ErrorIs(t, err, model.ErrInvalidNode)

	_, err = NewTask(1, "No End", nil, nil, []ConceptNode{c})
	assert.ErrorIs(t, err, ErrNoEndTriggers)

	s1, err := trigger.NewScenarioStartTrigger("start one", trigger.Options{})
	require.NoError(t, err)
	s2, err := trigger.NewScenarioStartTrigger("start two", trigger.Options{})
	require.NoError(t, err)
	_, err = NewTask(1, "Two Starts", []trigger.Trigger{s1, s2}, manualEnd(t), []ConceptNode{c})
	assert.ErrorIs(t, err, ErrDuplicateScenarioStart)

	_, err = NewTask(1, "", nil, manualEnd(t), []ConceptNode{c})
	assert.ErrorIs(t, err, model.ErrInvalidNode)
}

func learnerAction(id string) model.Message {
	return model.Message{Type: model.MsgLearnerAction, Payload: model.LearnerAction{ActionID: id}}
}

func TestMessageCompletesConceptAndTask(t *testing.T) {
	cond, err := NewLearnerActionCondition("Breach door", "breach-door", nil, nil)
	require.NoError(t, err)
	c, err := NewConcept(2, "Entry", []Condition{cond})
	require.NoError(t, err)
	task, rec, p := startedTask(t, nil, manualEnd(t), c)

	assert.False(t, task.HandleMessage(learnerAction("open-map")))
	assert.True(t, task.HandleMessage(learnerAction("breach-door")))

	assert.True(t, c.IsFinished())
	assert.True(t, task.IsFinished())
	assert.False(t, task.IsActive())
	assert.True(t, rec.has("concept_ended"))
	assert.True(t, rec.has("task_ended"))
	assert.Contains(t, rec.taskCauses(), model.CauseConceptSyncUpdated)

	got, err := p.Get(task.ID())
	require.NoError(t, err)
	assert.Equal(t, model.NodeFinished, got.State)
	assert.Equal(t, model.AtExpectation, got.Level)
}

func TestEndTriggerDeliversFeedback(t *testing.T) {
	c, _ := observedConcept(t, 2, "Secure Entry")
	abort, err := trigger.NewLearnerActionTrigger("abort", "abort", trigger.Options{
		DomainActions: model.DomainActions{Strategy: model.Strategy{Name: "Abort", Activities: []string{"Mission aborted"}}},
	})
	require.NoError(t, err)
	task, rec, _ := startedTask(t, nil, []trigger.Trigger{abort}, c)

	task.HandleMessage(learnerAction("abort"))

	assert.True(t, task.IsFinished())
	assert.False(t, c.IsActive())
	require.Len(t, rec.actions, 1)
	assert.Equal(t, "Abort", rec.actions[0].Strategy.Name)
	assert.Empty(t, rec.fatal)
}

func TestScenarioEndingTriggerRaisesFatalError(t *testing.T) {
	c, _ := observedConcept(t, 2, "Secure Entry")
	quit, err := trigger.NewLearnerActionTrigger("quit", "quit", trigger.Options{})
	require.NoError(t, err)
	task, rec, _ := startedTask(t, nil, manualEnd(t), c)
	require.NoError(t, task.AddEndTrigger(scenarioEnding{quit}))

	task.HandleMessage(learnerAction("quit"))

	require.Len(t, rec.fatal, 1)
	assert.Contains(t, rec.fatal[0], "scenario level end trigger")
	assert.True(t, task.IsFinished())
}

type scenarioEnding struct {
	*trigger.LearnerActionTrigger
}

func (scenarioEnding) ScenarioEnding() bool { return true }

func TestDelayedStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	c, _ := observedConcept(t, 2, "Secure Entry")
	start, err := trigger.NewLearnerActionTrigger("go", "go", trigger.Options{Delay: ptr(0.05)})
	require.NoError(t, err)
	task, rec, _ := startedTask(t, []trigger.Trigger{start}, manualEnd(t), c)
	require.False(t, task.IsActive())

	task.HandleMessage(learnerAction("go"))
	assert.False(t, task.IsActive())
	require.Eventually(t, task.IsActive, 2*time.Second, 10*time.Millisecond)
	assert.True(t, c.IsActive())
	assert.True(t, rec.has("task_started"))
}

func TestCleanupCancelsDelayedEnd(t *testing.T) {
	defer goleak.VerifyNone(t)

	c, _ := observedConcept(t, 2, "Secure Entry")
	end, err := trigger.NewLearnerActionTrigger("leave", "leave", trigger.Options{Delay: ptr(30.0)})
	require.NoError(t, err)
	task, _, p := startedTask(t, nil, []trigger.Trigger{end}, c)

	reg := proxy.NewRegistry()
	require.NoError(t, reg.Register(task.ID(), p))
	require.NoError(t, reg.Register(c.ID(), p))

	task.HandleMessage(learnerAction("leave"))
	task.Cleanup(reg)

	assert.True(t, task.IsActive())
	assert.Equal(t, 0, reg.Len())
}

func TestIntermediateConceptNotifiesChildThenSelf(t *testing.T) {
	a, _ := observedConcept(t, 3, "Secure Entry")
	b, _ := observedConcept(t, 4, "Communicate")
	lesson, err := NewScoredSurveyAssessment("Room Clearing", 8, 5)
	require.NoError(t, err)
	a.AddLessonAssessment(lesson)
	ic, err := NewIntermediateConcept(2, "Room Clearing", []ConceptNode{a, b})
	require.NoError(t, err)
	assert.False(t, ic.CanComplete())

	task, rec, p := startedTask(t, nil, manualEnd(t), ic)
	require.True(t, b.IsActive())

	a.HandleSurveyResults(survey(9))

	assert.Equal(t, []string{"Secure Entry", "Room Clearing"}, rec.conceptUpdates())
	assert.Equal(t, model.AboveExpectation, level(t, p, ic.ID()))
	assert.Equal(t, model.AboveExpectation, level(t, p, task.ID()))

	found, ok := task.FindConcept("communicate")
	require.True(t, ok)
	assert.Same(t, b, found)
}

func TestStrategyAppliedUpdatesTaskLoad(t *testing.T) {
	c, _ := observedConcept(t, 2, "Secure Entry")
	task, rec, p := startedTask(t, nil, manualEnd(t), c)

	task.StrategyApplied(model.StrategyAppliedEvent{StrategyName: "Increase Difficulty", Difficulty: ptr(0.7)})

	got, err := p.Get(task.ID())
	require.NoError(t, err)
	require.NotNil(t, got.Difficulty)
	assert.InDelta(t, 0.7, *got.Difficulty, 1e-9)
	assert.Equal(t, "Increase Difficulty", got.DifficultyReason)
	assert.Contains(t, rec.taskCauses(), model.CauseStrategyAppliesToTask)

	other, err := NewTask(5, "Other", nil, manualEnd(t), []ConceptNode{mustObserved(t)})
	require.NoError(t, err)
	other.StrategyApplied(model.StrategyAppliedEvent{StrategyName: "Increase Difficulty", Difficulty: ptr(0.7), TasksAppliedTo: []string{task.ID().String()}})
	assert.Nil(t, other.Assessment().Difficulty)
}

func mustObserved(t *testing.T) ConceptNode {
	c, _ := observedConcept(t, 9, "Spare")
	return c
}

func TestDeactivateAndEvaluatorState(t *testing.T) {
	c, _ := observedConcept(t, 2, "Secure Entry")
	task, rec, _ := startedTask(t, nil, manualEnd(t), c)

	task.Deactivate()
	assert.True(t, task.IsFinished())
	assert.Contains(t, rec.taskCauses(), model.CauseTaskDeactivated)

	require.NoError(t, task.UpdatePerformanceAssessmentMetrics(model.EvaluatorUpdateRequest{State: ptr(model.NodeActive)}))
	assert.True(t, task.IsActive())
	assert.True(t, c.IsActive())

	require.NoError(t, task.UpdatePerformanceAssessmentMetrics(model.EvaluatorUpdateRequest{State: ptr(model.NodeFinished)}))
	assert.True(t, task.IsFinished())
	assert.Contains(t, rec.taskCauses(), model.CauseTaskEvaluatorUpdate)
}

type presenter struct {
	surveys   []string
	listeners []SurveyResultListener
}

func (p *presenter) PresentSurvey(_, surveyName string, l SurveyResultListener) {
	p.surveys = append(p.surveys, surveyName)
	p.listeners = append(p.listeners, l)
}

func TestPerformanceAssessmentRequest(t *testing.T) {
	c, _ := observedConcept(t, 2, "Secure Entry")
	pr := &presenter{}
	assert.False(t, c.HandlePerformanceAssessmentRequest(pr))

	c.AddLessonAssessment(ConditionsLessonAssessment{})
	lesson, err := NewScoredSurveyAssessment("Room Clearing", 8, 5)
	require.NoError(t, err)
	c.AddLessonAssessment(lesson)
	assert.True(t, c.HandlePerformanceAssessmentRequest(pr))
	assert.Empty(t, pr.surveys, "the first lesson assessment wins")

	s, _ := observedConcept(t, 3, "Communicate")
	s.AddLessonAssessment(lesson)
	require.True(t, s.HandlePerformanceAssessmentRequest(pr))
	require.Equal(t, []string{"Room Clearing"}, pr.surveys)
	assert.Same(t, s, pr.listeners[0])
}

func TestScoreGradesWorstChild(t *testing.T) {
	done, err := NewLearnerActionCondition("Breach door", "breach-door", nil, nil)
	require.NoError(t, err)
	c, err := NewConcept(2, "Entry", []Condition{done})
	require.NoError(t, err)
	task, _, _ := startedTask(t, nil, manualEnd(t), c)
	task.HandleMessage(learnerAction("breach-door"))

	score := task.Score()
	require.NotNil(t, score)
	require.Len(t, score.Children, 1)
	assert.Equal(t, model.AtExpectation, score.Children[0].Grade)
	assert.Equal(t, "complete", score.Children[0].Raw[0].Value)
	assert.Equal(t, model.AtExpectation, score.Grade)
}
