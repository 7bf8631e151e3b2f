package trigger

import (
	"sync"
	"testing"
	"time"

	"perfassess/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConcept struct {
	name        string
	id          int
	finished    bool
	level       model.AssessmentLevel
	canComplete bool
}

func (c *fakeConcept) Name() string                 { return c.name }
func (c *fakeConcept) NodeID() int                  { return c.id }
func (c *fakeConcept) IsFinished() bool             { return c.finished }
func (c *fakeConcept) Level() model.AssessmentLevel { return c.level }
func (c *fakeConcept) CanComplete() bool            { return c.canComplete }

type fakeTask struct {
	name     string
	id       int
	finished bool
}

func (t *fakeTask) Name() string     { return t.name }
func (t *fakeTask) NodeID() int      { return t.id }
func (t *fakeTask) IsFinished() bool { return t.finished }

func at(x, y float64) model.Message {
	return model.Message{Type: model.MsgEntityState, Payload: model.EntityState{EntityID: "e1", Location: model.Point{X: x, Y: y}}}
}

func seconds(v float64) *float64 { return &v }

func TestNewBaseValidation(t *testing.T) {
	_, err := NewBase("", Options{})
	assert.ErrorIs(t, err, ErrNoName)

	_, err = NewBase("late", Options{Delay: seconds(0)})
	assert.ErrorIs(t, err, ErrInvalidDelay)

	_, err = NewBase("late", Options{Delay: seconds(-2)})
	assert.ErrorIs(t, err, ErrInvalidDelay)

	b, err := NewBase("late", Options{Delay: seconds(1.5)})
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, b.Delay())

	b, err = NewBase("now", Options{})
	require.NoError(t, err)
	assert.Zero(t, b.Delay())
}

func TestBaseNeverFires(t *testing.T) {
	b, err := NewBase("inert", Options{})
	require.NoError(t, err)
	assert.False(t, b.ShouldActivate(at(0, 0)))
	assert.False(t, b.ShouldActivateForConcept(&fakeConcept{finished: true}))
	assert.False(t, b.ShouldActivateForTask(&fakeTask{finished: true}, &fakeTask{}))
	assert.False(t, b.ShouldActivateForStrategy("anything"))
	assert.False(t, b.ScenarioEnding())
}

func TestLocationTrigger(t *testing.T) {
	trig, err := NewLocationTrigger("reach door", model.Point{X: 10}, 2, false, Options{})
	require.NoError(t, err)
	assert.False(t, trig.ShouldActivate(at(0, 0)))
	assert.True(t, trig.ShouldActivate(at(9, 0)))
	assert.False(t, trig.ShouldActivate(model.Message{Type: model.MsgLearnerAction, Payload: model.LearnerAction{ActionID: "x"}}))

	_, err = NewLocationTrigger("bad", model.Point{}, 0, false, Options{})
	assert.ErrorIs(t, err, ErrInvalidRadius)
}

func TestLocationTriggerRequiresMovement(t *testing.T) {
	trig, err := NewLocationTrigger("leave start", model.Point{X: 10}, 2, true, Options{})
	require.NoError(t, err)

	// the first sample is the baseline even when it is inside the radius
	assert.False(t, trig.ShouldActivate(at(10, 0)))
	// no displacement yet
	assert.False(t, trig.ShouldActivate(at(10, 0)))
	// moved but outside the radius
	assert.False(t, trig.ShouldActivate(at(20, 0)))
	assert.True(t, trig.ShouldActivate(at(11, 0)))
	assert.True(t, trig.ShouldActivate(at(10, 0)))
}

func TestLocationTriggerMovingSampleCanFire(t *testing.T) {
	trig, err := NewLocationTrigger("step", model.Point{X: 10}, 2, true, Options{})
	require.NoError(t, err)
	assert.False(t, trig.ShouldActivate(at(10, 0)))
	assert.True(t, trig.ShouldActivate(at(10.5, 0)))
}

func TestEntityLocationTriggerResolvesOnce(t *testing.T) {
	team := model.NewTeamOrganization(
		model.TeamMember{Name: "alpha", Marking: "A1", Playable: true},
		model.TeamMember{Name: "bravo", StartLocation: &model.Point{X: 50}},
	)
	trig, err := NewEntityLocationTrigger("bravo at door", "bravo", team, model.Point{X: 10}, 2, Options{})
	require.NoError(t, err)

	msg := func(id, marking string, x float64) model.Message {
		return model.Message{Type: model.MsgEntityState, Payload: model.EntityState{EntityID: id, Marking: marking, Location: model.Point{X: x}}}
	}

	assert.False(t, trig.ShouldActivate(msg("e-a", "A1", 10)))
	assert.Empty(t, trig.TrackedEntity())

	// resolved by start location
	assert.False(t, trig.ShouldActivate(msg("e-b", "", 50)))
	assert.Equal(t, "e-b", trig.TrackedEntity())

	assert.True(t, trig.ShouldActivate(msg("e-b", "", 11)))
	assert.False(t, trig.ShouldActivate(msg("e-a", "A1", 10)))
}

func TestEntityLocationTriggerConcurrentResolution(t *testing.T) {
	team := model.NewTeamOrganization(model.TeamMember{Name: "alpha", Marking: "A1"})
	trig, err := NewEntityLocationTrigger("alpha at door", "alpha", team, model.Point{}, 1, Options{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			trig.ShouldActivate(model.Message{Type: model.MsgEntityState, Payload: model.EntityState{EntityID: "e-a", Marking: "A1"}})
		}()
	}
	wg.Wait()
	assert.Equal(t, "e-a", trig.TrackedEntity())
}

func TestConceptTriggers(t *testing.T) {
	c := &fakeConcept{name: "Clear Room", id: 3, level: model.AboveExpectation, canComplete: true}

	byLevel, err := NewConceptAssessmentTrigger("room cleared well", "Clear Room", model.AboveExpectation, Options{})
	require.NoError(t, err)
	assert.True(t, byLevel.ShouldActivateForConcept(c))
	c.level = model.AtExpectation
	assert.False(t, byLevel.ShouldActivateForConcept(c))

	ended, err := NewConceptEndedTrigger("room done", c, Options{})
	require.NoError(t, err)
	assert.False(t, ended.ShouldActivateForConcept(c))
	c.finished = true
	assert.True(t, ended.ShouldActivateForConcept(c))
	assert.False(t, ended.ShouldActivateForConcept(&fakeConcept{id: 4, finished: true}))
}

func TestConceptEndedTriggerRejectsIncompletableConcept(t *testing.T) {
	_, err := NewConceptEndedTrigger("never", &fakeConcept{name: "Observe", id: 1, canComplete: false}, Options{})
	assert.ErrorIs(t, err, ErrConditionCannotComplete)

	_, err = NewConceptEndedTrigger("nil", nil, Options{})
	assert.ErrorIs(t, err, ErrNilNode)
}

func TestTaskEndedTrigger(t *testing.T) {
	trig, err := NewTaskEndedTrigger("after breach", 7, Options{})
	require.NoError(t, err)
	owner := &fakeTask{id: 8}
	assert.False(t, trig.ShouldActivateForTask(&fakeTask{id: 7}, owner))
	assert.True(t, trig.ShouldActivateForTask(&fakeTask{id: 7, finished: true}, owner))
	assert.False(t, trig.ShouldActivateForTask(&fakeTask{id: 9, finished: true}, owner))
}

func TestTokenTriggers(t *testing.T) {
	action, err := NewLearnerActionTrigger("radio", "call-in", Options{})
	require.NoError(t, err)
	assert.True(t, action.ShouldActivate(model.Message{Type: model.MsgLearnerAction, Payload: &model.LearnerAction{ActionID: "call-in"}}))
	assert.False(t, action.ShouldActivate(model.Message{Type: model.MsgLearnerAction, Payload: model.LearnerAction{ActionID: "other"}}))

	strategy, err := NewStrategyAppliedTrigger("hinted", "Give Hint", Options{})
	require.NoError(t, err)
	assert.True(t, strategy.ShouldActivateForStrategy("give hint"))
	assert.False(t, strategy.ShouldActivateForStrategy("raise tempo"))

	manual, err := NewManualTrigger("observer", Options{})
	require.NoError(t, err)
	assert.False(t, manual.ShouldActivate(at(0, 0)))

	start, err := NewScenarioStartTrigger("at start", Options{})
	require.NoError(t, err)
	owner := &fakeTask{id: 1}
	assert.False(t, start.ShouldActivateForTask(&fakeTask{id: 2}, owner))
	assert.True(t, start.ShouldActivateForTask(owner, owner))
	assert.False(t, start.ShouldActivateForTask(owner, owner))
}

func TestLatchTriggers(t *testing.T) {
	team := model.NewTeamOrganization(model.TeamMember{Name: "alpha", Marking: "A1", Playable: true})
	team.SetLearner("alpha")

	death, err := NewEntityDestroyedTrigger("learner died", team)
	require.NoError(t, err)
	assert.True(t, death.ScenarioEnding())
	assert.Equal(t, ScenarioEndDelay, death.Delay())
	assert.True(t, death.DomainActions().HasActivities())

	alive := model.Message{Type: model.MsgEntityState, Payload: model.EntityState{EntityID: "e", Marking: "A1", Health: 1}}
	dead := model.Message{Type: model.MsgEntityState, Payload: model.EntityState{EntityID: "e", Marking: "A1", Destroyed: true}}
	other := model.Message{Type: model.MsgEntityState, Payload: model.EntityState{EntityID: "x", Marking: "Z9", Destroyed: true}}
	assert.False(t, death.ShouldActivate(alive))
	assert.False(t, death.ShouldActivate(other))
	assert.True(t, death.ShouldActivate(dead))
	assert.False(t, death.ShouldActivate(dead))

	stopped, err := NewAppStoppedTrigger("app stopped")
	require.NoError(t, err)
	assert.False(t, stopped.ShouldActivate(model.Message{Type: model.MsgTrainingAppState, Payload: model.TrainingAppState{Running: false, Expected: true}}))
	assert.True(t, stopped.ShouldActivate(model.Message{Type: model.MsgTrainingAppState, Payload: model.TrainingAppState{Running: false}}))
	assert.False(t, stopped.ShouldActivate(model.Message{Type: model.MsgTrainingAppState, Payload: model.TrainingAppState{Running: false}}))
}

type panicky struct{ Base }

func (p *panicky) ShouldActivate(model.Message) bool { panic("boom") }

func TestFirstMatch(t *testing.T) {
	bad := &panicky{Base: Base{name: "bad"}}
	first, err := NewLearnerActionTrigger("first", "go", Options{})
	require.NoError(t, err)
	second, err := NewLearnerActionTrigger("second", "go", Options{Delay: seconds(2)})
	require.NoError(t, err)

	var panicked []string
	msg := model.Message{Type: model.MsgLearnerAction, Payload: model.LearnerAction{ActionID: "go"}}
	info := FirstMatch([]Trigger{bad, first, second},
		func(t Trigger) bool { return t.ShouldActivate(msg) },
		func(t Trigger, _ any) { panicked = append(panicked, t.Name()) })

	require.NotNil(t, info)
	assert.Equal(t, "first", info.Trigger.Name())
	assert.Zero(t, info.Delay)
	assert.Equal(t, []string{"bad"}, panicked)

	assert.Nil(t, FirstMatch([]Trigger{second}, func(Trigger) bool { return false }, nil))
}
