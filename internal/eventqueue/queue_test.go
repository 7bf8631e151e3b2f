package eventqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"perfassess/internal/knowledge"
	"perfassess/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recordingHandler struct {
	mu      sync.Mutex
	handled []string
	empties int

	// gate, when set, blocks TaskStarted until closed
	gate       chan struct{}
	entered    chan struct{}
	panicOnEnd bool
}

func (h *recordingHandler) record(s string) {
	h.mu.Lock()
	h.handled = append(h.handled, s)
	h.mu.Unlock()
}

func (h *recordingHandler) ConceptStarted(knowledge.ConceptStartedEvent)       { h.record("concept_started") }
func (h *recordingHandler) ConceptEnded(knowledge.ConceptEndedEvent)           { h.record("concept_ended") }
func (h *recordingHandler) ConceptAssessment(knowledge.ConceptAssessmentEvent) { h.record("concept_assessment") }

func (h *recordingHandler) TaskStarted(knowledge.TaskStartedEvent) {
	if h.entered != nil {
		close(h.entered)
	}
	if h.gate != nil {
		<-h.gate
	}
	h.record("task_started")
}

func (h *recordingHandler) TaskEnded(knowledge.TaskEndedEvent) {
	if h.panicOnEnd {
		panic("handler failure")
	}
	h.record("task_ended")
}

func (h *recordingHandler) TaskAssessment(ev knowledge.TaskAssessmentEvent) {
	h.record(ev.Assessment.Name)
}

func (h *recordingHandler) QueueEmpty() {
	h.mu.Lock()
	h.empties++
	h.mu.Unlock()
}

func (h *recordingHandler) snapshot() ([]string, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.handled...), h.empties
}

func assessment(name string) knowledge.TaskAssessmentEvent {
	return knowledge.TaskAssessmentEvent{Assessment: &model.Assessment{Name: name}, Cause: model.CauseConceptSyncUpdated}
}

func stop(t *testing.T, q *Queue) {
	t.Helper()
	q.Quit()
	select {
	case <-q.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("queue consumer did not exit")
	}
}

func waitEmpty(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.WaitEmpty(ctx))
}

func TestEventsAreHandledInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &recordingHandler{}
	q := New(h, nil)
	q.Start()
	defer stop(t, q)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.AddEvent(assessment("E1"))
		q.AddEvent(assessment("E2"))
		q.AddEvent(assessment("E3"))
	}()
	wg.Wait()
	waitEmpty(t, q)

	handled, empties := h.snapshot()
	assert.Equal(t, []string{"E1", "E2", "E3"}, handled)
	assert.GreaterOrEqual(t, empties, 1)
}

func TestConcurrentProducersKeepTheirOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &recordingHandler{}
	q := New(h, nil)
	q.Start()
	defer stop(t, q)

	const producers, perProducer = 4, 100
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.AddEvent(assessment(fmt.Sprintf("%d:%03d", p, i)))
			}
		}(p)
	}
	wg.Wait()
	waitEmpty(t, q)

	handled, _ := h.snapshot()
	require.Len(t, handled, producers*perProducer)
	last := map[string]string{}
	for _, name := range handled {
		producer := name[:1]
		if prev, ok := last[producer]; ok {
			assert.Less(t, prev, name)
		}
		last[producer] = name
	}
}

func TestAddAfterQuitIsDropped(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &recordingHandler{}
	q := New(h, nil)
	q.Start()
	stop(t, q)

	q.AddEvent(assessment("late"))
	assert.Equal(t, 0, q.Len())

	handled, empties := h.snapshot()
	assert.Empty(t, handled)
	assert.GreaterOrEqual(t, empties, 1)
}

func TestQuitBeforeStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := New(&recordingHandler{}, nil)
	q.AddEvent(assessment("pending"))
	q.Quit()

	select {
	case <-q.Done():
	default:
		t.Fatal("done should be closed")
	}
	q.Start()
	assert.Equal(t, 0, q.Len())
	waitEmpty(t, q)
}

func TestQuitFinishesInFlightEventAndClearsTheRest(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &recordingHandler{gate: make(chan struct{}), entered: make(chan struct{})}
	q := New(h, nil)
	q.Start()

	q.AddEvent(knowledge.TaskStartedEvent{})
	<-h.entered
	q.AddEvent(assessment("E2"))
	q.AddEvent(assessment("E3"))
	require.Equal(t, 2, q.Len())

	q.Quit()
	assert.Equal(t, 0, q.Len())
	close(h.gate)
	<-q.Done()

	handled, empties := h.snapshot()
	assert.Equal(t, []string{"task_started"}, handled)
	assert.GreaterOrEqual(t, empties, 1)
}

func TestHandlerPanicDoesNotStopTheConsumer(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &recordingHandler{panicOnEnd: true}
	q := New(h, nil)
	q.Start()
	defer stop(t, q)

	q.AddEvent(knowledge.TaskEndedEvent{})
	q.AddEvent(knowledge.ConceptEndedEvent{})
	waitEmpty(t, q)

	handled, _ := h.snapshot()
	assert.Equal(t, []string{"concept_ended"}, handled)
}

func TestWaitEmptyHonoursContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &recordingHandler{gate: make(chan struct{}), entered: make(chan struct{})}
	q := New(h, nil)
	q.Start()

	q.AddEvent(knowledge.TaskStartedEvent{})
	<-h.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.WaitEmpty(ctx), context.DeadlineExceeded)

	close(h.gate)
	waitEmpty(t, q)
	stop(t, q)
}
