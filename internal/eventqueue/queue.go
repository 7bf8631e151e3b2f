package eventqueue

import (
	"context"
	"fmt"
	"sync"

	"perfassess/internal/knowledge"
	"perfassess/internal/observability"
	"perfassess/internal/platform/logger"
)

// Handler receives every queued event, one at a time, on the queue's
// consumer goroutine
type Handler interface {
	ConceptStarted(ev knowledge.ConceptStartedEvent)
	ConceptEnded(ev knowledge.ConceptEndedEvent)
	ConceptAssessment(ev knowledge.ConceptAssessmentEvent)
	TaskStarted(ev knowledge.TaskStartedEvent)
	TaskEnded(ev knowledge.TaskEndedEvent)
	TaskAssessment(ev knowledge.TaskAssessmentEvent)
	// QueueEmpty is called each time the queue drains and once more on shutdown
	QueueEmpty()
}

// Queue is an unbounded FIFO of trigger events with a single consumer
type Queue struct {
	log     *logger.Logger
	handler Handler

	mu         sync.Mutex
	events     []knowledge.TriggerEvent
	started    bool
	quit       bool
	idle       chan struct{}
	idleClosed bool

	wake chan struct{}
	done chan struct{}
}

func New(handler Handler, log *logger.Logger) *Queue {
	if log == nil {
		log = logger.NewNop()
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		log:        log,
		handler:    handler,
		idle:       idle,
		idleClosed: true,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Start launches the consumer. It is a no-op after Quit or a second Start.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.quit {
		return
	}
	q.started = true
	go q.run()
}

// AddEvent appends an event. Events added after Quit are dropped.
func (q *Queue) AddEvent(ev knowledge.TriggerEvent) {
	if ev == nil {
		return
	}
	q.mu.Lock()
	if q.quit {
		q.mu.Unlock()
		q.log.Debug("dropping event after quit", "event", ev.EventKind())
		return
	}
	q.events = append(q.events, ev)
	if q.idleClosed {
		q.idle = make(chan struct{})
		q.idleClosed = false
	}
	q.mu.Unlock()
	q.signal()
}

// Quit clears pending events and stops the consumer after the event in
// flight, if any. It does not wait; use Done for that.
func (q *Queue) Quit() {
	q.mu.Lock()
	if q.quit {
		q.mu.Unlock()
		return
	}
	q.quit = true
	q.events = nil
	started := q.started
	q.mu.Unlock()

	if !started {
		q.markIdle()
		close(q.done)
		return
	}
	q.signal()
}

// Done is closed once the consumer has exited
func (q *Queue) Done() <-chan struct{} { return q.done }

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// WaitEmpty blocks until every queued event has been handled, the queue has
// shut down, or ctx is done
func (q *Queue) WaitEmpty(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-q.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for event queue: %w", ctx.Err())
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		ev, quit := q.next()
		if quit {
			q.empty()
			q.markIdle()
			return
		}
		if ev == nil {
			q.empty()
			if q.markIdle() {
				<-q.wake
			}
			continue
		}
		q.dispatch(ev)
	}
}

func (q *Queue) next() (knowledge.TriggerEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.quit {
		return nil, true
	}
	if len(q.events) == 0 {
		return nil, false
	}
	ev := q.events[0]
	q.events[0] = nil
	q.events = q.events[1:]
	return ev, false
}

// markIdle releases WaitEmpty callers when nothing arrived in the meantime.
// Reports whether the queue is still empty.
func (q *Queue) markIdle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) > 0 && !q.quit {
		return false
	}
	if !q.idleClosed {
		close(q.idle)
		q.idleClosed = true
	}
	return true
}

func (q *Queue) empty() {
	defer func() {
		if r := recover(); r != nil {
			observability.HandlerFailures.WithLabelValues("queue_empty").Inc()
			q.log.Error("queue empty handler panicked", "panic", r)
		}
	}()
	q.handler.QueueEmpty()
}

func (q *Queue) dispatch(ev knowledge.TriggerEvent) {
	kind := ev.EventKind()
	defer func() {
		if r := recover(); r != nil {
			observability.HandlerFailures.WithLabelValues(kind).Inc()
			q.log.Error("event handler panicked", "event", kind, "panic", r)
		}
	}()

	switch e := ev.(type) {
	case knowledge.ConceptStartedEvent:
		q.handler.ConceptStarted(e)
	case knowledge.ConceptEndedEvent:
		q.handler.ConceptEnded(e)
	case knowledge.ConceptAssessmentEvent:
		q.handler.ConceptAssessment(e)
	case knowledge.TaskStartedEvent:
		q.handler.TaskStarted(e)
	case knowledge.TaskEndedEvent:
		q.handler.TaskEnded(e)
	case knowledge.TaskAssessmentEvent:
		q.handler.TaskAssessment(e)
	default:
		q.log.Warn("unhandled trigger event", "event", kind)
		return
	}
	observability.EventsDispatched.WithLabelValues(kind).Inc()
}
