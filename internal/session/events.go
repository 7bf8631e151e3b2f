package session

import (
	"perfassess/internal/knowledge"
	"perfassess/internal/model"
	"perfassess/internal/trigger"
)

// Tasks report to the session through the event queue so that their
// notifications are handled outside of their own locks.

func (s *Session) TaskStarted(t *knowledge.Task) {
	s.queue.AddEvent(knowledge.TaskStartedEvent{Task: t})
}

func (s *Session) TaskEnded(t *knowledge.Task) {
	s.queue.AddEvent(knowledge.TaskEndedEvent{Task: t})
}

func (s *Session) TaskAssessmentUpdated(t *knowledge.Task, a *model.Assessment, cause model.UpdateCause) {
	s.queue.AddEvent(knowledge.TaskAssessmentEvent{Task: t, Assessment: a, Cause: cause})
}

func (s *Session) ConceptStarted(t *knowledge.Task, c knowledge.ConceptNode) {
	s.queue.AddEvent(knowledge.ConceptStartedEvent{Task: t, Concept: c})
}

func (s *Session) ConceptEnded(t *knowledge.Task, c knowledge.ConceptNode) {
	s.queue.AddEvent(knowledge.ConceptEndedEvent{Task: t, Concept: c})
}

func (s *Session) ConceptAssessmentUpdated(t *knowledge.Task, c knowledge.ConceptNode) {
	s.queue.AddEvent(knowledge.ConceptAssessmentEvent{Task: t, Concept: c})
}

// DomainActions delivers a fired trigger's feedback right away
func (s *Session) DomainActions(t *knowledge.Task, actions model.DomainActions) {
	s.log.Debug("delivering trigger feedback", "task", t.Name(), "strategy", actions.Strategy.Name)
	s.publisher.PublishFeedback(s.id, actions)
}

func (s *Session) FatalError(t *knowledge.Task, reason string) {
	s.log.Warn("task ended the session", "task", t.Name(), "reason", reason)
	s.end(reason)
}

// handler runs on the event queue's consumer goroutine
type handler struct{ s *Session }

func (h handler) TaskStarted(ev knowledge.TaskStartedEvent) {
	h.s.log.Debug("task started", "task", ev.Task.Name())
}

func (h handler) ConceptStarted(ev knowledge.ConceptStartedEvent) {
	h.s.log.Debug("concept started", "task", ev.Task.Name(), "concept", ev.Concept.Name())
}

// TaskEnded lets the other tasks react to the ended one and ends the session
// once every task has finished
func (h handler) TaskEnded(ev knowledge.TaskEndedEvent) {
	s := h.s
	for _, t := range s.tasks {
		if t != ev.Task {
			s.notify(t, func() { t.TaskEndedNotification(ev.Task) })
		}
	}
	if s.allTasksFinished() {
		s.end(ReasonAllTasksFinished)
		return
	}
	if info := s.shouldEnd(func(tr trigger.Trigger) bool { return tr.ShouldActivateForTask(ev.Task, ev.Task) }); info != nil {
		s.handleEnd(info)
	}
}

func (h handler) ConceptEnded(ev knowledge.ConceptEndedEvent) {
	h.s.conceptChanged(ev.Task, ev.Concept)
}

func (h handler) ConceptAssessment(ev knowledge.ConceptAssessmentEvent) {
	h.s.conceptChanged(ev.Task, ev.Concept)
}

// TaskAssessment defers publishing until the queue drains so that a burst of
// updates produces one snapshot
func (h handler) TaskAssessment(ev knowledge.TaskAssessmentEvent) {
	s := h.s
	s.mu.Lock()
	s.pending = ev.Cause
	s.hasPending = true
	s.mu.Unlock()
}

func (h handler) QueueEmpty() {
	s := h.s
	s.mu.Lock()
	cause, ok := s.pending, s.hasPending
	s.hasPending = false
	s.mu.Unlock()
	if ok && !s.ended.Load() {
		s.publish(cause)
	}
}

// conceptChanged gives the other tasks a chance to start or end on a concept
// they reference, then checks the session end triggers
func (s *Session) conceptChanged(owner *knowledge.Task, c knowledge.ConceptNode) {
	if s.ended.Load() {
		return
	}
	for _, t := range s.tasks {
		if t != owner && !t.IsFinished() {
			s.notify(t, func() { t.ConceptUpdatedNotification(c) })
		}
	}
	if info := s.shouldEnd(func(tr trigger.Trigger) bool { return tr.ShouldActivateForConcept(c) }); info != nil {
		s.handleEnd(info)
	}
}

func (s *Session) notify(t *knowledge.Task, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked handling notification", "task", t.Name(), "panic", r)
		}
	}()
	fn()
}

func (s *Session) allTasksFinished() bool {
	for _, t := range s.tasks {
		if !t.IsFinished() {
			return false
		}
	}
	return true
}
