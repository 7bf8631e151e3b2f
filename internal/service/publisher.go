package service

import (
	"sync"
	"time"

	"perfassess/internal/knowledge"
	"perfassess/internal/model"
	"perfassess/internal/observability"

	"golang.org/x/time/rate"
)

// sessionPublisher rate limits one session's snapshots. A throttled snapshot
// is held and the newest held one goes out when the limiter allows; the final
// snapshot of a session always goes out at once.
type sessionPublisher struct {
	svc     *AssessmentService
	ls      *liveSession
	id      string
	limiter *rate.Limiter

	mu      sync.Mutex
	pending *published
	timer   *time.Timer
	closed  bool
}

func (p *sessionPublisher) PublishSnapshot(snap *model.PerformanceAssessment, cause model.UpdateCause) {
	if cause == model.CauseTaskDeactivated {
		p.mu.Lock()
		p.closed = true
		p.pending = nil
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
		p.mu.Unlock()
		p.svc.emit(snap, cause)
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.pending == nil && p.limiter.Allow() {
		p.mu.Unlock()
		p.svc.emit(snap, cause)
		return
	}
	p.pending = &published{snap: snap, cause: cause}
	if p.timer == nil {
		p.timer = time.AfterFunc(p.limiter.Reserve().Delay(), p.flush)
	}
	p.mu.Unlock()
	observability.SnapshotsPublished.WithLabelValues("throttled").Inc()
}

func (p *sessionPublisher) flush() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.timer = nil
	closed := p.closed
	p.mu.Unlock()
	if pending != nil && !closed {
		p.svc.emit(pending.snap, pending.cause)
	}
}

func (p *sessionPublisher) PublishFeedback(sessionID string, actions model.DomainActions) {
	p.svc.broadcaster.BroadcastToObservers(sessionID, MsgFeedback, actions)
}

func (p *sessionPublisher) SessionEnded(sessionID, reason string) {
	p.svc.finish(p.ls, reason)
}

// surveyPresenter asks observers to put a survey in front of the learner.
// Responses come back through the surveys endpoint by node name.
type surveyPresenter struct {
	svc       *AssessmentService
	sessionID string
}

func (p *surveyPresenter) PresentSurvey(nodeName, surveyName string, _ knowledge.SurveyResultListener) {
	p.svc.broadcaster.BroadcastToObservers(p.sessionID, MsgSurveyRequested, map[string]string{
		"nodeName":   nodeName,
		"surveyName": surveyName,
	})
}
