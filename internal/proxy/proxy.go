package proxy

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"perfassess/internal/model"
	"perfassess/internal/observability"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("assessment not found")
	ErrAlreadyRegistered = errors.New("node already registered")
)

// AssessmentProxy is the store of record for a session's current assessment
// values, keyed by session node id. Values handed to FireAssessmentUpdate are
// owned by the proxy and must not be modified afterwards.
type AssessmentProxy struct {
	sessionID   string
	mu          sync.RWMutex
	assessments map[uuid.UUID]*model.Assessment
}

func New(sessionID string) *AssessmentProxy {
	return &AssessmentProxy{
		sessionID:   sessionID,
		assessments: make(map[uuid.UUID]*model.Assessment),
	}
}

func (p *AssessmentProxy) SessionID() string {
	return p.sessionID
}

// FireAssessmentUpdate replaces the value stored for a.ID
func (p *AssessmentProxy) FireAssessmentUpdate(a *model.Assessment) {
	if a == nil {
		return
	}
	p.mu.Lock()
	p.assessments[a.ID] = a
	p.mu.Unlock()
	observability.AssessmentUpdates.WithLabelValues(string(a.Kind)).Inc()
}

// Get returns the latest value stored for id. The same pointer is returned
// until the next write for that id.
func (p *AssessmentProxy) Get(id uuid.UUID) (*model.Assessment, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.assessments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return a, nil
}

func (p *AssessmentProxy) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.assessments)
}

// GeneratePerformanceAssessment materializes a deep copy of the given tasks
// and every concept below them. Writers are blocked for the duration of the
// walk so the result reflects a single instant.
func (p *AssessmentProxy) GeneratePerformanceAssessment(taskIDs []uuid.UUID) (*model.PerformanceAssessment, error) {
	start := time.Now()
	defer func() { observability.SnapshotDuration.Observe(time.Since(start).Seconds()) }()

	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := &model.PerformanceAssessment{
		SessionID:   p.sessionID,
		Tasks:       make([]model.TaskSnapshot, 0, len(taskIDs)),
		GeneratedAt: start,
	}
	for _, id := range taskIDs {
		task, ok := p.assessments[id]
		if !ok {
			return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
		}
		concepts, err := p.concepts(task.ChildIDs)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", task.Name, err)
		}
		snap.Tasks = append(snap.Tasks, model.TaskSnapshot{Assessment: *task.Clone(), Concepts: concepts})
	}
	return snap, nil
}

// concepts must be called with the read lock held
func (p *AssessmentProxy) concepts(ids []uuid.UUID) ([]model.ConceptSnapshot, error) {
	out := make([]model.ConceptSnapshot, 0, len(ids))
	for _, id := range ids {
		c, ok := p.assessments[id]
		if !ok {
			return nil, fmt.Errorf("%w: concept %s", ErrNotFound, id)
		}
		snap := model.ConceptSnapshot{Assessment: *c.Clone()}
		if c.Kind == model.KindIntermediateConcept {
			sub, err := p.concepts(c.ChildIDs)
			if err != nil {
				return nil, fmt.Errorf("concept %q: %w", c.Name, err)
			}
			snap.Concepts = sub
		}
		out = append(out, snap)
	}
	return out, nil
}
