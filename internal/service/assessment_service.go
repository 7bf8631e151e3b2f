package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"perfassess/internal/cache"
	"perfassess/internal/model"
	"perfassess/internal/observability"
	"perfassess/internal/platform/logger"
	"perfassess/internal/proxy"
	"perfassess/internal/repository"
	"perfassess/internal/scenario"
	"perfassess/internal/session"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrServiceClosed   = errors.New("assessment service closed")
	ErrPersistence     = errors.New("persistence failed")
)

const (
	sinkBuffer   = 256
	storeTimeout = 5 * time.Second
)

// AssessmentConfig tunes snapshot publication
type AssessmentConfig struct {
	QueueWait         time.Duration
	SnapshotInterval  time.Duration
	SnapshotRateLimit float64
	SnapshotBurst     int
}

// Stores are the external sinks a published snapshot goes to
type Stores struct {
	Sessions  repository.SessionRepo
	Snapshots repository.SnapshotRepo
	Overrides repository.OverrideRepo
	Latest    cache.SnapshotCache
	Attention cache.AttentionCache
	Bus       cache.SnapshotBus
}

// AssessmentService hosts the live sessions of this replica
type AssessmentService struct {
	cfg         AssessmentConfig
	stores      Stores
	registry    *proxy.Registry
	broadcaster Broadcaster
	log         *logger.Logger
	validate    *validator.Validate
	sink        chan published

	mu       sync.RWMutex
	sessions map[string]*liveSession
	closed   bool
}

type liveSession struct {
	sess      *session.Session
	pub       *sessionPublisher
	createdBy string
	// finished is closed once the ended session is persisted and cleaned up
	finished chan struct{}
}

type published struct {
	snap  *model.PerformanceAssessment
	cause model.UpdateCause
}

// NewAssessmentService creates an assessment service
func NewAssessmentService(cfg AssessmentConfig, stores Stores, log *logger.Logger) *AssessmentService {
	if log == nil {
		log = logger.NewNop()
	}
	return &AssessmentService{
		cfg:         cfg,
		stores:      stores,
		registry:    proxy.NewRegistry(),
		broadcaster: nopBroadcaster{},
		log:         log,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		sink:        make(chan published, sinkBuffer),
		sessions:    make(map[string]*liveSession),
	}
}

// SetBroadcaster sets the broadcaster for WebSocket events
func (s *AssessmentService) SetBroadcaster(b Broadcaster) {
	if b == nil {
		b = nopBroadcaster{}
	}
	s.broadcaster = b
}

// Registry maps node ids of every hosted session to their session's proxy
func (s *AssessmentService) Registry() *proxy.Registry {
	return s.registry
}

// CreateSession builds a definition into a new session. The session is
// hosted but not started.
func (s *AssessmentService) CreateSession(ctx context.Context, def *scenario.Definition, createdBy string) (*model.SessionRecord, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrServiceClosed
	}

	built, err := scenario.Build(def)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ls := &liveSession{createdBy: createdBy, finished: make(chan struct{})}
	ls.pub = &sessionPublisher{
		svc:     s,
		ls:      ls,
		id:      id,
		limiter: rate.NewLimiter(rate.Limit(s.cfg.SnapshotRateLimit), max(s.cfg.SnapshotBurst, 1)),
	}
	sess, err := session.New(session.Config{
		ID:          id,
		Name:        built.Name,
		Tasks:       built.Tasks,
		Team:        built.Team,
		Registry:    s.registry,
		Publisher:   ls.pub,
		Presenter:   &surveyPresenter{svc: s, sessionID: id},
		Log:         s.log,
		EndTriggers: built.EndTriggers,
		QueueWait:   s.cfg.QueueWait,
	})
	if err != nil {
		return nil, err
	}
	ls.sess = sess

	rec := &model.SessionRecord{
		ID:        id,
		Name:      built.Name,
		Status:    model.SessionCreated,
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
	}
	if err := s.stores.Sessions.Create(ctx, rec); err != nil {
		sess.Terminate("The session could not be recorded.")
		return nil, fmt.Errorf("%w: recording session: %w", ErrPersistence, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sess.Terminate(session.ReasonTerminated)
		return nil, ErrServiceClosed
	}
	s.sessions[id] = ls
	s.mu.Unlock()

	s.log.Info("session created", "session", id, "name", built.Name, "tasks", len(built.Tasks))
	return rec, nil
}

func (s *AssessmentService) live(id string) (*liveSession, error) {
	s.mu.RLock()
	ls, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return ls, nil
}

// GetSession returns the lifecycle record of a live or past session
func (s *AssessmentService) GetSession(ctx context.Context, id string) (*model.SessionRecord, error) {
	rec, err := s.stores.Sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return rec, nil
}

// ListSessions returns session records, newest first
func (s *AssessmentService) ListSessions(ctx context.Context, status model.SessionStatus, limit int) ([]*model.SessionRecord, error) {
	return s.stores.Sessions.List(ctx, status, limit)
}

func (s *AssessmentService) StartSession(ctx context.Context, id string) error {
	ls, err := s.live(id)
	if err != nil {
		return err
	}
	if err := ls.sess.Start(); err != nil {
		return err
	}
	if err := s.stores.Sessions.MarkStarted(ctx, id, time.Now()); err != nil {
		s.log.Warn("failed to record session start", "session", id, "error", err)
	}
	s.broadcaster.BroadcastToObservers(id, MsgSessionStarted, map[string]string{"sessionId": id})
	return nil
}

// EndSession terminates a live session. Persisting the end happens once the
// session reports it has ended.
func (s *AssessmentService) EndSession(ctx context.Context, id, reason string) error {
	ls, err := s.live(id)
	if err != nil {
		return err
	}
	ls.sess.Terminate(reason)
	return nil
}

func (s *AssessmentService) HandleMessage(ctx context.Context, id string, msg model.Message) (*model.PerformanceAssessment, error) {
	ls, err := s.live(id)
	if err != nil {
		return nil, err
	}
	return ls.sess.HandleMessage(ctx, msg)
}

func (s *AssessmentService) HandleConversation(ctx context.Context, id string, assessments []model.ConversationAssessment) (bool, error) {
	if err := s.validate.Var(assessments, "required,dive"); err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	ls, err := s.live(id)
	if err != nil {
		return false, err
	}
	return ls.sess.HandleConversationAssessment(assessments)
}

func (s *AssessmentService) HandleSurvey(ctx context.Context, id, nodeName string, resp model.SurveyResponse) error {
	if err := s.validate.Struct(resp); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	ls, err := s.live(id)
	if err != nil {
		return err
	}
	return ls.sess.HandleSurveyResults(nodeName, resp)
}

// EvaluatorUpdate applies an observer override and records it in the audit
// trail
func (s *AssessmentService) EvaluatorUpdate(ctx context.Context, id, observerID string, req model.EvaluatorUpdateRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	ls, err := s.live(id)
	if err != nil {
		return err
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}
	if err := ls.sess.HandleEvaluatorUpdate(req); err != nil {
		return err
	}

	rec := &model.OverrideRecord{
		SessionID:  id,
		ObserverID: observerID,
		Request:    req,
		ReceivedAt: time.Now(),
	}
	if err := s.stores.Overrides.Save(ctx, rec); err != nil {
		return fmt.Errorf("%w: recording override: %w", ErrPersistence, err)
	}
	return nil
}

func (s *AssessmentService) ApplyStrategy(ctx context.Context, id string, ev model.StrategyAppliedEvent) error {
	if err := s.validate.Struct(ev); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	ls, err := s.live(id)
	if err != nil {
		return err
	}
	return ls.sess.AppliedStrategy(ev)
}

func (s *AssessmentService) RequestAssessment(ctx context.Context, id, nodeName string) (bool, error) {
	ls, err := s.live(id)
	if err != nil {
		return false, err
	}
	return ls.sess.RequestAssessment(nodeName)
}

// Snapshot returns the current snapshot of a live session, falling back to
// the cached and then the archived snapshot of a session hosted elsewhere or
// already ended
func (s *AssessmentService) Snapshot(ctx context.Context, id string) (*model.PerformanceAssessment, error) {
	if ls, err := s.live(id); err == nil {
		return ls.sess.Snapshot()
	}
	snap, err := s.stores.Latest.Get(ctx, id)
	if err != nil {
		s.log.Warn("snapshot cache read failed", "session", id, "error", err)
	}
	if snap != nil {
		return snap, nil
	}
	rec, err := s.stores.Snapshots.Latest(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return &rec.Snapshot, nil
}

// Score grades a live session, or returns the score captured when it ended.
// Nil when nothing has been scored.
func (s *AssessmentService) Score(ctx context.Context, id string) (*model.GradedScoreNode, error) {
	if ls, err := s.live(id); err == nil {
		return ls.sess.Score(), nil
	}
	rec, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Score, nil
}

// Attention lists the nodes below expectation, highest priority first
func (s *AssessmentService) Attention(ctx context.Context, id string, limit int) ([]model.AttentionEntry, error) {
	return s.stores.Attention.Top(ctx, id, limit)
}

// Overrides returns the audit trail of a session
func (s *AssessmentService) Overrides(ctx context.Context, id string) ([]*model.OverrideRecord, error) {
	return s.stores.Overrides.ListBySession(ctx, id)
}

// Run stores published snapshots, forwards snapshots from other replicas to
// local observers and republishes on SnapshotInterval until ctx is done
func (s *AssessmentService) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.drainSink(ctx)
		return nil
	})
	if s.stores.Bus != nil {
		g.Go(func() error {
			return s.stores.Bus.Subscribe(ctx, func(snap *model.PerformanceAssessment) {
				s.broadcaster.BroadcastToObservers(snap.SessionID, MsgSnapshot, SnapshotMessage{Snapshot: snap})
			})
		})
	}
	if s.cfg.SnapshotInterval > 0 {
		g.Go(func() error {
			s.republish(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (s *AssessmentService) drainSink(ctx context.Context) {
	for {
		select {
		case p := <-s.sink:
			s.store(ctx, p)
		case <-ctx.Done():
			// flush what was published before shutdown
			flushCtx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			for {
				select {
				case p := <-s.sink:
					s.store(flushCtx, p)
				default:
					return
				}
			}
		}
	}
}

func (s *AssessmentService) store(ctx context.Context, p published) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	id := p.snap.SessionID

	if err := s.stores.Latest.Set(ctx, p.snap); err != nil {
		s.log.Warn("failed to cache snapshot", "session", id, "error", err)
	}
	if err := s.stores.Attention.Replace(ctx, id, attentionEntries(p.snap)); err != nil {
		s.log.Warn("failed to rank attention", "session", id, "error", err)
	}
	if s.stores.Bus != nil {
		if err := s.stores.Bus.Publish(ctx, p.snap); err != nil {
			s.log.Warn("failed to publish snapshot", "session", id, "error", err)
		}
	}
	rec := &model.SnapshotRecord{SessionID: id, Cause: p.cause, Snapshot: *p.snap}
	if err := s.stores.Snapshots.Save(ctx, rec); err != nil {
		s.log.Warn("failed to archive snapshot", "session", id, "error", err)
	}
}

func (s *AssessmentService) republish(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ls := range s.liveSessions() {
				if !ls.sess.Started() || ls.sess.Ended() {
					continue
				}
				snap, err := ls.sess.Snapshot()
				if err != nil {
					s.log.Warn("periodic snapshot failed", "session", ls.sess.ID(), "error", err)
					continue
				}
				ls.pub.PublishSnapshot(snap, "")
			}
		}
	}
}

func (s *AssessmentService) liveSessions() []*liveSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*liveSession, 0, len(s.sessions))
	for _, ls := range s.sessions {
		out = append(out, ls)
	}
	return out
}

// Close refuses new sessions, terminates the live ones and waits for them
// to be persisted and cleaned up
func (s *AssessmentService) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	sessions := s.liveSessions()
	for _, ls := range sessions {
		ls.sess.Terminate("The server is shutting down.")
	}
	for _, ls := range sessions {
		select {
		case <-ls.finished:
		case <-ctx.Done():
			return fmt.Errorf("waiting for sessions to end: %w", ctx.Err())
		}
	}
	return nil
}

// emit pushes a snapshot to local observers and queues it for the stores.
// The stores are skipped when Run is too far behind.
func (s *AssessmentService) emit(snap *model.PerformanceAssessment, cause model.UpdateCause) {
	s.broadcaster.BroadcastToObservers(snap.SessionID, MsgSnapshot, SnapshotMessage{Cause: cause, Snapshot: snap})
	select {
	case s.sink <- published{snap: snap, cause: cause}:
		observability.SnapshotsPublished.WithLabelValues("ok").Inc()
	default:
		observability.SnapshotsPublished.WithLabelValues("dropped").Inc()
		s.log.Warn("snapshot sink full, not storing", "session", snap.SessionID)
	}
}

// finish runs when a session reports it ended
func (s *AssessmentService) finish(ls *liveSession, reason string) {
	id := ls.sess.ID()
	s.mu.Lock()
	if s.sessions[id] == ls {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	s.broadcaster.BroadcastToObservers(id, MsgSessionEnded, map[string]string{"sessionId": id, "reason": reason})
	s.broadcaster.DisconnectSession(id)

	// session end can be reported from inside task handling, so the rest
	// runs outside of it
	go func() {
		defer close(ls.finished)
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := ls.sess.Cleanup(ctx); err != nil {
			s.log.Warn("session cleanup incomplete", "session", id, "error", err)
		}
		if err := s.stores.Sessions.MarkEnded(ctx, id, reason, ls.sess.Score(), time.Now()); err != nil {
			s.log.Warn("failed to record session end", "session", id, "error", err)
		}
		s.log.Info("session finished", "session", id, "reason", reason)
	}()
}

// attentionEntries lists every task and concept below expectation
func attentionEntries(snap *model.PerformanceAssessment) []model.AttentionEntry {
	var out []model.AttentionEntry
	add := func(a *model.Assessment) {
		if a.Level != model.BelowExpectation {
			return
		}
		e := model.AttentionEntry{NodeID: a.ID.String(), Name: a.Name}
		if a.Priority != nil {
			e.Priority = *a.Priority
		}
		out = append(out, e)
	}
	for i := range snap.Tasks {
		add(&snap.Tasks[i].Assessment)
	}
	snap.Walk(func(_ *model.TaskSnapshot, c *model.ConceptSnapshot) {
		add(&c.Assessment)
	})
	return out
}
