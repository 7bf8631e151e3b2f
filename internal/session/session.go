package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"perfassess/internal/eventqueue"
	"perfassess/internal/knowledge"
	"perfassess/internal/metric"
	"perfassess/internal/model"
	"perfassess/internal/observability"
	"perfassess/internal/platform/logger"
	"perfassess/internal/proxy"
	"perfassess/internal/trigger"

	"github.com/google/uuid"
)

var (
	ErrNoTasks        = errors.New("session must have at least one task")
	ErrNotStarted     = errors.New("session has not started")
	ErrAlreadyStarted = errors.New("session already started")
	ErrEnded          = errors.New("session has ended")
	ErrUnknownNode    = errors.New("no task or concept with that name")
)

const (
	defaultQueueWait = 5 * time.Second

	ReasonAllTasksFinished = "All tasks have finished."
	ReasonTerminated       = "The session was terminated."
)

// Publisher receives what a session produces for the outside world
type Publisher interface {
	PublishSnapshot(snap *model.PerformanceAssessment, cause model.UpdateCause)
	PublishFeedback(sessionID string, actions model.DomainActions)
	SessionEnded(sessionID, reason string)
}

type Config struct {
	ID        string
	Name      string
	Tasks     []*knowledge.Task
	Team      *model.TeamOrganization
	Registry  *proxy.Registry
	Publisher Publisher
	Presenter knowledge.SurveyPresenter
	Log       *logger.Logger

	// EndTriggers end the whole session; the app stopped trigger is always added
	EndTriggers []trigger.Trigger
	// QueueWait bounds how long message handling waits for the events of the
	// previous message to be handled
	QueueWait time.Duration
}

// Session hosts one assessment tree. It owns the proxy the tree publishes to
// and the event queue its tasks report through.
type Session struct {
	id        string
	name      string
	log       *logger.Logger
	tasks     []*knowledge.Task
	taskIDs   []uuid.UUID
	team      *model.TeamOrganization
	proxy     *proxy.AssessmentProxy
	registry  *proxy.Registry
	queue     *eventqueue.Queue
	publisher Publisher
	presenter knowledge.SurveyPresenter
	queueWait time.Duration

	// msgMu serializes message handling
	msgMu sync.Mutex

	mu          sync.Mutex
	endTriggers []trigger.Trigger
	started     bool
	endReason   string
	endTimer    *time.Timer
	bookmark    bookmark
	pending     model.UpdateCause
	hasPending  bool

	ended atomic.Bool
}

type bookmark struct {
	evaluator string
	comment   string
	media     string
}

// New attaches the tasks to a fresh proxy and registers every node with the
// registry. On error nothing stays registered.
func New(cfg Config) (*Session, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, fmt.Errorf("%w: session id can't be empty", model.ErrInvalidNode)
	}
	if len(cfg.Tasks) == 0 {
		return nil, ErrNoTasks
	}
	log := cfg.Log
	if log == nil {
		log = logger.NewNop()
	}
	log = log.With("session", cfg.ID)
	registry := cfg.Registry
	if registry == nil {
		registry = proxy.NewRegistry()
	}
	s := &Session{
		id:        cfg.ID,
		name:      cfg.Name,
		log:       log,
		tasks:     cfg.Tasks,
		team:      cfg.Team,
		proxy:     proxy.New(cfg.ID),
		registry:  registry,
		publisher: cfg.Publisher,
		presenter: cfg.Presenter,
		queueWait: cfg.QueueWait,
	}
	if s.team == nil {
		s.team = model.NewTeamOrganization()
	}
	if s.publisher == nil {
		s.publisher = nopPublisher{}
	}
	if s.queueWait <= 0 {
		s.queueWait = defaultQueueWait
	}
	s.queue = eventqueue.New(handler{s: s}, log)

	appStopped, err := trigger.NewAppStoppedTrigger("training application stopped")
	if err != nil {
		return nil, err
	}
	s.endTriggers = []trigger.Trigger{appStopped}
	for _, tr := range cfg.EndTriggers {
		if tr == nil {
			return nil, fmt.Errorf("%w: session %q has a nil end trigger", trigger.ErrNilNode, cfg.ID)
		}
		s.endTriggers = append(s.endTriggers, tr)
	}

	for _, t := range s.tasks {
		if t == nil {
			return nil, fmt.Errorf("%w: session %q has a nil task", model.ErrInvalidNode, cfg.ID)
		}
		t.SetListener(s)
		t.Attach(s.proxy, log)
		s.taskIDs = append(s.taskIDs, t.ID())
	}
	if err := s.register(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) register() error {
	var ids []uuid.UUID
	for _, t := range s.tasks {
		ids = append(ids, t.ID())
		t.Walk(func(c knowledge.ConceptNode) { ids = append(ids, c.ID()) })
	}
	for i, id := range ids {
		if err := s.registry.Register(id, s.proxy); err != nil {
			for _, done := range ids[:i] {
				s.registry.Unregister(done)
			}
			return err
		}
	}
	return nil
}

func (s *Session) ID() string                    { return s.id }
func (s *Session) Name() string                  { return s.name }
func (s *Session) Tasks() []*knowledge.Task      { return s.tasks }
func (s *Session) Proxy() *proxy.AssessmentProxy { return s.proxy }
func (s *Session) Ended() bool                   { return s.ended.Load() }

func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Session) EndReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// Start begins assessment. A session with a single playable member gets a
// learner death end trigger.
func (s *Session) Start() error {
	if s.ended.Load() {
		return ErrEnded
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	if s.singleLearner() {
		if _, ok := s.team.Learner(); !ok {
			if first, ok := s.team.FirstPlayable(); ok {
				s.team.SetLearner(first.Name)
			}
		}
		death, err := trigger.NewEntityDestroyedTrigger("learner died", s.team)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.endTriggers = append(s.endTriggers, death)
	}
	s.mu.Unlock()

	s.queue.Start()
	observability.ActiveSessions.Inc()
	for _, t := range s.tasks {
		t.Start()
	}
	s.log.Info("session started", "tasks", len(s.tasks))
	snap, err := s.Snapshot()
	if err != nil {
		return err
	}
	s.publisher.PublishSnapshot(snap, model.CauseTaskInitialized)
	return nil
}

func (s *Session) singleLearner() bool {
	playable := 0
	for _, m := range s.team.Members() {
		if m.Playable {
			playable++
		}
	}
	return playable == 1
}

func (s *Session) ready() error {
	if s.ended.Load() {
		return ErrEnded
	}
	if !s.Started() {
		return ErrNotStarted
	}
	return nil
}

// HandleMessage waits for the events of the previous message, feeds the
// message to every unfinished task and checks the session end triggers.
// Returns a snapshot when an assessment changed, nil otherwise.
func (s *Session) HandleMessage(ctx context.Context, msg model.Message) (*model.PerformanceAssessment, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, s.queueWait)
	defer cancel()
	if err := s.queue.WaitEmpty(waitCtx); err != nil {
		return nil, err
	}

	s.msgMu.Lock()
	defer s.msgMu.Unlock()
	if s.ended.Load() {
		return nil, ErrEnded
	}

	if es, ok := msg.EntityState(); ok {
		s.team.Resolve(es)
	}
	changed := false
	for _, t := range s.tasks {
		if t.IsFinished() {
			continue
		}
		if s.handleTaskMessage(t, msg) {
			changed = true
		}
	}
	if info := s.shouldEnd(func(tr trigger.Trigger) bool { return tr.ShouldActivate(msg) }); info != nil {
		s.handleEnd(info)
	}
	if !changed {
		return nil, nil
	}
	return s.Snapshot()
}

func (s *Session) handleTaskMessage(t *knowledge.Task, msg model.Message) (changed bool) {
	defer func() {
		if r := recover(); r != nil {
			changed = false
			s.log.Error("task panicked handling message", "task", t.Name(), "panic", r)
		}
	}()
	return t.HandleMessage(msg)
}

func (s *Session) shouldEnd(fires func(trigger.Trigger) bool) *trigger.EndInfo {
	s.mu.Lock()
	triggers := append([]trigger.Trigger(nil), s.endTriggers...)
	s.mu.Unlock()
	return trigger.FirstMatch(triggers, fires, func(tr trigger.Trigger, r any) {
		s.log.Error("session end trigger panicked", "trigger", tr.Name(), "panic", r)
	})
}

// handleEnd delivers the trigger's feedback and ends the session now or
// after the trigger's delay
func (s *Session) handleEnd(info *trigger.EndInfo) {
	if s.ended.Load() {
		return
	}
	observability.TriggersFired.WithLabelValues("scenario_end").Inc()
	if info.DomainActions.HasActivities() {
		s.publisher.PublishFeedback(s.id, info.DomainActions)
	}
	reason := fmt.Sprintf("The session end trigger %q fired.", info.Trigger.Name())
	if info.Delay <= 0 {
		s.end(reason)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endTimer != nil {
		return
	}
	s.log.Info("session ending after delay", "trigger", info.Trigger.Name(), "delay", info.Delay.String())
	s.endTimer = time.AfterFunc(info.Delay, func() { s.end(reason) })
}

// Terminate ends the session on request
func (s *Session) Terminate(reason string) {
	if strings.TrimSpace(reason) == "" {
		reason = ReasonTerminated
	}
	s.end(reason)
}

// end runs once. It deactivates the tasks, publishes the final snapshot and
// stops the event queue without waiting for it.
func (s *Session) end(reason string) {
	if !s.ended.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	s.endReason = reason
	if s.endTimer != nil {
		s.endTimer.Stop()
	}
	started := s.started
	s.mu.Unlock()
	if started {
		observability.ActiveSessions.Dec()
	}

	for _, t := range s.tasks {
		t.Deactivate()
	}
	s.log.Info("session ended", "reason", reason)
	if snap, err := s.Snapshot(); err == nil {
		s.publisher.PublishSnapshot(snap, model.CauseTaskDeactivated)
	} else {
		s.log.Error("final snapshot failed", "error", err)
	}
	s.queue.Quit()
	s.publisher.SessionEnded(s.id, reason)
}

// Cleanup ends the session if needed, waits for the event queue to stop and
// unregisters every node
func (s *Session) Cleanup(ctx context.Context) error {
	s.end(ReasonTerminated)
	var err error
	select {
	case <-s.queue.Done():
	case <-ctx.Done():
		err = fmt.Errorf("waiting for event queue to stop: %w", ctx.Err())
	}
	for _, t := range s.tasks {
		t.Cleanup(s.registry)
	}
	return err
}

// Snapshot returns a consistent copy of every task with the session's
// observer bookmark
func (s *Session) Snapshot() (*model.PerformanceAssessment, error) {
	snap, err := s.proxy.GeneratePerformanceAssessment(s.taskIDs)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	snap.Evaluator = s.bookmark.evaluator
	snap.ObserverComment = s.bookmark.comment
	snap.ObserverMedia = s.bookmark.media
	s.mu.Unlock()
	return snap, nil
}

// HandleConversationAssessment applies a conversation's assessments to every
// task. Reports whether any node took one.
func (s *Session) HandleConversationAssessment(assessments []model.ConversationAssessment) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	changed := false
	for _, t := range s.tasks {
		if t.HandleConversationAssessment(assessments) {
			changed = true
		}
	}
	if changed {
		s.publish(model.CauseConceptAsyncUpdated)
	}
	return changed, nil
}

// node is what survey and evaluator requests can target
type node interface {
	HandleSurveyResults(resp model.SurveyResponse)
	HandlePerformanceAssessmentRequest(presenter knowledge.SurveyPresenter) bool
	UpdatePerformanceAssessmentMetrics(req model.EvaluatorUpdateRequest) error
}

// findNode matches a task first, then a concept at any depth, ignoring case
func (s *Session) findNode(name string) (node, bool) {
	for _, t := range s.tasks {
		if strings.EqualFold(t.Name(), name) {
			return t, true
		}
		if c, ok := t.FindConcept(name); ok {
			return c, true
		}
	}
	return nil, false
}

// HandleSurveyResults delivers survey responses to the named node
func (s *Session) HandleSurveyResults(nodeName string, resp model.SurveyResponse) error {
	if err := s.ready(); err != nil {
		return err
	}
	n, ok := s.findNode(nodeName)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, nodeName)
	}
	n.HandleSurveyResults(resp)
	return nil
}

// HandleEvaluatorUpdate records the observer bookmark and applies the
// override to the named node. A request without a node name only updates the
// bookmark.
func (s *Session) HandleEvaluatorUpdate(req model.EvaluatorUpdateRequest) error {
	if s.ended.Load() {
		return ErrEnded
	}
	s.mu.Lock()
	s.bookmark = bookmark{evaluator: req.Evaluator, comment: req.Reason, media: req.MediaFile}
	s.mu.Unlock()

	if strings.TrimSpace(req.NodeName) == "" {
		s.publish(model.CauseTaskEvaluatorUpdate)
		return nil
	}
	n, ok := s.findNode(req.NodeName)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, req.NodeName)
	}
	return n.UpdatePerformanceAssessmentMetrics(req)
}

// AppliedStrategy checks the session end triggers and then lets every task
// react to the strategy
func (s *Session) AppliedStrategy(ev model.StrategyAppliedEvent) error {
	if err := s.ready(); err != nil {
		return err
	}
	if info := s.shouldEnd(func(tr trigger.Trigger) bool { return tr.ShouldActivateForStrategy(ev.StrategyName) }); info != nil {
		s.handleEnd(info)
		return nil
	}
	for _, t := range s.tasks {
		s.strategyApplied(t, ev)
	}
	return nil
}

func (s *Session) strategyApplied(t *knowledge.Task, ev model.StrategyAppliedEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked applying strategy", "task", t.Name(), "strategy", ev.StrategyName, "panic", r)
		}
	}()
	t.StrategyApplied(ev)
}

// RequestAssessment asks the named node for a lesson assessment. Without a
// name every task re-assesses its conditions.
func (s *Session) RequestAssessment(nodeName string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if strings.TrimSpace(nodeName) == "" {
		for _, t := range s.tasks {
			t.AssessConditions()
		}
		return true, nil
	}
	n, ok := s.findNode(nodeName)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownNode, nodeName)
	}
	return n.HandlePerformanceAssessmentRequest(s.presenter), nil
}

// Score grades every task that has run. Nil when nothing was scored.
func (s *Session) Score() *model.GradedScoreNode {
	score := &model.GradedScoreNode{Name: s.name}
	for _, t := range s.tasks {
		if !t.IsActive() && !t.IsFinished() {
			continue
		}
		if child := t.Score(); child != nil {
			score.Children = append(score.Children, child)
		}
	}
	if score.IsLeaf() {
		return nil
	}
	if err := (metric.DefaultGrade{}).UpdateGrade(nil, score); err != nil {
		s.log.Error("session grade failed", "error", err)
	}
	return score
}

func (s *Session) publish(cause model.UpdateCause) {
	snap, err := s.Snapshot()
	if err != nil {
		s.log.Error("snapshot failed", "cause", string(cause), "error", err)
		return
	}
	s.publisher.PublishSnapshot(snap, cause)
}

type nopPublisher struct{}

func (nopPublisher) PublishSnapshot(*model.PerformanceAssessment, model.UpdateCause) {}
func (nopPublisher) PublishFeedback(string, model.DomainActions)                     {}
func (nopPublisher) SessionEnded(string, string)                                     {}
