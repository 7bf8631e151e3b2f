package knowledge

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"perfassess/internal/metric"
	"perfassess/internal/model"
	"perfassess/internal/observability"
	"perfassess/internal/platform/logger"
	"perfassess/internal/proxy"

	"github.com/google/uuid"
)

// ConversationConfidenceThreshold is the minimum confidence for a
// conversation assessment to be applied
const ConversationConfidenceThreshold = 0.80

var (
	ErrNilMetric   = errors.New("metric can't be nil")
	ErrNotAttached = errors.New("node is not attached to a session")
)

// node holds what tasks, concepts and intermediate concepts share. Its
// working assessment is private; every change is published to the proxy as a
// clone.
type node struct {
	id     uuid.UUID
	nodeID int
	name   string
	kind   model.NodeKind

	log   *logger.Logger
	proxy *proxy.AssessmentProxy

	mu                sync.Mutex
	working           *model.Assessment
	active            bool
	finished          bool
	latestSurveyLevel model.AssessmentLevel

	lessonAssessments []LessonAssessment

	performance metric.PerformanceMetric
	confidence  metric.ConfidenceMetric
	competence  metric.CompetenceMetric
	trend       metric.TrendMetric
	priority    metric.PriorityMetric
	grade       metric.GradeMetric
	childArgs   map[uuid.UUID]*metric.Args

	// hooks set by the variant
	childIDs   func() []uuid.UUID
	conditions func() []metric.ConditionResult
}

func newNode(nodeID int, name string, kind model.NodeKind) (*node, error) {
	working, err := model.NewAssessment(uuid.New(), nodeID, name, kind)
	if err != nil {
		return nil, err
	}
	return &node{
		id:                working.ID,
		nodeID:            nodeID,
		name:              name,
		kind:              kind,
		log:               logger.NewNop(),
		working:           working,
		latestSurveyLevel: model.Unknown,
		childArgs:         make(map[uuid.UUID]*metric.Args),
	}, nil
}

// ID is the session scoped id used as the proxy key
func (n *node) ID() uuid.UUID        { return n.id }
func (n *node) NodeID() int          { return n.nodeID }
func (n *node) Name() string         { return n.name }
func (n *node) Kind() model.NodeKind { return n.kind }

func (n *node) IsActive() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active
}

func (n *node) IsFinished() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.finished
}

// Level is the level currently held by the node
func (n *node) Level() model.AssessmentLevel {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.working.Level
}

// Assessment returns a copy of the node's current assessment
func (n *node) Assessment() *model.Assessment {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.working.Clone()
}

func (n *node) SetScenarioSupport(support bool) {
	n.mu.Lock()
	n.working.ScenarioSupport = support
	n.mu.Unlock()
}

func (n *node) SetPriority(p *int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.working.UpdatePriority(p, true)
}

func (n *node) AddLessonAssessment(la LessonAssessment) {
	if la == nil {
		return
	}
	n.mu.Lock()
	n.lessonAssessments = append(n.lessonAssessments, la)
	n.mu.Unlock()
}

func (n *node) lessons() []LessonAssessment {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]LessonAssessment(nil), n.lessonAssessments...)
}

// SetChildArgs records authored metric arguments for a child
func (n *node) SetChildArgs(child uuid.UUID, args *metric.Args) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.childArgs[child] = args
	if n.performance != nil {
		n.performance.SetChildArgs(n.childArgs)
	}
}

func (n *node) SetPerformanceMetric(m metric.PerformanceMetric) error {
	if m == nil {
		return fmt.Errorf("%w: performance for %q", ErrNilMetric, n.name)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	m.SetChildArgs(n.childArgs)
	n.performance = m
	return nil
}

func (n *node) SetConfidenceMetric(m metric.ConfidenceMetric) error {
	if m == nil {
		return fmt.Errorf("%w: confidence for %q", ErrNilMetric, n.name)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confidence = m
	return nil
}

func (n *node) SetCompetenceMetric(m metric.CompetenceMetric) error {
	if m == nil {
		return fmt.Errorf("%w: competence for %q", ErrNilMetric, n.name)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.competence = m
	return nil
}

func (n *node) SetTrendMetric(m metric.TrendMetric) error {
	if m == nil {
		return fmt.Errorf("%w: trend for %q", ErrNilMetric, n.name)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.trend = m
	return nil
}

func (n *node) SetPriorityMetric(m metric.PriorityMetric) error {
	if m == nil {
		return fmt.Errorf("%w: priority for %q", ErrNilMetric, n.name)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.priority = m
	return nil
}

func (n *node) SetGradeMetric(m metric.GradeMetric) error {
	if m == nil {
		return fmt.Errorf("%w: grade for %q", ErrNilMetric, n.name)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.grade = m
	return nil
}

// attach binds the node to its session's proxy and publishes its initial value
func (n *node) attach(p *proxy.AssessmentProxy, log *logger.Logger) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.proxy = p
	n.log = log.With("node", n.name, "kind", string(n.kind))
	n.publishLocked()
}

// publishLocked hands a clone of the working copy to the proxy. n.mu must be
// held.
func (n *node) publishLocked() *model.Assessment {
	a := n.working.Clone()
	if n.proxy != nil {
		n.proxy.FireAssessmentUpdate(a)
	}
	return a
}

func (n *node) setStateLocked(state model.NodeState) {
	n.working.State = state
	n.working.Time = time.Now()
}

type metricView struct{ n *node }

func (v metricView) Name() string               { return v.n.name }
func (v metricView) Kind() model.NodeKind       { return v.n.kind }
func (v metricView) Working() *model.Assessment { return v.n.working }

func (v metricView) ChildIDs() []uuid.UUID {
	if v.n.childIDs == nil {
		return nil
	}
	return v.n.childIDs()
}

func (v metricView) Conditions() []metric.ConditionResult {
	if v.n.conditions == nil {
		return nil
	}
	return v.n.conditions()
}

// source returns the proxy as a metric source. A detached node gets a source
// that fails every lookup.
func (n *node) source() metric.AssessmentSource {
	if n.proxy == nil {
		return detached{}
	}
	return n.proxy
}

type detached struct{}

func (detached) Get(uuid.UUID) (*model.Assessment, error) { return nil, ErrNotAttached }

// calc runs one metric. Errors and panics are logged and count as no change.
func (n *node) calc(name string, fn func() (bool, error)) (changed bool) {
	defer func() {
		if r := recover(); r != nil {
			changed = false
			observability.MetricFailures.WithLabelValues(name).Inc()
			n.log.Error("metric panicked", "metric", name, "panic", r)
		}
	}()
	c, err := fn()
	if err != nil {
		observability.MetricFailures.WithLabelValues(name).Inc()
		n.log.Error("metric failed", "metric", name, "error", err)
		return false
	}
	return c
}

func (n *node) performanceMetric() metric.PerformanceMetric {
	if n.performance == nil {
		n.performance = &metric.DefaultPerformance{}
		n.performance.SetChildArgs(n.childArgs)
	}
	return n.performance
}

func (n *node) confidenceMetric() metric.ConfidenceMetric {
	if n.confidence == nil {
		n.confidence = metric.DefaultConfidence{}
	}
	return n.confidence
}

func (n *node) competenceMetric() metric.CompetenceMetric {
	if n.competence == nil {
		n.competence = metric.DefaultCompetence{}
	}
	return n.competence
}

func (n *node) trendMetric() metric.TrendMetric {
	if n.trend == nil {
		n.trend = metric.DefaultTrend{}
	}
	return n.trend
}

func (n *node) priorityMetric() metric.PriorityMetric {
	if n.priority == nil {
		n.priority = metric.DefaultPriority{}
	}
	return n.priority
}

func (n *node) gradeMetric() metric.GradeMetric {
	if n.grade == nil {
		n.grade = metric.DefaultGrade{}
	}
	return n.grade
}

// calculateMetricsLocked recomputes the five assessment metrics. n.mu must be
// held.
func (n *node) calculateMetricsLocked() bool {
	v, src := metricView{n}, n.source()
	changed := n.calc("performance", func() (bool, error) { return n.performanceMetric().SetPerformance(v, src) })
	changed = n.calc("confidence", func() (bool, error) { return n.confidenceMetric().SetConfidence(v, src) }) || changed
	changed = n.calc("competence", func() (bool, error) { return n.competenceMetric().SetCompetence(v, src) }) || changed
	changed = n.calc("trend", func() (bool, error) { return n.trendMetric().SetTrend(v, src) }) || changed
	changed = n.calc("priority", func() (bool, error) { return n.priorityMetric().SetPriority(v, src) }) || changed
	return changed
}

// recompute recalculates and publishes unless a survey assessment is in force.
// Returns the published value, or nil when nothing was recomputed.
func (n *node) recompute(force bool) *model.Assessment {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.latestSurveyLevel.IsKnown() {
		return nil
	}
	if !n.calculateMetricsLocked() && !force {
		return nil
	}
	return n.publishLocked()
}

// ResetSurveyLevel lets automatic recomputation take over again
func (n *node) ResetSurveyLevel() {
	n.mu.Lock()
	n.latestSurveyLevel = model.Unknown
	n.mu.Unlock()
}

func (n *node) gradeScore(score *model.GradedScoreNode) *model.GradedScoreNode {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.gradeMetric().UpdateGrade(metricView{n}, score); err != nil {
		n.log.Error("grade metric failed", "error", err)
	}
	return score
}

// requestAssessment dispatches the first lesson assessment the node can
// handle. Reports whether one was dispatched.
func (n *node) requestAssessment(presenter SurveyPresenter, self any) bool {
	for _, la := range n.lessons() {
		switch la.LessonKind() {
		case LessonSurvey:
			survey, ok := la.(SurveyAssessment)
			if !ok || presenter == nil || self == nil {
				n.log.Error("unable to present survey lesson assessment", "lesson", fmt.Sprintf("%T", la))
				continue
			}
			listener, _ := self.(SurveyResultListener)
			presenter.PresentSurvey(n.name, survey.SurveyName(), listener)
			return true
		case LessonConditions:
			if assessor, ok := self.(ConditionAssessor); ok {
				assessor.AssessConditions()
				return true
			}
			n.log.Error("node can't assess conditions", "lesson", la.LessonKind())
		default:
			n.log.Error("unhandled lesson assessment", "lesson", la.LessonKind())
		}
	}
	return false
}

// applySurvey assesses the node from survey responses. Returns the published
// value when the survey produced a known level.
func (n *node) applySurvey(resp model.SurveyResponse) *model.Assessment {
	var survey SurveyAssessment
	for _, la := range n.lessons() {
		if s, ok := la.(SurveyAssessment); ok && la.LessonKind() == LessonSurvey {
			survey = s
			break
		}
	}
	if survey == nil {
		n.log.Warn("received survey results without a survey lesson assessment", "survey", resp.SurveyName)
		return nil
	}
	level := survey.Assess(resp)
	if !level.IsKnown() {
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.latestSurveyLevel = level
	n.working.UpdateLevel(level, false)
	n.working.AddExplanation(surveyExplanation(survey.SurveyName(), level))
	return n.publishLocked()
}

// applyConversation applies the first assessment naming this node. Returns
// nil when there was no match or its confidence was too low.
func (n *node) applyConversation(assessments []model.ConversationAssessment) *model.Assessment {
	for _, ca := range assessments {
		if ca.Concept != n.name {
			continue
		}
		if ca.Confidence < ConversationConfidenceThreshold {
			return nil
		}
		n.mu.Lock()
		defer n.mu.Unlock()
		n.working.UpdateLevel(ca.Level, false)
		if err := n.working.UpdateConfidence(ca.Confidence, false); err != nil {
			n.log.Warn("ignoring conversation confidence", "error", err)
		}
		return n.publishLocked()
	}
	return nil
}

// applyEvaluatorUpdate writes an observer override through any holds
func (n *node) applyEvaluatorUpdate(req model.EvaluatorUpdateRequest) (*model.Assessment, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	w := n.working

	if req.Performance != nil {
		if len(req.TeamOrgEntities) > 0 {
			w.AddTeamOrgEntries(req.TeamOrgEntities)
		} else {
			for member := range w.TeamOrgEntities {
				w.TeamOrgEntities[member] = *req.Performance
			}
		}
		w.UpdateLevel(*req.Performance, true)
	} else if len(req.TeamOrgEntities) > 0 {
		w.AddTeamOrgEntries(req.TeamOrgEntities)
	}
	if req.Confidence != nil {
		if err := w.UpdateConfidence(*req.Confidence, true); err != nil {
			return nil, err
		}
	}
	if req.Competence != nil {
		if err := w.UpdateCompetence(*req.Competence, true); err != nil {
			return nil, err
		}
	}
	if req.Trend != nil {
		if err := w.UpdateTrend(*req.Trend, true); err != nil {
			return nil, err
		}
	}
	if req.Priority != nil {
		if err := w.UpdatePriority(req.Priority, true); err != nil {
			return nil, err
		}
	}

	if req.AssessmentHold != nil {
		w.Holds.Assessment = *req.AssessmentHold
	}
	if req.ConfidenceHold != nil {
		w.Holds.Confidence = *req.ConfidenceHold
	}
	if req.CompetenceHold != nil {
		w.Holds.Competence = *req.CompetenceHold
	}
	if req.TrendHold != nil {
		w.Holds.Trend = *req.TrendHold
	}
	if req.PriorityHold != nil {
		w.Holds.Priority = *req.PriorityHold
	}

	if req.Evaluator != "" {
		w.Evaluator = req.Evaluator
	}
	w.ObserverComment = req.Reason
	w.ObserverMedia = req.MediaFile
	w.AddExplanation(overrideExplanation(req))
	w.Time = req.Timestamp
	if w.Time.IsZero() {
		w.Time = time.Now()
	}
	return n.publishLocked(), nil
}

func overrideExplanation(req model.EvaluatorUpdateRequest) string {
	if strings.TrimSpace(req.Reason) != "" {
		return req.Reason
	}
	if len(req.TeamOrgEntities) == 0 {
		return ""
	}
	members := make([]string, 0, len(req.TeamOrgEntities))
	for m := range req.TeamOrgEntities {
		members = append(members, m)
	}
	sort.Strings(members)
	verb := "has"
	if len(members) > 1 {
		verb = "have"
	}
	return fmt.Sprintf("[%s] %s been assessed.", strings.Join(members, ", "), verb)
}
