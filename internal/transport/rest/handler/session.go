package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"perfassess/internal/model"
	"perfassess/internal/scenario"
	"perfassess/internal/transport/rest/middleware"

	"github.com/gorilla/mux"
)

const (
	maxDefinitionBytes = 1 << 20
	defaultListLimit   = 50
	defaultTopLimit    = 10
)

// SessionService is what the session endpoints need from the assessment
// service
type SessionService interface {
	CreateSession(ctx context.Context, def *scenario.Definition, createdBy string) (*model.SessionRecord, error)
	GetSession(ctx context.Context, id string) (*model.SessionRecord, error)
	ListSessions(ctx context.Context, status model.SessionStatus, limit int) ([]*model.SessionRecord, error)
	StartSession(ctx context.Context, id string) error
	EndSession(ctx context.Context, id, reason string) error
	HandleMessage(ctx context.Context, id string, msg model.Message) (*model.PerformanceAssessment, error)
	HandleConversation(ctx context.Context, id string, assessments []model.ConversationAssessment) (bool, error)
	HandleSurvey(ctx context.Context, id, nodeName string, resp model.SurveyResponse) error
	EvaluatorUpdate(ctx context.Context, id, observerID string, req model.EvaluatorUpdateRequest) error
	ApplyStrategy(ctx context.Context, id string, ev model.StrategyAppliedEvent) error
	RequestAssessment(ctx context.Context, id, nodeName string) (bool, error)
	Snapshot(ctx context.Context, id string) (*model.PerformanceAssessment, error)
	Score(ctx context.Context, id string) (*model.GradedScoreNode, error)
	Attention(ctx context.Context, id string, limit int) ([]model.AttentionEntry, error)
	Overrides(ctx context.Context, id string) ([]*model.OverrideRecord, error)
}

// SessionHandler handles session endpoints
type SessionHandler struct {
	svc SessionService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(svc SessionService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

// EndSessionRequest is the optional body of POST /v1/sessions/{id}/end
type EndSessionRequest struct {
	Reason string `json:"reason" validate:"max=1024"`
}

// SurveyRequest delivers a learner's survey responses to a task or concept
type SurveyRequest struct {
	NodeName string               `json:"nodeName" validate:"required"`
	Response model.SurveyResponse `json:"response"`
}

// Create handles POST /v1/sessions. The body is a session definition in JSON
// or YAML, picked by Content-Type.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDefinitionBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "definition too large")
		return
	}
	def, err := scenario.Decode(data, r.Header.Get("Content-Type"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	rec, err := h.svc.CreateSession(r.Context(), def, middleware.GetObserverID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// List handles GET /v1/sessions?status=&limit=
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit)
	recs, err := h.svc.ListSessions(r.Context(), model.SessionStatus(r.URL.Query().Get("status")), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if recs == nil {
		recs = []*model.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// Get handles GET /v1/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Start handles POST /v1/sessions/{id}/start
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.StartSession(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(model.SessionActive)})
}

// End handles POST /v1/sessions/{id}/end
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	var req EndSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.EndSession(r.Context(), mux.Vars(r)["id"], req.Reason); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": string(model.SessionEnded)})
}

// Message handles POST /v1/sessions/{id}/messages. It answers with the new
// snapshot, or 204 when the message changed nothing.
func (h *SessionHandler) Message(w http.ResponseWriter, r *http.Request) {
	var msg model.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := h.svc.HandleMessage(r.Context(), mux.Vars(r)["id"], msg)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if snap == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Conversation handles POST /v1/sessions/{id}/conversation
func (h *SessionHandler) Conversation(w http.ResponseWriter, r *http.Request) {
	var assessments []model.ConversationAssessment
	if err := json.NewDecoder(r.Body).Decode(&assessments); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	changed, err := h.svc.HandleConversation(r.Context(), mux.Vars(r)["id"], assessments)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

// Survey handles POST /v1/sessions/{id}/surveys
func (h *SessionHandler) Survey(w http.ResponseWriter, r *http.Request) {
	var req SurveyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.HandleSurvey(r.Context(), mux.Vars(r)["id"], req.NodeName, req.Response); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Evaluator handles POST /v1/sessions/{id}/evaluator
func (h *SessionHandler) Evaluator(w http.ResponseWriter, r *http.Request) {
	var req model.EvaluatorUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	observerID := middleware.GetObserverID(r.Context())
	if err := h.svc.EvaluatorUpdate(r.Context(), mux.Vars(r)["id"], observerID, req); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Strategy handles POST /v1/sessions/{id}/strategies
func (h *SessionHandler) Strategy(w http.ResponseWriter, r *http.Request) {
	var ev model.StrategyAppliedEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.ApplyStrategy(r.Context(), mux.Vars(r)["id"], ev); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Assessment handles POST /v1/sessions/{id}/assessments/{node}, and
// POST /v1/sessions/{id}/assessments for every task
func (h *SessionHandler) Assessment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	requested, err := h.svc.RequestAssessment(r.Context(), vars["id"], vars["node"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"requested": requested})
}

// Snapshot handles GET /v1/sessions/{id}/snapshot
func (h *SessionHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Snapshot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Score handles GET /v1/sessions/{id}/score
func (h *SessionHandler) Score(w http.ResponseWriter, r *http.Request) {
	score, err := h.svc.Score(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if score == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

// Attention handles GET /v1/sessions/{id}/attention?limit=
func (h *SessionHandler) Attention(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Attention(r.Context(), mux.Vars(r)["id"], queryInt(r, "limit", defaultTopLimit))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []model.AttentionEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Overrides handles GET /v1/sessions/{id}/overrides
func (h *SessionHandler) Overrides(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.Overrides(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if recs == nil {
		recs = []*model.OverrideRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
