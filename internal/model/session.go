package model

import "time"

type SessionStatus string

const (
	SessionCreated SessionStatus = "created"
	SessionActive  SessionStatus = "active"
	SessionEnded   SessionStatus = "ended"
)

// SessionRecord is the persisted lifecycle of one knowledge session
type SessionRecord struct {
	ID        string        `json:"id" bson:"_id"`
	Name      string        `json:"name" bson:"name"`
	Status    SessionStatus `json:"status" bson:"status"`
	CreatedBy string        `json:"createdBy,omitempty" bson:"createdBy,omitempty"`
	CreatedAt time.Time     `json:"createdAt" bson:"createdAt"`
	StartedAt *time.Time    `json:"startedAt,omitempty" bson:"startedAt,omitempty"`
	EndedAt   *time.Time    `json:"endedAt,omitempty" bson:"endedAt,omitempty"`
	EndReason string        `json:"endReason,omitempty" bson:"endReason,omitempty"`

	// Score is the graded score tree captured when the session ended
	Score *GradedScoreNode `json:"score,omitempty" bson:"score,omitempty"`
}

// OverrideRecord audits one evaluator override
type OverrideRecord struct {
	ID         string                 `json:"id" bson:"_id"`
	SessionID  string                 `json:"sessionId" bson:"sessionId"`
	ObserverID string                 `json:"observerId" bson:"observerId"`
	Request    EvaluatorUpdateRequest `json:"request" bson:"request"`
	ReceivedAt time.Time              `json:"receivedAt" bson:"receivedAt"`
}

// SnapshotRecord is an archived snapshot with the reason it was produced
type SnapshotRecord struct {
	ID        string                `json:"id" bson:"_id"`
	SessionID string                `json:"sessionId" bson:"sessionId"`
	Cause     UpdateCause           `json:"cause,omitempty" bson:"cause,omitempty"`
	Snapshot  PerformanceAssessment `json:"snapshot" bson:"snapshot"`
	CreatedAt time.Time             `json:"createdAt" bson:"createdAt"`
}

// AttentionEntry is a node currently below expectation, ranked by priority
type AttentionEntry struct {
	NodeID   string `json:"nodeId"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}
