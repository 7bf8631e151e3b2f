package service

import "perfassess/internal/model"

// Observer message types
const (
	MsgSnapshot        = "snapshot"
	MsgFeedback        = "feedback"
	MsgSurveyRequested = "survey_requested"
	MsgSessionStarted  = "session_started"
	MsgSessionEnded    = "session_ended"
)

// Broadcaster pushes messages to the observers of a session (avoids import cycle)
type Broadcaster interface {
	BroadcastToObservers(sessionID string, msgType string, payload interface{})
	DisconnectSession(sessionID string)
}

// SnapshotMessage is the payload of MsgSnapshot
type SnapshotMessage struct {
	Cause    model.UpdateCause            `json:"cause,omitempty"`
	Snapshot *model.PerformanceAssessment `json:"snapshot"`
}

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastToObservers(string, string, interface{}) {}
func (nopBroadcaster) DisconnectSession(string)                         {}
