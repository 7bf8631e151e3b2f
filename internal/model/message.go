package model

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// MessageType discriminates training application messages
type MessageType string

const (
	MsgEntityState      MessageType = "EntityState"
	MsgLearnerAction    MessageType = "LearnerAction"
	MsgStopFreeze       MessageType = "StopFreeze"
	MsgTrainingAppState MessageType = "TrainingAppState"
)

// Message is an incoming training application event. Payload holds one of the
// payload types below, matching Type. Consumers only read it.
type Message struct {
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp,omitempty"`
}

// Point is a location in the simulation's cartesian frame (meters)
type Point struct {
	X float64 `json:"x" yaml:"x" bson:"x"`
	Y float64 `json:"y" yaml:"y" bson:"y"`
	Z float64 `json:"z" yaml:"z" bson:"z"`
}

// Distance returns the straight line distance to o
func (p Point) Distance(o Point) float64 {
	dx, dy, dz := p.X-o.X, p.Y-o.Y, p.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

type EntityState struct {
	EntityID  string  `json:"entityId"`
	Marking   string  `json:"marking"`
	Location  Point   `json:"location"`
	Health    float64 `json:"health"`
	Destroyed bool    `json:"destroyed"`
}

type LearnerAction struct {
	ActionID string `json:"actionId"`
	Learner  string `json:"learner,omitempty"`
}

type StopFreeze struct {
	Reason string `json:"reason,omitempty"`
}

// TrainingAppState reports the training application lifecycle; a stop that
// was not requested by the session is unexpected
type TrainingAppState struct {
	Running  bool `json:"running"`
	Expected bool `json:"expected"`
}

// EntityState returns the payload when the message carries one
func (m Message) EntityState() (EntityState, bool) {
	switch p := m.Payload.(type) {
	case EntityState:
		return p, m.Type == MsgEntityState
	case *EntityState:
		if p == nil {
			return EntityState{}, false
		}
		return *p, m.Type == MsgEntityState
	}
	return EntityState{}, false
}

// LearnerAction returns the payload when the message carries one
func (m Message) LearnerAction() (LearnerAction, bool) {
	switch p := m.Payload.(type) {
	case LearnerAction:
		return p, m.Type == MsgLearnerAction
	case *LearnerAction:
		if p == nil {
			return LearnerAction{}, false
		}
		return *p, m.Type == MsgLearnerAction
	}
	return LearnerAction{}, false
}

// TrainingAppState returns the payload when the message carries one
func (m Message) TrainingAppState() (TrainingAppState, bool) {
	switch p := m.Payload.(type) {
	case TrainingAppState:
		return p, m.Type == MsgTrainingAppState
	case *TrainingAppState:
		if p == nil {
			return TrainingAppState{}, false
		}
		return *p, m.Type == MsgTrainingAppState
	}
	return TrainingAppState{}, false
}

// UnmarshalJSON decodes the payload into the concrete type named by Type
func (m *Message) UnmarshalJSON(data []byte) error {
	var envelope struct {
		Type      MessageType     `json:"type"`
		Payload   json.RawMessage `json:"payload"`
		Timestamp time.Time       `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	m.Type = envelope.Type
	m.Timestamp = envelope.Timestamp

	var target any
	switch envelope.Type {
	case MsgEntityState:
		target = &EntityState{}
	case MsgLearnerAction:
		target = &LearnerAction{}
	case MsgStopFreeze:
		target = &StopFreeze{}
	case MsgTrainingAppState:
		target = &TrainingAppState{}
	default:
		return fmt.Errorf("unsupported message type %q", envelope.Type)
	}
	if len(envelope.Payload) > 0 {
		if err := json.Unmarshal(envelope.Payload, target); err != nil {
			return fmt.Errorf("decode %s payload: %w", envelope.Type, err)
		}
	}
	switch p := target.(type) {
	case *EntityState:
		m.Payload = *p
	case *LearnerAction:
		m.Payload = *p
	case *StopFreeze:
		m.Payload = *p
	case *TrainingAppState:
		m.Payload = *p
	}
	return nil
}
