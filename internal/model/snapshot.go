package model

import (
	"time"

	"github.com/google/uuid"
)

// PerformanceAssessment is an immutable point-in-time copy of a session's
// assessment tree, safe to serialize or hand to another goroutine
type PerformanceAssessment struct {
	SessionID       string         `json:"sessionId" bson:"sessionId"`
	Tasks           []TaskSnapshot `json:"tasks" bson:"tasks"`
	Evaluator       string         `json:"evaluator,omitempty" bson:"evaluator,omitempty"`
	ObserverComment string         `json:"observerComment,omitempty" bson:"observerComment,omitempty"`
	ObserverMedia   string         `json:"observerMedia,omitempty" bson:"observerMedia,omitempty"`
	GeneratedAt     time.Time      `json:"generatedAt" bson:"generatedAt"`
}

// TaskSnapshot is a task assessment with its concepts materialized
type TaskSnapshot struct {
	Assessment `bson:",inline"`
	Concepts   []ConceptSnapshot `json:"concepts" bson:"concepts"`
}

// ConceptSnapshot is a concept assessment; intermediate concepts carry their
// sub-concepts
type ConceptSnapshot struct {
	Assessment `bson:",inline"`
	Concepts   []ConceptSnapshot `json:"concepts,omitempty" bson:"concepts,omitempty"`
}

// Task finds a task snapshot by session node id
func (p *PerformanceAssessment) Task(id uuid.UUID) (*TaskSnapshot, bool) {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i], true
		}
	}
	return nil, false
}

// FindByName searches tasks and concepts (depth first) for a node name
func (p *PerformanceAssessment) FindByName(name string) (*Assessment, bool) {
	for i := range p.Tasks {
		if p.Tasks[i].Name == name {
			return &p.Tasks[i].Assessment, true
		}
		if a, ok := findConcept(p.Tasks[i].Concepts, name); ok {
			return a, true
		}
	}
	return nil, false
}

func findConcept(concepts []ConceptSnapshot, name string) (*Assessment, bool) {
	for i := range concepts {
		if concepts[i].Name == name {
			return &concepts[i].Assessment, true
		}
		if a, ok := findConcept(concepts[i].Concepts, name); ok {
			return a, true
		}
	}
	return nil, false
}

// Walk visits every concept snapshot depth first
func (p *PerformanceAssessment) Walk(fn func(task *TaskSnapshot, concept *ConceptSnapshot)) {
	var visit func(t *TaskSnapshot, cs []ConceptSnapshot)
	visit = func(t *TaskSnapshot, cs []ConceptSnapshot) {
		for i := range cs {
			fn(t, &cs[i])
			visit(t, cs[i].Concepts)
		}
	}
	for i := range p.Tasks {
		visit(&p.Tasks[i], p.Tasks[i].Concepts)
	}
}
