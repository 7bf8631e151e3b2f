package model

// GradedScoreNode is one level of the lesson score tree (task, concept)
type GradedScoreNode struct {
	Name     string             `json:"name" bson:"name"`
	NodeID   int                `json:"nodeId" bson:"nodeId"`
	Grade    AssessmentLevel    `json:"grade" bson:"grade"`
	Children []*GradedScoreNode `json:"children,omitempty" bson:"children,omitempty"`
	Raw      []RawScore         `json:"raw,omitempty" bson:"raw,omitempty"`
}

// RawScore is a leaf score reported by a condition
type RawScore struct {
	Name  string          `json:"name" bson:"name"`
	Value string          `json:"value" bson:"value"`
	Level AssessmentLevel `json:"level" bson:"level"`
}

// IsLeaf reports whether nothing below this node was scored
func (g *GradedScoreNode) IsLeaf() bool {
	return len(g.Children) == 0 && len(g.Raw) == 0
}
