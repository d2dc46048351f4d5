// Package models defines the core domain models for project workflow templates and running instances.
package models

import "time"

// WorkflowTemplate is a reusable blueprint for a project process. Running instances never read it
// directly once started: they work from the snapshot taken at start time.
type WorkflowTemplate struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"                  validate:"required,min=3"`
	Description string                `json:"description"`
	IsActive    bool                  `json:"is_active"`
	CreatedBy   string                `json:"created_by"`
	Nodes       []*WorkflowNode       `json:"nodes"                 validate:"dive,required"`
	Connections []*WorkflowConnection `json:"connections"           validate:"dive,required"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// StartNodes returns every node of type start.
func (t *WorkflowTemplate) StartNodes() []*WorkflowNode {
	return nodesOfType(t.Nodes, NodeTypeStart)
}

// EndNodes returns every node of type end.
func (t *WorkflowTemplate) EndNodes() []*WorkflowNode {
	return nodesOfType(t.Nodes, NodeTypeEnd)
}

func nodesOfType(nodes []*WorkflowNode, nodeType NodeType) []*WorkflowNode {
	var out []*WorkflowNode

	for _, n := range nodes {
		if n.Type == nodeType {
			out = append(out, n)
		}
	}

	return out
}
