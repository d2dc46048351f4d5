package models

import (
	"encoding/json"
	"fmt"
	"slices"
)

// NodeType identifies the behavior of a workflow node.
type NodeType string

const (
	NodeTypeStart       NodeType = "start"
	NodeTypeRole        NodeType = "role"
	NodeTypeApproval    NodeType = "approval"
	NodeTypeForm        NodeType = "form"
	NodeTypeConditional NodeType = "conditional"
	NodeTypeSync        NodeType = "sync"
	NodeTypeDepartment  NodeType = "department"
	NodeTypeEnd         NodeType = "end"
)

// NodeTypes lists every node type the engine understands.
var NodeTypes = []NodeType{
	NodeTypeStart,
	NodeTypeRole,
	NodeTypeApproval,
	NodeTypeForm,
	NodeTypeConditional,
	NodeTypeSync,
	NodeTypeDepartment,
	NodeTypeEnd,
}

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	return slices.Contains(NodeTypes, t)
}

// Actionable reports whether a user acts on nodes of this type. Start and conditional nodes are
// passed through automatically and end nodes are terminal.
func (t NodeType) Actionable() bool {
	switch t {
	case NodeTypeStart, NodeTypeConditional, NodeTypeEnd:
		return false
	default:
		return true
	}
}

// ConditionTypeApprovalDecision marks an edge that routes on an approval decision.
const ConditionTypeApprovalDecision = "approval_decision"

// Approval decisions.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// WorkflowNode is a typed vertex of a template graph.
type WorkflowNode struct {
	ID         string       `json:"id"          validate:"required"`
	TemplateID string       `json:"template_id"`
	Type       NodeType     `json:"type"        validate:"required"`
	Label      string       `json:"label"       validate:"required"`
	EntityID   *string      `json:"entity_id,omitempty"`
	Settings   NodeSettings `json:"settings,omitempty"`
}

type workflowNodeJSON struct {
	ID         string          `json:"id"`
	TemplateID string          `json:"template_id"`
	Type       NodeType        `json:"type"`
	Label      string          `json:"label"`
	EntityID   *string         `json:"entity_id,omitempty"`
	Settings   json.RawMessage `json:"settings,omitempty"`
}

// UnmarshalJSON decodes settings into the variant selected by the node type.
func (n *WorkflowNode) UnmarshalJSON(data []byte) error {
	var raw workflowNodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	settings, err := DecodeSettings(raw.Type, raw.Settings)
	if err != nil {
		return fmt.Errorf("node %s: %w", raw.ID, err)
	}

	*n = WorkflowNode{
		ID:         raw.ID,
		TemplateID: raw.TemplateID,
		Type:       raw.Type,
		Label:      raw.Label,
		EntityID:   raw.EntityID,
		Settings:   settings,
	}

	return nil
}

// Clone returns a deep copy of the node.
func (n *WorkflowNode) Clone() *WorkflowNode {
	if n == nil {
		return nil
	}

	clone := *n
	if n.EntityID != nil {
		entity := *n.EntityID
		clone.EntityID = &entity
	}

	if n.Settings != nil {
		clone.Settings = n.Settings.cloneSettings()
	}

	return &clone
}

// FormFields returns the inline field list of a form node, or nil for other node types.
func (n *WorkflowNode) FormFields() []FormField {
	if s, ok := n.Settings.(*FormSettings); ok {
		return s.Fields
	}

	return nil
}

// Condition is the routing guard of a connection.
type Condition struct {
	ConditionType  string `json:"conditionType"`
	ConditionValue string `json:"conditionValue,omitempty"`
	Decision       string `json:"decision,omitempty"`
}

// IsApprovalDecision reports whether the condition routes on an approval decision.
func (c *Condition) IsApprovalDecision() bool {
	return c != nil && c.ConditionType == ConditionTypeApprovalDecision
}

// DecisionValue returns the decision an approval condition routes on. Older templates only
// filled conditionValue.
func (c *Condition) DecisionValue() string {
	if c == nil {
		return ""
	}

	if c.Decision != "" {
		return c.Decision
	}

	return c.ConditionValue
}

// WorkflowConnection is a directed edge between two nodes of a template.
type WorkflowConnection struct {
	ID         string     `json:"id"`
	TemplateID string     `json:"template_id"`
	FromNodeID string     `json:"from_node_id" validate:"required"`
	ToNodeID   string     `json:"to_node_id"   validate:"required"`
	Label      string     `json:"label,omitempty"`
	Condition  *Condition `json:"condition,omitempty"`
}

// Clone returns a deep copy of the connection.
func (c *WorkflowConnection) Clone() *WorkflowConnection {
	if c == nil {
		return nil
	}

	clone := *c
	if c.Condition != nil {
		condition := *c.Condition
		clone.Condition = &condition
	}

	return &clone
}
