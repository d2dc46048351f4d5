package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

var ErrUnknownNodeType = errors.New("unknown node type")

// NodeSettings is the type-specific configuration of a node. The concrete variant is selected by
// the node type.
type NodeSettings interface {
	NodeType() NodeType
	cloneSettings() NodeSettings
}

// EmptySettings is used by start and end nodes.
type EmptySettings struct {
	Type NodeType `json:"-"`
}

func (s *EmptySettings) NodeType() NodeType { return s.Type }

func (s *EmptySettings) cloneSettings() NodeSettings {
	c := *s

	return &c
}

type RoleSettings struct {
	RoleID   string `json:"role_id,omitempty"`
	RoleName string `json:"role_name,omitempty"`
}

func (s *RoleSettings) NodeType() NodeType { return NodeTypeRole }

func (s *RoleSettings) cloneSettings() NodeSettings {
	c := *s

	return &c
}

type ApprovalSettings struct {
	ApproverRoleID   string   `json:"approver_role_id,omitempty"`
	ApproverRoleName string   `json:"approver_role_name,omitempty"`
	Decisions        []string `json:"decisions,omitempty"`
}

func (s *ApprovalSettings) NodeType() NodeType { return NodeTypeApproval }

func (s *ApprovalSettings) cloneSettings() NodeSettings {
	c := *s
	c.Decisions = slices.Clone(s.Decisions)

	return &c
}

type FormSettings struct {
	Fields []FormField `json:"fields"`
}

func (s *FormSettings) NodeType() NodeType { return NodeTypeForm }

func (s *FormSettings) cloneSettings() NodeSettings {
	c := FormSettings{Fields: make([]FormField, len(s.Fields))}
	for i, f := range s.Fields {
		c.Fields[i] = f.Clone()
	}

	return &c
}

// ConditionalSettings holds a `field == value` or `field != value` expression evaluated against
// the latest submitted form data.
type ConditionalSettings struct {
	Expression string `json:"expression,omitempty"`
}

func (s *ConditionalSettings) NodeType() NodeType { return NodeTypeConditional }

func (s *ConditionalSettings) cloneSettings() NodeSettings {
	c := *s

	return &c
}

type SyncSettings struct {
	LeaderRoleID string `json:"leader_role_id,omitempty"`
}

func (s *SyncSettings) NodeType() NodeType { return NodeTypeSync }

func (s *SyncSettings) cloneSettings() NodeSettings {
	c := *s

	return &c
}

type DepartmentSettings struct {
	DepartmentID string `json:"department_id,omitempty"`
}

func (s *DepartmentSettings) NodeType() NodeType { return NodeTypeDepartment }

func (s *DepartmentSettings) cloneSettings() NodeSettings {
	c := *s

	return &c
}

// NewSettings returns the zero settings variant for a node type.
func NewSettings(nodeType NodeType) (NodeSettings, error) {
	switch nodeType {
	case NodeTypeStart, NodeTypeEnd:
		return &EmptySettings{Type: nodeType}, nil
	case NodeTypeRole:
		return &RoleSettings{}, nil
	case NodeTypeApproval:
		return &ApprovalSettings{}, nil
	case NodeTypeForm:
		return &FormSettings{}, nil
	case NodeTypeConditional:
		return &ConditionalSettings{}, nil
	case NodeTypeSync:
		return &SyncSettings{}, nil
	case NodeTypeDepartment:
		return &DepartmentSettings{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, nodeType)
	}
}

// DecodeSettings decodes raw settings into the variant selected by nodeType. Start and end nodes
// ignore whatever settings they carry.
func DecodeSettings(nodeType NodeType, raw json.RawMessage) (NodeSettings, error) {
	settings, err := NewSettings(nodeType)
	if err != nil {
		return nil, err
	}

	if nodeType == NodeTypeStart || nodeType == NodeTypeEnd {
		return settings, nil
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return settings, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("invalid %s settings: %w", nodeType, err)
	}

	return settings, nil
}
