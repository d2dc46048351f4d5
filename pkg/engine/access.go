package engine

import (
	"context"
	"fmt"

	"github.com/dukex/handoff/pkg/directory"
	"github.com/dukex/handoff/pkg/models"
)

type AccessReason string

const (
	ReasonSuperadmin        AccessReason = "superadmin"
	ReasonNodeAssignment    AccessReason = "node_assignment"
	ReasonStepAssignee      AccessReason = "step_assignee"
	ReasonProjectMember     AccessReason = "project_member"
	ReasonRole              AccessReason = "role"
	ReasonDepartment        AccessReason = "department"
	ReasonNotProjectMember  AccessReason = "not_project_member"
	ReasonMissingRole       AccessReason = "missing_role"
	ReasonMissingDepartment AccessReason = "missing_department"
)

// AccessDecision is the outcome of CanAct. Pipeline is informational: the user is denied now but
// holds an assignment on a node the instance has not reached yet.
type AccessDecision struct {
	Allowed          bool         `json:"allowed"`
	Reason           AccessReason `json:"reason"`
	Pipeline         bool         `json:"pipeline"`
	PipelineNodeID   string       `json:"pipeline_node_id,omitempty"`
	PipelineStepName string       `json:"pipeline_step_name,omitempty"`
}

// CanAct decides whether userID may act on step.
func (e *Engine) CanAct(ctx context.Context, userID string, instance *models.WorkflowInstance, step *models.WorkflowActiveStep) (AccessDecision, error) {
	graph, err := e.graphFor(ctx, "CanAct", instance)
	if err != nil {
		return AccessDecision{}, err
	}

	node, err := e.nodeOf("CanAct", graph, step.NodeID)
	if err != nil {
		return AccessDecision{}, err
	}

	assignments, err := e.persistence.AssignmentRepository().ListByInstance(ctx, instance.ID)
	if err != nil {
		return AccessDecision{}, fmt.Errorf("failed to list assignments: %w", err)
	}

	steps, err := e.persistence.InstanceRepository().Steps(ctx, instance.ID)
	if err != nil {
		return AccessDecision{}, fmt.Errorf("failed to list steps: %w", err)
	}

	return e.canAct(ctx, accessInput{
		userID:      userID,
		instance:    instance,
		graph:       graph,
		node:        node,
		step:        step,
		steps:       steps,
		assignments: assignments,
	})
}

type accessInput struct {
	userID      string
	instance    *models.WorkflowInstance
	graph       *GraphView
	node        *models.WorkflowNode
	step        *models.WorkflowActiveStep
	steps       []*models.WorkflowActiveStep
	assignments []*models.WorkflowNodeAssignment
}

func (e *Engine) canAct(ctx context.Context, in accessInput) (AccessDecision, error) {
	superadmin, err := e.directory.IsSuperadmin(ctx, in.userID)
	if err != nil {
		return AccessDecision{}, fmt.Errorf("failed to check superadmin: %w", err)
	}

	if superadmin {
		return AccessDecision{Allowed: true, Reason: ReasonSuperadmin}, nil
	}

	member, err := directory.IsProjectMember(ctx, e.directory, in.userID, in.instance.ProjectID)
	if err != nil {
		return AccessDecision{}, fmt.Errorf("failed to check project assignment: %w", err)
	}

	if !member {
		return AccessDecision{Reason: ReasonNotProjectMember}, nil
	}

	for _, a := range in.assignments {
		if a.NodeID == in.node.ID && a.UserID == in.userID {
			return AccessDecision{Allowed: true, Reason: ReasonNodeAssignment}, nil
		}
	}

	if in.step.AssignedUserID != nil && *in.step.AssignedUserID == in.userID {
		return AccessDecision{Allowed: true, Reason: ReasonStepAssignee}, nil
	}

	entity := entityOf(in.node)
	if entity == "" {
		return AccessDecision{Allowed: true, Reason: ReasonProjectMember}, nil
	}

	var decision AccessDecision

	switch in.node.Type {
	case models.NodeTypeRole, models.NodeTypeApproval:
		ok, err := e.directory.UserHasRole(ctx, in.userID, entity)
		if err != nil {
			return AccessDecision{}, fmt.Errorf("failed to check role: %w", err)
		}

		decision = AccessDecision{Allowed: ok, Reason: ReasonRole}
		if !ok {
			decision.Reason = ReasonMissingRole
		}
	case models.NodeTypeDepartment:
		ok, err := e.directory.UserHasDepartmentRole(ctx, in.userID, entity)
		if err != nil {
			return AccessDecision{}, fmt.Errorf("failed to check department: %w", err)
		}

		decision = AccessDecision{Allowed: ok, Reason: ReasonDepartment}
		if !ok {
			decision.Reason = ReasonMissingDepartment
		}
	default:
		return AccessDecision{Allowed: true, Reason: ReasonProjectMember}, nil
	}

	if !decision.Allowed {
		if node := pipelineNode(in); node != nil {
			decision.Pipeline = true
			decision.PipelineNodeID = node.ID
			decision.PipelineStepName = node.Label
		}
	}

	return decision, nil
}

// pipelineNode returns the first node, other than the step's, that the user is assigned to and
// that has no live step yet.
func pipelineNode(in accessInput) *models.WorkflowNode {
	live := make(map[string]bool)

	for _, s := range in.steps {
		if s.Live() {
			live[s.NodeID] = true
		}
	}

	for _, a := range in.assignments {
		if a.UserID != in.userID || a.NodeID == in.node.ID || live[a.NodeID] {
			continue
		}

		if node, ok := in.graph.Node(a.NodeID); ok {
			return node
		}
	}

	return nil
}

// entityOf returns the role or department a node is bound to. A node without an entity id is
// open to every project member; ids carried in settings are descriptive only.
func entityOf(node *models.WorkflowNode) string {
	if node.EntityID == nil {
		return ""
	}

	return *node.EntityID
}
