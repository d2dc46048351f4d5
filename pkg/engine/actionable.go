package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/handoff/pkg/models"
)

// NextNodePreview is a node the step would hand off to. Decision is set for approval routes.
type NextNodePreview struct {
	NodeID   string          `json:"node_id"`
	Label    string          `json:"label"`
	Type     models.NodeType `json:"type"`
	Decision string          `json:"decision,omitempty"`
}

// RequiredAssignment is an assignee the actor must pick when progressing. A nil EligibleUserIDs
// means any project member.
type RequiredAssignment struct {
	NodeID          string          `json:"node_id"`
	NodeLabel       string          `json:"node_label"`
	NodeType        models.NodeType `json:"node_type"`
	Field           string          `json:"field"`
	Decision        string          `json:"decision,omitempty"`
	EligibleUserIDs []string        `json:"eligible_user_ids,omitempty"`
}

// Actionable is what a user can do on an instance right now. ActiveStep is nil when the user
// cannot act on any live step.
type Actionable struct {
	Instance            *models.WorkflowInstance   `json:"instance"`
	ActiveStep          *models.WorkflowActiveStep `json:"active_step,omitempty"`
	Node                *models.WorkflowNode       `json:"node,omitempty"`
	Access              AccessDecision             `json:"access"`
	NextNodePreview     []NextNodePreview          `json:"next_node_preview"`
	RequiredAssignments []RequiredAssignment       `json:"required_assignments"`
	IsPipeline          bool                       `json:"is_pipeline"`
	PipelineStepName    string                     `json:"pipeline_step_name,omitempty"`
	CarriedFormData     map[string]any             `json:"carried_form_data,omitempty"`
	FormDefaults        map[string]any             `json:"form_defaults,omitempty"`
	ParallelSiblings    []SiblingStatus            `json:"parallel_siblings,omitempty"`
	UpdatedAt           time.Time                  `json:"updated_at"`
}

func (e *Engine) LoadActionable(ctx context.Context, instanceID, userID string) (*Actionable, error) {
	const op = "LoadActionable"

	instance, err := e.loadInstance(ctx, op, instanceID)
	if err != nil {
		return nil, err
	}

	result := &Actionable{
		Instance:            instance,
		NextNodePreview:     []NextNodePreview{},
		RequiredAssignments: []RequiredAssignment{},
		UpdatedAt:           instance.UpdatedAt,
	}

	if instance.Status.Terminal() {
		return result, nil
	}

	graph, err := e.graphFor(ctx, op, instance)
	if err != nil {
		return nil, err
	}

	steps, err := e.persistence.InstanceRepository().Steps(ctx, instance.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}

	assignments, err := e.persistence.AssignmentRepository().ListByInstance(ctx, instance.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}

	var (
		step   *models.WorkflowActiveStep
		node   *models.WorkflowNode
		denied *AccessDecision
	)

	for _, s := range steps {
		if !s.Live() {
			continue
		}

		n, ok := graph.Node(s.NodeID)
		if !ok {
			continue
		}

		decision, err := e.canAct(ctx, accessInput{
			userID:      userID,
			instance:    instance,
			graph:       graph,
			node:        n,
			step:        s,
			steps:       steps,
			assignments: assignments,
		})
		if err != nil {
			return nil, err
		}

		if decision.Allowed {
			step, node = s, n
			result.Access = decision

			break
		}

		if denied == nil || (!denied.Pipeline && decision.Pipeline) {
			denied = &decision
		}
	}

	if step == nil {
		if denied != nil {
			result.Access = *denied
			result.IsPipeline = denied.Pipeline
			result.PipelineStepName = denied.PipelineStepName
		}

		return result, nil
	}

	result.ActiveStep = step
	result.Node = node

	history, err := e.persistence.HistoryRepository().ListByInstance(ctx, instance.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	if row := carriedRow(history, node.ID); row != nil {
		if node.Type == models.NodeTypeForm && row.FromNodeID == node.ID {
			result.FormDefaults = row.FormData
		} else {
			result.CarriedFormData = row.FormData
		}
	}

	if err := e.preview(ctx, result, instance, graph, steps, step, node, result.CarriedFormData); err != nil {
		return nil, err
	}

	approvals, err := e.persistence.HistoryRepository().Approvals(ctx, instance.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}

	result.ParallelSiblings = parallelStatus(graph, steps, approvals, step)

	return result, nil
}

// preview fills the next nodes and the assignees the step's actor will have to pick.
func (e *Engine) preview(ctx context.Context, result *Actionable, instance *models.WorkflowInstance, graph *GraphView,
	steps []*models.WorkflowActiveStep, step *models.WorkflowActiveStep, node *models.WorkflowNode, data map[string]any,
) error {
	type route struct {
		decision string
		edges    []*models.WorkflowConnection
	}

	var routes []route

	if node.Type == models.NodeTypeApproval {
		for _, conn := range graph.Outgoing(node.ID) {
			if conn.Condition.IsApprovalDecision() {
				routes = append(routes, route{decision: conn.Condition.DecisionValue(), edges: []*models.WorkflowConnection{conn}})
			}
		}
	} else {
		routes = append(routes, route{edges: plainEdges(graph.Outgoing(node.ID))})
	}

	branch, err := step.Branch()
	if err != nil {
		return fmt.Errorf("step %s: %w", step.ID, err)
	}

	for _, r := range routes {
		targets, _, err := resolveTargets("LoadActionable", graph, node, r.edges, data)
		if err != nil {
			targets = directTargets(graph, r.edges)
		}

		forked := len(targets) > 1

		for _, target := range targets {
			result.NextNodePreview = append(result.NextNodePreview, NextNodePreview{
				NodeID:   target.ID,
				Label:    target.Label,
				Type:     target.Type,
				Decision: r.decision,
			})

			if target.Type == models.NodeTypeEnd {
				continue
			}

			if target.Type == models.NodeTypeSync && (forked || !forkSettled(steps, branch, step.ID)) {
				continue
			}

			required, eligible, err := e.assignmentRequirement(ctx, instance.ProjectID, target)
			if err != nil {
				return err
			}

			if !required {
				continue
			}

			field := "assigned_user_id"
			if forked {
				field = "branch_assignments." + target.ID
			}

			result.RequiredAssignments = append(result.RequiredAssignments, RequiredAssignment{
				NodeID:          target.ID,
				NodeLabel:       target.Label,
				NodeType:        target.Type,
				Field:           field,
				Decision:        r.decision,
				EligibleUserIDs: eligible,
			})
		}
	}

	return nil
}

func directTargets(graph *GraphView, edges []*models.WorkflowConnection) []*models.WorkflowNode {
	var out []*models.WorkflowNode

	for _, conn := range edges {
		if node, ok := graph.Node(conn.ToNodeID); ok {
			out = append(out, node)
		}
	}

	return out
}

// CarriedFormData returns the form data nearest to nodeID along the path that led to it.
func (e *Engine) CarriedFormData(ctx context.Context, instanceID, nodeID string) (map[string]any, error) {
	history, err := e.persistence.HistoryRepository().ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	if row := carriedRow(history, nodeID); row != nil {
		return row.FormData, nil
	}

	return nil, nil
}

// carriedRow walks history backward along the hand-offs that led to nodeID and returns the first
// row carrying form data.
func carriedRow(history []*models.WorkflowHistory, nodeID string) *models.WorkflowHistory {
	cursor := nodeID

	for i := len(history) - 1; i >= 0; i-- {
		row := history[i]
		if row.ToNodeID == nil || *row.ToNodeID != cursor {
			continue
		}

		if len(row.FormData) > 0 {
			return row
		}

		cursor = row.FromNodeID
	}

	return nil
}
