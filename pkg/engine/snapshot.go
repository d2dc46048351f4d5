package engine

import (
	"context"
	"fmt"

	"github.com/dukex/handoff/pkg/eventbus"
	"github.com/dukex/handoff/pkg/events"
	"github.com/dukex/handoff/pkg/models"
	"github.com/dukex/handoff/pkg/otelhelper"
	"github.com/dukex/handoff/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

type StartRequest struct {
	TemplateID string
	ProjectID  string
	StartedBy  string

	// Optional assignees for the first steps. Unassigned steps may be claimed by any eligible actor.
	AssignedUserID    string
	BranchAssignments map[string]string
}

// BuildSnapshot deep-copies the graph of a template.
func BuildSnapshot(template *models.WorkflowTemplate) *models.Snapshot {
	snapshot := &models.Snapshot{
		TemplateName: template.Name,
		Nodes:        make([]*models.WorkflowNode, len(template.Nodes)),
		Connections:  make([]*models.WorkflowConnection, len(template.Connections)),
	}

	for i, node := range template.Nodes {
		snapshot.Nodes[i] = node.Clone()
	}

	for i, conn := range template.Connections {
		snapshot.Connections[i] = conn.Clone()
	}

	return snapshot
}

// StartInstance launches a template against a project. The instance works from a snapshot of the
// template taken now and is moved past its start node before it is stored.
func (e *Engine) StartInstance(ctx context.Context, req StartRequest) (instance *models.WorkflowInstance, err error) {
	const op = "StartInstance"

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.StartInstance",
		attribute.String(otelhelper.TemplateIDKey, req.TemplateID),
		attribute.String(otelhelper.ProjectIDKey, req.ProjectID),
		attribute.String(otelhelper.UserIDKey, req.StartedBy),
	)
	defer func() {
		if err != nil {
			otelhelper.SetError(span, err)
		}

		span.End()
	}()

	var missing []FieldError
	if req.ProjectID == "" {
		missing = append(missing, FieldError{Field: "project_id", Message: "is required"})
	}

	if req.StartedBy == "" {
		missing = append(missing, FieldError{Field: "started_by", Message: "is required"})
	}

	if len(missing) > 0 {
		return nil, newValidationError(op, "cannot start instance", missing...)
	}

	template, err := e.persistence.TemplateRepository().GetByID(ctx, req.TemplateID)
	if err != nil {
		if persistence.IsTemplateNotFound(err) {
			return nil, &NotFoundError{Op: op, Resource: "template", ID: req.TemplateID, Err: err}
		}

		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	snapshot := BuildSnapshot(template)

	if err := ValidateTemplate(&models.WorkflowTemplate{
		ID:          template.ID,
		Name:        template.Name,
		Nodes:       snapshot.Nodes,
		Connections: snapshot.Connections,
	}); err != nil {
		return nil, err
	}

	if err := e.authorizeStart(ctx, op, req); err != nil {
		return nil, err
	}

	now := e.clock()
	instance = &models.WorkflowInstance{
		ID:              newID(),
		TemplateID:      template.ID,
		ProjectID:       req.ProjectID,
		Status:          models.InstanceStatusActive,
		StartedSnapshot: snapshot,
		StartedBy:       req.StartedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	graph := NewGraphView(snapshot.TemplateName, snapshot.Nodes, snapshot.Connections)
	start := graph.NodesOfType(models.NodeTypeStart)[0]

	startStep := &models.WorkflowActiveStep{
		ID:          newID(),
		InstanceID:  instance.ID,
		NodeID:      start.ID,
		BranchID:    models.MainBranch,
		Status:      models.StepStatusActive,
		ActivatedAt: now,
	}

	targets, hops, err := resolveTargets(op, graph, start, plainEdges(graph.Outgoing(start.ID)), nil)
	if err != nil {
		return nil, err
	}

	t := &transition{
		op:       op,
		engine:   e,
		instance: instance,
		graph:    graph,
		node:     start,
		step:     startStep,
		actorID:  req.StartedBy,
		action: Action{
			AssignedUserID:    req.AssignedUserID,
			BranchAssignments: req.BranchAssignments,
		},
		notes: "started",
		now:   now,
	}

	if err := t.build(ctx, targets, hops); err != nil {
		return nil, err
	}

	startStep.Status = models.StepStatusCompleted
	startStep.CompletedAt = &now
	instance.Status = t.status
	instance.CurrentNodeID = t.currentNodeID

	steps := append([]*models.WorkflowActiveStep{startStep}, t.newSteps...)

	if err := e.persistence.InstanceRepository().Create(ctx, instance, steps, t.history); err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}

	span.SetAttributes(attribute.String(otelhelper.InstanceIDKey, instance.ID))

	e.logger.InfoContext(ctx, "Started instance",
		"instance_id", instance.ID,
		"template_id", template.ID,
		"project_id", instance.ProjectID,
		"started_by", req.StartedBy)

	started := []eventbus.Event{events.InstanceStarted{
		BaseEvent:    events.NewBaseEvent(events.InstanceStartedEvent, instance.ID, instance.ProjectID, req.StartedBy),
		TemplateID:   template.ID,
		TemplateName: template.Name,
	}}
	e.publish(ctx, instance, append(started, t.events(instance)...)...)

	return instance, nil
}

func (e *Engine) authorizeStart(ctx context.Context, op string, req StartRequest) error {
	allowed, err := e.isSuperadminOrMember(ctx, req.StartedBy, req.ProjectID)
	if err != nil {
		return err
	}

	if !allowed {
		return &PermissionError{Op: op, UserID: req.StartedBy, Reason: ReasonNotProjectMember}
	}

	return nil
}
