package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dukex/handoff/pkg/directory"
	"github.com/dukex/handoff/pkg/eventbus"
	"github.com/dukex/handoff/pkg/events"
	"github.com/dukex/handoff/pkg/models"
	"github.com/dukex/handoff/pkg/otelhelper"
	"github.com/dukex/handoff/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

// Action is what an actor submits for a step. Which fields matter depends on the node type.
type Action struct {
	Decision string         `json:"decision,omitempty"`
	Feedback string         `json:"feedback,omitempty"`
	FormData map[string]any `json:"form_data,omitempty"`

	// AssignedUserID assigns the next step when it needs an actor. BranchAssignments assigns
	// each target of a fork by node id and falls back to AssignedUserID.
	AssignedUserID    string            `json:"assigned_user_id,omitempty"`
	BranchAssignments map[string]string `json:"branch_assignments,omitempty"`
}

type ProgressRequest struct {
	InstanceID        string
	ActiveStepID      string
	UserID            string
	ExpectedUpdatedAt time.Time
	Action            Action
}

type ProgressResult struct {
	Instance      *models.WorkflowInstance     `json:"instance"`
	CompletedStep *models.WorkflowActiveStep   `json:"completed_step"`
	NewSteps      []*models.WorkflowActiveStep `json:"new_steps"`
	ForkToken     string                       `json:"fork_token,omitempty"`
	SyncReleased  bool                         `json:"sync_released"`
	// Waiting is set when the step reached a sync node whose sibling branches are still running.
	Waiting   bool `json:"waiting"`
	Completed bool `json:"completed"`
}

// Progress completes an active step with the submitted action and moves the instance forward.
// Nothing is written when any check fails.
func (e *Engine) Progress(ctx context.Context, req ProgressRequest) (result *ProgressResult, err error) {
	const op = "Progress"

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.Progress",
		attribute.String(otelhelper.InstanceIDKey, req.InstanceID),
		attribute.String(otelhelper.StepIDKey, req.ActiveStepID),
		attribute.String(otelhelper.UserIDKey, req.UserID),
	)
	defer func() {
		if err != nil {
			otelhelper.SetError(span, err)
		}

		span.End()
	}()

	instance, err := e.loadInstance(ctx, op, req.InstanceID)
	if err != nil {
		return nil, err
	}

	if instance.Status.Terminal() {
		return nil, &ConflictError{Op: op, InstanceID: instance.ID, Message: fmt.Sprintf("instance already %s", instance.Status)}
	}

	graph, err := e.graphFor(ctx, op, instance)
	if err != nil {
		return nil, err
	}

	step, err := e.loadStep(ctx, op, instance.ID, req.ActiveStepID)
	if err != nil {
		return nil, err
	}

	if !instance.UpdatedAt.Equal(req.ExpectedUpdatedAt) {
		return nil, &ConflictError{
			Op:         op,
			InstanceID: instance.ID,
			Message:    "instance was modified by someone else, reload and retry",
			Err:        persistence.ErrStaleInstance,
		}
	}

	if _, err := advanceStep(step.Status, triggerComplete); err != nil {
		return nil, &ConflictError{Op: op, InstanceID: instance.ID, Message: "step already completed", Err: persistence.ErrStepAlreadyCompleted}
	}

	node, err := e.nodeOf(op, graph, step.NodeID)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
		attribute.String(otelhelper.BranchIDKey, step.BranchID),
	)

	if !node.Type.Actionable() {
		return nil, newValidationError(op, fmt.Sprintf("node %s cannot be acted on", node.Label))
	}

	steps, err := e.persistence.InstanceRepository().Steps(ctx, instance.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}

	assignments, err := e.persistence.AssignmentRepository().ListByInstance(ctx, instance.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}

	access, err := e.canAct(ctx, accessInput{
		userID:      req.UserID,
		instance:    instance,
		graph:       graph,
		node:        node,
		step:        step,
		steps:       steps,
		assignments: assignments,
	})
	if err != nil {
		return nil, err
	}

	if !access.Allowed {
		return nil, &PermissionError{
			Op:               op,
			UserID:           req.UserID,
			Reason:           access.Reason,
			Pipeline:         access.Pipeline,
			PipelineStepName: access.PipelineStepName,
		}
	}

	edges, err := routeEdges(op, graph, node, req.Action.Decision)
	if err != nil {
		return nil, err
	}

	data := req.Action.FormData
	if node.Type == models.NodeTypeForm {
		if problems := ValidateFormData(node.FormFields(), data); len(problems) > 0 {
			return nil, newValidationError(op, "form submission is invalid", problems...)
		}
	} else {
		history, err := e.persistence.HistoryRepository().ListByInstance(ctx, instance.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list history: %w", err)
		}

		if row := carriedRow(history, node.ID); row != nil {
			data = row.FormData
		}
	}

	targets, hops, err := resolveTargets(op, graph, node, edges, data)
	if err != nil {
		return nil, err
	}

	t := &transition{
		op:                 op,
		engine:             e,
		instance:           instance,
		graph:              graph,
		node:               node,
		step:               step,
		steps:              steps,
		actorID:            req.UserID,
		action:             req.Action,
		requireAssignments: true,
		now:                e.nextVersion(instance.UpdatedAt),
	}

	if err := t.build(ctx, targets, hops); err != nil {
		return nil, err
	}

	commit := &persistence.TransitionCommit{
		InstanceID:        instance.ID,
		ExpectedUpdatedAt: instance.UpdatedAt,
		UpdatedAt:         t.now,
		Status:            t.status,
		CurrentNodeID:     t.currentNodeID,
		CompleteStepIDs:   []string{step.ID},
		NewSteps:          t.newSteps,
		History:           t.history,
		Approvals:         t.approvals,
		FormResponses:     t.formResponses,
	}

	if err := e.persistence.InstanceRepository().CommitTransition(ctx, commit); err != nil {
		if persistence.IsConflict(err) {
			return nil, &ConflictError{Op: op, InstanceID: instance.ID, Message: "instance was modified by someone else, reload and retry", Err: err}
		}

		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	updated := *instance
	updated.UpdatedAt = t.now
	updated.Status = t.status
	updated.CurrentNodeID = t.currentNodeID

	completed := *step
	completed.Status = models.StepStatusCompleted
	completedAt := t.now
	completed.CompletedAt = &completedAt

	e.logger.InfoContext(ctx, "Progressed step",
		"instance_id", instance.ID,
		"step_id", step.ID,
		"node_id", node.ID,
		"user_id", req.UserID,
		"new_steps", len(t.newSteps),
		"status", updated.Status)

	e.publish(ctx, &updated, t.events(&updated)...)

	return &ProgressResult{
		Instance:      &updated,
		CompletedStep: &completed,
		NewSteps:      t.newSteps,
		ForkToken:     t.forkToken,
		SyncReleased:  t.released != nil,
		Waiting:       t.waiting,
		Completed:     updated.Status == models.InstanceStatusCompleted,
	}, nil
}

// routeEdges returns the connections the action follows out of node.
func routeEdges(op string, graph *GraphView, node *models.WorkflowNode, decision string) ([]*models.WorkflowConnection, error) {
	outgoing := graph.Outgoing(node.ID)

	if node.Type != models.NodeTypeApproval {
		edges := plainEdges(outgoing)
		if len(edges) == 0 {
			return nil, &TemplateInvalidError{Problems: []string{fmt.Sprintf("node %s has no outgoing connection", node.ID)}}
		}

		return edges, nil
	}

	if decision == "" {
		return nil, newValidationError(op, "a decision is required", FieldError{Field: "decision", Message: "is required"})
	}

	var matched []*models.WorkflowConnection

	for _, conn := range outgoing {
		if conn.Condition.IsApprovalDecision() && conn.Condition.DecisionValue() == decision {
			matched = append(matched, conn)
		}
	}

	switch len(matched) {
	case 0:
		return nil, newValidationError(op, "decision is not available", FieldError{Field: "decision", Message: fmt.Sprintf("%q is not a decision of this step", decision)})
	case 1:
		return matched, nil
	default:
		targets := make([]string, len(matched))
		for i, conn := range matched {
			targets[i] = conn.ToNodeID
		}

		return nil, &AmbiguousRoutingError{NodeID: node.ID, Decision: decision, TargetNodeIDs: targets}
	}
}

// plainEdges drops connections that only route approval decisions.
func plainEdges(conns []*models.WorkflowConnection) []*models.WorkflowConnection {
	return slices.DeleteFunc(slices.Clone(conns), func(conn *models.WorkflowConnection) bool {
		return conn.Condition.IsApprovalDecision()
	})
}

// hop is one traversed connection. Hops leaving a conditional node carry the evaluated outcome.
type hop struct {
	from    string
	to      string
	direct  bool
	outcome string
}

// resolveTargets follows edges through conditional nodes and returns the distinct nodes that
// become the next steps, with every traversed connection.
func resolveTargets(op string, graph *GraphView, from *models.WorkflowNode, edges []*models.WorkflowConnection, data map[string]any) ([]*models.WorkflowNode, []hop, error) {
	var (
		targets []*models.WorkflowNode
		hops    []hop
	)

	seen := make(map[string]bool)
	visiting := map[string]bool{from.ID: true}

	var walk func(fromID string, edges []*models.WorkflowConnection, direct bool, outcome string) error

	walk = func(fromID string, edges []*models.WorkflowConnection, direct bool, outcome string) error {
		for _, conn := range edges {
			target, ok := graph.Node(conn.ToNodeID)
			if !ok {
				return &TemplateInvalidError{Problems: []string{fmt.Sprintf("connection %s ends at unknown node %s", conn.ID, conn.ToNodeID)}}
			}

			hops = append(hops, hop{from: fromID, to: target.ID, direct: direct, outcome: outcome})

			if target.Type != models.NodeTypeConditional {
				if !seen[target.ID] {
					seen[target.ID] = true
					targets = append(targets, target)
				}

				continue
			}

			if visiting[target.ID] {
				return &TemplateInvalidError{Problems: []string{fmt.Sprintf("conditional node %s loops back to itself", target.ID)}}
			}

			next, result, err := conditionalEdges(op, graph, target, data)
			if err != nil {
				return err
			}

			visiting[target.ID] = true

			if err := walk(target.ID, next, false, result); err != nil {
				return err
			}

			delete(visiting, target.ID)
		}

		return nil
	}

	if err := walk(from.ID, edges, true, ""); err != nil {
		return nil, nil, err
	}

	if len(targets) == 0 {
		return nil, nil, &TemplateInvalidError{Problems: []string{fmt.Sprintf("node %s leads nowhere", from.ID)}}
	}

	return targets, hops, nil
}

func conditionalEdges(op string, graph *GraphView, node *models.WorkflowNode, data map[string]any) ([]*models.WorkflowConnection, string, error) {
	edges := plainEdges(graph.Outgoing(node.ID))

	settings, _ := node.Settings.(*models.ConditionalSettings)
	if settings == nil || settings.Expression == "" {
		return edges, "", nil
	}

	expr, err := models.ParseConditional(settings.Expression)
	if err != nil {
		return nil, "", &TemplateInvalidError{Problems: []string{fmt.Sprintf("conditional node %s: %v", node.ID, err)}}
	}

	ok, err := expr.Evaluate(data)
	if err != nil {
		return nil, "", newValidationError(op, fmt.Sprintf("condition of %s cannot be evaluated", node.Label),
			FieldError{Field: expr.Field, Message: err.Error()})
	}

	want := LabelFalse
	if ok {
		want = LabelTrue
	}

	var selected []*models.WorkflowConnection

	for _, conn := range edges {
		if normalizeLabel(conn.Label) == want {
			selected = append(selected, conn)
		}
	}

	if len(selected) == 0 {
		return nil, "", &TemplateInvalidError{Problems: []string{fmt.Sprintf("conditional node %s has no %s connection", node.ID, want)}}
	}

	return selected, want, nil
}

// transition accumulates everything one committed move writes.
type transition struct {
	op                 string
	engine             *Engine
	instance           *models.WorkflowInstance
	graph              *GraphView
	node               *models.WorkflowNode
	step               *models.WorkflowActiveStep
	steps              []*models.WorkflowActiveStep
	actorID            string
	action             Action
	requireAssignments bool
	notes              string
	now                time.Time

	newSteps      []*models.WorkflowActiveStep
	history       []*models.WorkflowHistory
	approvals     []*models.WorkflowApproval
	formResponses []*models.FormResponse
	status        models.InstanceStatus
	currentNodeID *string
	forkToken     string
	forkBranches  []string
	released      *models.WorkflowActiveStep
	releasedFrom  string
	waiting       bool
	endNodeID     string
}

func (t *transition) build(ctx context.Context, targets []*models.WorkflowNode, hops []hop) error {
	branch, err := t.step.Branch()
	if err != nil {
		return fmt.Errorf("step %s: %w", t.step.ID, err)
	}

	forked := len(targets) > 1

	switch {
	case forked:
		for _, target := range targets {
			if target.Type == models.NodeTypeSync {
				return &TemplateInvalidError{Problems: []string{fmt.Sprintf("node %s forks straight into sync node %s", t.node.ID, target.ID)}}
			}
		}

		t.forkToken = uniqueForkToken(t.steps, branch, t.now)

		for i, target := range targets {
			child := models.ChildBranch(branch, i, t.forkToken)
			t.forkBranches = append(t.forkBranches, child.String())

			if err := t.enter(ctx, target, child, true); err != nil {
				return err
			}
		}
	case targets[0].Type == models.NodeTypeSync:
		if !forkSettled(t.steps, branch, t.step.ID) {
			t.waiting = true

			break
		}

		parent, err := branch.Parent()
		if err != nil {
			return fmt.Errorf("step %s: %w", t.step.ID, err)
		}

		if err := t.enter(ctx, targets[0], parent, false); err != nil {
			return err
		}

		t.released = t.newSteps[len(t.newSteps)-1]
		t.releasedFrom = branch.ForkToken
	default:
		if err := t.enter(ctx, targets[0], branch, false); err != nil {
			return err
		}
	}

	t.record(hops)
	t.settle()

	return nil
}

// enter creates the step for target on branch. End nodes get a step that is completed at once.
func (t *transition) enter(ctx context.Context, target *models.WorkflowNode, branch models.BranchID, forked bool) error {
	step := &models.WorkflowActiveStep{
		ID:          newID(),
		InstanceID:  t.instance.ID,
		NodeID:      target.ID,
		BranchID:    branch.String(),
		Status:      models.StepStatusActive,
		ActivatedAt: t.now,
	}

	if target.Type == models.NodeTypeEnd {
		completedAt := t.now
		step.Status = models.StepStatusCompleted
		step.CompletedAt = &completedAt
		t.endNodeID = target.ID
		t.newSteps = append(t.newSteps, step)

		return nil
	}

	assignee, err := t.assignee(ctx, target, forked)
	if err != nil {
		return err
	}

	step.AssignedUserID = assignee
	t.newSteps = append(t.newSteps, step)

	return nil
}

func (t *transition) assignee(ctx context.Context, target *models.WorkflowNode, forked bool) (*string, error) {
	required, eligible, err := t.engine.assignmentRequirement(ctx, t.instance.ProjectID, target)
	if err != nil {
		return nil, err
	}

	if !required {
		return nil, nil
	}

	field := "assigned_user_id"
	if forked {
		field = "branch_assignments." + target.ID
	}

	picked := t.action.BranchAssignments[target.ID]
	if picked == "" {
		picked = t.action.AssignedUserID
	}

	if picked == "" {
		if !t.requireAssignments {
			return nil, nil
		}

		return nil, newValidationError(t.op, fmt.Sprintf("%s needs an assignee", target.Label),
			FieldError{Field: field, Message: "is required"})
	}

	ok, err := t.engine.eligible(ctx, t.instance.ProjectID, picked, eligible)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, newValidationError(t.op, fmt.Sprintf("%s cannot be assigned to this user", target.Label),
			FieldError{Field: field, Message: fmt.Sprintf("user %s is not eligible for %s", picked, target.Label)})
	}

	return &picked, nil
}

// assignmentRequirement reports whether entering node needs an explicit assignee, and who may be
// picked. A nil eligible list means any project member.
func (e *Engine) assignmentRequirement(ctx context.Context, projectID string, node *models.WorkflowNode) (bool, []string, error) {
	switch node.Type {
	case models.NodeTypeRole:
		role := entityOf(node)
		if role == "" {
			return false, nil, nil
		}

		members, err := e.directory.ProjectMembersWithRole(ctx, projectID, role)
		if err != nil {
			return false, nil, fmt.Errorf("failed to list role members: %w", err)
		}

		return len(members) > 0, members, nil
	case models.NodeTypeSync:
		settings, _ := node.Settings.(*models.SyncSettings)
		if settings == nil || settings.LeaderRoleID == "" {
			return true, nil, nil
		}

		members, err := e.directory.ProjectMembersWithRole(ctx, projectID, settings.LeaderRoleID)
		if err != nil {
			return false, nil, fmt.Errorf("failed to list leader candidates: %w", err)
		}

		if len(members) == 0 {
			return true, nil, nil
		}

		return true, members, nil
	default:
		return false, nil, nil
	}
}

// CanAssign reports whether the user may be pre-assigned to a node of the instance's project.
func (e *Engine) CanAssign(ctx context.Context, projectID string, node *models.WorkflowNode, userID string) (bool, error) {
	_, eligible, err := e.assignmentRequirement(ctx, projectID, node)
	if err != nil {
		return false, err
	}

	if len(eligible) == 0 {
		eligible = nil
	}

	return e.eligible(ctx, projectID, userID, eligible)
}

func (e *Engine) eligible(ctx context.Context, projectID, userID string, eligible []string) (bool, error) {
	if eligible != nil {
		return slices.Contains(eligible, userID), nil
	}

	member, err := directory.IsProjectMember(ctx, e.directory, userID, projectID)
	if err != nil {
		return false, fmt.Errorf("failed to check project assignment: %w", err)
	}

	return member, nil
}

// record appends history for every traversed connection, plus the approval or form response the
// acted step produced.
func (t *transition) record(hops []hop) {
	notes := t.notes

	var formResponseID *string

	switch t.node.Type {
	case models.NodeTypeApproval:
		notes = t.action.Decision
		if t.action.Feedback != "" {
			notes += ": " + t.action.Feedback
		}

		t.approvals = append(t.approvals, &models.WorkflowApproval{
			ID:           newID(),
			InstanceID:   t.instance.ID,
			NodeID:       t.node.ID,
			ActiveStepID: t.step.ID,
			BranchID:     t.step.BranchID,
			Decision:     t.action.Decision,
			Feedback:     t.action.Feedback,
			DecidedBy:    t.actorID,
			CreatedAt:    t.now,
		})
	case models.NodeTypeForm:
		notes = "form submitted"
		if t.action.Feedback != "" {
			notes += ": " + t.action.Feedback
		}

		response := &models.FormResponse{
			ID:           newID(),
			InstanceID:   t.instance.ID,
			NodeID:       t.node.ID,
			ActiveStepID: t.step.ID,
			SubmittedBy:  t.actorID,
			Data:         t.action.FormData,
			CreatedAt:    t.now,
		}
		t.formResponses = append(t.formResponses, response)
		formResponseID = &response.ID
	case models.NodeTypeStart:
	default:
		if t.action.Feedback != "" {
			notes = t.action.Feedback
		}
	}

	for _, h := range hops {
		to := h.to
		row := &models.WorkflowHistory{
			ID:          newID(),
			InstanceID:  t.instance.ID,
			FromNodeID:  h.from,
			ToNodeID:    &to,
			HandedOffAt: t.now,
			ActorID:     t.actorID,
		}

		if h.direct {
			row.Notes = notes
			row.FormResponseID = formResponseID

			if t.node.Type == models.NodeTypeForm {
				row.FormData = t.action.FormData
			}
		} else if h.outcome != "" {
			row.Notes = "condition " + h.outcome
		}

		t.history = append(t.history, row)
	}
}

// settle derives the instance status and current node once the new steps are known.
func (t *transition) settle() {
	var live []*models.WorkflowActiveStep

	for _, s := range t.steps {
		if s.Live() && s.ID != t.step.ID {
			live = append(live, s)
		}
	}

	for _, s := range t.newSteps {
		if s.Live() {
			live = append(live, s)
		}
	}

	t.status = t.instance.Status

	if len(live) == 0 && t.endNodeID != "" {
		if status, err := advanceInstance(t.instance.Status, triggerComplete); err == nil {
			t.status = status
		}

		end := t.endNodeID
		t.currentNodeID = &end

		return
	}

	if len(live) == 1 {
		node := live[0].NodeID
		t.currentNodeID = &node
	}
}

func (t *transition) events(instance *models.WorkflowInstance) []eventbus.Event {
	var out []eventbus.Event

	if t.forkToken != "" {
		out = append(out, events.BranchesForked{
			BaseEvent:  events.NewBaseEvent(events.BranchesForkedEvent, instance.ID, instance.ProjectID, t.actorID),
			FromNodeID: t.node.ID,
			ForkToken:  t.forkToken,
			BranchIDs:  t.forkBranches,
		})
	}

	if t.released != nil {
		out = append(out, events.SyncReleased{
			BaseEvent:  events.NewBaseEvent(events.SyncReleasedEvent, instance.ID, instance.ProjectID, t.actorID),
			SyncNodeID: t.released.NodeID,
			ForkToken:  t.releasedFrom,
			BranchID:   t.released.BranchID,
		})
	}

	for _, s := range t.newSteps {
		if !s.Live() {
			continue
		}

		out = append(out, events.StepActivated{
			BaseEvent:      events.NewBaseEvent(events.StepActivatedEvent, instance.ID, instance.ProjectID, t.actorID),
			StepID:         s.ID,
			NodeID:         s.NodeID,
			NodeLabel:      t.graph.label(s.NodeID),
			BranchID:       s.BranchID,
			AssignedUserID: s.AssignedUserID,
		})
	}

	if instance.Status == models.InstanceStatusCompleted {
		out = append(out, events.InstanceCompleted{
			BaseEvent: events.NewBaseEvent(events.InstanceCompletedEvent, instance.ID, instance.ProjectID, t.actorID),
			EndNodeID: t.endNodeID,
		})
	}

	return out
}

// uniqueForkToken returns a fork token no earlier fork from the same branch used.
func uniqueForkToken(steps []*models.WorkflowActiveStep, parent models.BranchID, now time.Time) string {
	base := parent.String()

	for at := now; ; at = at.Add(time.Millisecond) {
		token := models.NewForkToken(at)

		taken := slices.ContainsFunc(steps, func(s *models.WorkflowActiveStep) bool {
			b, err := s.Branch()

			return err == nil && !b.IsRoot() && b.Base == base && b.ForkToken == token
		})
		if !taken {
			return token
		}
	}
}
