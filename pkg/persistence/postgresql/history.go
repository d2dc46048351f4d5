package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dukex/handoff/pkg/models"
)

// AssignmentRepository handles pipeline assignment database operations.
type AssignmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewAssignmentRepository(db *sql.DB, logger *slog.Logger) *AssignmentRepository {
	return &AssignmentRepository{db: db, logger: logger}
}

func (r *AssignmentRepository) Assign(ctx context.Context, assignment *models.WorkflowNodeAssignment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_node_assignments (instance_id, node_id, user_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (instance_id, node_id, user_id) DO NOTHING
	`, assignment.InstanceID, assignment.NodeID, assignment.UserID, assignment.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert assignment: %w", err)
	}

	return nil
}

func (r *AssignmentRepository) Unassign(ctx context.Context, instanceID, nodeID, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM workflow_node_assignments
		WHERE instance_id = $1 AND node_id = $2 AND user_id = $3
	`, instanceID, nodeID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}

	return nil
}

func (r *AssignmentRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.WorkflowNodeAssignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT instance_id, node_id, user_id, created_at
		FROM workflow_node_assignments
		WHERE instance_id = $1
		ORDER BY created_at
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	assignments := make([]*models.WorkflowNodeAssignment, 0)

	for rows.Next() {
		var a models.WorkflowNodeAssignment

		err := rows.Scan(&a.InstanceID, &a.NodeID, &a.UserID, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}

		assignments = append(assignments, &a)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating assignments: %w", err)
	}

	return assignments, nil
}

// HistoryRepository reads the append-only audit trail.
type HistoryRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewHistoryRepository(db *sql.DB, logger *slog.Logger) *HistoryRepository {
	return &HistoryRepository{db: db, logger: logger}
}

func (r *HistoryRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.WorkflowHistory, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, instance_id, from_node_id, to_node_id, handed_off_at, notes, form_data, form_response_id, actor_id, sequence
		FROM workflow_history
		WHERE instance_id = $1
		ORDER BY handed_off_at, sequence
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	history := make([]*models.WorkflowHistory, 0)

	for rows.Next() {
		var (
			row            models.WorkflowHistory
			toNodeID       sql.NullString
			formResponseID sql.NullString
			formData       []byte
		)

		err := rows.Scan(
			&row.ID,
			&row.InstanceID,
			&row.FromNodeID,
			&toNodeID,
			&row.HandedOffAt,
			&row.Notes,
			&formData,
			&formResponseID,
			&row.ActorID,
			&row.Sequence,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}

		row.ToNodeID = stringPtr(toNodeID)
		row.FormResponseID = stringPtr(formResponseID)

		if len(formData) > 0 {
			err = json.Unmarshal(formData, &row.FormData)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal form data of history %s: %w", row.ID, err)
			}
		}

		history = append(history, &row)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return history, nil
}

func (r *HistoryRepository) Approvals(ctx context.Context, instanceID string) ([]*models.WorkflowApproval, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, instance_id, node_id, active_step_id, branch_id, decision, feedback, decided_by, created_at
		FROM workflow_approvals
		WHERE instance_id = $1
		ORDER BY created_at, id
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	approvals := make([]*models.WorkflowApproval, 0)

	for rows.Next() {
		var a models.WorkflowApproval

		err := rows.Scan(&a.ID, &a.InstanceID, &a.NodeID, &a.ActiveStepID, &a.BranchID, &a.Decision, &a.Feedback, &a.DecidedBy, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}

		approvals = append(approvals, &a)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating approvals: %w", err)
	}

	return approvals, nil
}

func (r *HistoryRepository) FormResponses(ctx context.Context, instanceID string) ([]*models.FormResponse, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, instance_id, node_id, active_step_id, submitted_by, data, created_at
		FROM workflow_form_responses
		WHERE instance_id = $1
		ORDER BY created_at, id
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query form responses: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	responses := make([]*models.FormResponse, 0)

	for rows.Next() {
		var (
			response models.FormResponse
			data     []byte
		)

		err := rows.Scan(&response.ID, &response.InstanceID, &response.NodeID, &response.ActiveStepID, &response.SubmittedBy, &data, &response.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan form response: %w", err)
		}

		err = json.Unmarshal(data, &response.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal form response %s: %w", response.ID, err)
		}

		responses = append(responses, &response)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating form responses: %w", err)
	}

	return responses, nil
}
