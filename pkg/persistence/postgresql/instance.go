package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/handoff/pkg/models"
	"github.com/dukex/handoff/pkg/persistence"
)

// InstanceRepository handles instance and active step database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

const instanceColumns = `
	id
  , template_id
  , project_id
  , current_node_id
  , status
  , started_snapshot
  , started_by
  , created_at
  , updated_at
`

const stepColumns = `
	id
  , instance_id
  , node_id
  , branch_id
  , status
  , assigned_user_id
  , activated_at
  , completed_at
`

// Create inserts the instance, its first steps and history rows in one transaction.
func (r *InstanceRepository) Create(ctx context.Context, instance *models.WorkflowInstance, steps []*models.WorkflowActiveStep, history []*models.WorkflowHistory) (err error) {
	var snapshotJSON any

	if instance.StartedSnapshot != nil {
		data, err := json.Marshal(instance.StartedSnapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}

		snapshotJSON = data
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_instances (id, template_id, project_id, current_node_id, status, started_snapshot, started_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		instance.ID,
		instance.TemplateID,
		instance.ProjectID,
		nullString(instance.CurrentNodeID),
		instance.Status,
		snapshotJSON,
		instance.StartedBy,
		instance.CreatedAt,
		instance.UpdatedAt,
	)
	if err != nil {
		return persistence.NewInstanceError("Create", instance.ID, err)
	}

	err = insertSteps(ctx, tx, steps)
	if err != nil {
		return persistence.NewInstanceError("Create", instance.ID, err)
	}

	err = insertHistory(ctx, tx, history)
	if err != nil {
		return persistence.NewInstanceError("Create", instance.ID, err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+instanceColumns+" FROM workflow_instances WHERE id = $1", id)

	instance, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
		}

		return nil, persistence.NewInstanceError("GetByID", id, err)
	}

	return instance, nil
}

// ListByProject returns the project's instances, newest first.
func (r *InstanceRepository) ListByProject(ctx context.Context, projectID string) ([]*models.WorkflowInstance, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+instanceColumns+" FROM workflow_instances WHERE project_id = $1 ORDER BY created_at DESC", projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

// Delete removes the instance. Steps, assignments and the audit trail cascade.
func (r *InstanceRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflow_instances WHERE id = $1", id)
	if err != nil {
		return persistence.NewInstanceError("Delete", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewInstanceError("Delete", id, persistence.ErrInstanceNotFound)
	}

	return nil
}

func (r *InstanceRepository) Steps(ctx context.Context, instanceID string) ([]*models.WorkflowActiveStep, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+stepColumns+" FROM workflow_active_steps WHERE instance_id = $1 ORDER BY activated_at, id", instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active steps: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	steps := make([]*models.WorkflowActiveStep, 0)

	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan active step: %w", err)
		}

		steps = append(steps, step)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating active steps: %w", err)
	}

	return steps, nil
}

func (r *InstanceRepository) Step(ctx context.Context, instanceID, stepID string) (*models.WorkflowActiveStep, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+stepColumns+" FROM workflow_active_steps WHERE id = $1 AND instance_id = $2", stepID, instanceID)

	step, err := scanStep(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStepError("Step", instanceID, stepID, persistence.ErrStepNotFound)
		}

		return nil, persistence.NewStepError("Step", instanceID, stepID, err)
	}

	return step, nil
}

// CommitTransition fences the instance on its version stamp and each completed step on its status,
// then appends the new rows. Any fence miss rolls the whole transaction back.
func (r *InstanceRepository) CommitTransition(ctx context.Context, commit *persistence.TransitionCommit) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE workflow_instances
		SET updated_at = $1, status = $2, current_node_id = $3
		WHERE id = $4 AND updated_at = $5
	`, commit.UpdatedAt, commit.Status, nullString(commit.CurrentNodeID), commit.InstanceID, commit.ExpectedUpdatedAt)
	if err != nil {
		return persistence.NewInstanceError("CommitTransition", commit.InstanceID, err)
	}

	err = expectOneRow(result, persistence.NewInstanceError("CommitTransition", commit.InstanceID, persistence.ErrStaleInstance))
	if err != nil {
		return err
	}

	for _, stepID := range commit.CompleteStepIDs {
		result, err = tx.ExecContext(ctx, `
			UPDATE workflow_active_steps
			SET status = 'completed', completed_at = $1
			WHERE id = $2 AND instance_id = $3 AND status <> 'completed'
		`, commit.UpdatedAt, stepID, commit.InstanceID)
		if err != nil {
			return persistence.NewStepError("CommitTransition", commit.InstanceID, stepID, err)
		}

		err = expectOneRow(result, persistence.NewStepError("CommitTransition", commit.InstanceID, stepID, persistence.ErrStepAlreadyCompleted))
		if err != nil {
			return err
		}
	}

	err = insertSteps(ctx, tx, commit.NewSteps)
	if err != nil {
		return persistence.NewInstanceError("CommitTransition", commit.InstanceID, err)
	}

	err = insertApprovals(ctx, tx, commit.Approvals)
	if err != nil {
		return persistence.NewInstanceError("CommitTransition", commit.InstanceID, err)
	}

	err = insertFormResponses(ctx, tx, commit.FormResponses)
	if err != nil {
		return persistence.NewInstanceError("CommitTransition", commit.InstanceID, err)
	}

	err = insertHistory(ctx, tx, commit.History)
	if err != nil {
		return persistence.NewInstanceError("CommitTransition", commit.InstanceID, err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func expectOneRow(result sql.Result, fenceErr error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fenceErr
	}

	return nil
}

func insertSteps(ctx context.Context, tx *sql.Tx, steps []*models.WorkflowActiveStep) error {
	for _, step := range steps {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workflow_active_steps (id, instance_id, node_id, branch_id, status, assigned_user_id, activated_at, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			step.ID,
			step.InstanceID,
			step.NodeID,
			step.BranchID,
			step.Status,
			nullString(step.AssignedUserID),
			step.ActivatedAt,
			step.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert active step %s: %w", step.ID, err)
		}
	}

	return nil
}

func insertApprovals(ctx context.Context, tx *sql.Tx, approvals []*models.WorkflowApproval) error {
	for _, approval := range approvals {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workflow_approvals (id, instance_id, node_id, active_step_id, branch_id, decision, feedback, decided_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			approval.ID,
			approval.InstanceID,
			approval.NodeID,
			approval.ActiveStepID,
			approval.BranchID,
			approval.Decision,
			approval.Feedback,
			approval.DecidedBy,
			approval.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert approval %s: %w", approval.ID, err)
		}
	}

	return nil
}

func insertFormResponses(ctx context.Context, tx *sql.Tx, responses []*models.FormResponse) error {
	for _, response := range responses {
		dataJSON, err := json.Marshal(response.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal form response %s: %w", response.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_form_responses (id, instance_id, node_id, active_step_id, submitted_by, data, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			response.ID,
			response.InstanceID,
			response.NodeID,
			response.ActiveStepID,
			response.SubmittedBy,
			dataJSON,
			response.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert form response %s: %w", response.ID, err)
		}
	}

	return nil
}

// insertHistory appends rows in slice order; the sequence column records that order.
func insertHistory(ctx context.Context, tx *sql.Tx, history []*models.WorkflowHistory) error {
	for _, row := range history {
		var formData any

		if row.FormData != nil {
			data, err := json.Marshal(row.FormData)
			if err != nil {
				return fmt.Errorf("failed to marshal form data of history %s: %w", row.ID, err)
			}

			formData = data
		}

		err := tx.QueryRowContext(ctx, `
			INSERT INTO workflow_history (id, instance_id, from_node_id, to_node_id, handed_off_at, notes, form_data, form_response_id, actor_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING sequence
		`,
			row.ID,
			row.InstanceID,
			row.FromNodeID,
			nullString(row.ToNodeID),
			row.HandedOffAt,
			row.Notes,
			formData,
			nullString(row.FormResponseID),
			row.ActorID,
		).Scan(&row.Sequence)
		if err != nil {
			return fmt.Errorf("failed to insert history %s: %w", row.ID, err)
		}
	}

	return nil
}

func scanInstance(row scanner) (*models.WorkflowInstance, error) {
	var (
		instance      models.WorkflowInstance
		currentNodeID sql.NullString
		snapshotJSON  []byte
	)

	err := row.Scan(
		&instance.ID,
		&instance.TemplateID,
		&instance.ProjectID,
		&currentNodeID,
		&instance.Status,
		&snapshotJSON,
		&instance.StartedBy,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	instance.CurrentNodeID = stringPtr(currentNodeID)

	if len(snapshotJSON) > 0 {
		var snapshot models.Snapshot

		err = json.Unmarshal(snapshotJSON, &snapshot)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}

		instance.StartedSnapshot = &snapshot
	}

	return &instance, nil
}

func scanStep(row scanner) (*models.WorkflowActiveStep, error) {
	var (
		step           models.WorkflowActiveStep
		assignedUserID sql.NullString
		completedAt    sql.NullTime
	)

	err := row.Scan(
		&step.ID,
		&step.InstanceID,
		&step.NodeID,
		&step.BranchID,
		&step.Status,
		&assignedUserID,
		&step.ActivatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	step.AssignedUserID = stringPtr(assignedUserID)

	if completedAt.Valid {
		t := completedAt.Time
		step.CompletedAt = &t
	}

	return &step, nil
}
