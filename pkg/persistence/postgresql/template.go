package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/handoff/pkg/models"
	"github.com/dukex/handoff/pkg/persistence"
)

// TemplateRepository handles template-related database operations.
type TemplateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTemplateRepository creates a new template repository.
func NewTemplateRepository(db *sql.DB, logger *slog.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, logger: logger}
}

const templateColumns = `
	id
  , name
  , description
  , is_active
  , created_by
  , created_at
  , updated_at
`

// Save upserts the template and replaces its nodes and connections.
func (r *TemplateRepository) Save(ctx context.Context, template *models.WorkflowTemplate) (err error) {
	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

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
		INSERT INTO workflow_templates (id, name, description, is_active, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
	`,
		template.ID,
		template.Name,
		template.Description,
		template.IsActive,
		template.CreatedBy,
		template.CreatedAt,
		template.UpdatedAt,
	)
	if err != nil {
		return persistence.NewTemplateError("Save", template.ID, err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_connections WHERE template_id = $1", template.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing connections: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_nodes WHERE template_id = $1", template.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing nodes: %w", err)
	}

	err = r.saveNodes(ctx, tx, template)
	if err != nil {
		return fmt.Errorf("failed to save template nodes: %w", err)
	}

	err = r.saveConnections(ctx, tx, template)
	if err != nil {
		return fmt.Errorf("failed to save template connections: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *TemplateRepository) saveNodes(ctx context.Context, tx *sql.Tx, template *models.WorkflowTemplate) error {
	for position, node := range template.Nodes {
		node.TemplateID = template.ID

		settingsJSON, err := json.Marshal(node.Settings)
		if err != nil {
			return fmt.Errorf("failed to marshal settings for node %s: %w", node.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_nodes (template_id, id, node_type, label, entity_id, settings, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, template.ID, node.ID, node.Type, node.Label, nullString(node.EntityID), settingsJSON, position)
		if err != nil {
			return fmt.Errorf("failed to insert node %s: %w", node.ID, err)
		}
	}

	return nil
}

func (r *TemplateRepository) saveConnections(ctx context.Context, tx *sql.Tx, template *models.WorkflowTemplate) error {
	for position, conn := range template.Connections {
		conn.TemplateID = template.ID

		var condition any

		if conn.Condition != nil {
			conditionJSON, err := json.Marshal(conn.Condition)
			if err != nil {
				return fmt.Errorf("failed to marshal condition for connection %s: %w", conn.ID, err)
			}

			condition = conditionJSON
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO workflow_connections (template_id, id, from_node_id, to_node_id, label, condition, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, template.ID, conn.ID, conn.FromNodeID, conn.ToNodeID, conn.Label, condition, position)
		if err != nil {
			return fmt.Errorf("failed to insert connection %s: %w", conn.ID, err)
		}
	}

	return nil
}

func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+templateColumns+" FROM workflow_templates WHERE id = $1", id)

	template, err := r.scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewTemplateError("GetByID", id, persistence.ErrTemplateNotFound)
		}

		return nil, persistence.NewTemplateError("GetByID", id, err)
	}

	err = r.loadGraph(ctx, template)
	if err != nil {
		return nil, persistence.NewTemplateError("GetByID", id, err)
	}

	return template, nil
}

// List returns every template, newest first.
func (r *TemplateRepository) List(ctx context.Context) ([]*models.WorkflowTemplate, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+templateColumns+" FROM workflow_templates ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	templates := make([]*models.WorkflowTemplate, 0)

	for rows.Next() {
		template, err := r.scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}

		templates = append(templates, template)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}

	for _, template := range templates {
		err = r.loadGraph(ctx, template)
		if err != nil {
			return nil, fmt.Errorf("failed to load graph of template %s: %w", template.ID, err)
		}
	}

	return templates, nil
}

// Delete removes the template with its nodes and connections. Running instances are unaffected.
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflow_templates WHERE id = $1", id)
	if err != nil {
		return persistence.NewTemplateError("Delete", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewTemplateError("Delete", id, persistence.ErrTemplateNotFound)
	}

	return nil
}

func (r *TemplateRepository) scanTemplate(row scanner) (*models.WorkflowTemplate, error) {
	var template models.WorkflowTemplate

	err := row.Scan(
		&template.ID,
		&template.Name,
		&template.Description,
		&template.IsActive,
		&template.CreatedBy,
		&template.CreatedAt,
		&template.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &template, nil
}

func (r *TemplateRepository) loadGraph(ctx context.Context, template *models.WorkflowTemplate) error {
	nodes, err := r.loadNodes(ctx, template.ID)
	if err != nil {
		return err
	}

	connections, err := r.loadConnections(ctx, template.ID)
	if err != nil {
		return err
	}

	template.Nodes = nodes
	template.Connections = connections

	return nil
}

func (r *TemplateRepository) loadNodes(ctx context.Context, templateID string) ([]*models.WorkflowNode, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, node_type, label, entity_id, settings
		FROM workflow_nodes
		WHERE template_id = $1
		ORDER BY position
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to query template nodes: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	nodes := make([]*models.WorkflowNode, 0)

	for rows.Next() {
		var (
			node         models.WorkflowNode
			entityID     sql.NullString
			settingsJSON []byte
		)

		err := rows.Scan(&node.ID, &node.Type, &node.Label, &entityID, &settingsJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}

		node.TemplateID = templateID
		node.EntityID = stringPtr(entityID)

		node.Settings, err = models.DecodeSettings(node.Type, settingsJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode settings of node %s: %w", node.ID, err)
		}

		nodes = append(nodes, &node)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	return nodes, nil
}

func (r *TemplateRepository) loadConnections(ctx context.Context, templateID string) ([]*models.WorkflowConnection, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, from_node_id, to_node_id, label, condition
		FROM workflow_connections
		WHERE template_id = $1
		ORDER BY position
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to query template connections: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	connections := make([]*models.WorkflowConnection, 0)

	for rows.Next() {
		var (
			conn          models.WorkflowConnection
			conditionJSON []byte
		)

		err := rows.Scan(&conn.ID, &conn.FromNodeID, &conn.ToNodeID, &conn.Label, &conditionJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}

		conn.TemplateID = templateID

		if len(conditionJSON) > 0 {
			var condition models.Condition

			err = json.Unmarshal(conditionJSON, &condition)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal condition of connection %s: %w", conn.ID, err)
			}

			conn.Condition = &condition
		}

		connections = append(connections, &conn)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return connections, nil
}
