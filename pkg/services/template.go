package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dukex/handoff/pkg/engine"
	"github.com/dukex/handoff/pkg/models"
	"github.com/dukex/handoff/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	// ErrTemplateNotFound is returned when a template is not found.
	ErrTemplateNotFound = persistence.ErrTemplateNotFound
)

type Template struct {
	persistence persistence.Persistence
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewTemplate creates a new template service.
func NewTemplate(persistence persistence.Persistence, logger *slog.Logger) *Template {
	return &Template{
		persistence: persistence,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger,
	}
}

// HealthCheck checks the health of the persistence layer.
func (t *Template) HealthCheck(ctx context.Context) (string, bool) {
	if t.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := t.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListTemplatesRequest filters the template list.
type ListTemplatesRequest struct {
	ActiveOnly bool
	CreatedBy  string
}

// List returns templates sorted by name.
func (t *Template) List(ctx context.Context, req ListTemplatesRequest) ([]*models.WorkflowTemplate, error) {
	templates, err := t.persistence.TemplateRepository().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	createdBy := strings.TrimSpace(req.CreatedBy)

	templates = slices.DeleteFunc(templates, func(tpl *models.WorkflowTemplate) bool {
		return (req.ActiveOnly && !tpl.IsActive) || (createdBy != "" && tpl.CreatedBy != createdBy)
	})

	slices.SortFunc(templates, func(a, b *models.WorkflowTemplate) int {
		return strings.Compare(a.Name, b.Name)
	})

	return templates, nil
}

// FetchByID retrieves a template by its ID.
func (t *Template) FetchByID(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	template, err := t.persistence.TemplateRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if template == nil {
		return nil, ErrTemplateNotFound
	}

	return template, nil
}

// Create validates and stores a new template. A caller-supplied ID is kept so imported documents
// stay addressable by their own identifiers.
func (t *Template) Create(ctx context.Context, template *models.WorkflowTemplate) (*models.WorkflowTemplate, error) {
	if template == nil {
		return nil, ErrTemplateNil
	}

	now := time.Now().UTC()
	if template.ID == "" {
		template.ID = uuid.New().String()
	}

	template.CreatedAt = now
	template.UpdatedAt = now

	if err := t.check("Create", template); err != nil {
		return nil, err
	}

	err := t.persistence.TemplateRepository().Save(ctx, template)
	if err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}

	t.logger.InfoContext(ctx, "Created template", "template_id", template.ID, "name", template.Name)

	return template, nil
}

// Update replaces an existing template. Running instances keep their snapshot and are not
// affected.
func (t *Template) Update(ctx context.Context, templateID string, template *models.WorkflowTemplate) (*models.WorkflowTemplate, error) {
	if template == nil {
		return nil, ErrTemplateNil
	}

	existing, err := t.persistence.TemplateRepository().GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}

	template.ID = templateID
	template.CreatedAt = existing.CreatedAt
	template.UpdatedAt = time.Now().UTC()

	if template.CreatedBy == "" {
		template.CreatedBy = existing.CreatedBy
	}

	if err := t.check("Update", template); err != nil {
		return nil, err
	}

	err = t.persistence.TemplateRepository().Save(ctx, template)
	if err != nil {
		return nil, fmt.Errorf("failed to update template: %w", err)
	}

	t.logger.InfoContext(ctx, "Updated template", "template_id", template.ID)

	return template, nil
}

// Delete removes a template. Instances started from it keep running on their snapshot.
func (t *Template) Delete(ctx context.Context, id string) error {
	return t.persistence.TemplateRepository().Delete(ctx, id)
}

// Validate runs the save-time checks without storing anything.
func (t *Template) Validate(template *models.WorkflowTemplate) error {
	if template == nil {
		return ErrTemplateNil
	}

	return t.check("Validate", template)
}

func (t *Template) check(op string, template *models.WorkflowTemplate) error {
	if err := t.validate.Struct(template); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			problems := make([]string, len(fieldErrors))
			for i, fe := range fieldErrors {
				problems[i] = fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag())
			}

			return NewValidationError(op, "INVALID_TEMPLATE", strings.Join(problems, "; "), ErrTemplateInvalid)
		}

		return NewValidationError(op, "INVALID_TEMPLATE", err.Error(), ErrInvalidRequest)
	}

	for _, conn := range template.Connections {
		if conn.ID == "" {
			conn.ID = uuid.New().String()
		}
	}

	err := engine.ValidateTemplate(template)
	if err != nil {
		return &ServiceError{Op: op, Code: "INVALID_TEMPLATE", Message: err.Error(), Err: errors.Join(ErrTemplateInvalid, err)}
	}

	return nil
}
