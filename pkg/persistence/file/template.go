package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dukex/handoff/pkg/models"
	"github.com/dukex/handoff/pkg/persistence"
)

// TemplateRepository handles template-related file operations.
type TemplateRepository struct {
	root string
	mu   sync.RWMutex
}

// NewTemplateRepository creates a new template repository.
func NewTemplateRepository(root string) *TemplateRepository {
	return &TemplateRepository{root: filepath.Join(root, "templates")}
}

func (tr *TemplateRepository) path(id string) string {
	return filepath.Join(tr.root, id+".json")
}

// Save saves a template to the file system.
func (tr *TemplateRepository) Save(_ context.Context, template *models.WorkflowTemplate) error {
	if err := validateID(template.ID); err != nil {
		return persistence.NewTemplateError("Save", template.ID, err)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	for _, node := range template.Nodes {
		node.TemplateID = template.ID
	}

	for _, conn := range template.Connections {
		conn.TemplateID = template.ID
	}

	if err := writeJSON(tr.path(template.ID), template); err != nil {
		return persistence.NewTemplateError("Save", template.ID, err)
	}

	return nil
}

// GetByID retrieves a template by its ID from the file system.
func (tr *TemplateRepository) GetByID(_ context.Context, id string) (*models.WorkflowTemplate, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewTemplateError("GetByID", id, err)
	}

	tr.mu.RLock()
	defer tr.mu.RUnlock()

	return tr.read(id)
}

func (tr *TemplateRepository) read(id string) (*models.WorkflowTemplate, error) {
	var template models.WorkflowTemplate

	err := readJSON(tr.path(id), &template)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.NewTemplateError("GetByID", id, persistence.ErrTemplateNotFound)
		}

		return nil, persistence.NewTemplateError("GetByID", id, err)
	}

	return &template, nil
}

// List returns all templates, newest first.
func (tr *TemplateRepository) List(_ context.Context) ([]*models.WorkflowTemplate, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	ids, err := listIDs(tr.root)
	if err != nil {
		return nil, err
	}

	templates := make([]*models.WorkflowTemplate, 0, len(ids))

	for _, id := range ids {
		template, err := tr.read(id)
		if err != nil {
			return nil, fmt.Errorf("failed to load template %s: %w", id, err)
		}

		templates = append(templates, template)
	}

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].CreatedAt.After(templates[j].CreatedAt)
	})

	return templates, nil
}

// Delete removes a template from the file system.
func (tr *TemplateRepository) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return persistence.NewTemplateError("Delete", id, err)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	err := os.Remove(tr.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return persistence.NewTemplateError("Delete", id, persistence.ErrTemplateNotFound)
		}

		return persistence.NewTemplateError("Delete", id, err)
	}

	return nil
}
