// Package file provides file-based persistence for templates and workflow instances.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/handoff/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system. Each
// instance is stored as one JSON document, so a transition is a single file replacement.
type Persistence struct {
	root           string
	templateRepo   *TemplateRepository
	instanceRepo   *InstanceRepository
	assignmentRepo *AssignmentRepository
	historyRepo    *HistoryRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) persistence.Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)
	store := newInstanceStore(cleanRoot)

	return &Persistence{
		root:           cleanRoot,
		templateRepo:   NewTemplateRepository(cleanRoot),
		instanceRepo:   &InstanceRepository{store: store},
		assignmentRepo: &AssignmentRepository{store: store},
		historyRepo:    &HistoryRepository{store: store},
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) TemplateRepository() persistence.TemplateRepository {
	return fp.templateRepo
}

func (fp *Persistence) InstanceRepository() persistence.InstanceRepository {
	return fp.instanceRepo
}

func (fp *Persistence) AssignmentRepository() persistence.AssignmentRepository {
	return fp.assignmentRepo
}

func (fp *Persistence) HistoryRepository() persistence.HistoryRepository {
	return fp.historyRepo
}

// validateID validates that an ID is safe for file operations.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: ID cannot be empty", persistence.ErrInvalidID)
	}

	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return fmt.Errorf("%w: ID contains invalid characters", persistence.ErrInvalidID)
	}

	return nil
}

// writeJSON replaces path with the encoded value through a temporary file.
func writeJSON(path string, value any) error {
	err := os.MkdirAll(filepath.Dir(path), 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	tmp := path + ".tmp"

	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	err = os.Rename(tmp, path)
	if err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}

	return nil
}

// readJSON decodes path into value. A missing file is reported as os.ErrNotExist.
func readJSON(path string, value any) error {
	data, err := os.ReadFile(path) // #nosec G304 -- IDs are validated before building paths
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return os.ErrNotExist
		}

		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}

	err = json.Unmarshal(data, value)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}

	return nil
}

// listIDs returns the IDs of every JSON document in dir.
func listIDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}

	return ids, nil
}
