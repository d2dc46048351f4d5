package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"github.com/dukex/handoff/pkg/models"
	"github.com/dukex/handoff/pkg/persistence"
)

// instanceDocument is the on-disk aggregate of one instance.
type instanceDocument struct {
	Instance      *models.WorkflowInstance         `json:"instance"`
	Steps         []*models.WorkflowActiveStep     `json:"steps"`
	Assignments   []*models.WorkflowNodeAssignment `json:"assignments"`
	Approvals     []*models.WorkflowApproval       `json:"approvals"`
	FormResponses []*models.FormResponse           `json:"form_responses"`
	History       []*models.WorkflowHistory        `json:"history"`
	Sequence      int64                            `json:"sequence"`
}

func (d *instanceDocument) appendHistory(rows []*models.WorkflowHistory) {
	for _, row := range rows {
		d.Sequence++
		row.Sequence = d.Sequence
		d.History = append(d.History, row)
	}
}

// instanceStore serializes every read-modify-write of instance documents.
type instanceStore struct {
	root string
	mu   sync.Mutex
}

func newInstanceStore(root string) *instanceStore {
	return &instanceStore{root: filepath.Join(root, "instances")}
}

func (s *instanceStore) path(id string) string {
	return filepath.Join(s.root, id+".json")
}

// load must be called with mu held.
func (s *instanceStore) load(op, id string) (*instanceDocument, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewInstanceError(op, id, err)
	}

	var doc instanceDocument

	err := readJSON(s.path(id), &doc)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.NewInstanceError(op, id, persistence.ErrInstanceNotFound)
		}

		return nil, persistence.NewInstanceError(op, id, err)
	}

	return &doc, nil
}

func (s *instanceStore) save(op string, doc *instanceDocument) error {
	if err := writeJSON(s.path(doc.Instance.ID), doc); err != nil {
		return persistence.NewInstanceError(op, doc.Instance.ID, err)
	}

	return nil
}

// read loads a document under the store lock.
func (s *instanceStore) read(op, id string) (*instanceDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load(op, id)
}

// update runs fn on the document and saves it when fn succeeds.
func (s *instanceStore) update(op, id string, fn func(doc *instanceDocument) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(op, id)
	if err != nil {
		return err
	}

	if err := fn(doc); err != nil {
		return err
	}

	return s.save(op, doc)
}

// InstanceRepository handles instance and active step file operations.
type InstanceRepository struct {
	store *instanceStore
}

// Create stores a new instance document.
func (ir *InstanceRepository) Create(_ context.Context, instance *models.WorkflowInstance, steps []*models.WorkflowActiveStep, history []*models.WorkflowHistory) error {
	if err := validateID(instance.ID); err != nil {
		return persistence.NewInstanceError("Create", instance.ID, err)
	}

	ir.store.mu.Lock()
	defer ir.store.mu.Unlock()

	if _, err := os.Stat(ir.store.path(instance.ID)); err == nil {
		return persistence.NewInstanceError("Create", instance.ID, errors.New("instance already exists"))
	}

	doc := &instanceDocument{
		Instance:      instance,
		Steps:         steps,
		Assignments:   []*models.WorkflowNodeAssignment{},
		Approvals:     []*models.WorkflowApproval{},
		FormResponses: []*models.FormResponse{},
	}
	doc.appendHistory(history)

	return ir.store.save("Create", doc)
}

func (ir *InstanceRepository) GetByID(_ context.Context, id string) (*models.WorkflowInstance, error) {
	doc, err := ir.store.read("GetByID", id)
	if err != nil {
		return nil, err
	}

	return doc.Instance, nil
}

// ListByProject returns the project's instances, newest first.
func (ir *InstanceRepository) ListByProject(_ context.Context, projectID string) ([]*models.WorkflowInstance, error) {
	ir.store.mu.Lock()
	defer ir.store.mu.Unlock()

	ids, err := listIDs(ir.store.root)
	if err != nil {
		return nil, err
	}

	instances := make([]*models.WorkflowInstance, 0)

	for _, id := range ids {
		doc, err := ir.store.load("ListByProject", id)
		if err != nil {
			return nil, fmt.Errorf("failed to load instance %s: %w", id, err)
		}

		if doc.Instance.ProjectID == projectID {
			instances = append(instances, doc.Instance)
		}
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].CreatedAt.After(instances[j].CreatedAt)
	})

	return instances, nil
}

// Delete removes the instance document together with its steps and audit trail.
func (ir *InstanceRepository) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return persistence.NewInstanceError("Delete", id, err)
	}

	ir.store.mu.Lock()
	defer ir.store.mu.Unlock()

	err := os.Remove(ir.store.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return persistence.NewInstanceError("Delete", id, persistence.ErrInstanceNotFound)
		}

		return persistence.NewInstanceError("Delete", id, err)
	}

	return nil
}

func (ir *InstanceRepository) Steps(_ context.Context, instanceID string) ([]*models.WorkflowActiveStep, error) {
	doc, err := ir.store.read("Steps", instanceID)
	if err != nil {
		return nil, err
	}

	steps := slices.Clone(doc.Steps)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].ActivatedAt.Before(steps[j].ActivatedAt)
	})

	return steps, nil
}

func (ir *InstanceRepository) Step(_ context.Context, instanceID, stepID string) (*models.WorkflowActiveStep, error) {
	doc, err := ir.store.read("Step", instanceID)
	if err != nil {
		return nil, err
	}

	for _, step := range doc.Steps {
		if step.ID == stepID {
			return step, nil
		}
	}

	return nil, persistence.NewStepError("Step", instanceID, stepID, persistence.ErrStepNotFound)
}

// CommitTransition applies the commit to the instance document under the store lock.
func (ir *InstanceRepository) CommitTransition(_ context.Context, commit *persistence.TransitionCommit) error {
	return ir.store.update("CommitTransition", commit.InstanceID, func(doc *instanceDocument) error {
		if !doc.Instance.UpdatedAt.Equal(commit.ExpectedUpdatedAt) {
			return persistence.NewInstanceError("CommitTransition", commit.InstanceID, persistence.ErrStaleInstance)
		}

		for _, stepID := range commit.CompleteStepIDs {
			idx := slices.IndexFunc(doc.Steps, func(s *models.WorkflowActiveStep) bool { return s.ID == stepID })
			if idx < 0 {
				return persistence.NewStepError("CommitTransition", commit.InstanceID, stepID, persistence.ErrStepNotFound)
			}

			step := doc.Steps[idx]
			if step.Status == models.StepStatusCompleted {
				return persistence.NewStepError("CommitTransition", commit.InstanceID, stepID, persistence.ErrStepAlreadyCompleted)
			}

			completedAt := commit.UpdatedAt
			step.Status = models.StepStatusCompleted
			step.CompletedAt = &completedAt
		}

		doc.Instance.UpdatedAt = commit.UpdatedAt
		doc.Instance.Status = commit.Status
		doc.Instance.CurrentNodeID = commit.CurrentNodeID
		doc.Steps = append(doc.Steps, commit.NewSteps...)
		doc.Approvals = append(doc.Approvals, commit.Approvals...)
		doc.FormResponses = append(doc.FormResponses, commit.FormResponses...)
		doc.appendHistory(commit.History)

		return nil
	})
}
