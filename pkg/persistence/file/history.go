package file

import (
	"context"
	"slices"
	"sort"

	"github.com/dukex/handoff/pkg/models"
	"github.com/dukex/handoff/pkg/persistence"
)

// AssignmentRepository stores pipeline assignments inside the instance document.
type AssignmentRepository struct {
	store *instanceStore
}

func (ar *AssignmentRepository) Assign(_ context.Context, assignment *models.WorkflowNodeAssignment) error {
	return ar.store.update("Assign", assignment.InstanceID, func(doc *instanceDocument) error {
		for _, existing := range doc.Assignments {
			if existing.NodeID == assignment.NodeID && existing.UserID == assignment.UserID {
				return nil
			}
		}

		doc.Assignments = append(doc.Assignments, assignment)

		return nil
	})
}

func (ar *AssignmentRepository) Unassign(_ context.Context, instanceID, nodeID, userID string) error {
	return ar.store.update("Unassign", instanceID, func(doc *instanceDocument) error {
		doc.Assignments = slices.DeleteFunc(doc.Assignments, func(a *models.WorkflowNodeAssignment) bool {
			return a.NodeID == nodeID && a.UserID == userID
		})

		return nil
	})
}

func (ar *AssignmentRepository) ListByInstance(_ context.Context, instanceID string) ([]*models.WorkflowNodeAssignment, error) {
	doc, err := ar.store.read("ListAssignments", instanceID)
	if err != nil {
		return nil, err
	}

	return doc.Assignments, nil
}

// HistoryRepository reads the audit trail of instance documents.
type HistoryRepository struct {
	store *instanceStore
}

func (hr *HistoryRepository) ListByInstance(_ context.Context, instanceID string) ([]*models.WorkflowHistory, error) {
	doc, err := hr.store.read("ListHistory", instanceID)
	if err != nil {
		return nil, err
	}

	history := slices.Clone(doc.History)
	sort.SliceStable(history, func(i, j int) bool {
		if history[i].HandedOffAt.Equal(history[j].HandedOffAt) {
			return history[i].Sequence < history[j].Sequence
		}

		return history[i].HandedOffAt.Before(history[j].HandedOffAt)
	})

	return history, nil
}

func (hr *HistoryRepository) Approvals(_ context.Context, instanceID string) ([]*models.WorkflowApproval, error) {
	doc, err := hr.store.read("Approvals", instanceID)
	if err != nil {
		return nil, err
	}

	return doc.Approvals, nil
}

func (hr *HistoryRepository) FormResponses(_ context.Context, instanceID string) ([]*models.FormResponse, error) {
	doc, err := hr.store.read("FormResponses", instanceID)
	if err != nil {
		return nil, err
	}

	return doc.FormResponses, nil
}

var (
	_ persistence.AssignmentRepository = (*AssignmentRepository)(nil)
	_ persistence.HistoryRepository    = (*HistoryRepository)(nil)
	_ persistence.InstanceRepository   = (*InstanceRepository)(nil)
	_ persistence.TemplateRepository   = (*TemplateRepository)(nil)
)
