package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/handoff/pkg/models"
)

// HistoryEntry is a history row with node labels resolved.
type HistoryEntry struct {
	ID             string         `json:"id"`
	FromNodeID     string         `json:"from_node_id"`
	FromLabel      string         `json:"from_label"`
	ToNodeID       *string        `json:"to_node_id,omitempty"`
	ToLabel        string         `json:"to_label,omitempty"`
	HandedOffAt    time.Time      `json:"handed_off_at"`
	Notes          string         `json:"notes,omitempty"`
	FormData       map[string]any `json:"form_data,omitempty"`
	FormResponseID *string        `json:"form_response_id,omitempty"`
	ActorID        string         `json:"actor_id"`
	Sequence       int64          `json:"sequence"`
}

// History returns the audit trail of an instance in hand-off order.
func (e *Engine) History(ctx context.Context, instanceID string) ([]HistoryEntry, error) {
	const op = "History"

	instance, err := e.loadInstance(ctx, op, instanceID)
	if err != nil {
		return nil, err
	}

	graph, err := e.graphFor(ctx, op, instance)
	if err != nil {
		return nil, err
	}

	rows, err := e.persistence.HistoryRepository().ListByInstance(ctx, instance.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	entries := make([]HistoryEntry, 0, len(rows))

	for _, row := range rows {
		entry := HistoryEntry{
			ID:             row.ID,
			FromNodeID:     row.FromNodeID,
			FromLabel:      graph.label(row.FromNodeID),
			ToNodeID:       row.ToNodeID,
			HandedOffAt:    row.HandedOffAt,
			Notes:          row.Notes,
			FormData:       row.FormData,
			FormResponseID: row.FormResponseID,
			ActorID:        row.ActorID,
			Sequence:       row.Sequence,
		}

		if row.ToNodeID != nil {
			entry.ToLabel = graph.label(*row.ToNodeID)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// Steps returns every step of an instance in activation order.
func (e *Engine) Steps(ctx context.Context, instanceID string) ([]*models.WorkflowActiveStep, error) {
	instance, err := e.loadInstance(ctx, "Steps", instanceID)
	if err != nil {
		return nil, err
	}

	return e.persistence.InstanceRepository().Steps(ctx, instance.ID)
}
