package services

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/dukex/handoff/pkg/engine"
	"github.com/dukex/handoff/pkg/models"
	"github.com/dukex/handoff/pkg/persistence"
	"github.com/dukex/handoff/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func approvalEdge(id, from, to, decision string) *models.WorkflowConnection {
	return &models.WorkflowConnection{
		ID:         id,
		FromNodeID: from,
		ToNodeID:   to,
		Condition:  &models.Condition{ConditionType: models.ConditionTypeApprovalDecision, Decision: decision},
	}
}

func reviewTemplate() *models.WorkflowTemplate {
	designer := "designer"
	director := "art-director"

	return &models.WorkflowTemplate{
		Name:      "Design Review",
		IsActive:  true,
		CreatedBy: "admin",
		Nodes: []*models.WorkflowNode{
			{ID: "start", Type: models.NodeTypeStart, Label: "Start"},
			{ID: "design", Type: models.NodeTypeRole, Label: "Design", EntityID: &designer},
			{ID: "design_approval", Type: models.NodeTypeApproval, Label: "Design Approval", EntityID: &director},
			{ID: "end", Type: models.NodeTypeEnd, Label: "End"},
		},
		Connections: []*models.WorkflowConnection{
			{FromNodeID: "start", ToNodeID: "design"},
			{FromNodeID: "design", ToNodeID: "design_approval"},
			approvalEdge("", "design_approval", "end", models.DecisionApproved),
			approvalEdge("", "design_approval", "design", models.DecisionRejected),
		},
	}
}

func TestNewTemplate(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	service := NewTemplate(p, discardLogger())

	assert.NotNil(t, service)
	assert.Equal(t, p, service.persistence)
}

func TestTemplate_HealthCheck(t *testing.T) {
	service := NewTemplate(file.NewPersistence(t.TempDir()), discardLogger())

	message, ok := service.HealthCheck(t.Context())
	assert.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", message)

	service = NewTemplate(nil, discardLogger())
	_, ok = service.HealthCheck(t.Context())
	assert.False(t, ok)
}

func TestTemplate_Create(t *testing.T) {
	service := NewTemplate(file.NewPersistence(t.TempDir()), discardLogger())

	created, err := service.Create(t.Context(), reviewTemplate())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	for _, conn := range created.Connections {
		assert.NotEmpty(t, conn.ID)
	}

	fetched, err := service.FetchByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Design Review", fetched.Name)
	assert.Len(t, fetched.Nodes, 4)
	assert.IsType(t, &models.ApprovalSettings{}, fetched.Nodes[2].Settings)
}

func TestTemplate_CreateKeepsImportedID(t *testing.T) {
	service := NewTemplate(file.NewPersistence(t.TempDir()), discardLogger())

	template := reviewTemplate()
	template.ID = "design-review"

	created, err := service.Create(t.Context(), template)
	require.NoError(t, err)
	assert.Equal(t, "design-review", created.ID)
}

func TestTemplate_CreateRejectsInvalid(t *testing.T) {
	service := NewTemplate(file.NewPersistence(t.TempDir()), discardLogger())

	_, err := service.Create(t.Context(), nil)
	require.ErrorIs(t, err, ErrTemplateNil)

	short := reviewTemplate()
	short.Name = "ab"
	_, err = service.Create(t.Context(), short)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	noEnd := reviewTemplate()
	noEnd.Nodes = noEnd.Nodes[:3]
	noEnd.Connections = noEnd.Connections[:2]
	_, err = service.Create(t.Context(), noEnd)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.True(t, engine.IsTemplateInvalidError(err))

	var invalid *engine.TemplateInvalidError
	require.True(t, errors.As(err, &invalid))
	assert.Contains(t, invalid.Problems, "template must have at least one end node")

	templates, err := service.List(t.Context(), ListTemplatesRequest{})
	require.NoError(t, err)
	assert.Empty(t, templates)
}

func TestTemplate_Update(t *testing.T) {
	service := NewTemplate(file.NewPersistence(t.TempDir()), discardLogger())

	created, err := service.Create(t.Context(), reviewTemplate())
	require.NoError(t, err)

	changed := reviewTemplate()
	changed.Name = "Design Review v2"
	changed.CreatedBy = ""

	updated, err := service.Update(t.Context(), created.ID, changed)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "admin", updated.CreatedBy)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	_, err = service.Update(t.Context(), "missing", reviewTemplate())
	require.Error(t, err)
	assert.True(t, persistence.IsTemplateNotFound(err))
}

func TestTemplate_ListAndDelete(t *testing.T) {
	service := NewTemplate(file.NewPersistence(t.TempDir()), discardLogger())

	first := reviewTemplate()
	first.Name = "Zeta Review"
	_, err := service.Create(t.Context(), first)
	require.NoError(t, err)

	second := reviewTemplate()
	second.Name = "Alpha Review"
	second.IsActive = false
	second.CreatedBy = "dana"
	created, err := service.Create(t.Context(), second)
	require.NoError(t, err)

	all, err := service.List(t.Context(), ListTemplatesRequest{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Alpha Review", all[0].Name)

	active, err := service.List(t.Context(), ListTemplatesRequest{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Zeta Review", active[0].Name)

	mine, err := service.List(t.Context(), ListTemplatesRequest{CreatedBy: "dana"})
	require.NoError(t, err)
	require.Len(t, mine, 1)

	require.NoError(t, service.Delete(t.Context(), created.ID))

	_, err = service.FetchByID(t.Context(), created.ID)
	assert.True(t, persistence.IsTemplateNotFound(err))
}
