package engine

import (
	"strings"
	"testing"

	"github.com/dukex/handoff/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decisionEdge(id, from, to, decision string) *models.WorkflowConnection {
	return &models.WorkflowConnection{
		ID:         id,
		FromNodeID: from,
		ToNodeID:   to,
		Condition:  &models.Condition{ConditionType: models.ConditionTypeApprovalDecision, Decision: decision},
	}
}

func validTemplate() *models.WorkflowTemplate {
	return &models.WorkflowTemplate{
		ID:   "tpl",
		Name: "Review",
		Nodes: []*models.WorkflowNode{
			{ID: "start", Type: models.NodeTypeStart, Label: "Start"},
			{ID: "review", Type: models.NodeTypeApproval, Label: "Review"},
			{ID: "fix", Type: models.NodeTypeRole, Label: "Fix"},
			{ID: "end", Type: models.NodeTypeEnd, Label: "End"},
		},
		Connections: []*models.WorkflowConnection{
			{ID: "c1", FromNodeID: "start", ToNodeID: "review"},
			decisionEdge("c2", "review", "end", models.DecisionApproved),
			decisionEdge("c3", "review", "fix", models.DecisionRejected),
			{ID: "c4", FromNodeID: "fix", ToNodeID: "review"},
		},
	}
}

func problemsOf(t *testing.T, err error) string {
	t.Helper()

	var invalid *TemplateInvalidError
	require.ErrorAs(t, err, &invalid)

	return strings.Join(invalid.Problems, "\n")
}

func TestValidateTemplate_Valid(t *testing.T) {
	template := validTemplate()
	require.NoError(t, ValidateTemplate(template))

	// Missing settings are filled with the zero variant of the node type.
	assert.IsType(t, &models.ApprovalSettings{}, template.Nodes[1].Settings)
}

func TestValidateTemplate_Problems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.WorkflowTemplate)
		want   string
	}{
		{
			name: "no start",
			mutate: func(tpl *models.WorkflowTemplate) {
				tpl.Nodes[0].Type = models.NodeTypeRole
			},
			want: "exactly one start node, found 0",
		},
		{
			name: "no end",
			mutate: func(tpl *models.WorkflowTemplate) {
				tpl.Nodes[3].Type = models.NodeTypeRole
			},
			want: "at least one end node",
		},
		{
			name: "duplicate decision",
			mutate: func(tpl *models.WorkflowTemplate) {
				tpl.Connections[2].Condition.Decision = models.DecisionApproved
			},
			want: `routes decision "approved" to both end and fix`,
		},
		{
			name: "approval edge without decision",
			mutate: func(tpl *models.WorkflowTemplate) {
				tpl.Connections[2].Condition = nil
			},
			want: "has no approval decision",
		},
		{
			name: "unsupported decision",
			mutate: func(tpl *models.WorkflowTemplate) {
				tpl.Nodes[1].Settings = &models.ApprovalSettings{Decisions: []string{models.DecisionApproved}}
			},
			want: `does not support decision "rejected"`,
		},
		{
			name: "uncovered decision",
			mutate: func(tpl *models.WorkflowTemplate) {
				tpl.Nodes[1].Settings = &models.ApprovalSettings{Decisions: []string{"approved", "rejected", "escalated"}}
			},
			want: `no connection for decision "escalated"`,
		},
		{
			name: "end with outgoing connection",
			mutate: func(tpl *models.WorkflowTemplate) {
				tpl.Connections = append(tpl.Connections, &models.WorkflowConnection{ID: "c5", FromNodeID: "end", ToNodeID: "fix"})
			},
			want: "end node end has outgoing connections",
		},
		{
			name: "dangling connection",
			mutate: func(tpl *models.WorkflowTemplate) {
				tpl.Connections[3].ToNodeID = "ghost"
			},
			want: "ends at unknown node ghost",
		},
		{
			name: "dead end",
			mutate: func(tpl *models.WorkflowTemplate) {
				tpl.Connections = tpl.Connections[:3]
			},
			want: "node fix has no outgoing connection",
		},
		{
			name: "unreachable node",
			mutate: func(tpl *models.WorkflowTemplate) {
				tpl.Nodes = append(tpl.Nodes, &models.WorkflowNode{ID: "orphan", Type: models.NodeTypeEnd, Label: "Orphan"})
			},
			want: "node orphan is not reachable",
		},
		{
			name: "wrong settings variant",
			mutate: func(tpl *models.WorkflowTemplate) {
				tpl.Nodes[2].Settings = &models.FormSettings{}
			},
			want: "node fix of type role carries form settings",
		},
		{
			name: "unknown type",
			mutate: func(tpl *models.WorkflowTemplate) {
				tpl.Nodes[2].Type = "robot"
			},
			want: `unknown type "robot"`,
		},
		{
			name: "unlabelled conditional edge",
			mutate: func(tpl *models.WorkflowTemplate) {
				tpl.Nodes[2] = &models.WorkflowNode{ID: "fix", Type: models.NodeTypeConditional, Label: "Fix",
					Settings: &models.ConditionalSettings{Expression: "urgent == yes"}}
			},
			want: "must be labelled true or false",
		},
		{
			name: "bad conditional expression",
			mutate: func(tpl *models.WorkflowTemplate) {
				tpl.Nodes[2] = &models.WorkflowNode{ID: "fix", Type: models.NodeTypeConditional, Label: "Fix",
					Settings: &models.ConditionalSettings{Expression: "urgent yes"}}
				tpl.Connections[3].Label = "true"
			},
			want: "invalid conditional expression",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			template := validTemplate()
			tt.mutate(template)

			err := ValidateTemplate(template)
			require.Error(t, err)
			assert.True(t, IsTemplateInvalidError(err))
			assert.Contains(t, problemsOf(t, err), tt.want)
		})
	}
}

func TestValidateTemplate_FormFields(t *testing.T) {
	template := validTemplate()
	template.Nodes[2] = &models.WorkflowNode{ID: "fix", Type: models.NodeTypeForm, Label: "Fix", Settings: &models.FormSettings{
		Fields: []models.FormField{
			{ID: "title", Type: models.FieldTypeText, Validation: &models.FieldValidation{Pattern: "("}},
			{ID: "title", Type: models.FieldTypeText},
			{ID: "kind", Type: models.FieldTypeSelect},
			{ID: "meta", Type: models.FieldTypeJSON, Validation: &models.FieldValidation{Schema: map[string]any{"type": 12}}},
			{ID: "extra", Type: "slider"},
			{ID: "notes", Type: models.FieldTypeTextarea, Conditional: &models.FieldVisibility{FieldID: "ghost", Operator: models.VisibilityNotEmpty}},
		},
	}}

	problems := problemsOf(t, ValidateTemplate(template))

	assert.Contains(t, problems, "field title of form node fix has an invalid pattern")
	assert.Contains(t, problems, "form node fix has duplicate field title")
	assert.Contains(t, problems, "field kind of form node fix has no options")
	assert.Contains(t, problems, "field meta of form node fix has an invalid schema")
	assert.Contains(t, problems, `field extra of form node fix has unknown type "slider"`)
	assert.Contains(t, problems, `field notes of form node fix depends on unknown field "ghost"`)
}
