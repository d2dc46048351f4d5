package templates_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/handoff/pkg/engine"
	"github.com/dukex/handoff/pkg/models"
	"github.com/dukex/handoff/pkg/templates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemo(t *testing.T) {
	template := templates.Demo()

	assert.Equal(t, "design-to-release", template.ID)
	assert.True(t, template.IsActive)
	assert.Len(t, template.Nodes, 10)
	assert.Len(t, template.Connections, 12)

	require.NoError(t, engine.ValidateTemplate(template))

	brief := template.Nodes[1]
	require.Len(t, brief.FormFields(), 3)
	assert.Equal(t, []string{"web", "print", "social"}, brief.FormFields()[1].Options)

	sync, ok := template.Nodes[7].Settings.(*models.SyncSettings)
	require.True(t, ok)
	assert.Equal(t, "lead", sync.LeaderRoleID)
}

func TestParse_JSON(t *testing.T) {
	doc := `{
		"name": "Quick Review",
		"nodes": [
			{"id": "start", "type": "start", "label": "Start"},
			{"id": "review", "type": "approval", "label": "Review", "entity_id": "lead"},
			{"id": "end", "type": "end", "label": "End"}
		],
		"connections": [
			{"from_node_id": "start", "to_node_id": "review"},
			{"from_node_id": "review", "to_node_id": "end", "condition": {"conditionType": "approval_decision", "decision": "approved"}},
			{"from_node_id": "review", "to_node_id": "start", "condition": {"conditionType": "approval_decision", "decision": "rejected"}}
		]
	}`

	template, err := templates.Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "Quick Review", template.Name)
	require.NotNil(t, template.Nodes[1].EntityID)
	assert.Equal(t, "lead", *template.Nodes[1].EntityID)
	assert.IsType(t, &models.ApprovalSettings{}, template.Nodes[1].Settings)
	assert.Equal(t, "approved", template.Connections[1].Condition.DecisionValue())
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "empty", doc: ""},
		{name: "missing nodes", doc: "name: Review\nconnections: []"},
		{name: "short name", doc: "name: ab\nnodes: [{id: s, type: start, label: S}, {id: e, type: end, label: E}]\nconnections: []"},
		{name: "unknown node type", doc: "name: Review\nnodes: [{id: s, type: robot, label: S}, {id: e, type: end, label: E}]\nconnections: []"},
		{name: "connection without target", doc: "name: Review\nnodes: [{id: s, type: start, label: S}, {id: e, type: end, label: E}]\nconnections: [{from_node_id: s}]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := templates.Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, templates.ErrInvalidDocument)
		})
	}

	_, err := templates.Parse([]byte("name: [unclosed"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, templates.ErrInvalidDocument)
}

func TestMarshal_RoundTrip(t *testing.T) {
	demo := templates.Demo()

	for _, format := range []string{"yaml", "json"} {
		t.Run(format, func(t *testing.T) {
			data, err := templates.Marshal(demo, format)
			require.NoError(t, err)
			assert.NotContains(t, string(data), "created_at")

			path := filepath.Join(t.TempDir(), "template."+format)
			require.NoError(t, os.WriteFile(path, data, 0o600))
			assert.Equal(t, format, templates.FormatFor(path))

			loaded, err := templates.Load(path)
			require.NoError(t, err)
			assert.Equal(t, demo.Name, loaded.Name)
			assert.Len(t, loaded.Nodes, len(demo.Nodes))
			assert.Equal(t, demo.Nodes[3].Settings, loaded.Nodes[3].Settings)
		})
	}
}
