package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/handoff/pkg/directory"
	"github.com/dukex/handoff/pkg/engine"
	"github.com/dukex/handoff/pkg/models"
	"github.com/dukex/handoff/pkg/persistence"
	"github.com/dukex/handoff/pkg/persistence/file"
	"github.com/dukex/handoff/pkg/services"
	"github.com/dukex/handoff/pkg/templates"
	"github.com/dukex/handoff/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRoster = `
superadmins: [admin]
roles:
  - {id: designer, members: [dana]}
  - {id: art-director, members: [ari]}
  - {id: developer, members: [devon]}
  - {id: qa, members: [quinn]}
  - {id: writer, members: [wren]}
  - {id: lead, members: [lee]}
projects:
  - id: p1
    members: [dana, ari, devon, quinn, wren, lee]
`

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	return setupAppWith(t, file.NewPersistence(t.TempDir()))
}

func setupAppWith(t *testing.T, p persistence.Persistence) *fiber.App {
	t.Helper()

	dir, err := directory.ParseRoster([]byte(testRoster))
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	eng := engine.New(p, dir, logger)

	handlers := web.NewAPIHandlers(
		services.NewTemplate(p, logger),
		services.NewAssignment(p, eng, logger),
		eng,
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := fiber.New()
	handlers.Register(app)

	return app
}

// call sends a request and returns the status with the decoded body.
func call(t *testing.T, app *fiber.App, method, path, user string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	if user != "" {
		req.Header.Set(web.UserHeader, user)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}

	return resp.StatusCode, decoded
}

func importDemo(t *testing.T, app *fiber.App) string {
	t.Helper()

	doc, err := templates.Marshal(templates.Demo(), "yaml")
	require.NoError(t, err)

	status, body := call(t, app, http.MethodPost, "/templates/import", "admin", doc)
	require.Equal(t, http.StatusCreated, status, body)

	return body["id"].(string)
}

func startDemo(t *testing.T, app *fiber.App) map[string]any {
	t.Helper()

	templateID := importDemo(t, app)

	status, body := call(t, app, http.MethodPost, "/instances", "admin", web.StartInstanceRequest{
		TemplateID: templateID,
		ProjectID:  "p1",
	})
	require.Equal(t, http.StatusCreated, status, body)

	return body
}

func actionable(t *testing.T, app *fiber.App, instanceID, user string) (stepID string, updatedAt time.Time) {
	t.Helper()

	status, body := call(t, app, http.MethodGet, "/instances/"+instanceID+"/actionable", user, nil)
	require.Equal(t, http.StatusOK, status, body)
	require.NotNil(t, body["active_step"], "user %s has nothing to act on", user)

	updatedAt, err := time.Parse(time.RFC3339Nano, body["updated_at"].(string))
	require.NoError(t, err)

	return body["active_step"].(map[string]any)["id"].(string), updatedAt
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	app := setupTestApp(t)

	status, body := call(t, app, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
}

func TestAPIHandlers_TemplateCRUD(t *testing.T) {
	app := setupTestApp(t)

	templateID := importDemo(t, app)
	assert.Equal(t, "design-to-release", templateID)

	status, body := call(t, app, http.MethodGet, "/templates/"+templateID, "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Design to Release", body["name"])

	status, body = call(t, app, http.MethodGet, "/templates/?active=true", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 1, body["total_count"], 0)

	renamed := templates.Demo()
	renamed.Name = "Design to Launch"

	status, body = call(t, app, http.MethodPut, "/templates/"+templateID, "admin", renamed)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Design to Launch", body["name"])

	status, _ = call(t, app, http.MethodDelete, "/templates/"+templateID, "admin", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = call(t, app, http.MethodGet, "/templates/"+templateID, "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "template_not_found", body["type"])
}

func TestAPIHandlers_CreateTemplate_Invalid(t *testing.T) {
	app := setupTestApp(t)

	tests := []struct {
		name           string
		body           any
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "invalid JSON",
			body:           "invalid-json",
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name: "graph without end",
			body: &models.WorkflowTemplate{
				Name: "Broken",
				Nodes: []*models.WorkflowNode{
					{ID: "start", Type: models.NodeTypeStart, Label: "Start"},
					{ID: "design", Type: models.NodeTypeRole, Label: "Design"},
				},
				Connections: []*models.WorkflowConnection{{FromNodeID: "start", ToNodeID: "design"}},
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedType:   "template_invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := call(t, app, http.MethodPost, "/templates/", "admin", tt.body)
			assert.Equal(t, tt.expectedStatus, status)
			assert.Equal(t, tt.expectedType, body["type"])
		})
	}

	status, body := call(t, app, http.MethodPost, "/templates/import", "admin", "name: Review\nnodes: []\nconnections: []")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_document", body["type"])
	assert.NotEmpty(t, body["problems"])
}

func TestAPIHandlers_ExportTemplate(t *testing.T) {
	app := setupTestApp(t)
	templateID := importDemo(t, app)

	req := httptest.NewRequest(http.MethodGet, "/templates/"+templateID+"/export?format=yaml", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	exported, err := templates.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "Design to Release", exported.Name)
}

func TestAPIHandlers_StartInstance(t *testing.T) {
	app := setupTestApp(t)

	instance := startDemo(t, app)
	assert.Equal(t, "active", instance["status"])
	assert.Equal(t, "brief", instance["current_node_id"])

	status, body := call(t, app, http.MethodPost, "/instances", "", web.StartInstanceRequest{TemplateID: "x", ProjectID: "p1"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["type"])

	status, _ = call(t, app, http.MethodPost, "/instances", "admin", web.StartInstanceRequest{ProjectID: "p1"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = call(t, app, http.MethodPost, "/instances", "admin", web.StartInstanceRequest{TemplateID: "missing", ProjectID: "p1"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["type"])
	assert.Equal(t, "template not found", body["detail"])

	status, body = call(t, app, http.MethodPost, "/instances", "stranger", web.StartInstanceRequest{TemplateID: "design-to-release", ProjectID: "p1"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "not_project_member", body["reason"])

	status, body = call(t, app, http.MethodGet, "/instances/?project_id=p1", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 1, body["total_count"], 0)

	status, body = call(t, app, http.MethodGet, "/instances/"+instance["id"].(string), "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["steps"], 2)
}

func TestAPIHandlers_Progress(t *testing.T) {
	app := setupTestApp(t)

	instanceID := startDemo(t, app)["id"].(string)
	path := "/instances/" + instanceID + "/progress"

	stepID, updatedAt := actionable(t, app, instanceID, "wren")

	brief := map[string]any{"summary": "Landing page refresh", "channel": "web"}

	// Invalid form data is reported field by field.
	status, body := call(t, app, http.MethodPost, path, "wren", web.ProgressRequest{
		ActiveStepID:      stepID,
		ExpectedUpdatedAt: updatedAt,
		FormData:          map[string]any{"summary": "short", "channel": "radio"},
		AssignedUserID:    "dana",
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Len(t, body["fields"], 2)

	// The next role step needs an assignee.
	status, body = call(t, app, http.MethodPost, path, "wren", web.ProgressRequest{
		ActiveStepID:      stepID,
		ExpectedUpdatedAt: updatedAt,
		FormData:          brief,
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "assigned_user_id", body["fields"].([]any)[0].(map[string]any)["field"])

	status, body = call(t, app, http.MethodPost, path, "wren", web.ProgressRequest{
		ActiveStepID:      stepID,
		ExpectedUpdatedAt: updatedAt,
		FormData:          brief,
		AssignedUserID:    "dana",
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "design", body["instance"].(map[string]any)["current_node_id"])

	// Replaying with the old version loses the race.
	status, body = call(t, app, http.MethodPost, path, "wren", web.ProgressRequest{
		ActiveStepID:      stepID,
		ExpectedUpdatedAt: updatedAt,
		FormData:          brief,
		AssignedUserID:    "dana",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", body["type"])

	// The designer step carries the brief forward.
	status, body = call(t, app, http.MethodGet, "/instances/"+instanceID+"/actionable", "dana", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Landing page refresh", body["carried_form_data"].(map[string]any)["summary"])

	status, body = call(t, app, http.MethodGet, "/instances/"+instanceID+"/actionable", "ari", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Nil(t, body["active_step"])

	status, body = call(t, app, http.MethodGet, "/instances/"+instanceID+"/history", "", nil)
	require.Equal(t, http.StatusOK, status)
	history := body["history"].([]any)
	require.Len(t, history, 2)
	assert.Equal(t, "form submitted", history[1].(map[string]any)["notes"])
}

func TestAPIHandlers_Permission(t *testing.T) {
	app := setupTestApp(t)

	instanceID := startDemo(t, app)["id"].(string)
	stepID, updatedAt := actionable(t, app, instanceID, "wren")

	status, body := call(t, app, http.MethodPost, "/instances/"+instanceID+"/progress", "stranger", web.ProgressRequest{
		ActiveStepID:      stepID,
		ExpectedUpdatedAt: updatedAt,
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "permission_denied", body["type"])
	assert.Equal(t, "not_project_member", body["reason"])
	assert.Equal(t, "permission denied", body["detail"])

	status, body = call(t, app, http.MethodPost, "/instances/"+instanceID+"/progress", "wren", web.ProgressRequest{
		ActiveStepID:      stepID,
		ExpectedUpdatedAt: updatedAt,
		FormData:          map[string]any{"summary": "Landing page refresh", "channel": "web"},
		AssignedUserID:    "dana",
	})
	require.Equal(t, http.StatusOK, status, body)

	// a project member without the role is denied without ids in the message

	stepID, updatedAt = actionable(t, app, instanceID, "dana")

	status, body = call(t, app, http.MethodPost, "/instances/"+instanceID+"/progress", "devon", web.ProgressRequest{
		ActiveStepID:      stepID,
		ExpectedUpdatedAt: updatedAt,
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "missing_role", body["reason"])
	assert.Equal(t, "permission denied", body["detail"])
	assert.NotContains(t, body["detail"], "devon")
	assert.NotContains(t, body["detail"], stepID)

	status, body = call(t, app, http.MethodGet, "/instances/no-such-instance/history", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "instance not found", body["detail"])
}

func TestAPIHandlers_Assignments(t *testing.T) {
	app := setupTestApp(t)

	instanceID := startDemo(t, app)["id"].(string)
	path := "/instances/" + instanceID + "/assignments"

	stepID, updatedAt := actionable(t, app, instanceID, "wren")
	status, body := call(t, app, http.MethodPost, "/instances/"+instanceID+"/progress", "wren", web.ProgressRequest{
		ActiveStepID:      stepID,
		ExpectedUpdatedAt: updatedAt,
		FormData:          map[string]any{"summary": "Landing page refresh", "channel": "web"},
		AssignedUserID:    "dana",
	})
	require.Equal(t, http.StatusOK, status, body)

	status, body = call(t, app, http.MethodPost, path, "dana", web.AssignmentRequest{NodeID: "dev", UserID: "devon"})
	require.Equal(t, http.StatusCreated, status, body)

	status, _ = call(t, app, http.MethodPost, path, "dana", web.AssignmentRequest{NodeID: "dev", UserID: "wren"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = call(t, app, http.MethodPost, path, "dana", web.AssignmentRequest{NodeID: "dev"})
	assert.Equal(t, http.StatusBadRequest, status)

	// devon holds an upcoming step and is told so.
	status, body = call(t, app, http.MethodGet, "/instances/"+instanceID+"/actionable", "devon", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["is_pipeline"])
	assert.Equal(t, "Development", body["pipeline_step_name"])

	status, body = call(t, app, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["assignments"], 1)

	status, _ = call(t, app, http.MethodDelete, path, "dana", web.AssignmentRequest{NodeID: "dev", UserID: "devon"})
	assert.Equal(t, http.StatusNoContent, status)
}

func TestAPIHandlers_CancelAndDelete(t *testing.T) {
	app := setupTestApp(t)

	instance := startDemo(t, app)
	instanceID := instance["id"].(string)

	updatedAt, err := time.Parse(time.RFC3339Nano, instance["updated_at"].(string))
	require.NoError(t, err)

	status, _ := call(t, app, http.MethodPost, "/instances/"+instanceID+"/cancel", "dana", web.CancelInstanceRequest{
		ExpectedUpdatedAt: updatedAt.Add(-time.Second),
	})
	assert.Equal(t, http.StatusConflict, status)

	status, body := call(t, app, http.MethodPost, "/instances/"+instanceID+"/cancel", "dana", web.CancelInstanceRequest{
		ExpectedUpdatedAt: updatedAt,
		Reason:            "brief withdrawn",
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "cancelled", body["status"])

	status, _ = call(t, app, http.MethodDelete, "/instances/"+instanceID, "stranger", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = call(t, app, http.MethodDelete, "/instances/"+instanceID, "dana", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = call(t, app, http.MethodGet, "/instances/"+instanceID, "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}
