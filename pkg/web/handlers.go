package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/handoff/pkg/engine"
	"github.com/dukex/handoff/pkg/models"
	"github.com/dukex/handoff/pkg/services"
	"github.com/dukex/handoff/pkg/templates"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	templateService   *services.Template
	assignmentService *services.Assignment
	engine            *engine.Engine
	validator         *validator.Validate
}

func NewAPIHandlers(
	templateService *services.Template,
	assignmentService *services.Assignment,
	eng *engine.Engine,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		templateService:   templateService,
		assignmentService: assignmentService,
		engine:            eng,
		validator:         validator,
	}
}

// Register mounts every route on the router.
func (h *APIHandlers) Register(router fiber.Router) {
	t := router.Group("/templates")
	t.Get("/", h.GetTemplates)
	t.Post("/", h.CreateTemplate)
	t.Post("/import", h.ImportTemplate)
	t.Get("/:id", h.GetTemplate)
	t.Put("/:id", h.UpdateTemplate)
	t.Delete("/:id", h.DeleteTemplate)
	t.Get("/:id/export", h.ExportTemplate)

	i := router.Group("/instances")
	i.Get("/", h.GetInstances)
	i.Post("/", h.StartInstance)
	i.Get("/:id", h.GetInstance)
	i.Delete("/:id", h.DeleteInstance)
	i.Post("/:id/cancel", h.CancelInstance)
	i.Get("/:id/actionable", h.GetActionable)
	i.Post("/:id/progress", h.Progress)
	i.Get("/:id/history", h.GetHistory)
	i.Get("/:id/steps/:stepId/siblings", h.GetSiblings)
	i.Get("/:id/assignments", h.GetAssignments)
	i.Post("/:id/assignments", h.Assign)
	i.Delete("/:id/assignments", h.Unassign)

	router.Get("/health", h.HealthCheck)
}

func userID(c fiber.Ctx) string {
	return strings.TrimSpace(c.Get(UserHeader))
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.templateService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Handoff API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Handoff API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetTemplates(c fiber.Ctx) error {
	req := services.ListTemplatesRequest{CreatedBy: c.Query("created_by")}

	if activeStr := c.Query("active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		req.ActiveOnly = active
	}

	list, err := h.templateService.List(c.Context(), req)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{
		"templates":   list,
		"total_count": len(list),
	})
}

func (h *APIHandlers) GetTemplate(c fiber.Ctx) error {
	template, err := h.templateService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) CreateTemplate(c fiber.Ctx) error {
	var template models.WorkflowTemplate
	if err := c.Bind().JSON(&template); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if template.CreatedBy == "" {
		template.CreatedBy = userID(c)
	}

	created, err := h.templateService.Create(c.Context(), &template)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// ImportTemplate accepts a YAML or JSON template document.
func (h *APIHandlers) ImportTemplate(c fiber.Ctx) error {
	template, err := templates.Parse(c.Body())
	if err != nil {
		return handleError(c, err)
	}

	if template.CreatedBy == "" {
		template.CreatedBy = userID(c)
	}

	created, err := h.templateService.Create(c.Context(), template)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) ExportTemplate(c fiber.Ctx) error {
	template, err := h.templateService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	format := c.Query("format", "yaml")
	if format != "yaml" && format != "json" {
		return badRequest(c, "format must be yaml or json")
	}

	data, err := templates.Marshal(template, format)
	if err != nil {
		return internalError(c, err)
	}

	if format == "json" {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	} else {
		c.Set(fiber.HeaderContentType, "application/yaml")
	}

	return c.Send(data)
}

func (h *APIHandlers) UpdateTemplate(c fiber.Ctx) error {
	var template models.WorkflowTemplate
	if err := c.Bind().JSON(&template); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	updated, err := h.templateService.Update(c.Context(), c.Params("id"), &template)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteTemplate(c fiber.Ctx) error {
	err := h.templateService.Delete(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetInstances(c fiber.Ctx) error {
	projectID := c.Query("project_id")
	if projectID == "" {
		return badRequest(c, "project_id is required")
	}

	instances, err := h.engine.ListInstances(c.Context(), projectID)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{
		"instances":   instances,
		"total_count": len(instances),
	})
}

func (h *APIHandlers) StartInstance(c fiber.Ctx) error {
	user := userID(c)
	if user == "" {
		return unauthorized(c)
	}

	var req StartInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.engine.StartInstance(c.Context(), engine.StartRequest{
		TemplateID:        req.TemplateID,
		ProjectID:         req.ProjectID,
		StartedBy:         user,
		AssignedUserID:    req.AssignedUserID,
		BranchAssignments: req.BranchAssignments,
	})
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(instance)
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	instance, err := h.engine.GetInstance(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	steps, err := h.engine.Steps(c.Context(), instance.ID)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(InstanceDetail{WorkflowInstance: instance, Steps: steps})
}

func (h *APIHandlers) DeleteInstance(c fiber.Ctx) error {
	user := userID(c)
	if user == "" {
		return unauthorized(c)
	}

	err := h.engine.DeleteInstance(c.Context(), c.Params("id"), user)
	if err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CancelInstance(c fiber.Ctx) error {
	user := userID(c)
	if user == "" {
		return unauthorized(c)
	}

	var req CancelInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.engine.CancelInstance(c.Context(), engine.CancelRequest{
		InstanceID:        c.Params("id"),
		UserID:            user,
		ExpectedUpdatedAt: req.ExpectedUpdatedAt,
		Reason:            req.Reason,
	})
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) GetActionable(c fiber.Ctx) error {
	user := userID(c)
	if user == "" {
		return unauthorized(c)
	}

	actionable, err := h.engine.LoadActionable(c.Context(), c.Params("id"), user)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(actionable)
}

func (h *APIHandlers) Progress(c fiber.Ctx) error {
	user := userID(c)
	if user == "" {
		return unauthorized(c)
	}

	var req ProgressRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.engine.Progress(c.Context(), engine.ProgressRequest{
		InstanceID:        c.Params("id"),
		ActiveStepID:      req.ActiveStepID,
		UserID:            user,
		ExpectedUpdatedAt: req.ExpectedUpdatedAt,
		Action: engine.Action{
			Decision:          req.Decision,
			Feedback:          req.Feedback,
			FormData:          req.FormData,
			AssignedUserID:    req.AssignedUserID,
			BranchAssignments: req.BranchAssignments,
		},
	})
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetHistory(c fiber.Ctx) error {
	history, err := h.engine.History(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{"history": history})
}

func (h *APIHandlers) GetSiblings(c fiber.Ctx) error {
	steps, err := h.engine.Steps(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	stepID := c.Params("stepId")

	for _, step := range steps {
		if step.ID != stepID {
			continue
		}

		siblings, err := h.engine.ParallelStatus(c.Context(), step)
		if err != nil {
			return handleError(c, err)
		}

		return c.JSON(fiber.Map{"siblings": siblings})
	}

	return notFound(c, "Step not found")
}

func (h *APIHandlers) GetAssignments(c fiber.Ctx) error {
	assignments, err := h.assignmentService.List(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{"assignments": assignments})
}

func (h *APIHandlers) Assign(c fiber.Ctx) error {
	req, err := h.assignmentRequest(c)
	if err != nil {
		return err
	}

	if req == nil {
		return nil
	}

	assignment, err := h.assignmentService.Assign(c.Context(), *req)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(assignment)
}

func (h *APIHandlers) Unassign(c fiber.Ctx) error {
	req, err := h.assignmentRequest(c)
	if err != nil {
		return err
	}

	if req == nil {
		return nil
	}

	err = h.assignmentService.Unassign(c.Context(), *req)
	if err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// assignmentRequest decodes an assignment body. A nil request means the response was already written.
func (h *APIHandlers) assignmentRequest(c fiber.Ctx) (*services.AssignRequest, error) {
	user := userID(c)
	if user == "" {
		return nil, unauthorized(c)
	}

	var body AssignmentRequest
	if err := c.Bind().JSON(&body); err != nil {
		return nil, badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(body); err != nil {
		return nil, badRequest(c, err.Error())
	}

	return &services.AssignRequest{
		InstanceID: c.Params("id"),
		NodeID:     body.NodeID,
		UserID:     body.UserID,
		ActorID:    user,
	}, nil
}
