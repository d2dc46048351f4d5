package web

import (
	"errors"

	"github.com/dukex/handoff/pkg/engine"
	"github.com/dukex/handoff/pkg/persistence"
	"github.com/dukex/handoff/pkg/services"
	"github.com/dukex/handoff/pkg/templates"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// fieldProblem extends the problem document with the offending fields.
type fieldProblem struct {
	*problems.Problem

	Fields   []engine.FieldError `json:"fields,omitempty"`
	Problems []string            `json:"problems,omitempty"`
}

// permissionProblem tells the caller why access was denied and whether they hold an upcoming step.
type permissionProblem struct {
	*problems.Problem

	Reason           engine.AccessReason `json:"reason"`
	Pipeline         bool                `json:"pipeline"`
	PipelineStepName string              `json:"pipeline_step_name,omitempty"`
}

func problem(c fiber.Ctx, status int, problemType, detail string) *problems.Problem {
	return problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)
}

func badRequest(c fiber.Ctx, detail string) error {
	return c.Status(fiber.StatusBadRequest).JSON(problem(c, fiber.StatusBadRequest, "validation_error", detail))
}

func unauthorized(c fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(problem(c, fiber.StatusUnauthorized, "unauthorized", "X-User-ID header is required"))
}

func notFound(c fiber.Ctx, detail string) error {
	return c.Status(fiber.StatusNotFound).JSON(problem(c, fiber.StatusNotFound, "not_found", detail))
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// handleError maps engine, service and persistence errors to problem documents. Permission and
// not-found details stay generic and never carry ids.
func handleError(c fiber.Ctx, err error) error {
	var (
		validation *engine.ValidationError
		permission *engine.PermissionError
		invalid    *engine.TemplateInvalidError
		ambiguous  *engine.AmbiguousRoutingError
		document   *templates.DocumentError
		missing    *engine.NotFoundError
	)

	switch {
	case errors.As(err, &validation):
		return c.Status(fiber.StatusBadRequest).JSON(fieldProblem{
			Problem: problem(c, fiber.StatusBadRequest, "validation_error", validation.Message),
			Fields:         validation.Fields,
		})

	case errors.As(err, &invalid):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fieldProblem{
			Problem: problem(c, fiber.StatusUnprocessableEntity, "template_invalid", "template is invalid"),
			Problems:       invalid.Problems,
		})

	case errors.As(err, &document):
		return c.Status(fiber.StatusBadRequest).JSON(fieldProblem{
			Problem: problem(c, fiber.StatusBadRequest, "invalid_document", "template document does not match the schema"),
			Problems:       document.Problems,
		})

	case errors.As(err, &ambiguous):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem(c, fiber.StatusUnprocessableEntity, "ambiguous_routing", err.Error()))

	case errors.As(err, &permission):
		return c.Status(fiber.StatusForbidden).JSON(permissionProblem{
			Problem:   problem(c, fiber.StatusForbidden, "permission_denied", "permission denied"),
			Reason:           permission.Reason,
			Pipeline:         permission.Pipeline,
			PipelineStepName: permission.PipelineStepName,
		})

	case engine.IsConflictError(err), services.IsConflictError(err):
		return c.Status(fiber.StatusConflict).JSON(problem(c, fiber.StatusConflict, "conflict", err.Error()))

	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	case errors.As(err, &missing):
		return notFound(c, missing.Resource+" not found")

	case persistence.IsTemplateNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(problem(c, fiber.StatusNotFound, "template_not_found", "template not found"))

	case persistence.IsInstanceNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(problem(c, fiber.StatusNotFound, "instance_not_found", "instance not found"))

	case errors.Is(err, persistence.ErrInvalidID):
		return badRequest(c, err.Error())

	default:
		return internalError(c, err)
	}
}
