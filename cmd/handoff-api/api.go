// Package main provides the Handoff API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/handoff/pkg/directory"
	"github.com/dukex/handoff/pkg/engine"
	"github.com/dukex/handoff/pkg/eventbus"
	"github.com/dukex/handoff/pkg/persistence"
	"github.com/dukex/handoff/pkg/services"
	"github.com/dukex/handoff/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	directory   directory.Directory
	eventBus    eventbus.EventBus
	tracer      trace.Tracer
	validate    *validator.Validate
}

// NewAPI wires the HTTP server. eventBus and tracer may be nil.
func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	dir directory.Directory,
	eventBus eventbus.EventBus,
	tracer trace.Tracer,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		directory:   dir,
		eventBus:    eventBus,
		tracer:      tracer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	var opts []engine.Option
	if a.eventBus != nil {
		opts = append(opts, engine.WithPublisher(a.eventBus))
	}

	if a.tracer != nil {
		opts = append(opts, engine.WithTracer(a.tracer))
	}

	eng := engine.New(a.persistence, a.directory, a.logger.With("module", "engine"), opts...)

	handlers := web.NewAPIHandlers(
		services.NewTemplate(a.persistence, a.logger),
		services.NewAssignment(a.persistence, eng, a.logger),
		eng,
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Handoff API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
