package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/agent-dispatch/internal/app"
	callsvc "github.com/acme/agent-dispatch/internal/service/call"
	dispatchsvc "github.com/acme/agent-dispatch/internal/service/dispatch"
	queuesvc "github.com/acme/agent-dispatch/internal/service/queue"
)

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	container *app.Container
	queue     *queuesvc.Service
	dispatch  *dispatchsvc.Service
	calls     *callsvc.Service
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(container *app.Container) *HandlerSet {
	services := container.Services()
	return &HandlerSet{
		container: container,
		queue:     services.Queue,
		dispatch:  services.Dispatch,
		calls:     services.Call,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	instances := v1.Group("/instances/:instance_id")
	instances.Get("/queue", h.listMembers)
	instances.Get("/queue/next", h.nextCandidate)
	instances.Post("/queue/join", h.joinQueue)
	instances.Post("/queue/leave", h.leaveQueue)
	instances.Post("/queue/availability", h.setAvailability)
	instances.Post("/dispatch", h.triggerDispatch)
	instances.Get("/attempts", h.listAttempts)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.container.Logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error": message,
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)

	if err := h.container.Postgres.DB().PingContext(healthCtx); err != nil {
		errs["postgres"] = err.Error()
	}

	if err := h.container.Redis.Inner().Ping(healthCtx).Err(); err != nil {
		errs["redis"] = err.Error()
	}

	if err := h.container.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(healthCtx).Exec(); err != nil {
		errs["scylla"] = err.Error()
	}

	status := fiber.StatusOK
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
	}

	return ctx.Status(status).JSON(fiber.Map{"status": "ok", "errors": errs})
}
