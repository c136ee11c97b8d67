package api

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/mango-chat/mango-server/internal/store"
)

// Pinger reports liveness of an external dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health endpoint.
type HealthHandler struct {
	store store.Store
	redis Pinger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(st store.Store, redis Pinger) *HealthHandler {
	return &HealthHandler{store: st, redis: redis}
}

// Health handles GET /v1/health.
func (h *HealthHandler) Health(c fiber.Ctx) error {
	status := fiber.StatusOK
	body := fiber.Map{"status": "ok"}

	if err := h.store.Ping(c); err != nil {
		status = fiber.StatusServiceUnavailable
		body["status"] = "degraded"
		body["store"] = "unreachable"
	}
	if h.redis != nil {
		if err := h.redis.Ping(c); err != nil {
			status = fiber.StatusServiceUnavailable
			body["status"] = "degraded"
			body["redis"] = "unreachable"
		}
	}
	return c.Status(status).JSON(body)
}
