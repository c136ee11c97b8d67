package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/mango-chat/mango-server/internal/auth"
	"github.com/mango-chat/mango-server/internal/httputil"
	"github.com/mango-chat/mango-server/internal/ident"
	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/store"
)

// PushHandler serves push-subscription CRUD.
type PushHandler struct {
	store store.Store
	log   zerolog.Logger
}

// NewPushHandler creates a new push handler.
func NewPushHandler(st store.Store, logger zerolog.Logger) *PushHandler {
	return &PushHandler{store: st, log: logger}
}

// Create handles POST /v1/notifications/push-subscriptions. Re-subscribing an
// endpoint refreshes its keys and user agent under the same id.
func (h *PushHandler) Create(c fiber.Ctx) error {
	var body struct {
		Endpoint  string `json:"endpoint"`
		P256DH    string `json:"p256dh"`
		Auth      string `json:"auth"`
		UserAgent string `json:"userAgent"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if body.Endpoint == "" || body.P256DH == "" || body.Auth == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "endpoint, p256dh, and auth are required")
	}

	now := ident.NowString()
	sub, err := h.store.UpsertPushSubscription(c, model.PushSubscription{
		ID:        ident.New(ident.PrefixPush),
		UserID:    auth.UserID(c),
		Endpoint:  body.Endpoint,
		P256DH:    body.P256DH,
		Auth:      body.Auth,
		UserAgent: body.UserAgent,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		h.log.Error().Err(err).Str("handler", "push").Msg("upsert subscription failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

// List handles GET /v1/notifications/push-subscriptions.
func (h *PushHandler) List(c fiber.Ctx) error {
	subs, err := h.store.ListPushSubscriptions(c, auth.UserID(c))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "push").Msg("list subscriptions failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if subs == nil {
		subs = []model.PushSubscription{}
	}
	return c.JSON(subs)
}

// Delete handles DELETE /v1/notifications/push-subscriptions/:id.
func (h *PushHandler) Delete(c fiber.Ctx) error {
	if err := h.store.DeletePushSubscription(c, auth.UserID(c), c.Params("id")); err != nil {
		h.log.Error().Err(err).Str("handler", "push").Msg("delete subscription failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.SendStatus(fiber.StatusNoContent)
}
