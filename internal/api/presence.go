package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/mango-chat/mango-server/internal/auth"
	"github.com/mango-chat/mango-server/internal/gateway"
	"github.com/mango-chat/mango-server/internal/httputil"
	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/presence"
	"github.com/mango-chat/mango-server/internal/store"
)

// PresenceHandler serves presence endpoints. Presence writes double as
// heartbeats: every Put refreshes the TTL that would otherwise expire the
// user to offline.
type PresenceHandler struct {
	store    store.Store
	presence *presence.Store
	hub      *gateway.Hub
	log      zerolog.Logger
}

// NewPresenceHandler creates a new presence handler.
func NewPresenceHandler(st store.Store, pres *presence.Store, hub *gateway.Hub, logger zerolog.Logger) *PresenceHandler {
	return &PresenceHandler{store: st, presence: pres, hub: hub, log: logger}
}

// Put handles PUT /v1/presence {status}. The change fans out to the subject
// and their friends only.
func (h *PresenceHandler) Put(c fiber.Ctx) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if !presence.ValidStatus(body.Status) {
		return httputil.Fail(c, fiber.StatusBadRequest, "Unknown presence status")
	}

	userID := auth.UserID(c)
	state, err := h.presence.Set(c, userID, body.Status)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "presence").Msg("set presence failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}

	// Best-effort fan-out; a failed friend lookup never fails the request.
	friends, err := h.store.ListFriends(c, userID)
	if err != nil {
		h.log.Warn().Err(err).Msg("list friends for presence fan-out failed")
	}
	h.hub.PublishToUsers(gateway.EventPresenceUpdated, state, append(friends, userID)...)

	return c.JSON(state)
}

// GetMe handles GET /v1/presence/me.
func (h *PresenceHandler) GetMe(c fiber.Ctx) error {
	state, err := h.presence.Get(c, auth.UserID(c))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "presence").Msg("get presence failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.JSON(state)
}

// Get handles GET /v1/presence/:id.
func (h *PresenceHandler) Get(c fiber.Ctx) error {
	targetID := c.Params("id")
	u, err := h.store.GetUser(c, targetID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "presence").Msg("lookup user failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if u == nil {
		return httputil.Fail(c, fiber.StatusNotFound, "User not found")
	}

	state, err := h.presence.Get(c, targetID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "presence").Msg("get presence failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.JSON(state)
}

// Bulk handles POST /v1/presence/bulk {userIds}.
func (h *PresenceHandler) Bulk(c fiber.Ctx) error {
	var body struct {
		UserIDs []string `json:"userIds"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if len(body.UserIDs) == 0 {
		return c.JSON([]model.Presence{})
	}

	states, err := h.presence.GetMany(c, body.UserIDs)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "presence").Msg("bulk presence failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.JSON(states)
}
