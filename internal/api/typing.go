package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/mango-chat/mango-server/internal/auth"
	"github.com/mango-chat/mango-server/internal/gateway"
	"github.com/mango-chat/mango-server/internal/httputil"
	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/permission"
	"github.com/mango-chat/mango-server/internal/presence"
	"github.com/mango-chat/mango-server/internal/store"
)

// ConversationHandler serves the channel-scoped typing and read-marker
// endpoints (their thread-scoped twins live on ThreadHandler).
type ConversationHandler struct {
	store    store.Store
	resolver *permission.Resolver
	hub      *gateway.Hub
	presence *presence.Store
	log      zerolog.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(st store.Store, resolver *permission.Resolver, hub *gateway.Hub, pres *presence.Store, logger zerolog.Logger) *ConversationHandler {
	return &ConversationHandler{store: st, resolver: resolver, hub: hub, presence: pres, log: logger}
}

// Typing handles POST /v1/channels/:id/typing {isTyping?}.
func (h *ConversationHandler) Typing(c fiber.Ctx) error {
	ch, ok, err := h.requireReadable(c)
	if err != nil || !ok {
		return err
	}
	return publishTyping(c, h.hub, h.presence, ch.ID, "", nil, h.log)
}

// GetReadMarker handles GET /v1/channels/:id/read-marker.
func (h *ConversationHandler) GetReadMarker(c fiber.Ctx) error {
	ch, ok, err := h.requireReadable(c)
	if err != nil || !ok {
		return err
	}
	return getReadMarker(c, h.store, ch.ID, h.log)
}

// PutReadMarker handles PUT /v1/channels/:id/read-marker.
func (h *ConversationHandler) PutReadMarker(c fiber.Ctx) error {
	ch, ok, err := h.requireReadable(c)
	if err != nil || !ok {
		return err
	}
	return putReadMarker(c, h.store, ch.ID, h.log)
}

func (h *ConversationHandler) requireReadable(c fiber.Ctx) (*model.Channel, bool, error) {
	ch, err := h.store.GetChannel(c, c.Params("id"))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "conversation").Msg("get channel failed")
		return nil, false, httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if ch == nil {
		return nil, false, httputil.Fail(c, fiber.StatusNotFound, "Channel not found")
	}
	allowed, err := h.resolver.CanReadChannel(c, auth.UserID(c), ch.ID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "conversation").Msg("permission check failed")
		return nil, false, httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if !allowed {
		return nil, false, httputil.Fail(c, fiber.StatusNotFound, "Channel not found")
	}
	return ch, true, nil
}
