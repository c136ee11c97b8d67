package api

import (
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/mango-chat/mango-server/internal/auth"
	"github.com/mango-chat/mango-server/internal/httputil"
	"github.com/mango-chat/mango-server/internal/ident"
	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/permission"
	"github.com/mango-chat/mango-server/internal/store"
)

// WebhookHandler serves webhook management and execution. A webhook is a
// token-scoped write channel: executing one produces a normal message (and a
// normal message.created event) authored by the webhook.
type WebhookHandler struct {
	store       store.Store
	resolver    *permission.Resolver
	messages    *MessageHandler
	tokenSecret string
	log         zerolog.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(st store.Store, resolver *permission.Resolver, messages *MessageHandler, tokenSecret string, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		store:       st,
		resolver:    resolver,
		messages:    messages,
		tokenSecret: tokenSecret,
		log:         logger,
	}
}

// webhookResponse includes the signed token exactly once, at creation.
type webhookResponse struct {
	model.Webhook
	Token string `json:"token"`
}

// Create handles POST /v1/channels/:id/webhooks (manage_channels).
func (h *WebhookHandler) Create(c fiber.Ctx) error {
	ch, err := h.store.GetChannel(c, c.Params("id"))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "webhook").Msg("get channel failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if ch == nil {
		return httputil.Fail(c, fiber.StatusNotFound, "Channel not found")
	}

	allowed, err := h.resolver.HasServerPermission(c, auth.UserID(c), ch.ServerID, permission.ManageChannels)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "webhook").Msg("permission check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.MissingPermission(permission.NameManageChannels))
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "Webhook name is required")
	}

	webhook, err := h.store.CreateWebhook(c, model.Webhook{
		ID:        ident.New(ident.PrefixWebhook),
		ChannelID: ch.ID,
		Name:      name,
		CreatedBy: auth.UserID(c),
		CreatedAt: ident.NowString(),
	})
	if err != nil {
		h.log.Error().Err(err).Str("handler", "webhook").Msg("create webhook failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}

	token, err := auth.SignScopedToken(h.tokenSecret, auth.ScopeWebhook, webhook.ID, ch.ID, 0)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "webhook").Msg("sign webhook token failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}

	return c.Status(fiber.StatusCreated).JSON(webhookResponse{Webhook: *webhook, Token: token})
}

// List handles GET /v1/channels/:id/webhooks (manage_channels).
func (h *WebhookHandler) List(c fiber.Ctx) error {
	ch, err := h.store.GetChannel(c, c.Params("id"))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "webhook").Msg("get channel failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if ch == nil {
		return httputil.Fail(c, fiber.StatusNotFound, "Channel not found")
	}
	allowed, err := h.resolver.HasServerPermission(c, auth.UserID(c), ch.ServerID, permission.ManageChannels)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "webhook").Msg("permission check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.MissingPermission(permission.NameManageChannels))
	}

	webhooks, err := h.store.ListWebhooks(c, ch.ID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "webhook").Msg("list webhooks failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if webhooks == nil {
		webhooks = []model.Webhook{}
	}
	return c.JSON(webhooks)
}

// Delete handles DELETE /v1/webhooks/:id (manage_channels on the channel's
// server).
func (h *WebhookHandler) Delete(c fiber.Ctx) error {
	webhook, err := h.store.GetWebhook(c, c.Params("id"))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "webhook").Msg("get webhook failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if webhook == nil {
		return httputil.Fail(c, fiber.StatusNotFound, "Webhook not found")
	}
	ch, err := h.store.GetChannel(c, webhook.ChannelID)
	if err != nil || ch == nil {
		return httputil.Fail(c, fiber.StatusNotFound, "Webhook not found")
	}
	allowed, err := h.resolver.HasServerPermission(c, auth.UserID(c), ch.ServerID, permission.ManageChannels)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "webhook").Msg("permission check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.MissingPermission(permission.NameManageChannels))
	}

	if err := h.store.DeleteWebhook(c, webhook.ID); err != nil {
		h.log.Error().Err(err).Str("handler", "webhook").Msg("delete webhook failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Execute handles POST /v1/webhooks/:id/:token. No session is involved: the
// signed token authorises exactly this webhook's channel. Webhook messages
// may omit the body when attachments are present.
func (h *WebhookHandler) Execute(c fiber.Ctx) error {
	claims, err := auth.ParseScopedToken(h.tokenSecret, c.Params("token"), auth.ScopeWebhook)
	if err != nil || claims.Subject != c.Params("id") {
		return httputil.Fail(c, fiber.StatusUnauthorized, "Invalid webhook token")
	}

	webhook, err := h.store.GetWebhook(c, claims.Subject)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "webhook").Msg("get webhook failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if webhook == nil {
		return httputil.Fail(c, fiber.StatusNotFound, "Webhook not found")
	}
	ch, err := h.store.GetChannel(c, webhook.ChannelID)
	if err != nil || ch == nil {
		return httputil.Fail(c, fiber.StatusNotFound, "Webhook not found")
	}

	var req createMessageRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	return h.messages.compose(c, composeParams{
		channel:    ch,
		authorID:   webhook.ID,
		req:        req,
		allowEmpty: true,
	})
}
