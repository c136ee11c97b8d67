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

// ChannelHandler serves channel and overwrite endpoints.
type ChannelHandler struct {
	store    store.Store
	resolver *permission.Resolver
	log      zerolog.Logger
}

// NewChannelHandler creates a new channel handler.
func NewChannelHandler(st store.Store, resolver *permission.Resolver, logger zerolog.Logger) *ChannelHandler {
	return &ChannelHandler{store: st, resolver: resolver, log: logger}
}

// Create handles POST /v1/servers/:id/channels (manage_channels).
func (h *ChannelHandler) Create(c fiber.Ctx) error {
	serverID := c.Params("id")
	srv, err := h.store.GetServer(c, serverID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "channel").Msg("get server failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if srv == nil || srv.Hidden {
		return httputil.Fail(c, fiber.StatusNotFound, "Server not found")
	}

	allowed, err := h.resolver.HasServerPermission(c, auth.UserID(c), serverID, permission.ManageChannels)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "channel").Msg("permission check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.MissingPermission(permission.NameManageChannels))
	}

	var body struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "Channel name is required")
	}
	if body.Type == "" {
		body.Type = model.ChannelText
	}
	if body.Type != model.ChannelText && body.Type != model.ChannelVoice {
		return httputil.Fail(c, fiber.StatusBadRequest, `Channel type must be "text" or "voice"`)
	}

	ch, err := h.store.CreateChannel(c, model.Channel{
		ID:        ident.New(ident.PrefixChannel),
		ServerID:  serverID,
		Name:      name,
		Type:      body.Type,
		CreatedAt: ident.NowString(),
	})
	if err != nil {
		h.log.Error().Err(err).Str("handler", "channel").Msg("create channel failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.Status(fiber.StatusCreated).JSON(ch)
}

// List handles GET /v1/servers/:id/channels, filtered to channels the caller
// can read.
func (h *ChannelHandler) List(c fiber.Ctx) error {
	serverID := c.Params("id")
	member, err := h.store.IsServerMember(c, serverID, auth.UserID(c))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "channel").Msg("check membership failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if !member {
		return httputil.Fail(c, fiber.StatusNotFound, "Server not found")
	}

	channels, err := h.store.ListChannels(c, serverID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "channel").Msg("list channels failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}

	visible := make([]model.Channel, 0, len(channels))
	for _, ch := range channels {
		ok, err := h.resolver.CanReadChannel(c, auth.UserID(c), ch.ID)
		if err != nil {
			h.log.Error().Err(err).Str("handler", "channel").Msg("read check failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
		}
		if ok {
			visible = append(visible, ch)
		}
	}
	return c.JSON(visible)
}

// Rename handles PATCH /v1/channels/:id (manage_channels).
func (h *ChannelHandler) Rename(c fiber.Ctx) error {
	ch, ok, err := h.requireManage(c)
	if err != nil || !ok {
		return err
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "Channel name is required")
	}

	updated, err := h.store.RenameChannel(c, ch.ID, name)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "channel").Msg("rename channel failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.JSON(updated)
}

// Delete handles DELETE /v1/channels/:id (manage_channels).
func (h *ChannelHandler) Delete(c fiber.Ctx) error {
	ch, ok, err := h.requireManage(c)
	if err != nil || !ok {
		return err
	}
	if err := h.store.DeleteChannel(c, ch.ID); err != nil {
		h.log.Error().Err(err).Str("handler", "channel").Msg("delete channel failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.JSON(fiber.Map{"id": ch.ID})
}

// PutOverwrite handles PUT /v1/channels/:id/overwrites (manage_channels).
func (h *ChannelHandler) PutOverwrite(c fiber.Ctx) error {
	ch, ok, err := h.requireManage(c)
	if err != nil || !ok {
		return err
	}

	var body struct {
		TargetType string   `json:"targetType"`
		TargetID   string   `json:"targetId"`
		Allow      []string `json:"allow"`
		Deny       []string `json:"deny"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if body.TargetType != model.OverwriteRole && body.TargetType != model.OverwriteMember {
		return httputil.Fail(c, fiber.StatusBadRequest, `targetType must be "role" or "member"`)
	}
	if body.TargetID == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "targetId is required")
	}
	for _, p := range append(append([]string{}, body.Allow...), body.Deny...) {
		if !permission.ValidName(p) {
			return httputil.Fail(c, fiber.StatusBadRequest, "Unknown permission: "+p)
		}
	}

	o, err := h.store.UpsertOverwrite(c, model.Overwrite{
		ID:         ident.New(ident.PrefixOverwrite),
		ChannelID:  ch.ID,
		TargetType: body.TargetType,
		TargetID:   body.TargetID,
		Allow:      body.Allow,
		Deny:       body.Deny,
		CreatedAt:  ident.NowString(),
	})
	if err != nil {
		h.log.Error().Err(err).Str("handler", "channel").Msg("upsert overwrite failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.JSON(o)
}

// DeleteOverwrite handles DELETE /v1/channels/:id/overwrites/:targetType/:targetId.
func (h *ChannelHandler) DeleteOverwrite(c fiber.Ctx) error {
	ch, ok, err := h.requireManage(c)
	if err != nil || !ok {
		return err
	}
	targetType := c.Params("targetType")
	if targetType != model.OverwriteRole && targetType != model.OverwriteMember {
		return httputil.Fail(c, fiber.StatusBadRequest, `targetType must be "role" or "member"`)
	}
	if err := h.store.DeleteOverwrite(c, ch.ID, targetType, c.Params("targetId")); err != nil {
		h.log.Error().Err(err).Str("handler", "channel").Msg("delete overwrite failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// requireManage loads the channel and checks manage_channels on its server.
// A write-miss names the capability in the 403 body.
func (h *ChannelHandler) requireManage(c fiber.Ctx) (*model.Channel, bool, error) {
	ch, err := h.store.GetChannel(c, c.Params("id"))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "channel").Msg("get channel failed")
		return nil, false, httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if ch == nil {
		return nil, false, httputil.Fail(c, fiber.StatusNotFound, "Channel not found")
	}

	allowed, err := h.resolver.HasServerPermission(c, auth.UserID(c), ch.ServerID, permission.ManageChannels)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "channel").Msg("permission check failed")
		return nil, false, httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if !allowed {
		return nil, false, httputil.Fail(c, fiber.StatusForbidden, httputil.MissingPermission(permission.NameManageChannels))
	}
	return ch, true, nil
}
