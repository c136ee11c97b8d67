package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/mango-chat/mango-server/internal/auth"
	"github.com/mango-chat/mango-server/internal/gateway"
	"github.com/mango-chat/mango-server/internal/httputil"
	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/permission"
	"github.com/mango-chat/mango-server/internal/store"
	"github.com/mango-chat/mango-server/internal/voice"
)

// voiceActions are the upstream operations the proxy forwards.
var voiceActions = map[string]bool{
	"join":         true,
	"leave":        true,
	"state":        true,
	"heartbeat":    true,
	"screen-share": true,
}

// VoiceHandler proxies voice endpoints to the signaling service and relays
// session updates through the gateway.
type VoiceHandler struct {
	store    store.Store
	resolver *permission.Resolver
	client   *voice.Client
	hub      *gateway.Hub
	log      zerolog.Logger
}

// NewVoiceHandler creates a new voice handler.
func NewVoiceHandler(st store.Store, resolver *permission.Resolver, client *voice.Client, hub *gateway.Hub, logger zerolog.Logger) *VoiceHandler {
	return &VoiceHandler{store: st, resolver: resolver, client: client, hub: hub, log: logger}
}

// Channel handles POST /v1/voice/channels/:id/:action for voice channels.
func (h *VoiceHandler) Channel(c fiber.Ctx) error {
	action := c.Params("action")
	if !voiceActions[action] {
		return httputil.Fail(c, fiber.StatusNotFound, "Unknown voice action")
	}

	ch, err := h.store.GetChannel(c, c.Params("id"))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "voice").Msg("get channel failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if ch == nil {
		return httputil.Fail(c, fiber.StatusNotFound, "Channel not found")
	}
	if ch.Type != model.ChannelVoice {
		return httputil.Fail(c, fiber.StatusBadRequest, "Not a voice channel")
	}

	userID := auth.UserID(c)
	allowed, err := h.resolver.CanReadChannel(c, userID, ch.ID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "voice").Msg("permission check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusNotFound, "Channel not found")
	}

	return h.forward(c, voice.Request{
		Action:      action,
		UserID:      userID,
		TargetKind:  voice.TargetChannel,
		TargetID:    ch.ID,
		ServerID:    ch.ServerID,
		ScreenShare: action == "screen-share",
		Body:        c.Body(),
	}, nil)
}

// Thread handles POST /v1/voice/direct-threads/:id/:action for DM calls.
func (h *VoiceHandler) Thread(c fiber.Ctx) error {
	action := c.Params("action")
	if !voiceActions[action] {
		return httputil.Fail(c, fiber.StatusNotFound, "Unknown voice action")
	}

	thread, err := h.store.GetDirectThread(c, c.Params("id"))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "voice").Msg("get thread failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if thread == nil {
		return httputil.Fail(c, fiber.StatusNotFound, "Direct thread not found")
	}

	userID := auth.UserID(c)
	participant := false
	for _, p := range thread.ParticipantIDs {
		if p == userID {
			participant = true
			break
		}
	}
	if !participant {
		return httputil.Fail(c, fiber.StatusNotFound, "Direct thread not found")
	}

	return h.forward(c, voice.Request{
		Action:      action,
		UserID:      userID,
		TargetKind:  voice.TargetThread,
		TargetID:    thread.ID,
		ScreenShare: action == "screen-share",
		Body:        c.Body(),
	}, thread)
}

// forward relays the request upstream and, on success, publishes the
// resulting session to participants (and server members for channel calls).
func (h *VoiceHandler) forward(c fiber.Ctx, req voice.Request, thread *model.DirectThread) error {
	session, status, err := h.client.Forward(c, req)
	if err != nil {
		if errors.Is(err, voice.ErrUpstreamUnavailable) {
			return httputil.Fail(c, fiber.StatusServiceUnavailable, "Voice service unavailable")
		}
		if status >= 400 && status < 500 {
			return httputil.Fail(c, status, "Voice request rejected")
		}
		h.log.Error().Err(err).Str("handler", "voice").Msg("voice upstream failed")
		return httputil.Fail(c, fiber.StatusBadGateway, "Voice request failed")
	}

	recipients := append([]string(nil), session.Participants...)
	if thread != nil {
		recipients = append(recipients, thread.ParticipantIDs...)
	} else if req.ServerID != "" {
		members, err := h.store.ListServerMembers(c, req.ServerID)
		if err != nil {
			h.log.Warn().Err(err).Msg("list members for voice fan-out failed")
		}
		for _, m := range members {
			recipients = append(recipients, m.UserID)
		}
	}
	h.hub.PublishToUsers(gateway.EventVoiceSessionUpdated, session, recipients...)

	return c.JSON(session)
}
