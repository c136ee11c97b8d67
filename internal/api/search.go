package api

import (
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/mango-chat/mango-server/internal/auth"
	"github.com/mango-chat/mango-server/internal/httputil"
	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/permission"
	"github.com/mango-chat/mango-server/internal/store"
)

// SearchHandler serves the unified search endpoint.
type SearchHandler struct {
	store    store.Store
	resolver *permission.Resolver
	log      zerolog.Logger
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(st store.Store, resolver *permission.Resolver, logger zerolog.Logger) *SearchHandler {
	return &SearchHandler{store: st, resolver: resolver, log: logger}
}

// searchResponse is the body of GET /v1/search.
type searchResponse struct {
	Users    []model.User    `json:"users,omitempty"`
	Channels []model.Channel `json:"channels,omitempty"`
	Messages []model.Message `json:"messages,omitempty"`
}

// Search handles GET /v1/search?q=&scope=&serverId=&limit=. Queries under two
// characters return an empty object. Channel and message hits are filtered by
// the caller's read permission.
func (h *SearchHandler) Search(c fiber.Ctx) error {
	q := c.Query("q")
	if len(q) < 2 {
		return c.JSON(searchResponse{})
	}

	scope := c.Query("scope", "all")
	serverID := c.Query("serverId")
	limit, _ := strconv.Atoi(c.Query("limit"))

	userID := auth.UserID(c)
	canRead := func(channelID string) bool {
		ok, err := h.resolver.CanReadChannel(c, userID, channelID)
		if err != nil {
			h.log.Warn().Err(err).Str("channel_id", channelID).Msg("search read check failed")
			return false
		}
		return ok
	}

	var resp searchResponse
	var err error

	if scope == "all" || scope == "users" {
		resp.Users, err = h.store.SearchUsers(c, q, userID)
		if err != nil {
			h.log.Error().Err(err).Str("handler", "search").Msg("search users failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
		}
	}
	if scope == "all" || scope == "channels" {
		resp.Channels, err = h.store.SearchChannels(c, q, serverID, limit, canRead)
		if err != nil {
			h.log.Error().Err(err).Str("handler", "search").Msg("search channels failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
		}
	}
	if scope == "all" || scope == "messages" {
		resp.Messages, err = h.store.SearchMessages(c, q, serverID, limit, canRead)
		if err != nil {
			h.log.Error().Err(err).Str("handler", "search").Msg("search messages failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
		}
	}

	return c.JSON(resp)
}
