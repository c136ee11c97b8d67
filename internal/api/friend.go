package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/mango-chat/mango-server/internal/auth"
	"github.com/mango-chat/mango-server/internal/httputil"
	"github.com/mango-chat/mango-server/internal/ident"
	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/store"
)

// FriendHandler serves friendships and friend requests.
type FriendHandler struct {
	store store.Store
	log   zerolog.Logger
}

// NewFriendHandler creates a new friend handler.
func NewFriendHandler(st store.Store, logger zerolog.Logger) *FriendHandler {
	return &FriendHandler{store: st, log: logger}
}

// List handles GET /v1/friends, returning the friends as user records.
func (h *FriendHandler) List(c fiber.Ctx) error {
	ids, err := h.store.ListFriends(c, auth.UserID(c))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "friend").Msg("list friends failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}

	out := make([]model.User, 0, len(ids))
	for _, id := range ids {
		u, err := h.store.GetUser(c, id)
		if err != nil {
			h.log.Error().Err(err).Str("handler", "friend").Msg("load friend failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
		}
		if u != nil {
			out = append(out, *u)
		}
	}
	return c.JSON(out)
}

// Remove handles DELETE /v1/friends/:id.
func (h *FriendHandler) Remove(c fiber.Ctx) error {
	if err := h.store.RemoveFriend(c, auth.UserID(c), c.Params("id")); err != nil {
		h.log.Error().Err(err).Str("handler", "friend").Msg("remove friend failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListRequests handles GET /v1/friends/requests.
func (h *FriendHandler) ListRequests(c fiber.Ctx) error {
	reqs, err := h.store.ListFriendRequests(c, auth.UserID(c))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "friend").Msg("list requests failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if reqs == nil {
		reqs = []model.FriendRequest{}
	}
	return c.JSON(reqs)
}

// CreateRequest handles POST /v1/friends/requests {userId}.
func (h *FriendHandler) CreateRequest(c fiber.Ctx) error {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	callerID := auth.UserID(c)
	if body.UserID == "" || body.UserID == callerID {
		return httputil.Fail(c, fiber.StatusBadRequest, "A valid target userId is required")
	}

	target, err := h.store.GetUser(c, body.UserID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "friend").Msg("lookup target failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if target == nil {
		return httputil.Fail(c, fiber.StatusNotFound, "User not found")
	}

	req, err := h.store.CreateFriendRequest(c, model.FriendRequest{
		ID:         ident.New(ident.PrefixFriendReq),
		FromUserID: callerID,
		ToUserID:   body.UserID,
		CreatedAt:  ident.NowString(),
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyFriends), errors.Is(err, store.ErrRequestPending):
			return httputil.Fail(c, fiber.StatusConflict, err.Error())
		default:
			h.log.Error().Err(err).Str("handler", "friend").Msg("create request failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
		}
	}
	return c.Status(fiber.StatusCreated).JSON(req)
}

// RespondRequest handles POST /v1/friends/requests/:id {action}.
func (h *FriendHandler) RespondRequest(c fiber.Ctx) error {
	var body struct {
		Action string `json:"action"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if body.Action != "accept" && body.Action != "reject" {
		return httputil.Fail(c, fiber.StatusBadRequest, `Action must be "accept" or "reject"`)
	}

	req, err := h.store.RespondFriendRequest(c, c.Params("id"), auth.UserID(c), body.Action == "accept")
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotRequestRecipient):
			return httputil.Fail(c, fiber.StatusForbidden, err.Error())
		case errors.Is(err, store.ErrRequestClosed):
			return httputil.Fail(c, fiber.StatusConflict, err.Error())
		default:
			h.log.Error().Err(err).Str("handler", "friend").Msg("respond request failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
		}
	}
	if req == nil {
		return httputil.Fail(c, fiber.StatusNotFound, "Friend request not found")
	}
	return c.JSON(req)
}
