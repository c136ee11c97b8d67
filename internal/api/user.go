package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/mango-chat/mango-server/internal/auth"
	"github.com/mango-chat/mango-server/internal/httputil"
	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/store"
)

// UserHandler serves user lookup and search.
type UserHandler struct {
	store store.Store
	log   zerolog.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(st store.Store, logger zerolog.Logger) *UserHandler {
	return &UserHandler{store: st, log: logger}
}

// Search handles GET /v1/users/search?q=. Queries shorter than two characters
// return an empty list.
func (h *UserHandler) Search(c fiber.Ctx) error {
	q := c.Query("q")
	if len(q) < 2 {
		return c.JSON([]model.User{})
	}

	users, err := h.store.SearchUsers(c, q, auth.UserID(c))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "user").Msg("search users failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if users == nil {
		users = []model.User{}
	}
	return c.JSON(users)
}

// Get handles GET /v1/users/:id.
func (h *UserHandler) Get(c fiber.Ctx) error {
	u, err := h.store.GetUser(c, c.Params("id"))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "user").Msg("get user failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if u == nil {
		return httputil.Fail(c, fiber.StatusNotFound, "User not found")
	}
	return c.JSON(u)
}

// DeleteMe handles DELETE /v1/me, cascading the caller's account.
func (h *UserHandler) DeleteMe(c fiber.Ctx) error {
	userID := auth.UserID(c)
	if err := h.store.DeleteUser(c, userID); err != nil {
		h.log.Error().Err(err).Str("handler", "user").Msg("delete user failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	c.ClearCookie(auth.CookieName)
	return c.SendStatus(fiber.StatusNoContent)
}
