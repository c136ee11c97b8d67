// Package api contains the HTTP handlers for every gateway route.
package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/mango-chat/mango-server/internal/auth"
	"github.com/mango-chat/mango-server/internal/httputil"
	"github.com/mango-chat/mango-server/internal/store"
)

// AuthHandler serves registration, login, and identity endpoints.
type AuthHandler struct {
	auth *auth.Service
	log  zerolog.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(svc *auth.Service, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{auth: svc, log: logger}
}

// sessionResponse is the body of successful register and login calls.
type sessionResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

// Register handles POST /v1/auth/register.
func (h *AuthHandler) Register(c fiber.Ctx) error {
	var body auth.RegisterParams
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	u, token, err := h.auth.Register(c, body)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateEmail), errors.Is(err, store.ErrDuplicateUsername):
			return httputil.Fail(c, fiber.StatusConflict, err.Error())
		case errors.Is(err, auth.ErrInvalidEmail),
			errors.Is(err, auth.ErrUsernameInvalid),
			errors.Is(err, auth.ErrDisplayNameLength),
			errors.Is(err, auth.ErrPasswordTooShort):
			return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
		default:
			h.log.Error().Err(err).Str("handler", "auth").Msg("register failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
		}
	}

	setSessionCookie(c, token)
	return c.Status(fiber.StatusCreated).JSON(sessionResponse{Token: token, User: u})
}

// Login handles POST /v1/auth/login. The identifier resolves as an email when
// it contains '@' and as a username otherwise.
func (h *AuthHandler) Login(c fiber.Ctx) error {
	var body struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	u, token, err := h.auth.Login(c, body.Identifier, body.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return httputil.Fail(c, fiber.StatusUnauthorized, "Invalid credentials")
		}
		h.log.Error().Err(err).Str("handler", "auth").Msg("login failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}

	setSessionCookie(c, token)
	return c.JSON(sessionResponse{Token: token, User: u})
}

// Logout handles POST /v1/auth/logout, deleting the presented session.
func (h *AuthHandler) Logout(c fiber.Ctx) error {
	token := auth.TokenFromRequest(c)
	if token != "" {
		if err := h.auth.Logout(c, token); err != nil {
			h.log.Warn().Err(err).Msg("logout failed")
		}
	}
	c.ClearCookie(auth.CookieName)
	return c.SendStatus(fiber.StatusNoContent)
}

// Me handles GET /v1/me.
func (h *AuthHandler) Me(c fiber.Ctx) error {
	return c.JSON(c.Locals("user"))
}

// CreateBotToken handles POST /v1/bot-tokens, minting a long-lived signed
// token that RequireAuth accepts in place of a session.
func (h *AuthHandler) CreateBotToken(c fiber.Ctx) error {
	token, err := h.auth.MintBotToken(auth.UserID(c))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "auth").Msg("mint bot token failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"token": token})
}

func setSessionCookie(c fiber.Ctx, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/",
	})
}
