package auth

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/mango-chat/mango-server/internal/httputil"
)

// CookieName is the session cookie honoured alongside the Authorization
// header.
const CookieName = "mango_token"

// TokenFromRequest extracts the bearer token from the Authorization header
// or, failing that, the session cookie. Returns "" when neither is present.
func TokenFromRequest(c fiber.Ctx) string {
	const prefix = "Bearer "
	if header := c.Get("Authorization"); strings.HasPrefix(header, prefix) {
		return header[len(prefix):]
	}
	return c.Cookies(CookieName)
}

// RequireAuth returns Fiber middleware that resolves the request's token to a
// live user and stores the user ID in c.Locals("userID"). Requests without a
// resolvable token are rejected with 401.
func RequireAuth(svc *Service) fiber.Handler {
	return func(c fiber.Ctx) error {
		token := TokenFromRequest(c)
		if token == "" {
			return httputil.Fail(c, fiber.StatusUnauthorized, "Missing authentication token")
		}

		u, err := svc.ResolveToken(c, token)
		if err != nil {
			return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
		}
		if u == nil {
			return httputil.Fail(c, fiber.StatusUnauthorized, "Invalid or expired token")
		}

		c.Locals("userID", u.ID)
		c.Locals("user", u)
		return c.Next()
	}
}

// UserID returns the authenticated user id set by RequireAuth.
func UserID(c fiber.Ctx) string {
	id, _ := c.Locals("userID").(string)
	return id
}
