package api

import (
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/mango-chat/mango-server/internal/auth"
	"github.com/mango-chat/mango-server/internal/gateway"
	"github.com/mango-chat/mango-server/internal/httputil"
)

// GatewayHandler serves the WebSocket upgrade endpoint.
type GatewayHandler struct {
	hub  *gateway.Hub
	auth *auth.Service
}

// NewGatewayHandler creates a new gateway handler.
func NewGatewayHandler(hub *gateway.Hub, svc *auth.Service) *GatewayHandler {
	return &GatewayHandler{hub: hub, auth: svc}
}

// Upgrade handles GET /v1/ws?token=…. The token is authenticated before the
// upgrade; a bad token is a plain 401, never a WebSocket close code.
func (h *GatewayHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	u, err := h.auth.ResolveToken(c, c.Query("token"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if u == nil {
		return httputil.Fail(c, fiber.StatusUnauthorized, "Invalid or missing token")
	}

	userID := u.ID
	return websocket.New(func(conn *websocket.Conn) {
		h.hub.ServeWebSocket(conn.Conn, userID)
	})(c)
}
