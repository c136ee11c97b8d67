// Package httputil holds the JSON response helpers and request-logging
// middleware shared by every handler.
package httputil

import (
	"github.com/gofiber/fiber/v3"
)

// ErrorResponse is the wire shape of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Fail sends a JSON error body with the given status.
func Fail(c fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(ErrorResponse{Error: message})
}

// MissingPermission formats the 403 body naming the denied capability.
func MissingPermission(capability string) string {
	return "Missing permission: " + capability
}
