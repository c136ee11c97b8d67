package api

import (
	"errors"
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

// SafetyHandler serves reports and appeals.
type SafetyHandler struct {
	store    store.Store
	resolver *permission.Resolver
	log      zerolog.Logger
}

// NewSafetyHandler creates a new safety handler.
func NewSafetyHandler(st store.Store, resolver *permission.Resolver, logger zerolog.Logger) *SafetyHandler {
	return &SafetyHandler{store: st, resolver: resolver, log: logger}
}

// CreateReport handles POST /v1/reports.
func (h *SafetyHandler) CreateReport(c fiber.Ctx) error {
	var body struct {
		ServerID        string `json:"serverId"`
		TargetUserID    string `json:"targetUserId"`
		TargetMessageID string `json:"targetMessageId"`
		Reason          string `json:"reason"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(body.Reason) == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "A reason is required")
	}
	if body.TargetUserID == "" && body.TargetMessageID == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "A target user or message is required")
	}

	report, err := h.store.CreateReport(c, model.Report{
		ID:            ident.New(ident.PrefixReport),
		ReporterID:    auth.UserID(c),
		ServerID:      body.ServerID,
		TargetUserID:  body.TargetUserID,
		TargetMessage: body.TargetMessageID,
		Reason:        strings.TrimSpace(body.Reason),
		CreatedAt:     ident.NowString(),
	})
	if err != nil {
		h.log.Error().Err(err).Str("handler", "safety").Msg("create report failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.Status(fiber.StatusCreated).JSON(report)
}

// ListReports handles GET /v1/servers/:id/reports (manage_server),
// newest-first.
func (h *SafetyHandler) ListReports(c fiber.Ctx) error {
	serverID := c.Params("id")
	allowed, err := h.resolver.HasServerPermission(c, auth.UserID(c), serverID, permission.ManageServer)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "safety").Msg("permission check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.MissingPermission(permission.NameManageServer))
	}

	reports, err := h.store.ListReports(c, serverID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "safety").Msg("list reports failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if reports == nil {
		reports = []model.Report{}
	}
	return c.JSON(reports)
}

// CreateAppeal handles POST /v1/appeals. A second open appeal for the same
// server conflicts.
func (h *SafetyHandler) CreateAppeal(c fiber.Ctx) error {
	var body struct {
		ServerID string `json:"serverId"`
		Body     string `json:"body"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if body.ServerID == "" || strings.TrimSpace(body.Body) == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "serverId and body are required")
	}

	appeal, err := h.store.CreateAppeal(c, model.Appeal{
		ID:        ident.New(ident.PrefixAppeal),
		UserID:    auth.UserID(c),
		ServerID:  body.ServerID,
		Body:      strings.TrimSpace(body.Body),
		CreatedAt: ident.NowString(),
	})
	if err != nil {
		if errors.Is(err, store.ErrOpenAppeal) {
			return httputil.Fail(c, fiber.StatusConflict, err.Error())
		}
		h.log.Error().Err(err).Str("handler", "safety").Msg("create appeal failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.Status(fiber.StatusCreated).JSON(appeal)
}

// ListAppeals handles GET /v1/appeals, the caller's own appeals newest-first.
func (h *SafetyHandler) ListAppeals(c fiber.Ctx) error {
	appeals, err := h.store.ListAppeals(c, auth.UserID(c))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "safety").Msg("list appeals failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if appeals == nil {
		appeals = []model.Appeal{}
	}
	return c.JSON(appeals)
}
