package api

import (
	"crypto/rand"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/mango-chat/mango-server/internal/auth"
	"github.com/mango-chat/mango-server/internal/httputil"
	"github.com/mango-chat/mango-server/internal/ident"
	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/permission"
	"github.com/mango-chat/mango-server/internal/store"
)

// ServerHandler serves server, member, role, invite, and moderation
// endpoints.
type ServerHandler struct {
	store    store.Store
	resolver *permission.Resolver
	log      zerolog.Logger
}

// NewServerHandler creates a new server handler.
func NewServerHandler(st store.Store, resolver *permission.Resolver, logger zerolog.Logger) *ServerHandler {
	return &ServerHandler{store: st, resolver: resolver, log: logger}
}

// NewServerSeed builds the composite entities for a new server: the server
// row, the immutable @everyone role, and the Owner role holding every
// capability.
func NewServerSeed(name, ownerID string, hidden bool) store.CreateServerSeed {
	serverID := ident.New(ident.PrefixServer)
	now := ident.NowString()
	return store.CreateServerSeed{
		Server: model.Server{
			ID:        serverID,
			Name:      name,
			OwnerID:   ownerID,
			Hidden:    hidden,
			CreatedAt: now,
		},
		DefaultRole: model.Role{
			ID:          ident.New(ident.PrefixRole),
			ServerID:    serverID,
			Name:        "@everyone",
			Permissions: []string{permission.NameReadMessages, permission.NameSendMessages},
			IsDefault:   true,
			CreatedAt:   now,
		},
		OwnerRole: model.Role{
			ID:          ident.New(ident.PrefixRole),
			ServerID:    serverID,
			Name:        "Owner",
			Permissions: permission.All.Strings(),
			CreatedAt:   now,
		},
	}
}

// Create handles POST /v1/servers.
func (h *ServerHandler) Create(c fiber.Ctx) error {
	var body struct {
		Name string `json:"name"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	name := strings.TrimSpace(body.Name)
	if len(name) < 2 {
		return httputil.Fail(c, fiber.StatusBadRequest, "Server name must be at least 2 characters")
	}

	srv, err := h.store.CreateServer(c, NewServerSeed(name, auth.UserID(c), false))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "server").Msg("create server failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.Status(fiber.StatusCreated).JSON(srv)
}

// List handles GET /v1/servers.
func (h *ServerHandler) List(c fiber.Ctx) error {
	servers, err := h.store.ListServersForUser(c, auth.UserID(c))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "server").Msg("list servers failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if servers == nil {
		servers = []model.Server{}
	}
	return c.JSON(servers)
}

// Delete handles DELETE /v1/servers/:id. Owner only.
func (h *ServerHandler) Delete(c fiber.Ctx) error {
	srv, ok, err := h.requireServer(c)
	if err != nil || !ok {
		return err
	}
	if srv.OwnerID != auth.UserID(c) {
		return httputil.Fail(c, fiber.StatusForbidden, "Only the owner can delete a server")
	}
	if err := h.store.DeleteServer(c, srv.ID); err != nil {
		h.log.Error().Err(err).Str("handler", "server").Msg("delete server failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.JSON(fiber.Map{"id": srv.ID})
}

// Leave handles DELETE /v1/servers/:id/members/@me. Owners cannot leave.
func (h *ServerHandler) Leave(c fiber.Ctx) error {
	srv, ok, err := h.requireServer(c)
	if err != nil || !ok {
		return err
	}
	if err := h.store.RemoveServerMember(c, srv.ID, auth.UserID(c)); err != nil {
		if errors.Is(err, store.ErrOwnerCannotLeave) {
			return httputil.Fail(c, fiber.StatusForbidden, err.Error())
		}
		h.log.Error().Err(err).Str("handler", "server").Msg("leave server failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListMembers handles GET /v1/servers/:id/members.
func (h *ServerHandler) ListMembers(c fiber.Ctx) error {
	srv, ok, err := h.requireMembership(c)
	if err != nil || !ok {
		return err
	}
	members, err := h.store.ListServerMembers(c, srv.ID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "server").Msg("list members failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.JSON(members)
}

// --- Roles ---

// CreateRole handles POST /v1/servers/:id/roles (manage_server).
func (h *ServerHandler) CreateRole(c fiber.Ctx) error {
	srv, ok, err := h.requireCapability(c, permission.ManageServer)
	if err != nil || !ok {
		return err
	}

	var body struct {
		Name        string   `json:"name"`
		Permissions []string `json:"permissions"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(body.Name) == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "Role name is required")
	}
	for _, p := range body.Permissions {
		if !permission.ValidName(p) {
			return httputil.Fail(c, fiber.StatusBadRequest, "Unknown permission: "+p)
		}
	}

	role, err := h.store.CreateRole(c, model.Role{
		ID:          ident.New(ident.PrefixRole),
		ServerID:    srv.ID,
		Name:        strings.TrimSpace(body.Name),
		Permissions: body.Permissions,
		CreatedAt:   ident.NowString(),
	})
	if err != nil {
		h.log.Error().Err(err).Str("handler", "server").Msg("create role failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.Status(fiber.StatusCreated).JSON(role)
}

// ListRoles handles GET /v1/servers/:id/roles.
func (h *ServerHandler) ListRoles(c fiber.Ctx) error {
	srv, ok, err := h.requireMembership(c)
	if err != nil || !ok {
		return err
	}
	roles, err := h.store.ListRoles(c, srv.ID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "server").Msg("list roles failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.JSON(roles)
}

// DeleteRole handles DELETE /v1/servers/:id/roles/:roleId (manage_server).
func (h *ServerHandler) DeleteRole(c fiber.Ctx) error {
	srv, ok, err := h.requireCapability(c, permission.ManageServer)
	if err != nil || !ok {
		return err
	}
	role, err := h.store.GetRole(c, c.Params("roleId"))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "server").Msg("get role failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if role == nil || role.ServerID != srv.ID {
		return httputil.Fail(c, fiber.StatusNotFound, "Role not found")
	}
	if role.IsDefault {
		return httputil.Fail(c, fiber.StatusBadRequest, "The default role cannot be deleted")
	}
	if err := h.store.DeleteRole(c, role.ID); err != nil {
		h.log.Error().Err(err).Str("handler", "server").Msg("delete role failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AssignRole handles PUT /v1/servers/:id/members/:userId/roles/:roleId
// (manage_server). Idempotent.
func (h *ServerHandler) AssignRole(c fiber.Ctx) error {
	srv, ok, err := h.requireCapability(c, permission.ManageServer)
	if err != nil || !ok {
		return err
	}
	role, target, failErr := h.roleTarget(c, srv)
	if failErr != nil {
		return failErr
	}
	if err := h.store.AssignRole(c, srv.ID, target, role.ID); err != nil {
		h.log.Error().Err(err).Str("handler", "server").Msg("assign role failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UnassignRole handles DELETE /v1/servers/:id/members/:userId/roles/:roleId.
func (h *ServerHandler) UnassignRole(c fiber.Ctx) error {
	srv, ok, err := h.requireCapability(c, permission.ManageServer)
	if err != nil || !ok {
		return err
	}
	role, target, failErr := h.roleTarget(c, srv)
	if failErr != nil {
		return failErr
	}
	if err := h.store.UnassignRole(c, srv.ID, target, role.ID); err != nil {
		h.log.Error().Err(err).Str("handler", "server").Msg("unassign role failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ServerHandler) roleTarget(c fiber.Ctx, srv *model.Server) (*model.Role, string, error) {
	role, err := h.store.GetRole(c, c.Params("roleId"))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "server").Msg("get role failed")
		return nil, "", httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if role == nil || role.ServerID != srv.ID {
		return nil, "", httputil.Fail(c, fiber.StatusNotFound, "Role not found")
	}
	target := c.Params("userId")
	member, err := h.store.IsServerMember(c, srv.ID, target)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "server").Msg("check target membership failed")
		return nil, "", httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if !member {
		return nil, "", httputil.Fail(c, fiber.StatusNotFound, "Member not found")
	}
	return role, target, nil
}

// --- Invites ---

// CreateInvite handles POST /v1/servers/:id/invites (manage_server).
func (h *ServerHandler) CreateInvite(c fiber.Ctx) error {
	srv, ok, err := h.requireCapability(c, permission.ManageServer)
	if err != nil || !ok {
		return err
	}

	var body struct {
		MaxUses    int `json:"maxUses"`
		TTLSeconds int `json:"ttlSeconds"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if body.MaxUses < 0 || body.TTLSeconds < 0 {
		return httputil.Fail(c, fiber.StatusBadRequest, "maxUses and ttlSeconds must be non-negative")
	}

	inv := model.Invite{
		Code:      newInviteCode(),
		ServerID:  srv.ID,
		CreatedBy: auth.UserID(c),
		CreatedAt: ident.NowString(),
		MaxUses:   body.MaxUses,
	}
	if body.TTLSeconds > 0 {
		inv.ExpiresAt = ident.Timestamp(time.Now().Add(time.Duration(body.TTLSeconds) * time.Second))
	}

	created, err := h.store.CreateInvite(c, inv)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "server").Msg("create invite failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// ListInvites handles GET /v1/servers/:id/invites (manage_server).
func (h *ServerHandler) ListInvites(c fiber.Ctx) error {
	srv, ok, err := h.requireCapability(c, permission.ManageServer)
	if err != nil || !ok {
		return err
	}
	invites, err := h.store.ListInvites(c, srv.ID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "server").Msg("list invites failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if invites == nil {
		invites = []model.Invite{}
	}
	return c.JSON(invites)
}

// DeleteInvite handles DELETE /v1/servers/:id/invites/:code (manage_server).
func (h *ServerHandler) DeleteInvite(c fiber.Ctx) error {
	srv, ok, err := h.requireCapability(c, permission.ManageServer)
	if err != nil || !ok {
		return err
	}
	if err := h.store.DeleteInvite(c, srv.ID, c.Params("code")); err != nil {
		h.log.Error().Err(err).Str("handler", "server").Msg("delete invite failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Join handles POST /v1/invites/:code/join. Invalid, expired, maxed, and
// ban-blocked codes all read as 404 so the code space cannot be probed.
func (h *ServerHandler) Join(c fiber.Ctx) error {
	srv, err := h.store.JoinServerByInvite(c, c.Params("code"), auth.UserID(c), ident.NowString())
	if err != nil {
		h.log.Error().Err(err).Str("handler", "server").Msg("join by invite failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if srv == nil {
		return httputil.Fail(c, fiber.StatusNotFound, "Invite not found")
	}
	return c.JSON(srv)
}

// --- Moderation ---

// Moderate handles POST /v1/servers/:id/moderation (manage_server): kick,
// ban, timeout, unban.
func (h *ServerHandler) Moderate(c fiber.Ctx) error {
	srv, ok, err := h.requireCapability(c, permission.ManageServer)
	if err != nil || !ok {
		return err
	}

	var body struct {
		ActionType   string `json:"actionType"`
		TargetUserID string `json:"targetUserId"`
		Reason       string `json:"reason"`
		TTLSeconds   int    `json:"ttlSeconds"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	switch body.ActionType {
	case model.ActionKick, model.ActionBan, model.ActionTimeout, model.ActionUnban:
	default:
		return httputil.Fail(c, fiber.StatusBadRequest, "Unknown moderation action")
	}
	if body.TargetUserID == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "targetUserId is required")
	}
	if body.TargetUserID == srv.OwnerID {
		return httputil.Fail(c, fiber.StatusForbidden, "The owner cannot be moderated")
	}

	action := model.ModerationAction{
		ID:           ident.New(ident.PrefixModeration),
		ServerID:     srv.ID,
		ActorID:      auth.UserID(c),
		TargetUserID: body.TargetUserID,
		ActionType:   body.ActionType,
		Reason:       strings.TrimSpace(body.Reason),
		CreatedAt:    ident.NowString(),
	}
	if body.ActionType == model.ActionTimeout {
		if body.TTLSeconds <= 0 {
			return httputil.Fail(c, fiber.StatusBadRequest, "A timeout requires a positive ttlSeconds")
		}
		action.ExpiresAt = ident.Timestamp(time.Now().Add(time.Duration(body.TTLSeconds) * time.Second))
	}

	applied, err := h.store.ApplyModeration(c, action)
	if err != nil {
		if errors.Is(err, store.ErrTimeoutRequiresExpiry) {
			return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
		}
		h.log.Error().Err(err).Str("handler", "server").Msg("apply moderation failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.Status(fiber.StatusCreated).JSON(applied)
}

// ListBans handles GET /v1/servers/:id/bans (manage_server).
func (h *ServerHandler) ListBans(c fiber.Ctx) error {
	srv, ok, err := h.requireCapability(c, permission.ManageServer)
	if err != nil || !ok {
		return err
	}
	bans, err := h.store.ListBans(c, srv.ID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "server").Msg("list bans failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if bans == nil {
		bans = []string{}
	}
	return c.JSON(bans)
}

// ListAuditLog handles GET /v1/servers/:id/audit-log (manage_server),
// newest-first.
func (h *ServerHandler) ListAuditLog(c fiber.Ctx) error {
	srv, ok, err := h.requireCapability(c, permission.ManageServer)
	if err != nil || !ok {
		return err
	}
	entries, err := h.store.ListAuditLog(c, srv.ID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "server").Msg("list audit log failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if entries == nil {
		entries = []model.AuditLogEntry{}
	}
	return c.JSON(entries)
}

// --- Shared guards ---

// requireServer loads the visible server from the :id param. A hidden backing
// server reads as 404.
func (h *ServerHandler) requireServer(c fiber.Ctx) (*model.Server, bool, error) {
	srv, err := h.store.GetServer(c, c.Params("id"))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "server").Msg("get server failed")
		return nil, false, httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if srv == nil || srv.Hidden {
		return nil, false, httputil.Fail(c, fiber.StatusNotFound, "Server not found")
	}
	return srv, true, nil
}

// requireMembership additionally checks that the caller is a member;
// non-members read the server as 404.
func (h *ServerHandler) requireMembership(c fiber.Ctx) (*model.Server, bool, error) {
	srv, ok, err := h.requireServer(c)
	if !ok {
		return nil, false, err
	}
	member, err := h.store.IsServerMember(c, srv.ID, auth.UserID(c))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "server").Msg("check membership failed")
		return nil, false, httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if !member {
		return nil, false, httputil.Fail(c, fiber.StatusNotFound, "Server not found")
	}
	return srv, true, nil
}

// requireCapability checks a server-level capability, responding 403 with the
// capability name on denial.
func (h *ServerHandler) requireCapability(c fiber.Ctx, cap permission.Capability) (*model.Server, bool, error) {
	srv, ok, err := h.requireMembership(c)
	if !ok {
		return nil, false, err
	}
	allowed, err := h.resolver.HasServerPermission(c, auth.UserID(c), srv.ID, cap)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "server").Msg("permission check failed")
		return nil, false, httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if !allowed {
		return nil, false, httputil.Fail(c, fiber.StatusForbidden, httputil.MissingPermission(cap.Name()))
	}
	return srv, true, nil
}

// inviteAlphabet avoids lookalike characters, matching what clients render.
const inviteAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// newInviteCode returns an 8-character uppercase code.
func newInviteCode() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = inviteAlphabet[int(b)%len(inviteAlphabet)]
	}
	return string(buf)
}
