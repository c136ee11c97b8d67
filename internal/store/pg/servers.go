package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mango-chat/mango-server/internal/ident"
	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/store"
)

func scanServer(row pgx.Row) (*model.Server, error) {
	var srv model.Server
	err := row.Scan(&srv.ID, &srv.Name, &srv.OwnerID, &srv.Hidden, &srv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &srv, nil
}

// CreateServer inserts the server, both seed roles, the owner membership, and
// the owner role assignment in one transaction.
func (s *Store) CreateServer(ctx context.Context, seed store.CreateServerSeed) (*model.Server, error) {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		return createServerTx(ctx, tx, seed)
	})
	if err != nil {
		return nil, err
	}
	srv := seed.Server
	return &srv, nil
}

func createServerTx(ctx context.Context, tx pgx.Tx, seed store.CreateServerSeed) error {
	srv := seed.Server
	if _, err := tx.Exec(ctx,
		"INSERT INTO servers (id, name, owner_id, hidden, created_at) VALUES ($1, $2, $3, $4, $5)",
		srv.ID, srv.Name, srv.OwnerID, srv.Hidden, srv.CreatedAt); err != nil {
		return fmt.Errorf("insert server: %w", err)
	}
	for _, r := range []model.Role{seed.DefaultRole, seed.OwnerRole} {
		if _, err := tx.Exec(ctx,
			`INSERT INTO roles (id, server_id, name, permissions, is_default, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			r.ID, r.ServerID, r.Name, r.Permissions, r.IsDefault, r.CreatedAt); err != nil {
			return fmt.Errorf("insert role: %w", err)
		}
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO server_members (server_id, user_id, joined_at) VALUES ($1, $2, $3)",
		srv.ID, srv.OwnerID, srv.CreatedAt); err != nil {
		return fmt.Errorf("insert owner membership: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO member_roles (server_id, user_id, role_id) VALUES ($1, $2, $3)",
		srv.ID, srv.OwnerID, seed.OwnerRole.ID); err != nil {
		return fmt.Errorf("assign owner role: %w", err)
	}
	return nil
}

func (s *Store) GetServer(ctx context.Context, serverID string) (*model.Server, error) {
	return scanServer(s.db.QueryRow(ctx,
		"SELECT id, name, owner_id, hidden, created_at FROM servers WHERE id = $1", serverID))
}

func (s *Store) ListServersForUser(ctx context.Context, userID string) ([]model.Server, error) {
	rows, err := s.db.Query(ctx,
		`SELECT s.id, s.name, s.owner_id, s.hidden, s.created_at
		 FROM servers s JOIN server_members m ON m.server_id = s.id
		 WHERE m.user_id = $1 AND NOT s.hidden
		 ORDER BY s.created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var out []model.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		out = append(out, *srv)
	}
	return out, rows.Err()
}

// DeleteServer cascades through the schema's foreign keys. Read markers for
// the server's conversations carry no foreign key, so they are swept first in
// the same transaction.
func (s *Store) DeleteServer(ctx context.Context, serverID string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return deleteServerTx(ctx, tx, serverID)
	})
}

func deleteServerTx(ctx context.Context, tx pgx.Tx, serverID string) error {
	if _, err := tx.Exec(ctx,
		`DELETE FROM read_markers
		 WHERE conversation_id IN (SELECT id FROM channels WHERE server_id = $1)
		    OR conversation_id IN (
		        SELECT t.id FROM direct_threads t
		        JOIN channels c ON c.id = t.channel_id
		        WHERE c.server_id = $1)`, serverID); err != nil {
		return fmt.Errorf("sweep read markers: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM servers WHERE id = $1", serverID); err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	return nil
}

func (s *Store) AddServerMember(ctx context.Context, serverID, userID, joinedAt string) error {
	banned, err := s.IsBanned(ctx, serverID, userID)
	if err != nil {
		return err
	}
	if banned {
		return store.ErrBanned
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO server_members (server_id, user_id, joined_at)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		serverID, userID, joinedAt)
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

func (s *Store) RemoveServerMember(ctx context.Context, serverID, userID string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var ownerID string
		err := tx.QueryRow(ctx, "SELECT owner_id FROM servers WHERE id = $1", serverID).Scan(&ownerID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("query server owner: %w", err)
		}
		if ownerID == userID {
			return store.ErrOwnerCannotLeave
		}
		if _, err := tx.Exec(ctx,
			"DELETE FROM server_members WHERE server_id = $1 AND user_id = $2", serverID, userID); err != nil {
			return fmt.Errorf("delete membership: %w", err)
		}
		if _, err := tx.Exec(ctx,
			"DELETE FROM server_timeouts WHERE server_id = $1 AND user_id = $2", serverID, userID); err != nil {
			return fmt.Errorf("delete timeout: %w", err)
		}
		return nil
	})
}

func (s *Store) ListServerMembers(ctx context.Context, serverID string) ([]model.Member, error) {
	rows, err := s.db.Query(ctx,
		`SELECT m.user_id, m.joined_at,
		        COALESCE(ARRAY_AGG(r.role_id ORDER BY r.role_id) FILTER (WHERE r.role_id IS NOT NULL), '{}')
		 FROM server_members m
		 LEFT JOIN member_roles r ON r.server_id = m.server_id AND r.user_id = m.user_id
		 WHERE m.server_id = $1
		 GROUP BY m.user_id, m.joined_at
		 ORDER BY m.joined_at, m.user_id`, serverID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []model.Member
	for rows.Next() {
		m := model.Member{ServerID: serverID}
		if err := rows.Scan(&m.UserID, &m.JoinedAt, &m.RoleIDs); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) IsServerMember(ctx context.Context, serverID, userID string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM server_members WHERE server_id = $1 AND user_id = $2)",
		serverID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return ok, nil
}

func (s *Store) MemberRoleIDs(ctx context.Context, serverID, userID string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		"SELECT role_id FROM member_roles WHERE server_id = $1 AND user_id = $2 ORDER BY role_id",
		serverID, userID)
	if err != nil {
		return nil, fmt.Errorf("list member roles: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan role id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) AssignRole(ctx context.Context, serverID, userID, roleID string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO member_roles (server_id, user_id, role_id)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		serverID, userID, roleID)
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

func (s *Store) UnassignRole(ctx context.Context, serverID, userID, roleID string) error {
	_, err := s.db.Exec(ctx,
		"DELETE FROM member_roles WHERE server_id = $1 AND user_id = $2 AND role_id = $3",
		serverID, userID, roleID)
	if err != nil {
		return fmt.Errorf("unassign role: %w", err)
	}
	return nil
}

// --- Roles ---

func scanRole(row pgx.Row) (*model.Role, error) {
	var r model.Role
	err := row.Scan(&r.ID, &r.ServerID, &r.Name, &r.Permissions, &r.IsDefault, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) CreateRole(ctx context.Context, r model.Role) (*model.Role, error) {
	_, err := s.db.Exec(ctx,
		`INSERT INTO roles (id, server_id, name, permissions, is_default, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.ServerID, r.Name, r.Permissions, r.IsDefault, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert role: %w", err)
	}
	return &r, nil
}

func (s *Store) GetRole(ctx context.Context, roleID string) (*model.Role, error) {
	return scanRole(s.db.QueryRow(ctx,
		"SELECT id, server_id, name, permissions, is_default, created_at FROM roles WHERE id = $1", roleID))
}

func (s *Store) ListRoles(ctx context.Context, serverID string) ([]model.Role, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, server_id, name, permissions, is_default, created_at
		 FROM roles WHERE server_id = $1 ORDER BY created_at, id`, serverID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var out []model.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	_, err := s.db.Exec(ctx,
		"DELETE FROM roles WHERE id = $1 AND NOT is_default", roleID)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	return nil
}

// --- Moderation ---

func (s *Store) ApplyModeration(ctx context.Context, action model.ModerationAction) (*model.ModerationAction, error) {
	if action.ActionType == model.ActionTimeout && action.ExpiresAt == "" {
		return nil, store.ErrTimeoutRequiresExpiry
	}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		switch action.ActionType {
		case model.ActionKick:
			if _, err := tx.Exec(ctx,
				"DELETE FROM server_members WHERE server_id = $1 AND user_id = $2",
				action.ServerID, action.TargetUserID); err != nil {
				return fmt.Errorf("kick member: %w", err)
			}
		case model.ActionBan:
			if _, err := tx.Exec(ctx,
				"INSERT INTO server_bans (server_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
				action.ServerID, action.TargetUserID); err != nil {
				return fmt.Errorf("insert ban: %w", err)
			}
			if _, err := tx.Exec(ctx,
				"DELETE FROM server_members WHERE server_id = $1 AND user_id = $2",
				action.ServerID, action.TargetUserID); err != nil {
				return fmt.Errorf("remove banned member: %w", err)
			}
		case model.ActionTimeout:
			if _, err := tx.Exec(ctx,
				`INSERT INTO server_timeouts (server_id, user_id, expires_at)
				 VALUES ($1, $2, $3)
				 ON CONFLICT (server_id, user_id) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
				action.ServerID, action.TargetUserID, action.ExpiresAt); err != nil {
				return fmt.Errorf("set timeout: %w", err)
			}
		case model.ActionUnban:
			if _, err := tx.Exec(ctx,
				"DELETE FROM server_bans WHERE server_id = $1 AND user_id = $2",
				action.ServerID, action.TargetUserID); err != nil {
				return fmt.Errorf("delete ban: %w", err)
			}
		}

		if action.ActionType == model.ActionKick || action.ActionType == model.ActionBan {
			if _, err := tx.Exec(ctx,
				"DELETE FROM server_timeouts WHERE server_id = $1 AND user_id = $2",
				action.ServerID, action.TargetUserID); err != nil {
				return fmt.Errorf("clear timeout: %w", err)
			}
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO audit_log (id, server_id, actor_id, target_user_id, action_type, reason, created_at)
			 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)`,
			ident.New(ident.PrefixAudit), action.ServerID, action.ActorID,
			action.TargetUserID, action.ActionType, action.Reason, action.CreatedAt)
		if err != nil {
			return fmt.Errorf("append audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &action, nil
}

func (s *Store) IsBanned(ctx context.Context, serverID, userID string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM server_bans WHERE server_id = $1 AND user_id = $2)",
		serverID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check ban: %w", err)
	}
	return ok, nil
}

// HasActiveTimeout expires lazily: an expired row is deleted on observation.
func (s *Store) HasActiveTimeout(ctx context.Context, serverID, userID string) (bool, error) {
	var expiresAt string
	err := s.db.QueryRow(ctx,
		"SELECT expires_at FROM server_timeouts WHERE server_id = $1 AND user_id = $2",
		serverID, userID).Scan(&expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query timeout: %w", err)
	}
	if expiresAt <= ident.NowString() {
		if _, err := s.db.Exec(ctx,
			"DELETE FROM server_timeouts WHERE server_id = $1 AND user_id = $2 AND expires_at = $3",
			serverID, userID, expiresAt); err != nil {
			return false, fmt.Errorf("clear expired timeout: %w", err)
		}
		return false, nil
	}
	return true, nil
}

func (s *Store) ListBans(ctx context.Context, serverID string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		"SELECT user_id FROM server_bans WHERE server_id = $1 ORDER BY user_id", serverID)
	if err != nil {
		return nil, fmt.Errorf("list bans: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan ban: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) AppendAudit(ctx context.Context, e model.AuditLogEntry) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO audit_log (id, server_id, actor_id, target_user_id, action_type, reason, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7)`,
		e.ID, e.ServerID, e.ActorID, e.TargetUserID, e.ActionType, e.Reason, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (s *Store) ListAuditLog(ctx context.Context, serverID string) ([]model.AuditLogEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, server_id, actor_id, COALESCE(target_user_id, ''), action_type, COALESCE(reason, ''), created_at
		 FROM audit_log WHERE server_id = $1
		 ORDER BY created_at DESC, id DESC`, serverID)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer rows.Close()

	var out []model.AuditLogEntry
	for rows.Next() {
		var e model.AuditLogEntry
		if err := rows.Scan(&e.ID, &e.ServerID, &e.ActorID, &e.TargetUserID, &e.ActionType, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
