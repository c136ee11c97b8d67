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

func scanInvite(row pgx.Row) (*model.Invite, error) {
	var inv model.Invite
	err := row.Scan(&inv.Code, &inv.ServerID, &inv.CreatedBy, &inv.CreatedAt, &inv.ExpiresAt, &inv.MaxUses, &inv.Uses)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

const inviteColumns = "code, server_id, created_by, created_at, COALESCE(expires_at, ''), max_uses, uses"

func (s *Store) CreateInvite(ctx context.Context, inv model.Invite) (*model.Invite, error) {
	_, err := s.db.Exec(ctx,
		`INSERT INTO server_invites (code, server_id, created_by, created_at, expires_at, max_uses, uses)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)`,
		inv.Code, inv.ServerID, inv.CreatedBy, inv.CreatedAt, inv.ExpiresAt, inv.MaxUses, inv.Uses)
	if err != nil {
		return nil, fmt.Errorf("insert invite: %w", err)
	}
	return &inv, nil
}

func (s *Store) GetInvite(ctx context.Context, code string) (*model.Invite, error) {
	return scanInvite(s.db.QueryRow(ctx,
		"SELECT "+inviteColumns+" FROM server_invites WHERE code = $1", code))
}

func (s *Store) ListInvites(ctx context.Context, serverID string) ([]model.Invite, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+inviteColumns+" FROM server_invites WHERE server_id = $1 ORDER BY created_at", serverID)
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	defer rows.Close()

	var out []model.Invite
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func (s *Store) DeleteInvite(ctx context.Context, serverID, code string) error {
	_, err := s.db.Exec(ctx,
		"DELETE FROM server_invites WHERE code = $1 AND server_id = $2", code, serverID)
	if err != nil {
		return fmt.Errorf("delete invite: %w", err)
	}
	return nil
}

// JoinServerByInvite locks the invite row, validates it, inserts the
// membership, and increments uses in one transaction, so the uses counter is
// exact even under concurrent joins.
func (s *Store) JoinServerByInvite(ctx context.Context, code, userID, joinedAt string) (*model.Server, error) {
	var srv *model.Server
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		inv, err := scanInvite(tx.QueryRow(ctx,
			"SELECT "+inviteColumns+" FROM server_invites WHERE code = $1 FOR UPDATE", code))
		if err != nil {
			return fmt.Errorf("lock invite: %w", err)
		}
		if inv == nil {
			return nil
		}
		if inv.ExpiresAt != "" && inv.ExpiresAt <= ident.NowString() {
			return nil
		}
		if inv.MaxUses > 0 && inv.Uses >= inv.MaxUses {
			return nil
		}

		var banned bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM server_bans WHERE server_id = $1 AND user_id = $2)",
			inv.ServerID, userID).Scan(&banned); err != nil {
			return fmt.Errorf("check ban: %w", err)
		}
		if banned {
			return nil
		}

		found, err := scanServer(tx.QueryRow(ctx,
			"SELECT id, name, owner_id, hidden, created_at FROM servers WHERE id = $1", inv.ServerID))
		if err != nil {
			return fmt.Errorf("query server: %w", err)
		}
		if found == nil {
			return nil
		}

		tag, err := tx.Exec(ctx,
			`INSERT INTO server_members (server_id, user_id, joined_at)
			 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			inv.ServerID, userID, joinedAt)
		if err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}
		if tag.RowsAffected() > 0 {
			if _, err := tx.Exec(ctx,
				"UPDATE server_invites SET uses = uses + 1 WHERE code = $1", code); err != nil {
				return fmt.Errorf("increment invite uses: %w", err)
			}
		}
		srv = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return srv, nil
}

// --- Push subscriptions ---

const pushColumns = "id, user_id, endpoint, p256dh, auth, COALESCE(user_agent, ''), created_at, updated_at"

func scanPush(row pgx.Row) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := row.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256DH, &sub.Auth, &sub.UserAgent, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) UpsertPushSubscription(ctx context.Context, sub model.PushSubscription) (*model.PushSubscription, error) {
	out, err := scanPush(s.db.QueryRow(ctx,
		`INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh, auth, user_agent, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
		 ON CONFLICT (user_id, endpoint)
		 DO UPDATE SET p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth,
		               user_agent = EXCLUDED.user_agent, updated_at = EXCLUDED.updated_at
		 RETURNING `+pushColumns,
		sub.ID, sub.UserID, sub.Endpoint, sub.P256DH, sub.Auth, sub.UserAgent, sub.CreatedAt, sub.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("upsert push subscription: %w", err)
	}
	return out, nil
}

func (s *Store) ListPushSubscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+pushColumns+" FROM push_subscriptions WHERE user_id = $1 ORDER BY created_at, id", userID)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()

	var out []model.PushSubscription
	for rows.Next() {
		sub, err := scanPush(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

func (s *Store) DeletePushSubscription(ctx context.Context, userID, id string) error {
	_, err := s.db.Exec(ctx,
		"DELETE FROM push_subscriptions WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

// --- Safety ---

func (s *Store) CreateReport(ctx context.Context, r model.Report) (*model.Report, error) {
	_, err := s.db.Exec(ctx,
		`INSERT INTO reports (id, reporter_id, server_id, target_user_id, target_message_id, reason, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7)`,
		r.ID, r.ReporterID, r.ServerID, r.TargetUserID, r.TargetMessage, r.Reason, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert report: %w", err)
	}
	return &r, nil
}

func (s *Store) ListReports(ctx context.Context, serverID string) ([]model.Report, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, reporter_id, COALESCE(server_id, ''), COALESCE(target_user_id, ''),
		        COALESCE(target_message_id, ''), reason, created_at
		 FROM reports WHERE server_id = $1
		 ORDER BY created_at DESC, id DESC`, serverID)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []model.Report
	for rows.Next() {
		var r model.Report
		if err := rows.Scan(&r.ID, &r.ReporterID, &r.ServerID, &r.TargetUserID, &r.TargetMessage, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CreateAppeal(ctx context.Context, a model.Appeal) (*model.Appeal, error) {
	a.Status = model.AppealOpen
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var open bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM appeals WHERE user_id = $1 AND server_id = $2 AND status = 'open')`,
			a.UserID, a.ServerID).Scan(&open); err != nil {
			return fmt.Errorf("check open appeal: %w", err)
		}
		if open {
			return store.ErrOpenAppeal
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO appeals (id, user_id, server_id, body, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			a.ID, a.UserID, a.ServerID, a.Body, a.Status, a.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert appeal: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListAppeals(ctx context.Context, userID string) ([]model.Appeal, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, server_id, body, status, created_at
		 FROM appeals WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list appeals: %w", err)
	}
	defer rows.Close()

	var out []model.Appeal
	for rows.Next() {
		var a model.Appeal
		if err := rows.Scan(&a.ID, &a.UserID, &a.ServerID, &a.Body, &a.Status, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan appeal: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
