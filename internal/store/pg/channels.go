package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/store"
)

func scanChannel(row pgx.Row) (*model.Channel, error) {
	var ch model.Channel
	err := row.Scan(&ch.ID, &ch.ServerID, &ch.Name, &ch.Type, &ch.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (s *Store) CreateChannel(ctx context.Context, ch model.Channel) (*model.Channel, error) {
	_, err := s.db.Exec(ctx,
		"INSERT INTO channels (id, server_id, name, type, created_at) VALUES ($1, $2, $3, $4, $5)",
		ch.ID, ch.ServerID, ch.Name, ch.Type, ch.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert channel: %w", err)
	}
	return &ch, nil
}

func (s *Store) GetChannel(ctx context.Context, channelID string) (*model.Channel, error) {
	return scanChannel(s.db.QueryRow(ctx,
		"SELECT id, server_id, name, type, created_at FROM channels WHERE id = $1", channelID))
}

func (s *Store) ListChannels(ctx context.Context, serverID string) ([]model.Channel, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, server_id, name, type, created_at
		 FROM channels WHERE server_id = $1 ORDER BY created_at, id`, serverID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []model.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

func (s *Store) RenameChannel(ctx context.Context, channelID, name string) (*model.Channel, error) {
	return scanChannel(s.db.QueryRow(ctx,
		`UPDATE channels SET name = $1 WHERE id = $2
		 RETURNING id, server_id, name, type, created_at`, name, channelID))
}

// DeleteChannel sweeps the read markers of the channel and of any thread it
// backs, then deletes the row; the schema cascades messages, overwrites,
// webhooks, threads, participants, and DM pair lookups.
func (s *Store) DeleteChannel(ctx context.Context, channelID string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM read_markers
			 WHERE conversation_id = $1
			    OR conversation_id IN (SELECT id FROM direct_threads WHERE channel_id = $1)`, channelID); err != nil {
			return fmt.Errorf("sweep read markers: %w", err)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM channels WHERE id = $1", channelID); err != nil {
			return fmt.Errorf("delete channel: %w", err)
		}
		return nil
	})
}

func (s *Store) SearchChannels(ctx context.Context, q, serverID string, limit int, canRead func(string) bool) ([]model.Channel, error) {
	rows, err := s.db.Query(ctx,
		`SELECT c.id, c.server_id, c.name, c.type, c.created_at
		 FROM channels c JOIN servers s ON s.id = c.server_id
		 WHERE NOT s.hidden
		   AND ($1 = '' OR c.server_id = $1)
		   AND c.name ILIKE '%' || $2 || '%'
		 ORDER BY c.name, c.id`,
		serverID, escapeLike(q))
	if err != nil {
		return nil, fmt.Errorf("search channels: %w", err)
	}
	defer rows.Close()

	limitCap := clampSearchLimit(limit)
	out := make([]model.Channel, 0)
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		if canRead != nil && !canRead(ch.ID) {
			continue
		}
		out = append(out, *ch)
		if len(out) >= limitCap {
			break
		}
	}
	return out, rows.Err()
}

func clampSearchLimit(limit int) int {
	if limit <= 0 || limit > store.SearchMaxLimit {
		return store.SearchMaxLimit
	}
	return limit
}

// --- Overwrites ---

func (s *Store) UpsertOverwrite(ctx context.Context, o model.Overwrite) (*model.Overwrite, error) {
	row := s.db.QueryRow(ctx,
		`INSERT INTO channel_overwrites (id, channel_id, target_type, target_id, allow, deny, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (channel_id, target_type, target_id)
		 DO UPDATE SET allow = EXCLUDED.allow, deny = EXCLUDED.deny
		 RETURNING id, channel_id, target_type, target_id, allow, deny, created_at`,
		o.ID, o.ChannelID, o.TargetType, o.TargetID, o.Allow, o.Deny, o.CreatedAt)

	var out model.Overwrite
	if err := row.Scan(&out.ID, &out.ChannelID, &out.TargetType, &out.TargetID, &out.Allow, &out.Deny, &out.CreatedAt); err != nil {
		return nil, fmt.Errorf("upsert overwrite: %w", err)
	}
	return &out, nil
}

func (s *Store) ListOverwrites(ctx context.Context, channelID string) ([]model.Overwrite, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, channel_id, target_type, target_id, allow, deny, created_at
		 FROM channel_overwrites WHERE channel_id = $1 ORDER BY id`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list overwrites: %w", err)
	}
	defer rows.Close()

	var out []model.Overwrite
	for rows.Next() {
		var o model.Overwrite
		if err := rows.Scan(&o.ID, &o.ChannelID, &o.TargetType, &o.TargetID, &o.Allow, &o.Deny, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan overwrite: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) DeleteOverwrite(ctx context.Context, channelID, targetType, targetID string) error {
	_, err := s.db.Exec(ctx,
		"DELETE FROM channel_overwrites WHERE channel_id = $1 AND target_type = $2 AND target_id = $3",
		channelID, targetType, targetID)
	if err != nil {
		return fmt.Errorf("delete overwrite: %w", err)
	}
	return nil
}

// --- Webhooks ---

func (s *Store) CreateWebhook(ctx context.Context, w model.Webhook) (*model.Webhook, error) {
	_, err := s.db.Exec(ctx,
		"INSERT INTO webhooks (id, channel_id, name, created_by, created_at) VALUES ($1, $2, $3, $4, $5)",
		w.ID, w.ChannelID, w.Name, w.CreatedBy, w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert webhook: %w", err)
	}
	return &w, nil
}

func (s *Store) GetWebhook(ctx context.Context, id string) (*model.Webhook, error) {
	var w model.Webhook
	err := s.db.QueryRow(ctx,
		"SELECT id, channel_id, name, created_by, created_at FROM webhooks WHERE id = $1", id,
	).Scan(&w.ID, &w.ChannelID, &w.Name, &w.CreatedBy, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query webhook: %w", err)
	}
	return &w, nil
}

func (s *Store) ListWebhooks(ctx context.Context, channelID string) ([]model.Webhook, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, channel_id, name, created_by, created_at
		 FROM webhooks WHERE channel_id = $1 ORDER BY created_at, id`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var out []model.Webhook
	for rows.Next() {
		var w model.Webhook
		if err := rows.Scan(&w.ID, &w.ChannelID, &w.Name, &w.CreatedBy, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) DeleteWebhook(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, "DELETE FROM webhooks WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}
