package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/store"
)

func (s *Store) CreateDirectThread(ctx context.Context, seed store.ThreadSeed) (*model.DirectThread, bool, error) {
	t := seed.Thread
	if len(t.ParticipantIDs) < 2 {
		return nil, false, store.ErrThreadParticipants
	}

	var result *model.DirectThread
	created := false
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var count int
		if err := tx.QueryRow(ctx,
			"SELECT COUNT(*) FROM users WHERE id = ANY($1)", t.ParticipantIDs).Scan(&count); err != nil {
			return fmt.Errorf("count participants: %w", err)
		}
		if count != len(t.ParticipantIDs) {
			return store.ErrThreadParticipants
		}

		if t.Kind == model.ThreadDM {
			a, b := orderedPair(t.ParticipantIDs[0], t.ParticipantIDs[1])
			var existingID string
			err := tx.QueryRow(ctx,
				"SELECT thread_id FROM dm_pairs WHERE user_a = $1 AND user_b = $2 FOR UPDATE", a, b,
			).Scan(&existingID)
			if err == nil {
				existing, lookErr := threadByIDTx(ctx, tx, existingID)
				if lookErr != nil {
					return lookErr
				}
				result = existing
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("lookup dm pair: %w", err)
			}
		}

		if err := createServerTx(ctx, tx, seed.Backing); err != nil {
			return err
		}
		for _, p := range t.ParticipantIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO server_members (server_id, user_id, joined_at)
				 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
				seed.Backing.Server.ID, p, t.CreatedAt); err != nil {
				return fmt.Errorf("insert backing member: %w", err)
			}
		}
		ch := seed.Channel
		if _, err := tx.Exec(ctx,
			"INSERT INTO channels (id, server_id, name, type, created_at) VALUES ($1, $2, $3, $4, $5)",
			ch.ID, ch.ServerID, ch.Name, ch.Type, ch.CreatedAt); err != nil {
			return fmt.Errorf("insert backing channel: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO direct_threads (id, channel_id, kind, owner_id, title, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			t.ID, t.ChannelID, t.Kind, t.OwnerID, t.Title, t.CreatedAt, t.UpdatedAt); err != nil {
			return fmt.Errorf("insert direct thread: %w", err)
		}
		for _, p := range t.ParticipantIDs {
			if _, err := tx.Exec(ctx,
				"INSERT INTO direct_thread_participants (thread_id, user_id) VALUES ($1, $2)",
				t.ID, p); err != nil {
				return fmt.Errorf("insert participant: %w", err)
			}
		}
		if t.Kind == model.ThreadDM {
			a, b := orderedPair(t.ParticipantIDs[0], t.ParticipantIDs[1])
			if _, err := tx.Exec(ctx,
				"INSERT INTO dm_pairs (user_a, user_b, thread_id) VALUES ($1, $2, $3)", a, b, t.ID); err != nil {
				return fmt.Errorf("insert dm pair: %w", err)
			}
		}
		cp := t
		result = &cp
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

func (s *Store) GetDirectThread(ctx context.Context, threadID string) (*model.DirectThread, error) {
	var t *model.DirectThread
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		t, err = threadByIDTx(ctx, tx, threadID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func threadByIDTx(ctx context.Context, tx pgx.Tx, threadID string) (*model.DirectThread, error) {
	var t model.DirectThread
	err := tx.QueryRow(ctx,
		`SELECT id, channel_id, kind, owner_id, title, created_at, updated_at
		 FROM direct_threads WHERE id = $1`, threadID,
	).Scan(&t.ID, &t.ChannelID, &t.Kind, &t.OwnerID, &t.Title, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query direct thread: %w", err)
	}

	rows, err := tx.Query(ctx,
		"SELECT user_id FROM direct_thread_participants WHERE thread_id = $1 ORDER BY user_id", threadID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		t.ParticipantIDs = append(t.ParticipantIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListDirectThreadsForUser(ctx context.Context, userID string) ([]model.DirectThread, error) {
	rows, err := s.db.Query(ctx,
		`SELECT t.id FROM direct_threads t
		 JOIN direct_thread_participants p ON p.thread_id = t.id
		 WHERE p.user_id = $1
		 ORDER BY t.updated_at, t.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list direct threads: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan thread id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.DirectThread, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetDirectThread(ctx, id)
		if err != nil {
			return nil, err
		}
		if t != nil {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *Store) TouchDirectThread(ctx context.Context, threadID, updatedAt string) error {
	_, err := s.db.Exec(ctx,
		"UPDATE direct_threads SET updated_at = $1 WHERE id = $2", updatedAt, threadID)
	if err != nil {
		return fmt.Errorf("touch direct thread: %w", err)
	}
	return nil
}

func (s *Store) LeaveDirectThread(ctx context.Context, threadID, userID, updatedAt string) (int, error) {
	remaining := 0
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		t, err := threadByIDTx(ctx, tx, threadID)
		if err != nil || t == nil {
			return err
		}

		tag, err := tx.Exec(ctx,
			"DELETE FROM direct_thread_participants WHERE thread_id = $1 AND user_id = $2", threadID, userID)
		if err != nil {
			return fmt.Errorf("delete participant: %w", err)
		}
		if tag.RowsAffected() == 0 {
			remaining = len(t.ParticipantIDs)
			return nil
		}

		if _, err := tx.Exec(ctx,
			"DELETE FROM read_markers WHERE conversation_id = $1 AND user_id = $2", threadID, userID); err != nil {
			return fmt.Errorf("delete read marker: %w", err)
		}

		var serverID string
		if err := tx.QueryRow(ctx,
			"SELECT server_id FROM channels WHERE id = $1", t.ChannelID).Scan(&serverID); err != nil {
			return fmt.Errorf("query backing server: %w", err)
		}
		if _, err := tx.Exec(ctx,
			"DELETE FROM server_members WHERE server_id = $1 AND user_id = $2", serverID, userID); err != nil {
			return fmt.Errorf("delete backing member: %w", err)
		}

		remaining = len(t.ParticipantIDs) - 1
		if remaining == 0 {
			// Dropping the backing server cascades the channel, thread,
			// messages, and the DM pair lookup.
			return deleteServerTx(ctx, tx, serverID)
		}

		if _, err := tx.Exec(ctx,
			"UPDATE direct_threads SET updated_at = $1 WHERE id = $2", updatedAt, threadID); err != nil {
			return fmt.Errorf("bump thread: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

func orderedPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}
