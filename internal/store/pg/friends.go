package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/postgres"
	"github.com/mango-chat/mango-server/internal/store"
)

func (s *Store) ListFriends(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		"SELECT friend_id FROM friendships WHERE user_id = $1 ORDER BY friend_id", userID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) AreFriends(ctx context.Context, a, b string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM friendships WHERE user_id = $1 AND friend_id = $2)", a, b,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check friendship: %w", err)
	}
	return ok, nil
}

func (s *Store) AddFriend(ctx context.Context, a, b string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO friendships (user_id, friend_id)
		 VALUES ($1, $2), ($2, $1)
		 ON CONFLICT DO NOTHING`, a, b)
	if err != nil {
		return fmt.Errorf("add friendship: %w", err)
	}
	return nil
}

func (s *Store) RemoveFriend(ctx context.Context, a, b string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM friendships
			 WHERE (user_id = $1 AND friend_id = $2) OR (user_id = $2 AND friend_id = $1)`, a, b); err != nil {
			return fmt.Errorf("delete friendship: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM friend_requests
			 WHERE status = 'pending'
			   AND ((from_user_id = $1 AND to_user_id = $2) OR (from_user_id = $2 AND to_user_id = $1))`, a, b); err != nil {
			return fmt.Errorf("delete pending requests: %w", err)
		}
		return nil
	})
}

func (s *Store) CreateFriendRequest(ctx context.Context, req model.FriendRequest) (*model.FriendRequest, error) {
	req.Status = model.RequestPending
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var friends bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM friendships WHERE user_id = $1 AND friend_id = $2)",
			req.FromUserID, req.ToUserID,
		).Scan(&friends); err != nil {
			return fmt.Errorf("check friendship: %w", err)
		}
		if friends {
			return store.ErrAlreadyFriends
		}

		var pending bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(
			     SELECT 1 FROM friend_requests
			     WHERE status = 'pending'
			       AND ((from_user_id = $1 AND to_user_id = $2) OR (from_user_id = $2 AND to_user_id = $1)))`,
			req.FromUserID, req.ToUserID,
		).Scan(&pending); err != nil {
			return fmt.Errorf("check pending request: %w", err)
		}
		if pending {
			return store.ErrRequestPending
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO friend_requests (id, from_user_id, to_user_id, status, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			req.ID, req.FromUserID, req.ToUserID, req.Status, req.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert friend request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *Store) ListFriendRequests(ctx context.Context, userID string) ([]model.FriendRequest, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, from_user_id, to_user_id, status, created_at
		 FROM friend_requests
		 WHERE status = 'pending' AND (to_user_id = $1 OR from_user_id = $1)
		 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list friend requests: %w", err)
	}
	defer rows.Close()

	var out []model.FriendRequest
	for rows.Next() {
		var req model.FriendRequest
		if err := rows.Scan(&req.ID, &req.FromUserID, &req.ToUserID, &req.Status, &req.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan friend request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *Store) GetFriendRequest(ctx context.Context, id string) (*model.FriendRequest, error) {
	var req model.FriendRequest
	err := s.db.QueryRow(ctx,
		"SELECT id, from_user_id, to_user_id, status, created_at FROM friend_requests WHERE id = $1", id,
	).Scan(&req.ID, &req.FromUserID, &req.ToUserID, &req.Status, &req.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query friend request: %w", err)
	}
	return &req, nil
}

func (s *Store) RespondFriendRequest(ctx context.Context, id, responderID string, accept bool) (*model.FriendRequest, error) {
	var out *model.FriendRequest
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var req model.FriendRequest
		err := tx.QueryRow(ctx,
			`SELECT id, from_user_id, to_user_id, status, created_at
			 FROM friend_requests WHERE id = $1 FOR UPDATE`, id,
		).Scan(&req.ID, &req.FromUserID, &req.ToUserID, &req.Status, &req.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock friend request: %w", err)
		}
		if req.ToUserID != responderID {
			return store.ErrNotRequestRecipient
		}
		if req.Status != model.RequestPending {
			return store.ErrRequestClosed
		}

		status := model.RequestRejected
		if accept {
			status = model.RequestAccepted
		}
		if _, err := tx.Exec(ctx,
			"UPDATE friend_requests SET status = $1 WHERE id = $2", status, id); err != nil {
			return fmt.Errorf("update friend request: %w", err)
		}
		if accept {
			if _, err := tx.Exec(ctx,
				`INSERT INTO friendships (user_id, friend_id)
				 VALUES ($1, $2), ($2, $1)
				 ON CONFLICT DO NOTHING`, req.FromUserID, req.ToUserID); err != nil {
				return fmt.Errorf("insert friendship: %w", err)
			}
		}
		req.Status = status
		out = &req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return postgres.WithTx(ctx, s.db, fn)
}
