// Package pg implements the store contract on PostgreSQL. Composite
// mutations run inside transactions so the invariants the in-memory store
// gets from its single lock hold here through the database.
package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/postgres"
	"github.com/mango-chat/mango-server/internal/store"
)

// Store is the PostgreSQL-backed implementation.
type Store struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// New creates a PostgreSQL-backed store over the given pool.
func New(db *pgxpool.Pool, logger zerolog.Logger) *Store {
	return &Store{db: db, log: logger.With().Str("component", "store").Logger()}
}

var _ store.Store = (*Store)(nil)

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

// --- Users ---

const userColumns = "id, email, username, display_name, password_hash, created_at"

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.DisplayName, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u model.User) (*model.User, error) {
	u.Email = strings.ToLower(u.Email)
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (id, email, username, display_name, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Email, u.Username, u.DisplayName, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		switch postgres.UniqueConstraint(err) {
		case "users_email_key":
			return nil, store.ErrDuplicateEmail
		case "users_username_lower_key":
			return nil, store.ErrDuplicateUsername
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	return scanUser(s.db.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(s.db.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = $1", strings.ToLower(email)))
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return scanUser(s.db.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE LOWER(username) = LOWER($1)", username))
}

func (s *Store) SearchUsers(ctx context.Context, q, excludeUserID string) ([]model.User, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE id <> $1 AND (username ILIKE '%' || $2 || '%' OR display_name ILIKE '%' || $2 || '%')
		 ORDER BY username
		 LIMIT $3`,
		excludeUserID, escapeLike(q), store.UserSearchLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// DeleteUser relies on the schema's ON DELETE CASCADE for sessions, push
// subscriptions, friendships, requests, and participant rows. Messages keep
// their author_id (no foreign key) so history survives.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// --- Sessions ---

func (s *Store) CreateSession(ctx context.Context, sess model.Session) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO sessions (token, user_id, created_at) VALUES ($1, $2, $3)",
		sess.Token, sess.UserID, sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, token string) (*model.Session, error) {
	var sess model.Session
	err := s.db.QueryRow(ctx,
		"SELECT token, user_id, created_at FROM sessions WHERE token = $1", token,
	).Scan(&sess.Token, &sess.UserID, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return &sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.Exec(ctx, "DELETE FROM sessions WHERE token = $1", token)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// escapeLike neutralises LIKE metacharacters in user-supplied search input.
func escapeLike(q string) string {
	q = strings.ReplaceAll(q, `\`, `\\`)
	q = strings.ReplaceAll(q, "%", `\%`)
	return strings.ReplaceAll(q, "_", `\_`)
}
