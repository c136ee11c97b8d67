package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mango-chat/mango-server/internal/model"
)

const messageColumns = `m.id, m.channel_id, m.conversation_id, COALESCE(m.direct_thread_id, ''),
m.author_id, m.body, m.created_at, COALESCE(m.updated_at, '')`

func scanMessageRow(row pgx.Row) (*model.Message, error) {
	var m model.Message
	err := row.Scan(&m.ID, &m.ChannelID, &m.ConversationID, &m.DirectThreadID,
		&m.AuthorID, &m.Body, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) CreateMessage(ctx context.Context, m model.Message) (*model.Message, error) {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO messages (id, channel_id, conversation_id, direct_thread_id, author_id, body, created_at, updated_at)
			 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''))`,
			m.ID, m.ChannelID, m.ConversationID, m.DirectThreadID, m.AuthorID, m.Body, m.CreatedAt, m.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		for _, a := range m.Attachments {
			_, err := tx.Exec(ctx,
				`INSERT INTO message_attachments (id, message_id, file_name, content_type, size_bytes, url, uploaded_by, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				a.ID, m.ID, a.FileName, a.ContentType, a.SizeBytes, a.URL, a.UploadedBy, a.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert attachment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.Reactions = []model.ReactionCount{}
	return &m, nil
}

func (s *Store) GetMessage(ctx context.Context, messageID string) (*model.Message, error) {
	m, err := scanMessageRow(s.db.QueryRow(ctx,
		"SELECT "+messageColumns+" FROM messages m WHERE m.id = $1", messageID))
	if err != nil {
		return nil, fmt.Errorf("query message: %w", err)
	}
	if m == nil {
		return nil, nil
	}
	if err := s.hydrateMessages(ctx, []*model.Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) ListMessages(ctx context.Context, channelID string) ([]model.Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+messageColumns+` FROM messages m
		 WHERE m.channel_id = $1
		 ORDER BY m.created_at, m.id`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	refs := make([]*model.Message, len(out))
	for i := range out {
		refs[i] = &out[i]
	}
	if err := s.hydrateMessages(ctx, refs); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateMessage(ctx context.Context, messageID, body, updatedAt string) (*model.Message, error) {
	tag, err := s.db.Exec(ctx,
		"UPDATE messages SET body = $1, updated_at = $2 WHERE id = $3", body, updatedAt, messageID)
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	return s.GetMessage(ctx, messageID)
}

func (s *Store) DeleteMessage(ctx context.Context, messageID string) (*model.Message, error) {
	m, err := s.GetMessage(ctx, messageID)
	if err != nil || m == nil {
		return nil, err
	}
	if _, err := s.db.Exec(ctx, "DELETE FROM messages WHERE id = $1", messageID); err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}
	return m, nil
}

func (s *Store) SearchMessages(ctx context.Context, q, serverID string, limit int, canRead func(string) bool) ([]model.Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+messageColumns+` FROM messages m
		 JOIN channels c ON c.id = m.channel_id
		 JOIN servers s ON s.id = c.server_id
		 WHERE NOT s.hidden
		   AND ($1 = '' OR c.server_id = $1)
		   AND m.body ILIKE '%' || $2 || '%'
		 ORDER BY m.created_at DESC, m.id DESC`,
		serverID, escapeLike(q))
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	limitCap := clampSearchLimit(limit)
	out := make([]model.Message, 0)
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if canRead != nil && !canRead(m.ChannelID) {
			continue
		}
		out = append(out, *m)
		if len(out) >= limitCap {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	refs := make([]*model.Message, len(out))
	for i := range out {
		refs[i] = &out[i]
	}
	if err := s.hydrateMessages(ctx, refs); err != nil {
		return nil, err
	}
	return out, nil
}

// hydrateMessages batch-loads attachments and reaction summaries for the
// given messages.
func (s *Store) hydrateMessages(ctx context.Context, msgs []*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	byID := make(map[string]*model.Message, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		m.Attachments = []model.Attachment{}
		m.Reactions = []model.ReactionCount{}
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}

	rows, err := s.db.Query(ctx,
		`SELECT message_id, id, file_name, content_type, size_bytes, url, uploaded_by, created_at
		 FROM message_attachments WHERE message_id = ANY($1) ORDER BY created_at, id`, ids)
	if err != nil {
		return fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var msgID string
		var a model.Attachment
		if err := rows.Scan(&msgID, &a.ID, &a.FileName, &a.ContentType, &a.SizeBytes, &a.URL, &a.UploadedBy, &a.CreatedAt); err != nil {
			return fmt.Errorf("scan attachment: %w", err)
		}
		if m := byID[msgID]; m != nil {
			m.Attachments = append(m.Attachments, a)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	reactRows, err := s.db.Query(ctx,
		`SELECT message_id, emoji, COUNT(DISTINCT user_id)
		 FROM message_reactions WHERE message_id = ANY($1)
		 GROUP BY message_id, emoji
		 ORDER BY message_id, emoji`, ids)
	if err != nil {
		return fmt.Errorf("list reactions: %w", err)
	}
	defer reactRows.Close()
	for reactRows.Next() {
		var msgID string
		var rc model.ReactionCount
		if err := reactRows.Scan(&msgID, &rc.Emoji, &rc.Count); err != nil {
			return fmt.Errorf("scan reaction: %w", err)
		}
		if m := byID[msgID]; m != nil {
			m.Reactions = append(m.Reactions, rc)
		}
	}
	return reactRows.Err()
}

// --- Reactions ---

func (s *Store) AddReaction(ctx context.Context, messageID, userID, emoji string) ([]model.ReactionCount, bool, error) {
	var exists bool
	if err := s.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1)", messageID).Scan(&exists); err != nil {
		return nil, false, fmt.Errorf("check message: %w", err)
	}
	if !exists {
		return nil, false, nil
	}

	tag, err := s.db.Exec(ctx,
		`INSERT INTO message_reactions (message_id, user_id, emoji)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		messageID, userID, emoji)
	if err != nil {
		return nil, false, fmt.Errorf("insert reaction: %w", err)
	}
	summary, err := s.reactionSummary(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	return summary, tag.RowsAffected() > 0, nil
}

func (s *Store) RemoveReaction(ctx context.Context, messageID, userID, emoji string) ([]model.ReactionCount, bool, error) {
	var exists bool
	if err := s.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1)", messageID).Scan(&exists); err != nil {
		return nil, false, fmt.Errorf("check message: %w", err)
	}
	if !exists {
		return nil, false, nil
	}

	tag, err := s.db.Exec(ctx,
		"DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3",
		messageID, userID, emoji)
	if err != nil {
		return nil, false, fmt.Errorf("delete reaction: %w", err)
	}
	summary, err := s.reactionSummary(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	return summary, tag.RowsAffected() > 0, nil
}

func (s *Store) reactionSummary(ctx context.Context, messageID string) ([]model.ReactionCount, error) {
	rows, err := s.db.Query(ctx,
		`SELECT emoji, COUNT(DISTINCT user_id)
		 FROM message_reactions WHERE message_id = $1
		 GROUP BY emoji ORDER BY emoji`, messageID)
	if err != nil {
		return nil, fmt.Errorf("reaction summary: %w", err)
	}
	defer rows.Close()

	out := make([]model.ReactionCount, 0)
	for rows.Next() {
		var rc model.ReactionCount
		if err := rows.Scan(&rc.Emoji, &rc.Count); err != nil {
			return nil, fmt.Errorf("scan reaction count: %w", err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// --- Read markers ---

func (s *Store) GetReadMarker(ctx context.Context, conversationID, userID string) (*model.ReadMarker, error) {
	var m model.ReadMarker
	err := s.db.QueryRow(ctx,
		`SELECT conversation_id, user_id, COALESCE(last_read_message_id, ''), updated_at
		 FROM read_markers WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID,
	).Scan(&m.ConversationID, &m.UserID, &m.LastReadMessageID, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query read marker: %w", err)
	}
	return &m, nil
}

func (s *Store) PutReadMarker(ctx context.Context, m model.ReadMarker) (*model.ReadMarker, error) {
	_, err := s.db.Exec(ctx,
		`INSERT INTO read_markers (conversation_id, user_id, last_read_message_id, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4)
		 ON CONFLICT (conversation_id, user_id)
		 DO UPDATE SET last_read_message_id = EXCLUDED.last_read_message_id, updated_at = EXCLUDED.updated_at`,
		m.ConversationID, m.UserID, m.LastReadMessageID, m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert read marker: %w", err)
	}
	return &m, nil
}

func (s *Store) MessageInConversation(ctx context.Context, conversationID, messageID string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1 AND conversation_id = $2)",
		messageID, conversationID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check message conversation: %w", err)
	}
	return ok, nil
}
