// Package presence provides ephemeral presence and typing state backed by
// Redis. Presence keys expire after 120 seconds and are refreshed by client
// heartbeats, so a user with no recent heartbeat reads as offline. Typing
// indicators use SET NX with a short TTL to suppress duplicate dispatches
// from rapid keystrokes.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mango-chat/mango-server/internal/ident"
	"github.com/mango-chat/mango-server/internal/model"
)

const (
	// presenceTTL is the lifetime of a presence key. Heartbeats refresh this
	// TTL so keys expire only when the client stops sending heartbeats.
	presenceTTL = 120 * time.Second

	// typingTTL matches the 6-second client-side expiry of typing
	// indicators; SET NX suppresses duplicate events inside the window.
	typingTTL = 6 * time.Second
)

// stored is the JSON value kept under each presence key.
type stored struct {
	Status     string `json:"status"`
	LastSeenAt string `json:"lastSeenAt"`
}

// Store reads and writes ephemeral presence and typing state in Redis.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a presence store backed by the given Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// ValidStatus reports whether a client may set the given status. Offline is
// not settable; it is the implicit state of an expired key.
func ValidStatus(status string) bool {
	switch status {
	case model.StatusOnline, model.StatusIdle, model.StatusDND:
		return true
	default:
		return false
	}
}

// Set stores the user's presence with the standard TTL and returns the
// resulting presence state.
func (s *Store) Set(ctx context.Context, userID, status string) (*model.Presence, error) {
	now := ident.NowString()
	raw, err := json.Marshal(stored{Status: status, LastSeenAt: now})
	if err != nil {
		return nil, fmt.Errorf("marshal presence: %w", err)
	}
	if err := s.rdb.Set(ctx, presenceKey(userID), raw, presenceTTL).Err(); err != nil {
		return nil, fmt.Errorf("set presence for %s: %w", userID, err)
	}
	return &model.Presence{
		UserID:     userID,
		Status:     status,
		LastSeenAt: now,
		ExpiresAt:  ident.Timestamp(time.Now().Add(presenceTTL)),
	}, nil
}

// Get returns the user's presence. A missing key reads as offline.
func (s *Store) Get(ctx context.Context, userID string) (*model.Presence, error) {
	raw, err := s.rdb.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return &model.Presence{UserID: userID, Status: model.StatusOffline}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get presence for %s: %w", userID, err)
	}
	var st stored
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("decode presence for %s: %w", userID, err)
	}
	return &model.Presence{UserID: userID, Status: st.Status, LastSeenAt: st.LastSeenAt}, nil
}

// GetMany returns the presence of each user; users with no key read as
// offline.
func (s *Store) GetMany(ctx context.Context, userIDs []string) ([]model.Presence, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = presenceKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget presence: %w", err)
	}

	out := make([]model.Presence, 0, len(userIDs))
	for i, v := range vals {
		p := model.Presence{UserID: userIDs[i], Status: model.StatusOffline}
		if raw, ok := v.(string); ok {
			var st stored
			if err := json.Unmarshal([]byte(raw), &st); err == nil {
				p.Status = st.Status
				p.LastSeenAt = st.LastSeenAt
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// Refresh extends the TTL of an existing presence key without changing the
// stored status.
func (s *Store) Refresh(ctx context.Context, userID string) error {
	if err := s.rdb.Expire(ctx, presenceKey(userID), presenceTTL).Err(); err != nil {
		return fmt.Errorf("refresh presence for %s: %w", userID, err)
	}
	return nil
}

// Delete removes the user's presence key. After deletion the user reads as
// offline.
func (s *Store) Delete(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete presence for %s: %w", userID, err)
	}
	return nil
}

// MarkTyping records that the user started typing in the conversation.
// Returns true when the key was newly created, meaning a typing event should
// fan out; repeated calls inside the TTL window are suppressed.
func (s *Store) MarkTyping(ctx context.Context, conversationID, userID string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, typingKey(conversationID, userID), 1, typingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("mark typing for %s in %s: %w", userID, conversationID, err)
	}
	return ok, nil
}

// ClearTyping removes the typing key. Returns true when the key existed.
func (s *Store) ClearTyping(ctx context.Context, conversationID, userID string) (bool, error) {
	n, err := s.rdb.Del(ctx, typingKey(conversationID, userID)).Result()
	if err != nil {
		return false, fmt.Errorf("clear typing for %s in %s: %w", userID, conversationID, err)
	}
	return n > 0, nil
}

func presenceKey(userID string) string {
	return "presence:" + userID
}

func typingKey(conversationID, userID string) string {
	return "typing:" + conversationID + ":" + userID
}
