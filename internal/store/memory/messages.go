package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/mango-chat/mango-server/internal/model"
)

func (s *Store) CreateMessage(_ context.Context, m model.Message) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &messageState{
		msg:       m,
		reactions: make(map[string]map[string]struct{}),
	}
	st.msg.Attachments = append([]model.Attachment(nil), m.Attachments...)
	s.messages[m.ID] = st
	s.byChannel[m.ChannelID] = append(s.byChannel[m.ChannelID], m.ID)
	return copyMessage(st), nil
}

func (s *Store) GetMessage(_ context.Context, messageID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMessage(s.messages[messageID]), nil
}

// ListMessages returns a channel's messages ascending by createdAt with the
// id as deterministic tie-break.
func (s *Store) ListMessages(_ context.Context, channelID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byChannel[channelID]
	out := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		if st := s.messages[id]; st != nil {
			out = append(out, *copyMessage(st))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateMessage(_ context.Context, messageID, body, updatedAt string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.messages[messageID]
	if !ok {
		return nil, nil
	}
	st.msg.Body = body
	st.msg.UpdatedAt = updatedAt
	return copyMessage(st), nil
}

// DeleteMessage removes the message and returns its final state (used by the
// handler to address the deletion event), or nil when already gone.
func (s *Store) DeleteMessage(_ context.Context, messageID string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.messages[messageID]
	if !ok {
		return nil, nil
	}
	out := copyMessage(st)
	delete(s.messages, messageID)

	ids := s.byChannel[st.msg.ChannelID]
	for i, id := range ids {
		if id == messageID {
			s.byChannel[st.msg.ChannelID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return out, nil
}

// SearchMessages scans newest-first across non-hidden servers (optionally one
// server), filters each hit through canRead, and caps at
// min(limit, SearchMaxLimit).
func (s *Store) SearchMessages(_ context.Context, q, serverID string, limit int, canRead func(string) bool) ([]model.Message, error) {
	s.mu.RLock()
	needle := strings.ToLower(q)
	candidates := make([]model.Message, 0)
	for _, st := range s.messages {
		ch := s.channels[st.msg.ChannelID]
		if ch == nil {
			continue
		}
		if serverID != "" && ch.ServerID != serverID {
			continue
		}
		if srv := s.servers[ch.ServerID]; srv == nil || srv.Hidden {
			continue
		}
		if strings.Contains(strings.ToLower(st.msg.Body), needle) {
			candidates = append(candidates, *copyMessage(st))
		}
	}
	s.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt != candidates[j].CreatedAt {
			return candidates[i].CreatedAt > candidates[j].CreatedAt
		}
		return candidates[i].ID > candidates[j].ID
	})

	limitCap := clampSearchLimit(limit)
	out := make([]model.Message, 0)
	for _, m := range candidates {
		if len(out) >= limitCap {
			break
		}
		if canRead == nil || canRead(m.ChannelID) {
			out = append(out, m)
		}
	}
	return out, nil
}

// --- Reactions ---

// AddReaction is a set-insert keyed by (message, user, emoji). The second
// return value is false for duplicate adds.
func (s *Store) AddReaction(_ context.Context, messageID, userID, emoji string) ([]model.ReactionCount, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.messages[messageID]
	if !ok {
		return nil, false, nil
	}
	users := st.reactions[emoji]
	if users == nil {
		users = make(map[string]struct{})
		st.reactions[emoji] = users
	}
	if _, dup := users[userID]; dup {
		return summarize(st.reactions), false, nil
	}
	users[userID] = struct{}{}
	return summarize(st.reactions), true, nil
}

// RemoveReaction is the set-delete inverse; removing a reaction that does not
// exist is a no-op returning the unchanged summary.
func (s *Store) RemoveReaction(_ context.Context, messageID, userID, emoji string) ([]model.ReactionCount, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.messages[messageID]
	if !ok {
		return nil, false, nil
	}
	users := st.reactions[emoji]
	if _, present := users[userID]; !present {
		return summarize(st.reactions), false, nil
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(st.reactions, emoji)
	}
	return summarize(st.reactions), true, nil
}

// --- Read markers ---

func (s *Store) GetReadMarker(_ context.Context, conversationID, userID string) (*model.ReadMarker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.readMarkers[markerKey(conversationID, userID)]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *Store) PutReadMarker(_ context.Context, m model.ReadMarker) (*model.ReadMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := m
	s.readMarkers[markerKey(m.ConversationID, m.UserID)] = &cp
	out := cp
	return &out, nil
}

// MessageInConversation reports whether the message belongs to the given
// conversation (thread id for DMs, channel id otherwise).
func (s *Store) MessageInConversation(_ context.Context, conversationID, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.messages[messageID]
	if !ok {
		return false, nil
	}
	return st.msg.ConversationID == conversationID, nil
}
