package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/store"
)

func (s *Store) CreateChannel(_ context.Context, ch model.Channel) (*model.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := ch
	s.channels[ch.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) GetChannel(_ context.Context, channelID string) (*model.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return nil, nil
	}
	cp := *ch
	return &cp, nil
}

func (s *Store) ListChannels(_ context.Context, serverID string) ([]model.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Channel
	for _, ch := range s.channels {
		if ch.ServerID == serverID {
			out = append(out, *ch)
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

func (s *Store) RenameChannel(_ context.Context, channelID, name string) (*model.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return nil, nil
	}
	ch.Name = name
	cp := *ch
	return &cp, nil
}

// DeleteChannel cascades messages, overwrites, read markers, webhooks, and
// the direct-thread lookups pointing at this channel.
func (s *Store) DeleteChannel(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteChannelLocked(channelID)
	return nil
}

func (s *Store) deleteChannelLocked(channelID string) {
	for _, msgID := range s.byChannel[channelID] {
		delete(s.messages, msgID)
	}
	delete(s.byChannel, channelID)
	delete(s.overwrites, channelID)
	for key, m := range s.readMarkers {
		if m.ConversationID == channelID {
			delete(s.readMarkers, key)
		}
	}
	for id, w := range s.webhooks {
		if w.ChannelID == channelID {
			delete(s.webhooks, id)
		}
	}
	for id, t := range s.threads {
		if t.ChannelID == channelID {
			for key, m := range s.readMarkers {
				if m.ConversationID == id {
					delete(s.readMarkers, key)
				}
			}
			for key, threadID := range s.dmPairs {
				if threadID == id {
					delete(s.dmPairs, key)
				}
			}
			delete(s.threads, id)
		}
	}
	delete(s.channels, channelID)
}

// SearchChannels matches a case-insensitive substring on name, optionally
// scoped to one server, filters each candidate through canRead, and caps at
// min(limit, SearchMaxLimit).
func (s *Store) SearchChannels(_ context.Context, q, serverID string, limit int, canRead func(string) bool) ([]model.Channel, error) {
	s.mu.RLock()
	candidates := make([]model.Channel, 0)
	needle := strings.ToLower(q)
	for _, ch := range s.channels {
		if serverID != "" && ch.ServerID != serverID {
			continue
		}
		if srv := s.servers[ch.ServerID]; srv == nil || srv.Hidden {
			continue
		}
		if strings.Contains(strings.ToLower(ch.Name), needle) {
			candidates = append(candidates, *ch)
		}
	}
	s.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Name != candidates[j].Name {
			return candidates[i].Name < candidates[j].Name
		}
		return candidates[i].ID < candidates[j].ID
	})

	limitCap := clampSearchLimit(limit)
	out := make([]model.Channel, 0)
	for _, ch := range candidates {
		if len(out) >= limitCap {
			break
		}
		if canRead == nil || canRead(ch.ID) {
			out = append(out, ch)
		}
	}
	return out, nil
}

func clampSearchLimit(limit int) int {
	if limit <= 0 || limit > store.SearchMaxLimit {
		return store.SearchMaxLimit
	}
	return limit
}

// --- Overwrites ---

// UpsertOverwrite replaces the overwrite for (channel, targetType, targetId),
// preserving the original id and createdAt on update.
func (s *Store) UpsertOverwrite(_ context.Context, o model.Overwrite) (*model.Overwrite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTarget := s.overwrites[o.ChannelID]
	if byTarget == nil {
		byTarget = make(map[string]*model.Overwrite)
		s.overwrites[o.ChannelID] = byTarget
	}
	key := overwriteKey(o.TargetType, o.TargetID)
	if existing, ok := byTarget[key]; ok {
		o.ID = existing.ID
		o.CreatedAt = existing.CreatedAt
	}
	cp := o
	cp.Allow = append([]string(nil), o.Allow...)
	cp.Deny = append([]string(nil), o.Deny...)
	byTarget[key] = &cp
	out := cp
	return &out, nil
}

func (s *Store) ListOverwrites(_ context.Context, channelID string) ([]model.Overwrite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byTarget := s.overwrites[channelID]
	out := make([]model.Overwrite, 0, len(byTarget))
	for _, o := range byTarget {
		cp := *o
		cp.Allow = append([]string(nil), o.Allow...)
		cp.Deny = append([]string(nil), o.Deny...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteOverwrite(_ context.Context, channelID, targetType, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overwrites[channelID], overwriteKey(targetType, targetID))
	return nil
}

// --- Webhooks ---

func (s *Store) CreateWebhook(_ context.Context, w model.Webhook) (*model.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := w
	s.webhooks[w.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) GetWebhook(_ context.Context, id string) (*model.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.webhooks[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (s *Store) ListWebhooks(_ context.Context, channelID string) ([]model.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Webhook
	for _, w := range s.webhooks {
		if w.ChannelID == channelID {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *Store) DeleteWebhook(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.webhooks, id)
	return nil
}
