package memory

import (
	"context"
	"sort"

	"github.com/mango-chat/mango-server/internal/ident"
	"github.com/mango-chat/mango-server/internal/model"
)

func (s *Store) CreateInvite(_ context.Context, inv model.Invite) (*model.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := inv
	s.invites[inv.Code] = &cp
	out := cp
	return &out, nil
}

func (s *Store) GetInvite(_ context.Context, code string) (*model.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invites[code]
	if !ok {
		return nil, nil
	}
	cp := *inv
	return &cp, nil
}

func (s *Store) ListInvites(_ context.Context, serverID string) ([]model.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Invite
	for _, inv := range s.invites {
		if inv.ServerID == serverID {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *Store) DeleteInvite(_ context.Context, serverID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv, ok := s.invites[code]; ok && inv.ServerID == serverID {
		delete(s.invites, code)
	}
	return nil
}

// JoinServerByInvite atomically validates the invite, inserts the membership,
// and increments the use counter. Invalid, expired, or maxed invites return
// nil, as does a banned caller (no side effects in any of those cases).
// Joining a server the caller already belongs to is a no-op that returns the
// server without incrementing uses.
func (s *Store) JoinServerByInvite(_ context.Context, code, userID, joinedAt string) (*model.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invites[code]
	if !ok {
		return nil, nil
	}
	if inv.ExpiresAt != "" && inv.ExpiresAt <= ident.NowString() {
		return nil, nil
	}
	if inv.MaxUses > 0 && inv.Uses >= inv.MaxUses {
		return nil, nil
	}
	if _, banned := s.bans[inv.ServerID][userID]; banned {
		return nil, nil
	}
	srv, ok := s.servers[inv.ServerID]
	if !ok {
		return nil, nil
	}

	if _, already := s.members[inv.ServerID][userID]; already {
		cp := *srv
		return &cp, nil
	}

	s.addMemberLocked(inv.ServerID, userID, joinedAt)
	inv.Uses++
	cp := *srv
	return &cp, nil
}

// --- Push subscriptions ---

// UpsertPushSubscription is keyed by (userId, endpoint): re-subscribing the
// same endpoint keeps the id and createdAt but refreshes keys, user agent,
// and updatedAt.
func (s *Store) UpsertPushSubscription(_ context.Context, sub model.PushSubscription) (*model.PushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.push {
		if existing.UserID == sub.UserID && existing.Endpoint == sub.Endpoint {
			existing.P256DH = sub.P256DH
			existing.Auth = sub.Auth
			existing.UserAgent = sub.UserAgent
			existing.UpdatedAt = sub.UpdatedAt
			cp := *existing
			return &cp, nil
		}
	}

	cp := sub
	s.push[sub.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) ListPushSubscriptions(_ context.Context, userID string) ([]model.PushSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.PushSubscription
	for _, sub := range s.push {
		if sub.UserID == userID {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *Store) DeletePushSubscription(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.push[id]; ok && sub.UserID == userID {
		delete(s.push, id)
	}
	return nil
}
