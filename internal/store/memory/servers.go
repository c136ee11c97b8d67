package memory

import (
	"context"
	"sort"

	"github.com/mango-chat/mango-server/internal/ident"
	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/store"
)

// CreateServer inserts the server, its two seed roles, and the owner
// membership (with the Owner role assigned) as one atomic step.
func (s *Store) CreateServer(_ context.Context, seed store.CreateServerSeed) (*model.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createServerLocked(seed), nil
}

func (s *Store) createServerLocked(seed store.CreateServerSeed) *model.Server {
	srv := seed.Server
	s.servers[srv.ID] = &srv

	def := seed.DefaultRole
	owner := seed.OwnerRole
	s.roles[def.ID] = &def
	s.roles[owner.ID] = &owner

	s.members[srv.ID] = map[string]*memberState{
		srv.OwnerID: {
			joinedAt: srv.CreatedAt,
			roleIDs:  map[string]struct{}{owner.ID: {}},
		},
	}

	cp := srv
	return &cp
}

func (s *Store) GetServer(_ context.Context, serverID string) (*model.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srv, ok := s.servers[serverID]
	if !ok {
		return nil, nil
	}
	cp := *srv
	return &cp, nil
}

// ListServersForUser returns the visible (non-hidden) servers the user is a
// member of, ordered by createdAt.
func (s *Store) ListServersForUser(_ context.Context, userID string) ([]model.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Server
	for id, byUser := range s.members {
		if _, ok := byUser[userID]; !ok {
			continue
		}
		srv := s.servers[id]
		if srv == nil || srv.Hidden {
			continue
		}
		out = append(out, *srv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

// DeleteServer cascades through every descendant: channels (with their
// messages, overwrites, and read markers), roles, members, invites, bans,
// timeouts, audit entries, and direct-thread lookups backed by its channels.
func (s *Store) DeleteServer(_ context.Context, serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteServerLocked(serverID)
	return nil
}

func (s *Store) deleteServerLocked(serverID string) {
	if _, ok := s.servers[serverID]; !ok {
		return
	}
	for id, ch := range s.channels {
		if ch.ServerID == serverID {
			s.deleteChannelLocked(id)
		}
	}
	for id, r := range s.roles {
		if r.ServerID == serverID {
			delete(s.roles, id)
		}
	}
	for code, inv := range s.invites {
		if inv.ServerID == serverID {
			delete(s.invites, code)
		}
	}
	delete(s.members, serverID)
	delete(s.bans, serverID)
	delete(s.timeouts, serverID)
	delete(s.audit, serverID)
	delete(s.servers, serverID)
}

// AddServerMember is idempotent; re-adding an existing member keeps the
// original joinedAt. Banned users are rejected with a typed error.
func (s *Store) AddServerMember(_ context.Context, serverID, userID, joinedAt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, banned := s.bans[serverID][userID]; banned {
		return store.ErrBanned
	}
	s.addMemberLocked(serverID, userID, joinedAt)
	return nil
}

func (s *Store) addMemberLocked(serverID, userID, joinedAt string) {
	byUser := s.members[serverID]
	if byUser == nil {
		byUser = make(map[string]*memberState)
		s.members[serverID] = byUser
	}
	if _, ok := byUser[userID]; ok {
		return
	}
	byUser[userID] = &memberState{joinedAt: joinedAt, roleIDs: make(map[string]struct{})}
}

// RemoveServerMember drops the membership, its role assignments, and any
// active timeout. The owner cannot leave; they must delete the server.
func (s *Store) RemoveServerMember(_ context.Context, serverID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if srv, ok := s.servers[serverID]; ok && srv.OwnerID == userID {
		return store.ErrOwnerCannotLeave
	}
	delete(s.members[serverID], userID)
	delete(s.timeouts[serverID], userID)
	return nil
}

func (s *Store) ListServerMembers(_ context.Context, serverID string) ([]model.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byUser := s.members[serverID]
	out := make([]model.Member, 0, len(byUser))
	for userID, st := range byUser {
		roleIDs := make([]string, 0, len(st.roleIDs))
		for id := range st.roleIDs {
			roleIDs = append(roleIDs, id)
		}
		sort.Strings(roleIDs)
		out = append(out, model.Member{
			ServerID: serverID,
			UserID:   userID,
			JoinedAt: st.joinedAt,
			RoleIDs:  roleIDs,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt != out[j].JoinedAt {
			return out[i].JoinedAt < out[j].JoinedAt
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *Store) IsServerMember(_ context.Context, serverID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[serverID][userID]
	return ok, nil
}

func (s *Store) MemberRoleIDs(_ context.Context, serverID, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.members[serverID][userID]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(st.roleIDs))
	for id := range st.roleIDs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// AssignRole is idempotent.
func (s *Store) AssignRole(_ context.Context, serverID, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.members[serverID][userID]
	if !ok {
		return nil
	}
	st.roleIDs[roleID] = struct{}{}
	return nil
}

func (s *Store) UnassignRole(_ context.Context, serverID, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.members[serverID][userID]
	if !ok {
		return nil
	}
	delete(st.roleIDs, roleID)
	return nil
}

// --- Roles ---

func (s *Store) CreateRole(_ context.Context, r model.Role) (*model.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := r
	s.roles[r.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) GetRole(_ context.Context, roleID string) (*model.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[roleID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *Store) ListRoles(_ context.Context, serverID string) ([]model.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Role
	for _, r := range s.roles {
		if r.ServerID == serverID {
			out = append(out, *r)
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

// DeleteRole also removes the role from every member holding it. The default
// role is immutable and silently survives deletion attempts.
func (s *Store) DeleteRole(_ context.Context, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[roleID]
	if !ok || r.IsDefault {
		return nil
	}
	for _, st := range s.members[r.ServerID] {
		delete(st.roleIDs, roleID)
	}
	delete(s.roles, roleID)
	return nil
}

// --- Moderation ---

// ApplyModeration applies the action's side effects and appends an audit
// entry, all under one lock acquisition.
func (s *Store) ApplyModeration(_ context.Context, action model.ModerationAction) (*model.ModerationAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch action.ActionType {
	case model.ActionKick:
		delete(s.members[action.ServerID], action.TargetUserID)
		delete(s.timeouts[action.ServerID], action.TargetUserID)
	case model.ActionBan:
		if s.bans[action.ServerID] == nil {
			s.bans[action.ServerID] = make(map[string]struct{})
		}
		s.bans[action.ServerID][action.TargetUserID] = struct{}{}
		delete(s.members[action.ServerID], action.TargetUserID)
		delete(s.timeouts[action.ServerID], action.TargetUserID)
	case model.ActionTimeout:
		if action.ExpiresAt == "" {
			return nil, store.ErrTimeoutRequiresExpiry
		}
		if s.timeouts[action.ServerID] == nil {
			s.timeouts[action.ServerID] = make(map[string]string)
		}
		s.timeouts[action.ServerID][action.TargetUserID] = action.ExpiresAt
	case model.ActionUnban:
		delete(s.bans[action.ServerID], action.TargetUserID)
	}

	s.audit[action.ServerID] = append(s.audit[action.ServerID], model.AuditLogEntry{
		ID:           ident.New(ident.PrefixAudit),
		ServerID:     action.ServerID,
		ActorID:      action.ActorID,
		TargetUserID: action.TargetUserID,
		ActionType:   action.ActionType,
		Reason:       action.Reason,
		CreatedAt:    action.CreatedAt,
	})

	cp := action
	return &cp, nil
}

func (s *Store) IsBanned(_ context.Context, serverID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bans[serverID][userID]
	return ok, nil
}

// HasActiveTimeout expires timeouts lazily: observing an expiry at or before
// now clears the entry.
func (s *Store) HasActiveTimeout(_ context.Context, serverID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt, ok := s.timeouts[serverID][userID]
	if !ok {
		return false, nil
	}
	if expiresAt <= ident.NowString() {
		delete(s.timeouts[serverID], userID)
		return false, nil
	}
	return true, nil
}

func (s *Store) ListBans(_ context.Context, serverID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.bans[serverID]))
	for id := range s.bans[serverID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) AppendAudit(_ context.Context, e model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit[e.ServerID] = append(s.audit[e.ServerID], e)
	return nil
}

// ListAuditLog returns entries newest-first.
func (s *Store) ListAuditLog(_ context.Context, serverID string) ([]model.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.audit[serverID]
	out := make([]model.AuditLogEntry, len(entries))
	for i := range entries {
		out[len(entries)-1-i] = entries[i]
	}
	return out, nil
}
