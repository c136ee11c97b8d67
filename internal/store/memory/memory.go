// Package memory implements the store contract with plain maps under a single
// RWMutex. It is the reference implementation: the relational store must match
// its observable behaviour, and the contract tests exercise both with the same
// scripts.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/store"
)

// memberState holds the per-membership data that is not part of the public
// Member shape.
type memberState struct {
	joinedAt string
	roleIDs  map[string]struct{}
}

// messageState wraps a message with its reaction sets, keyed emoji → users.
type messageState struct {
	msg       model.Message
	reactions map[string]map[string]struct{}
}

// Store is the in-memory implementation. All operations run under one lock;
// composite mutations are therefore trivially atomic.
type Store struct {
	mu sync.RWMutex

	users           map[string]*model.User
	usersByEmail    map[string]string
	usersByUsername map[string]string // lowercased username → id

	sessions map[string]*model.Session

	friends        map[string]map[string]struct{}
	friendRequests map[string]*model.FriendRequest

	servers  map[string]*model.Server
	members  map[string]map[string]*memberState
	roles    map[string]*model.Role
	invites  map[string]*model.Invite
	bans     map[string]map[string]struct{}
	timeouts map[string]map[string]string // serverID → userID → expiresAt
	audit    map[string][]model.AuditLogEntry

	channels   map[string]*model.Channel
	overwrites map[string]map[string]*model.Overwrite // channelID → targetKey

	messages    map[string]*messageState
	byChannel   map[string][]string // channelID → message ids, insertion order
	readMarkers map[string]*model.ReadMarker

	threads map[string]*model.DirectThread
	dmPairs map[string]string // unordered pair key → thread id

	push     map[string]*model.PushSubscription
	reports  map[string]*model.Report
	appeals  map[string]*model.Appeal
	webhooks map[string]*model.Webhook
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		users:           make(map[string]*model.User),
		usersByEmail:    make(map[string]string),
		usersByUsername: make(map[string]string),
		sessions:        make(map[string]*model.Session),
		friends:         make(map[string]map[string]struct{}),
		friendRequests:  make(map[string]*model.FriendRequest),
		servers:         make(map[string]*model.Server),
		members:         make(map[string]map[string]*memberState),
		roles:           make(map[string]*model.Role),
		invites:         make(map[string]*model.Invite),
		bans:            make(map[string]map[string]struct{}),
		timeouts:        make(map[string]map[string]string),
		audit:           make(map[string][]model.AuditLogEntry),
		channels:        make(map[string]*model.Channel),
		overwrites:      make(map[string]map[string]*model.Overwrite),
		messages:        make(map[string]*messageState),
		byChannel:       make(map[string][]string),
		readMarkers:     make(map[string]*model.ReadMarker),
		threads:         make(map[string]*model.DirectThread),
		dmPairs:         make(map[string]string),
		push:            make(map[string]*model.PushSubscription),
		reports:         make(map[string]*model.Report),
		appeals:         make(map[string]*model.Appeal),
		webhooks:        make(map[string]*model.Webhook),
	}
}

var _ store.Store = (*Store)(nil)

// Ping always succeeds; the maps are process-local.
func (s *Store) Ping(context.Context) error { return nil }

// --- Users ---

func (s *Store) CreateUser(_ context.Context, u model.User) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(u.Email)
	uname := strings.ToLower(u.Username)
	if _, taken := s.usersByEmail[email]; taken {
		return nil, store.ErrDuplicateEmail
	}
	if _, taken := s.usersByUsername[uname]; taken {
		return nil, store.ErrDuplicateUsername
	}

	u.Email = email
	cp := u
	s.users[u.ID] = &cp
	s.usersByEmail[email] = u.ID
	s.usersByUsername[uname] = u.ID
	out := cp
	return &out, nil
}

func (s *Store) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyUser(s.users[id]), nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyUser(s.users[s.usersByEmail[strings.ToLower(email)]]), nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyUser(s.users[s.usersByUsername[strings.ToLower(username)]]), nil
}

// SearchUsers matches a case-insensitive substring on username or display
// name, excludes the caller, and caps the result at UserSearchLimit. Results
// are ordered by username for determinism.
func (s *Store) SearchUsers(_ context.Context, q, excludeUserID string) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(q)
	var out []model.User
	for _, u := range s.users {
		if u.ID == excludeUserID {
			continue
		}
		if strings.Contains(strings.ToLower(u.Username), needle) ||
			strings.Contains(strings.ToLower(u.DisplayName), needle) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if len(out) > store.UserSearchLimit {
		out = out[:store.UserSearchLimit]
	}
	return out, nil
}

// DeleteUser cascades sessions, push subscriptions, friendships, pending
// requests, and thread participant entries. Authored messages keep their
// authorId so history survives.
func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil
	}
	delete(s.usersByEmail, strings.ToLower(u.Email))
	delete(s.usersByUsername, strings.ToLower(u.Username))
	delete(s.users, id)

	for token, sess := range s.sessions {
		if sess.UserID == id {
			delete(s.sessions, token)
		}
	}
	for pid, sub := range s.push {
		if sub.UserID == id {
			delete(s.push, pid)
		}
	}
	for other := range s.friends[id] {
		delete(s.friends[other], id)
	}
	delete(s.friends, id)
	for rid, req := range s.friendRequests {
		if req.FromUserID == id || req.ToUserID == id {
			delete(s.friendRequests, rid)
		}
	}
	for _, t := range s.threads {
		s.dropThreadParticipantLocked(t, id)
	}
	for _, byUser := range s.members {
		delete(byUser, id)
	}
	return nil
}

// --- Sessions ---

func (s *Store) CreateSession(_ context.Context, sess model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := sess
	s.sessions[sess.Token] = &cp
	return nil
}

func (s *Store) GetSession(_ context.Context, token string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) DeleteSession(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

// --- copy helpers ---

func copyUser(u *model.User) *model.User {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}

func copyThread(t *model.DirectThread) *model.DirectThread {
	if t == nil {
		return nil
	}
	cp := *t
	cp.ParticipantIDs = append([]string(nil), t.ParticipantIDs...)
	return &cp
}

func copyMessage(st *messageState) *model.Message {
	if st == nil {
		return nil
	}
	cp := st.msg
	cp.Attachments = append([]model.Attachment(nil), st.msg.Attachments...)
	cp.Reactions = summarize(st.reactions)
	return &cp
}

// summarize collapses reaction sets into the wire summary: distinct emoji
// ordered ascending, zero-count emoji omitted.
func summarize(reactions map[string]map[string]struct{}) []model.ReactionCount {
	out := make([]model.ReactionCount, 0, len(reactions))
	for emoji, users := range reactions {
		if len(users) == 0 {
			continue
		}
		out = append(out, model.ReactionCount{Emoji: emoji, Count: len(users)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Emoji < out[j].Emoji })
	return out
}

// pairKey builds the unordered-pair index key for DM deduplication.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func markerKey(conversationID, userID string) string {
	return conversationID + "|" + userID
}

func overwriteKey(targetType, targetID string) string {
	return targetType + ":" + targetID
}
