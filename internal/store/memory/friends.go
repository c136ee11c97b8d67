package memory

import (
	"context"
	"sort"

	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/store"
)

func (s *Store) ListFriends(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.friends[userID]))
	for id := range s.friends[userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) AreFriends(_ context.Context, a, b string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.friends[a][b]
	return ok, nil
}

// AddFriend inserts the symmetric friendship. Re-applying is a no-op.
func (s *Store) AddFriend(_ context.Context, a, b string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addFriendLocked(a, b)
	return nil
}

func (s *Store) addFriendLocked(a, b string) {
	if s.friends[a] == nil {
		s.friends[a] = make(map[string]struct{})
	}
	if s.friends[b] == nil {
		s.friends[b] = make(map[string]struct{})
	}
	s.friends[a][b] = struct{}{}
	s.friends[b][a] = struct{}{}
}

// RemoveFriend deletes the friendship in both directions and any pending
// request between the pair.
func (s *Store) RemoveFriend(_ context.Context, a, b string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.friends[a], b)
	delete(s.friends[b], a)
	for id, req := range s.friendRequests {
		if req.Status != model.RequestPending {
			continue
		}
		if (req.FromUserID == a && req.ToUserID == b) || (req.FromUserID == b && req.ToUserID == a) {
			delete(s.friendRequests, id)
		}
	}
	return nil
}

func (s *Store) CreateFriendRequest(_ context.Context, req model.FriendRequest) (*model.FriendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.friends[req.FromUserID][req.ToUserID]; ok {
		return nil, store.ErrAlreadyFriends
	}
	for _, existing := range s.friendRequests {
		if existing.Status != model.RequestPending {
			continue
		}
		samePair := (existing.FromUserID == req.FromUserID && existing.ToUserID == req.ToUserID) ||
			(existing.FromUserID == req.ToUserID && existing.ToUserID == req.FromUserID)
		if samePair {
			return nil, store.ErrRequestPending
		}
	}

	req.Status = model.RequestPending
	cp := req
	s.friendRequests[req.ID] = &cp
	out := cp
	return &out, nil
}

// ListFriendRequests returns pending requests addressed to or sent by the
// user, oldest first.
func (s *Store) ListFriendRequests(_ context.Context, userID string) ([]model.FriendRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.FriendRequest
	for _, req := range s.friendRequests {
		if req.Status == model.RequestPending && (req.ToUserID == userID || req.FromUserID == userID) {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *Store) GetFriendRequest(_ context.Context, id string) (*model.FriendRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.friendRequests[id]
	if !ok {
		return nil, nil
	}
	cp := *req
	return &cp, nil
}

// RespondFriendRequest transitions a pending request. Only the recipient may
// respond; accepting also inserts the symmetric friendship. Once the request
// leaves pending no further transitions are possible.
func (s *Store) RespondFriendRequest(_ context.Context, id, responderID string, accept bool) (*model.FriendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.friendRequests[id]
	if !ok {
		return nil, nil
	}
	if req.ToUserID != responderID {
		return nil, store.ErrNotRequestRecipient
	}
	if req.Status != model.RequestPending {
		return nil, store.ErrRequestClosed
	}

	if accept {
		req.Status = model.RequestAccepted
		s.addFriendLocked(req.FromUserID, req.ToUserID)
	} else {
		req.Status = model.RequestRejected
	}
	cp := *req
	return &cp, nil
}
