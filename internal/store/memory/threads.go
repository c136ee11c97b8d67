package memory

import (
	"context"
	"sort"

	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/store"
)

// CreateDirectThread inserts the thread together with its hidden backing
// server and channel. For a DM whose unordered pair already has a thread, the
// existing thread is returned instead and the seed discarded; the second
// return value reports whether a new thread was created.
func (s *Store) CreateDirectThread(_ context.Context, seed store.ThreadSeed) (*model.DirectThread, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := seed.Thread
	for _, p := range t.ParticipantIDs {
		if _, ok := s.users[p]; !ok {
			return nil, false, store.ErrThreadParticipants
		}
	}
	if len(t.ParticipantIDs) < 2 {
		return nil, false, store.ErrThreadParticipants
	}

	if t.Kind == model.ThreadDM {
		key := pairKey(t.ParticipantIDs[0], t.ParticipantIDs[1])
		if existingID, ok := s.dmPairs[key]; ok {
			return copyThread(s.threads[existingID]), false, nil
		}
	}

	s.createServerLocked(seed.Backing)
	for _, p := range t.ParticipantIDs {
		s.addMemberLocked(seed.Backing.Server.ID, p, t.CreatedAt)
	}
	ch := seed.Channel
	s.channels[ch.ID] = &ch

	cp := t
	cp.ParticipantIDs = append([]string(nil), t.ParticipantIDs...)
	s.threads[t.ID] = &cp
	if t.Kind == model.ThreadDM {
		s.dmPairs[pairKey(t.ParticipantIDs[0], t.ParticipantIDs[1])] = t.ID
	}
	return copyThread(&cp), true, nil
}

func (s *Store) GetDirectThread(_ context.Context, threadID string) (*model.DirectThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyThread(s.threads[threadID]), nil
}

// ListDirectThreadsForUser returns the user's threads ascending by updatedAt
// (a newer message bumps updatedAt).
func (s *Store) ListDirectThreadsForUser(_ context.Context, userID string) ([]model.DirectThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.DirectThread
	for _, t := range s.threads {
		for _, p := range t.ParticipantIDs {
			if p == userID {
				out = append(out, *copyThread(t))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt < out[j].UpdatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) TouchDirectThread(_ context.Context, threadID, updatedAt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[threadID]; ok {
		t.UpdatedAt = updatedAt
	}
	return nil
}

// LeaveDirectThread removes the caller from the participant set and the
// backing member set, drops their read marker, and bumps updatedAt. When the
// thread empties, the backing server is deleted, garbage-collecting the
// channel, messages, markers, and the DM pair lookup.
func (s *Store) LeaveDirectThread(_ context.Context, threadID, userID, updatedAt string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return 0, nil
	}

	s.dropThreadParticipantLocked(t, userID)
	if _, stillThere := s.threads[threadID]; !stillThere {
		return 0, nil
	}
	t.UpdatedAt = updatedAt
	return len(t.ParticipantIDs), nil
}

// dropThreadParticipantLocked removes one participant from a thread and its
// backing server, deleting the whole thread when nobody remains. Deleting the
// backing server cascades to the channel last, so deletion events emitted
// mid-cascade still resolve their channelId.
func (s *Store) dropThreadParticipantLocked(t *model.DirectThread, userID string) {
	idx := -1
	for i, p := range t.ParticipantIDs {
		if p == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	t.ParticipantIDs = append(t.ParticipantIDs[:idx], t.ParticipantIDs[idx+1:]...)
	delete(s.readMarkers, markerKey(t.ID, userID))

	if ch := s.channels[t.ChannelID]; ch != nil {
		delete(s.members[ch.ServerID], userID)
	}

	if len(t.ParticipantIDs) == 0 {
		for key, threadID := range s.dmPairs {
			if threadID == t.ID {
				delete(s.dmPairs, key)
			}
		}
		if ch := s.channels[t.ChannelID]; ch != nil {
			delete(s.threads, t.ID)
			s.deleteServerLocked(ch.ServerID)
		} else {
			delete(s.threads, t.ID)
		}
	}
}
