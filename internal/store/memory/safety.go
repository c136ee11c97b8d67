package memory

import (
	"context"
	"sort"

	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/store"
)

func (s *Store) CreateReport(_ context.Context, r model.Report) (*model.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := r
	s.reports[r.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) ListReports(_ context.Context, serverID string) ([]model.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Report
	for _, r := range s.reports {
		if r.ServerID == serverID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

// CreateAppeal rejects a second open appeal for the same (user, server).
func (s *Store) CreateAppeal(_ context.Context, a model.Appeal) (*model.Appeal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.appeals {
		if existing.UserID == a.UserID && existing.ServerID == a.ServerID && existing.Status == model.AppealOpen {
			return nil, store.ErrOpenAppeal
		}
	}
	a.Status = model.AppealOpen
	cp := a
	s.appeals[a.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) ListAppeals(_ context.Context, userID string) ([]model.Appeal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Appeal
	for _, a := range s.appeals {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}
