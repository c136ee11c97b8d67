package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mango-chat/mango-server/internal/model"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb), mr
}

func TestSetAndGet(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	state, err := s.Set(ctx, "usr_1", model.StatusDND)
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if state.Status != model.StatusDND || state.LastSeenAt == "" || state.ExpiresAt == "" {
		t.Errorf("state = %+v", state)
	}

	got, err := s.Get(ctx, "usr_1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != model.StatusDND {
		t.Errorf("status = %q, want dnd", got.Status)
	}
}

func TestGet_MissingIsOffline(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	got, err := s.Get(context.Background(), "usr_ghost")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != model.StatusOffline {
		t.Errorf("status = %q, want offline", got.Status)
	}
}

func TestExpiry_ReadsOffline(t *testing.T) {
	t.Parallel()
	s, mr := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Set(ctx, "usr_1", model.StatusOnline); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(121 * time.Second)

	got, err := s.Get(ctx, "usr_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusOffline {
		t.Errorf("status after expiry = %q, want offline", got.Status)
	}
}

func TestRefresh_ExtendsTTL(t *testing.T) {
	t.Parallel()
	s, mr := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Set(ctx, "usr_1", model.StatusIdle); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(100 * time.Second)
	if err := s.Refresh(ctx, "usr_1"); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(100 * time.Second)

	got, _ := s.Get(ctx, "usr_1")
	if got.Status != model.StatusIdle {
		t.Errorf("status after refresh = %q, want idle", got.Status)
	}
}

func TestGetMany_MixedStates(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Set(ctx, "usr_on", model.StatusOnline); err != nil {
		t.Fatal(err)
	}
	out, err := s.GetMany(ctx, []string{"usr_on", "usr_off"})
	if err != nil {
		t.Fatalf("GetMany() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0].Status != model.StatusOnline || out[1].Status != model.StatusOffline {
		t.Errorf("states = %+v", out)
	}
}

func TestMarkTyping_Dedup(t *testing.T) {
	t.Parallel()
	s, mr := newTestStore(t)
	ctx := context.Background()

	fresh, err := s.MarkTyping(ctx, "chn_1", "usr_1")
	if err != nil || !fresh {
		t.Fatalf("first mark = %v, %v; want true", fresh, err)
	}
	fresh, _ = s.MarkTyping(ctx, "chn_1", "usr_1")
	if fresh {
		t.Error("duplicate mark inside the window reported fresh")
	}

	mr.FastForward(7 * time.Second)
	fresh, _ = s.MarkTyping(ctx, "chn_1", "usr_1")
	if !fresh {
		t.Error("mark after expiry not fresh")
	}
}

func TestClearTyping(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	if existed, _ := s.ClearTyping(ctx, "chn_1", "usr_1"); existed {
		t.Error("clear of missing key reported existed")
	}
	if _, err := s.MarkTyping(ctx, "chn_1", "usr_1"); err != nil {
		t.Fatal(err)
	}
	if existed, _ := s.ClearTyping(ctx, "chn_1", "usr_1"); !existed {
		t.Error("clear of live key reported missing")
	}
}

func TestValidStatus(t *testing.T) {
	t.Parallel()
	for _, status := range []string{model.StatusOnline, model.StatusIdle, model.StatusDND} {
		if !ValidStatus(status) {
			t.Errorf("ValidStatus(%q) = false", status)
		}
	}
	for _, status := range []string{model.StatusOffline, "invisible", ""} {
		if ValidStatus(status) {
			t.Errorf("ValidStatus(%q) = true", status)
		}
	}
}
