package voice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mango-chat/mango-server/internal/model"
)

func TestForward_StampsIdentityHeaders(t *testing.T) {
	t.Parallel()

	var seen http.Header
	var seenPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		seenPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(model.VoiceSession{
			ID: "vs_1", TargetKind: "channel", TargetID: "chn_1",
			Participants: []string{"usr_1"}, UpdatedAt: "2025-06-01T00:00:00.000000000Z",
		})
	}))
	defer upstream.Close()

	c := NewClient(upstream.URL, upstream.Client())
	session, status, err := c.Forward(context.Background(), Request{
		Action:      "join",
		UserID:      "usr_1",
		TargetKind:  TargetChannel,
		TargetID:    "chn_1",
		ServerID:    "srv_1",
		ScreenShare: false,
		Body:        []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if status != http.StatusOK || session.ID != "vs_1" {
		t.Errorf("status = %d session = %+v", status, session)
	}
	if seenPath != "/voice/join" {
		t.Errorf("path = %q, want /voice/join", seenPath)
	}
	if seen.Get(HeaderUserID) != "usr_1" || seen.Get(HeaderTargetKind) != "channel" ||
		seen.Get(HeaderTargetID) != "chn_1" || seen.Get(HeaderServerID) != "srv_1" {
		t.Errorf("identity headers = %v", seen)
	}
	if seen.Get(HeaderScreenShare) != "" {
		t.Error("screen-share header set without the flag")
	}
}

func TestForward_ScreenShareFlag(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderScreenShare) != "1" {
			t.Error("screen-share header missing")
		}
		_ = json.NewEncoder(w).Encode(model.VoiceSession{ID: "vs_1"})
	}))
	defer upstream.Close()

	c := NewClient(upstream.URL, upstream.Client())
	if _, _, err := c.Forward(context.Background(), Request{Action: "screen-share", ScreenShare: true}); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
}

func TestForward_Unconfigured(t *testing.T) {
	t.Parallel()
	c := NewClient("", nil)
	_, _, err := c.Forward(context.Background(), Request{Action: "join"})
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestForward_UpstreamDown(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	upstream.Close() // immediately unreachable

	c := NewClient(upstream.URL, &http.Client{Timeout: time.Second})
	_, _, err := c.Forward(context.Background(), Request{Action: "join"})
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestForward_UpstreamErrorStatus(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "full", http.StatusConflict)
	}))
	defer upstream.Close()

	c := NewClient(upstream.URL, upstream.Client())
	_, status, err := c.Forward(context.Background(), Request{Action: "join"})
	if err == nil || status != http.StatusConflict {
		t.Errorf("status = %d err = %v, want 409 with error", status, err)
	}
}
