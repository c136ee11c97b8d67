package api

import (
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/mango-chat/mango-server/internal/model"
)

func TestDirectThread_DMUniqueness(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t)
	u1, token1 := ta.register(t, "user1")
	u2, token2 := ta.register(t, "user2")

	var first model.DirectThread
	status := ta.do(t, http.MethodPost, "/v1/direct-threads", token1,
		fiber.Map{"participantIds": []string{u2.ID}}, &first)
	if status != http.StatusCreated {
		t.Fatalf("first create status = %d", status)
	}
	if first.Kind != model.ThreadDM || len(first.ParticipantIDs) != 2 {
		t.Errorf("thread = %+v", first)
	}

	// The reverse direction returns the same thread, not a new one.
	var second model.DirectThread
	status = ta.do(t, http.MethodPost, "/v1/direct-threads", token2,
		fiber.Map{"participantIds": []string{u1.ID}}, &second)
	if status != http.StatusOK {
		t.Fatalf("second create status = %d, want 200", status)
	}
	if second.ID != first.ID {
		t.Errorf("thread ids differ: %s vs %s", second.ID, first.ID)
	}
}

func TestDirectThread_GroupKind(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t)
	_, token1 := ta.register(t, "user1")
	u2, _ := ta.register(t, "user2")
	u3, _ := ta.register(t, "user3")

	var thread model.DirectThread
	status := ta.do(t, http.MethodPost, "/v1/direct-threads", token1,
		fiber.Map{"participantIds": []string{u2.ID, u3.ID}, "title": "trip"}, &thread)
	if status != http.StatusCreated {
		t.Fatalf("status = %d", status)
	}
	if thread.Kind != model.ThreadGroup || thread.Title != "trip" {
		t.Errorf("thread = %+v", thread)
	}
}

func TestDirectThread_UnknownParticipant(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t)
	_, token := ta.register(t, "user1")

	status := ta.do(t, http.MethodPost, "/v1/direct-threads", token,
		fiber.Map{"participantIds": []string{"usr_ghost"}}, nil)
	if status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", status)
	}
}

func TestDirectThread_MessagesAndVisibility(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t)
	_, token1 := ta.register(t, "user1")
	u2, _ := ta.register(t, "user2")
	_, token3 := ta.register(t, "user3")

	var thread model.DirectThread
	ta.do(t, http.MethodPost, "/v1/direct-threads", token1,
		fiber.Map{"participantIds": []string{u2.ID}}, &thread)

	var msg model.Message
	status := ta.do(t, http.MethodPost, "/v1/direct-threads/"+thread.ID+"/messages", token1,
		fiber.Map{"body": "psst"}, &msg)
	if status != http.StatusCreated {
		t.Fatalf("thread message status = %d", status)
	}
	if msg.ConversationID != thread.ID || msg.DirectThreadID != thread.ID {
		t.Errorf("conversation addressing = %+v", msg)
	}

	// A non-participant cannot see or post to the thread.
	status = ta.do(t, http.MethodPost, "/v1/direct-threads/"+thread.ID+"/messages", token3,
		fiber.Map{"body": "intrude"}, nil)
	if status != http.StatusNotFound {
		t.Errorf("outsider post status = %d, want 404", status)
	}
}

func TestDirectThread_ListBumpedByNewMessage(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t)
	_, token1 := ta.register(t, "user1")
	u2, _ := ta.register(t, "user2")
	u3, _ := ta.register(t, "user3")

	var first, second model.DirectThread
	ta.do(t, http.MethodPost, "/v1/direct-threads", token1, fiber.Map{"participantIds": []string{u2.ID}}, &first)
	ta.do(t, http.MethodPost, "/v1/direct-threads", token1, fiber.Map{"participantIds": []string{u3.ID}}, &second)

	// A message in the first thread bumps it to the end of the ascending
	// updatedAt order.
	ta.do(t, http.MethodPost, "/v1/direct-threads/"+first.ID+"/messages", token1, fiber.Map{"body": "bump"}, nil)

	var listed []model.DirectThread
	ta.do(t, http.MethodGet, "/v1/direct-threads", token1, nil, &listed)
	if len(listed) != 2 {
		t.Fatalf("threads = %d, want 2", len(listed))
	}
	if listed[1].ID != first.ID {
		t.Errorf("bumped thread not last: %s", listed[1].ID)
	}
}

func TestReadMarker_ChannelFlow(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t)
	_, token := ta.register(t, "user1")
	srv := ta.createServer(t, token, "Alpha")
	ch := ta.createChannel(t, token, srv.ID, "general")
	markerPath := "/v1/channels/" + ch.ID + "/read-marker"

	// Unset marker reads as the empty sentinel.
	var marker model.ReadMarker
	status := ta.do(t, http.MethodGet, markerPath, token, nil, &marker)
	if status != http.StatusOK {
		t.Fatalf("get status = %d", status)
	}
	if marker.LastReadMessageID != "" || marker.ConversationID != ch.ID {
		t.Errorf("empty marker = %+v", marker)
	}

	var msg model.Message
	ta.do(t, http.MethodPost, "/v1/channels/"+ch.ID+"/messages", token, fiber.Map{"body": "hi"}, &msg)

	// A marker pointing outside the conversation is rejected.
	status = ta.do(t, http.MethodPut, markerPath, token, fiber.Map{"lastReadMessageId": "msg_ghost"}, nil)
	if status != http.StatusBadRequest {
		t.Errorf("foreign marker status = %d, want 400", status)
	}

	status = ta.do(t, http.MethodPut, markerPath, token, fiber.Map{"lastReadMessageId": msg.ID}, &marker)
	if status != http.StatusOK {
		t.Fatalf("put status = %d", status)
	}
	if marker.LastReadMessageID != msg.ID {
		t.Errorf("marker = %+v", marker)
	}
}

func TestTyping_Endpoints(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t)
	_, token := ta.register(t, "user1")
	srv := ta.createServer(t, token, "Alpha")
	ch := ta.createChannel(t, token, srv.ID, "general")
	path := "/v1/channels/" + ch.ID + "/typing"

	if status := ta.do(t, http.MethodPost, path, token, fiber.Map{}, nil); status != http.StatusNoContent {
		t.Errorf("typing status = %d, want 204", status)
	}
	// A rapid repeat is deduplicated but still succeeds.
	if status := ta.do(t, http.MethodPost, path, token, fiber.Map{}, nil); status != http.StatusNoContent {
		t.Errorf("repeat typing status = %d, want 204", status)
	}
	// Explicit clear.
	if status := ta.do(t, http.MethodPost, path, token, fiber.Map{"isTyping": false}, nil); status != http.StatusNoContent {
		t.Errorf("clear typing status = %d, want 204", status)
	}
}

func TestInvite_MaxUsesAndBan(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t)
	_, owner := ta.register(t, "owner")
	u2, token2 := ta.register(t, "user2")
	_, token3 := ta.register(t, "user3")
	srv := ta.createServer(t, owner, "Alpha")

	var inv model.Invite
	ta.do(t, http.MethodPost, "/v1/servers/"+srv.ID+"/invites", owner, fiber.Map{"maxUses": 1}, &inv)

	if status := ta.do(t, http.MethodPost, "/v1/invites/"+inv.Code+"/join", token2, nil, nil); status != http.StatusOK {
		t.Fatalf("first join status = %d", status)
	}
	if status := ta.do(t, http.MethodPost, "/v1/invites/"+inv.Code+"/join", token3, nil, nil); status != http.StatusNotFound {
		t.Errorf("maxed join status = %d, want 404", status)
	}

	// Ban u2, mint a fresh invite: the ban blocks the join as a 404.
	ta.do(t, http.MethodPost, "/v1/servers/"+srv.ID+"/moderation", owner, fiber.Map{
		"actionType": "ban", "targetUserId": u2.ID,
	}, nil)
	var inv2 model.Invite
	ta.do(t, http.MethodPost, "/v1/servers/"+srv.ID+"/invites", owner, fiber.Map{}, &inv2)
	if status := ta.do(t, http.MethodPost, "/v1/invites/"+inv2.Code+"/join", token2, nil, nil); status != http.StatusNotFound {
		t.Errorf("banned join status = %d, want 404", status)
	}
}

func TestServer_OwnerOnlyDeleteAndLeave(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t)
	_, owner := ta.register(t, "owner")
	_, token2 := ta.register(t, "user2")
	srv := ta.createServer(t, owner, "Alpha")

	var inv model.Invite
	ta.do(t, http.MethodPost, "/v1/servers/"+srv.ID+"/invites", owner, fiber.Map{}, &inv)
	ta.do(t, http.MethodPost, "/v1/invites/"+inv.Code+"/join", token2, nil, nil)

	if status := ta.do(t, http.MethodDelete, "/v1/servers/"+srv.ID, token2, nil, nil); status != http.StatusForbidden {
		t.Errorf("non-owner delete status = %d, want 403", status)
	}
	if status := ta.do(t, http.MethodDelete, "/v1/servers/"+srv.ID+"/members/@me", owner, nil, nil); status != http.StatusForbidden {
		t.Errorf("owner leave status = %d, want 403", status)
	}
	if status := ta.do(t, http.MethodDelete, "/v1/servers/"+srv.ID+"/members/@me", token2, nil, nil); status != http.StatusNoContent {
		t.Errorf("member leave status = %d, want 204", status)
	}
	if status := ta.do(t, http.MethodDelete, "/v1/servers/"+srv.ID, owner, nil, nil); status != http.StatusOK {
		t.Errorf("owner delete status = %d, want 200", status)
	}
}

func TestAuth_RegisterLoginMe(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t)
	user, token := ta.register(t, "alice")

	var me model.User
	if status := ta.do(t, http.MethodGet, "/v1/me", token, nil, &me); status != http.StatusOK {
		t.Fatalf("me status = %d", status)
	}
	if me.ID != user.ID {
		t.Errorf("me = %+v, want %s", me, user.ID)
	}

	// Duplicate registration conflicts.
	status := ta.do(t, http.MethodPost, "/v1/auth/register", "", fiber.Map{
		"email": "alice@example.com", "username": "alice", "displayName": "Alice", "password": "hunter2hunter2",
	}, nil)
	if status != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", status)
	}

	// Login by username.
	var login struct {
		Token string `json:"token"`
	}
	status = ta.do(t, http.MethodPost, "/v1/auth/login", "", fiber.Map{
		"identifier": "alice", "password": "hunter2hunter2",
	}, &login)
	if status != http.StatusOK || login.Token == "" {
		t.Errorf("login status = %d token = %q", status, login.Token)
	}

	// No token at all.
	if status := ta.do(t, http.MethodGet, "/v1/me", "", nil, nil); status != http.StatusUnauthorized {
		t.Errorf("unauthenticated me status = %d, want 401", status)
	}
}

func TestUserSearch_ShortQueryEmpty(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t)
	_, token := ta.register(t, "alice")
	ta.register(t, "alicia")

	var out []model.User
	if status := ta.do(t, http.MethodGet, "/v1/users/search?q=a", token, nil, &out); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if len(out) != 0 {
		t.Errorf("short query results = %d, want 0", len(out))
	}

	ta.do(t, http.MethodGet, "/v1/users/search?q=alic", token, nil, &out)
	if len(out) != 1 {
		t.Errorf("results = %d, want 1 (caller excluded)", len(out))
	}
}
