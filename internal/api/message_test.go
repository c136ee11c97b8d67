package api

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/mango-chat/mango-server/internal/model"
)

func TestMessageLifecycle(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t)
	_, token := ta.register(t, "user1")
	srv := ta.createServer(t, token, "Alpha")
	ch := ta.createChannel(t, token, srv.ID, "general")

	var msg model.Message
	status := ta.do(t, http.MethodPost, "/v1/channels/"+ch.ID+"/messages", token,
		fiber.Map{"body": "hi"}, &msg)
	if status != http.StatusCreated {
		t.Fatalf("create status = %d", status)
	}
	if msg.Body != "hi" || msg.ConversationID != ch.ID || msg.UpdatedAt != "" {
		t.Errorf("created message = %+v", msg)
	}

	var updated model.Message
	status = ta.do(t, http.MethodPatch, "/v1/messages/"+msg.ID, token,
		fiber.Map{"body": "hello"}, &updated)
	if status != http.StatusOK {
		t.Fatalf("update status = %d", status)
	}
	if updated.Body != "hello" || updated.UpdatedAt == "" {
		t.Errorf("updated message = %+v", updated)
	}

	var deleted struct {
		ID        string `json:"id"`
		ChannelID string `json:"channelId"`
	}
	status = ta.do(t, http.MethodDelete, "/v1/messages/"+msg.ID, token, nil, &deleted)
	if status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}
	if deleted.ID != msg.ID || deleted.ChannelID != ch.ID {
		t.Errorf("delete body = %+v", deleted)
	}

	var listed []model.Message
	ta.do(t, http.MethodGet, "/v1/channels/"+ch.ID+"/messages", token, nil, &listed)
	if len(listed) != 0 {
		t.Errorf("messages after delete = %d, want 0", len(listed))
	}
}

func TestCreateMessage_Validation(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t)
	_, token := ta.register(t, "user1")
	srv := ta.createServer(t, token, "Alpha")
	ch := ta.createChannel(t, token, srv.ID, "general")
	path := "/v1/channels/" + ch.ID + "/messages"

	tests := []struct {
		name string
		body fiber.Map
		want int
	}{
		{"empty body", fiber.Map{"body": "   "}, http.StatusBadRequest},
		{"too long", fiber.Map{"body": strings.Repeat("x", 2001)}, http.StatusBadRequest},
		{"exactly max", fiber.Map{"body": strings.Repeat("x", 2000)}, http.StatusCreated},
		{"too many attachments", fiber.Map{"body": "ok", "attachments": make([]fiber.Map, 11)}, http.StatusBadRequest},
		{"oversize attachment", fiber.Map{"body": "ok", "attachments": []fiber.Map{{
			"fileName": "a.png", "contentType": "image/png", "sizeBytes": 26 * 1024 * 1024, "url": "https://cdn/a.png",
		}}}, http.StatusBadRequest},
		{"incomplete attachment", fiber.Map{"body": "ok", "attachments": []fiber.Map{{
			"fileName": "", "contentType": "image/png", "sizeBytes": 10, "url": "https://cdn/a.png",
		}}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := ta.do(t, http.MethodPost, path, token, tt.body, nil)
			if status != tt.want {
				t.Errorf("status = %d, want %d", status, tt.want)
			}
		})
	}
}

func TestCreateMessage_AttachmentUploaderForced(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t)
	user, token := ta.register(t, "user1")
	srv := ta.createServer(t, token, "Alpha")
	ch := ta.createChannel(t, token, srv.ID, "general")

	var msg model.Message
	status := ta.do(t, http.MethodPost, "/v1/channels/"+ch.ID+"/messages", token, fiber.Map{
		"body": "pic",
		"attachments": []fiber.Map{{
			"fileName": "a.png", "contentType": "image/png", "sizeBytes": 1024, "url": "https://cdn/a.png",
		}},
	}, &msg)
	if status != http.StatusCreated {
		t.Fatalf("status = %d", status)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].UploadedBy != user.ID {
		t.Errorf("attachments = %+v, want uploadedBy forced to caller", msg.Attachments)
	}
}

func TestEditMessage_AuthorOnly(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t)
	_, token1 := ta.register(t, "user1")
	_, token2 := ta.register(t, "user2")
	srv := ta.createServer(t, token1, "Alpha")
	ch := ta.createChannel(t, token1, srv.ID, "general")

	var msg model.Message
	ta.do(t, http.MethodPost, "/v1/channels/"+ch.ID+"/messages", token1, fiber.Map{"body": "hi"}, &msg)

	status := ta.do(t, http.MethodPatch, "/v1/messages/"+msg.ID, token2, fiber.Map{"body": "hack"}, nil)
	if status != http.StatusForbidden {
		t.Errorf("non-author edit status = %d, want 403", status)
	}
	status = ta.do(t, http.MethodDelete, "/v1/messages/"+msg.ID, token2, nil, nil)
	if status != http.StatusForbidden {
		t.Errorf("non-author delete status = %d, want 403", status)
	}
}

func TestOverwriteDeniesSend(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t)
	_, owner := ta.register(t, "owner")
	u2, token2 := ta.register(t, "user2")
	srv := ta.createServer(t, owner, "Alpha")
	ch := ta.createChannel(t, owner, srv.ID, "general")

	// Invite u2 in.
	var inv model.Invite
	ta.do(t, http.MethodPost, "/v1/servers/"+srv.ID+"/invites", owner, fiber.Map{}, &inv)
	if status := ta.do(t, http.MethodPost, "/v1/invites/"+inv.Code+"/join", token2, nil, nil); status != http.StatusOK {
		t.Fatalf("join status = %d", status)
	}

	// Create the Muted role, deny send on #general, assign to u2.
	var muted model.Role
	ta.do(t, http.MethodPost, "/v1/servers/"+srv.ID+"/roles", owner, fiber.Map{
		"name": "Muted", "permissions": []string{"read_messages", "send_messages"},
	}, &muted)
	ta.do(t, http.MethodPut, "/v1/channels/"+ch.ID+"/overwrites", owner, fiber.Map{
		"targetType": "role", "targetId": muted.ID, "deny": []string{"send_messages"},
	}, nil)
	ta.do(t, http.MethodPut, "/v1/servers/"+srv.ID+"/members/"+u2.ID+"/roles/"+muted.ID, owner, nil, nil)

	var errBody struct {
		Error string `json:"error"`
	}
	status := ta.do(t, http.MethodPost, "/v1/channels/"+ch.ID+"/messages", token2, fiber.Map{"body": "hi"}, &errBody)
	if status != http.StatusForbidden {
		t.Fatalf("muted send status = %d, want 403", status)
	}
	if errBody.Error != "Missing permission: send_messages" {
		t.Errorf("error body = %q", errBody.Error)
	}

	if status := ta.do(t, http.MethodGet, "/v1/channels/"+ch.ID+"/messages", token2, nil, nil); status != http.StatusOK {
		t.Errorf("muted read status = %d, want 200", status)
	}
}

func TestReactions_EndToEnd(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t)
	_, token1 := ta.register(t, "user1")
	srv := ta.createServer(t, token1, "Alpha")
	ch := ta.createChannel(t, token1, srv.ID, "general")

	var msg model.Message
	ta.do(t, http.MethodPost, "/v1/channels/"+ch.ID+"/messages", token1, fiber.Map{"body": "hi"}, &msg)
	reactionsPath := "/v1/messages/" + msg.ID + "/reactions"

	var summary []model.ReactionCount
	ta.do(t, http.MethodPost, reactionsPath, token1, fiber.Map{"emoji": "🔥"}, &summary)
	ta.do(t, http.MethodPost, reactionsPath, token1, fiber.Map{"emoji": "🔥"}, &summary)
	if len(summary) != 1 || summary[0].Count != 1 {
		t.Errorf("summary after duplicate add = %+v", summary)
	}

	status := ta.do(t, http.MethodDelete, reactionsPath+"/"+url.PathEscape("🔥"), token1, nil, &summary)
	if status != http.StatusOK {
		t.Fatalf("remove status = %d", status)
	}
	if len(summary) != 0 {
		t.Errorf("summary after remove = %+v, want empty", summary)
	}
}

func TestWebhookExecute(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t)
	_, token := ta.register(t, "user1")
	srv := ta.createServer(t, token, "Alpha")
	ch := ta.createChannel(t, token, srv.ID, "general")

	var created struct {
		model.Webhook
		Token string `json:"token"`
	}
	status := ta.do(t, http.MethodPost, "/v1/channels/"+ch.ID+"/webhooks", token, fiber.Map{"name": "ci"}, &created)
	if status != http.StatusCreated {
		t.Fatalf("create webhook status = %d", status)
	}
	if created.Token == "" {
		t.Fatal("webhook token missing")
	}

	var msg model.Message
	status = ta.do(t, http.MethodPost, "/v1/webhooks/"+created.ID+"/"+created.Token, "",
		fiber.Map{"body": "build passed"}, &msg)
	if status != http.StatusCreated {
		t.Fatalf("execute status = %d", status)
	}
	if msg.AuthorID != created.ID || msg.ChannelID != ch.ID {
		t.Errorf("webhook message = %+v", msg)
	}

	// A garbage token is rejected.
	status = ta.do(t, http.MethodPost, "/v1/webhooks/"+created.ID+"/not-a-token", "",
		fiber.Map{"body": "x"}, nil)
	if status != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", status)
	}
}
