package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mango-chat/mango-server/internal/auth"
	"github.com/mango-chat/mango-server/internal/gateway"
	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/permission"
	"github.com/mango-chat/mango-server/internal/presence"
	"github.com/mango-chat/mango-server/internal/store/memory"
)

const testTokenSecret = "0123456789abcdef0123456789abcdef"

var testTimeout = fiber.TestConfig{Timeout: 30 * time.Second}

// testApp wires the full route surface over the in-memory store, a hub with
// no sockets, and a miniredis-backed presence store.
type testApp struct {
	app   *fiber.App
	store *memory.Store
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := memory.New()
	resolver := permission.NewResolver(st, zerolog.Nop())
	hasher := auth.NewHasher(8*1024, 1, 1, 16, 32)
	authService := auth.NewService(st, hasher, testTokenSecret, zerolog.Nop())
	presenceStore := presence.NewStore(rdb)
	hub := gateway.NewHub(resolver, 100, zerolog.Nop())

	app := fiber.New()
	requireAuth := auth.RequireAuth(authService)

	authHandler := NewAuthHandler(authService, zerolog.Nop())
	app.Post("/v1/auth/register", authHandler.Register)
	app.Post("/v1/auth/login", authHandler.Login)
	app.Get("/v1/me", requireAuth, authHandler.Me)

	userHandler := NewUserHandler(st, zerolog.Nop())
	app.Get("/v1/users/search", requireAuth, userHandler.Search)
	app.Get("/v1/users/:id", requireAuth, userHandler.Get)

	friendHandler := NewFriendHandler(st, zerolog.Nop())
	app.Get("/v1/friends", requireAuth, friendHandler.List)
	app.Post("/v1/friends/requests", requireAuth, friendHandler.CreateRequest)
	app.Post("/v1/friends/requests/:id", requireAuth, friendHandler.RespondRequest)

	serverHandler := NewServerHandler(st, resolver, zerolog.Nop())
	app.Post("/v1/servers", requireAuth, serverHandler.Create)
	app.Get("/v1/servers", requireAuth, serverHandler.List)
	app.Delete("/v1/servers/:id", requireAuth, serverHandler.Delete)
	app.Delete("/v1/servers/:id/members/@me", requireAuth, serverHandler.Leave)
	app.Post("/v1/servers/:id/roles", requireAuth, serverHandler.CreateRole)
	app.Put("/v1/servers/:id/members/:userId/roles/:roleId", requireAuth, serverHandler.AssignRole)
	app.Post("/v1/servers/:id/invites", requireAuth, serverHandler.CreateInvite)
	app.Post("/v1/servers/:id/moderation", requireAuth, serverHandler.Moderate)
	app.Post("/v1/invites/:code/join", requireAuth, serverHandler.Join)

	channelHandler := NewChannelHandler(st, resolver, zerolog.Nop())
	app.Post("/v1/servers/:id/channels", requireAuth, channelHandler.Create)
	app.Put("/v1/channels/:id/overwrites", requireAuth, channelHandler.PutOverwrite)

	conversationHandler := NewConversationHandler(st, resolver, hub, presenceStore, zerolog.Nop())
	app.Post("/v1/channels/:id/typing", requireAuth, conversationHandler.Typing)
	app.Get("/v1/channels/:id/read-marker", requireAuth, conversationHandler.GetReadMarker)
	app.Put("/v1/channels/:id/read-marker", requireAuth, conversationHandler.PutReadMarker)

	messageHandler := NewMessageHandler(st, resolver, hub, nil, zerolog.Nop())
	app.Post("/v1/channels/:id/messages", requireAuth, messageHandler.Create)
	app.Get("/v1/channels/:id/messages", requireAuth, messageHandler.List)
	app.Patch("/v1/messages/:id", requireAuth, messageHandler.Update)
	app.Delete("/v1/messages/:id", requireAuth, messageHandler.Delete)
	app.Post("/v1/messages/:id/reactions", requireAuth, messageHandler.AddReaction)
	app.Delete("/v1/messages/:id/reactions/:emoji", requireAuth, messageHandler.RemoveReaction)

	threadHandler := NewThreadHandler(st, hub, presenceStore, messageHandler, zerolog.Nop())
	app.Post("/v1/direct-threads", requireAuth, threadHandler.Create)
	app.Get("/v1/direct-threads", requireAuth, threadHandler.List)
	app.Post("/v1/direct-threads/:id/messages", requireAuth, threadHandler.CreateMessage)
	app.Post("/v1/direct-threads/:id/typing", requireAuth, threadHandler.Typing)

	webhookHandler := NewWebhookHandler(st, resolver, messageHandler, testTokenSecret, zerolog.Nop())
	app.Post("/v1/channels/:id/webhooks", requireAuth, webhookHandler.Create)
	app.Post("/v1/webhooks/:id/:token", webhookHandler.Execute)

	return &testApp{app: app, store: st}
}

// do sends a JSON request with an optional bearer token and decodes the JSON
// response into out (when non-nil).
func (ta *testApp) do(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ta.app.Test(req, testTimeout)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("read response: %v", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				t.Fatalf("decode response %q: %v", raw, err)
			}
		}
	}
	return resp.StatusCode
}

// register creates an account and returns (user, token).
func (ta *testApp) register(t *testing.T, username string) (model.User, string) {
	t.Helper()
	var resp struct {
		Token string     `json:"token"`
		User  model.User `json:"user"`
	}
	status := ta.do(t, http.MethodPost, "/v1/auth/register", "", fiber.Map{
		"email":       username + "@example.com",
		"username":    username,
		"displayName": "User " + username,
		"password":    "hunter2hunter2",
	}, &resp)
	if status != http.StatusCreated {
		t.Fatalf("register %s status = %d", username, status)
	}
	return resp.User, resp.Token
}

func (ta *testApp) createServer(t *testing.T, token, name string) model.Server {
	t.Helper()
	var srv model.Server
	status := ta.do(t, http.MethodPost, "/v1/servers", token, fiber.Map{"name": name}, &srv)
	if status != http.StatusCreated {
		t.Fatalf("create server status = %d", status)
	}
	return srv
}

func (ta *testApp) createChannel(t *testing.T, token, serverID, name string) model.Channel {
	t.Helper()
	var ch model.Channel
	status := ta.do(t, http.MethodPost, "/v1/servers/"+serverID+"/channels", token, fiber.Map{"name": name}, &ch)
	if status != http.StatusCreated {
		t.Fatalf("create channel status = %d", status)
	}
	return ch
}
