// Package gateway implements the realtime hub: per-socket subscription state,
// conversation and user fan-out indexes, and the WebSocket front that feeds
// them.
package gateway

import (
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/mango-chat/mango-server/internal/permission"
)

// Hub is the connection registry and event distributor. Two indexes drive
// fan-out: conversation → sockets (subscriptions) and user → sockets
// (user-addressed delivery). All index mutations run under one mutex, and the
// publish path never blocks inside it: encoding happens before the lock and
// socket sends go through buffered channels.
type Hub struct {
	mu                  sync.RWMutex
	conversationSockets map[string]map[*Client]struct{}
	userSockets         map[string]map[*Client]struct{}

	resolver       *permission.Resolver
	maxConnections int
	log            zerolog.Logger
}

// NewHub creates an empty hub. The resolver authorises channel subscriptions.
func NewHub(resolver *permission.Resolver, maxConnections int, logger zerolog.Logger) *Hub {
	return &Hub{
		conversationSockets: make(map[string]map[*Client]struct{}),
		userSockets:         make(map[string]map[*Client]struct{}),
		resolver:            resolver,
		maxConnections:      maxConnections,
		log:                 logger.With().Str("component", "gateway").Logger(),
	}
}

// ServeWebSocket runs an authenticated, upgraded connection: it registers the
// socket, sends the ready frame, and starts the pumps. It blocks until the
// read pump exits.
func (h *Hub) ServeWebSocket(conn *websocket.Conn, userID string) {
	client := newClient(h, conn, userID, h.log)

	if !h.register(client) {
		_ = conn.Close()
		return
	}

	ready, err := Encode(EventReady, readyPayload{UserID: userID})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build ready frame")
		h.removeSocket(client)
		_ = conn.Close()
		return
	}
	client.enqueue(ready)

	go client.writePump()
	client.readPump()
}

// register inserts the socket into the user index.
func (h *Hub) register(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connectionCountLocked() >= h.maxConnections {
		h.log.Warn().Msg("Gateway connection limit reached")
		return false
	}

	sockets := h.userSockets[client.userID]
	if sockets == nil {
		sockets = make(map[*Client]struct{})
		h.userSockets[client.userID] = sockets
	}
	sockets[client] = struct{}{}
	h.log.Debug().Str("user_id", client.userID).Msg("Socket registered")
	return true
}

func (h *Hub) connectionCountLocked() int {
	n := 0
	for _, sockets := range h.userSockets {
		n += len(sockets)
	}
	return n
}

// addSubscription inserts the socket into the conversation index and confirms
// with a subscribed frame.
func (h *Hub) addSubscription(client *Client, conversationID string) {
	h.mu.Lock()
	sockets := h.conversationSockets[conversationID]
	if sockets == nil {
		sockets = make(map[*Client]struct{})
		h.conversationSockets[conversationID] = sockets
	}
	sockets[client] = struct{}{}
	client.subscriptions[conversationID] = struct{}{}
	h.mu.Unlock()

	if frame, err := Encode(EventSubscribed, subscriptionPayload{ChannelID: conversationID}); err == nil {
		client.enqueue(frame)
	}
}

// removeSubscription is the inverse of addSubscription.
func (h *Hub) removeSubscription(client *Client, conversationID string) {
	h.mu.Lock()
	if sockets := h.conversationSockets[conversationID]; sockets != nil {
		delete(sockets, client)
		if len(sockets) == 0 {
			delete(h.conversationSockets, conversationID)
		}
	}
	delete(client.subscriptions, conversationID)
	h.mu.Unlock()

	if frame, err := Encode(EventUnsubscribed, subscriptionPayload{ChannelID: conversationID}); err == nil {
		client.enqueue(frame)
	}
}

// removeSocket drops the socket from every index.
func (h *Hub) removeSocket(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conversationID := range client.subscriptions {
		if sockets := h.conversationSockets[conversationID]; sockets != nil {
			delete(sockets, client)
			if len(sockets) == 0 {
				delete(h.conversationSockets, conversationID)
			}
		}
	}
	if sockets := h.userSockets[client.userID]; sockets != nil {
		delete(sockets, client)
		if len(sockets) == 0 {
			delete(h.userSockets, client.userID)
		}
	}
	client.closeSend()
}

// Publish fans an event out to every socket subscribed to the conversation,
// plus every socket of each user in additionalUserIDs. The event is encoded
// once; per-socket delivery order follows publish order because each socket's
// sends are serialised through its channel.
func (h *Hub) Publish(conversationID, event string, payload any, additionalUserIDs ...string) {
	frame, err := Encode(event, payload)
	if err != nil {
		h.log.Warn().Err(err).Str("event", event).Msg("Failed to encode event")
		return
	}

	h.mu.RLock()
	targets := make(map[*Client]struct{})
	for c := range h.conversationSockets[conversationID] {
		targets[c] = struct{}{}
	}
	for _, userID := range additionalUserIDs {
		for c := range h.userSockets[userID] {
			targets[c] = struct{}{}
		}
	}
	h.mu.RUnlock()

	for c := range targets {
		c.enqueue(frame)
	}
}

// PublishToUsers delivers an event to every socket of the given users,
// regardless of subscriptions. Used for direct-thread creation, presence, and
// voice session updates.
func (h *Hub) PublishToUsers(event string, payload any, userIDs ...string) {
	frame, err := Encode(event, payload)
	if err != nil {
		h.log.Warn().Err(err).Str("event", event).Msg("Failed to encode event")
		return
	}

	h.mu.RLock()
	targets := make(map[*Client]struct{})
	for _, userID := range userIDs {
		for c := range h.userSockets[userID] {
			targets[c] = struct{}{}
		}
	}
	h.mu.RUnlock()

	for c := range targets {
		c.enqueue(frame)
	}
}

// ConnectedUserIDs returns the users with at least one open socket.
func (h *Hub) ConnectedUserIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.userSockets))
	for id := range h.userSockets {
		out = append(out, id)
	}
	return out
}

// Shutdown closes every connection with a Going Away status.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sockets := range h.userSockets {
		for client := range sockets {
			client.closeSend()
			_ = client.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait),
			)
			_ = client.conn.Close()
		}
	}
	h.conversationSockets = make(map[string]map[*Client]struct{})
	h.userSockets = make(map[string]map[*Client]struct{})
	h.log.Info().Msg("Gateway hub shut down")
}
