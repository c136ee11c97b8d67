package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/mango-chat/mango-server/internal/ident"
)

const (
	// maxMessageSize is the maximum size in bytes of a single inbound
	// WebSocket message.
	maxMessageSize = 4096

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readIdleTimeout severs connections that send nothing (not even pings)
	// for this long.
	readIdleTimeout = 5 * time.Minute
)

// Client is a single authenticated WebSocket connection. Each client runs two
// goroutines (readPump and writePump) and receives fan-out through its
// buffered send channel.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
	log    zerolog.Logger

	// subscriptions is owned by the hub and only touched under the hub mutex.
	subscriptions map[string]struct{}

	// done is closed to signal shutdown. The send channel is never closed
	// directly; writePump and enqueue both select on done, avoiding
	// send-on-closed-channel panics when removal races with dispatch.
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, userID string, logger zerolog.Logger) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		userID:        userID,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]struct{}),
		done:          make(chan struct{}),
		log:           logger.With().Str("user_id", userID).Logger(),
	}
}

// closeSend signals the write loop to stop. Safe to call from multiple
// goroutines; only the first call has any effect.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump reads client frames and routes them by type. It runs on the
// upgrade goroutine and owns connection teardown.
func (c *Client) readPump() {
	defer func() {
		c.hub.removeSocket(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(readIdleTimeout))

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readIdleTimeout))

		var frame ClientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.sendError("invalid JSON frame")
			continue
		}

		switch frame.Type {
		case FramePing:
			if pong, err := Encode(EventPong, nil); err == nil {
				c.enqueue(pong)
			}
		case FrameSubscribe:
			c.handleSubscribe(frame.ConversationID)
		case FrameUnsubscribe:
			if frame.ConversationID == "" {
				c.sendError("conversationId is required")
				continue
			}
			c.hub.removeSubscription(c, frame.ConversationID)
		default:
			c.sendError("unknown frame type")
		}
	}
}

// handleSubscribe re-checks read permission on every subscribe: thread
// conversations require participation, channel conversations require
// read_messages.
func (c *Client) handleSubscribe(conversationID string) {
	if conversationID == "" {
		c.sendError("conversationId is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	allowed := false
	var err error
	if ident.HasPrefix(conversationID, ident.PrefixThread) {
		allowed, err = c.hub.resolver.IsThreadParticipant(ctx, c.userID, conversationID)
	} else {
		allowed, err = c.hub.resolver.CanReadChannel(ctx, c.userID, conversationID)
	}
	if err != nil {
		c.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("Subscribe permission check failed")
		c.sendError("subscription failed")
		return
	}
	if !allowed {
		c.sendError("you cannot subscribe to this conversation")
		return
	}

	c.hub.addSubscription(c, conversationID)
}

// writePump writes messages from the send channel to the connection. It exits
// when done is closed, draining any buffered messages first.
func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// enqueue hands a frame to the write loop. Frames to an already-closed client
// are dropped; a full buffer closes the connection so backpressure cannot
// stall the hub.
func (c *Client) enqueue(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.log.Warn().Msg("Client send buffer full, closing connection")
		c.closeSend()
		_ = c.conn.Close()
	}
}

func (c *Client) sendError(message string) {
	if frame, err := Encode(EventError, errorPayload{Error: message}); err == nil {
		c.enqueue(frame)
	}
}
