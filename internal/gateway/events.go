package gateway

import (
	"encoding/json"
	"fmt"
)

// Server-to-client event types. Every frame is an {type, payload} envelope.
const (
	EventReady               = "ready"
	EventSubscribed          = "subscribed"
	EventUnsubscribed        = "unsubscribed"
	EventMessageCreated      = "message.created"
	EventMessageUpdated      = "message.updated"
	EventMessageDeleted      = "message.deleted"
	EventReactionUpdated     = "reaction.updated"
	EventTypingUpdated       = "typing.updated"
	EventThreadCreated       = "direct-thread.created"
	EventPresenceUpdated     = "presence.updated"
	EventVoiceSessionUpdated = "voice.session.updated"
	EventPong                = "pong"
	EventError               = "error"
)

// Client-to-server frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
)

// Envelope is the wire shape of every server frame.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// ClientFrame is the wire shape of every client frame.
type ClientFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
}

// Encode serialises an event envelope once, for fan-out to many sockets.
func Encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(Envelope{Type: event, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", event, err)
	}
	return raw, nil
}

// subscriptionPayload is the payload of subscribed/unsubscribed frames.
type subscriptionPayload struct {
	ChannelID string `json:"channelId"`
}

// readyPayload is the payload of the ready frame sent on open.
type readyPayload struct {
	UserID string `json:"userId"`
}

// errorPayload is the payload of error frames.
type errorPayload struct {
	Error string `json:"error"`
}
