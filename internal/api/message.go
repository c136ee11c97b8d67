package api

import (
	"errors"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/mango-chat/mango-server/internal/auth"
	"github.com/mango-chat/mango-server/internal/gateway"
	"github.com/mango-chat/mango-server/internal/httputil"
	"github.com/mango-chat/mango-server/internal/ident"
	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/notify"
	"github.com/mango-chat/mango-server/internal/permission"
	"github.com/mango-chat/mango-server/internal/store"
)

// Message limits.
const (
	maxBodyLength      = 2000
	maxAttachments     = 10
	maxAttachmentBytes = 25 * 1024 * 1024
)

// Sentinel validation errors for message composition.
var (
	errEmptyBody         = errors.New("message body must not be empty")
	errBodyTooLong       = errors.New("message body exceeds 2000 characters")
	errTooManyAttachment = errors.New("a message carries at most 10 attachments")
	errBadAttachment     = errors.New("attachment metadata is incomplete or oversized")
)

// attachmentInput is the wire shape of attachment metadata on create.
type attachmentInput struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
	URL         string `json:"url"`
}

// createMessageRequest is the body of message creation on channels, threads,
// and webhooks.
type createMessageRequest struct {
	Body        string            `json:"body"`
	Attachments []attachmentInput `json:"attachments"`
}

// deletePayload addresses a message.deleted event.
type deletePayload struct {
	ID             string `json:"id"`
	ChannelID      string `json:"channelId"`
	ConversationID string `json:"conversationId"`
	DirectThreadID string `json:"directThreadId,omitempty"`
}

// reactionPayload addresses a reaction.updated event.
type reactionPayload struct {
	ConversationID string                `json:"conversationId"`
	DirectThreadID string                `json:"directThreadId,omitempty"`
	MessageID      string                `json:"messageId"`
	Reactions      []model.ReactionCount `json:"reactions"`
}

// MessageHandler serves message and reaction endpoints.
type MessageHandler struct {
	store    store.Store
	resolver *permission.Resolver
	hub      *gateway.Hub
	notifier *notify.Enqueuer
	log      zerolog.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(st store.Store, resolver *permission.Resolver, hub *gateway.Hub, notifier *notify.Enqueuer, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{store: st, resolver: resolver, hub: hub, notifier: notifier, log: logger}
}

// validateBody trims and bounds a message body. An empty trimmed body is
// allowed only when allowEmpty is set (webhook and bot writers carrying
// attachments).
func validateBody(body string, hasAttachments, allowEmpty bool) (string, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" && !(allowEmpty && hasAttachments) {
		return "", errEmptyBody
	}
	if utf8.RuneCountInString(trimmed) > maxBodyLength {
		return "", errBodyTooLong
	}
	return trimmed, nil
}

// normalizeAttachments validates and converts attachment inputs. uploadedBy
// is forced to the caller.
func normalizeAttachments(inputs []attachmentInput, uploaderID, now string) ([]model.Attachment, error) {
	if len(inputs) > maxAttachments {
		return nil, errTooManyAttachment
	}
	out := make([]model.Attachment, 0, len(inputs))
	for _, in := range inputs {
		if in.FileName == "" || in.ContentType == "" || in.URL == "" {
			return nil, errBadAttachment
		}
		if in.SizeBytes <= 0 || in.SizeBytes > maxAttachmentBytes {
			return nil, errBadAttachment
		}
		out = append(out, model.Attachment{
			ID:          ident.New(ident.PrefixAttachment),
			FileName:    in.FileName,
			ContentType: in.ContentType,
			SizeBytes:   in.SizeBytes,
			URL:         in.URL,
			UploadedBy:  uploaderID,
			CreatedAt:   now,
		})
	}
	return out, nil
}

// composeParams carries one message creation through validation, storage, and
// fan-out.
type composeParams struct {
	channel    *model.Channel
	thread     *model.DirectThread // nil for server channels
	authorID   string
	req        createMessageRequest
	allowEmpty bool // webhook/bot writers may omit the body when attaching
}

// compose is the shared creation path for channel messages, thread messages,
// and webhook executions: validate, persist, bump the thread, fan out, and
// enqueue notifications.
func (h *MessageHandler) compose(c fiber.Ctx, p composeParams) error {
	body, err := validateBody(p.req.Body, len(p.req.Attachments) > 0, p.allowEmpty)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	}

	now := ident.NowString()
	attachments, err := normalizeAttachments(p.req.Attachments, p.authorID, now)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	}

	threadID := ""
	if p.thread != nil {
		threadID = p.thread.ID
	}
	msg, err := h.store.CreateMessage(c, model.Message{
		ID:             ident.New(ident.PrefixMessage),
		ChannelID:      p.channel.ID,
		ConversationID: model.ConversationID(p.channel.ID, threadID),
		DirectThreadID: threadID,
		AuthorID:       p.authorID,
		Body:           body,
		Attachments:    attachments,
		CreatedAt:      now,
	})
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("create message failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}

	var server *model.Server
	if p.thread != nil {
		if err := h.store.TouchDirectThread(c, p.thread.ID, now); err != nil {
			h.log.Warn().Err(err).Str("thread_id", p.thread.ID).Msg("bump thread failed")
		}
		h.hub.Publish(msg.ConversationID, gateway.EventMessageCreated, msg, p.thread.ParticipantIDs...)
	} else {
		server, err = h.store.GetServer(c, p.channel.ServerID)
		if err != nil {
			h.log.Warn().Err(err).Msg("load server for notification failed")
		}
		h.hub.Publish(msg.ConversationID, gateway.EventMessageCreated, msg)
	}

	if h.notifier != nil {
		go h.notifier.MessageCreated(msg, p.thread, p.channel, server)
	}

	return c.Status(fiber.StatusCreated).JSON(msg)
}

// Create handles POST /v1/channels/:id/messages.
func (h *MessageHandler) Create(c fiber.Ctx) error {
	ch, err := h.store.GetChannel(c, c.Params("id"))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("get channel failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if ch == nil {
		return httputil.Fail(c, fiber.StatusNotFound, "Channel not found")
	}

	userID := auth.UserID(c)
	allowed, err := h.resolver.CanSendChannel(c, userID, ch.ID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("permission check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.MissingPermission(permission.NameSendMessages))
	}

	var req createMessageRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	return h.compose(c, composeParams{channel: ch, authorID: userID, req: req})
}

// List handles GET /v1/channels/:id/messages, ascending by createdAt.
func (h *MessageHandler) List(c fiber.Ctx) error {
	ch, err := h.store.GetChannel(c, c.Params("id"))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("get channel failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if ch == nil {
		return httputil.Fail(c, fiber.StatusNotFound, "Channel not found")
	}

	allowed, err := h.resolver.CanReadChannel(c, auth.UserID(c), ch.ID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("permission check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.MissingPermission(permission.NameReadMessages))
	}

	messages, err := h.store.ListMessages(c, ch.ID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("list messages failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if messages == nil {
		messages = []model.Message{}
	}
	return c.JSON(messages)
}

// Update handles PATCH /v1/messages/:id. Author only.
func (h *MessageHandler) Update(c fiber.Ctx) error {
	existing, ok, err := h.requireAuthor(c)
	if err != nil || !ok {
		return err
	}

	var req struct {
		Body string `json:"body"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	body, err := validateBody(req.Body, len(existing.Attachments) > 0, false)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	}

	msg, err := h.store.UpdateMessage(c, existing.ID, body, ident.NowString())
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("update message failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if msg == nil {
		return httputil.Fail(c, fiber.StatusNotFound, "Message not found")
	}

	h.publishToConversation(c, msg.ConversationID, msg.DirectThreadID, gateway.EventMessageUpdated, msg)
	return c.JSON(msg)
}

// Delete handles DELETE /v1/messages/:id. Author only.
func (h *MessageHandler) Delete(c fiber.Ctx) error {
	existing, ok, err := h.requireAuthor(c)
	if err != nil || !ok {
		return err
	}

	msg, err := h.store.DeleteMessage(c, existing.ID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("delete message failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if msg == nil {
		return httputil.Fail(c, fiber.StatusNotFound, "Message not found")
	}

	payload := deletePayload{
		ID:             msg.ID,
		ChannelID:      msg.ChannelID,
		ConversationID: msg.ConversationID,
		DirectThreadID: msg.DirectThreadID,
	}
	h.publishToConversation(c, msg.ConversationID, msg.DirectThreadID, gateway.EventMessageDeleted, payload)
	return c.JSON(fiber.Map{"id": msg.ID, "channelId": msg.ChannelID})
}

// AddReaction handles POST /v1/messages/:id/reactions {emoji}.
func (h *MessageHandler) AddReaction(c fiber.Ctx) error {
	var body struct {
		Emoji string `json:"emoji"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	return h.mutateReaction(c, body.Emoji, true)
}

// RemoveReaction handles DELETE /v1/messages/:id/reactions/:emoji. The emoji
// path segment arrives URL-encoded.
func (h *MessageHandler) RemoveReaction(c fiber.Ctx) error {
	emoji, err := url.PathUnescape(c.Params("emoji"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid emoji encoding")
	}
	return h.mutateReaction(c, emoji, false)
}

func (h *MessageHandler) mutateReaction(c fiber.Ctx, emoji string, add bool) error {
	if strings.TrimSpace(emoji) == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "An emoji is required")
	}

	msg, ok, err := h.requireReadable(c)
	if err != nil || !ok {
		return err
	}

	var summary []model.ReactionCount
	var changed bool
	if add {
		summary, changed, err = h.store.AddReaction(c, msg.ID, auth.UserID(c), emoji)
	} else {
		summary, changed, err = h.store.RemoveReaction(c, msg.ID, auth.UserID(c), emoji)
	}
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("mutate reaction failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if summary == nil {
		return httputil.Fail(c, fiber.StatusNotFound, "Message not found")
	}

	// Duplicate adds and missing removes return the summary without an
	// event.
	if changed {
		payload := reactionPayload{
			ConversationID: msg.ConversationID,
			DirectThreadID: msg.DirectThreadID,
			MessageID:      msg.ID,
			Reactions:      summary,
		}
		h.publishToConversation(c, msg.ConversationID, msg.DirectThreadID, gateway.EventReactionUpdated, payload)
	}
	return c.JSON(summary)
}

// requireAuthor loads the message and verifies the caller wrote it.
func (h *MessageHandler) requireAuthor(c fiber.Ctx) (*model.Message, bool, error) {
	msg, err := h.store.GetMessage(c, c.Params("id"))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("get message failed")
		return nil, false, httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if msg == nil {
		return nil, false, httputil.Fail(c, fiber.StatusNotFound, "Message not found")
	}
	if msg.AuthorID != auth.UserID(c) {
		return nil, false, httputil.Fail(c, fiber.StatusForbidden, "You can only modify your own messages")
	}
	return msg, true, nil
}

// requireReadable loads the message and verifies the caller can read its
// conversation (thread participation or channel read permission).
func (h *MessageHandler) requireReadable(c fiber.Ctx) (*model.Message, bool, error) {
	msg, err := h.store.GetMessage(c, c.Params("id"))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("get message failed")
		return nil, false, httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if msg == nil {
		return nil, false, httputil.Fail(c, fiber.StatusNotFound, "Message not found")
	}

	userID := auth.UserID(c)
	var allowed bool
	if msg.DirectThreadID != "" {
		allowed, err = h.resolver.IsThreadParticipant(c, userID, msg.DirectThreadID)
	} else {
		allowed, err = h.resolver.CanReadChannel(c, userID, msg.ChannelID)
	}
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("permission check failed")
		return nil, false, httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if !allowed {
		return nil, false, httputil.Fail(c, fiber.StatusNotFound, "Message not found")
	}
	return msg, true, nil
}

// publishToConversation fans an event out, including thread participants when
// the conversation is a direct thread so unopened threads still hear it.
func (h *MessageHandler) publishToConversation(c fiber.Ctx, conversationID, threadID, event string, payload any) {
	if threadID == "" {
		h.hub.Publish(conversationID, event, payload)
		return
	}
	thread, err := h.store.GetDirectThread(c, threadID)
	if err != nil || thread == nil {
		h.hub.Publish(conversationID, event, payload)
		return
	}
	h.hub.Publish(conversationID, event, payload, thread.ParticipantIDs...)
}
