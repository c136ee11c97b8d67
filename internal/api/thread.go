package api

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/mango-chat/mango-server/internal/auth"
	"github.com/mango-chat/mango-server/internal/gateway"
	"github.com/mango-chat/mango-server/internal/httputil"
	"github.com/mango-chat/mango-server/internal/ident"
	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/presence"
	"github.com/mango-chat/mango-server/internal/store"
)

// ThreadHandler serves direct-thread endpoints: creation, listing, messages,
// read markers, typing, and leaving.
type ThreadHandler struct {
	store    store.Store
	hub      *gateway.Hub
	presence *presence.Store
	messages *MessageHandler
	log      zerolog.Logger
}

// NewThreadHandler creates a new direct-thread handler.
func NewThreadHandler(st store.Store, hub *gateway.Hub, pres *presence.Store, messages *MessageHandler, logger zerolog.Logger) *ThreadHandler {
	return &ThreadHandler{store: st, hub: hub, presence: pres, messages: messages, log: logger}
}

// Create handles POST /v1/direct-threads {participantIds, title?}.
// Participants are deduplicated and the caller is always included; exactly
// two participants make a dm, more make a group. Creating a dm for a pair
// that already has one returns the existing thread.
func (h *ThreadHandler) Create(c fiber.Ctx) error {
	var body struct {
		ParticipantIDs []string `json:"participantIds"`
		Title          string   `json:"title"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	callerID := auth.UserID(c)
	seen := map[string]struct{}{callerID: {}}
	participants := []string{callerID}
	for _, id := range body.ParticipantIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		participants = append(participants, id)
	}
	if len(participants) < 2 {
		return httputil.Fail(c, fiber.StatusBadRequest, "A direct thread requires at least one other participant")
	}

	kind := model.ThreadGroup
	if len(participants) == 2 {
		kind = model.ThreadDM
	}

	now := ident.NowString()
	backing := NewServerSeed("direct-thread", callerID, true)
	channel := model.Channel{
		ID:        ident.New(ident.PrefixChannel),
		ServerID:  backing.Server.ID,
		Name:      "direct",
		Type:      model.ChannelText,
		CreatedAt: now,
	}
	thread := model.DirectThread{
		ID:             ident.New(ident.PrefixThread),
		ChannelID:      channel.ID,
		Kind:           kind,
		OwnerID:        callerID,
		Title:          strings.TrimSpace(body.Title),
		ParticipantIDs: participants,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	created, isNew, err := h.store.CreateDirectThread(c, store.ThreadSeed{
		Thread:  thread,
		Backing: backing,
		Channel: channel,
	})
	if err != nil {
		if errors.Is(err, store.ErrThreadParticipants) {
			return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
		}
		h.log.Error().Err(err).Str("handler", "thread").Msg("create thread failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}

	if isNew {
		h.hub.PublishToUsers(gateway.EventThreadCreated, created, created.ParticipantIDs...)
		return c.Status(fiber.StatusCreated).JSON(created)
	}
	return c.JSON(created)
}

// List handles GET /v1/direct-threads, ascending by updatedAt.
func (h *ThreadHandler) List(c fiber.Ctx) error {
	threads, err := h.store.ListDirectThreadsForUser(c, auth.UserID(c))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "thread").Msg("list threads failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if threads == nil {
		threads = []model.DirectThread{}
	}
	return c.JSON(threads)
}

// Get handles GET /v1/direct-threads/:id.
func (h *ThreadHandler) Get(c fiber.Ctx) error {
	thread, ok, err := h.requireParticipant(c)
	if err != nil || !ok {
		return err
	}
	return c.JSON(thread)
}

// CreateMessage handles POST /v1/direct-threads/:id/messages.
func (h *ThreadHandler) CreateMessage(c fiber.Ctx) error {
	thread, ok, err := h.requireParticipant(c)
	if err != nil || !ok {
		return err
	}
	ch, err := h.store.GetChannel(c, thread.ChannelID)
	if err != nil || ch == nil {
		h.log.Error().Err(err).Str("handler", "thread").Msg("load backing channel failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}

	var req createMessageRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	return h.messages.compose(c, composeParams{
		channel:  ch,
		thread:   thread,
		authorID: auth.UserID(c),
		req:      req,
	})
}

// ListMessages handles GET /v1/direct-threads/:id/messages.
func (h *ThreadHandler) ListMessages(c fiber.Ctx) error {
	thread, ok, err := h.requireParticipant(c)
	if err != nil || !ok {
		return err
	}
	messages, err := h.store.ListMessages(c, thread.ChannelID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "thread").Msg("list messages failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if messages == nil {
		messages = []model.Message{}
	}
	return c.JSON(messages)
}

// GetReadMarker handles GET /v1/direct-threads/:id/read-marker, returning an
// empty-marker sentinel when none is recorded.
func (h *ThreadHandler) GetReadMarker(c fiber.Ctx) error {
	thread, ok, err := h.requireParticipant(c)
	if err != nil || !ok {
		return err
	}
	return getReadMarker(c, h.store, thread.ID, h.log)
}

// PutReadMarker handles PUT /v1/direct-threads/:id/read-marker.
func (h *ThreadHandler) PutReadMarker(c fiber.Ctx) error {
	thread, ok, err := h.requireParticipant(c)
	if err != nil || !ok {
		return err
	}
	return putReadMarker(c, h.store, thread.ID, h.log)
}

// Typing handles POST /v1/direct-threads/:id/typing {isTyping?}.
func (h *ThreadHandler) Typing(c fiber.Ctx) error {
	thread, ok, err := h.requireParticipant(c)
	if err != nil || !ok {
		return err
	}
	return publishTyping(c, h.hub, h.presence, thread.ID, thread.ID, thread.ParticipantIDs, h.log)
}

// Leave handles DELETE /v1/direct-threads/:id/participants/@me.
func (h *ThreadHandler) Leave(c fiber.Ctx) error {
	thread, ok, err := h.requireParticipant(c)
	if err != nil || !ok {
		return err
	}
	if _, err := h.store.LeaveDirectThread(c, thread.ID, auth.UserID(c), ident.NowString()); err != nil {
		h.log.Error().Err(err).Str("handler", "thread").Msg("leave thread failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// requireParticipant loads the thread and verifies the caller participates.
// Non-participants read 404 so thread ids cannot be probed.
func (h *ThreadHandler) requireParticipant(c fiber.Ctx) (*model.DirectThread, bool, error) {
	thread, err := h.store.GetDirectThread(c, c.Params("id"))
	if err != nil {
		h.log.Error().Err(err).Str("handler", "thread").Msg("get thread failed")
		return nil, false, httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if thread == nil {
		return nil, false, httputil.Fail(c, fiber.StatusNotFound, "Direct thread not found")
	}
	callerID := auth.UserID(c)
	for _, p := range thread.ParticipantIDs {
		if p == callerID {
			return thread, true, nil
		}
	}
	return nil, false, httputil.Fail(c, fiber.StatusNotFound, "Direct thread not found")
}

// --- shared read-marker and typing helpers (used by channel routes too) ---

func getReadMarker(c fiber.Ctx, st store.Store, conversationID string, log zerolog.Logger) error {
	marker, err := st.GetReadMarker(c, conversationID, auth.UserID(c))
	if err != nil {
		log.Error().Err(err).Msg("get read marker failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	if marker == nil {
		marker = &model.ReadMarker{ConversationID: conversationID, UserID: auth.UserID(c)}
	}
	return c.JSON(marker)
}

func putReadMarker(c fiber.Ctx, st store.Store, conversationID string, log zerolog.Logger) error {
	var body struct {
		LastReadMessageID string `json:"lastReadMessageId"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	if body.LastReadMessageID != "" {
		ok, err := st.MessageInConversation(c, conversationID, body.LastReadMessageID)
		if err != nil {
			log.Error().Err(err).Msg("validate read marker failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
		}
		if !ok {
			return httputil.Fail(c, fiber.StatusBadRequest, "lastReadMessageId does not belong to this conversation")
		}
	}

	marker, err := st.PutReadMarker(c, model.ReadMarker{
		ConversationID:    conversationID,
		UserID:            auth.UserID(c),
		LastReadMessageID: body.LastReadMessageID,
		UpdatedAt:         ident.NowString(),
	})
	if err != nil {
		log.Error().Err(err).Msg("put read marker failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
	return c.JSON(marker)
}

// publishTyping emits a typing.updated event. While typing, expiresAt is six
// seconds out and rapid repeats are deduplicated through the presence store;
// a clear emits immediately with expiresAt = now.
func publishTyping(c fiber.Ctx, hub *gateway.Hub, pres *presence.Store, conversationID, threadID string, participants []string, log zerolog.Logger) error {
	body := struct {
		IsTyping *bool `json:"isTyping"`
	}{}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	isTyping := body.IsTyping == nil || *body.IsTyping

	userID := auth.UserID(c)
	indicator := model.TypingIndicator{
		ConversationID: conversationID,
		DirectThreadID: threadID,
		UserID:         userID,
		IsTyping:       isTyping,
	}

	if isTyping {
		fresh, err := pres.MarkTyping(c, conversationID, userID)
		if err != nil {
			log.Warn().Err(err).Msg("mark typing failed")
		}
		indicator.ExpiresAt = ident.Timestamp(time.Now().Add(6 * time.Second))
		if err == nil && !fresh {
			// Duplicate inside the window; clients extend from the
			// previous event's expiresAt.
			return c.SendStatus(fiber.StatusNoContent)
		}
	} else {
		if _, err := pres.ClearTyping(c, conversationID, userID); err != nil {
			log.Warn().Err(err).Msg("clear typing failed")
		}
		indicator.ExpiresAt = ident.NowString()
	}

	hub.Publish(conversationID, gateway.EventTypingUpdated, indicator, participants...)
	return c.SendStatus(fiber.StatusNoContent)
}
