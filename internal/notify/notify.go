// Package notify converts newly created messages into pending push records.
// Records are appended to a Redis stream that the external push worker
// consumes with a consumer group; the enqueuer itself is fire-and-forget and
// never affects the request path.
package notify

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/permission"
	"github.com/mango-chat/mango-server/internal/store"
)

const (
	// pendingStream is the Redis stream the push worker reads.
	pendingStream = "mango.push.pending"

	// consumerGroup is created at startup so records queued before the
	// worker first connects are not lost.
	consumerGroup = "mango-push-workers"

	// maxBodyLength is the notification body budget; longer bodies are
	// trimmed with an ellipsis.
	maxBodyLength = 140
)

// Enqueuer builds and queues pending push records.
type Enqueuer struct {
	rdb      *redis.Client
	store    store.Store
	resolver *permission.Resolver
	log      zerolog.Logger
}

// NewEnqueuer creates the enqueuer.
func NewEnqueuer(rdb *redis.Client, st store.Store, resolver *permission.Resolver, logger zerolog.Logger) *Enqueuer {
	return &Enqueuer{
		rdb:      rdb,
		store:    st,
		resolver: resolver,
		log:      logger.With().Str("component", "notify").Logger(),
	}
}

// EnsureStream creates the consumer group for the pending stream, ignoring
// the error when the group already exists.
func (e *Enqueuer) EnsureStream(ctx context.Context) {
	err := e.rdb.XGroupCreateMkStream(ctx, pendingStream, consumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		e.log.Warn().Err(err).Msg("Failed to create push consumer group")
	}
}

// MessageCreated enqueues one pending record per recipient of the message.
// Recipients are the thread participants (direct messages) or the channel
// members holding read_messages (server channels), minus the author. Errors
// are logged and swallowed; callers run this on its own goroutine.
func (e *Enqueuer) MessageCreated(msg *model.Message, thread *model.DirectThread, channel *model.Channel, server *model.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	title, recipients := e.describe(ctx, msg, thread, channel, server)
	if len(recipients) == 0 {
		return
	}

	body := trimBody(msg.Body)
	url := "/conversations/" + msg.ConversationID + "/messages/" + msg.ID

	for _, userID := range recipients {
		err := e.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: pendingStream,
			Values: map[string]any{
				"user_id":    userID,
				"title":      title,
				"body":       body,
				"url":        url,
				"message_id": msg.ID,
			},
		}).Err()
		if err != nil {
			e.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to enqueue push record")
		}
	}
}

// trimBody bounds the notification body to maxBodyLength runes with an
// ellipsis. Runes, not bytes: slicing bytes could split a multi-byte rune and
// put invalid UTF-8 in the push payload.
func trimBody(body string) string {
	body = strings.TrimSpace(body)
	if utf8.RuneCountInString(body) <= maxBodyLength {
		return body
	}
	runes := []rune(body)
	return string(runes[:maxBodyLength-1]) + "…"
}

// describe computes the notification title and recipient list.
func (e *Enqueuer) describe(ctx context.Context, msg *model.Message, thread *model.DirectThread, channel *model.Channel, server *model.Server) (string, []string) {
	if thread != nil {
		title := thread.Title
		if title == "" {
			title = "New direct message"
		}
		recipients := make([]string, 0, len(thread.ParticipantIDs))
		for _, p := range thread.ParticipantIDs {
			if p != msg.AuthorID {
				recipients = append(recipients, p)
			}
		}
		return title, recipients
	}

	title := "#" + channel.Name
	if server != nil {
		title = server.Name + " " + title
	}

	members, err := e.store.ListServerMembers(ctx, channel.ServerID)
	if err != nil {
		e.log.Warn().Err(err).Str("channel_id", channel.ID).Msg("Failed to list members for notification")
		return title, nil
	}
	recipients := make([]string, 0, len(members))
	for _, m := range members {
		if m.UserID == msg.AuthorID {
			continue
		}
		ok, err := e.resolver.CanReadChannel(ctx, m.UserID, channel.ID)
		if err != nil {
			e.log.Warn().Err(err).Str("user_id", m.UserID).Msg("Notification permission check failed")
			continue
		}
		if ok {
			recipients = append(recipients, m.UserID)
		}
	}
	return title, recipients
}
