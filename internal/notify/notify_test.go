package notify

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mango-chat/mango-server/internal/ident"
	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/permission"
	"github.com/mango-chat/mango-server/internal/store"
	"github.com/mango-chat/mango-server/internal/store/memory"
)

func newTestEnqueuer(t *testing.T) (*Enqueuer, *memory.Store, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := memory.New()
	resolver := permission.NewResolver(st, zerolog.Nop())
	e := NewEnqueuer(rdb, st, resolver, zerolog.Nop())
	e.EnsureStream(context.Background())
	return e, st, rdb
}

func mkUser(t *testing.T, st *memory.Store, name string) *model.User {
	t.Helper()
	u, err := st.CreateUser(context.Background(), model.User{
		ID: ident.New(ident.PrefixUser), Email: name + "@example.com", Username: name,
		DisplayName: name, CreatedAt: ident.NowString(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func pendingRecords(t *testing.T, rdb *redis.Client) []redis.XMessage {
	t.Helper()
	msgs, err := rdb.XRange(context.Background(), pendingStream, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange: %v", err)
	}
	return msgs
}

func TestMessageCreated_DMRecipients(t *testing.T) {
	t.Parallel()
	e, st, rdb := newTestEnqueuer(t)
	a := mkUser(t, st, "alice")
	b := mkUser(t, st, "bob")
	c := mkUser(t, st, "carol")

	thread := &model.DirectThread{
		ID: "thr_1", Kind: model.ThreadGroup, Title: "trip",
		ParticipantIDs: []string{a.ID, b.ID, c.ID},
	}
	msg := &model.Message{
		ID: "msg_1", ChannelID: "chn_1", ConversationID: "thr_1",
		DirectThreadID: "thr_1", AuthorID: a.ID,
		Body: strings.Repeat("long body ", 30), CreatedAt: ident.NowString(),
	}

	e.MessageCreated(msg, thread, &model.Channel{ID: "chn_1"}, nil)

	records := pendingRecords(t, rdb)
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2 (author excluded)", len(records))
	}
	for _, r := range records {
		if r.Values["user_id"] == a.ID {
			t.Error("author received a push record")
		}
		if r.Values["title"] != "trip" {
			t.Errorf("title = %v, want thread title", r.Values["title"])
		}
		body, _ := r.Values["body"].(string)
		if utf8.RuneCountInString(body) > maxBodyLength {
			t.Errorf("body not trimmed: %d runes", utf8.RuneCountInString(body))
		}
	}
}

func TestMessageCreated_UntitledDM(t *testing.T) {
	t.Parallel()
	e, st, rdb := newTestEnqueuer(t)
	a := mkUser(t, st, "alice")
	b := mkUser(t, st, "bob")

	thread := &model.DirectThread{ID: "thr_1", Kind: model.ThreadDM, ParticipantIDs: []string{a.ID, b.ID}}
	msg := &model.Message{ID: "msg_1", ConversationID: "thr_1", DirectThreadID: "thr_1", AuthorID: a.ID, Body: "hi"}

	e.MessageCreated(msg, thread, &model.Channel{ID: "chn_1"}, nil)

	records := pendingRecords(t, rdb)
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].Values["title"] != "New direct message" {
		t.Errorf("title = %v", records[0].Values["title"])
	}
}

func TestMessageCreated_ChannelRecipientsFilteredByRead(t *testing.T) {
	t.Parallel()
	e, st, rdb := newTestEnqueuer(t)
	ctx := context.Background()
	owner := mkUser(t, st, "owner")
	reader := mkUser(t, st, "reader")

	serverID := ident.New(ident.PrefixServer)
	now := ident.NowString()
	srv, err := st.CreateServer(ctx, store.CreateServerSeed{
		Server: model.Server{ID: serverID, Name: "Alpha", OwnerID: owner.ID, CreatedAt: now},
		DefaultRole: model.Role{
			ID: ident.New(ident.PrefixRole), ServerID: serverID, Name: "@everyone",
			Permissions: []string{"read_messages", "send_messages"}, IsDefault: true, CreatedAt: now,
		},
		OwnerRole: model.Role{
			ID: ident.New(ident.PrefixRole), ServerID: serverID, Name: "Owner",
			Permissions: permission.All.Strings(), CreatedAt: now,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.AddServerMember(ctx, srv.ID, reader.ID, now); err != nil {
		t.Fatal(err)
	}
	ch, err := st.CreateChannel(ctx, model.Channel{
		ID: ident.New(ident.PrefixChannel), ServerID: srv.ID, Name: "general",
		Type: model.ChannelText, CreatedAt: now,
	})
	if err != nil {
		t.Fatal(err)
	}

	msg := &model.Message{ID: "msg_1", ChannelID: ch.ID, ConversationID: ch.ID, AuthorID: owner.ID, Body: "hi"}
	e.MessageCreated(msg, nil, ch, srv)

	records := pendingRecords(t, rdb)
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1 (reader only)", len(records))
	}
	if records[0].Values["user_id"] != reader.ID {
		t.Errorf("recipient = %v, want %s", records[0].Values["user_id"], reader.ID)
	}
	title, _ := records[0].Values["title"].(string)
	if title != "Alpha #general" {
		t.Errorf("title = %q", title)
	}
}

func TestTrimBody(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short untouched", "hello", "hello"},
		{"whitespace trimmed", "  hi  ", "hi"},
		{"exactly max untouched", strings.Repeat("x", maxBodyLength), strings.Repeat("x", maxBodyLength)},
		{"over max gets ellipsis", strings.Repeat("x", maxBodyLength+1), strings.Repeat("x", maxBodyLength-1) + "…"},
		{"multi-byte runes survive", strings.Repeat("é", maxBodyLength+10), strings.Repeat("é", maxBodyLength-1) + "…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := trimBody(tt.in)
			if got != tt.want {
				t.Errorf("trimBody() = %q, want %q", got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Error("trimBody() produced invalid UTF-8")
			}
			if utf8.RuneCountInString(got) > maxBodyLength {
				t.Errorf("trimBody() length = %d runes", utf8.RuneCountInString(got))
			}
		})
	}
}

func TestEnsureStream_Idempotent(t *testing.T) {
	t.Parallel()
	e, _, rdb := newTestEnqueuer(t)
	// A second call must not fail on BUSYGROUP, and the stream stays usable.
	e.EnsureStream(context.Background())
	if records := pendingRecords(t, rdb); len(records) != 0 {
		t.Errorf("unexpected records = %d", len(records))
	}
}
