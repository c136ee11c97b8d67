// Package storetest holds the backend-equivalence suite for the store
// contract. The in-memory store defines the reference semantics; the
// relational store must be observably identical, so both backends run the
// exact same scripts through Run. Subtests share one factory and run
// sequentially because the relational backend hands out stores over a shared
// database.
package storetest

import (
	"context"
	"strconv"
	"testing"

	"github.com/mango-chat/mango-server/internal/ident"
	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/store"
)

// Factory returns a store with no prior state. It is called once per subtest.
type Factory func(t *testing.T) store.Store

// Run executes the full equivalence suite against the given backend.
func Run(t *testing.T, factory Factory) {
	scripts := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"UserUniqueness", testUserUniqueness},
		{"SessionRoundTrip", testSessionRoundTrip},
		{"FriendStateMachine", testFriendStateMachine},
		{"ServerSeedInvariants", testServerSeedInvariants},
		{"MemberIdempotence", testMemberIdempotence},
		{"MessageOrdering", testMessageOrdering},
		{"ReactionLaws", testReactionLaws},
		{"DirectThreadDedup", testDirectThreadDedup},
		{"DirectThreadLeave", testDirectThreadLeave},
		{"InviteLaws", testInviteLaws},
		{"ModerationAndTimeouts", testModerationAndTimeouts},
		{"ReadMarkers", testReadMarkers},
		{"PushSubscriptionUpsert", testPushSubscriptionUpsert},
		{"AppealConflict", testAppealConflict},
		{"DeleteServerCascade", testDeleteServerCascade},
		{"DeleteUserCascade", testDeleteUserCascade},
		{"SearchCapsAndFilters", testSearchCapsAndFilters},
	}
	for _, script := range scripts {
		t.Run(script.name, func(t *testing.T) {
			script.fn(t, factory(t))
		})
	}
}

// --- fixture helpers ---

func mkUser(t *testing.T, s store.Store, username string) *model.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), model.User{
		ID:           ident.New(ident.PrefixUser),
		Email:        username + "@example.com",
		Username:     username,
		DisplayName:  "User " + username,
		CreatedAt:    ident.NowString(),
		PasswordHash: "x",
	})
	if err != nil {
		t.Fatalf("CreateUser(%q) error = %v", username, err)
	}
	return u
}

func serverSeed(name, ownerID string, hidden bool) store.CreateServerSeed {
	serverID := ident.New(ident.PrefixServer)
	now := ident.NowString()
	return store.CreateServerSeed{
		Server: model.Server{ID: serverID, Name: name, OwnerID: ownerID, Hidden: hidden, CreatedAt: now},
		DefaultRole: model.Role{
			ID: ident.New(ident.PrefixRole), ServerID: serverID, Name: "@everyone",
			Permissions: []string{"read_messages", "send_messages"}, IsDefault: true, CreatedAt: now,
		},
		OwnerRole: model.Role{
			ID: ident.New(ident.PrefixRole), ServerID: serverID, Name: "Owner",
			Permissions: []string{"manage_server", "manage_channels", "read_messages", "send_messages"},
			CreatedAt:   now,
		},
	}
}

func mkServer(t *testing.T, s store.Store, ownerID string) *model.Server {
	t.Helper()
	srv, err := s.CreateServer(context.Background(), serverSeed("Alpha", ownerID, false))
	if err != nil {
		t.Fatalf("CreateServer() error = %v", err)
	}
	return srv
}

func mkChannel(t *testing.T, s store.Store, serverID, name string) *model.Channel {
	t.Helper()
	ch, err := s.CreateChannel(context.Background(), model.Channel{
		ID: ident.New(ident.PrefixChannel), ServerID: serverID, Name: name,
		Type: model.ChannelText, CreatedAt: ident.NowString(),
	})
	if err != nil {
		t.Fatalf("CreateChannel() error = %v", err)
	}
	return ch
}

func mkMessage(t *testing.T, s store.Store, channelID, authorID, body string) *model.Message {
	t.Helper()
	m, err := s.CreateMessage(context.Background(), model.Message{
		ID: ident.New(ident.PrefixMessage), ChannelID: channelID, ConversationID: channelID,
		AuthorID: authorID, Body: body, CreatedAt: ident.NowString(),
	})
	if err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	return m
}

func threadSeed(owner string, participants []string) store.ThreadSeed {
	backing := serverSeed("direct-thread", owner, true)
	channelID := ident.New(ident.PrefixChannel)
	now := ident.NowString()
	kind := model.ThreadGroup
	if len(participants) == 2 {
		kind = model.ThreadDM
	}
	return store.ThreadSeed{
		Thread: model.DirectThread{
			ID: ident.New(ident.PrefixThread), ChannelID: channelID, Kind: kind,
			OwnerID: owner, ParticipantIDs: participants, CreatedAt: now, UpdatedAt: now,
		},
		Backing: backing,
		Channel: model.Channel{
			ID: channelID, ServerID: backing.Server.ID, Name: "direct",
			Type: model.ChannelText, CreatedAt: now,
		},
	}
}

func moderate(t *testing.T, s store.Store, serverID, actorID, targetID, action, expiresAt string) {
	t.Helper()
	_, err := s.ApplyModeration(context.Background(), model.ModerationAction{
		ID: ident.New(ident.PrefixModeration), ServerID: serverID, ActorID: actorID,
		TargetUserID: targetID, ActionType: action, ExpiresAt: expiresAt, CreatedAt: ident.NowString(),
	})
	if err != nil {
		t.Fatalf("ApplyModeration(%s) error = %v", action, err)
	}
}

// --- scripts ---

func testUserUniqueness(t *testing.T, s store.Store) {
	ctx := context.Background()
	mkUser(t, s, "alice")

	_, err := s.CreateUser(ctx, model.User{
		ID: ident.New(ident.PrefixUser), Email: "ALICE@example.com", Username: "alice2",
		DisplayName: "A2", CreatedAt: ident.NowString(), PasswordHash: "x",
	})
	if err != store.ErrDuplicateEmail {
		t.Errorf("duplicate email error = %v, want ErrDuplicateEmail", err)
	}

	_, err = s.CreateUser(ctx, model.User{
		ID: ident.New(ident.PrefixUser), Email: "other@example.com", Username: "Alice",
		DisplayName: "A3", CreatedAt: ident.NowString(), PasswordHash: "x",
	})
	if err != store.ErrDuplicateUsername {
		t.Errorf("duplicate username error = %v, want ErrDuplicateUsername", err)
	}

	// Case-insensitive username lookup resolves the original.
	u, err := s.GetUserByUsername(ctx, "ALICE")
	if err != nil || u == nil {
		t.Fatalf("GetUserByUsername = %v, %v", u, err)
	}
	if u.Username != "alice" {
		t.Errorf("resolved username = %q", u.Username)
	}
}

func testSessionRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := mkUser(t, s, "alice")

	token := ident.New(ident.PrefixToken)
	if err := s.CreateSession(ctx, model.Session{Token: token, UserID: u.ID, CreatedAt: ident.NowString()}); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	sess, err := s.GetSession(ctx, token)
	if err != nil || sess == nil || sess.UserID != u.ID {
		t.Fatalf("GetSession() = %v, %v", sess, err)
	}
	if err := s.DeleteSession(ctx, token); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if sess, _ := s.GetSession(ctx, token); sess != nil {
		t.Error("session survived deletion")
	}
}

func testFriendStateMachine(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := mkUser(t, s, "alice")
	b := mkUser(t, s, "bob")

	req, err := s.CreateFriendRequest(ctx, model.FriendRequest{
		ID: ident.New(ident.PrefixFriendReq), FromUserID: a.ID, ToUserID: b.ID, CreatedAt: ident.NowString(),
	})
	if err != nil {
		t.Fatalf("CreateFriendRequest() error = %v", err)
	}

	// Only the recipient can respond.
	if _, err := s.RespondFriendRequest(ctx, req.ID, a.ID, true); err != store.ErrNotRequestRecipient {
		t.Errorf("sender respond error = %v, want ErrNotRequestRecipient", err)
	}

	// A second pending request in either direction conflicts.
	if _, err := s.CreateFriendRequest(ctx, model.FriendRequest{
		ID: ident.New(ident.PrefixFriendReq), FromUserID: b.ID, ToUserID: a.ID, CreatedAt: ident.NowString(),
	}); err != store.ErrRequestPending {
		t.Errorf("reverse request error = %v, want ErrRequestPending", err)
	}

	accepted, err := s.RespondFriendRequest(ctx, req.ID, b.ID, true)
	if err != nil || accepted.Status != model.RequestAccepted {
		t.Fatalf("accept = %+v, %v", accepted, err)
	}

	// A ∈ friends(B) ⇔ B ∈ friends(A).
	for _, pair := range [][2]string{{a.ID, b.ID}, {b.ID, a.ID}} {
		if ok, _ := s.AreFriends(ctx, pair[0], pair[1]); !ok {
			t.Errorf("AreFriends(%s, %s) = false", pair[0], pair[1])
		}
	}

	// Once left pending, no further transitions.
	if _, err := s.RespondFriendRequest(ctx, req.ID, b.ID, false); err != store.ErrRequestClosed {
		t.Errorf("second respond error = %v, want ErrRequestClosed", err)
	}

	// Requests between friends conflict; removal clears both directions.
	if _, err := s.CreateFriendRequest(ctx, model.FriendRequest{
		ID: ident.New(ident.PrefixFriendReq), FromUserID: b.ID, ToUserID: a.ID, CreatedAt: ident.NowString(),
	}); err != store.ErrAlreadyFriends {
		t.Errorf("friends request error = %v, want ErrAlreadyFriends", err)
	}
	if err := s.RemoveFriend(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("RemoveFriend() error = %v", err)
	}
	if ok, _ := s.AreFriends(ctx, b.ID, a.ID); ok {
		t.Error("friendship survived removal")
	}
}

func testServerSeedInvariants(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := mkUser(t, s, "owner")
	srv := mkServer(t, s, owner.ID)

	roles, err := s.ListRoles(ctx, srv.ID)
	if err != nil {
		t.Fatalf("ListRoles() error = %v", err)
	}
	defaults := 0
	for _, r := range roles {
		if r.IsDefault {
			defaults++
		}
	}
	if defaults != 1 {
		t.Errorf("default roles = %d, want exactly 1", defaults)
	}

	if member, _ := s.IsServerMember(ctx, srv.ID, owner.ID); !member {
		t.Error("owner is not a member")
	}
	roleIDs, _ := s.MemberRoleIDs(ctx, srv.ID, owner.ID)
	if len(roleIDs) != 1 {
		t.Errorf("owner assignments = %d, want 1", len(roleIDs))
	}

	if err := s.RemoveServerMember(ctx, srv.ID, owner.ID); err != store.ErrOwnerCannotLeave {
		t.Errorf("owner leave error = %v, want ErrOwnerCannotLeave", err)
	}
}

func testMemberIdempotence(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := mkUser(t, s, "owner")
	member := mkUser(t, s, "member")
	srv := mkServer(t, s, owner.ID)

	joinedAt := ident.NowString()
	for i := 0; i < 2; i++ {
		if err := s.AddServerMember(ctx, srv.ID, member.ID, joinedAt); err != nil {
			t.Fatalf("AddServerMember() #%d error = %v", i, err)
		}
	}
	members, err := s.ListServerMembers(ctx, srv.ID)
	if err != nil {
		t.Fatalf("ListServerMembers() error = %v", err)
	}
	if len(members) != 2 {
		t.Errorf("members = %d, want 2", len(members))
	}

	roles, _ := s.ListRoles(ctx, srv.ID)
	roleID := roles[0].ID
	for i := 0; i < 2; i++ {
		if err := s.AssignRole(ctx, srv.ID, member.ID, roleID); err != nil {
			t.Fatalf("AssignRole() #%d error = %v", i, err)
		}
	}
	roleIDs, _ := s.MemberRoleIDs(ctx, srv.ID, member.ID)
	if len(roleIDs) != 1 {
		t.Errorf("assignments after duplicate assign = %d, want 1", len(roleIDs))
	}
}

func testMessageOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := mkUser(t, s, "owner")
	srv := mkServer(t, s, owner.ID)
	ch := mkChannel(t, s, srv.ID, "general")

	for i := 0; i < 5; i++ {
		mkMessage(t, s, ch.ID, owner.ID, "m"+strconv.Itoa(i))
	}

	out, err := s.ListMessages(ctx, ch.ID)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(out) != 5 {
		t.Fatalf("len = %d, want 5", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i-1].CreatedAt > out[i].CreatedAt {
			t.Errorf("out of order at %d: %s > %s", i, out[i-1].CreatedAt, out[i].CreatedAt)
		}
	}
	if out[0].Body != "m0" || out[4].Body != "m4" {
		t.Errorf("order = %s … %s", out[0].Body, out[4].Body)
	}
}

func testReactionLaws(t *testing.T, s store.Store) {
	ctx := context.Background()
	u1 := mkUser(t, s, "u1")
	u2 := mkUser(t, s, "u2")
	srv := mkServer(t, s, u1.ID)
	ch := mkChannel(t, s, srv.ID, "general")
	msg := mkMessage(t, s, ch.ID, u1.ID, "hi")

	// addReaction ∘ addReaction ≡ addReaction.
	summary, changed, err := s.AddReaction(ctx, msg.ID, u1.ID, "🔥")
	if err != nil || !changed || len(summary) != 1 || summary[0].Count != 1 {
		t.Fatalf("first add = %+v changed=%v err=%v", summary, changed, err)
	}
	summary, changed, _ = s.AddReaction(ctx, msg.ID, u1.ID, "🔥")
	if changed || summary[0].Count != 1 {
		t.Errorf("duplicate add changed=%v count=%d", changed, summary[0].Count)
	}

	summary, changed, _ = s.AddReaction(ctx, msg.ID, u2.ID, "🔥")
	if !changed || summary[0].Count != 2 {
		t.Errorf("second user changed=%v count=%d, want true, 2", changed, summary[0].Count)
	}

	// Remove of a nonexistent reaction is a no-op with the unchanged summary.
	summary, changed, _ = s.RemoveReaction(ctx, msg.ID, u1.ID, "👻")
	if changed || len(summary) != 1 || summary[0].Count != 2 {
		t.Errorf("phantom remove changed=%v summary=%+v", changed, summary)
	}

	summary, changed, _ = s.RemoveReaction(ctx, msg.ID, u1.ID, "🔥")
	if !changed || summary[0].Count != 1 {
		t.Errorf("remove changed=%v count=%d, want true, 1", changed, summary[0].Count)
	}

	// Summary orders by emoji ascending and omits zero counts.
	if _, _, err := s.AddReaction(ctx, msg.ID, u1.ID, "👍"); err != nil {
		t.Fatal(err)
	}
	summary, _, _ = s.AddReaction(ctx, msg.ID, u1.ID, "🎉")
	for i := 1; i < len(summary); i++ {
		if summary[i-1].Emoji >= summary[i].Emoji {
			t.Errorf("summary out of order: %q >= %q", summary[i-1].Emoji, summary[i].Emoji)
		}
	}
	for _, rc := range summary {
		if rc.Count < 1 {
			t.Errorf("zero-count emoji %q in summary", rc.Emoji)
		}
	}
}

func testDirectThreadDedup(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := mkUser(t, s, "alice")
	b := mkUser(t, s, "bob")

	first, created, err := s.CreateDirectThread(ctx, threadSeed(a.ID, []string{a.ID, b.ID}))
	if err != nil || !created {
		t.Fatalf("first create = %v created=%v", err, created)
	}
	if first.Kind != model.ThreadDM {
		t.Errorf("kind = %q, want dm", first.Kind)
	}

	// The unordered pair resolves to the same thread id.
	second, created, err := s.CreateDirectThread(ctx, threadSeed(b.ID, []string{b.ID, a.ID}))
	if err != nil {
		t.Fatalf("second create error = %v", err)
	}
	if created || second.ID != first.ID {
		t.Errorf("dedup = created=%v id=%s, want existing %s", created, second.ID, first.ID)
	}

	// Unknown participants are a precondition violation.
	if _, _, err := s.CreateDirectThread(ctx, threadSeed(a.ID, []string{a.ID, "usr_ghost"})); err != store.ErrThreadParticipants {
		t.Errorf("ghost participant error = %v, want ErrThreadParticipants", err)
	}
}

func testDirectThreadLeave(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := mkUser(t, s, "alice")
	b := mkUser(t, s, "bob")

	thread, _, err := s.CreateDirectThread(ctx, threadSeed(a.ID, []string{a.ID, b.ID}))
	if err != nil {
		t.Fatalf("create thread error = %v", err)
	}
	msg, err := s.CreateMessage(ctx, model.Message{
		ID: ident.New(ident.PrefixMessage), ChannelID: thread.ChannelID,
		ConversationID: thread.ID, DirectThreadID: thread.ID,
		AuthorID: a.ID, Body: "hi", CreatedAt: ident.NowString(),
	})
	if err != nil {
		t.Fatalf("create message error = %v", err)
	}
	if _, err := s.PutReadMarker(ctx, model.ReadMarker{
		ConversationID: thread.ID, UserID: a.ID, LastReadMessageID: msg.ID, UpdatedAt: ident.NowString(),
	}); err != nil {
		t.Fatalf("PutReadMarker() error = %v", err)
	}

	remaining, err := s.LeaveDirectThread(ctx, thread.ID, a.ID, ident.NowString())
	if err != nil || remaining != 1 {
		t.Fatalf("first leave = %d, %v; want 1", remaining, err)
	}
	if marker, _ := s.GetReadMarker(ctx, thread.ID, a.ID); marker != nil {
		t.Error("leaver's read marker survived")
	}

	remaining, err = s.LeaveDirectThread(ctx, thread.ID, b.ID, ident.NowString())
	if err != nil || remaining != 0 {
		t.Fatalf("second leave = %d, %v; want 0", remaining, err)
	}
	if got, _ := s.GetDirectThread(ctx, thread.ID); got != nil {
		t.Error("thread survived last leave")
	}
	if got, _ := s.GetMessage(ctx, msg.ID); got != nil {
		t.Error("message survived backing collection")
	}

	// The collected pair can start fresh.
	fresh, created, err := s.CreateDirectThread(ctx, threadSeed(a.ID, []string{a.ID, b.ID}))
	if err != nil || !created || fresh.ID == thread.ID {
		t.Errorf("recreate = %v created=%v id=%s", err, created, fresh.ID)
	}
}

func testInviteLaws(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := mkUser(t, s, "owner")
	u2 := mkUser(t, s, "u2")
	u3 := mkUser(t, s, "u3")
	srv := mkServer(t, s, owner.ID)

	inv, err := s.CreateInvite(ctx, model.Invite{
		Code: "ABCD2345", ServerID: srv.ID, CreatedBy: owner.ID,
		CreatedAt: ident.NowString(), MaxUses: 1,
	})
	if err != nil {
		t.Fatalf("CreateInvite() error = %v", err)
	}

	if joined, err := s.JoinServerByInvite(ctx, inv.Code, u2.ID, ident.NowString()); err != nil || joined == nil {
		t.Fatalf("join = %v, %v", joined, err)
	}
	got, _ := s.GetInvite(ctx, inv.Code)
	if got.Uses != 1 {
		t.Errorf("uses = %d, want 1", got.Uses)
	}

	// Maxed code reads as invalid.
	if joined, _ := s.JoinServerByInvite(ctx, inv.Code, u3.ID, ident.NowString()); joined != nil {
		t.Error("join on maxed invite succeeded")
	}

	// Already a member: no-op join, uses untouched.
	inv2, _ := s.CreateInvite(ctx, model.Invite{
		Code: "EFGH2345", ServerID: srv.ID, CreatedBy: owner.ID, CreatedAt: ident.NowString(),
	})
	if joined, _ := s.JoinServerByInvite(ctx, inv2.Code, u2.ID, ident.NowString()); joined == nil {
		t.Fatal("member re-join returned nil")
	}
	if got2, _ := s.GetInvite(ctx, inv2.Code); got2.Uses != 0 {
		t.Errorf("uses after re-join = %d, want 0", got2.Uses)
	}

	// An expired code reads as invalid without side effects.
	inv3, _ := s.CreateInvite(ctx, model.Invite{
		Code: "WXYZ2345", ServerID: srv.ID, CreatedBy: owner.ID,
		CreatedAt: ident.NowString(), ExpiresAt: "2000-01-01T00:00:00.000000000Z",
	})
	if joined, _ := s.JoinServerByInvite(ctx, inv3.Code, u3.ID, ident.NowString()); joined != nil {
		t.Error("join on expired invite succeeded")
	}

	// A banned caller is blocked without incrementing uses.
	moderate(t, s, srv.ID, owner.ID, u3.ID, model.ActionBan, "")
	inv4, _ := s.CreateInvite(ctx, model.Invite{
		Code: "BANQ2345", ServerID: srv.ID, CreatedBy: owner.ID, CreatedAt: ident.NowString(),
	})
	if joined, _ := s.JoinServerByInvite(ctx, inv4.Code, u3.ID, ident.NowString()); joined != nil {
		t.Error("banned user joined via invite")
	}
	if got4, _ := s.GetInvite(ctx, inv4.Code); got4.Uses != 0 {
		t.Errorf("uses after blocked join = %d, want 0", got4.Uses)
	}
}

func testModerationAndTimeouts(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := mkUser(t, s, "owner")
	target := mkUser(t, s, "target")
	srv := mkServer(t, s, owner.ID)
	if err := s.AddServerMember(ctx, srv.ID, target.ID, ident.NowString()); err != nil {
		t.Fatal(err)
	}

	// A timeout without expiry is a precondition violation.
	if _, err := s.ApplyModeration(ctx, model.ModerationAction{
		ID: ident.New(ident.PrefixModeration), ServerID: srv.ID, ActorID: owner.ID,
		TargetUserID: target.ID, ActionType: model.ActionTimeout, CreatedAt: ident.NowString(),
	}); err != store.ErrTimeoutRequiresExpiry {
		t.Errorf("timeout without expiry error = %v, want ErrTimeoutRequiresExpiry", err)
	}

	// Expired timeouts clear lazily; future ones stay active.
	moderate(t, s, srv.ID, owner.ID, target.ID, model.ActionTimeout, "2000-01-01T00:00:00.000000000Z")
	if active, _ := s.HasActiveTimeout(ctx, srv.ID, target.ID); active {
		t.Error("expired timeout reads active")
	}
	moderate(t, s, srv.ID, owner.ID, target.ID, model.ActionTimeout, "2999-01-01T00:00:00.000000000Z")
	if active, _ := s.HasActiveTimeout(ctx, srv.ID, target.ID); !active {
		t.Error("future timeout reads inactive")
	}

	// Ban removes membership, the timeout, and blocks re-add.
	moderate(t, s, srv.ID, owner.ID, target.ID, model.ActionBan, "")
	if member, _ := s.IsServerMember(ctx, srv.ID, target.ID); member {
		t.Error("banned user still a member")
	}
	if active, _ := s.HasActiveTimeout(ctx, srv.ID, target.ID); active {
		t.Error("timeout survived ban")
	}
	if err := s.AddServerMember(ctx, srv.ID, target.ID, ident.NowString()); err != store.ErrBanned {
		t.Errorf("re-add banned error = %v, want ErrBanned", err)
	}
	if bans, _ := s.ListBans(ctx, srv.ID); len(bans) != 1 || bans[0] != target.ID {
		t.Errorf("bans = %v", bans)
	}

	moderate(t, s, srv.ID, owner.ID, target.ID, model.ActionUnban, "")
	if banned, _ := s.IsBanned(ctx, srv.ID, target.ID); banned {
		t.Error("ban survived unban")
	}

	// Every action wrote an audit entry; the log lists newest first.
	entries, err := s.ListAuditLog(ctx, srv.ID)
	if err != nil {
		t.Fatalf("ListAuditLog() error = %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("audit entries = %d, want 4", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].CreatedAt < entries[i].CreatedAt {
			t.Errorf("audit log not newest-first at %d", i)
		}
	}
	if entries[0].ActionType != model.ActionUnban {
		t.Errorf("newest entry = %s, want unban", entries[0].ActionType)
	}
}

func testReadMarkers(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := mkUser(t, s, "owner")
	srv := mkServer(t, s, owner.ID)
	ch := mkChannel(t, s, srv.ID, "general")
	msg := mkMessage(t, s, ch.ID, owner.ID, "hi")

	if marker, _ := s.GetReadMarker(ctx, ch.ID, owner.ID); marker != nil {
		t.Error("unset marker is not nil")
	}

	if ok, _ := s.MessageInConversation(ctx, ch.ID, msg.ID); !ok {
		t.Error("message not found in its own conversation")
	}
	if ok, _ := s.MessageInConversation(ctx, "thr_other", msg.ID); ok {
		t.Error("message found in a foreign conversation")
	}

	put, err := s.PutReadMarker(ctx, model.ReadMarker{
		ConversationID: ch.ID, UserID: owner.ID, LastReadMessageID: msg.ID, UpdatedAt: ident.NowString(),
	})
	if err != nil {
		t.Fatalf("PutReadMarker() error = %v", err)
	}
	got, _ := s.GetReadMarker(ctx, ch.ID, owner.ID)
	if got == nil || got.LastReadMessageID != put.LastReadMessageID {
		t.Errorf("marker round trip = %+v", got)
	}

	// Re-putting replaces rather than duplicates.
	if _, err := s.PutReadMarker(ctx, model.ReadMarker{
		ConversationID: ch.ID, UserID: owner.ID, UpdatedAt: ident.NowString(),
	}); err != nil {
		t.Fatalf("second PutReadMarker() error = %v", err)
	}
	got, _ = s.GetReadMarker(ctx, ch.ID, owner.ID)
	if got.LastReadMessageID != "" {
		t.Errorf("marker after clear = %+v", got)
	}
}

func testPushSubscriptionUpsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := mkUser(t, s, "alice")

	first, err := s.UpsertPushSubscription(ctx, model.PushSubscription{
		ID: ident.New(ident.PrefixPush), UserID: u.ID, Endpoint: "https://push/1",
		P256DH: "k1", Auth: "a1", CreatedAt: ident.NowString(), UpdatedAt: ident.NowString(),
	})
	if err != nil {
		t.Fatalf("first upsert error = %v", err)
	}

	// Same (user, endpoint): same id, refreshed keys/ua/updatedAt.
	second, err := s.UpsertPushSubscription(ctx, model.PushSubscription{
		ID: ident.New(ident.PrefixPush), UserID: u.ID, Endpoint: "https://push/1",
		P256DH: "k2", Auth: "a2", UserAgent: "ua", CreatedAt: ident.NowString(), UpdatedAt: ident.NowString(),
	})
	if err != nil {
		t.Fatalf("second upsert error = %v", err)
	}
	if second.ID != first.ID || second.P256DH != "k2" || second.UserAgent != "ua" {
		t.Errorf("upsert = %+v", second)
	}
	if second.UpdatedAt <= first.UpdatedAt {
		t.Errorf("updatedAt not refreshed: %s <= %s", second.UpdatedAt, first.UpdatedAt)
	}

	subs, _ := s.ListPushSubscriptions(ctx, u.ID)
	if len(subs) != 1 {
		t.Errorf("subscriptions = %d, want 1", len(subs))
	}

	if err := s.DeletePushSubscription(ctx, u.ID, first.ID); err != nil {
		t.Fatalf("DeletePushSubscription() error = %v", err)
	}
	if subs, _ := s.ListPushSubscriptions(ctx, u.ID); len(subs) != 0 {
		t.Error("subscription survived deletion")
	}
}

func testAppealConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := mkUser(t, s, "alice")
	owner := mkUser(t, s, "owner")
	srv := mkServer(t, s, owner.ID)

	if _, err := s.CreateAppeal(ctx, model.Appeal{
		ID: ident.New(ident.PrefixAppeal), UserID: u.ID, ServerID: srv.ID,
		Body: "please", CreatedAt: ident.NowString(),
	}); err != nil {
		t.Fatalf("first appeal error = %v", err)
	}
	if _, err := s.CreateAppeal(ctx, model.Appeal{
		ID: ident.New(ident.PrefixAppeal), UserID: u.ID, ServerID: srv.ID,
		Body: "again", CreatedAt: ident.NowString(),
	}); err != store.ErrOpenAppeal {
		t.Errorf("second appeal error = %v, want ErrOpenAppeal", err)
	}
}

func testDeleteServerCascade(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := mkUser(t, s, "owner")
	srv := mkServer(t, s, owner.ID)
	ch := mkChannel(t, s, srv.ID, "general")
	msg := mkMessage(t, s, ch.ID, owner.ID, "hello")
	if _, err := s.PutReadMarker(ctx, model.ReadMarker{
		ConversationID: ch.ID, UserID: owner.ID, LastReadMessageID: msg.ID, UpdatedAt: ident.NowString(),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertOverwrite(ctx, model.Overwrite{
		ID: ident.New(ident.PrefixOverwrite), ChannelID: ch.ID,
		TargetType: model.OverwriteMember, TargetID: owner.ID,
		Deny: []string{"send_messages"}, CreatedAt: ident.NowString(),
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteServer(ctx, srv.ID); err != nil {
		t.Fatalf("DeleteServer() error = %v", err)
	}

	if got, _ := s.GetServer(ctx, srv.ID); got != nil {
		t.Error("server survived deletion")
	}
	if got, _ := s.GetChannel(ctx, ch.ID); got != nil {
		t.Error("channel survived cascade")
	}
	if got, _ := s.GetMessage(ctx, msg.ID); got != nil {
		t.Error("message survived cascade")
	}
	if marker, _ := s.GetReadMarker(ctx, ch.ID, owner.ID); marker != nil {
		t.Error("read marker survived cascade")
	}
	if roles, _ := s.ListRoles(ctx, srv.ID); len(roles) != 0 {
		t.Error("roles survived cascade")
	}
	if overwrites, _ := s.ListOverwrites(ctx, ch.ID); len(overwrites) != 0 {
		t.Error("overwrites survived cascade")
	}
}

func testDeleteUserCascade(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := mkUser(t, s, "alice")
	b := mkUser(t, s, "bob")
	srv := mkServer(t, s, b.ID)
	ch := mkChannel(t, s, srv.ID, "general")
	if err := s.AddServerMember(ctx, srv.ID, a.ID, ident.NowString()); err != nil {
		t.Fatal(err)
	}
	msg := mkMessage(t, s, ch.ID, a.ID, "kept")

	token := ident.New(ident.PrefixToken)
	if err := s.CreateSession(ctx, model.Session{Token: token, UserID: a.ID, CreatedAt: ident.NowString()}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddFriend(ctx, a.ID, b.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertPushSubscription(ctx, model.PushSubscription{
		ID: ident.New(ident.PrefixPush), UserID: a.ID, Endpoint: "https://push/1",
		P256DH: "k", Auth: "a", CreatedAt: ident.NowString(), UpdatedAt: ident.NowString(),
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteUser(ctx, a.ID); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}

	if sess, _ := s.GetSession(ctx, token); sess != nil {
		t.Error("session survived user deletion")
	}
	if ok, _ := s.AreFriends(ctx, b.ID, a.ID); ok {
		t.Error("friendship survived user deletion")
	}
	if member, _ := s.IsServerMember(ctx, srv.ID, a.ID); member {
		t.Error("membership survived user deletion")
	}
	if subs, _ := s.ListPushSubscriptions(ctx, a.ID); len(subs) != 0 {
		t.Error("push subscription survived user deletion")
	}
	// Authored messages keep their (now dangling) authorId.
	got, _ := s.GetMessage(ctx, msg.ID)
	if got == nil || got.AuthorID != a.ID {
		t.Error("authored message lost its authorId")
	}
}

func testSearchCapsAndFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	caller := mkUser(t, s, "searcher")
	for i := 0; i < 25; i++ {
		mkUser(t, s, "search"+strconv.Itoa(i))
	}

	users, err := s.SearchUsers(ctx, "search", caller.ID)
	if err != nil {
		t.Fatalf("SearchUsers() error = %v", err)
	}
	if len(users) != store.UserSearchLimit {
		t.Errorf("user results = %d, want %d", len(users), store.UserSearchLimit)
	}
	for _, u := range users {
		if u.ID == caller.ID {
			t.Error("results include the caller")
		}
	}

	srv := mkServer(t, s, caller.ID)
	open := mkChannel(t, s, srv.ID, "announcements")
	hiddenCh := mkChannel(t, s, srv.ID, "announcements-staff")
	mkMessage(t, s, open.ID, caller.ID, "the plan")
	mkMessage(t, s, hiddenCh.ID, caller.ID, "the secret plan")

	canRead := func(channelID string) bool { return channelID == open.ID }

	channels, err := s.SearchChannels(ctx, "announce", "", 10, canRead)
	if err != nil {
		t.Fatalf("SearchChannels() error = %v", err)
	}
	if len(channels) != 1 || channels[0].ID != open.ID {
		t.Errorf("channel results = %+v", channels)
	}

	messages, err := s.SearchMessages(ctx, "plan", "", 10, canRead)
	if err != nil {
		t.Fatalf("SearchMessages() error = %v", err)
	}
	if len(messages) != 1 || messages[0].ChannelID != open.ID {
		t.Errorf("message results = %+v", messages)
	}
}
