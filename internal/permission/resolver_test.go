package permission

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mango-chat/mango-server/internal/ident"
	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/store"
	"github.com/mango-chat/mango-server/internal/store/memory"
)

type fixture struct {
	store    *memory.Store
	resolver *Resolver
	owner    *model.User
	member   *model.User
	server   *model.Server
	channel  *model.Channel
	muted    *model.Role
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memory.New()

	mkUser := func(name string) *model.User {
		u, err := s.CreateUser(ctx, model.User{
			ID: ident.New(ident.PrefixUser), Email: name + "@example.com", Username: name,
			DisplayName: name + " d", CreatedAt: ident.NowString(),
		})
		if err != nil {
			t.Fatalf("create user: %v", err)
		}
		return u
	}

	owner := mkUser("owner")
	member := mkUser("member")

	serverID := ident.New(ident.PrefixServer)
	now := ident.NowString()
	srv, err := s.CreateServer(ctx, store.CreateServerSeed{
		Server: model.Server{ID: serverID, Name: "Alpha", OwnerID: owner.ID, CreatedAt: now},
		DefaultRole: model.Role{
			ID: ident.New(ident.PrefixRole), ServerID: serverID, Name: "@everyone",
			Permissions: []string{NameReadMessages, NameSendMessages}, IsDefault: true, CreatedAt: now,
		},
		OwnerRole: model.Role{
			ID: ident.New(ident.PrefixRole), ServerID: serverID, Name: "Owner",
			Permissions: All.Strings(), CreatedAt: now,
		},
	})
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	if err := s.AddServerMember(ctx, srv.ID, member.ID, now); err != nil {
		t.Fatalf("add member: %v", err)
	}

	ch, err := s.CreateChannel(ctx, model.Channel{
		ID: ident.New(ident.PrefixChannel), ServerID: srv.ID, Name: "general",
		Type: model.ChannelText, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}

	muted, err := s.CreateRole(ctx, model.Role{
		ID: ident.New(ident.PrefixRole), ServerID: srv.ID, Name: "Muted",
		Permissions: []string{NameReadMessages, NameSendMessages}, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("create role: %v", err)
	}

	return &fixture{
		store:    s,
		resolver: NewResolver(s, zerolog.Nop()),
		owner:    owner,
		member:   member,
		server:   srv,
		channel:  ch,
		muted:    muted,
	}
}

func TestResolver_MemberHoldsDefaultRole(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	ok, err := f.resolver.CanReadChannel(ctx, f.member.ID, f.channel.ID)
	if err != nil || !ok {
		t.Errorf("CanReadChannel = %v, %v; want true", ok, err)
	}
	ok, err = f.resolver.CanSendChannel(ctx, f.member.ID, f.channel.ID)
	if err != nil || !ok {
		t.Errorf("CanSendChannel = %v, %v; want true", ok, err)
	}
}

func TestResolver_NonMemberCannotRead(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	outsider, err := f.store.CreateUser(ctx, model.User{
		ID: ident.New(ident.PrefixUser), Email: "out@example.com", Username: "outsider",
		DisplayName: "Out", CreatedAt: ident.NowString(),
	})
	if err != nil {
		t.Fatal(err)
	}

	ok, err := f.resolver.CanReadChannel(ctx, outsider.ID, f.channel.ID)
	if err != nil || ok {
		t.Errorf("outsider CanReadChannel = %v, %v; want false", ok, err)
	}
}

func TestResolver_OverwriteDeniesSendButNotRead(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if err := f.store.AssignRole(ctx, f.server.ID, f.member.ID, f.muted.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.UpsertOverwrite(ctx, model.Overwrite{
		ID: ident.New(ident.PrefixOverwrite), ChannelID: f.channel.ID,
		TargetType: model.OverwriteRole, TargetID: f.muted.ID,
		Deny: []string{NameSendMessages}, CreatedAt: ident.NowString(),
	}); err != nil {
		t.Fatal(err)
	}

	ok, _ := f.resolver.CanSendChannel(ctx, f.member.ID, f.channel.ID)
	if ok {
		t.Error("deny overwrite did not block send")
	}
	ok, _ = f.resolver.CanReadChannel(ctx, f.member.ID, f.channel.ID)
	if !ok {
		t.Error("deny overwrite blocked read")
	}
}

func TestResolver_TimeoutGatesSendOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.store.ApplyModeration(ctx, model.ModerationAction{
		ID: ident.New(ident.PrefixModeration), ServerID: f.server.ID, ActorID: f.owner.ID,
		TargetUserID: f.member.ID, ActionType: model.ActionTimeout,
		ExpiresAt: "2999-01-01T00:00:00.000000000Z", CreatedAt: ident.NowString(),
	}); err != nil {
		t.Fatal(err)
	}

	ok, _ := f.resolver.CanSendChannel(ctx, f.member.ID, f.channel.ID)
	if ok {
		t.Error("timed-out member can send")
	}
	ok, _ = f.resolver.CanReadChannel(ctx, f.member.ID, f.channel.ID)
	if !ok {
		t.Error("timeout blocked read")
	}
}

func TestResolver_BanDeniesEverything(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.store.ApplyModeration(ctx, model.ModerationAction{
		ID: ident.New(ident.PrefixModeration), ServerID: f.server.ID, ActorID: f.owner.ID,
		TargetUserID: f.member.ID, ActionType: model.ActionBan, CreatedAt: ident.NowString(),
	}); err != nil {
		t.Fatal(err)
	}

	eff, err := f.resolver.ResolveServer(ctx, f.member.ID, f.server.ID)
	if err != nil {
		t.Fatal(err)
	}
	if eff != 0 {
		t.Errorf("banned member capabilities = %v, want none", eff)
	}
}

func TestResolver_OwnerHasEverything(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	eff, err := f.resolver.ResolveServer(context.Background(), f.owner.ID, f.server.ID)
	if err != nil {
		t.Fatal(err)
	}
	if eff != All {
		t.Errorf("owner capabilities = %v, want All", eff)
	}
}

func TestResolver_UnknownChannel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	eff, ch, err := f.resolver.ResolveChannel(context.Background(), f.member.ID, "chn_missing")
	if err != nil {
		t.Fatal(err)
	}
	if ch != nil || eff != 0 {
		t.Errorf("unknown channel resolved to %v, %v", eff, ch)
	}
}
