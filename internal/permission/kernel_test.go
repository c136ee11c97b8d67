package permission

import (
	"testing"

	"github.com/mango-chat/mango-server/internal/model"
)

func TestCapabilityStrings_RoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []string
		want Capability
	}{
		{"empty", nil, 0},
		{"single", []string{"read_messages"}, ReadMessages},
		{"all", []string{"manage_server", "manage_channels", "read_messages", "send_messages"}, All},
		{"unknown ignored", []string{"read_messages", "fly"}, ReadMessages},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := FromNames(tt.in)
			if got != tt.want {
				t.Errorf("FromNames(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func kernelFixture() (srv model.Server, roles []model.Role) {
	srv = model.Server{ID: "srv_1", OwnerID: "usr_owner"}
	roles = []model.Role{
		{ID: "rol_everyone", ServerID: srv.ID, Permissions: []string{"read_messages", "send_messages"}, IsDefault: true},
		{ID: "rol_muted", ServerID: srv.ID, Permissions: []string{"read_messages", "send_messages"}},
		{ID: "rol_mod", ServerID: srv.ID, Permissions: []string{"manage_channels"}},
	}
	return srv, roles
}

func TestEvaluate_OwnerBypass(t *testing.T) {
	t.Parallel()
	srv, roles := kernelFixture()
	got := Evaluate(Input{Server: &srv, UserID: "usr_owner", Roles: roles})
	if got != All {
		t.Errorf("owner capabilities = %v, want All", got)
	}
}

func TestEvaluate_RoleUnion(t *testing.T) {
	t.Parallel()
	srv, roles := kernelFixture()
	got := Evaluate(Input{
		Server:        &srv,
		UserID:        "usr_a",
		Roles:         roles,
		MemberRoleIDs: []string{"rol_everyone", "rol_mod"},
	})
	want := ReadMessages | SendMessages | ManageChannels
	if got != want {
		t.Errorf("capabilities = %v, want %v", got, want)
	}
}

func TestEvaluate_RoleOverwriteDeniesSend(t *testing.T) {
	t.Parallel()
	srv, roles := kernelFixture()
	got := Evaluate(Input{
		Server:        &srv,
		UserID:        "usr_a",
		Roles:         roles,
		MemberRoleIDs: []string{"rol_everyone", "rol_muted"},
		Overwrites: []model.Overwrite{
			{TargetType: model.OverwriteRole, TargetID: "rol_muted", Deny: []string{"send_messages"}},
		},
		IncludeChannelOverwrites: true,
	})
	if got.Has(SendMessages) {
		t.Error("role deny did not remove send_messages")
	}
	if !got.Has(ReadMessages) {
		t.Error("role deny removed read_messages")
	}
}

func TestEvaluate_MemberOverwriteDominatesRole(t *testing.T) {
	t.Parallel()
	srv, roles := kernelFixture()
	got := Evaluate(Input{
		Server:        &srv,
		UserID:        "usr_a",
		Roles:         roles,
		MemberRoleIDs: []string{"rol_everyone", "rol_muted"},
		Overwrites: []model.Overwrite{
			{TargetType: model.OverwriteRole, TargetID: "rol_muted", Deny: []string{"send_messages"}},
			{TargetType: model.OverwriteMember, TargetID: "usr_a", Allow: []string{"send_messages"}},
		},
		IncludeChannelOverwrites: true,
	})
	if !got.Has(SendMessages) {
		t.Error("member allow did not dominate role deny")
	}
}

func TestEvaluate_RoleOverwritesOrderIndependent(t *testing.T) {
	t.Parallel()
	srv, roles := kernelFixture()
	overwrites := []model.Overwrite{
		{TargetType: model.OverwriteRole, TargetID: "rol_muted", Deny: []string{"send_messages"}},
		{TargetType: model.OverwriteRole, TargetID: "rol_mod", Allow: []string{"send_messages"}},
	}
	in := Input{
		Server:                   &srv,
		UserID:                   "usr_a",
		Roles:                    roles,
		MemberRoleIDs:            []string{"rol_everyone", "rol_muted", "rol_mod"},
		Overwrites:               overwrites,
		IncludeChannelOverwrites: true,
	}
	first := Evaluate(in)

	in.Overwrites = []model.Overwrite{overwrites[1], overwrites[0]}
	second := Evaluate(in)

	if first != second {
		t.Errorf("overwrite order changed the result: %v != %v", first, second)
	}
	// Allows are applied after denies at the role level.
	if !first.Has(SendMessages) {
		t.Error("same-level allow did not survive deny")
	}
}

func TestEvaluate_OverwritesSkippedWithoutFlag(t *testing.T) {
	t.Parallel()
	srv, roles := kernelFixture()
	got := Evaluate(Input{
		Server:        &srv,
		UserID:        "usr_a",
		Roles:         roles,
		MemberRoleIDs: []string{"rol_everyone"},
		Overwrites: []model.Overwrite{
			{TargetType: model.OverwriteMember, TargetID: "usr_a", Deny: []string{"read_messages", "send_messages"}},
		},
	})
	if !got.Has(ReadMessages) {
		t.Error("server-level resolution applied channel overwrites")
	}
}

func TestEvaluate_OtherMembersOverwriteIgnored(t *testing.T) {
	t.Parallel()
	srv, roles := kernelFixture()
	got := Evaluate(Input{
		Server:        &srv,
		UserID:        "usr_a",
		Roles:         roles,
		MemberRoleIDs: []string{"rol_everyone"},
		Overwrites: []model.Overwrite{
			{TargetType: model.OverwriteMember, TargetID: "usr_b", Deny: []string{"send_messages"}},
			{TargetType: model.OverwriteRole, TargetID: "rol_unheld", Deny: []string{"send_messages"}},
		},
		IncludeChannelOverwrites: true,
	})
	if !got.Has(SendMessages) {
		t.Error("overwrites for other principals affected the user")
	}
}
