package permission

import (
	"github.com/mango-chat/mango-server/internal/model"
)

// Input carries everything the kernel needs to make a decision. The caller
// (normally the Resolver) is responsible for loading these from the store.
type Input struct {
	Server                   *model.Server
	UserID                   string
	Roles                    []model.Role
	MemberRoleIDs            []string
	Overwrites               []model.Overwrite
	IncludeChannelOverwrites bool
}

// Evaluate computes the effective capability set for a user:
//
//  1. The server owner holds everything.
//  2. Base = union of the permissions of every role the member holds.
//  3. With channel overwrites enabled, role-scoped overwrites for held roles
//     apply first (subtract denies, add allows), then the member-scoped
//     overwrite applies on top and is final.
//
// Equal-priority role overwrites are order-independent because allows and
// denies are unioned before they are applied.
func Evaluate(in Input) Capability {
	if in.Server != nil && in.UserID == in.Server.OwnerID {
		return All
	}

	held := make(map[string]struct{}, len(in.MemberRoleIDs))
	for _, id := range in.MemberRoleIDs {
		held[id] = struct{}{}
	}

	var base Capability
	for _, r := range in.Roles {
		if _, ok := held[r.ID]; ok {
			base = base.Add(FromNames(r.Permissions))
		}
	}

	if !in.IncludeChannelOverwrites {
		return base
	}

	var roleAllow, roleDeny Capability
	var memberOverwrite *model.Overwrite
	for i := range in.Overwrites {
		o := &in.Overwrites[i]
		switch o.TargetType {
		case model.OverwriteMember:
			if o.TargetID == in.UserID {
				memberOverwrite = o
			}
		case model.OverwriteRole:
			if _, ok := held[o.TargetID]; ok {
				roleAllow = roleAllow.Add(FromNames(o.Allow))
				roleDeny = roleDeny.Add(FromNames(o.Deny))
			}
		}
	}

	base = base.Remove(roleDeny)
	base = base.Add(roleAllow)

	if memberOverwrite != nil {
		base = base.Remove(FromNames(memberOverwrite.Deny))
		base = base.Add(FromNames(memberOverwrite.Allow))
	}

	return base
}
