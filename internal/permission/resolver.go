package permission

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mango-chat/mango-server/internal/model"
)

// Store is the slice of the persistence contract the resolver reads. Both
// store implementations satisfy it. Lookups return nil (not an error) when
// the entity does not exist.
type Store interface {
	GetServer(ctx context.Context, serverID string) (*model.Server, error)
	GetChannel(ctx context.Context, channelID string) (*model.Channel, error)
	ListRoles(ctx context.Context, serverID string) ([]model.Role, error)
	MemberRoleIDs(ctx context.Context, serverID, userID string) ([]string, error)
	IsServerMember(ctx context.Context, serverID, userID string) (bool, error)
	ListOverwrites(ctx context.Context, channelID string) ([]model.Overwrite, error)
	IsBanned(ctx context.Context, serverID, userID string) (bool, error)
	HasActiveTimeout(ctx context.Context, serverID, userID string) (bool, error)
	GetDirectThread(ctx context.Context, threadID string) (*model.DirectThread, error)
}

// Resolver loads kernel inputs from the store, runs Evaluate, and applies the
// two post-grant gates: a ban denies everything in that server, and an active
// timeout denies send_messages.
type Resolver struct {
	store Store
	log   zerolog.Logger
}

// NewResolver creates a resolver over the given store.
func NewResolver(store Store, logger zerolog.Logger) *Resolver {
	return &Resolver{store: store, log: logger.With().Str("component", "permission").Logger()}
}

// ResolveChannel returns the effective capability set for a user in a channel
// after both gates. The channel is returned so callers avoid a second lookup;
// it is nil when the channel does not exist.
func (r *Resolver) ResolveChannel(ctx context.Context, userID, channelID string) (Capability, *model.Channel, error) {
	ch, err := r.store.GetChannel(ctx, channelID)
	if err != nil {
		return 0, nil, fmt.Errorf("get channel: %w", err)
	}
	if ch == nil {
		return 0, nil, nil
	}

	eff, err := r.resolve(ctx, userID, ch.ServerID, channelID)
	if err != nil {
		return 0, ch, err
	}
	return eff, ch, nil
}

// ResolveServer returns the effective server-level capability set (no channel
// overwrites) after the ban gate.
func (r *Resolver) ResolveServer(ctx context.Context, userID, serverID string) (Capability, error) {
	return r.resolve(ctx, userID, serverID, "")
}

// HasServerPermission checks one capability at the server level.
func (r *Resolver) HasServerPermission(ctx context.Context, userID, serverID string, cap Capability) (bool, error) {
	eff, err := r.ResolveServer(ctx, userID, serverID)
	if err != nil {
		return false, err
	}
	return eff.Has(cap), nil
}

// CanReadChannel reports whether the user may read the channel. Non-members
// of the owning server can never read, regardless of overwrites.
func (r *Resolver) CanReadChannel(ctx context.Context, userID, channelID string) (bool, error) {
	eff, ch, err := r.ResolveChannel(ctx, userID, channelID)
	if err != nil || ch == nil {
		return false, err
	}
	member, err := r.store.IsServerMember(ctx, ch.ServerID, userID)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return member && eff.Has(ReadMessages), nil
}

// CanSendChannel reports whether the user may post to the channel. The
// timeout gate applies here on top of the grant.
func (r *Resolver) CanSendChannel(ctx context.Context, userID, channelID string) (bool, error) {
	eff, ch, err := r.ResolveChannel(ctx, userID, channelID)
	if err != nil || ch == nil {
		return false, err
	}
	member, err := r.store.IsServerMember(ctx, ch.ServerID, userID)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	if !member || !eff.Has(SendMessages) {
		return false, nil
	}

	timedOut, err := r.store.HasActiveTimeout(ctx, ch.ServerID, userID)
	if err != nil {
		return false, fmt.Errorf("check timeout: %w", err)
	}
	return !timedOut, nil
}

// IsThreadParticipant reports whether the user participates in the direct
// thread. Returns false (without error) for unknown threads.
func (r *Resolver) IsThreadParticipant(ctx context.Context, userID, threadID string) (bool, error) {
	thread, err := r.store.GetDirectThread(ctx, threadID)
	if err != nil {
		return false, fmt.Errorf("get direct thread: %w", err)
	}
	if thread == nil {
		return false, nil
	}
	for _, p := range thread.ParticipantIDs {
		if p == userID {
			return true, nil
		}
	}
	return false, nil
}

// resolve runs the kernel with inputs loaded from the store. channelID may be
// empty for server-level resolution; overwrites are then skipped.
func (r *Resolver) resolve(ctx context.Context, userID, serverID, channelID string) (Capability, error) {
	banned, err := r.store.IsBanned(ctx, serverID, userID)
	if err != nil {
		return 0, fmt.Errorf("check ban: %w", err)
	}
	if banned {
		return 0, nil
	}

	srv, err := r.store.GetServer(ctx, serverID)
	if err != nil {
		return 0, fmt.Errorf("get server: %w", err)
	}
	if srv == nil {
		return 0, nil
	}

	roles, err := r.store.ListRoles(ctx, serverID)
	if err != nil {
		return 0, fmt.Errorf("list roles: %w", err)
	}
	roleIDs, err := r.store.MemberRoleIDs(ctx, serverID, userID)
	if err != nil {
		return 0, fmt.Errorf("member role ids: %w", err)
	}

	// Every member implicitly holds the default role.
	member, err := r.store.IsServerMember(ctx, serverID, userID)
	if err != nil {
		return 0, fmt.Errorf("check membership: %w", err)
	}
	if member {
		for _, role := range roles {
			if role.IsDefault {
				roleIDs = append(roleIDs, role.ID)
				break
			}
		}
	}

	in := Input{
		Server:        srv,
		UserID:        userID,
		Roles:         roles,
		MemberRoleIDs: roleIDs,
	}

	if channelID != "" {
		overwrites, err := r.store.ListOverwrites(ctx, channelID)
		if err != nil {
			return 0, fmt.Errorf("list overwrites: %w", err)
		}
		in.Overwrites = overwrites
		in.IncludeChannelOverwrites = true
	}

	return Evaluate(in), nil
}
