// Package store defines the persistence contract shared by the in-memory and
// PostgreSQL implementations. The in-memory store is the reference semantics;
// the relational store must be observably equivalent, and the contract tests
// in storetest run the same scripts against both.
//
// Conventions: lookups return (nil, nil) when the entity does not exist;
// precondition violations return one of the typed errors below; anything else
// is an internal failure the handlers map to a 500.
package store

import (
	"context"
	"errors"

	"github.com/mango-chat/mango-server/internal/model"
)

// Typed errors for precondition violations.
var (
	ErrDuplicateEmail        = errors.New("email is already registered")
	ErrDuplicateUsername     = errors.New("username is already taken")
	ErrAlreadyFriends        = errors.New("users are already friends")
	ErrRequestPending        = errors.New("a friend request between these users is already pending")
	ErrRequestClosed         = errors.New("friend request is no longer pending")
	ErrNotRequestRecipient   = errors.New("only the recipient can respond to a friend request")
	ErrBanned                = errors.New("user is banned from this server")
	ErrTimeoutRequiresExpiry = errors.New("timeout requires an expiry")
	ErrThreadParticipants    = errors.New("a direct thread requires at least two existing users")
	ErrOpenAppeal            = errors.New("an open appeal already exists")
	ErrOwnerCannotLeave      = errors.New("the server owner cannot leave")
)

// Search limits shared by both implementations.
const (
	UserSearchLimit = 20
	SearchMaxLimit  = 100
)

// CreateServerSeed groups the entities of the create-server composite: the
// server row, its @everyone role, its Owner role, and the owner membership.
// The store inserts all of them in one logical transaction.
type CreateServerSeed struct {
	Server      model.Server
	DefaultRole model.Role
	OwnerRole   model.Role
}

// ThreadSeed carries the hidden backing entities allocated for a new direct
// thread. When DM deduplication finds an existing thread, the seed is
// discarded and the existing thread returned.
type ThreadSeed struct {
	Thread  model.DirectThread
	Backing CreateServerSeed
	Channel model.Channel
}

// Store is the unified persistence contract.
type Store interface {
	// Users.
	CreateUser(ctx context.Context, u model.User) (*model.User, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	SearchUsers(ctx context.Context, q, excludeUserID string) ([]model.User, error)
	DeleteUser(ctx context.Context, id string) error

	// Sessions.
	CreateSession(ctx context.Context, s model.Session) error
	GetSession(ctx context.Context, token string) (*model.Session, error)
	DeleteSession(ctx context.Context, token string) error

	// Friends.
	ListFriends(ctx context.Context, userID string) ([]string, error)
	AreFriends(ctx context.Context, a, b string) (bool, error)
	AddFriend(ctx context.Context, a, b string) error
	RemoveFriend(ctx context.Context, a, b string) error
	CreateFriendRequest(ctx context.Context, req model.FriendRequest) (*model.FriendRequest, error)
	ListFriendRequests(ctx context.Context, userID string) ([]model.FriendRequest, error)
	GetFriendRequest(ctx context.Context, id string) (*model.FriendRequest, error)
	RespondFriendRequest(ctx context.Context, id, responderID string, accept bool) (*model.FriendRequest, error)

	// Servers and members.
	CreateServer(ctx context.Context, seed CreateServerSeed) (*model.Server, error)
	GetServer(ctx context.Context, serverID string) (*model.Server, error)
	ListServersForUser(ctx context.Context, userID string) ([]model.Server, error)
	DeleteServer(ctx context.Context, serverID string) error
	AddServerMember(ctx context.Context, serverID, userID, joinedAt string) error
	RemoveServerMember(ctx context.Context, serverID, userID string) error
	ListServerMembers(ctx context.Context, serverID string) ([]model.Member, error)
	IsServerMember(ctx context.Context, serverID, userID string) (bool, error)
	MemberRoleIDs(ctx context.Context, serverID, userID string) ([]string, error)
	AssignRole(ctx context.Context, serverID, userID, roleID string) error
	UnassignRole(ctx context.Context, serverID, userID, roleID string) error

	// Roles.
	CreateRole(ctx context.Context, r model.Role) (*model.Role, error)
	GetRole(ctx context.Context, roleID string) (*model.Role, error)
	ListRoles(ctx context.Context, serverID string) ([]model.Role, error)
	DeleteRole(ctx context.Context, roleID string) error

	// Channels and overwrites.
	CreateChannel(ctx context.Context, ch model.Channel) (*model.Channel, error)
	GetChannel(ctx context.Context, channelID string) (*model.Channel, error)
	ListChannels(ctx context.Context, serverID string) ([]model.Channel, error)
	RenameChannel(ctx context.Context, channelID, name string) (*model.Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
	SearchChannels(ctx context.Context, q, serverID string, limit int, canRead func(channelID string) bool) ([]model.Channel, error)
	UpsertOverwrite(ctx context.Context, o model.Overwrite) (*model.Overwrite, error)
	ListOverwrites(ctx context.Context, channelID string) ([]model.Overwrite, error)
	DeleteOverwrite(ctx context.Context, channelID, targetType, targetID string) error

	// Messages.
	CreateMessage(ctx context.Context, m model.Message) (*model.Message, error)
	GetMessage(ctx context.Context, messageID string) (*model.Message, error)
	ListMessages(ctx context.Context, channelID string) ([]model.Message, error)
	UpdateMessage(ctx context.Context, messageID, body, updatedAt string) (*model.Message, error)
	DeleteMessage(ctx context.Context, messageID string) (*model.Message, error)
	SearchMessages(ctx context.Context, q, serverID string, limit int, canRead func(channelID string) bool) ([]model.Message, error)

	// Reactions. Both return the post-mutation summary and whether the set
	// actually changed (duplicate adds and missing removes are no-ops).
	AddReaction(ctx context.Context, messageID, userID, emoji string) ([]model.ReactionCount, bool, error)
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) ([]model.ReactionCount, bool, error)

	// Direct threads.
	CreateDirectThread(ctx context.Context, seed ThreadSeed) (*model.DirectThread, bool, error)
	GetDirectThread(ctx context.Context, threadID string) (*model.DirectThread, error)
	ListDirectThreadsForUser(ctx context.Context, userID string) ([]model.DirectThread, error)
	TouchDirectThread(ctx context.Context, threadID, updatedAt string) error
	LeaveDirectThread(ctx context.Context, threadID, userID, updatedAt string) (remaining int, err error)

	// Read markers.
	GetReadMarker(ctx context.Context, conversationID, userID string) (*model.ReadMarker, error)
	PutReadMarker(ctx context.Context, m model.ReadMarker) (*model.ReadMarker, error)
	MessageInConversation(ctx context.Context, conversationID, messageID string) (bool, error)

	// Invites.
	CreateInvite(ctx context.Context, inv model.Invite) (*model.Invite, error)
	GetInvite(ctx context.Context, code string) (*model.Invite, error)
	ListInvites(ctx context.Context, serverID string) ([]model.Invite, error)
	DeleteInvite(ctx context.Context, serverID, code string) error
	JoinServerByInvite(ctx context.Context, code, userID, joinedAt string) (*model.Server, error)

	// Moderation and audit.
	ApplyModeration(ctx context.Context, action model.ModerationAction) (*model.ModerationAction, error)
	IsBanned(ctx context.Context, serverID, userID string) (bool, error)
	HasActiveTimeout(ctx context.Context, serverID, userID string) (bool, error)
	ListBans(ctx context.Context, serverID string) ([]string, error)
	AppendAudit(ctx context.Context, e model.AuditLogEntry) error
	ListAuditLog(ctx context.Context, serverID string) ([]model.AuditLogEntry, error)

	// Push subscriptions.
	UpsertPushSubscription(ctx context.Context, sub model.PushSubscription) (*model.PushSubscription, error)
	ListPushSubscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, userID, id string) error

	// Safety.
	CreateReport(ctx context.Context, r model.Report) (*model.Report, error)
	ListReports(ctx context.Context, serverID string) ([]model.Report, error)
	CreateAppeal(ctx context.Context, a model.Appeal) (*model.Appeal, error)
	ListAppeals(ctx context.Context, userID string) ([]model.Appeal, error)

	// Webhooks.
	CreateWebhook(ctx context.Context, w model.Webhook) (*model.Webhook, error)
	GetWebhook(ctx context.Context, id string) (*model.Webhook, error)
	ListWebhooks(ctx context.Context, channelID string) ([]model.Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error

	// Ping verifies connectivity for the health endpoint.
	Ping(ctx context.Context) error
}
