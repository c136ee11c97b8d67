// Package model holds the entity types shared by the store implementations,
// the HTTP handlers, and the gateway. Timestamps are the fixed-format UTC
// strings produced by the ident package; ordering two of them as strings
// orders them in time.
package model

// User is the public account record. PasswordHash never crosses the wire.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Username     string `json:"username"`
	DisplayName  string `json:"displayName"`
	CreatedAt    string `json:"createdAt"`
	PasswordHash string `json:"-"`
}

// Session binds an opaque bearer token to a user. One session per login.
type Session struct {
	Token     string `json:"token"`
	UserID    string `json:"userId"`
	CreatedAt string `json:"createdAt"`
}

// Server is a community owning members, roles, channels, and invites.
type Server struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OwnerID   string `json:"ownerId"`
	CreatedAt string `json:"createdAt"`

	// Hidden marks the backing server of a direct thread. Hidden servers are
	// excluded from listings and joinable surfaces.
	Hidden bool `json:"-"`
}

// Member is the (server, user) membership relation.
type Member struct {
	ServerID string   `json:"serverId"`
	UserID   string   `json:"userId"`
	JoinedAt string   `json:"joinedAt"`
	RoleIDs  []string `json:"roleIds"`
}

// Role carries a named set of capabilities inside a server. Exactly one role
// per server has IsDefault set.
type Role struct {
	ID          string   `json:"id"`
	ServerID    string   `json:"serverId"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	IsDefault   bool     `json:"isDefault"`
	CreatedAt   string   `json:"createdAt"`
}

// Channel types.
const (
	ChannelText  = "text"
	ChannelVoice = "voice"
)

// Channel is a named conversation inside a server.
type Channel struct {
	ID        string `json:"id"`
	ServerID  string `json:"serverId"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	CreatedAt string `json:"createdAt"`
}

// Overwrite target types.
const (
	OverwriteRole   = "role"
	OverwriteMember = "member"
)

// Overwrite is a per-channel allow/deny of capabilities, keyed by role or
// member. Unique per (channelId, targetType, targetId).
type Overwrite struct {
	ID         string   `json:"id"`
	ChannelID  string   `json:"channelId"`
	TargetType string   `json:"targetType"`
	TargetID   string   `json:"targetId"`
	Allow      []string `json:"allow"`
	Deny       []string `json:"deny"`
	CreatedAt  string   `json:"createdAt"`
}

// Attachment metadata stored by value inside a message. The bytes themselves
// live in the external upload service; only metadata travels here.
type Attachment struct {
	ID          string `json:"id"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
	URL         string `json:"url"`
	UploadedBy  string `json:"uploadedBy"`
	CreatedAt   string `json:"createdAt"`
}

// ReactionCount is one row of a message's reaction summary: a distinct emoji
// with the number of distinct users who reacted with it.
type ReactionCount struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

// Message is a single entry in a conversation. ConversationID equals
// DirectThreadID when the message belongs to a direct thread, and ChannelID
// otherwise.
type Message struct {
	ID             string          `json:"id"`
	ChannelID      string          `json:"channelId"`
	ConversationID string          `json:"conversationId"`
	DirectThreadID string          `json:"directThreadId,omitempty"`
	AuthorID       string          `json:"authorId"`
	Body           string          `json:"body"`
	Attachments    []Attachment    `json:"attachments"`
	Reactions      []ReactionCount `json:"reactions"`
	CreatedAt      string          `json:"createdAt"`
	UpdatedAt      string          `json:"updatedAt,omitempty"`
}

// Direct thread kinds.
const (
	ThreadDM    = "dm"
	ThreadGroup = "group"
)

// DirectThread is a 1:1 or group conversation outside any server, backed by a
// hidden server+channel pair that carries the messages.
type DirectThread struct {
	ID             string   `json:"id"`
	ChannelID      string   `json:"channelId"`
	Kind           string   `json:"kind"`
	OwnerID        string   `json:"ownerId"`
	Title          string   `json:"title"`
	ParticipantIDs []string `json:"participantIds"`
	CreatedAt      string   `json:"createdAt"`
	UpdatedAt      string   `json:"updatedAt"`
}

// ReadMarker records the last message a user considers read in a
// conversation. Unique per (conversationId, userId).
type ReadMarker struct {
	ConversationID    string `json:"conversationId"`
	UserID            string `json:"userId"`
	LastReadMessageID string `json:"lastReadMessageId,omitempty"`
	UpdatedAt         string `json:"updatedAt"`
}

// TypingIndicator is fan-out-only state; it is never persisted. ExpiresAt is
// now+6s while typing and now when clearing, so clients expire it locally.
type TypingIndicator struct {
	ConversationID string `json:"conversationId"`
	DirectThreadID string `json:"directThreadId,omitempty"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
	ExpiresAt      string `json:"expiresAt"`
}

// Presence statuses.
const (
	StatusOnline  = "online"
	StatusIdle    = "idle"
	StatusDND     = "dnd"
	StatusOffline = "offline"
)

// Presence is a user's connection status. Offline when no recent heartbeat.
type Presence struct {
	UserID     string `json:"userId"`
	Status     string `json:"status"`
	LastSeenAt string `json:"lastSeenAt"`
	ExpiresAt  string `json:"expiresAt,omitempty"`
}

// Invite is a joinable code for a server. Valid while not expired and under
// its use cap.
type Invite struct {
	Code      string `json:"code"`
	ServerID  string `json:"serverId"`
	CreatedBy string `json:"createdBy"`
	CreatedAt string `json:"createdAt"`
	ExpiresAt string `json:"expiresAt,omitempty"`
	MaxUses   int    `json:"maxUses,omitempty"`
	Uses      int    `json:"uses"`
}

// Moderation action types.
const (
	ActionKick    = "kick"
	ActionBan     = "ban"
	ActionTimeout = "timeout"
	ActionUnban   = "unban"
)

// ModerationAction records a kick, ban, timeout, or unban.
type ModerationAction struct {
	ID           string `json:"id"`
	ServerID     string `json:"serverId"`
	ActorID      string `json:"actorId"`
	TargetUserID string `json:"targetUserId"`
	ActionType   string `json:"actionType"`
	Reason       string `json:"reason,omitempty"`
	ExpiresAt    string `json:"expiresAt,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

// AuditLogEntry is one row of a server's audit log, listed newest-first.
type AuditLogEntry struct {
	ID           string            `json:"id"`
	ServerID     string            `json:"serverId"`
	ActorID      string            `json:"actorId"`
	TargetUserID string            `json:"targetUserId,omitempty"`
	ActionType   string            `json:"actionType"`
	Reason       string            `json:"reason,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    string            `json:"createdAt"`
}

// FriendRequest states.
const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestRejected = "rejected"
)

// FriendRequest is a pending/accepted/rejected request between two users.
// Once it leaves pending it never transitions again.
type FriendRequest struct {
	ID         string `json:"id"`
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	Status     string `json:"status"`
	CreatedAt  string `json:"createdAt"`
}

// PushSubscription is a Web Push endpoint registration. Unique per
// (userId, endpoint).
type PushSubscription struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Endpoint  string `json:"endpoint"`
	P256DH    string `json:"p256dh"`
	Auth      string `json:"auth"`
	UserAgent string `json:"userAgent,omitempty"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// Report is a user-filed safety report against a message or user.
type Report struct {
	ID            string `json:"id"`
	ReporterID    string `json:"reporterId"`
	ServerID      string `json:"serverId,omitempty"`
	TargetUserID  string `json:"targetUserId,omitempty"`
	TargetMessage string `json:"targetMessageId,omitempty"`
	Reason        string `json:"reason"`
	CreatedAt     string `json:"createdAt"`
}

// Appeal states.
const (
	AppealOpen     = "open"
	AppealResolved = "resolved"
)

// Appeal is a user's appeal against a moderation action. At most one open
// appeal per (user, server).
type Appeal struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	ServerID  string `json:"serverId"`
	Body      string `json:"body"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

// Webhook is a token-scoped write channel producing normal messages.
type Webhook struct {
	ID        string `json:"id"`
	ChannelID string `json:"channelId"`
	Name      string `json:"name"`
	CreatedBy string `json:"createdBy"`
	CreatedAt string `json:"createdAt"`
}

// VoiceSession is the signaling service's view of a voice call, relayed
// verbatim through the gateway.
type VoiceSession struct {
	ID           string   `json:"id"`
	TargetKind   string   `json:"targetKind"`
	TargetID     string   `json:"targetId"`
	ServerID     string   `json:"serverId,omitempty"`
	Participants []string `json:"participants"`
	ScreenShares []string `json:"screenShares,omitempty"`
	UpdatedAt    string   `json:"updatedAt"`
}

// ConversationID implements the unified addressing rule: a thread id for
// direct threads, a channel id for server channels.
func ConversationID(channelID, directThreadID string) string {
	if directThreadID != "" {
		return directThreadID
	}
	return channelID
}
