// Package platform describes the chat platform as the security engine sees
// it. Detectors depend on Client; the discordgo session lives behind it.
package platform

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrForbidden means the bot lacks the permission or hierarchy for a call.
	ErrForbidden = errors.New("platform: forbidden")
	// ErrNotFound means the guild, member, role, channel or message is gone.
	ErrNotFound = errors.New("platform: not found")
)

type Message struct {
	ID        string
	GuildID   string
	ChannelID string
	AuthorID  string
	AuthorBot bool
	Content   string
	Mentions  []string
	Embeds    int
	CreatedAt time.Time
}

// IsDirect reports whether the message was sent outside a guild.
func (m Message) IsDirect() bool {
	return m.GuildID == ""
}

type MemberJoin struct {
	GuildID        string
	UserID         string
	Username       string
	Bot            bool
	AccountCreated time.Time
	JoinedAt       time.Time
}

type MemberLeave struct {
	GuildID  string
	UserID   string
	Username string
	Bot      bool
}

type GuildInfo struct {
	Name        string
	MemberCount int
}

type AuditKind string

const (
	AuditBan           AuditKind = "ban"
	AuditKick          AuditKind = "kick"
	AuditChannelDelete AuditKind = "channel_delete"
	AuditRoleDelete    AuditKind = "role_delete"
	AuditEmojiDelete   AuditKind = "emoji_delete"
	AuditBotAdd        AuditKind = "bot_add"
	AuditWebhookCreate AuditKind = "webhook_create"
)

// NukeKinds are the destructive actions tailed by the audit poller.
var NukeKinds = []AuditKind{AuditBan, AuditKick, AuditChannelDelete, AuditRoleDelete, AuditEmojiDelete}

type AuditEntry struct {
	ID        string
	Kind      AuditKind
	ActorID   string
	TargetID  string
	CreatedAt time.Time
}

// SendPermission is the @everyone send-messages override on one channel.
type SendPermission int

const (
	SendInherit SendPermission = iota
	SendAllow
	SendDeny
)

func (p SendPermission) String() string {
	switch p {
	case SendAllow:
		return "allow"
	case SendDeny:
		return "deny"
	default:
		return "inherit"
	}
}

type ControlStyle int

const (
	ControlPrimary ControlStyle = iota
	ControlSuccess
	ControlDanger
)

type Control struct {
	CustomID string
	Label    string
	Style    ControlStyle
}

type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Notice is a rich message with optional buttons.
type Notice struct {
	Title       string
	Description string
	Color       int
	Fields      []Field
	Footer      string
	Controls    []Control
}

type Client interface {
	SelfID() string
	Guilds() []string
	GuildInfo(ctx context.Context, guildID string) (GuildInfo, error)

	Kick(ctx context.Context, guildID, userID, reason string) error
	Ban(ctx context.Context, guildID, userID, reason string, deleteMessageDays int) error
	Timeout(ctx context.Context, guildID, userID string, until time.Time, reason string) error
	RemoveTimeout(ctx context.Context, guildID, userID, reason string) error

	// MemberRoles lists the member's roles without the implicit @everyone role.
	MemberRoles(ctx context.Context, guildID, userID string) ([]string, error)
	EditRoles(ctx context.Context, guildID, userID string, roleIDs []string, reason string) error
	AddRole(ctx context.Context, guildID, userID, roleID, reason string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error
	IsAdministrator(ctx context.Context, guildID, userID string) (bool, error)

	DeleteMessage(ctx context.Context, channelID, messageID string) error

	// ChannelSendPermissions maps every text channel to its current
	// @everyone send override.
	ChannelSendPermissions(ctx context.Context, guildID string) (map[string]SendPermission, error)
	SetSendPermission(ctx context.Context, guildID, channelID string, perm SendPermission, reason string) error

	SendNotice(ctx context.Context, channelID string, notice Notice) error
	SendChannelMessage(ctx context.Context, channelID, content string) error
	SendDirect(ctx context.Context, userID string, notice Notice) error

	// AuditEntries returns the newest entries of kind first.
	AuditEntries(ctx context.Context, guildID string, kind AuditKind, limit int) ([]AuditEntry, error)
}

type ChannelKind string

const (
	ChannelText     ChannelKind = "text"
	ChannelVoice    ChannelKind = "voice"
	ChannelCategory ChannelKind = "category"
)

type RoleSpec struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Color       int    `json:"color"`
	Hoist       bool   `json:"hoist"`
	Mentionable bool   `json:"mentionable"`
	Permissions int64  `json:"permissions"`
	Position    int    `json:"position"`
}

type OverwriteSpec struct {
	RoleName string `json:"role_name"`
	Allow    int64  `json:"allow"`
	Deny     int64  `json:"deny"`
}

type ChannelSpec struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Kind       ChannelKind     `json:"kind"`
	Position   int             `json:"position"`
	ParentID   string          `json:"parent_id,omitempty"`
	Topic      string          `json:"topic,omitempty"`
	NSFW       bool            `json:"nsfw,omitempty"`
	Slowmode   int             `json:"slowmode,omitempty"`
	Overwrites []OverwriteSpec `json:"overwrites,omitempty"`
}

type GuildStructure struct {
	Name     string        `json:"name"`
	Roles    []RoleSpec    `json:"roles"`
	Channels []ChannelSpec `json:"channels"`
}

// StructureClient reads and recreates roles and channels for backups.
// Overwrites reference roles by name so they survive role re-creation.
type StructureClient interface {
	GuildStructure(ctx context.Context, guildID string) (GuildStructure, error)
	CreateRole(ctx context.Context, guildID string, role RoleSpec) (string, error)
	CreateChannel(ctx context.Context, guildID string, channel ChannelSpec, roleIDs map[string]string) (string, error)
}
