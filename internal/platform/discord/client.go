// Package discord adapts a discordgo session to platform.Client.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"synergy-guard/internal/platform"

	"github.com/bwmarrin/discordgo"
)

type Client struct {
	session *discordgo.Session
}

func New(session *discordgo.Session) *Client {
	return &Client{session: session}
}

var auditActions = map[platform.AuditKind]discordgo.AuditLogAction{
	platform.AuditBan:           discordgo.AuditLogActionMemberBanAdd,
	platform.AuditKick:          discordgo.AuditLogActionMemberKick,
	platform.AuditChannelDelete: discordgo.AuditLogActionChannelDelete,
	platform.AuditRoleDelete:    discordgo.AuditLogActionRoleDelete,
	platform.AuditEmojiDelete:   discordgo.AuditLogActionEmojiDelete,
	platform.AuditBotAdd:        discordgo.AuditLogActionBotAdd,
	platform.AuditWebhookCreate: discordgo.AuditLogActionWebhookCreate,
}

func (c *Client) SelfID() string {
	if c.session.State == nil || c.session.State.User == nil {
		return ""
	}
	return c.session.State.User.ID
}

func (c *Client) Guilds() []string {
	if c.session.State == nil {
		return nil
	}
	c.session.State.RLock()
	defer c.session.State.RUnlock()
	ids := make([]string, 0, len(c.session.State.Guilds))
	for _, guild := range c.session.State.Guilds {
		ids = append(ids, guild.ID)
	}
	return ids
}

func (c *Client) GuildInfo(ctx context.Context, guildID string) (platform.GuildInfo, error) {
	guild, err := c.guild(ctx, guildID)
	if err != nil {
		return platform.GuildInfo{}, err
	}
	count := guild.MemberCount
	if count == 0 {
		count = guild.ApproximateMemberCount
	}
	return platform.GuildInfo{Name: guild.Name, MemberCount: count}, nil
}

func (c *Client) Kick(ctx context.Context, guildID, userID, reason string) error {
	return classify(c.session.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx)))
}

func (c *Client) Ban(ctx context.Context, guildID, userID, reason string, deleteMessageDays int) error {
	return classify(c.session.GuildBanCreateWithReason(guildID, userID, reason, deleteMessageDays, discordgo.WithContext(ctx)))
}

func (c *Client) Timeout(ctx context.Context, guildID, userID string, until time.Time, reason string) error {
	return classify(c.session.GuildMemberTimeout(guildID, userID, &until, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)))
}

func (c *Client) RemoveTimeout(ctx context.Context, guildID, userID, reason string) error {
	return classify(c.session.GuildMemberTimeout(guildID, userID, nil, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)))
}

func (c *Client) MemberRoles(ctx context.Context, guildID, userID string) ([]string, error) {
	member, err := c.member(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	roles := make([]string, 0, len(member.Roles))
	for _, roleID := range member.Roles {
		if roleID != guildID {
			roles = append(roles, roleID)
		}
	}
	return roles, nil
}

func (c *Client) EditRoles(ctx context.Context, guildID, userID string, roleIDs []string, reason string) error {
	roles := append([]string{}, roleIDs...)
	_, err := c.session.GuildMemberEdit(guildID, userID, &discordgo.GuildMemberParams{Roles: &roles},
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	return classify(err)
}

func (c *Client) AddRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return classify(c.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)))
}

func (c *Client) RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return classify(c.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)))
}

func (c *Client) IsAdministrator(ctx context.Context, guildID, userID string) (bool, error) {
	guild, err := c.guild(ctx, guildID)
	if err != nil {
		return false, err
	}
	if guild.OwnerID == userID {
		return true, nil
	}
	member, err := c.member(ctx, guildID, userID)
	if err != nil {
		return false, err
	}

	roles := guild.Roles
	if len(roles) == 0 {
		roles, err = c.session.GuildRoles(guildID, discordgo.WithContext(ctx))
		if err != nil {
			return false, classify(err)
		}
	}
	roleMap := make(map[string]*discordgo.Role, len(roles))
	var perms int64
	for _, role := range roles {
		roleMap[role.ID] = role
		if role.ID == guildID {
			perms |= role.Permissions
		}
	}
	for _, roleID := range member.Roles {
		if role := roleMap[roleID]; role != nil {
			perms |= role.Permissions
		}
	}
	return perms&discordgo.PermissionAdministrator != 0, nil
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return classify(c.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

func (c *Client) ChannelSendPermissions(ctx context.Context, guildID string) (map[string]platform.SendPermission, error) {
	channels, err := c.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify(err)
	}
	out := make(map[string]platform.SendPermission)
	for _, channel := range channels {
		if channel == nil {
			continue
		}
		if channel.Type != discordgo.ChannelTypeGuildText && channel.Type != discordgo.ChannelTypeGuildNews {
			continue
		}
		perm := platform.SendInherit
		if overwrite := everyoneOverwrite(channel, guildID); overwrite != nil {
			perm = sendFromOverwrite(overwrite.Allow, overwrite.Deny)
		}
		out[channel.ID] = perm
	}
	return out, nil
}

// SetSendPermission only touches the send-messages bit of the @everyone
// overwrite; other bits on that overwrite are kept.
func (c *Client) SetSendPermission(ctx context.Context, guildID, channelID string, perm platform.SendPermission, reason string) error {
	channel, err := c.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return classify(err)
	}
	var allow, deny int64
	if overwrite := everyoneOverwrite(channel, guildID); overwrite != nil {
		allow, deny = overwrite.Allow, overwrite.Deny
	}
	allow &^= discordgo.PermissionSendMessages
	deny &^= discordgo.PermissionSendMessages
	switch perm {
	case platform.SendAllow:
		allow |= discordgo.PermissionSendMessages
	case platform.SendDeny:
		deny |= discordgo.PermissionSendMessages
	}

	opts := []discordgo.RequestOption{discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)}
	if allow == 0 && deny == 0 {
		return classify(c.session.ChannelPermissionDelete(channelID, guildID, opts...))
	}
	return classify(c.session.ChannelPermissionSet(channelID, guildID, discordgo.PermissionOverwriteTypeRole, allow, deny, opts...))
}

func (c *Client) SendNotice(ctx context.Context, channelID string, notice platform.Notice) error {
	_, err := c.session.ChannelMessageSendComplex(channelID, noticeMessage(notice), discordgo.WithContext(ctx))
	return classify(err)
}

func (c *Client) SendChannelMessage(ctx context.Context, channelID, content string) error {
	_, err := c.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	return classify(err)
}

func (c *Client) SendDirect(ctx context.Context, userID string, notice platform.Notice) error {
	channel, err := c.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return classify(err)
	}
	return c.SendNotice(ctx, channel.ID, notice)
}

func (c *Client) AuditEntries(ctx context.Context, guildID string, kind platform.AuditKind, limit int) ([]platform.AuditEntry, error) {
	action, ok := auditActions[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported audit kind %q", kind)
	}
	log, err := c.session.GuildAuditLog(guildID, "", "", int(action), limit, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify(err)
	}
	if log == nil {
		return nil, nil
	}
	entries := make([]platform.AuditEntry, 0, len(log.AuditLogEntries))
	for _, entry := range log.AuditLogEntries {
		if entry == nil {
			continue
		}
		created, err := discordgo.SnowflakeTimestamp(entry.ID)
		if err != nil {
			continue
		}
		entries = append(entries, platform.AuditEntry{
			ID:        entry.ID,
			Kind:      kind,
			ActorID:   entry.UserID,
			TargetID:  entry.TargetID,
			CreatedAt: created,
		})
	}
	return entries, nil
}

func (c *Client) GuildStructure(ctx context.Context, guildID string) (platform.GuildStructure, error) {
	guild, err := c.guild(ctx, guildID)
	if err != nil {
		return platform.GuildStructure{}, err
	}
	roles, err := c.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return platform.GuildStructure{}, classify(err)
	}
	channels, err := c.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return platform.GuildStructure{}, classify(err)
	}

	roleNames := make(map[string]string, len(roles))
	out := platform.GuildStructure{Name: guild.Name}
	for _, role := range roles {
		roleNames[role.ID] = role.Name
		if role.ID == guildID || role.Managed {
			continue
		}
		out.Roles = append(out.Roles, platform.RoleSpec{
			ID:          role.ID,
			Name:        role.Name,
			Color:       role.Color,
			Hoist:       role.Hoist,
			Mentionable: role.Mentionable,
			Permissions: role.Permissions,
			Position:    role.Position,
		})
	}
	sort.Slice(out.Roles, func(i, j int) bool { return out.Roles[i].Position > out.Roles[j].Position })

	for _, channel := range channels {
		kind, ok := channelKind(channel.Type)
		if !ok {
			continue
		}
		spec := platform.ChannelSpec{
			ID:       channel.ID,
			Name:     channel.Name,
			Kind:     kind,
			Position: channel.Position,
			ParentID: channel.ParentID,
			Topic:    channel.Topic,
			NSFW:     channel.NSFW,
			Slowmode: channel.RateLimitPerUser,
		}
		for _, overwrite := range channel.PermissionOverwrites {
			if overwrite.Type != discordgo.PermissionOverwriteTypeRole {
				continue
			}
			name, ok := roleNames[overwrite.ID]
			if !ok {
				continue
			}
			spec.Overwrites = append(spec.Overwrites, platform.OverwriteSpec{RoleName: name, Allow: overwrite.Allow, Deny: overwrite.Deny})
		}
		out.Channels = append(out.Channels, spec)
	}
	sort.Slice(out.Channels, func(i, j int) bool { return out.Channels[i].Position < out.Channels[j].Position })
	return out, nil
}

func (c *Client) CreateRole(ctx context.Context, guildID string, spec platform.RoleSpec) (string, error) {
	color := spec.Color
	hoist := spec.Hoist
	mentionable := spec.Mentionable
	perms := spec.Permissions
	role, err := c.session.GuildRoleCreate(guildID, &discordgo.RoleParams{
		Name:        spec.Name,
		Color:       &color,
		Hoist:       &hoist,
		Mentionable: &mentionable,
		Permissions: &perms,
	}, discordgo.WithContext(ctx), discordgo.WithAuditLogReason("server restore"))
	if err != nil {
		return "", classify(err)
	}
	return role.ID, nil
}

func (c *Client) CreateChannel(ctx context.Context, guildID string, spec platform.ChannelSpec, roleIDs map[string]string) (string, error) {
	data := discordgo.GuildChannelCreateData{
		Name:             spec.Name,
		Position:         spec.Position,
		ParentID:         spec.ParentID,
		Topic:            spec.Topic,
		NSFW:             spec.NSFW,
		RateLimitPerUser: spec.Slowmode,
	}
	switch spec.Kind {
	case platform.ChannelCategory:
		data.Type = discordgo.ChannelTypeGuildCategory
	case platform.ChannelVoice:
		data.Type = discordgo.ChannelTypeGuildVoice
	default:
		data.Type = discordgo.ChannelTypeGuildText
	}
	for _, overwrite := range spec.Overwrites {
		roleID, ok := roleIDs[overwrite.RoleName]
		if !ok {
			continue
		}
		data.PermissionOverwrites = append(data.PermissionOverwrites, &discordgo.PermissionOverwrite{
			ID:    roleID,
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: overwrite.Allow,
			Deny:  overwrite.Deny,
		})
	}
	channel, err := c.session.GuildChannelCreateComplex(guildID, data, discordgo.WithContext(ctx), discordgo.WithAuditLogReason("server restore"))
	if err != nil {
		return "", classify(err)
	}
	return channel.ID, nil
}

func (c *Client) guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	if c.session.State != nil {
		if guild, err := c.session.State.Guild(guildID); err == nil && guild != nil {
			return guild, nil
		}
	}
	guild, err := c.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify(err)
	}
	return guild, nil
}

func (c *Client) member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if c.session.State != nil {
		if member, err := c.session.State.Member(guildID, userID); err == nil && member != nil {
			return member, nil
		}
	}
	member, err := c.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify(err)
	}
	return member, nil
}

func everyoneOverwrite(channel *discordgo.Channel, guildID string) *discordgo.PermissionOverwrite {
	for _, overwrite := range channel.PermissionOverwrites {
		if overwrite.Type == discordgo.PermissionOverwriteTypeRole && overwrite.ID == guildID {
			return overwrite
		}
	}
	return nil
}

func sendFromOverwrite(allow, deny int64) platform.SendPermission {
	switch {
	case deny&discordgo.PermissionSendMessages != 0:
		return platform.SendDeny
	case allow&discordgo.PermissionSendMessages != 0:
		return platform.SendAllow
	default:
		return platform.SendInherit
	}
}

func channelKind(t discordgo.ChannelType) (platform.ChannelKind, bool) {
	switch t {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return platform.ChannelText, true
	case discordgo.ChannelTypeGuildVoice:
		return platform.ChannelVoice, true
	case discordgo.ChannelTypeGuildCategory:
		return platform.ChannelCategory, true
	default:
		return "", false
	}
}

// NoticeEmbed renders a notice's embed without its controls.
func NoticeEmbed(notice platform.Notice) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       notice.Title,
		Description: notice.Description,
		Color:       notice.Color,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	for _, field := range notice.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: field.Name, Value: field.Value, Inline: field.Inline})
	}
	if notice.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: notice.Footer}
	}
	return embed
}

func noticeMessage(notice platform.Notice) *discordgo.MessageSend {
	msg := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{NoticeEmbed(notice)}}
	if len(notice.Controls) > 0 {
		row := discordgo.ActionsRow{}
		for _, control := range notice.Controls {
			row.Components = append(row.Components, discordgo.Button{
				Label:    control.Label,
				Style:    buttonStyle(control.Style),
				CustomID: control.CustomID,
			})
		}
		msg.Components = []discordgo.MessageComponent{row}
	}
	return msg
}

func buttonStyle(style platform.ControlStyle) discordgo.ButtonStyle {
	switch style {
	case platform.ControlSuccess:
		return discordgo.SuccessButton
	case platform.ControlDanger:
		return discordgo.DangerButton
	default:
		return discordgo.PrimaryButton
	}
}

// classify maps discord REST failures onto the platform sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", platform.ErrForbidden, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", platform.ErrNotFound, err)
		}
	}
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return fmt.Errorf("%w: %v", platform.ErrNotFound, err)
	}
	return err
}
