package bot

import (
	"context"
	"errors"
	"time"

	"synergy-guard/internal/controls"
	"synergy-guard/internal/platform/discord"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, event *discordgo.MessageCreate) {
	if ownMessage(event.Message, b.actuator.Client().SelfID()) {
		return
	}
	ctx, cancel := context.WithTimeout(b.baseContext(), eventTimeout)
	defer cancel()

	msg := discord.Message(event.Message)
	b.security.HandleMessage(ctx, msg)
	if !msg.IsDirect() {
		b.leveling.HandleMessage(ctx, msg)
	}
}

// ownMessage reports whether msg should be ignored as the bot's own. selfID
// is empty until the gateway session is ready.
func ownMessage(msg *discordgo.Message, selfID string) bool {
	if msg == nil || msg.Author == nil {
		return true
	}
	return selfID != "" && msg.Author.ID == selfID
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.GuildID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(b.baseContext(), eventTimeout)
	defer cancel()
	join := discord.MemberJoin(event.Member, time.Now())
	if b.security.HandleMemberJoin(ctx, join) {
		return
	}
	b.welcome.HandleJoin(ctx, join)
}

func (b *Bot) onGuildMemberRemove(session *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event.Member == nil || event.GuildID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(b.baseContext(), eventTimeout)
	defer cancel()
	b.welcome.HandleLeave(ctx, discord.MemberLeave(event.Member))
}

func (b *Bot) onGuildMemberUpdate(session *discordgo.Session, event *discordgo.GuildMemberUpdate) {
	if event.Member == nil || event.User == nil {
		return
	}
	if event.BeforeUpdate != nil && !lostRole(event.BeforeUpdate.Roles, event.Roles) {
		return
	}
	ctx, cancel := context.WithTimeout(b.baseContext(), eventTimeout)
	defer cancel()
	b.roles.Forget(ctx, event.GuildID, event.User.ID, event.Roles)
}

func lostRole(before, after []string) bool {
	held := make(map[string]bool, len(after))
	for _, roleID := range after {
		held[roleID] = true
	}
	for _, roleID := range before {
		if !held[roleID] {
			return true
		}
	}
	return false
}

func (b *Bot) onWebhooksUpdate(session *discordgo.Session, event *discordgo.WebhooksUpdate) {
	if event.GuildID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(b.baseContext(), eventTimeout)
	defer cancel()
	b.security.HandleWebhooksUpdate(ctx, event.GuildID)
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	switch interaction.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(session, interaction)
	case discordgo.InteractionMessageComponent:
		b.handleComponent(session, interaction)
	}
}

func (b *Bot) handleCommand(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.GuildID == "" {
		b.respond(session, interaction, "Commands only work inside a server.", true)
		return
	}
	ctx, cancel := context.WithTimeout(b.baseContext(), commandTimeout)
	defer cancel()

	data := interaction.ApplicationCommandData()
	call := commandCall{
		session:     session,
		interaction: interaction,
		guildID:     interaction.GuildID,
		actorID:     actorID(interaction),
		opts:        optionsOf(data.Options),
	}
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		call.sub = data.Options[0].Name
		call.opts = optionsOf(data.Options[0].Options)
	}

	switch data.Name {
	case "security":
		b.handleSecurity(ctx, call)
	case "mod":
		b.handleModeration(ctx, call)
	case "role":
		b.handleRole(ctx, call)
	case "leveling":
		b.handleLevelingConfig(ctx, call)
	case "welcome":
		b.handleWelcome(ctx, call)
	case "rank":
		b.handleRank(ctx, call)
	case "leaderboard":
		b.handleLeaderboard(ctx, call)
	default:
		b.respond(session, interaction, "Unknown command.", true)
	}
}

// handleComponent runs an undo control. Only administrators may press them.
func (b *Bot) handleComponent(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	customID := interaction.MessageComponentData().CustomID
	if !controls.IsControl(customID) {
		return
	}
	if interaction.Member == nil || interaction.Member.Permissions&discordgo.PermissionAdministrator == 0 {
		b.respond(session, interaction, "You need the Administrator permission to use this.", true)
		return
	}
	ctx, cancel := context.WithTimeout(b.baseContext(), eventTimeout)
	defer cancel()

	message, err := b.controls.Dispatch(ctx, customID, interaction.GuildID, actorID(interaction))
	switch {
	case errors.Is(err, controls.ErrAlreadyUsed):
		b.respond(session, interaction, "This action has already been used.", true)
	case errors.Is(err, controls.ErrUnknownControl):
		b.respond(session, interaction, "This button is no longer valid.", true)
	case err != nil:
		b.logger.Warn("control failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respond(session, interaction, "The action failed: "+err.Error(), true)
	default:
		b.respond(session, interaction, message, false)
	}
}

func actorID(interaction *discordgo.InteractionCreate) string {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User.ID
	}
	if interaction.User != nil {
		return interaction.User.ID
	}
	return ""
}

type commandCall struct {
	session     *discordgo.Session
	interaction *discordgo.InteractionCreate
	guildID     string
	actorID     string
	sub         string
	opts        options
}

type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionsOf(list []*discordgo.ApplicationCommandInteractionDataOption) options {
	out := make(options, len(list))
	for _, opt := range list {
		out[opt.Name] = opt
	}
	return out
}

func (o options) text(name string) string {
	opt, ok := o[name]
	if !ok {
		return ""
	}
	value, _ := opt.Value.(string)
	return value
}

// id reads user, role and channel options, which arrive as snowflake strings.
func (o options) id(name string) string {
	return o.text(name)
}

func (o options) number(name string, fallback int) int {
	opt, ok := o[name]
	if !ok {
		return fallback
	}
	return int(opt.IntValue())
}

func (o options) flag(name string) (bool, bool) {
	opt, ok := o[name]
	if !ok {
		return false, false
	}
	return opt.BoolValue(), true
}
