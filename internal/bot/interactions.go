package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"synergy-guard/internal/analytics"
	"synergy-guard/internal/backup"
	"synergy-guard/internal/leveling"
	"synergy-guard/internal/moderation"
	"synergy-guard/internal/modules/audit"
	"synergy-guard/internal/platform"
	"synergy-guard/internal/storage"
	"synergy-guard/internal/welcome"

	"github.com/bwmarrin/discordgo"
)

const listLimit = 15

func mention(userID string) string {
	return "<@" + userID + ">"
}

func relative(t time.Time) string {
	return "<t:" + strconv.FormatInt(t.Unix(), 10) + ":R>"
}

func (b *Bot) handleSecurity(ctx context.Context, c commandCall) {
	colors := b.cfg.Notifications.EmbedColors
	switch c.sub {
	case "whitelist":
		userID := c.opts.id("user")
		added, err := b.security.AddWhitelist(ctx, c.guildID, userID, c.actorID)
		if err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Whitelist", err), true)
			return
		}
		if !added {
			b.respond(c.session, c.interaction, mention(userID)+" is already whitelisted.", true)
			return
		}
		b.respond(c.session, c.interaction, "Added "+mention(userID)+" to the whitelist.", true)
	case "unwhitelist":
		userID := c.opts.id("user")
		removed, err := b.security.RemoveWhitelist(ctx, c.guildID, userID, c.actorID)
		if err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Whitelist", err), true)
			return
		}
		if !removed {
			b.respond(c.session, c.interaction, mention(userID)+" is not whitelisted.", true)
			return
		}
		b.respond(c.session, c.interaction, "Removed "+mention(userID)+" from the whitelist.", true)
	case "viewwhitelist":
		entries, err := b.security.ListWhitelist(ctx, c.guildID)
		if err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Whitelist", err), true)
			return
		}
		if len(entries) == 0 {
			b.respond(c.session, c.interaction, "No whitelisted members.", true)
			return
		}
		lines := make([]string, 0, len(entries))
		for _, entry := range entries {
			lines = append(lines, fmt.Sprintf("%s added by %s %s", mention(entry.UserID), mention(entry.AddedBy), relative(entry.CreatedAt)))
		}
		b.respondNotice(c.session, c.interaction, b.notice("Whitelisted Members", strings.Join(lines, "\n"), colors.Info), true)
	case "panicmode":
		if !b.deferResponse(c.session, c.interaction) {
			return
		}
		reason := c.opts.text("reason")
		if reason == "" {
			reason = "Manual activation"
		}
		locked, err := b.security.EngagePanic(ctx, c.guildID, c.actorID, reason)
		if err != nil {
			b.editNotice(c.session, c.interaction, b.errorNotice("Panic Mode", err))
			return
		}
		b.editNotice(c.session, c.interaction, b.notice("Panic Mode Activated", fmt.Sprintf("%d channels locked.", locked), colors.Alert))
	case "unpanic":
		if !b.deferResponse(c.session, c.interaction) {
			return
		}
		restored, ok := b.security.DisengagePanic(ctx, c.guildID, c.actorID)
		if !ok {
			b.editNotice(c.session, c.interaction, b.notice("Panic Mode", "Panic mode is not active.", colors.Warning))
			return
		}
		b.editNotice(c.session, c.interaction, b.notice("Panic Mode Deactivated", fmt.Sprintf("%d channels unlocked.", restored), colors.Success))
	case "disableraid":
		if !b.security.DisableRaidMode(ctx, c.guildID, c.actorID) {
			b.respond(c.session, c.interaction, "Raid mode is not active.", true)
			return
		}
		b.respond(c.session, c.interaction, "Raid mode disabled.", false)
	case "logs":
		hours := c.opts.number("hours", 24)
		logs, err := b.security.RecentLogs(ctx, c.guildID, time.Now().Add(-time.Duration(hours)*time.Hour), listLimit)
		if err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Security Logs", err), true)
			return
		}
		b.respondNotice(c.session, c.interaction, b.notice("Security Logs", formatLogs(logs), colors.Info), true)
	case "report":
		days := c.opts.number("days", 7)
		report, err := b.analytics.Report(ctx, c.guildID, time.Duration(days)*24*time.Hour)
		if err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Security Report", err), true)
			return
		}
		b.respondNotice(c.session, c.interaction, reportNotice(report, days, colors.Info), true)
	case "backupserver":
		if !b.deferResponse(c.session, c.interaction) {
			return
		}
		snap, err := b.backups.Create(ctx, c.guildID, c.actorID)
		if err != nil {
			b.editNotice(c.session, c.interaction, b.errorNotice("Backup", err))
			return
		}
		b.editNotice(c.session, c.interaction, b.notice("Server Backed Up", "Server configuration has been saved.", colors.Success,
			platform.Field{Name: "Roles", Value: strconv.Itoa(len(snap.Roles)), Inline: true},
			platform.Field{Name: "Channels", Value: strconv.Itoa(len(snap.Channels) - snap.Categories()), Inline: true},
			platform.Field{Name: "Categories", Value: strconv.Itoa(snap.Categories()), Inline: true},
		))
	case "restoreserver":
		if !b.deferResponse(c.session, c.interaction) {
			return
		}
		sum, err := b.backups.Restore(ctx, c.guildID, c.actorID)
		if errors.Is(err, backup.ErrNoBackup) {
			b.editNotice(c.session, c.interaction, b.notice("Restore", "No backup found for this server. Use `/security backupserver` first.", colors.Warning))
			return
		}
		if err != nil {
			b.editNotice(c.session, c.interaction, b.errorNotice("Restore", err))
			return
		}
		b.editNotice(c.session, c.interaction, b.notice("Server Restored", "Missing roles and channels were recreated from the backup.", colors.Success,
			platform.Field{Name: "Roles Restored", Value: strconv.Itoa(sum.Roles), Inline: true},
			platform.Field{Name: "Channels Restored", Value: strconv.Itoa(sum.Channels), Inline: true},
			platform.Field{Name: "Categories Restored", Value: strconv.Itoa(sum.Categories), Inline: true},
			platform.Field{Name: "Already Present", Value: strconv.Itoa(sum.Skipped), Inline: true},
			platform.Field{Name: "Failed", Value: strconv.Itoa(sum.Failed), Inline: true},
		))
	case "setlog":
		channelID := c.opts.id("channel")
		if err := b.security.SetLogChannel(ctx, c.guildID, channelID); err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Security Logs", err), true)
			return
		}
		b.respond(c.session, c.interaction, "Security log channel set to <#"+channelID+">.", true)
	case "toggle":
		feature := c.opts.text("feature")
		enabled, _ := c.opts.flag("enabled")
		if err := b.security.SetFeature(ctx, c.guildID, feature, enabled); err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Protection", err), true)
			return
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		b.respond(c.session, c.interaction, fmt.Sprintf("`%s` %s.", feature, state), true)
	default:
		b.respond(c.session, c.interaction, "Unknown subcommand.", true)
	}
}

func formatLogs(logs []storage.AuditLog) string {
	if len(logs) == 0 {
		return "No security events in this period."
	}
	lines := make([]string, 0, len(logs))
	for _, log := range logs {
		line := fmt.Sprintf("%s **%s** `%s`", relative(log.CreatedAt), log.Level, log.Event)
		if log.UserID != "" {
			line += " " + mention(log.UserID)
		}
		if log.Details != "" {
			line += " " + log.Details
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func reportNotice(report analytics.Report, days, color int) platform.Notice {
	levels := fmt.Sprintf("Total: %d | INFO: %d | WARN: %d | CRIT: %d",
		report.Total, report.ByLevel[audit.LevelInfo], report.ByLevel[audit.LevelWarn], report.ByLevel[audit.LevelCrit])

	events := "None"
	if len(report.TopEvents) > 0 {
		lines := make([]string, 0, 5)
		for i, event := range report.TopEvents {
			if i == 5 {
				break
			}
			lines = append(lines, fmt.Sprintf("`%s` %d", event.Event, event.Count))
		}
		events = strings.Join(lines, "\n")
	}

	punishments := "None"
	if len(report.Punishments) > 0 {
		var parts []string
		for _, action := range []string{moderation.ActionBan, moderation.ActionKick, moderation.ActionTimeout} {
			if n := report.Punishments[action]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s: %d", action, n))
			}
		}
		if len(parts) > 0 {
			punishments = strings.Join(parts, " | ")
		}
	}

	return platform.Notice{
		Title:       "Security Report",
		Description: fmt.Sprintf("Last %d days", days),
		Color:       color,
		Fields: []platform.Field{
			{Name: "Events", Value: levels},
			{Name: "Top Events", Value: events},
			{Name: "Punishments", Value: punishments},
		},
	}
}

func (b *Bot) guildName(guildID string) string {
	if b.session.State == nil {
		return ""
	}
	guild, err := b.session.State.Guild(guildID)
	if err != nil {
		return ""
	}
	return guild.Name
}

func (b *Bot) handleModeration(ctx context.Context, c commandCall) {
	colors := b.cfg.Notifications.EmbedColors
	req := moderation.Request{
		GuildID:     c.guildID,
		GuildName:   b.guildName(c.guildID),
		UserID:      c.opts.id("user"),
		ModeratorID: c.actorID,
		Reason:      c.opts.text("reason"),
	}

	var (
		res   moderation.Result
		err   error
		title string
	)
	switch c.sub {
	case "ban":
		req.DeleteDays = c.opts.number("delete_days", 0)
		res, err = b.moderation.Ban(ctx, req)
		title = "Member Banned"
	case "kick":
		res, err = b.moderation.Kick(ctx, req)
		title = "Member Kicked"
	case "timeout":
		req.Duration, err = moderation.ParseDuration(c.opts.number("amount", 0), c.opts.text("unit"))
		if err == nil {
			res, err = b.moderation.Timeout(ctx, req)
		}
		title = "Member Timed Out"
	case "untimeout":
		if err := b.moderation.Untimeout(ctx, req); err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Untimeout", err), true)
			return
		}
		b.respond(c.session, c.interaction, "Timeout removed for "+mention(req.UserID)+".", false)
		return
	case "case":
		b.handleCaseLookup(ctx, c)
		return
	case "history":
		b.handleHistory(ctx, c, req.UserID)
		return
	default:
		b.respond(c.session, c.interaction, "Unknown subcommand.", true)
		return
	}
	if err != nil {
		b.respondNotice(c.session, c.interaction, b.errorNotice(title, err), true)
		return
	}

	dm := "No"
	if res.DMSent {
		dm = "Yes"
	}
	fields := []platform.Field{
		{Name: "User", Value: mention(req.UserID), Inline: true},
		{Name: "Punishment ID", Value: "`" + res.Punishment.ID + "`", Inline: true},
		{Name: "DM Sent", Value: dm, Inline: true},
	}
	if !res.Until.IsZero() {
		fields = append(fields, platform.Field{Name: "Ends", Value: relative(res.Until), Inline: true})
	}
	fields = append(fields, platform.Field{Name: "Reason", Value: res.Punishment.Reason})
	b.respondNotice(c.session, c.interaction, b.notice(title, "", colors.Success, fields...), false)
}

func (b *Bot) handleCaseLookup(ctx context.Context, c commandCall) {
	colors := b.cfg.Notifications.EmbedColors
	id := c.opts.text("id")
	p, err := b.moderation.Lookup(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && p.GuildID != c.guildID) {
		b.respond(c.session, c.interaction, "No punishment found with ID `"+strings.ToUpper(id)+"`.", true)
		return
	}
	if err != nil {
		b.respondNotice(c.session, c.interaction, b.errorNotice("Case", err), true)
		return
	}
	fields := []platform.Field{
		{Name: "Action", Value: p.ActionType, Inline: true},
		{Name: "User", Value: mention(p.UserID), Inline: true},
		{Name: "Moderator", Value: mention(p.ModeratorID), Inline: true},
		{Name: "When", Value: relative(p.CreatedAt), Inline: true},
	}
	if p.Duration > 0 {
		fields = append(fields, platform.Field{Name: "Duration", Value: moderation.FormatDuration(p.Duration), Inline: true})
	}
	fields = append(fields, platform.Field{Name: "Reason", Value: p.Reason})
	b.respondNotice(c.session, c.interaction, b.notice("Case "+p.ID, "", colors.Info, fields...), true)
}

func (b *Bot) handleHistory(ctx context.Context, c commandCall, userID string) {
	records, err := b.moderation.History(ctx, c.guildID, userID, listLimit)
	if err != nil {
		b.respondNotice(c.session, c.interaction, b.errorNotice("History", err), true)
		return
	}
	if len(records) == 0 {
		b.respond(c.session, c.interaction, mention(userID)+" has no punishments.", true)
		return
	}
	lines := make([]string, 0, len(records))
	for _, p := range records {
		lines = append(lines, fmt.Sprintf("`%s` **%s** %s by %s: %s", p.ID, p.ActionType, relative(p.CreatedAt), mention(p.ModeratorID), p.Reason))
	}
	b.respondNotice(c.session, c.interaction, b.notice("Punishment History", strings.Join(lines, "\n"), b.cfg.Notifications.EmbedColors.Info), true)
}

func (b *Bot) handleRole(ctx context.Context, c commandCall) {
	colors := b.cfg.Notifications.EmbedColors
	userID := c.opts.id("user")
	roleID := c.opts.id("role")
	reason := c.opts.text("reason")
	if reason == "" {
		reason = "No reason provided"
	}

	switch c.sub {
	case "temp":
		d, err := moderation.ParseDuration(c.opts.number("amount", 0), c.opts.text("unit"))
		if err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Temporary Role", err), true)
			return
		}
		grant, err := b.roles.Grant(ctx, c.guildID, userID, roleID, c.actorID, d, reason)
		if err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Temporary Role", err), true)
			return
		}
		b.respondNotice(c.session, c.interaction, b.notice("Temporary Role Granted", "", colors.Success,
			platform.Field{Name: "Member", Value: mention(userID), Inline: true},
			platform.Field{Name: "Role", Value: "<@&" + roleID + ">", Inline: true},
			platform.Field{Name: "Expires", Value: relative(grant.ExpiresAt), Inline: true},
		), false)
	case "remove":
		if err := b.roles.Release(ctx, c.guildID, userID, roleID, c.actorID, reason); err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Remove Role", err), true)
			return
		}
		b.respond(c.session, c.interaction, "Removed <@&"+roleID+"> from "+mention(userID)+".", false)
	case "add":
		if err := b.roles.Assign(ctx, c.guildID, userID, roleID, c.actorID, reason); err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Add Role", err), true)
			return
		}
		b.respond(c.session, c.interaction, "Gave <@&"+roleID+"> to "+mention(userID)+".", false)
	case "list":
		if userID == "" {
			userID = c.actorID
		}
		roles, err := b.roles.Roles(ctx, c.guildID, userID)
		if err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Roles", err), true)
			return
		}
		if len(roles) == 0 {
			b.respond(c.session, c.interaction, mention(userID)+" has no roles.", true)
			return
		}
		b.respondNotice(c.session, c.interaction, b.notice(fmt.Sprintf("Roles (%d)", len(roles)), roleMentions(roles), colors.Info,
			platform.Field{Name: "Member", Value: mention(userID)}), true)
	case "history":
		history, err := b.roles.History(ctx, c.guildID, userID, c.opts.number("limit", 10))
		if err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Role History", err), true)
			return
		}
		if len(history) == 0 {
			b.respond(c.session, c.interaction, mention(userID)+" has no role history.", true)
			return
		}
		b.respondNotice(c.session, c.interaction, b.notice("Role History", formatRoleHistory(history), colors.Info,
			platform.Field{Name: "Member", Value: mention(userID)}), true)
	case "removeall":
		if c.interaction.Member == nil || c.interaction.Member.Permissions&discordgo.PermissionAdministrator == 0 {
			b.respond(c.session, c.interaction, "You need the Administrator permission to use this.", true)
			return
		}
		removed, err := b.roles.RemoveAll(ctx, c.guildID, userID, c.actorID, reason)
		if err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Remove All Roles", err), true)
			return
		}
		if len(removed) == 0 {
			b.respond(c.session, c.interaction, mention(userID)+" has no roles to remove.", true)
			return
		}
		b.respondNotice(c.session, c.interaction, b.notice("Roles Removed", roleMentions(removed), colors.Warning,
			platform.Field{Name: "Member", Value: mention(userID), Inline: true},
			platform.Field{Name: "Reason", Value: reason, Inline: true}), false)
	case "templist":
		grants, err := b.roles.ListForMember(ctx, c.guildID, userID)
		if err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Temporary Roles", err), true)
			return
		}
		if len(grants) == 0 {
			b.respond(c.session, c.interaction, mention(userID)+" has no temporary roles.", true)
			return
		}
		lines := make([]string, 0, len(grants))
		for _, grant := range grants {
			lines = append(lines, fmt.Sprintf("<@&%s> expires %s (granted by %s)", grant.RoleID, relative(grant.ExpiresAt), mention(grant.GrantedBy)))
		}
		b.respondNotice(c.session, c.interaction, b.notice("Temporary Roles", strings.Join(lines, "\n"), colors.Info), true)
	default:
		b.respond(c.session, c.interaction, "Unknown subcommand.", true)
	}
}

func roleMentions(roles []string) string {
	parts := make([]string, 0, len(roles))
	for _, roleID := range roles {
		parts = append(parts, "<@&"+roleID+">")
	}
	return strings.Join(parts, " ")
}

func formatRoleHistory(history []storage.RoleAssignment) string {
	lines := make([]string, 0, len(history))
	for _, entry := range history {
		verb := "added"
		if entry.ActionType == storage.RoleActionRemove {
			verb = "removed"
		}
		line := fmt.Sprintf("%s <@&%s> %s by %s", relative(entry.CreatedAt), entry.RoleID, verb, mention(entry.ModeratorID))
		if entry.Temporary && entry.Duration > 0 {
			line += " for " + moderation.FormatDuration(entry.Duration)
		}
		if entry.Reason != "" {
			line += ": " + entry.Reason
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) handleLevelingConfig(ctx context.Context, c commandCall) {
	cfg, err := b.leveling.Configure(ctx, c.guildID, func(s *storage.LevelSettings) {
		if enabled, ok := c.opts.flag("enabled"); ok {
			s.Enabled = enabled
		}
		if channelID := c.opts.id("channel"); channelID != "" {
			s.LevelUpChannelID = channelID
		}
		if message := c.opts.text("message"); message != "" {
			s.LevelUpMessage = message
		}
	})
	if err != nil {
		b.respondNotice(c.session, c.interaction, b.errorNotice("Leveling", err), true)
		return
	}
	channel := "message channel"
	if cfg.LevelUpChannelID != "" {
		channel = "<#" + cfg.LevelUpChannelID + ">"
	}
	message := cfg.LevelUpMessage
	if message == "" {
		message = leveling.DefaultLevelUpMessage
	}
	b.respondNotice(c.session, c.interaction, b.notice("Leveling Settings", "", b.cfg.Notifications.EmbedColors.Info,
		platform.Field{Name: "Enabled", Value: strconv.FormatBool(cfg.Enabled), Inline: true},
		platform.Field{Name: "Channel", Value: channel, Inline: true},
		platform.Field{Name: "Message", Value: message},
	), true)
}

func (b *Bot) handleWelcome(ctx context.Context, c commandCall) {
	colors := b.cfg.Notifications.EmbedColors
	enabled, _ := c.opts.flag("enabled")
	forBots, _ := c.opts.flag("bots")

	switch c.sub {
	case "setup":
		cfg, err := b.welcome.ConfigureWelcome(ctx, c.guildID, welcome.WelcomeUpdate{
			Enabled:   enabled,
			ChannelID: c.opts.id("channel"),
			Title:     c.opts.text("title"),
			Message:   c.opts.text("message"),
			Color:     c.opts.text("color"),
		})
		if err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Welcome", err), true)
			return
		}
		b.respondNotice(c.session, c.interaction, welcomeNotice(cfg, colors.Info), true)
	case "dm":
		cfg, err := b.welcome.ConfigureDM(ctx, c.guildID, enabled, c.opts.text("message"))
		if err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Welcome DM", err), true)
			return
		}
		b.respondNotice(c.session, c.interaction, welcomeNotice(cfg, colors.Info), true)
	case "goodbye":
		cfg, err := b.welcome.ConfigureGoodbye(ctx, c.guildID, enabled, c.opts.id("channel"), c.opts.text("message"))
		if err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Goodbye", err), true)
			return
		}
		b.respondNotice(c.session, c.interaction, welcomeNotice(cfg, colors.Info), true)
	case "autorole_add":
		roleID := c.opts.id("role")
		delay := time.Duration(c.opts.number("delay", 0)) * time.Second
		if err := b.welcome.AddAutoRole(ctx, c.guildID, roleID, forBots, delay); err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Auto Role", err), true)
			return
		}
		b.respond(c.session, c.interaction, "New "+memberKind(forBots)+" will get <@&"+roleID+">"+delayText(delay)+".", true)
	case "autorole_remove":
		roleID := c.opts.id("role")
		removed, err := b.welcome.RemoveAutoRole(ctx, c.guildID, roleID, forBots)
		if err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Auto Role", err), true)
			return
		}
		if !removed {
			b.respond(c.session, c.interaction, "<@&"+roleID+"> is not an auto role for "+memberKind(forBots)+".", true)
			return
		}
		b.respond(c.session, c.interaction, "Removed the auto role <@&"+roleID+">.", true)
	case "autoroles":
		roles, err := b.welcome.AutoRoles(ctx, c.guildID)
		if err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Auto Roles", err), true)
			return
		}
		if len(roles) == 0 {
			b.respond(c.session, c.interaction, "No auto roles are set up.", true)
			return
		}
		b.respondNotice(c.session, c.interaction, b.notice("Auto Roles", formatAutoRoles(roles), colors.Info), true)
	case "stats":
		stats, err := b.welcome.Stats(ctx, c.guildID, c.opts.number("days", 7))
		if err != nil {
			b.respondNotice(c.session, c.interaction, b.errorNotice("Welcome Statistics", err), true)
			return
		}
		notice := welcomeStatsNotice(stats, colors.Info)
		if info, err := b.actuator.Client().GuildInfo(ctx, c.guildID); err == nil && info.MemberCount > 0 {
			notice.Footer = fmt.Sprintf("Current member count: %d", info.MemberCount)
		}
		b.respondNotice(c.session, c.interaction, notice, false)
	default:
		b.respond(c.session, c.interaction, "Unknown subcommand.", true)
	}
}

func memberKind(forBots bool) string {
	if forBots {
		return "bots"
	}
	return "members"
}

func delayText(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return " after " + moderation.FormatDuration(d)
}

func formatAutoRoles(roles []storage.AutoRole) string {
	lines := make([]string, 0, len(roles))
	for _, role := range roles {
		line := "<@&" + role.RoleID + "> for " + memberKind(role.ForBots)
		lines = append(lines, line+delayText(role.Delay))
	}
	return strings.Join(lines, "\n")
}

func welcomeNotice(cfg storage.WelcomeSettings, color int) platform.Notice {
	channel := func(id string) string {
		if id == "" {
			return "not set"
		}
		return "<#" + id + ">"
	}
	return platform.Notice{
		Title: "Welcome Settings",
		Color: color,
		Fields: []platform.Field{
			{Name: "Welcome", Value: strconv.FormatBool(cfg.Enabled) + " in " + channel(cfg.ChannelID), Inline: true},
			{Name: "DM", Value: strconv.FormatBool(cfg.DMEnabled), Inline: true},
			{Name: "Goodbye", Value: strconv.FormatBool(cfg.GoodbyeEnabled) + " in " + channel(cfg.GoodbyeChannelID), Inline: true},
			{Name: "Title", Value: cfg.Title},
			{Name: "Message", Value: cfg.Message},
			{Name: "Color", Value: fmt.Sprintf("#%06X", cfg.Color), Inline: true},
		},
	}
}

func welcomeStatsNotice(stats welcome.Stats, color int) platform.Notice {
	return platform.Notice{
		Title:       "Welcome System Statistics",
		Description: fmt.Sprintf("Statistics for the last %d days", stats.Days),
		Color:       color,
		Fields: []platform.Field{
			{Name: "Members Joined", Value: strconv.Itoa(stats.Joins), Inline: true},
			{Name: "Members Left", Value: strconv.Itoa(stats.Leaves), Inline: true},
			{Name: "Net Growth", Value: fmt.Sprintf("%+d", stats.NetGrowth()), Inline: true},
			{Name: "Welcomes Sent", Value: strconv.Itoa(stats.Welcomes), Inline: true},
			{Name: "DMs Sent", Value: strconv.Itoa(stats.DMs), Inline: true},
			{Name: "Roles Assigned", Value: strconv.Itoa(stats.Roles), Inline: true},
		},
	}
}

func (b *Bot) handleRank(ctx context.Context, c commandCall) {
	userID := c.opts.id("user")
	if userID == "" {
		userID = c.actorID
	}
	standing, err := b.leveling.Standing(ctx, c.guildID, userID)
	if err != nil {
		b.respondNotice(c.session, c.interaction, b.errorNotice("Rank", err), true)
		return
	}
	b.respondNotice(c.session, c.interaction, b.notice("Rank", mention(userID), b.cfg.Notifications.EmbedColors.Info,
		platform.Field{Name: "Rank", Value: "#" + strconv.Itoa(standing.Rank), Inline: true},
		platform.Field{Name: "Level", Value: strconv.Itoa(standing.Member.Level), Inline: true},
		platform.Field{Name: "XP", Value: fmt.Sprintf("%d / %d", standing.Member.XP, standing.Needed), Inline: true},
		platform.Field{Name: "Total XP", Value: strconv.Itoa(standing.Member.TotalXP), Inline: true},
	), false)
}

func (b *Bot) handleLeaderboard(ctx context.Context, c commandCall) {
	top, err := b.leveling.Leaderboard(ctx, c.guildID, 10)
	if err != nil {
		b.respondNotice(c.session, c.interaction, b.errorNotice("Leaderboard", err), true)
		return
	}
	if len(top) == 0 {
		b.respond(c.session, c.interaction, "Nobody has earned XP yet.", true)
		return
	}
	lines := make([]string, 0, len(top))
	for i, member := range top {
		lines = append(lines, fmt.Sprintf("**%d.** %s Level %d (%d XP)", i+1, mention(member.UserID), member.Level, member.XP))
	}
	b.respondNotice(c.session, c.interaction, b.notice("Leaderboard", strings.Join(lines, "\n"), b.cfg.Notifications.EmbedColors.Info), false)
}
