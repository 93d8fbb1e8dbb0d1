package bot

import (
	"errors"

	"synergy-guard/internal/security"
	"synergy-guard/internal/welcome"

	"github.com/bwmarrin/discordgo"
)

var durationUnits = []*discordgo.ApplicationCommandOptionChoice{
	{Name: "minutes", Value: "minutes"},
	{Name: "hours", Value: "hours"},
	{Name: "days", Value: "days"},
	{Name: "weeks", Value: "weeks"},
}

func permission(p int64) *int64 {
	return &p
}

func userOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionUser, Name: name, Description: description, Required: required}
}

func stringOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionString, Name: name, Description: description, Required: required}
}

func subcommand(name, description string, options ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionSubCommand, Name: name, Description: description, Options: options}
}

func textChannelOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionChannel, Name: name, Description: description, Required: required,
		ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText}}
}

func boolOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionBoolean, Name: name, Description: description, Required: required}
}

func durationOptions() []*discordgo.ApplicationCommandOption {
	minValue := 1.0
	return []*discordgo.ApplicationCommandOption{
		{Type: discordgo.ApplicationCommandOptionInteger, Name: "amount", Description: "How long", Required: true, MinValue: &minValue},
		{Type: discordgo.ApplicationCommandOptionString, Name: "unit", Description: "Time unit", Required: true, Choices: durationUnits},
	}
}

func featureChoices() []*discordgo.ApplicationCommandOptionChoice {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(security.Features))
	for _, feature := range security.Features {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: feature, Value: feature})
	}
	return choices
}

func commandSet() []*discordgo.ApplicationCommand {
	dm := false
	deleteMax := 7.0
	hoursMax := 168.0
	one := 1.0
	zero := 0.0

	return []*discordgo.ApplicationCommand{
		{
			Name:                     "security",
			Description:              "Server protection",
			DefaultMemberPermissions: permission(discordgo.PermissionAdministrator),
			DMPermission:             &dm,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("whitelist", "Exempt a member from anti-nuke checks", userOption("user", "Member to trust", true)),
				subcommand("unwhitelist", "Remove a member from the whitelist", userOption("user", "Member to remove", true)),
				subcommand("viewwhitelist", "List whitelisted members"),
				subcommand("panicmode", "Lock every channel", stringOption("reason", "Why", false)),
				subcommand("unpanic", "Unlock channels locked by panic mode"),
				subcommand("disableraid", "Leave raid mode"),
				subcommand("logs", "Show recent security events",
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionInteger, Name: "hours", Description: "Look-back in hours", MinValue: &one, MaxValue: hoursMax}),
				subcommand("report", "Security activity summary",
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionInteger, Name: "days", Description: "Look-back in days", MinValue: &one, MaxValue: 90}),
				subcommand("backupserver", "Back up roles and channels"),
				subcommand("restoreserver", "Recreate missing roles and channels from the backup"),
				subcommand("setlog", "Set the security log channel",
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Log channel", Required: true,
						ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText}}),
				subcommand("toggle", "Turn a protection on or off",
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionString, Name: "feature", Description: "Protection", Required: true, Choices: featureChoices()},
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionBoolean, Name: "enabled", Description: "On or off", Required: true}),
			},
		},
		{
			Name:                     "mod",
			Description:              "Moderation",
			DefaultMemberPermissions: permission(discordgo.PermissionModerateMembers),
			DMPermission:             &dm,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("ban", "Ban a member",
					userOption("user", "Member to ban", true),
					stringOption("reason", "Reason", false),
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionInteger, Name: "delete_days", Description: "Days of messages to delete", MaxValue: deleteMax}),
				subcommand("kick", "Kick a member", userOption("user", "Member to kick", true), stringOption("reason", "Reason", false)),
				subcommand("timeout", "Time out a member",
					append([]*discordgo.ApplicationCommandOption{userOption("user", "Member to time out", true)},
						append(durationOptions(), stringOption("reason", "Reason", false))...)...),
				subcommand("untimeout", "Lift a timeout", userOption("user", "Member", true), stringOption("reason", "Reason", false)),
				subcommand("case", "Look up a punishment", stringOption("id", "Punishment ID", true)),
				subcommand("history", "A member's punishments", userOption("user", "Member", true)),
			},
		},
		{
			Name:                     "role",
			Description:              "Role management",
			DefaultMemberPermissions: permission(discordgo.PermissionManageRoles),
			DMPermission:             &dm,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("temp", "Grant a role for a limited time",
					append([]*discordgo.ApplicationCommandOption{
						userOption("user", "Member", true),
						{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Role", Required: true},
					}, append(durationOptions(), stringOption("reason", "Reason", false))...)...),
				subcommand("remove", "Remove a role",
					userOption("user", "Member", true),
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Role", Required: true},
					stringOption("reason", "Reason", false)),
				subcommand("add", "Give a role permanently",
					userOption("user", "Member", true),
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Role", Required: true},
					stringOption("reason", "Reason", false)),
				subcommand("templist", "A member's temporary roles", userOption("user", "Member", true)),
				subcommand("list", "A member's roles", userOption("user", "Member", false)),
				subcommand("history", "A member's role changes",
					userOption("user", "Member", true),
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionInteger, Name: "limit", Description: "Entries to show", MinValue: &one, MaxValue: 25}),
				subcommand("removeall", "Remove every role from a member (administrators only)",
					userOption("user", "Member", true), stringOption("reason", "Reason", false)),
			},
		},
		{
			Name:                     "leveling",
			Description:              "Leveling settings",
			DefaultMemberPermissions: permission(discordgo.PermissionManageServer),
			DMPermission:             &dm,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionBoolean, Name: "enabled", Description: "Award XP for messages"},
				{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Level-up announcement channel",
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText}},
				stringOption("message", "Level-up message, {user} and {level} are replaced", false),
			},
		},
		{
			Name:                     "welcome",
			Description:              "Welcome messages and auto roles",
			DefaultMemberPermissions: permission(discordgo.PermissionManageServer),
			DMPermission:             &dm,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("setup", "Configure the welcome message",
					boolOption("enabled", "Post a welcome message", true),
					textChannelOption("channel", "Welcome channel", false),
					stringOption("title", "Title, placeholders like {server} are replaced", false),
					stringOption("message", "Message, placeholders like {mention} and {member_count} are replaced", false),
					stringOption("color", "Embed color as #RRGGBB", false)),
				subcommand("dm", "Configure the welcome DM",
					boolOption("enabled", "Send new members a DM", true),
					stringOption("message", "DM text", false)),
				subcommand("goodbye", "Configure the goodbye message",
					boolOption("enabled", "Post a goodbye message", true),
					textChannelOption("channel", "Goodbye channel", false),
					stringOption("message", "Message, {user} is replaced", false)),
				subcommand("autorole_add", "Give a role to every new member",
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Role", Required: true},
					boolOption("bots", "Give it to bots instead of humans", false),
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionInteger, Name: "delay", Description: "Seconds to wait before giving it", MinValue: &zero}),
				subcommand("autorole_remove", "Stop giving a role to new members",
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Role", Required: true},
					boolOption("bots", "Remove the bot auto role", false)),
				subcommand("autoroles", "List auto roles"),
				subcommand("stats", "Joins, leaves and welcome activity",
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionInteger, Name: "days", Description: "Look-back in days", MinValue: &one, MaxValue: welcome.MaxStatsDays}),
			},
		},
		{
			Name:         "rank",
			Description:  "Show a member's level",
			DMPermission: &dm,
			Options:      []*discordgo.ApplicationCommandOption{userOption("user", "Member", false)},
		},
		{
			Name:         "leaderboard",
			Description:  "Top members by level",
			DMPermission: &dm,
		},
	}
}

func (b *Bot) registerCommands() error {
	appID := b.actuator.Client().SelfID()
	if appID == "" {
		return errors.New("session has no application user")
	}
	commands := commandSet()

	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		return err
	}
	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}
	return nil
}
