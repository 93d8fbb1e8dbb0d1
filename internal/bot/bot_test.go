package bot

import (
	"strings"
	"testing"
	"time"

	"synergy-guard/internal/analytics"
	"synergy-guard/internal/storage"

	"github.com/bwmarrin/discordgo"
)

func TestCommandSetCoversSubcommands(t *testing.T) {
	want := map[string][]string{
		"security": {"whitelist", "unwhitelist", "viewwhitelist", "panicmode", "unpanic", "disableraid", "logs", "report", "backupserver", "restoreserver", "setlog", "toggle"},
		"mod":      {"ban", "kick", "timeout", "untimeout", "case", "history"},
		"role":     {"temp", "remove", "add", "templist", "list", "history", "removeall"},
		"welcome":  {"setup", "dm", "goodbye", "autorole_add", "autorole_remove", "autoroles", "stats"},
	}
	seen := make(map[string]bool)
	for _, cmd := range commandSet() {
		seen[cmd.Name] = true
		subs, ok := want[cmd.Name]
		if !ok {
			continue
		}
		names := make(map[string]bool)
		for _, opt := range cmd.Options {
			if opt.Type == discordgo.ApplicationCommandOptionSubCommand {
				names[opt.Name] = true
			}
		}
		for _, sub := range subs {
			if !names[sub] {
				t.Fatalf("/%s is missing subcommand %s", cmd.Name, sub)
			}
		}
	}
	for _, name := range []string{"security", "mod", "role", "leveling", "welcome", "rank", "leaderboard"} {
		if !seen[name] {
			t.Fatalf("missing command /%s", name)
		}
	}
}

func TestSettingsCommandsNeedManageServer(t *testing.T) {
	for _, cmd := range commandSet() {
		if cmd.Name != "leveling" && cmd.Name != "welcome" {
			continue
		}
		if cmd.DefaultMemberPermissions == nil || *cmd.DefaultMemberPermissions != discordgo.PermissionManageServer {
			t.Fatalf("/%s should require Manage Server", cmd.Name)
		}
	}
}

func TestOwnMessage(t *testing.T) {
	if !ownMessage(&discordgo.Message{}, "bot") {
		t.Fatalf("message without author should be ignored")
	}
	if !ownMessage(&discordgo.Message{Author: &discordgo.User{ID: "bot"}}, "bot") {
		t.Fatalf("bot's own message should be ignored")
	}
	if ownMessage(&discordgo.Message{Author: &discordgo.User{ID: "u1"}}, "") {
		t.Fatalf("messages must still be handled before the session is ready")
	}
}

func TestFormatRoleHistory(t *testing.T) {
	got := formatRoleHistory([]storage.RoleAssignment{
		{RoleID: "r1", ModeratorID: "m1", ActionType: storage.RoleActionAdd, Temporary: true, Duration: 2 * time.Hour, Reason: "event", CreatedAt: time.Unix(100, 0)},
		{RoleID: "r1", ModeratorID: "m1", ActionType: storage.RoleActionRemove, CreatedAt: time.Unix(200, 0)},
	})
	want := "<t:100:R> <@&r1> added by <@m1> for 2 hours: event\n<t:200:R> <@&r1> removed by <@m1>"
	if got != want {
		t.Fatalf("formatRoleHistory = %q, want %q", got, want)
	}
}

func TestFormatAutoRoles(t *testing.T) {
	got := formatAutoRoles([]storage.AutoRole{
		{RoleID: "r1"},
		{RoleID: "r2", ForBots: true, Delay: 10 * time.Minute},
	})
	want := "<@&r1> for members\n<@&r2> for bots after 10 minutes"
	if got != want {
		t.Fatalf("formatAutoRoles = %q, want %q", got, want)
	}
}

func TestLostRole(t *testing.T) {
	if lostRole([]string{"a", "b"}, []string{"a", "b", "c"}) {
		t.Fatalf("adding a role is not a loss")
	}
	if !lostRole([]string{"a", "b"}, []string{"b"}) {
		t.Fatalf("removing a role should be detected")
	}
}

func TestOptions(t *testing.T) {
	opts := optionsOf([]*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "123"},
		{Name: "amount", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(3)},
		{Name: "enabled", Type: discordgo.ApplicationCommandOptionBoolean, Value: true},
	})
	if opts.id("user") != "123" || opts.text("missing") != "" {
		t.Fatalf("unexpected string options")
	}
	if opts.number("amount", 0) != 3 || opts.number("hours", 24) != 24 {
		t.Fatalf("unexpected integer options")
	}
	if enabled, ok := opts.flag("enabled"); !ok || !enabled {
		t.Fatalf("unexpected boolean option")
	}
}

func TestFormatLogs(t *testing.T) {
	if got := formatLogs(nil); got != "No security events in this period." {
		t.Fatalf("unexpected empty text %q", got)
	}
	got := formatLogs([]storage.AuditLog{{Level: "CRIT", Event: "nuke_detected", UserID: "u1", Details: "kind=ban", CreatedAt: time.Unix(100, 0)}})
	if got != "<t:100:R> **CRIT** `nuke_detected` <@u1> kind=ban" {
		t.Fatalf("unexpected line %q", got)
	}
}

func TestReportNotice(t *testing.T) {
	notice := reportNotice(analytics.Report{
		Total:       3,
		ByLevel:     map[string]int{"WARN": 2, "CRIT": 1},
		TopEvents:   []analytics.EventCount{{Event: "spam_detected", Count: 2}, {Event: "nuke_detected", Count: 1}},
		Punishments: map[string]int{"BAN": 1},
	}, 7, 0)
	if notice.Fields[0].Value != "Total: 3 | INFO: 0 | WARN: 2 | CRIT: 1" {
		t.Fatalf("unexpected levels %q", notice.Fields[0].Value)
	}
	if !strings.HasPrefix(notice.Fields[1].Value, "`spam_detected` 2") {
		t.Fatalf("unexpected top events %q", notice.Fields[1].Value)
	}
	if notice.Fields[2].Value != "BAN: 1" {
		t.Fatalf("unexpected punishments %q", notice.Fields[2].Value)
	}
}
