// Package antiphishing deletes messages carrying known scam-link markers and
// times out their authors. Every offending message is punished.
package antiphishing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"synergy-guard/internal/config"
	"synergy-guard/internal/mitigation"
	"synergy-guard/internal/modules/audit"
	"synergy-guard/internal/platform"
	"synergy-guard/internal/utils"
)

// Indicators are matched as substrings of the lowercased message.
var Indicators = []string{"discord.gift", "free-nitro", "steam-giveaway", "airdrop", "login.discord", "discord-app"}

type Module struct {
	actuator *mitigation.Actuator
	settings mitigation.SettingsSource
	audit    *audit.Logger
	timeout  time.Duration
}

func New(cfg config.MitigationConfig, actuator *mitigation.Actuator, settings mitigation.SettingsSource, auditLogger *audit.Logger) *Module {
	return &Module{
		actuator: actuator,
		settings: settings,
		audit:    auditLogger,
		timeout:  config.Minutes(cfg.LinkTimeoutMinutes),
	}
}

// Match returns the indicator found in content and the normalized form of
// the link that carried it, when there is one.
func Match(content string) (string, string, bool) {
	indicator, ok := utils.ContainsAny(strings.ToLower(content), Indicators)
	if !ok {
		return "", "", false
	}
	for _, raw := range utils.ExtractURLs(content) {
		normalized, host, err := utils.NormalizeURL(raw)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(normalized), indicator) || strings.Contains(host, indicator) {
			return indicator, normalized, true
		}
	}
	return indicator, "", true
}

func (m *Module) HandleMessage(ctx context.Context, msg platform.Message) bool {
	if msg.AuthorBot || msg.IsDirect() || msg.Content == "" {
		return false
	}
	if !m.settings.Security(ctx, msg.GuildID).AntiLinks {
		return false
	}
	indicator, link, ok := Match(msg.Content)
	if !ok {
		return false
	}

	m.actuator.DeleteMessages(ctx, msg.GuildID, []mitigation.MessageRef{{ChannelID: msg.ChannelID, MessageID: msg.ID}})
	m.actuator.Timeout(ctx, msg.GuildID, msg.AuthorID, m.timeout, "Suspicious links detected")

	details := "indicator=" + indicator
	if link != "" {
		details += " url=" + link
	}
	m.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.AuthorID, "suspicious_link", details)
	m.actuator.Notify(ctx, msg.GuildID, platform.Notice{
		Title:       "Suspicious Link Detected",
		Description: "Potential scam link removed",
		Color:       m.actuator.Colors().Warning,
		Fields: []platform.Field{
			{Name: "User", Value: "<@" + msg.AuthorID + ">"},
			{Name: "Action", Value: fmt.Sprintf("Message deleted, user timed out for %s", m.timeout)},
		},
	})
	return true
}
