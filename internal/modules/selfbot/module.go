// Package selfbot flags messages that look machine-sent: shouted messages
// carrying link or mention markers, and user messages with embeds.
package selfbot

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"synergy-guard/internal/config"
	"synergy-guard/internal/mitigation"
	"synergy-guard/internal/modules/audit"
	"synergy-guard/internal/platform"
	"synergy-guard/internal/utils"
)

var markers = []string{"@everyone", "http", ":", ".com", "discord.gg"}

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
		timeout:  config.Minutes(cfg.SelfbotTimeoutMinutes),
	}
}

// Suspicious applies the heuristic. The uppercase ratio is taken over all
// characters of the message.
func Suspicious(content string, embeds int) bool {
	if content == "" {
		return false
	}
	if embeds > 0 {
		return true
	}
	if _, ok := utils.ContainsAny(strings.ToLower(content), markers); !ok {
		return false
	}
	upper, total := 0, 0
	for _, r := range content {
		total++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	return float64(upper)/float64(total) > 0.5
}

func (m *Module) HandleMessage(ctx context.Context, msg platform.Message) bool {
	if msg.AuthorBot || msg.IsDirect() {
		return false
	}
	if !m.settings.Security(ctx, msg.GuildID).AntiSelfbot {
		return false
	}
	if !Suspicious(msg.Content, msg.Embeds) {
		return false
	}

	m.actuator.DeleteMessages(ctx, msg.GuildID, []mitigation.MessageRef{{ChannelID: msg.ChannelID, MessageID: msg.ID}})
	m.actuator.Timeout(ctx, msg.GuildID, msg.AuthorID, m.timeout, "Possible self-bot activity")
	m.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.AuthorID, "selfbot_detected", fmt.Sprintf("embeds=%d", msg.Embeds))
	m.actuator.Notify(ctx, msg.GuildID, platform.Notice{
		Title:       "Self-Bot Detection",
		Description: "Automated bot-like behavior detected",
		Color:       m.actuator.Colors().Alert,
		Fields: []platform.Field{
			{Name: "User", Value: "<@" + msg.AuthorID + ">"},
			{Name: "Action", Value: fmt.Sprintf("Message deleted, user timed out for %s", m.timeout)},
		},
	})
	return true
}
