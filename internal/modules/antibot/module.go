// Package antibot reacts to bots and webhooks added by members who are not
// trusted to add them.
package antibot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"synergy-guard/internal/config"
	"synergy-guard/internal/controls"
	"synergy-guard/internal/mitigation"
	"synergy-guard/internal/modules/audit"
	"synergy-guard/internal/platform"
	"synergy-guard/internal/utils"

	"go.uber.org/zap"
)

type Whitelist interface {
	IsWhitelisted(ctx context.Context, guildID, userID string) (bool, error)
}

type Module struct {
	mu          sync.Mutex
	lastWebhook map[string]string
	actuator    *mitigation.Actuator
	settings    mitigation.SettingsSource
	allow       Whitelist
	audit       *audit.Logger
	lookback    int
	recency     time.Duration
	logger      *zap.Logger
}

func New(cfg config.MitigationConfig, actuator *mitigation.Actuator, settings mitigation.SettingsSource, allow Whitelist, auditLogger *audit.Logger, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{
		lastWebhook: make(map[string]string),
		actuator:    actuator,
		settings:    settings,
		allow:       allow,
		audit:       auditLogger,
		lookback:    cfg.BotAddLookback,
		recency:     config.Seconds(cfg.WebhookRecencySeconds),
		logger:      logger,
	}
}

// HandleBotJoin finds who added the bot. An untrusted inviter loses their
// roles and the bot is kicked.
func (m *Module) HandleBotJoin(ctx context.Context, join platform.MemberJoin) bool {
	if !join.Bot || !m.settings.Security(ctx, join.GuildID).AntiNuke {
		return false
	}
	client := m.actuator.Client()
	entries, err := client.AuditEntries(ctx, join.GuildID, platform.AuditBotAdd, m.lookback)
	if err != nil {
		m.logger.Debug("bot_add audit read failed", zap.String("guild_id", join.GuildID), zap.Error(err))
		return false
	}
	inviter := ""
	for _, entry := range entries {
		if entry.TargetID == join.UserID {
			inviter = entry.ActorID
			break
		}
	}
	if inviter == "" || inviter == client.SelfID() || m.trusted(ctx, join.GuildID, inviter) {
		return false
	}

	roles, stripped := m.actuator.StripRoles(ctx, join.GuildID, inviter, "Added an unauthorized bot")
	kicked := m.actuator.Kick(ctx, join.GuildID, join.UserID, "Unauthorized bot")
	m.audit.Log(ctx, audit.LevelCrit, join.GuildID, inviter, "unauthorized_bot",
		fmt.Sprintf("bot=%s stripped=%t kicked=%t", join.UserID, stripped, kicked))

	notice := platform.Notice{
		Title:       "Unauthorized Bot Added",
		Description: fmt.Sprintf("<@%s> added the bot <@%s>.", inviter, join.UserID),
		Color:       m.actuator.Colors().Alert,
		Fields: []platform.Field{
			{Name: "Inviter", Value: "<@" + inviter + ">", Inline: true},
			{Name: "Bot kicked", Value: fmt.Sprint(kicked), Inline: true},
			{Name: "Roles removed", Value: fmt.Sprint(len(roles)), Inline: true},
		},
	}
	if stripped {
		m.actuator.NotifyWithControl(ctx, join.GuildID, notice, controls.KindRestoreRoles,
			controls.RestoreRolesPayload{UserID: inviter, RoleIDs: roles}, "Give Roles Back", platform.ControlSuccess)
	} else {
		m.actuator.Notify(ctx, join.GuildID, notice)
	}
	return true
}

// HandleWebhooksUpdate checks the newest webhook creation. Only entries
// younger than the recency bound and not seen before are acted on.
func (m *Module) HandleWebhooksUpdate(ctx context.Context, guildID string) bool {
	if !m.settings.Security(ctx, guildID).AntiNuke {
		return false
	}
	client := m.actuator.Client()
	entries, err := client.AuditEntries(ctx, guildID, platform.AuditWebhookCreate, 1)
	if err != nil {
		m.logger.Debug("webhook audit read failed", zap.String("guild_id", guildID), zap.Error(err))
		return false
	}
	if len(entries) == 0 {
		return false
	}
	entry := entries[0]
	if m.actuator.Now().Sub(entry.CreatedAt) > m.recency || !m.markWebhook(guildID, entry.ID) {
		return false
	}
	actor := entry.ActorID
	if actor == "" || actor == client.SelfID() {
		return false
	}
	admin, err := client.IsAdministrator(ctx, guildID, actor)
	if err != nil {
		m.logger.Debug("admin check failed", zap.String("guild_id", guildID), zap.String("user_id", actor), zap.Error(err))
		return false
	}
	if admin || m.trusted(ctx, guildID, actor) {
		return false
	}

	kicked := m.actuator.Kick(ctx, guildID, actor, "Unauthorized webhook creation")
	m.audit.Log(ctx, audit.LevelCrit, guildID, actor, "unauthorized_webhook", fmt.Sprintf("entry=%s kicked=%t", entry.ID, kicked))
	m.actuator.Notify(ctx, guildID, platform.Notice{
		Title:       "Unauthorized Webhook",
		Description: fmt.Sprintf("<@%s> created a webhook without permission.", actor),
		Color:       m.actuator.Colors().Alert,
		Fields: []platform.Field{
			{Name: "Kicked", Value: fmt.Sprint(kicked), Inline: true},
		},
	})
	return true
}

func (m *Module) markWebhook(guildID, entryID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastWebhook[guildID]; ok && utils.CompareIDs(entryID, last) <= 0 {
		return false
	}
	m.lastWebhook[guildID] = entryID
	return true
}

// trusted treats a failed lookup as trusted so a store outage never
// punishes a whitelisted member.
func (m *Module) trusted(ctx context.Context, guildID, userID string) bool {
	whitelisted, err := m.allow.IsWhitelisted(ctx, guildID, userID)
	if err != nil {
		m.logger.Warn("whitelist lookup failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return true
	}
	return whitelisted
}
