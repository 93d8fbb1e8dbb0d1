// Package antialt holds new accounts in a timeout when they join.
package antialt

import (
	"context"
	"fmt"
	"time"

	"synergy-guard/internal/config"
	"synergy-guard/internal/mitigation"
	"synergy-guard/internal/modules/audit"
	"synergy-guard/internal/platform"

	"go.uber.org/zap"
)

type Whitelist interface {
	IsWhitelisted(ctx context.Context, guildID, userID string) (bool, error)
}

type Module struct {
	actuator *mitigation.Actuator
	settings mitigation.SettingsSource
	allow    Whitelist
	audit    *audit.Logger
	review   time.Duration
	logger   *zap.Logger
}

func New(cfg config.MitigationConfig, actuator *mitigation.Actuator, settings mitigation.SettingsSource, allow Whitelist, auditLogger *audit.Logger, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{
		actuator: actuator,
		settings: settings,
		allow:    allow,
		audit:    auditLogger,
		review:   config.Minutes(cfg.AltTimeoutMinutes),
		logger:   logger,
	}
}

// AccountAgeDays counts whole days between creation and now.
func AccountAgeDays(created, now time.Time) int {
	if created.IsZero() || now.Before(created) {
		return 0
	}
	return int(now.Sub(created) / (24 * time.Hour))
}

func (m *Module) HandleJoin(ctx context.Context, join platform.MemberJoin) bool {
	if join.Bot {
		return false
	}
	settings := m.settings.Security(ctx, join.GuildID)
	if !settings.AntiAlt {
		return false
	}
	age := AccountAgeDays(join.AccountCreated, m.actuator.Now())
	if age >= settings.MinAccountAgeDays {
		return false
	}
	whitelisted, err := m.allow.IsWhitelisted(ctx, join.GuildID, join.UserID)
	if err != nil {
		m.logger.Warn("whitelist lookup failed", zap.String("guild_id", join.GuildID), zap.String("user_id", join.UserID), zap.Error(err))
		return false
	}
	if whitelisted {
		return false
	}

	if !m.actuator.Timeout(ctx, join.GuildID, join.UserID, m.review, "Account too new, held for review") {
		return false
	}
	m.audit.Log(ctx, audit.LevelWarn, join.GuildID, join.UserID, "alt_account", fmt.Sprintf("age_days=%d min=%d", age, settings.MinAccountAgeDays))
	m.actuator.Notify(ctx, join.GuildID, platform.Notice{
		Title:       "Suspicious Account",
		Description: fmt.Sprintf("<@%s> joined with a new account and was timed out for %s.", join.UserID, m.review),
		Color:       m.actuator.Colors().Warning,
		Fields: []platform.Field{
			{Name: "Account Age", Value: fmt.Sprintf("%d days", age), Inline: true},
			{Name: "Minimum", Value: fmt.Sprintf("%d days", settings.MinAccountAgeDays), Inline: true},
		},
	})
	return true
}
