// Package antiraid counts member joins per guild and switches a guild into
// raid mode when a burst crosses the guild's join threshold.
package antiraid

import (
	"context"
	"fmt"
	"time"

	"synergy-guard/internal/config"
	"synergy-guard/internal/controls"
	"synergy-guard/internal/mitigation"
	"synergy-guard/internal/modules/audit"
	"synergy-guard/internal/platform"
	"synergy-guard/internal/playbook"
	"synergy-guard/internal/utils"
)

const (
	joinKind   = "join"
	kickReason = "Anti-Raid mode active"
)

type Module struct {
	joins    *utils.RateWindow[struct{}]
	playbook *playbook.Engine
	actuator *mitigation.Actuator
	settings mitigation.SettingsSource
	audit    *audit.Logger
}

func New(playbookEngine *playbook.Engine, actuator *mitigation.Actuator, settings mitigation.SettingsSource, auditLogger *audit.Logger) *Module {
	return &Module{
		joins:    utils.NewRateWindow[struct{}](),
		playbook: playbookEngine,
		actuator: actuator,
		settings: settings,
		audit:    auditLogger,
	}
}

// HandleJoin records the join and, while the guild is in raid mode, kicks
// the new member. Bots are counted but never kicked here.
func (m *Module) HandleJoin(ctx context.Context, join platform.MemberJoin) bool {
	at := join.JoinedAt
	if at.IsZero() {
		at = m.actuator.Now()
	}
	m.joins.Record(keyFor(join.GuildID), at, struct{}{})

	settings := m.settings.Security(ctx, join.GuildID)
	if !settings.AntiRaid || join.Bot || !m.playbook.InRaidMode(join.GuildID) {
		return false
	}
	if !m.actuator.Kick(ctx, join.GuildID, join.UserID, kickReason) {
		return false
	}
	m.audit.Log(ctx, audit.LevelWarn, join.GuildID, join.UserID, "raid_kick", kickReason)
	m.actuator.Notify(ctx, join.GuildID, platform.Notice{
		Title:       "Raid Protection",
		Description: fmt.Sprintf("Kicked <@%s> (raid mode active).", join.UserID),
		Color:       m.actuator.Colors().Warning,
	})
	return true
}

// Poll re-evaluates every guild with recorded joins. A guild enters raid
// mode at most once per raid; the alert carries the control that ends it.
func (m *Module) Poll(ctx context.Context) {
	now := m.actuator.Now()
	for _, key := range m.joins.Keys(joinKind) {
		settings := m.settings.Security(ctx, key.GuildID)
		window := config.Seconds(settings.RaidWindowSeconds)
		count := m.joins.CountWithin(key, window, now)
		if count == 0 {
			m.joins.Clear(key)
			continue
		}
		if !settings.AntiRaid || count < settings.RaidJoinThreshold {
			continue
		}
		details := fmt.Sprintf("joins=%d window=%ds threshold=%d", count, settings.RaidWindowSeconds, settings.RaidJoinThreshold)
		if !m.playbook.EnterRaidMode(ctx, key.GuildID, details) {
			continue
		}
		m.joins.Clear(key)
		m.actuator.NotifyWithControl(ctx, key.GuildID, platform.Notice{
			Title:       "RAID DETECTED",
			Description: fmt.Sprintf("%d joins in %d seconds. Raid mode is on: new members will be kicked until it is disabled.", count, settings.RaidWindowSeconds),
			Color:       m.actuator.Colors().Alert,
			Fields: []platform.Field{
				{Name: "Joins", Value: fmt.Sprint(count), Inline: true},
				{Name: "Threshold", Value: fmt.Sprint(settings.RaidJoinThreshold), Inline: true},
			},
		}, controls.KindDisableRaid, controls.DisableRaidPayload{}, "Disable Raid Mode", platform.ControlDanger)
	}
}

func keyFor(guildID string) utils.Key {
	return utils.Key{GuildID: guildID, Kind: joinKind}
}

// Reset forgets the guild's recorded joins so a burst that already raised
// raid mode cannot raise it again after an operator turns it off.
func (m *Module) Reset(guildID string) {
	m.joins.Clear(keyFor(guildID))
}

// Sweep drops join history older than maxAge.
func (m *Module) Sweep(now time.Time, maxAge time.Duration) int {
	return m.joins.Sweep(now, maxAge)
}
