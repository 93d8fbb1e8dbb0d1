// Package antinuke tails the guild audit log for destructive actions and
// strips the roles of an actor that crosses a per-kind threshold.
package antinuke

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

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

const (
	stripReason = "Anti-Nuke: destructive action threshold reached"
	maxWorkers  = 8
)

type Whitelist interface {
	IsWhitelisted(ctx context.Context, guildID, userID string) (bool, error)
}

type cursorKey struct {
	guildID string
	kind    platform.AuditKind
}

type cursor struct {
	id string
	at time.Time
}

type Module struct {
	mu       sync.Mutex
	cursors  map[cursorKey]cursor
	events   *utils.RateWindow[string]
	actuator *mitigation.Actuator
	settings mitigation.SettingsSource
	allow    Whitelist
	audit    *audit.Logger
	cfg      config.NukeConfig
	logger   *zap.Logger
}

func New(cfg config.NukeConfig, actuator *mitigation.Actuator, settings mitigation.SettingsSource, allow Whitelist, auditLogger *audit.Logger, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{
		cursors:  make(map[cursorKey]cursor),
		events:   utils.NewRateWindow[string](),
		actuator: actuator,
		settings: settings,
		allow:    allow,
		audit:    auditLogger,
		cfg:      cfg,
		logger:   logger,
	}
}

// Poll reads the newest audit entries of every watched kind for each guild
// the bot is in. Guilds are polled concurrently.
func (m *Module) Poll(ctx context.Context) {
	guilds := m.actuator.Client().Guilds()
	if len(guilds) == 0 {
		return
	}
	p := pool.New().WithContext(ctx).WithMaxGoroutines(maxWorkers)
	for _, guildID := range guilds {
		p.Go(func(ctx context.Context) error {
			m.PollGuild(ctx, guildID)
			return nil
		})
	}
	_ = p.Wait()
}

func (m *Module) PollGuild(ctx context.Context, guildID string) {
	if !m.settings.Security(ctx, guildID).AntiNuke {
		return
	}
	for _, kind := range platform.NukeKinds {
		threshold, ok := m.cfg.Thresholds[string(kind)]
		if !ok {
			continue
		}
		entries, err := m.actuator.Client().AuditEntries(ctx, guildID, kind, m.cfg.FetchLimit)
		if err != nil {
			m.logger.Debug("audit log read failed", zap.String("guild_id", guildID), zap.String("kind", string(kind)), zap.Error(err))
			continue
		}
		m.process(ctx, guildID, kind, threshold, entries)
	}
}

// process walks entries oldest first. The cursor ensures an entry is
// counted once no matter how many polls return it.
func (m *Module) process(ctx context.Context, guildID string, kind platform.AuditKind, threshold config.Threshold, entries []platform.AuditEntry) {
	now := m.actuator.Now()
	recency := config.Seconds(m.cfg.RecencySeconds)
	self := m.actuator.Client().SelfID()

	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if now.Sub(entry.CreatedAt) > recency {
			continue
		}
		if !m.advance(guildID, kind, entry) {
			continue
		}
		if entry.ActorID == "" || entry.ActorID == self {
			continue
		}
		whitelisted, err := m.allow.IsWhitelisted(ctx, guildID, entry.ActorID)
		if err != nil {
			m.logger.Warn("whitelist lookup failed", zap.String("guild_id", guildID), zap.String("user_id", entry.ActorID), zap.Error(err))
			continue
		}
		if whitelisted {
			continue
		}

		key := utils.Key{GuildID: guildID, SubjectID: entry.ActorID, Kind: string(kind)}
		window := config.Seconds(threshold.WindowSeconds)
		count := len(m.events.Observe(key, entry.CreatedAt, entry.ID, window))
		if count < threshold.Count {
			continue
		}
		m.events.Clear(key)
		m.mitigate(ctx, guildID, entry.ActorID, kind, count, threshold)
	}
}

func (m *Module) advance(guildID string, kind platform.AuditKind, entry platform.AuditEntry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cursorKey{guildID: guildID, kind: kind}
	last, seen := m.cursors[key]
	if seen {
		if entry.CreatedAt.Before(last.at) {
			return false
		}
		if entry.CreatedAt.Equal(last.at) && utils.CompareIDs(entry.ID, last.id) <= 0 {
			return false
		}
	}
	m.cursors[key] = cursor{id: entry.ID, at: entry.CreatedAt}
	return true
}

func (m *Module) mitigate(ctx context.Context, guildID, actorID string, kind platform.AuditKind, count int, threshold config.Threshold) {
	details := fmt.Sprintf("kind=%s count=%d window=%ds", kind, count, threshold.WindowSeconds)
	m.audit.Log(ctx, audit.LevelCrit, guildID, actorID, "nuke_detected", details)

	roles, ok := m.actuator.StripRoles(ctx, guildID, actorID, stripReason)
	if !ok {
		return
	}
	m.actuator.NotifyWithControl(ctx, guildID, platform.Notice{
		Title:       "Anti-Nuke Alert",
		Description: fmt.Sprintf("<@%s> performed %d %s actions in %d seconds. All roles were removed.", actorID, count, kind, threshold.WindowSeconds),
		Color:       m.actuator.Colors().Alert,
		Fields: []platform.Field{
			{Name: "Actor", Value: "<@" + actorID + ">", Inline: true},
			{Name: "Action", Value: string(kind), Inline: true},
			{Name: "Roles removed", Value: fmt.Sprint(len(roles)), Inline: true},
		},
	}, controls.KindRestoreRoles, controls.RestoreRolesPayload{UserID: actorID, RoleIDs: roles}, "Give Roles Back", platform.ControlSuccess)
}

// Sweep drops counted events older than maxAge along with stale cursors.
func (m *Module) Sweep(now time.Time, maxAge time.Duration) int {
	removed := m.events.Sweep(now, maxAge)
	m.mu.Lock()
	for key, last := range m.cursors {
		if now.Sub(last.at) > maxAge {
			delete(m.cursors, key)
			removed++
		}
	}
	m.mu.Unlock()
	return removed
}
