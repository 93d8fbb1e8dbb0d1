// Package security assembles the detectors behind one event and command
// surface.
package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"synergy-guard/internal/config"
	"synergy-guard/internal/controls"
	"synergy-guard/internal/mitigation"
	"synergy-guard/internal/modules/antialt"
	"synergy-guard/internal/modules/antibot"
	"synergy-guard/internal/modules/antinuke"
	"synergy-guard/internal/modules/antiphishing"
	"synergy-guard/internal/modules/antiraid"
	"synergy-guard/internal/modules/antispam"
	"synergy-guard/internal/modules/audit"
	"synergy-guard/internal/modules/selfbot"
	"synergy-guard/internal/panicmode"
	"synergy-guard/internal/platform"
	"synergy-guard/internal/playbook"
	"synergy-guard/internal/storage"

	"go.uber.org/zap"
)

var ErrUnknownFeature = errors.New("unknown security feature")

// Store is the persistence the service reads and writes directly.
type Store interface {
	AddWhitelist(ctx context.Context, guildID, userID, addedBy string) (bool, error)
	RemoveWhitelist(ctx context.Context, guildID, userID string) (bool, error)
	IsWhitelisted(ctx context.Context, guildID, userID string) (bool, error)
	ListWhitelist(ctx context.Context, guildID string) ([]storage.WhitelistEntry, error)
	ListAuditLogs(ctx context.Context, guildID string, since time.Time, limit int) ([]storage.AuditLog, error)
}

// Settings is the read-through per-guild settings cache.
type Settings interface {
	Security(ctx context.Context, guildID string) storage.SecuritySettings
	UpdateSecurity(ctx context.Context, settings storage.SecuritySettings) error
}

type Service struct {
	store    Store
	settings Settings
	actuator *mitigation.Actuator
	playbook *playbook.Engine
	audit    *audit.Logger
	logger   *zap.Logger

	raid    *antiraid.Module
	nuke    *antinuke.Module
	spam    *antispam.Module
	dm      *antispam.DMGuard
	links   *antiphishing.Module
	selfbot *selfbot.Module
	alt     *antialt.Module
	bots    *antibot.Module
	panic   *panicmode.Controller
}

func New(cfg config.Config, store Store, guildSettings Settings, actuator *mitigation.Actuator, playbookEngine *playbook.Engine, auditLogger *audit.Logger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		settings: guildSettings,
		actuator: actuator,
		playbook: playbookEngine,
		audit:    auditLogger,
		logger:   logger,
		raid:     antiraid.New(playbookEngine, actuator, guildSettings, auditLogger),
		nuke:     antinuke.New(cfg.Nuke, actuator, guildSettings, store, auditLogger, logger),
		spam:     antispam.New(cfg.Mitigation, actuator, guildSettings, auditLogger),
		dm:       antispam.NewDMGuard(cfg.DMGuard, actuator),
		links:    antiphishing.New(cfg.Mitigation, actuator, guildSettings, auditLogger),
		selfbot:  selfbot.New(cfg.Mitigation, actuator, guildSettings, auditLogger),
		alt:      antialt.New(cfg.Mitigation, actuator, guildSettings, store, auditLogger, logger),
		bots:     antibot.New(cfg.Mitigation, actuator, guildSettings, store, auditLogger, logger),
		panic:    panicmode.New(actuator, playbookEngine, auditLogger),
	}
}

// RegisterControls binds the undo buttons issued by the detectors.
func (s *Service) RegisterControls(registry *controls.Registry) {
	registry.Register(controls.KindRestoreRoles, func(ctx context.Context, inv controls.Invocation) (string, error) {
		payload, err := controls.Decode[controls.RestoreRolesPayload](inv)
		if err != nil {
			return "", err
		}
		if err := s.actuator.RestoreRoles(ctx, inv.GuildID, payload.UserID, payload.RoleIDs, "Roles restored by "+inv.ActorID); err != nil {
			return "", err
		}
		s.audit.Log(ctx, audit.LevelInfo, inv.GuildID, payload.UserID, "roles_restored", "by="+inv.ActorID)
		return fmt.Sprintf("Restored %d roles to <@%s>.", len(payload.RoleIDs), payload.UserID), nil
	})
	registry.Register(controls.KindDisableRaid, func(ctx context.Context, inv controls.Invocation) (string, error) {
		if !s.DisableRaidMode(ctx, inv.GuildID, inv.ActorID) {
			return "Raid mode was already off.", nil
		}
		return "Raid mode disabled.", nil
	})
	registry.Register(controls.KindUndoTimeout, func(ctx context.Context, inv controls.Invocation) (string, error) {
		payload, err := controls.Decode[controls.UndoTimeoutPayload](inv)
		if err != nil {
			return "", err
		}
		if err := s.actuator.RemoveTimeout(ctx, inv.GuildID, payload.UserID, "Punishment undone by "+inv.ActorID); err != nil {
			return "", err
		}
		s.audit.Log(ctx, audit.LevelInfo, inv.GuildID, payload.UserID, "timeout_undone", "by="+inv.ActorID)
		return fmt.Sprintf("Timeout lifted for <@%s>.", payload.UserID), nil
	})
}

// HandleMessage runs the message checks. A message punished by one filter
// is not passed to the next.
func (s *Service) HandleMessage(ctx context.Context, msg platform.Message) {
	if msg.AuthorBot {
		return
	}
	if msg.IsDirect() {
		s.dm.HandleMessage(ctx, msg)
		return
	}
	if s.spam.HandleMessage(ctx, msg) != antispam.TriggerNone {
		return
	}
	if s.links.HandleMessage(ctx, msg) {
		return
	}
	s.selfbot.HandleMessage(ctx, msg)
}

// HandleMemberJoin counts the join for raid detection before any other
// check runs. It reports whether the member was removed.
func (s *Service) HandleMemberJoin(ctx context.Context, join platform.MemberJoin) (removed bool) {
	if s.raid.HandleJoin(ctx, join) {
		return true
	}
	if join.Bot {
		return s.bots.HandleBotJoin(ctx, join)
	}
	s.alt.HandleJoin(ctx, join)
	return false
}

func (s *Service) HandleWebhooksUpdate(ctx context.Context, guildID string) {
	s.bots.HandleWebhooksUpdate(ctx, guildID)
}

func (s *Service) PollRaids(ctx context.Context) {
	s.raid.Poll(ctx)
}

func (s *Service) PollAuditLog(ctx context.Context) {
	s.nuke.Poll(ctx)
}

// Sweep drops idle rate-window keys from every detector.
func (s *Service) Sweep(now time.Time, maxAge time.Duration) int {
	removed := s.raid.Sweep(now, maxAge)
	removed += s.nuke.Sweep(now, maxAge)
	removed += s.spam.Sweep(now, maxAge)
	removed += s.dm.Sweep(now)
	return removed
}

func (s *Service) EngagePanic(ctx context.Context, guildID, actorID, reason string) (int, error) {
	return s.panic.Engage(ctx, guildID, actorID, reason)
}

func (s *Service) DisengagePanic(ctx context.Context, guildID, actorID string) (int, bool) {
	return s.panic.Disengage(ctx, guildID, actorID)
}

// DisableRaidMode is idempotent; it reports whether the guild was in raid
// mode.
func (s *Service) DisableRaidMode(ctx context.Context, guildID, actorID string) bool {
	if !s.playbook.DisableRaidMode(ctx, guildID, actorID) {
		return false
	}
	s.raid.Reset(guildID)
	s.actuator.Notify(ctx, guildID, platform.Notice{
		Title:       "Raid Mode Disabled",
		Description: fmt.Sprintf("Raid mode was disabled by <@%s>.", actorID),
		Color:       s.actuator.Colors().Success,
	})
	return true
}

func (s *Service) InRaidMode(guildID string) bool {
	return s.playbook.InRaidMode(guildID)
}

func (s *Service) AddWhitelist(ctx context.Context, guildID, userID, addedBy string) (bool, error) {
	added, err := s.store.AddWhitelist(ctx, guildID, userID, addedBy)
	if err != nil {
		return false, fmt.Errorf("add whitelist: %w", err)
	}
	if added {
		s.audit.Log(ctx, audit.LevelInfo, guildID, userID, "whitelist_added", "by="+addedBy)
	}
	return added, nil
}

func (s *Service) RemoveWhitelist(ctx context.Context, guildID, userID, removedBy string) (bool, error) {
	removed, err := s.store.RemoveWhitelist(ctx, guildID, userID)
	if err != nil {
		return false, fmt.Errorf("remove whitelist: %w", err)
	}
	if removed {
		s.audit.Log(ctx, audit.LevelInfo, guildID, userID, "whitelist_removed", "by="+removedBy)
	}
	return removed, nil
}

func (s *Service) ListWhitelist(ctx context.Context, guildID string) ([]storage.WhitelistEntry, error) {
	return s.store.ListWhitelist(ctx, guildID)
}

func (s *Service) RecentLogs(ctx context.Context, guildID string, since time.Time, limit int) ([]storage.AuditLog, error) {
	return s.store.ListAuditLogs(ctx, guildID, since, limit)
}

func (s *Service) Settings(ctx context.Context, guildID string) storage.SecuritySettings {
	return s.settings.Security(ctx, guildID)
}

func (s *Service) SetLogChannel(ctx context.Context, guildID, channelID string) error {
	row := s.settings.Security(ctx, guildID)
	row.LogChannelID = channelID
	return s.settings.UpdateSecurity(ctx, row)
}

// Features lists the names accepted by SetFeature.
var Features = []string{"anti_raid", "anti_nuke", "anti_spam", "anti_alt", "anti_links", "anti_selfbot"}

func (s *Service) SetFeature(ctx context.Context, guildID, feature string, enabled bool) error {
	row := s.settings.Security(ctx, guildID)
	switch strings.ToLower(feature) {
	case "anti_raid":
		row.AntiRaid = enabled
	case "anti_nuke":
		row.AntiNuke = enabled
	case "anti_spam":
		row.AntiSpam = enabled
	case "anti_alt":
		row.AntiAlt = enabled
	case "anti_links":
		row.AntiLinks = enabled
	case "anti_selfbot":
		row.AntiSelfbot = enabled
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFeature, feature)
	}
	if err := s.settings.UpdateSecurity(ctx, row); err != nil {
		return err
	}
	s.audit.Log(ctx, audit.LevelInfo, guildID, "", "feature_toggled", fmt.Sprintf("%s=%t", feature, enabled))
	return nil
}
