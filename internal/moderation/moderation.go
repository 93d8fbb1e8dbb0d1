// Package moderation applies moderator-issued punishments and keeps the
// append-only punishment record.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"synergy-guard/internal/config"
	"synergy-guard/internal/mitigation"
	"synergy-guard/internal/modules/audit"
	"synergy-guard/internal/platform"
	"synergy-guard/internal/storage"

	"go.uber.org/zap"
)

const (
	ActionBan       = "BAN"
	ActionKick      = "KICK"
	ActionTimeout   = "TIMEOUT"
	ActionUntimeout = "UNTIMEOUT"

	MaxTimeout    = 28 * 24 * time.Hour
	maxDeleteDays = 7
	defaultReason = "No reason provided"
	dmFooter      = "If you believe this was a mistake, please contact the server moderators."
)

var (
	ErrSelfTarget      = errors.New("moderators cannot target themselves")
	ErrBotTarget       = errors.New("the bot cannot target itself")
	ErrInvalidDuration = errors.New("timeout must be between 1 minute and 28 days")
)

type Store interface {
	AddPunishment(ctx context.Context, p storage.Punishment) (storage.Punishment, error)
	GetPunishment(ctx context.Context, id string) (storage.Punishment, error)
	ListPunishments(ctx context.Context, guildID, userID string, limit int) ([]storage.Punishment, error)
}

type Request struct {
	GuildID     string
	GuildName   string
	UserID      string
	ModeratorID string
	Reason      string
	Duration    time.Duration
	DeleteDays  int
}

// Result is what the command layer reports back to the moderator.
type Result struct {
	Punishment storage.Punishment
	DMSent     bool
	Until      time.Time
}

type Service struct {
	store    Store
	client   platform.Client
	settings mitigation.SettingsSource
	audit    *audit.Logger
	colors   config.EmbedColors
	logger   *zap.Logger
	now      func() time.Time
}

func New(store Store, client platform.Client, settings mitigation.SettingsSource, auditLogger *audit.Logger, colors config.EmbedColors, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, client: client, settings: settings, audit: auditLogger, colors: colors, logger: logger, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) Ban(ctx context.Context, req Request) (Result, error) {
	if req.DeleteDays < 0 {
		req.DeleteDays = 0
	}
	if req.DeleteDays > maxDeleteDays {
		req.DeleteDays = maxDeleteDays
	}
	return s.apply(ctx, ActionBan, req, func(reason string) error {
		return s.client.Ban(ctx, req.GuildID, req.UserID, reason, req.DeleteDays)
	})
}

func (s *Service) Kick(ctx context.Context, req Request) (Result, error) {
	return s.apply(ctx, ActionKick, req, func(reason string) error {
		return s.client.Kick(ctx, req.GuildID, req.UserID, reason)
	})
}

func (s *Service) Timeout(ctx context.Context, req Request) (Result, error) {
	if req.Duration < time.Minute || req.Duration > MaxTimeout {
		return Result{}, ErrInvalidDuration
	}
	until := s.now().Add(req.Duration)
	res, err := s.apply(ctx, ActionTimeout, req, func(reason string) error {
		return s.client.Timeout(ctx, req.GuildID, req.UserID, until, reason)
	})
	res.Until = until
	return res, err
}

// Untimeout lifts a timeout. It is logged to the audit trail but is not a
// punishment.
func (s *Service) Untimeout(ctx context.Context, req Request) error {
	reason := reasonOrDefault(req.Reason)
	if err := s.client.RemoveTimeout(ctx, req.GuildID, req.UserID, fmt.Sprintf("%s | Removed by %s", reason, req.ModeratorID)); err != nil {
		return fmt.Errorf("remove timeout: %w", err)
	}
	s.audit.Log(ctx, audit.LevelInfo, req.GuildID, req.UserID, "timeout_removed", "by="+req.ModeratorID)
	s.modLog(ctx, ActionUntimeout, req, "", reason)
	return nil
}

func (s *Service) Lookup(ctx context.Context, id string) (storage.Punishment, error) {
	return s.store.GetPunishment(ctx, id)
}

func (s *Service) History(ctx context.Context, guildID, userID string, limit int) ([]storage.Punishment, error) {
	return s.store.ListPunishments(ctx, guildID, userID, limit)
}

// apply notifies the target first, since a kicked or banned member can no
// longer be reached, then acts and records the punishment.
func (s *Service) apply(ctx context.Context, action string, req Request, act func(reason string) error) (Result, error) {
	if req.UserID == req.ModeratorID {
		return Result{}, ErrSelfTarget
	}
	if req.UserID == s.client.SelfID() {
		return Result{}, ErrBotTarget
	}
	reason := reasonOrDefault(req.Reason)
	id := storage.NewPunishmentID()

	dmSent := s.notifyTarget(ctx, action, req, id, reason)
	if err := act(fmt.Sprintf("[%s] %s | by %s", id, reason, req.ModeratorID)); err != nil {
		return Result{}, fmt.Errorf("%s: %w", action, err)
	}

	record, err := s.store.AddPunishment(ctx, storage.Punishment{
		ID:          id,
		GuildID:     req.GuildID,
		UserID:      req.UserID,
		ModeratorID: req.ModeratorID,
		ActionType:  action,
		Reason:      reason,
		Duration:    req.Duration,
		CreatedAt:   s.now(),
	})
	if err != nil {
		s.logger.Error("punishment record failed", zap.String("punishment_id", id), zap.String("guild_id", req.GuildID), zap.Error(err))
		return Result{DMSent: dmSent}, fmt.Errorf("%s applied but not recorded: %w", action, err)
	}
	s.audit.Log(ctx, audit.LevelInfo, req.GuildID, req.UserID, "punishment", fmt.Sprintf("id=%s action=%s by=%s", id, action, req.ModeratorID))
	s.modLog(ctx, action, req, id, reason)
	s.logger.Info("punishment applied",
		zap.String("punishment_id", id),
		zap.String("action", action),
		zap.String("guild_id", req.GuildID),
		zap.String("user_id", req.UserID),
		zap.String("moderator_id", req.ModeratorID),
	)
	return Result{Punishment: record, DMSent: dmSent}, nil
}

func (s *Service) notifyTarget(ctx context.Context, action string, req Request, id, reason string) bool {
	fields := []platform.Field{{Name: "Reason", Value: reason}, {Name: "Punishment ID", Value: "`" + id + "`"}}
	if req.Duration > 0 {
		fields = append(fields, platform.Field{Name: "Duration", Value: FormatDuration(req.Duration)})
	}
	guild := req.GuildName
	if guild == "" {
		guild = "the server"
	}
	err := s.client.SendDirect(ctx, req.UserID, platform.Notice{
		Title:  fmt.Sprintf("You have received a %s in %s", action, guild),
		Color:  s.colors.Alert,
		Fields: fields,
		Footer: dmFooter,
	})
	if err != nil {
		s.logger.Debug("punishment DM failed", zap.String("user_id", req.UserID), zap.Error(err))
		return false
	}
	return true
}

func (s *Service) modLog(ctx context.Context, action string, req Request, id, reason string) {
	channelID := s.settings.Security(ctx, req.GuildID).LogChannelID
	if channelID == "" {
		return
	}
	fields := []platform.Field{
		{Name: "User", Value: fmt.Sprintf("<@%s> (`%s`)", req.UserID, req.UserID), Inline: true},
		{Name: "Moderator", Value: fmt.Sprintf("<@%s>", req.ModeratorID), Inline: true},
	}
	if id != "" {
		fields = append(fields, platform.Field{Name: "Punishment ID", Value: "`" + id + "`", Inline: true})
	}
	if req.Duration > 0 {
		fields = append(fields, platform.Field{Name: "Duration", Value: FormatDuration(req.Duration), Inline: true})
	}
	fields = append(fields, platform.Field{Name: "Reason", Value: reason})
	err := s.client.SendNotice(ctx, channelID, platform.Notice{
		Title:  action,
		Color:  s.colors.Alert,
		Fields: fields,
		Footer: "Guild ID: " + req.GuildID,
	})
	if err != nil {
		s.logger.Warn("mod log send failed", zap.String("guild_id", req.GuildID), zap.Error(err))
	}
}

func reasonOrDefault(reason string) string {
	if reason == "" {
		return defaultReason
	}
	return reason
}

// ParseDuration turns an amount and a unit (minutes, hours, days, weeks)
// into a duration.
func ParseDuration(amount int, unit string) (time.Duration, error) {
	if amount <= 0 {
		return 0, ErrInvalidDuration
	}
	var base time.Duration
	switch unit {
	case "minutes":
		base = time.Minute
	case "hours":
		base = time.Hour
	case "days":
		base = 24 * time.Hour
	case "weeks":
		base = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown duration unit %q", unit)
	}
	return time.Duration(amount) * base, nil
}

// FormatDuration renders the largest whole unit, e.g. "2 hours" or "1 day".
func FormatDuration(d time.Duration) string {
	units := []struct {
		size time.Duration
		name string
	}{
		{7 * 24 * time.Hour, "week"},
		{24 * time.Hour, "day"},
		{time.Hour, "hour"},
		{time.Minute, "minute"},
	}
	for _, unit := range units {
		if d >= unit.size && d%unit.size == 0 {
			n := int(d / unit.size)
			if n == 1 {
				return "1 " + unit.name
			}
			return fmt.Sprintf("%d %ss", n, unit.name)
		}
	}
	return d.String()
}
