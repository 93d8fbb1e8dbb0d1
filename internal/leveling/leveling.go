// Package leveling awards message XP and announces level-ups.
package leveling

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"synergy-guard/internal/config"
	"synergy-guard/internal/platform"
	"synergy-guard/internal/storage"
	"synergy-guard/internal/utils"

	"go.uber.org/zap"
)

const DefaultLevelUpMessage = "{user} leveled up to **Level {level}**!"

type Store interface {
	GetMemberLevel(ctx context.Context, guildID, userID string) (storage.MemberLevel, error)
	ApplyXP(ctx context.Context, guildID, userID string, gained int, xpNeeded func(level int) int) (storage.MemberLevel, int, error)
	Leaderboard(ctx context.Context, guildID string, limit int) ([]storage.MemberLevel, error)
	Rank(ctx context.Context, guildID string, member storage.MemberLevel) (int, error)
}

type Settings interface {
	Leveling(ctx context.Context, guildID string) storage.LevelSettings
	UpdateLeveling(ctx context.Context, settings storage.LevelSettings) error
}

// XPNeeded is the XP required to advance past level.
func XPNeeded(level int) int {
	return 5*level*level + 50*level + 100
}

type Service struct {
	store    Store
	settings Settings
	client   platform.Client
	cooldown *utils.Cooldown
	logger   *zap.Logger
	now      func() time.Time
	roll     func(n int) int
}

func New(store Store, settings Settings, client platform.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		settings: settings,
		client:   client,
		cooldown: utils.NewCooldown(),
		logger:   logger,
		now:      time.Now,
		roll:     rand.IntN,
	}
}

func (s *Service) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithRoll replaces the XP dice; roll(n) must return a value in [0, n).
func (s *Service) WithRoll(roll func(n int) int) {
	if roll != nil {
		s.roll = roll
	}
}

// HandleMessage awards XP for a guild message outside the member's cooldown
// and returns the number of levels gained.
func (s *Service) HandleMessage(ctx context.Context, msg platform.Message) int {
	if msg.AuthorBot || msg.IsDirect() {
		return 0
	}
	cfg := s.settings.Leveling(ctx, msg.GuildID)
	if !cfg.Enabled {
		return 0
	}
	at := msg.CreatedAt
	if at.IsZero() {
		at = s.now()
	}
	if !s.cooldown.Allow(msg.GuildID+":"+msg.AuthorID, at, config.Seconds(cfg.CooldownSeconds)) {
		return 0
	}

	member, gained, err := s.store.ApplyXP(ctx, msg.GuildID, msg.AuthorID, s.rollXP(cfg), XPNeeded)
	if err != nil {
		s.logger.Warn("xp update failed", zap.String("guild_id", msg.GuildID), zap.String("user_id", msg.AuthorID), zap.Error(err))
		return 0
	}
	if gained > 0 {
		s.announce(ctx, cfg, msg, member.Level)
	}
	return gained
}

func (s *Service) rollXP(cfg storage.LevelSettings) int {
	low, high := cfg.MinXP, cfg.MaxXP
	if high < low {
		low, high = high, low
	}
	return low + s.roll(high-low+1)
}

func (s *Service) announce(ctx context.Context, cfg storage.LevelSettings, msg platform.Message, level int) {
	channelID := cfg.LevelUpChannelID
	if channelID == "" {
		channelID = msg.ChannelID
	}
	if err := s.client.SendChannelMessage(ctx, channelID, RenderLevelUp(cfg.LevelUpMessage, msg.AuthorID, level)); err != nil {
		s.logger.Debug("level-up announce failed", zap.String("guild_id", msg.GuildID), zap.String("channel_id", channelID), zap.Error(err))
	}
}

// RenderLevelUp fills {user} and {level} in the template.
func RenderLevelUp(template, userID string, level int) string {
	if template == "" {
		template = DefaultLevelUpMessage
	}
	return strings.NewReplacer("{user}", "<@"+userID+">", "{level}", strconv.Itoa(level)).Replace(template)
}

type Standing struct {
	Member storage.MemberLevel
	Rank   int
	Needed int
}

func (s *Service) Standing(ctx context.Context, guildID, userID string) (Standing, error) {
	member, err := s.store.GetMemberLevel(ctx, guildID, userID)
	if err != nil {
		return Standing{}, fmt.Errorf("load level: %w", err)
	}
	rank, err := s.store.Rank(ctx, guildID, member)
	if err != nil {
		return Standing{}, fmt.Errorf("rank: %w", err)
	}
	return Standing{Member: member, Rank: rank, Needed: XPNeeded(member.Level)}, nil
}

func (s *Service) Leaderboard(ctx context.Context, guildID string, limit int) ([]storage.MemberLevel, error) {
	return s.store.Leaderboard(ctx, guildID, limit)
}

// Configure applies edit to the guild's leveling settings and saves them.
func (s *Service) Configure(ctx context.Context, guildID string, edit func(*storage.LevelSettings)) (storage.LevelSettings, error) {
	cfg := s.settings.Leveling(ctx, guildID)
	edit(&cfg)
	if cfg.MinXP < 0 || cfg.MaxXP < cfg.MinXP {
		return storage.LevelSettings{}, fmt.Errorf("invalid xp range %d-%d", cfg.MinXP, cfg.MaxXP)
	}
	if err := s.settings.UpdateLeveling(ctx, cfg); err != nil {
		return storage.LevelSettings{}, fmt.Errorf("save leveling settings: %w", err)
	}
	return cfg, nil
}

func (s *Service) Sweep(now time.Time) int {
	return s.cooldown.Sweep(now, time.Hour)
}
