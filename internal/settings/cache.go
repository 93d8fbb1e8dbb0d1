// Package settings serves per-guild tunables with read-through caching.
// The first read for a guild writes the configured defaults and returns
// exactly what was written.
package settings

import (
	"context"
	"errors"
	"sync"

	"synergy-guard/internal/config"
	"synergy-guard/internal/storage"

	"go.uber.org/zap"
)

type SecurityStore interface {
	GetSecuritySettings(ctx context.Context, guildID string) (storage.SecuritySettings, error)
	InsertSecuritySettings(ctx context.Context, settings storage.SecuritySettings) error
	UpsertSecuritySettings(ctx context.Context, settings storage.SecuritySettings) error
}

type LevelStore interface {
	GetLevelSettings(ctx context.Context, guildID string) (storage.LevelSettings, error)
	InsertLevelSettings(ctx context.Context, settings storage.LevelSettings) error
	UpsertLevelSettings(ctx context.Context, settings storage.LevelSettings) error
}

type WelcomeStore interface {
	GetWelcomeSettings(ctx context.Context, guildID string) (storage.WelcomeSettings, error)
	InsertWelcomeSettings(ctx context.Context, settings storage.WelcomeSettings) error
	UpsertWelcomeSettings(ctx context.Context, settings storage.WelcomeSettings) error
}

// readThrough caches rows of type T keyed by guild.
type readThrough[T any] struct {
	mu       sync.RWMutex
	rows     map[string]T
	get      func(context.Context, string) (T, error)
	insert   func(context.Context, T) error
	upsert   func(context.Context, T) error
	defaults func(guildID string) T
	logger   *zap.Logger
	name     string
}

func (c *readThrough[T]) load(ctx context.Context, guildID string) T {
	c.mu.RLock()
	row, ok := c.rows[guildID]
	c.mu.RUnlock()
	if ok {
		return row
	}

	row, err := c.get(ctx, guildID)
	if err == nil {
		c.store(guildID, row)
		return row
	}

	defaults := c.defaults(guildID)
	if !errors.Is(err, storage.ErrNotFound) {
		c.logger.Warn("settings read failed, using defaults", zap.String("table", c.name), zap.String("guild_id", guildID), zap.Error(err))
		return defaults
	}
	if err := c.insert(ctx, defaults); err != nil {
		c.logger.Warn("settings insert failed, using defaults", zap.String("table", c.name), zap.String("guild_id", guildID), zap.Error(err))
		return defaults
	}
	// Another writer may have won the insert race; cache whatever is stored.
	if stored, err := c.get(ctx, guildID); err == nil {
		c.store(guildID, stored)
		return stored
	}
	c.store(guildID, defaults)
	return defaults
}

func (c *readThrough[T]) save(ctx context.Context, guildID string, row T) error {
	if err := c.upsert(ctx, row); err != nil {
		return err
	}
	c.store(guildID, row)
	return nil
}

func (c *readThrough[T]) store(guildID string, row T) {
	c.mu.Lock()
	c.rows[guildID] = row
	c.mu.Unlock()
}

func (c *readThrough[T]) invalidate(guildID string) {
	c.mu.Lock()
	delete(c.rows, guildID)
	c.mu.Unlock()
}

type Cache struct {
	security *readThrough[storage.SecuritySettings]
	levels   *readThrough[storage.LevelSettings]
	welcome  *readThrough[storage.WelcomeSettings]
}

func New(securityStore SecurityStore, levelStore LevelStore, welcomeStore WelcomeStore, cfg config.Config, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		security: &readThrough[storage.SecuritySettings]{
			rows:     make(map[string]storage.SecuritySettings),
			get:      securityStore.GetSecuritySettings,
			insert:   securityStore.InsertSecuritySettings,
			upsert:   securityStore.UpsertSecuritySettings,
			defaults: func(guildID string) storage.SecuritySettings { return SecurityDefaults(guildID, cfg.Security) },
			logger:   logger,
			name:     "security_settings",
		},
		levels: &readThrough[storage.LevelSettings]{
			rows:     make(map[string]storage.LevelSettings),
			get:      levelStore.GetLevelSettings,
			insert:   levelStore.InsertLevelSettings,
			upsert:   levelStore.UpsertLevelSettings,
			defaults: func(guildID string) storage.LevelSettings { return LevelDefaults(guildID, cfg.Leveling) },
			logger:   logger,
			name:     "level_settings",
		},
		welcome: &readThrough[storage.WelcomeSettings]{
			rows:     make(map[string]storage.WelcomeSettings),
			get:      welcomeStore.GetWelcomeSettings,
			insert:   welcomeStore.InsertWelcomeSettings,
			upsert:   welcomeStore.UpsertWelcomeSettings,
			defaults: func(guildID string) storage.WelcomeSettings { return WelcomeDefaults(guildID, cfg.Welcome) },
			logger:   logger,
			name:     "welcome_settings",
		},
	}
}

func (c *Cache) Security(ctx context.Context, guildID string) storage.SecuritySettings {
	return c.security.load(ctx, guildID)
}

func (c *Cache) UpdateSecurity(ctx context.Context, settings storage.SecuritySettings) error {
	return c.security.save(ctx, settings.GuildID, settings)
}

func (c *Cache) Leveling(ctx context.Context, guildID string) storage.LevelSettings {
	return c.levels.load(ctx, guildID)
}

func (c *Cache) UpdateLeveling(ctx context.Context, settings storage.LevelSettings) error {
	return c.levels.save(ctx, settings.GuildID, settings)
}

func (c *Cache) Welcome(ctx context.Context, guildID string) storage.WelcomeSettings {
	return c.welcome.load(ctx, guildID)
}

func (c *Cache) UpdateWelcome(ctx context.Context, settings storage.WelcomeSettings) error {
	return c.welcome.save(ctx, settings.GuildID, settings)
}

func (c *Cache) Invalidate(guildID string) {
	c.security.invalidate(guildID)
	c.levels.invalidate(guildID)
	c.welcome.invalidate(guildID)
}

func SecurityDefaults(guildID string, d config.SecurityDefaults) storage.SecuritySettings {
	return storage.SecuritySettings{
		GuildID:                guildID,
		LogChannelID:           d.LogChannelID,
		AntiRaid:               d.AntiRaid,
		AntiNuke:               d.AntiNuke,
		AntiSpam:               d.AntiSpam,
		AntiAlt:                d.AntiAlt,
		AntiLinks:              d.AntiLinks,
		AntiSelfbot:            d.AntiSelfbot,
		MinAccountAgeDays:      d.MinAccountAgeDays,
		RaidJoinThreshold:      d.RaidJoinThreshold,
		RaidWindowSeconds:      d.RaidWindowSeconds,
		SpamMessageThreshold:   d.SpamMessageThreshold,
		SpamWindowSeconds:      d.SpamWindowSeconds,
		SpamDuplicateThreshold: d.SpamDuplicateThreshold,
		SpamMentionThreshold:   d.SpamMentionThreshold,
		SpamLinkThreshold:      d.SpamLinkThreshold,
	}
}

func LevelDefaults(guildID string, d config.LevelingConfig) storage.LevelSettings {
	return storage.LevelSettings{
		GuildID:         guildID,
		Enabled:         d.Enabled,
		CooldownSeconds: d.CooldownSeconds,
		MinXP:           d.MinXP,
		MaxXP:           d.MaxXP,
	}
}

// WelcomeDefaults starts every message disabled with the configured texts.
func WelcomeDefaults(guildID string, d config.WelcomeConfig) storage.WelcomeSettings {
	return storage.WelcomeSettings{
		GuildID:        guildID,
		Title:          d.Title,
		Message:        d.Message,
		Color:          d.Color,
		GoodbyeMessage: d.GoodbyeMessage,
	}
}
