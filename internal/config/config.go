package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken  string           `yaml:"discord_token" validate:"required"`
	DatabaseURL   string           `yaml:"database_url" validate:"required"`
	LogLevel      string           `yaml:"log_level" validate:"oneof=debug info warn error"`
	RetentionDays int              `yaml:"retention_days" validate:"min=1"`
	Health        HealthConfig     `yaml:"health"`
	Security      SecurityDefaults `yaml:"security"`
	Nuke          NukeConfig       `yaml:"nuke"`
	Mitigation    MitigationConfig `yaml:"mitigation"`
	Intervals     IntervalConfig   `yaml:"intervals"`
	DMGuard       DMGuardConfig    `yaml:"dm_guard"`
	Leveling      LevelingConfig   `yaml:"leveling"`
	Welcome       WelcomeConfig    `yaml:"welcome"`
	Backup        BackupConfig     `yaml:"backup"`
	Notifications NotifyConfig     `yaml:"notifications"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"required_if=Enabled true"`
}

// SecurityDefaults is the row written for a guild the first time its
// settings are read.
type SecurityDefaults struct {
	LogChannelID           string `yaml:"log_channel_id"`
	AntiRaid               bool   `yaml:"anti_raid"`
	AntiNuke               bool   `yaml:"anti_nuke"`
	AntiSpam               bool   `yaml:"anti_spam"`
	AntiAlt                bool   `yaml:"anti_alt"`
	AntiLinks              bool   `yaml:"anti_links"`
	AntiSelfbot            bool   `yaml:"anti_selfbot"`
	MinAccountAgeDays      int    `yaml:"min_account_age_days" validate:"min=0"`
	RaidJoinThreshold      int    `yaml:"raid_join_threshold" validate:"min=1"`
	RaidWindowSeconds      int    `yaml:"raid_window_seconds" validate:"min=1"`
	SpamMessageThreshold   int    `yaml:"spam_message_threshold" validate:"min=1"`
	SpamWindowSeconds      int    `yaml:"spam_window_seconds" validate:"min=1"`
	SpamDuplicateThreshold int    `yaml:"spam_duplicate_threshold" validate:"min=1"`
	SpamMentionThreshold   int    `yaml:"spam_mention_threshold" validate:"min=1"`
	SpamLinkThreshold      int    `yaml:"spam_link_threshold" validate:"min=1"`
}

type Threshold struct {
	Count         int `yaml:"count" validate:"min=1"`
	WindowSeconds int `yaml:"window_seconds" validate:"min=1"`
}

type NukeConfig struct {
	// Audit entries older than this are never counted, even on the first poll.
	RecencySeconds int                  `yaml:"recency_seconds" validate:"min=1"`
	FetchLimit     int                  `yaml:"fetch_limit" validate:"min=1,max=100"`
	Thresholds     map[string]Threshold `yaml:"thresholds" validate:"dive"`
}

type MitigationConfig struct {
	SpamTimeoutMinutes    int `yaml:"spam_timeout_minutes" validate:"min=1"`
	LinkTimeoutMinutes    int `yaml:"link_timeout_minutes" validate:"min=1"`
	SelfbotTimeoutMinutes int `yaml:"selfbot_timeout_minutes" validate:"min=1"`
	AltTimeoutMinutes     int `yaml:"alt_timeout_minutes" validate:"min=1"`
	WebhookRecencySeconds int `yaml:"webhook_recency_seconds" validate:"min=1"`
	BotAddLookback        int `yaml:"bot_add_lookback" validate:"min=1,max=100"`
}

type IntervalConfig struct {
	RaidPollSeconds     int `yaml:"raid_poll_seconds" validate:"min=1"`
	AuditPollSeconds    int `yaml:"audit_poll_seconds" validate:"min=1"`
	TempRolePollSeconds int `yaml:"temp_role_poll_seconds" validate:"min=1"`
	SweepSeconds        int `yaml:"sweep_seconds" validate:"min=1"`
	CleanupHours        int `yaml:"cleanup_hours" validate:"min=1"`
	AutoRolePollSeconds int `yaml:"auto_role_poll_seconds" validate:"min=1"`
}

type DMGuardConfig struct {
	WindowSeconds int `yaml:"window_seconds" validate:"min=1"`
	MaxMessages   int `yaml:"max_messages" validate:"min=1"`
}

type LevelingConfig struct {
	Enabled         bool `yaml:"enabled"`
	CooldownSeconds int  `yaml:"cooldown_seconds" validate:"min=0"`
	MinXP           int  `yaml:"min_xp" validate:"min=1"`
	MaxXP           int  `yaml:"max_xp" validate:"gtefield=MinXP"`
}

// WelcomeConfig holds the texts written for a guild the first time its
// welcome settings are read. Placeholders: {user} {mention} {server}
// {guild} {member_count} {id}.
type WelcomeConfig struct {
	Title          string `yaml:"title"`
	Message        string `yaml:"message" validate:"required"`
	Color          int    `yaml:"color" validate:"min=0,max=16777215"`
	GoodbyeMessage string `yaml:"goodbye_message" validate:"required"`
	GoodbyeColor   int    `yaml:"goodbye_color" validate:"min=0,max=16777215"`
	MaxRoleDelay   int    `yaml:"max_role_delay_seconds" validate:"min=0"`
}

type BackupConfig struct {
	Backend   string `yaml:"backend" validate:"oneof=database s3"`
	Endpoint  string `yaml:"endpoint" validate:"required_if=Backend s3"`
	Bucket    string `yaml:"bucket" validate:"required_if=Backend s3"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type NotifyConfig struct {
	// AuditToChannel mirrors WARN and CRIT audit rows to the security log channel.
	AuditToChannel bool        `yaml:"audit_to_channel"`
	EmbedColors    EmbedColors `yaml:"embed_colors"`
}

type EmbedColors struct {
	Alert   int `yaml:"alert"`
	Warning int `yaml:"warning"`
	Info    int `yaml:"info"`
	Success int `yaml:"success"`
}

func DefaultConfig() Config {
	return Config{
		DatabaseURL:   "/data/synergy.db",
		LogLevel:      "info",
		RetentionDays: 30,
		Health:        HealthConfig{Enabled: false, Addr: ":8080"},
		Security: SecurityDefaults{
			AntiRaid:               true,
			AntiNuke:               true,
			AntiSpam:               true,
			AntiAlt:                true,
			AntiLinks:              true,
			AntiSelfbot:            true,
			MinAccountAgeDays:      7,
			RaidJoinThreshold:      10,
			RaidWindowSeconds:      15,
			SpamMessageThreshold:   5,
			SpamWindowSeconds:      5,
			SpamDuplicateThreshold: 3,
			SpamMentionThreshold:   5,
			SpamLinkThreshold:      4,
		},
		Nuke: NukeConfig{
			RecencySeconds: 10,
			FetchLimit:     5,
			Thresholds: map[string]Threshold{
				"ban":            {Count: 3, WindowSeconds: 10},
				"kick":           {Count: 3, WindowSeconds: 10},
				"channel_delete": {Count: 2, WindowSeconds: 10},
				"role_delete":    {Count: 2, WindowSeconds: 10},
				"emoji_delete":   {Count: 2, WindowSeconds: 10},
			},
		},
		Mitigation: MitigationConfig{
			SpamTimeoutMinutes:    10,
			LinkTimeoutMinutes:    30,
			SelfbotTimeoutMinutes: 30,
			AltTimeoutMinutes:     10,
			WebhookRecencySeconds: 10,
			BotAddLookback:        5,
		},
		Intervals: IntervalConfig{
			RaidPollSeconds:     5,
			AuditPollSeconds:    5,
			TempRolePollSeconds: 30,
			SweepSeconds:        60,
			CleanupHours:        24,
			AutoRolePollSeconds: 5,
		},
		DMGuard:  DMGuardConfig{WindowSeconds: 15, MaxMessages: 5},
		Leveling: LevelingConfig{Enabled: true, CooldownSeconds: 30, MinXP: 15, MaxXP: 25},
		Welcome: WelcomeConfig{
			Title:          "Welcome to {server}!",
			Message:        "Welcome {mention}! You are member #{member_count}.",
			Color:          0x5865F2,
			GoodbyeMessage: "{user} has left the server.",
			GoodbyeColor:   0xED4245,
			MaxRoleDelay:   3600,
		},
		Backup: BackupConfig{Backend: "database"},
		Notifications: NotifyConfig{
			EmbedColors: EmbedColors{
				Alert:   0xED4245,
				Warning: 0xF59E0B,
				Info:    0x3B82F6,
				Success: 0x57F287,
			},
		},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Backup.Backend = strings.ToLower(cfg.Backup.Backend)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabaseURL = envString("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Security.LogChannelID = envString("DEFAULT_SECURITY_LOG_CHANNEL", cfg.Security.LogChannelID)
	cfg.Security.MinAccountAgeDays = envInt("MIN_ACCOUNT_AGE_DAYS", cfg.Security.MinAccountAgeDays)
	cfg.Security.RaidJoinThreshold = envInt("RAID_JOIN_THRESHOLD", cfg.Security.RaidJoinThreshold)
	cfg.Security.RaidWindowSeconds = envInt("RAID_WINDOW_SECONDS", cfg.Security.RaidWindowSeconds)
	cfg.Security.SpamMessageThreshold = envInt("SPAM_MESSAGE_THRESHOLD", cfg.Security.SpamMessageThreshold)
	cfg.Security.SpamWindowSeconds = envInt("SPAM_WINDOW_SECONDS", cfg.Security.SpamWindowSeconds)
	cfg.Leveling.Enabled = envBool("LEVELING_ENABLED", cfg.Leveling.Enabled)
	cfg.Backup.Backend = envString("BACKUP_BACKEND", cfg.Backup.Backend)
	cfg.Backup.Endpoint = envString("BACKUP_S3_ENDPOINT", cfg.Backup.Endpoint)
	cfg.Backup.Bucket = envString("BACKUP_S3_BUCKET", cfg.Backup.Bucket)
	cfg.Backup.AccessKey = envString("BACKUP_S3_ACCESS_KEY", cfg.Backup.AccessKey)
	cfg.Backup.SecretKey = envString("BACKUP_S3_SECRET_KEY", cfg.Backup.SecretKey)
	cfg.Backup.UseSSL = envBool("BACKUP_S3_USE_SSL", cfg.Backup.UseSSL)
	cfg.Notifications.AuditToChannel = envBool("AUDIT_TO_CHANNEL", cfg.Notifications.AuditToChannel)
}

// Seconds converts an integer config value to a duration.
func Seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

func Minutes(value int) time.Duration {
	return time.Duration(value) * time.Minute
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
