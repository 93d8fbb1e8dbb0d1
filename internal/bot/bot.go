package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"synergy-guard/internal/analytics"
	"synergy-guard/internal/backup"
	"synergy-guard/internal/config"
	"synergy-guard/internal/controls"
	"synergy-guard/internal/leveling"
	"synergy-guard/internal/mitigation"
	"synergy-guard/internal/moderation"
	"synergy-guard/internal/modules/audit"
	"synergy-guard/internal/platform"
	"synergy-guard/internal/platform/discord"
	"synergy-guard/internal/playbook"
	"synergy-guard/internal/scheduler"
	"synergy-guard/internal/security"
	"synergy-guard/internal/settings"
	"synergy-guard/internal/storage"
	"synergy-guard/internal/tempgrant"
	"synergy-guard/internal/welcome"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	eventTimeout   = 15 * time.Second
	commandTimeout = 2 * time.Minute
)

type Bot struct {
	cfg        config.Config
	logger     *zap.Logger
	store      *storage.Store
	session    *discordgo.Session
	audit      *audit.Logger
	actuator   *mitigation.Actuator
	controls   *controls.Registry
	security   *security.Service
	moderation *moderation.Service
	leveling   *leveling.Service
	roles      *tempgrant.Tracker
	welcome    *welcome.Service
	backups    *backup.Service
	analytics  *analytics.Service
	scheduler  *scheduler.Scheduler

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans |
		discordgo.IntentsGuildWebhooks |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	blobs, err := backup.NewBlobStore(cfg.Backup, store)
	if err != nil {
		return nil, fmt.Errorf("backup store: %w", err)
	}

	client := discord.New(session)
	colors := cfg.Notifications.EmbedColors
	cache := settings.New(store, store, store, cfg, logger)
	auditLogger := audit.NewLogger(store, logger)
	registry := controls.New(store, logger)
	actuator := mitigation.New(client, auditLogger, cache, colors, logger)
	actuator.WithControls(registry)
	playbookEngine := playbook.New(auditLogger)

	b := &Bot{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		session:    session,
		audit:      auditLogger,
		actuator:   actuator,
		controls:   registry,
		security:   security.New(cfg, store, cache, actuator, playbookEngine, auditLogger, logger),
		moderation: moderation.New(store, client, cache, auditLogger, colors, logger),
		leveling:   leveling.New(store, cache, client, logger),
		roles:      tempgrant.New(store, client, auditLogger, logger),
		welcome:    welcome.New(store, cache, client, cfg.Welcome, logger),
		backups:    backup.New(client, blobs, auditLogger, logger),
		analytics:  analytics.New(store),
		scheduler:  scheduler.New(logger),
	}
	b.security.RegisterControls(registry)

	if cfg.Notifications.AuditToChannel {
		auditLogger.SetNotifier(b.mirrorAudit)
	}
	for _, task := range b.tasks() {
		b.scheduler.Add(task)
	}
	return b, nil
}

func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.mu.Unlock()

	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.session.AddHandler(b.onGuildMemberUpdate)
	b.session.AddHandler(b.onWebhooksUpdate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}
	if err := b.registerCommands(); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	return b.scheduler.Start(b.ctx)
}

func (b *Bot) Close() {
	b.scheduler.Stop()
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Unlock()
	if b.session != nil {
		_ = b.session.Close()
	}
}

// Ready reports whether the gateway session has finished its handshake.
func (b *Bot) Ready() bool {
	return b.session != nil && b.session.DataReady
}

func (b *Bot) tasks() []scheduler.Task {
	iv := b.cfg.Intervals
	return []scheduler.Task{
		{Name: "raid_poll", Interval: config.Seconds(iv.RaidPollSeconds), Run: b.security.PollRaids},
		{Name: "audit_poll", Interval: config.Seconds(iv.AuditPollSeconds), Run: b.security.PollAuditLog},
		{Name: "temp_roles", Interval: config.Seconds(iv.TempRolePollSeconds), Run: func(ctx context.Context) {
			if settled := b.roles.Poll(ctx); settled > 0 {
				b.logger.Info("temp roles settled", zap.Int("count", settled))
			}
		}},
		{Name: "auto_roles", Interval: config.Seconds(iv.AutoRolePollSeconds), Run: func(ctx context.Context) {
			if given := b.welcome.Poll(ctx); given > 0 {
				b.logger.Info("delayed auto roles given", zap.Int("count", given))
			}
		}},
		{Name: "sweep", Interval: config.Seconds(iv.SweepSeconds), Run: func(context.Context) {
			now := time.Now()
			removed := b.security.Sweep(now, time.Hour)
			removed += b.leveling.Sweep(now)
			b.logger.Debug("windows swept", zap.Int("removed", removed))
		}},
		{Name: "cleanup", Interval: time.Duration(iv.CleanupHours) * time.Hour, Run: b.cleanup},
	}
}

func (b *Bot) cleanup(ctx context.Context) {
	logs, err := b.store.CleanupAuditLogs(ctx, b.cfg.RetentionDays)
	if err != nil {
		b.logger.Warn("audit log cleanup failed", zap.Error(err))
	}
	cutoff := time.Now().AddDate(0, 0, -b.cfg.RetentionDays)
	stale, err := b.store.CleanupControls(ctx, cutoff)
	if err != nil {
		b.logger.Warn("control cleanup failed", zap.Error(err))
	}
	b.logger.Info("cleanup finished", zap.Int64("audit_logs", logs), zap.Int64("controls", stale))
}

func (b *Bot) mirrorAudit(ctx context.Context, entry storage.AuditLog) {
	if entry.Level == audit.LevelInfo || entry.GuildID == "" {
		return
	}
	color := b.cfg.Notifications.EmbedColors.Warning
	if entry.Level == audit.LevelCrit {
		color = b.cfg.Notifications.EmbedColors.Alert
	}
	fields := []platform.Field{{Name: "Level", Value: entry.Level, Inline: true}}
	if entry.UserID != "" {
		fields = append(fields, platform.Field{Name: "Member", Value: "<@" + entry.UserID + ">", Inline: true})
	}
	if entry.Details != "" {
		fields = append(fields, platform.Field{Name: "Details", Value: "`" + entry.Details + "`"})
	}
	b.actuator.Notify(ctx, entry.GuildID, platform.Notice{Title: "Audit: " + entry.Event, Color: color, Fields: fields})
}

func (b *Bot) baseContext() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
	if err != nil {
		b.logger.Debug("interaction respond failed", zap.Error(err))
	}
}

func (b *Bot) respondNotice(session *discordgo.Session, interaction *discordgo.InteractionCreate, notice platform.Notice, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{discord.NoticeEmbed(notice)},
			Flags:  flags,
		},
	})
	if err != nil {
		b.logger.Debug("interaction respond failed", zap.Error(err))
	}
}

// deferResponse acknowledges a slow command; the result is sent with editNotice.
func (b *Bot) deferResponse(session *discordgo.Session, interaction *discordgo.InteractionCreate) bool {
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		b.logger.Warn("interaction defer failed", zap.Error(err))
		return false
	}
	return true
}

func (b *Bot) editNotice(session *discordgo.Session, interaction *discordgo.InteractionCreate, notice platform.Notice) {
	embeds := []*discordgo.MessageEmbed{discord.NoticeEmbed(notice)}
	if _, err := session.InteractionResponseEdit(interaction.Interaction, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
		b.logger.Debug("interaction edit failed", zap.Error(err))
	}
}

func (b *Bot) notice(title, description string, color int, fields ...platform.Field) platform.Notice {
	return platform.Notice{Title: title, Description: description, Color: color, Fields: fields}
}

func (b *Bot) errorNotice(title string, err error) platform.Notice {
	return b.notice(title, err.Error(), b.cfg.Notifications.EmbedColors.Alert)
}
