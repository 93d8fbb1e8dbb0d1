// Package welcome greets joining members, says goodbye to leaving ones and
// hands out the guild's auto roles. Roles with a delay wait in memory until
// Poll finds them due, so a restart drops the ones still pending.
package welcome

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"synergy-guard/internal/config"
	"synergy-guard/internal/platform"
	"synergy-guard/internal/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	GoodbyeTitle   = "Goodbye!"
	autoRoleReason = "Auto-role on join"
	MaxStatsDays   = 90
)

type Store interface {
	SaveAutoRole(ctx context.Context, role storage.AutoRole) error
	DeleteAutoRole(ctx context.Context, guildID, roleID string, forBots bool) (bool, error)
	ListAutoRoles(ctx context.Context, guildID string) ([]storage.AutoRole, error)
	TrackMember(ctx context.Context, guildID, userID, action string, at time.Time) error
	CountMemberEvents(ctx context.Context, guildID, action string, since time.Time) (int, error)
	AddWelcomeStat(ctx context.Context, stat storage.WelcomeStat) error
	CountWelcomeRole(ctx context.Context, guildID, userID string) error
	SumWelcomeStats(ctx context.Context, guildID string, since time.Time) (storage.WelcomeTotals, error)
}

type Settings interface {
	Welcome(ctx context.Context, guildID string) storage.WelcomeSettings
	UpdateWelcome(ctx context.Context, settings storage.WelcomeSettings) error
}

type pendingRole struct {
	guildID string
	userID  string
	roleID  string
	due     time.Time
}

type Service struct {
	store    Store
	settings Settings
	client   platform.Client
	cfg      config.WelcomeConfig
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending []pendingRole
}

func New(store Store, settings Settings, client platform.Client, cfg config.WelcomeConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, settings: settings, client: client, cfg: cfg, logger: logger, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// JoinResult reports what HandleJoin did for one member.
type JoinResult struct {
	WelcomeSent   bool
	DMSent        bool
	RolesAssigned int
	RolesPending  int
}

// HandleJoin records the join, posts the welcome message and DM when they
// are enabled and gives the auto roles meant for the member's kind. Delivery
// failures are logged and never stop the remaining steps.
func (s *Service) HandleJoin(ctx context.Context, join platform.MemberJoin) JoinResult {
	now := s.now()
	log := s.logger.With(zap.String("guild_id", join.GuildID), zap.String("user_id", join.UserID))
	if err := s.store.TrackMember(ctx, join.GuildID, join.UserID, storage.MemberJoined, now); err != nil {
		log.Warn("member join not tracked", zap.Error(err))
	}

	var result JoinResult
	settings := s.settings.Welcome(ctx, join.GuildID)
	dm := !join.Bot && settings.DMEnabled && settings.DMMessage != ""
	if (settings.Enabled && settings.ChannelID != "") || dm {
		vars := s.vars(ctx, join.GuildID, join.UserID, join.Username)
		if settings.Enabled && settings.ChannelID != "" {
			notice := platform.Notice{
				Title:       Render(settings.Title, vars),
				Description: Render(settings.Message, vars),
				Color:       settings.Color,
			}
			if err := s.client.SendNotice(ctx, settings.ChannelID, notice); err != nil {
				log.Warn("welcome message failed", zap.String("channel_id", settings.ChannelID), zap.Error(err))
			} else {
				result.WelcomeSent = true
			}
		}
		if dm {
			notice := platform.Notice{Description: Render(settings.DMMessage, vars), Color: settings.Color}
			if err := s.client.SendDirect(ctx, join.UserID, notice); err != nil {
				log.Info("welcome dm failed", zap.Error(err))
			} else {
				result.DMSent = true
			}
		}
	}

	roles, err := s.store.ListAutoRoles(ctx, join.GuildID)
	if err != nil {
		log.Warn("auto roles not loaded", zap.Error(err))
	}
	for _, role := range roles {
		if role.ForBots != join.Bot {
			continue
		}
		if role.Delay > 0 {
			s.mu.Lock()
			s.pending = append(s.pending, pendingRole{guildID: join.GuildID, userID: join.UserID, roleID: role.RoleID, due: now.Add(role.Delay)})
			s.mu.Unlock()
			result.RolesPending++
			continue
		}
		if err := s.client.AddRole(ctx, join.GuildID, join.UserID, role.RoleID, autoRoleReason); err != nil {
			log.Warn("auto role failed", zap.String("role_id", role.RoleID), zap.Error(err))
			continue
		}
		result.RolesAssigned++
	}

	stat := storage.WelcomeStat{
		GuildID:       join.GuildID,
		UserID:        join.UserID,
		WelcomeSent:   result.WelcomeSent,
		DMSent:        result.DMSent,
		RolesAssigned: result.RolesAssigned,
		CreatedAt:     now,
	}
	if err := s.store.AddWelcomeStat(ctx, stat); err != nil {
		log.Warn("welcome stat not saved", zap.Error(err))
	}
	return result
}

// HandleLeave records the departure, drops the member's pending roles and
// posts the goodbye message when it is enabled.
func (s *Service) HandleLeave(ctx context.Context, leave platform.MemberLeave) bool {
	log := s.logger.With(zap.String("guild_id", leave.GuildID), zap.String("user_id", leave.UserID))
	if err := s.store.TrackMember(ctx, leave.GuildID, leave.UserID, storage.MemberLeft, s.now()); err != nil {
		log.Warn("member leave not tracked", zap.Error(err))
	}

	s.mu.Lock()
	kept := s.pending[:0]
	for _, p := range s.pending {
		if p.guildID != leave.GuildID || p.userID != leave.UserID {
			kept = append(kept, p)
		}
	}
	s.pending = kept
	s.mu.Unlock()

	settings := s.settings.Welcome(ctx, leave.GuildID)
	if !settings.GoodbyeEnabled || settings.GoodbyeChannelID == "" {
		return false
	}
	vars := s.vars(ctx, leave.GuildID, leave.UserID, leave.Username)
	notice := platform.Notice{
		Title:       GoodbyeTitle,
		Description: Render(settings.GoodbyeMessage, vars),
		Color:       s.cfg.GoodbyeColor,
	}
	if err := s.client.SendNotice(ctx, settings.GoodbyeChannelID, notice); err != nil {
		log.Warn("goodbye message failed", zap.String("channel_id", settings.GoodbyeChannelID), zap.Error(err))
		return false
	}
	return true
}

// Poll gives every delayed auto role that is due and returns how many were
// given. A role that cannot be given is dropped.
func (s *Service) Poll(ctx context.Context) int {
	now := s.now()
	s.mu.Lock()
	var due []pendingRole
	kept := s.pending[:0]
	for _, p := range s.pending {
		if now.Before(p.due) {
			kept = append(kept, p)
		} else {
			due = append(due, p)
		}
	}
	s.pending = kept
	s.mu.Unlock()

	given := 0
	for _, p := range due {
		if err := s.client.AddRole(ctx, p.guildID, p.userID, p.roleID, autoRoleReason); err != nil {
			s.logger.Warn("delayed auto role failed",
				zap.String("guild_id", p.guildID), zap.String("user_id", p.userID), zap.String("role_id", p.roleID), zap.Error(err))
			continue
		}
		given++
		if err := s.store.CountWelcomeRole(ctx, p.guildID, p.userID); err != nil {
			s.logger.Warn("welcome stat not updated", zap.String("guild_id", p.guildID), zap.Error(err))
		}
	}
	return given
}

// Pending reports how many delayed roles are waiting.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Service) vars(ctx context.Context, guildID, userID, username string) Vars {
	info, err := s.client.GuildInfo(ctx, guildID)
	if err != nil {
		s.logger.Debug("guild info unavailable", zap.String("guild_id", guildID), zap.Error(err))
		info = platform.GuildInfo{Name: guildID}
	}
	return Vars{UserID: userID, Username: username, Server: info.Name, MemberCount: info.MemberCount}
}

type Vars struct {
	UserID      string
	Username    string
	Server      string
	MemberCount int
}

// Render fills {user} {username} {mention} {id} {server} {guild} and
// {member_count}.
func Render(template string, v Vars) string {
	name := v.Username
	if name == "" {
		name = "<@" + v.UserID + ">"
	}
	return strings.NewReplacer(
		"{user}", name,
		"{username}", name,
		"{mention}", "<@"+v.UserID+">",
		"{id}", v.UserID,
		"{server}", v.Server,
		"{guild}", v.Server,
		"{member_count}", strconv.Itoa(v.MemberCount),
	).Replace(template)
}

// ParseColor reads "#RRGGBB" or "RRGGBB".
func ParseColor(text string) (int, error) {
	value, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(text), "#"), 16, 32)
	if err != nil || value < 0 || value > 0xFFFFFF {
		return 0, fmt.Errorf("invalid color %q", text)
	}
	return int(value), nil
}

type WelcomeUpdate struct {
	Enabled   bool
	ChannelID string
	Title     string
	Message   string
	Color     string
}

// ConfigureWelcome switches the channel message. Empty fields keep their
// current value; enabling needs a channel.
func (s *Service) ConfigureWelcome(ctx context.Context, guildID string, u WelcomeUpdate) (storage.WelcomeSettings, error) {
	settings := s.settings.Welcome(ctx, guildID)
	if u.ChannelID != "" {
		settings.ChannelID = u.ChannelID
	}
	if u.Enabled && settings.ChannelID == "" {
		return storage.WelcomeSettings{}, fmt.Errorf("a welcome channel is required")
	}
	if u.Color != "" {
		color, err := ParseColor(u.Color)
		if err != nil {
			return storage.WelcomeSettings{}, err
		}
		settings.Color = color
	}
	if u.Title != "" {
		settings.Title = u.Title
	}
	if u.Message != "" {
		settings.Message = u.Message
	}
	settings.Enabled = u.Enabled
	return settings, s.settings.UpdateWelcome(ctx, settings)
}

func (s *Service) ConfigureDM(ctx context.Context, guildID string, enabled bool, message string) (storage.WelcomeSettings, error) {
	settings := s.settings.Welcome(ctx, guildID)
	if message != "" {
		settings.DMMessage = message
	}
	if enabled && settings.DMMessage == "" {
		return storage.WelcomeSettings{}, fmt.Errorf("a dm message is required")
	}
	settings.DMEnabled = enabled
	return settings, s.settings.UpdateWelcome(ctx, settings)
}

func (s *Service) ConfigureGoodbye(ctx context.Context, guildID string, enabled bool, channelID, message string) (storage.WelcomeSettings, error) {
	settings := s.settings.Welcome(ctx, guildID)
	if channelID != "" {
		settings.GoodbyeChannelID = channelID
	}
	if enabled && settings.GoodbyeChannelID == "" {
		return storage.WelcomeSettings{}, fmt.Errorf("a goodbye channel is required")
	}
	if message != "" {
		settings.GoodbyeMessage = message
	}
	settings.GoodbyeEnabled = enabled
	return settings, s.settings.UpdateWelcome(ctx, settings)
}

func (s *Service) AddAutoRole(ctx context.Context, guildID, roleID string, forBots bool, delay time.Duration) error {
	limit := time.Duration(s.cfg.MaxRoleDelay) * time.Second
	if delay < 0 || delay > limit {
		return fmt.Errorf("delay must be between 0s and %s", limit)
	}
	return s.store.SaveAutoRole(ctx, storage.AutoRole{GuildID: guildID, RoleID: roleID, ForBots: forBots, Delay: delay, CreatedAt: s.now()})
}

func (s *Service) RemoveAutoRole(ctx context.Context, guildID, roleID string, forBots bool) (bool, error) {
	return s.store.DeleteAutoRole(ctx, guildID, roleID, forBots)
}

func (s *Service) AutoRoles(ctx context.Context, guildID string) ([]storage.AutoRole, error) {
	return s.store.ListAutoRoles(ctx, guildID)
}

type Stats struct {
	Days   int
	Joins  int
	Leaves int
	storage.WelcomeTotals
}

func (s Stats) NetGrowth() int {
	return s.Joins - s.Leaves
}

// Stats summarises joins, leaves and welcome activity over the last days.
func (s *Service) Stats(ctx context.Context, guildID string, days int) (Stats, error) {
	if days < 1 || days > MaxStatsDays {
		return Stats{}, fmt.Errorf("days must be between 1 and %d", MaxStatsDays)
	}
	since := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	out := Stats{Days: days}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out.Joins, err = s.store.CountMemberEvents(gctx, guildID, storage.MemberJoined, since)
		return err
	})
	g.Go(func() error {
		var err error
		out.Leaves, err = s.store.CountMemberEvents(gctx, guildID, storage.MemberLeft, since)
		return err
	})
	g.Go(func() error {
		var err error
		out.WelcomeTotals, err = s.store.SumWelcomeStats(gctx, guildID, since)
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, fmt.Errorf("welcome stats: %w", err)
	}
	return out, nil
}
