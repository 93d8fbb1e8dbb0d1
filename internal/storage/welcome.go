package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type WelcomeSettings struct {
	GuildID          string
	Enabled          bool
	ChannelID        string
	Title            string
	Message          string
	Color            int
	DMEnabled        bool
	DMMessage        string
	GoodbyeEnabled   bool
	GoodbyeChannelID string
	GoodbyeMessage   string
}

type AutoRole struct {
	GuildID   string
	RoleID    string
	ForBots   bool
	Delay     time.Duration
	CreatedAt time.Time
}

const (
	MemberJoined = "JOIN"
	MemberLeft   = "LEAVE"
)

type WelcomeStat struct {
	GuildID       string
	UserID        string
	WelcomeSent   bool
	DMSent        bool
	RolesAssigned int
	CreatedAt     time.Time
}

// WelcomeTotals sums welcome_stats rows.
type WelcomeTotals struct {
	Welcomes int
	DMs      int
	Roles    int
}

const welcomeColumns = `guild_id, enabled, channel_id, title, message, color, dm_enabled, dm_message, goodbye_enabled, goodbye_channel_id, goodbye_message`

func (s *Store) GetWelcomeSettings(ctx context.Context, guildID string) (WelcomeSettings, error) {
	var out WelcomeSettings
	var enabled, dmEnabled, goodbyeEnabled int
	err := s.queryRow(ctx, `SELECT `+welcomeColumns+` FROM welcome_settings WHERE guild_id = ?`, guildID).Scan(
		&out.GuildID, &enabled, &out.ChannelID, &out.Title, &out.Message, &out.Color,
		&dmEnabled, &out.DMMessage, &goodbyeEnabled, &out.GoodbyeChannelID, &out.GoodbyeMessage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WelcomeSettings{}, ErrNotFound
		}
		return WelcomeSettings{}, err
	}
	out.Enabled = enabled == 1
	out.DMEnabled = dmEnabled == 1
	out.GoodbyeEnabled = goodbyeEnabled == 1
	return out, nil
}

func (s *Store) InsertWelcomeSettings(ctx context.Context, settings WelcomeSettings) error {
	_, err := s.exec(ctx, `
		INSERT INTO welcome_settings (`+welcomeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (guild_id) DO NOTHING
	`, welcomeArgs(settings)...)
	return err
}

func (s *Store) UpsertWelcomeSettings(ctx context.Context, settings WelcomeSettings) error {
	_, err := s.exec(ctx, `
		INSERT INTO welcome_settings (`+welcomeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (guild_id) DO UPDATE SET
			enabled = excluded.enabled,
			channel_id = excluded.channel_id,
			title = excluded.title,
			message = excluded.message,
			color = excluded.color,
			dm_enabled = excluded.dm_enabled,
			dm_message = excluded.dm_message,
			goodbye_enabled = excluded.goodbye_enabled,
			goodbye_channel_id = excluded.goodbye_channel_id,
			goodbye_message = excluded.goodbye_message
	`, welcomeArgs(settings)...)
	return err
}

func welcomeArgs(w WelcomeSettings) []any {
	return []any{
		w.GuildID, boolToInt(w.Enabled), w.ChannelID, w.Title, w.Message, w.Color,
		boolToInt(w.DMEnabled), w.DMMessage, boolToInt(w.GoodbyeEnabled), w.GoodbyeChannelID, w.GoodbyeMessage,
	}
}

// SaveAutoRole adds the role, or updates its delay when it is already set up
// for the same kind of member.
func (s *Store) SaveAutoRole(ctx context.Context, role AutoRole) error {
	if role.CreatedAt.IsZero() {
		role.CreatedAt = s.now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO auto_roles (guild_id, role_id, for_bots, delay_seconds, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (guild_id, role_id, for_bots) DO UPDATE SET delay_seconds = excluded.delay_seconds
	`, role.GuildID, role.RoleID, boolToInt(role.ForBots), int64(role.Delay/time.Second), role.CreatedAt.Unix())
	return err
}

func (s *Store) DeleteAutoRole(ctx context.Context, guildID, roleID string, forBots bool) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM auto_roles WHERE guild_id = ? AND role_id = ? AND for_bots = ?`, guildID, roleID, boolToInt(forBots))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListAutoRoles returns the guild's auto roles, shortest delay first.
func (s *Store) ListAutoRoles(ctx context.Context, guildID string) ([]AutoRole, error) {
	rows, err := s.query(ctx, `
		SELECT guild_id, role_id, for_bots, delay_seconds, created_at
		FROM auto_roles WHERE guild_id = ?
		ORDER BY delay_seconds, created_at, role_id
	`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AutoRole
	for rows.Next() {
		var role AutoRole
		var forBots int
		var delay, created int64
		if err := rows.Scan(&role.GuildID, &role.RoleID, &forBots, &delay, &created); err != nil {
			return nil, err
		}
		role.ForBots = forBots == 1
		role.Delay = time.Duration(delay) * time.Second
		role.CreatedAt = time.Unix(created, 0)
		out = append(out, role)
	}
	return out, rows.Err()
}

func (s *Store) TrackMember(ctx context.Context, guildID, userID, action string, at time.Time) error {
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO member_tracking (guild_id, user_id, action_type, created_at) VALUES (?, ?, ?, ?)
	`, guildID, userID, action, at.Unix())
	return err
}

func (s *Store) CountMemberEvents(ctx context.Context, guildID, action string, since time.Time) (int, error) {
	var count int
	err := s.queryRow(ctx, `
		SELECT COUNT(*) FROM member_tracking WHERE guild_id = ? AND action_type = ? AND created_at >= ?
	`, guildID, action, since.Unix()).Scan(&count)
	return count, err
}

func (s *Store) AddWelcomeStat(ctx context.Context, stat WelcomeStat) error {
	if stat.CreatedAt.IsZero() {
		stat.CreatedAt = s.now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO welcome_stats (guild_id, user_id, welcome_sent, dm_sent, roles_assigned, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, stat.GuildID, stat.UserID, boolToInt(stat.WelcomeSent), boolToInt(stat.DMSent), stat.RolesAssigned, stat.CreatedAt.Unix())
	return err
}

// CountWelcomeRole credits a delayed auto role to the member's latest
// welcome row.
func (s *Store) CountWelcomeRole(ctx context.Context, guildID, userID string) error {
	_, err := s.exec(ctx, `
		UPDATE welcome_stats SET roles_assigned = roles_assigned + 1
		WHERE id = (SELECT MAX(id) FROM welcome_stats WHERE guild_id = ? AND user_id = ?)
	`, guildID, userID)
	return err
}

func (s *Store) SumWelcomeStats(ctx context.Context, guildID string, since time.Time) (WelcomeTotals, error) {
	var out WelcomeTotals
	err := s.queryRow(ctx, `
		SELECT
			CAST(COALESCE(SUM(welcome_sent), 0) AS BIGINT),
			CAST(COALESCE(SUM(dm_sent), 0) AS BIGINT),
			CAST(COALESCE(SUM(roles_assigned), 0) AS BIGINT)
		FROM welcome_stats WHERE guild_id = ? AND created_at >= ?
	`, guildID, since.Unix()).Scan(&out.Welcomes, &out.DMs, &out.Roles)
	return out, err
}
