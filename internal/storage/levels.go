package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type MemberLevel struct {
	GuildID   string
	UserID    string
	XP        int
	Level     int
	TotalXP   int
	UpdatedAt time.Time
}

type LevelSettings struct {
	GuildID          string
	Enabled          bool
	LevelUpChannelID string
	LevelUpMessage   string
	CooldownSeconds  int
	MinXP            int
	MaxXP            int
}

func (s *Store) GetMemberLevel(ctx context.Context, guildID, userID string) (MemberLevel, error) {
	row := s.queryRow(ctx, `
		SELECT guild_id, user_id, xp, level, total_xp, updated_at
		FROM levels WHERE guild_id = ? AND user_id = ?
	`, guildID, userID)
	level, err := scanMemberLevel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MemberLevel{GuildID: guildID, UserID: userID}, nil
	}
	return level, err
}

// ApplyXP adds gained XP inside a transaction and carries overflow into as
// many levels as it covers. It returns the new row and the number of levels
// gained.
func (s *Store) ApplyXP(ctx context.Context, guildID, userID string, gained int, xpNeeded func(level int) int) (MemberLevel, int, error) {
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return MemberLevel{}, 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current := MemberLevel{GuildID: guildID, UserID: userID}
	row := tx.QueryRowContext(ctx, s.rebind(`
		SELECT guild_id, user_id, xp, level, total_xp, updated_at
		FROM levels WHERE guild_id = ? AND user_id = ?
	`), guildID, userID)
	found, scanErr := scanMemberLevel(row)
	if scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
		err = scanErr
		return MemberLevel{}, 0, err
	}
	if scanErr == nil {
		current = found
	}

	current.XP += gained
	current.TotalXP += gained
	levelsGained := 0
	for current.XP >= xpNeeded(current.Level) {
		current.XP -= xpNeeded(current.Level)
		current.Level++
		levelsGained++
	}
	current.UpdatedAt = now

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO levels (guild_id, user_id, xp, level, total_xp, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (guild_id, user_id) DO UPDATE SET
			xp = excluded.xp,
			level = excluded.level,
			total_xp = excluded.total_xp,
			updated_at = excluded.updated_at
	`), guildID, userID, current.XP, current.Level, current.TotalXP, now.Unix())
	if err != nil {
		return MemberLevel{}, 0, err
	}
	if err = tx.Commit(); err != nil {
		return MemberLevel{}, 0, err
	}
	return MemberLevel{
		GuildID:   current.GuildID,
		UserID:    current.UserID,
		XP:        current.XP,
		Level:     current.Level,
		TotalXP:   current.TotalXP,
		UpdatedAt: time.Unix(now.Unix(), 0),
	}, levelsGained, nil
}

func (s *Store) Leaderboard(ctx context.Context, guildID string, limit int) ([]MemberLevel, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.query(ctx, `
		SELECT guild_id, user_id, xp, level, total_xp, updated_at
		FROM levels WHERE guild_id = ?
		ORDER BY level DESC, xp DESC, user_id
		LIMIT ?
	`, guildID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MemberLevel
	for rows.Next() {
		level, err := scanMemberLevel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, level)
	}
	return out, rows.Err()
}

// Rank is the 1-based leaderboard position of the member.
func (s *Store) Rank(ctx context.Context, guildID string, member MemberLevel) (int, error) {
	var ahead int
	err := s.queryRow(ctx, `
		SELECT COUNT(*) FROM levels
		WHERE guild_id = ? AND (level > ? OR (level = ? AND xp > ?))
	`, guildID, member.Level, member.Level, member.XP).Scan(&ahead)
	if err != nil {
		return 0, err
	}
	return ahead + 1, nil
}

func (s *Store) GetLevelSettings(ctx context.Context, guildID string) (LevelSettings, error) {
	var out LevelSettings
	var enabled int
	err := s.queryRow(ctx, `
		SELECT guild_id, enabled, level_up_channel_id, level_up_message, xp_cooldown_seconds, min_xp, max_xp
		FROM level_settings WHERE guild_id = ?
	`, guildID).Scan(&out.GuildID, &enabled, &out.LevelUpChannelID, &out.LevelUpMessage, &out.CooldownSeconds, &out.MinXP, &out.MaxXP)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LevelSettings{}, ErrNotFound
		}
		return LevelSettings{}, err
	}
	out.Enabled = enabled == 1
	return out, nil
}

func (s *Store) InsertLevelSettings(ctx context.Context, settings LevelSettings) error {
	_, err := s.exec(ctx, `
		INSERT INTO level_settings (guild_id, enabled, level_up_channel_id, level_up_message, xp_cooldown_seconds, min_xp, max_xp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (guild_id) DO NOTHING
	`, settings.GuildID, boolToInt(settings.Enabled), settings.LevelUpChannelID, settings.LevelUpMessage, settings.CooldownSeconds, settings.MinXP, settings.MaxXP)
	return err
}

func (s *Store) UpsertLevelSettings(ctx context.Context, settings LevelSettings) error {
	_, err := s.exec(ctx, `
		INSERT INTO level_settings (guild_id, enabled, level_up_channel_id, level_up_message, xp_cooldown_seconds, min_xp, max_xp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (guild_id) DO UPDATE SET
			enabled = excluded.enabled,
			level_up_channel_id = excluded.level_up_channel_id,
			level_up_message = excluded.level_up_message,
			xp_cooldown_seconds = excluded.xp_cooldown_seconds,
			min_xp = excluded.min_xp,
			max_xp = excluded.max_xp
	`, settings.GuildID, boolToInt(settings.Enabled), settings.LevelUpChannelID, settings.LevelUpMessage, settings.CooldownSeconds, settings.MinXP, settings.MaxXP)
	return err
}

func scanMemberLevel(row rowScanner) (MemberLevel, error) {
	var level MemberLevel
	var updated int64
	if err := row.Scan(&level.GuildID, &level.UserID, &level.XP, &level.Level, &level.TotalXP, &updated); err != nil {
		return MemberLevel{}, err
	}
	level.UpdatedAt = time.Unix(updated, 0)
	return level, nil
}
