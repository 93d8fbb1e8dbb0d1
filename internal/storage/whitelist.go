package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type WhitelistEntry struct {
	GuildID   string
	UserID    string
	AddedBy   string
	CreatedAt time.Time
}

// AddWhitelist is idempotent; it reports whether a new row was written.
func (s *Store) AddWhitelist(ctx context.Context, guildID, userID, addedBy string) (bool, error) {
	res, err := s.exec(ctx, `
		INSERT INTO whitelist (guild_id, user_id, added_by, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (guild_id, user_id) DO NOTHING
	`, guildID, userID, addedBy, s.now().Unix())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RemoveWhitelist is idempotent; it reports whether a row was deleted.
func (s *Store) RemoveWhitelist(ctx context.Context, guildID, userID string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM whitelist WHERE guild_id = ? AND user_id = ?`, guildID, userID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) IsWhitelisted(ctx context.Context, guildID, userID string) (bool, error) {
	var one int
	err := s.queryRow(ctx, `SELECT 1 FROM whitelist WHERE guild_id = ? AND user_id = ?`, guildID, userID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) ListWhitelist(ctx context.Context, guildID string) ([]WhitelistEntry, error) {
	rows, err := s.query(ctx, `
		SELECT guild_id, user_id, added_by, created_at
		FROM whitelist WHERE guild_id = ?
		ORDER BY created_at, user_id
	`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []WhitelistEntry
	for rows.Next() {
		var entry WhitelistEntry
		var created int64
		if err := rows.Scan(&entry.GuildID, &entry.UserID, &entry.AddedBy, &created); err != nil {
			return nil, err
		}
		entry.CreatedAt = time.Unix(created, 0)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
