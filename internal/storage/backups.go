package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SaveBackup keeps one snapshot per guild; a new save replaces the old one.
func (s *Store) SaveBackup(ctx context.Context, guildID, createdBy string, data []byte) error {
	_, err := s.exec(ctx, `
		INSERT INTO server_backups (guild_id, backup_data, created_by, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (guild_id) DO UPDATE SET
			backup_data = excluded.backup_data,
			created_by = excluded.created_by,
			updated_at = excluded.updated_at
	`, guildID, string(data), createdBy, s.now().Unix())
	return err
}

func (s *Store) LoadBackup(ctx context.Context, guildID string) ([]byte, time.Time, error) {
	var data string
	var updated int64
	err := s.queryRow(ctx, `SELECT backup_data, updated_at FROM server_backups WHERE guild_id = ?`, guildID).Scan(&data, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, time.Time{}, ErrNotFound
		}
		return nil, time.Time{}, err
	}
	return []byte(data), time.Unix(updated, 0), nil
}
