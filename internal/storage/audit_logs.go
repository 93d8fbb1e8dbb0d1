package storage

import (
	"context"
	"time"
)

type AuditLog struct {
	ID        int64
	GuildID   string
	UserID    string
	Level     string
	Event     string
	Details   string
	CreatedAt time.Time
}

func (s *Store) AddAuditLog(ctx context.Context, log AuditLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO audit_logs (guild_id, user_id, level, event, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, log.GuildID, log.UserID, log.Level, log.Event, log.Details, log.CreatedAt.Unix())
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, guildID string, since time.Time, limit int) ([]AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx, `
		SELECT id, guild_id, user_id, level, event, details, created_at
		FROM audit_logs
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, guildID, since.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var log AuditLog
		var created int64
		if err := rows.Scan(&log.ID, &log.GuildID, &log.UserID, &log.Level, &log.Event, &log.Details, &created); err != nil {
			return nil, err
		}
		log.CreatedAt = time.Unix(created, 0)
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// CountAuditLogs groups audit rows since the cut-off by level and by event.
func (s *Store) CountAuditLogs(ctx context.Context, guildID string, since time.Time) (map[string]int, map[string]int, error) {
	rows, err := s.query(ctx, `
		SELECT level, event, COUNT(*) FROM audit_logs
		WHERE guild_id = ? AND created_at >= ?
		GROUP BY level, event
	`, guildID, since.Unix())
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	byLevel := make(map[string]int)
	byEvent := make(map[string]int)
	for rows.Next() {
		var level, event string
		var count int
		if err := rows.Scan(&level, &event, &count); err != nil {
			return nil, nil, err
		}
		byLevel[level] += count
		byEvent[event] += count
	}
	return byLevel, byEvent, rows.Err()
}

func (s *Store) CleanupAuditLogs(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := s.now().AddDate(0, 0, -retentionDays)
	res, err := s.exec(ctx, `DELETE FROM audit_logs WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
