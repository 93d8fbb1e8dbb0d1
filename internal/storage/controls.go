package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ControlRecord backs an interactive button. Payload is opaque JSON owned by
// the handler registered for Kind.
type ControlRecord struct {
	ID        string
	GuildID   string
	Kind      string
	Payload   []byte
	CreatedAt time.Time
}

func (s *Store) SaveControl(ctx context.Context, record ControlRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO controls (id, guild_id, kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, record.ID, record.GuildID, record.Kind, string(record.Payload), record.CreatedAt.Unix())
	return err
}

func (s *Store) GetControl(ctx context.Context, id string) (ControlRecord, error) {
	var record ControlRecord
	var payload string
	var created int64
	err := s.queryRow(ctx, `SELECT id, guild_id, kind, payload, created_at FROM controls WHERE id = ?`, id).
		Scan(&record.ID, &record.GuildID, &record.Kind, &payload, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ControlRecord{}, ErrNotFound
		}
		return ControlRecord{}, err
	}
	record.Payload = []byte(payload)
	record.CreatedAt = time.Unix(created, 0)
	return record, nil
}

// DeleteControl reports whether the control still existed, so a button
// clicked twice runs its handler once.
func (s *Store) DeleteControl(ctx context.Context, id string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM controls WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) CleanupControls(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM controls WHERE created_at < ?`, before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
