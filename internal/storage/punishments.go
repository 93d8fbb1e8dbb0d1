package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Punishment rows are append-only.
type Punishment struct {
	ID          string
	GuildID     string
	UserID      string
	ModeratorID string
	ActionType  string
	Reason      string
	Duration    time.Duration
	CreatedAt   time.Time
}

const punishmentIDAttempts = 5

// NewPunishmentID returns 8 uppercase hex characters taken from a random
// v4 UUID.
func NewPunishmentID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// AddPunishment assigns an id (unless one is set), inserts the row and
// returns the stored record. A colliding id is regenerated.
func (s *Store) AddPunishment(ctx context.Context, p Punishment) (Punishment, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	generated := p.ID == ""
	for attempt := 0; attempt < punishmentIDAttempts; attempt++ {
		if generated {
			p.ID = NewPunishmentID()
		}
		_, err := s.exec(ctx, `
			INSERT INTO punishments (punishment_id, guild_id, user_id, moderator_id, action_type, reason, duration_seconds, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, p.ID, p.GuildID, p.UserID, p.ModeratorID, p.ActionType, p.Reason, nullableSeconds(p.Duration), p.CreatedAt.Unix())
		if err == nil {
			return p, nil
		}
		if !generated || !isUniqueViolation(err) {
			return Punishment{}, err
		}
	}
	return Punishment{}, fmt.Errorf("allocate punishment id: %d collisions", punishmentIDAttempts)
}

func (s *Store) GetPunishment(ctx context.Context, id string) (Punishment, error) {
	row := s.queryRow(ctx, `
		SELECT punishment_id, guild_id, user_id, moderator_id, action_type, reason, duration_seconds, created_at
		FROM punishments WHERE punishment_id = ?
	`, strings.ToUpper(id))
	p, err := scanPunishment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Punishment{}, ErrNotFound
	}
	return p, err
}

func (s *Store) ListPunishments(ctx context.Context, guildID, userID string, limit int) ([]Punishment, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.query(ctx, `
		SELECT punishment_id, guild_id, user_id, moderator_id, action_type, reason, duration_seconds, created_at
		FROM punishments WHERE guild_id = ? AND user_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, guildID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Punishment
	for rows.Next() {
		p, err := scanPunishment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountPunishmentsByType groups a guild's punishments since the cut-off.
func (s *Store) CountPunishmentsByType(ctx context.Context, guildID string, since time.Time) (map[string]int, error) {
	rows, err := s.query(ctx, `
		SELECT action_type, COUNT(*) FROM punishments
		WHERE guild_id = ? AND created_at >= ?
		GROUP BY action_type
	`, guildID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return nil, err
		}
		counts[action] = count
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPunishment(row rowScanner) (Punishment, error) {
	var p Punishment
	var duration sql.NullInt64
	var created int64
	if err := row.Scan(&p.ID, &p.GuildID, &p.UserID, &p.ModeratorID, &p.ActionType, &p.Reason, &duration, &created); err != nil {
		return Punishment{}, err
	}
	if duration.Valid {
		p.Duration = time.Duration(duration.Int64) * time.Second
	}
	p.CreatedAt = time.Unix(created, 0)
	return p, nil
}
