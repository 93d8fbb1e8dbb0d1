package storage

import (
	"context"
	"time"
)

type TempRole struct {
	GuildID   string
	UserID    string
	RoleID    string
	GrantedBy string
	ExpiresAt time.Time
	Reason    string
	CreatedAt time.Time
}

type RoleAssignment struct {
	ID          int64
	GuildID     string
	UserID      string
	RoleID      string
	ModeratorID string
	ActionType  string
	Reason      string
	Temporary   bool
	Duration    time.Duration
	CreatedAt   time.Time
}

const (
	RoleActionAdd    = "ADD"
	RoleActionRemove = "REMOVE"
)

// UpsertTempRole replaces any existing grant for the same (guild, user,
// role), keeping at most one active expiry per role.
func (s *Store) UpsertTempRole(ctx context.Context, grant TempRole) error {
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = s.now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO temp_roles (guild_id, user_id, role_id, granted_by, expires_at, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (guild_id, user_id, role_id) DO UPDATE SET
			granted_by = excluded.granted_by,
			expires_at = excluded.expires_at,
			reason = excluded.reason,
			created_at = excluded.created_at
	`, grant.GuildID, grant.UserID, grant.RoleID, grant.GrantedBy, grant.ExpiresAt.Unix(), grant.Reason, grant.CreatedAt.Unix())
	return err
}

func (s *Store) DeleteTempRole(ctx context.Context, guildID, userID, roleID string) error {
	_, err := s.exec(ctx, `DELETE FROM temp_roles WHERE guild_id = ? AND user_id = ? AND role_id = ?`, guildID, userID, roleID)
	return err
}

// ListExpiredTempRoles returns grants with expires_at <= now, oldest first.
func (s *Store) ListExpiredTempRoles(ctx context.Context, now time.Time) ([]TempRole, error) {
	return s.listTempRoles(ctx, `
		SELECT guild_id, user_id, role_id, granted_by, expires_at, reason, created_at
		FROM temp_roles WHERE expires_at <= ?
		ORDER BY expires_at
	`, now.Unix())
}

func (s *Store) ListTempRolesForMember(ctx context.Context, guildID, userID string) ([]TempRole, error) {
	return s.listTempRoles(ctx, `
		SELECT guild_id, user_id, role_id, granted_by, expires_at, reason, created_at
		FROM temp_roles WHERE guild_id = ? AND user_id = ?
		ORDER BY expires_at
	`, guildID, userID)
}

func (s *Store) listTempRoles(ctx context.Context, query string, args ...any) ([]TempRole, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TempRole
	for rows.Next() {
		var grant TempRole
		var expires, created int64
		if err := rows.Scan(&grant.GuildID, &grant.UserID, &grant.RoleID, &grant.GrantedBy, &expires, &grant.Reason, &created); err != nil {
			return nil, err
		}
		grant.ExpiresAt = time.Unix(expires, 0)
		grant.CreatedAt = time.Unix(created, 0)
		out = append(out, grant)
	}
	return out, rows.Err()
}

func (s *Store) AddRoleAssignment(ctx context.Context, a RoleAssignment) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO role_assignments (guild_id, user_id, role_id, moderator_id, action_type, reason, is_temporary, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.GuildID, a.UserID, a.RoleID, a.ModeratorID, a.ActionType, a.Reason, boolToInt(a.Temporary), nullableSeconds(a.Duration), a.CreatedAt.Unix())
	return err
}

func (s *Store) ListRoleAssignments(ctx context.Context, guildID, userID string, limit int) ([]RoleAssignment, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.query(ctx, `
		SELECT id, guild_id, user_id, role_id, moderator_id, action_type, reason, is_temporary, duration_seconds, created_at
		FROM role_assignments WHERE guild_id = ? AND user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, guildID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoleAssignment
	for rows.Next() {
		var a RoleAssignment
		var temporary int
		var duration *int64
		var created int64
		if err := rows.Scan(&a.ID, &a.GuildID, &a.UserID, &a.RoleID, &a.ModeratorID, &a.ActionType, &a.Reason, &temporary, &duration, &created); err != nil {
			return nil, err
		}
		a.Temporary = temporary == 1
		if duration != nil {
			a.Duration = time.Duration(*duration) * time.Second
		}
		a.CreatedAt = time.Unix(created, 0)
		out = append(out, a)
	}
	return out, rows.Err()
}
