// Package tempgrant grants roles with an expiry and removes them once the
// expiry passes. A removal that fails for any reason other than a missing
// member or role stays pending for the next poll.
package tempgrant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"synergy-guard/internal/modules/audit"
	"synergy-guard/internal/platform"
	"synergy-guard/internal/storage"

	"go.uber.org/zap"
)

type Store interface {
	UpsertTempRole(ctx context.Context, grant storage.TempRole) error
	DeleteTempRole(ctx context.Context, guildID, userID, roleID string) error
	ListExpiredTempRoles(ctx context.Context, now time.Time) ([]storage.TempRole, error)
	ListTempRolesForMember(ctx context.Context, guildID, userID string) ([]storage.TempRole, error)
	AddRoleAssignment(ctx context.Context, a storage.RoleAssignment) error
	ListRoleAssignments(ctx context.Context, guildID, userID string, limit int) ([]storage.RoleAssignment, error)
}

type Tracker struct {
	store  Store
	client platform.Client
	audit  *audit.Logger
	logger *zap.Logger
	now    func() time.Time
}

func New(store Store, client platform.Client, auditLogger *audit.Logger, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, client: client, audit: auditLogger, logger: logger, now: time.Now}
}

func (t *Tracker) WithClock(now func() time.Time) {
	if now != nil {
		t.now = now
	}
}

// Grant records when the role must be taken back and then gives it. The
// record is written first so a held role always has an expiry; if the role
// cannot be given, the previous record (or none) is put back. Granting a
// role the member already holds temporarily replaces the old expiry.
func (t *Tracker) Grant(ctx context.Context, guildID, userID, roleID, grantedBy string, d time.Duration, reason string) (storage.TempRole, error) {
	if d <= 0 {
		return storage.TempRole{}, fmt.Errorf("duration must be positive")
	}
	previous, hadPrevious, err := t.current(ctx, guildID, userID, roleID)
	if err != nil {
		return storage.TempRole{}, err
	}
	now := t.now()
	grant := storage.TempRole{
		GuildID:   guildID,
		UserID:    userID,
		RoleID:    roleID,
		GrantedBy: grantedBy,
		ExpiresAt: now.Add(d),
		Reason:    reason,
		CreatedAt: now,
	}
	if err := t.Add(ctx, grant); err != nil {
		return storage.TempRole{}, err
	}
	if err := t.client.AddRole(ctx, guildID, userID, roleID, reason); err != nil {
		t.rollback(ctx, grant, previous, hadPrevious)
		return storage.TempRole{}, fmt.Errorf("add role: %w", err)
	}
	t.history(ctx, storage.RoleAssignment{
		GuildID: guildID, UserID: userID, RoleID: roleID, ModeratorID: grantedBy,
		ActionType: storage.RoleActionAdd, Reason: reason, Temporary: true, Duration: d, CreatedAt: now,
	})
	return grant, nil
}

// Assign gives the role permanently. A pending expiry for the same role is
// dropped so the role is not taken back later.
func (t *Tracker) Assign(ctx context.Context, guildID, userID, roleID, moderatorID, reason string) error {
	if err := t.client.AddRole(ctx, guildID, userID, roleID, reason); err != nil {
		return fmt.Errorf("add role: %w", err)
	}
	if err := t.store.DeleteTempRole(ctx, guildID, userID, roleID); err != nil {
		t.logger.Warn("temp role delete failed", zap.String("guild_id", guildID), zap.String("role_id", roleID), zap.Error(err))
	}
	t.history(ctx, storage.RoleAssignment{
		GuildID: guildID, UserID: userID, RoleID: roleID, ModeratorID: moderatorID,
		ActionType: storage.RoleActionAdd, Reason: reason, CreatedAt: t.now(),
	})
	return nil
}

func (t *Tracker) current(ctx context.Context, guildID, userID, roleID string) (storage.TempRole, bool, error) {
	grants, err := t.store.ListTempRolesForMember(ctx, guildID, userID)
	if err != nil {
		return storage.TempRole{}, false, fmt.Errorf("load temp roles: %w", err)
	}
	for _, grant := range grants {
		if grant.RoleID == roleID {
			return grant, true, nil
		}
	}
	return storage.TempRole{}, false, nil
}

func (t *Tracker) rollback(ctx context.Context, grant, previous storage.TempRole, hadPrevious bool) {
	var err error
	if hadPrevious {
		err = t.store.UpsertTempRole(ctx, previous)
	} else {
		err = t.store.DeleteTempRole(ctx, grant.GuildID, grant.UserID, grant.RoleID)
	}
	if err != nil {
		t.logger.Warn("temp role rollback failed",
			zap.String("guild_id", grant.GuildID), zap.String("user_id", grant.UserID), zap.String("role_id", grant.RoleID), zap.Error(err))
	}
}

// Add records an expiry for a role that is already held.
func (t *Tracker) Add(ctx context.Context, grant storage.TempRole) error {
	if err := t.store.UpsertTempRole(ctx, grant); err != nil {
		return fmt.Errorf("save temp role: %w", err)
	}
	return nil
}

// Release removes the role ahead of its expiry, or a permanent role.
func (t *Tracker) Release(ctx context.Context, guildID, userID, roleID, moderatorID, reason string) error {
	if err := t.client.RemoveRole(ctx, guildID, userID, roleID, reason); err != nil && !errors.Is(err, platform.ErrNotFound) {
		return fmt.Errorf("remove role: %w", err)
	}
	if err := t.store.DeleteTempRole(ctx, guildID, userID, roleID); err != nil {
		return fmt.Errorf("delete temp role: %w", err)
	}
	t.history(ctx, storage.RoleAssignment{
		GuildID: guildID, UserID: userID, RoleID: roleID, ModeratorID: moderatorID,
		ActionType: storage.RoleActionRemove, Reason: reason, CreatedAt: t.now(),
	})
	return nil
}

// Roles lists the member's current roles.
func (t *Tracker) Roles(ctx context.Context, guildID, userID string) ([]string, error) {
	return t.client.MemberRoles(ctx, guildID, userID)
}

// RemoveAll strips every role from the member in one edit and forgets any
// pending expiries. It returns the roles that were removed.
func (t *Tracker) RemoveAll(ctx context.Context, guildID, userID, moderatorID, reason string) ([]string, error) {
	roles, err := t.client.MemberRoles(ctx, guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("member roles: %w", err)
	}
	if len(roles) == 0 {
		return nil, nil
	}
	if err := t.client.EditRoles(ctx, guildID, userID, nil, reason); err != nil {
		return nil, fmt.Errorf("edit roles: %w", err)
	}
	t.Forget(ctx, guildID, userID, nil)
	now := t.now()
	for _, roleID := range roles {
		t.history(ctx, storage.RoleAssignment{
			GuildID: guildID, UserID: userID, RoleID: roleID, ModeratorID: moderatorID,
			ActionType: storage.RoleActionRemove, Reason: reason, CreatedAt: now,
		})
	}
	return roles, nil
}

// Forget drops tracked grants for roles the member no longer holds, so a
// role removed by hand is not removed again on expiry.
func (t *Tracker) Forget(ctx context.Context, guildID, userID string, current []string) int {
	grants, err := t.store.ListTempRolesForMember(ctx, guildID, userID)
	if err != nil {
		t.logger.Warn("temp role lookup failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return 0
	}
	held := make(map[string]bool, len(current))
	for _, roleID := range current {
		held[roleID] = true
	}
	forgotten := 0
	for _, grant := range grants {
		if held[grant.RoleID] {
			continue
		}
		if err := t.store.DeleteTempRole(ctx, guildID, userID, grant.RoleID); err != nil {
			t.logger.Warn("temp role delete failed", zap.String("guild_id", guildID), zap.String("role_id", grant.RoleID), zap.Error(err))
			continue
		}
		forgotten++
	}
	return forgotten
}

func (t *Tracker) ListForMember(ctx context.Context, guildID, userID string) ([]storage.TempRole, error) {
	return t.store.ListTempRolesForMember(ctx, guildID, userID)
}

func (t *Tracker) History(ctx context.Context, guildID, userID string, limit int) ([]storage.RoleAssignment, error) {
	return t.store.ListRoleAssignments(ctx, guildID, userID, limit)
}

// Poll removes every expired grant. It returns how many records were
// settled (removed or dropped as unresolvable).
func (t *Tracker) Poll(ctx context.Context) int {
	expired, err := t.store.ListExpiredTempRoles(ctx, t.now())
	if err != nil {
		t.logger.Warn("list expired temp roles failed", zap.Error(err))
		return 0
	}
	settled := 0
	for _, grant := range expired {
		if t.expire(ctx, grant) {
			settled++
		}
	}
	return settled
}

func (t *Tracker) expire(ctx context.Context, grant storage.TempRole) bool {
	err := t.client.RemoveRole(ctx, grant.GuildID, grant.UserID, grant.RoleID, "Temporary role expired")
	switch {
	case err == nil:
		t.history(ctx, storage.RoleAssignment{
			GuildID: grant.GuildID, UserID: grant.UserID, RoleID: grant.RoleID, ModeratorID: t.client.SelfID(),
			ActionType: storage.RoleActionRemove, Reason: "Temporary role expired", Temporary: true, CreatedAt: t.now(),
		})
	case errors.Is(err, platform.ErrNotFound):
		t.logger.Info("dropping unresolvable temp role",
			zap.String("guild_id", grant.GuildID), zap.String("user_id", grant.UserID), zap.String("role_id", grant.RoleID))
	default:
		t.logger.Warn("temp role removal failed, will retry",
			zap.String("guild_id", grant.GuildID), zap.String("user_id", grant.UserID), zap.String("role_id", grant.RoleID), zap.Error(err))
		t.audit.Log(ctx, audit.LevelWarn, grant.GuildID, grant.UserID, "temp_role_retry", "role="+grant.RoleID)
		return false
	}
	if err := t.store.DeleteTempRole(ctx, grant.GuildID, grant.UserID, grant.RoleID); err != nil {
		t.logger.Warn("delete temp role failed", zap.String("guild_id", grant.GuildID), zap.Error(err))
		return false
	}
	return true
}

func (t *Tracker) history(ctx context.Context, a storage.RoleAssignment) {
	if err := t.store.AddRoleAssignment(ctx, a); err != nil {
		t.logger.Warn("role history write failed", zap.String("guild_id", a.GuildID), zap.Error(err))
	}
}
