package tempgrant

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"synergy-guard/internal/modules/audit"
	"synergy-guard/internal/platform"
	"synergy-guard/internal/platform/platformtest"
	"synergy-guard/internal/storage"
)

type fixture struct {
	tracker *Tracker
	store   *storage.Store
	fake    *platformtest.Fake
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	f := &fixture{store: store, fake: platformtest.NewFake(), now: time.Unix(1_000_000, 0)}
	f.tracker = New(store, f.fake, audit.NewLogger(store, nil), nil)
	f.tracker.WithClock(func() time.Time { return f.now })
	store.WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) hasRole(userID, roleID string) bool {
	for _, role := range f.fake.MemberRoleSet("g1", userID) {
		if role == roleID {
			return true
		}
	}
	return false
}

func TestGrantExpiresOnPoll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.tracker.Grant(ctx, "g1", "u1", "vip", "mod", time.Hour, "event"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	f.now = f.now.Add(59 * time.Minute)
	if got := f.tracker.Poll(ctx); got != 0 {
		t.Fatalf("nothing should expire early, settled %d", got)
	}
	if !f.hasRole("u1", "vip") {
		t.Fatalf("role should still be held before expiry")
	}
	if grants, _ := f.tracker.ListForMember(ctx, "g1", "u1"); len(grants) != 1 {
		t.Fatalf("record should survive an early poll, got %d", len(grants))
	}

	f.now = f.now.Add(time.Minute)
	if got := f.tracker.Poll(ctx); got != 1 {
		t.Fatalf("expected one settled grant, got %d", got)
	}
	if f.hasRole("u1", "vip") {
		t.Fatalf("role should be gone after expiry")
	}
	if grants, _ := f.tracker.ListForMember(ctx, "g1", "u1"); len(grants) != 0 {
		t.Fatalf("record should be deleted, got %d", len(grants))
	}
	history, _ := f.tracker.History(ctx, "g1", "u1", 10)
	if len(history) != 2 {
		t.Fatalf("expected add and remove history, got %+v", history)
	}
}

func TestRegrantReplacesExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tracker.Grant(ctx, "g1", "u1", "vip", "mod", time.Hour, "first")
	f.tracker.Grant(ctx, "g1", "u1", "vip", "mod", 3*time.Hour, "second")

	grants, err := f.tracker.ListForMember(ctx, "g1", "u1")
	if err != nil || len(grants) != 1 {
		t.Fatalf("expected one grant, got %d (%v)", len(grants), err)
	}
	if !grants[0].ExpiresAt.Equal(f.now.Add(3 * time.Hour)) {
		t.Fatalf("expected replaced expiry, got %s", grants[0].ExpiresAt)
	}
}

func TestForbiddenRemovalIsRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tracker.Grant(ctx, "g1", "u1", "vip", "mod", time.Minute, "")
	f.now = f.now.Add(time.Hour)

	f.fake.SetError("RemoveRole", fmt.Errorf("%w: hierarchy", platform.ErrForbidden))
	if got := f.tracker.Poll(ctx); got != 0 {
		t.Fatalf("forbidden removal must stay pending, settled %d", got)
	}
	if grants, _ := f.tracker.ListForMember(ctx, "g1", "u1"); len(grants) != 1 {
		t.Fatalf("record should be kept for retry")
	}

	f.fake.SetError("RemoveRole", nil)
	if got := f.tracker.Poll(ctx); got != 1 {
		t.Fatalf("retry should settle the grant, got %d", got)
	}
}

func TestUnresolvableGrantIsDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tracker.Add(ctx, storage.TempRole{GuildID: "g1", UserID: "gone", RoleID: "vip", ExpiresAt: f.now.Add(-time.Second)})
	f.fake.SetError("RemoveRole", platform.ErrNotFound)

	if got := f.tracker.Poll(ctx); got != 1 {
		t.Fatalf("unresolvable grant should be dropped, got %d", got)
	}
	if grants, _ := f.tracker.ListForMember(ctx, "g1", "gone"); len(grants) != 0 {
		t.Fatalf("record should be gone")
	}
}

func TestReleaseBeforeExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tracker.Grant(ctx, "g1", "u1", "vip", "mod", time.Hour, "")
	if err := f.tracker.Release(ctx, "g1", "u1", "vip", "mod", "done"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if f.hasRole("u1", "vip") {
		t.Fatalf("role should be removed")
	}
	f.now = f.now.Add(2 * time.Hour)
	if got := f.tracker.Poll(ctx); got != 0 {
		t.Fatalf("released grant must not expire again, got %d", got)
	}
}

func TestForgetManuallyRemovedRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, role := range []string{"vip", "helper"} {
		if _, err := f.tracker.Grant(ctx, "g1", "u1", role, "mod", time.Hour, "event"); err != nil {
			t.Fatalf("grant %s: %v", role, err)
		}
	}
	if got := f.tracker.Forget(ctx, "g1", "u1", []string{"helper", "member"}); got != 1 {
		t.Fatalf("expected one forgotten grant, got %d", got)
	}
	grants, err := f.tracker.ListForMember(ctx, "g1", "u1")
	if err != nil || len(grants) != 1 || grants[0].RoleID != "helper" {
		t.Fatalf("unexpected remaining grants %+v %v", grants, err)
	}
}

type failingSaves struct {
	*storage.Store
	err error
}

func (s failingSaves) UpsertTempRole(context.Context, storage.TempRole) error {
	return s.err
}

func TestGrantNotGivenWhenExpiryCannotBeSaved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tracker := New(failingSaves{Store: f.store, err: errors.New("disk full")}, f.fake, audit.NewLogger(f.store, nil), nil)
	tracker.WithClock(func() time.Time { return f.now })

	if _, err := tracker.Grant(ctx, "g1", "u1", "vip", "mod", time.Hour, "event"); err == nil {
		t.Fatalf("expected the save error")
	}
	if f.fake.Count("AddRole") != 0 || f.hasRole("u1", "vip") {
		t.Fatalf("role must not be given without an expiry record")
	}
}

func TestFailedRegrantKeepsPreviousExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.tracker.Grant(ctx, "g1", "u1", "vip", "mod", time.Hour, "first"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	f.fake.SetError("AddRole", fmt.Errorf("%w: hierarchy", platform.ErrForbidden))
	if _, err := f.tracker.Grant(ctx, "g1", "u1", "vip", "mod", 3*time.Hour, "second"); !errors.Is(err, platform.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	grants, err := f.tracker.ListForMember(ctx, "g1", "u1")
	if err != nil || len(grants) != 1 || !grants[0].ExpiresAt.Equal(f.now.Add(time.Hour)) {
		t.Fatalf("previous expiry should be restored, got %+v %v", grants, err)
	}

	if _, err := f.tracker.Grant(ctx, "g1", "u1", "helper", "mod", time.Hour, ""); err == nil {
		t.Fatalf("expected forbidden for a fresh grant")
	}
	grants, _ = f.tracker.ListForMember(ctx, "g1", "u1")
	if len(grants) != 1 {
		t.Fatalf("a grant that was never given should leave no record, got %+v", grants)
	}
}

func TestAssignIsPermanentAndRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tracker.Grant(ctx, "g1", "u1", "vip", "mod", time.Hour, "trial")
	f.now = f.now.Add(time.Minute)
	if err := f.tracker.Assign(ctx, "g1", "u1", "vip", "admin", "earned"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	f.now = f.now.Add(2 * time.Hour)
	if got := f.tracker.Poll(ctx); got != 0 {
		t.Fatalf("a permanent role must not expire, settled %d", got)
	}
	if !f.hasRole("u1", "vip") {
		t.Fatalf("role should still be held")
	}
	history, err := f.tracker.History(ctx, "g1", "u1", 10)
	if err != nil || len(history) != 2 {
		t.Fatalf("expected two history rows, got %+v %v", history, err)
	}
	if history[0].Temporary || history[0].ModeratorID != "admin" || history[0].ActionType != storage.RoleActionAdd {
		t.Fatalf("newest row should be the permanent add, got %+v", history[0])
	}
}

func TestRemoveAllClearsRolesAndExpiries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fake.SetRoles("g1", "u1", "member", "artist")
	f.tracker.Grant(ctx, "g1", "u1", "vip", "mod", time.Hour, "")

	removed, err := f.tracker.RemoveAll(ctx, "g1", "u1", "admin", "reset")
	if err != nil || len(removed) != 3 {
		t.Fatalf("expected three removed roles, got %v %v", removed, err)
	}
	if roles := f.fake.MemberRoleSet("g1", "u1"); len(roles) != 0 {
		t.Fatalf("member should hold no roles, has %v", roles)
	}
	if grants, _ := f.tracker.ListForMember(ctx, "g1", "u1"); len(grants) != 0 {
		t.Fatalf("pending expiries should be dropped, got %+v", grants)
	}
	if history, _ := f.tracker.History(ctx, "g1", "u1", 10); len(history) != 4 {
		t.Fatalf("expected one add and three removals, got %d", len(history))
	}
}
