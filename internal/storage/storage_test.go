package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestSecuritySettingsInsertKeepsExistingRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetSecuritySettings(ctx, "g1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	settings := SecuritySettings{GuildID: "g1", LogChannelID: "c1", AntiRaid: true, RaidJoinThreshold: 10, RaidWindowSeconds: 15}
	if err := store.UpsertSecuritySettings(ctx, settings); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.InsertSecuritySettings(ctx, SecuritySettings{GuildID: "g1", LogChannelID: "other"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.GetSecuritySettings(ctx, "g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LogChannelID != "c1" || !got.AntiRaid || got.AntiNuke {
		t.Fatalf("unexpected settings: %+v", got)
	}
	if got.RaidJoinThreshold != 10 || got.RaidWindowSeconds != 15 {
		t.Fatalf("unexpected raid thresholds: %+v", got)
	}
}

func TestWhitelistIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.AddWhitelist(ctx, "g1", "u1", "admin")
	if err != nil || !added {
		t.Fatalf("first add: %v %v", added, err)
	}
	added, err = store.AddWhitelist(ctx, "g1", "u1", "admin")
	if err != nil || added {
		t.Fatalf("second add should be a no-op: %v %v", added, err)
	}

	ok, err := store.IsWhitelisted(ctx, "g1", "u1")
	if err != nil || !ok {
		t.Fatalf("expected whitelisted: %v %v", ok, err)
	}
	if ok, _ := store.IsWhitelisted(ctx, "g2", "u1"); ok {
		t.Fatalf("whitelist must be scoped to the guild")
	}

	entries, err := store.ListWhitelist(ctx, "g1")
	if err != nil || len(entries) != 1 || entries[0].AddedBy != "admin" {
		t.Fatalf("unexpected entries: %+v %v", entries, err)
	}

	removed, err := store.RemoveWhitelist(ctx, "g1", "u1")
	if err != nil || !removed {
		t.Fatalf("remove: %v %v", removed, err)
	}
	removed, err = store.RemoveWhitelist(ctx, "g1", "u1")
	if err != nil || removed {
		t.Fatalf("second remove should be a no-op: %v %v", removed, err)
	}
}

func TestPunishmentIDsAndLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, err := store.AddPunishment(ctx, Punishment{GuildID: "g1", UserID: "u1", ModeratorID: "m1", ActionType: "TIMEOUT", Reason: "spam", Duration: 10 * time.Minute})
	if err != nil {
		t.Fatalf("add punishment: %v", err)
	}
	if len(p.ID) != 8 {
		t.Fatalf("expected 8 char id, got %q", p.ID)
	}
	for _, r := range p.ID {
		if !(r >= '0' && r <= '9' || r >= 'A' && r <= 'F') {
			t.Fatalf("id must be uppercase alphanumeric: %q", p.ID)
		}
	}

	got, err := store.GetPunishment(ctx, p.ID)
	if err != nil {
		t.Fatalf("get punishment: %v", err)
	}
	if got.Duration != 10*time.Minute || got.ActionType != "TIMEOUT" {
		t.Fatalf("unexpected punishment: %+v", got)
	}
	if _, err := store.GetPunishment(ctx, "NOPE0000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := store.AddPunishment(ctx, Punishment{ID: p.ID, GuildID: "g1", UserID: "u2", ModeratorID: "m1", ActionType: "BAN"}); err == nil {
		t.Fatalf("explicit duplicate id must fail")
	}

	counts, err := store.CountPunishmentsByType(ctx, "g1", time.Unix(0, 0))
	if err != nil || counts["TIMEOUT"] != 1 {
		t.Fatalf("unexpected counts: %+v %v", counts, err)
	}
}

func TestTempRoleUpsertReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_000_000, 0)

	if err := store.UpsertTempRole(ctx, TempRole{GuildID: "g1", UserID: "u1", RoleID: "r1", GrantedBy: "m1", ExpiresAt: base.Add(time.Hour)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.UpsertTempRole(ctx, TempRole{GuildID: "g1", UserID: "u1", RoleID: "r1", GrantedBy: "m2", ExpiresAt: base.Add(2 * time.Hour)}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	grants, err := store.ListTempRolesForMember(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(grants) != 1 || grants[0].GrantedBy != "m2" || !grants[0].ExpiresAt.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("expected a single replaced grant, got %+v", grants)
	}

	expired, err := store.ListExpiredTempRoles(ctx, base.Add(time.Hour))
	if err != nil || len(expired) != 0 {
		t.Fatalf("nothing should be expired yet: %+v %v", expired, err)
	}
	expired, err = store.ListExpiredTempRoles(ctx, base.Add(2*time.Hour))
	if err != nil || len(expired) != 1 {
		t.Fatalf("expected 1 expired grant: %+v %v", expired, err)
	}

	if err := store.DeleteTempRole(ctx, "g1", "u1", "r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	grants, _ = store.ListTempRolesForMember(ctx, "g1", "u1")
	if len(grants) != 0 {
		t.Fatalf("expected no grants, got %+v", grants)
	}
}

func TestControlsDeleteOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveControl(ctx, ControlRecord{ID: "abc", GuildID: "g1", Kind: "disable_raid", Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	record, err := store.GetControl(ctx, "abc")
	if err != nil || record.Kind != "disable_raid" || string(record.Payload) != "{}" {
		t.Fatalf("unexpected record: %+v %v", record, err)
	}
	first, err := store.DeleteControl(ctx, "abc")
	if err != nil || !first {
		t.Fatalf("first delete: %v %v", first, err)
	}
	second, err := store.DeleteControl(ctx, "abc")
	if err != nil || second {
		t.Fatalf("second delete should report false: %v %v", second, err)
	}
}

func TestApplyXPCarriesLevels(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	needed := func(level int) int { return 5*level*level + 50*level + 100 }

	level, gained, err := store.ApplyXP(ctx, "g1", "u1", 90, needed)
	if err != nil || gained != 0 || level.XP != 90 {
		t.Fatalf("unexpected first apply: %+v %d %v", level, gained, err)
	}
	// 90 + 170 = 260: level 0 needs 100, level 1 needs 155, leaving 5.
	level, gained, err = store.ApplyXP(ctx, "g1", "u1", 170, needed)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if gained != 2 || level.Level != 2 || level.XP != 5 || level.TotalXP != 260 {
		t.Fatalf("unexpected carry: %+v gained=%d", level, gained)
	}

	if _, _, err := store.ApplyXP(ctx, "g1", "u2", 120, needed); err != nil {
		t.Fatalf("apply u2: %v", err)
	}
	board, err := store.Leaderboard(ctx, "g1", 10)
	if err != nil || len(board) != 2 || board[0].UserID != "u1" {
		t.Fatalf("unexpected leaderboard: %+v %v", board, err)
	}
	rank, err := store.Rank(ctx, "g1", board[1])
	if err != nil || rank != 2 {
		t.Fatalf("unexpected rank: %d %v", rank, err)
	}
}

func TestAuditLogsCountAndCleanup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(10_000_000, 0)
	store.WithClock(func() time.Time { return now })

	_ = store.AddAuditLog(ctx, AuditLog{GuildID: "g1", Level: "high", Event: "raid_mode", CreatedAt: now})
	_ = store.AddAuditLog(ctx, AuditLog{GuildID: "g1", Level: "high", Event: "nuke", CreatedAt: now})
	_ = store.AddAuditLog(ctx, AuditLog{GuildID: "g1", Level: "low", Event: "nuke", CreatedAt: now.AddDate(0, 0, -40)})

	byLevel, byEvent, err := store.CountAuditLogs(ctx, "g1", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if byLevel["high"] != 2 || byEvent["nuke"] != 1 {
		t.Fatalf("unexpected counts: %v %v", byLevel, byEvent)
	}

	removed, err := store.CleanupAuditLogs(ctx, 30)
	if err != nil || removed != 1 {
		t.Fatalf("cleanup: %d %v", removed, err)
	}
}

func TestRebindPostgres(t *testing.T) {
	store := &Store{dialect: DialectPostgres}
	got := store.rebind("SELECT * FROM t WHERE a = ? AND b = ?")
	if got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Fatalf("unexpected rebind: %s", got)
	}
}

func TestAutoRolesAndWelcomeStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(3_000_000, 0)
	store.WithClock(func() time.Time { return now })

	store.SaveAutoRole(ctx, AutoRole{GuildID: "g1", RoleID: "member", Delay: time.Minute})
	store.SaveAutoRole(ctx, AutoRole{GuildID: "g1", RoleID: "member"})
	store.SaveAutoRole(ctx, AutoRole{GuildID: "g1", RoleID: "member", ForBots: true})
	roles, err := store.ListAutoRoles(ctx, "g1")
	if err != nil || len(roles) != 2 {
		t.Fatalf("expected two auto roles, got %+v %v", roles, err)
	}
	if roles[0].Delay != 0 {
		t.Fatalf("saving again should replace the delay, got %s", roles[0].Delay)
	}
	if removed, err := store.DeleteAutoRole(ctx, "g1", "member", true); err != nil || !removed {
		t.Fatalf("delete bot role: %v %v", removed, err)
	}
	if removed, _ := store.DeleteAutoRole(ctx, "g1", "member", true); removed {
		t.Fatalf("second delete should report nothing removed")
	}

	store.TrackMember(ctx, "g1", "u1", MemberJoined, now)
	store.TrackMember(ctx, "g1", "u2", MemberJoined, now)
	store.TrackMember(ctx, "g1", "u1", MemberLeft, now)
	store.TrackMember(ctx, "g1", "old", MemberJoined, now.Add(-48*time.Hour))
	joins, err := store.CountMemberEvents(ctx, "g1", MemberJoined, now.Add(-time.Hour))
	if err != nil || joins != 2 {
		t.Fatalf("expected two recent joins, got %d %v", joins, err)
	}

	store.AddWelcomeStat(ctx, WelcomeStat{GuildID: "g1", UserID: "u1", WelcomeSent: true, DMSent: true, RolesAssigned: 1})
	store.AddWelcomeStat(ctx, WelcomeStat{GuildID: "g1", UserID: "u2", WelcomeSent: true})
	if err := store.CountWelcomeRole(ctx, "g1", "u2"); err != nil {
		t.Fatalf("count welcome role: %v", err)
	}
	totals, err := store.SumWelcomeStats(ctx, "g1", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if totals != (WelcomeTotals{Welcomes: 2, DMs: 1, Roles: 2}) {
		t.Fatalf("unexpected totals %+v", totals)
	}
}
