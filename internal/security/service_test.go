package security

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"synergy-guard/internal/config"
	"synergy-guard/internal/controls"
	"synergy-guard/internal/mitigation"
	"synergy-guard/internal/modules/audit"
	"synergy-guard/internal/platform"
	"synergy-guard/internal/platform/platformtest"
	"synergy-guard/internal/playbook"
	"synergy-guard/internal/settings"
	"synergy-guard/internal/storage"
)

type fixedClock struct{ now *time.Time }

func (c fixedClock) Now() time.Time { return *c.now }

type fixture struct {
	svc      *Service
	store    *storage.Store
	fake     *platformtest.Fake
	registry *controls.Registry
	now      time.Time
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

	f := &fixture{store: store, fake: platformtest.NewFake(), now: time.Unix(2_000_000, 0)}
	clock := func() time.Time { return f.now }
	store.WithClock(clock)

	cfg := config.DefaultConfig()
	cfg.Security.LogChannelID = "log"
	cache := settings.New(store, store, store, cfg, nil)
	auditLogger := audit.NewLogger(store, nil)
	auditLogger.WithClock(clock)
	actuator := mitigation.New(f.fake, auditLogger, cache, cfg.Notifications.EmbedColors, nil)
	actuator.WithClock(clock)
	f.registry = controls.New(store, nil)
	actuator.WithControls(f.registry)
	engine := playbook.New(auditLogger)
	engine.WithClock(fixedClock{now: &f.now})

	f.svc = New(cfg, store, cache, actuator, engine, auditLogger, nil)
	f.svc.RegisterControls(f.registry)
	return f
}

func (f *fixture) lastControl(t *testing.T) string {
	t.Helper()
	notices := f.fake.Calls("SendNotice")
	for i := len(notices) - 1; i >= 0; i-- {
		if len(notices[i].Notice.Controls) > 0 {
			return notices[i].Notice.Controls[0].CustomID
		}
	}
	t.Fatalf("no notice carried a control")
	return ""
}

func TestRaidThenDisableByButton(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.now.Add(-365 * 24 * time.Hour)

	for i := 0; i < 10; i++ {
		f.svc.HandleMemberJoin(ctx, platform.MemberJoin{GuildID: "g1", UserID: fmt.Sprint("u", i), AccountCreated: old, JoinedAt: f.now})
	}
	f.svc.PollRaids(ctx)
	if !f.svc.InRaidMode("g1") {
		t.Fatalf("expected raid mode")
	}

	if !f.svc.HandleMemberJoin(ctx, platform.MemberJoin{GuildID: "g1", UserID: "late", AccountCreated: old, JoinedAt: f.now}) {
		t.Fatalf("a join kicked by raid mode should report removal")
	}
	if f.fake.Count("Kick") != 1 {
		t.Fatalf("expected the late joiner to be kicked")
	}

	customID := f.lastControl(t)
	if _, err := f.registry.Dispatch(ctx, customID, "g1", "admin"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if f.svc.InRaidMode("g1") {
		t.Fatalf("button should disable raid mode")
	}
	f.svc.PollRaids(ctx)
	if f.svc.InRaidMode("g1") {
		t.Fatalf("the same burst must not re-enter raid mode after it was disabled")
	}
	if _, err := f.registry.Dispatch(ctx, customID, "g1", "admin"); !errors.Is(err, controls.ErrAlreadyUsed) {
		t.Fatalf("expected ErrAlreadyUsed, got %v", err)
	}
	if f.svc.DisableRaidMode(ctx, "g1", "admin") {
		t.Fatalf("disabling twice is a no-op")
	}
}

func TestNukeRestoreButtonGivesRolesBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fake.GuildIDs = []string{"g1"}
	f.fake.SetRoles("g1", "rogue", "r1", "r2")
	for i := 0; i < 2; i++ {
		f.fake.AddAudit("g1", platform.AuditEntry{ID: fmt.Sprint(500 + i), Kind: platform.AuditChannelDelete, ActorID: "rogue", CreatedAt: f.now})
	}
	f.svc.PollAuditLog(ctx)
	if roles := f.fake.MemberRoleSet("g1", "rogue"); len(roles) != 0 {
		t.Fatalf("roles should be stripped, have %v", roles)
	}

	if _, err := f.registry.Dispatch(ctx, f.lastControl(t), "g1", "owner"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if roles := f.fake.MemberRoleSet("g1", "rogue"); len(roles) != 2 {
		t.Fatalf("roles should be restored, have %v", roles)
	}
}

func TestWhitelistIsIdempotentAndExempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if added, err := f.svc.AddWhitelist(ctx, "g1", "u1", "owner"); err != nil || !added {
		t.Fatalf("first add: added=%v err=%v", added, err)
	}
	if added, err := f.svc.AddWhitelist(ctx, "g1", "u1", "owner"); err != nil || added {
		t.Fatalf("second add should be a no-op: added=%v err=%v", added, err)
	}
	entries, err := f.svc.ListWhitelist(ctx, "g1")
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one entry, got %d (%v)", len(entries), err)
	}

	f.svc.HandleMemberJoin(ctx, platform.MemberJoin{GuildID: "g1", UserID: "u1", AccountCreated: f.now.Add(-time.Hour), JoinedAt: f.now})
	if f.fake.Count("Timeout") != 0 {
		t.Fatalf("whitelisted new account must not be timed out")
	}

	if removed, _ := f.svc.RemoveWhitelist(ctx, "g1", "u1", "owner"); !removed {
		t.Fatalf("expected removal")
	}
	if removed, _ := f.svc.RemoveWhitelist(ctx, "g1", "u1", "owner"); removed {
		t.Fatalf("second removal should be a no-op")
	}
}

func TestSpamStopsLaterFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.svc.HandleMessage(ctx, platform.Message{ID: fmt.Sprint(i), GuildID: "g1", ChannelID: "c1", AuthorID: "u1", Content: fmt.Sprint("airdrop ", i), CreatedAt: f.now})
	}
	if got := f.fake.Count("Timeout"); got != 5 {
		t.Fatalf("expected 4 link timeouts and 1 spam timeout, got %d", got)
	}
	if got := len(mustLogs(t, f, "spam_detected")); got != 1 {
		t.Fatalf("expected one spam detection, got %d", got)
	}
}

func TestSetFeature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.svc.SetFeature(ctx, "g1", "anti_spam", false); err != nil {
		t.Fatalf("set feature: %v", err)
	}
	if f.svc.Settings(ctx, "g1").AntiSpam {
		t.Fatalf("anti_spam should be off")
	}
	if err := f.svc.SetFeature(ctx, "g1", "anti_everything", true); !errors.Is(err, ErrUnknownFeature) {
		t.Fatalf("expected ErrUnknownFeature, got %v", err)
	}
}

func mustLogs(t *testing.T, f *fixture, event string) []storage.AuditLog {
	t.Helper()
	logs, err := f.svc.RecentLogs(context.Background(), "g1", f.now.Add(-time.Hour), 100)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	var out []storage.AuditLog
	for _, log := range logs {
		if log.Event == event {
			out = append(out, log)
		}
	}
	return out
}
