package welcome

import (
	"context"
	"errors"
	"testing"
	"time"

	"synergy-guard/internal/config"
	"synergy-guard/internal/platform"
	"synergy-guard/internal/platform/platformtest"
	"synergy-guard/internal/settings"
	"synergy-guard/internal/storage"
)

type harness struct {
	svc   *Service
	fake  *platformtest.Fake
	store *storage.Store
	clock time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.DefaultConfig()
	h := &harness{fake: platformtest.NewFake(), store: store, clock: time.Unix(1_000_000, 0)}
	h.fake.Infos["g1"] = platform.GuildInfo{Name: "Synergy", MemberCount: 42}
	h.svc = New(store, settings.New(store, store, store, cfg, nil), h.fake, cfg.Welcome, nil)
	h.svc.WithClock(func() time.Time { return h.clock })
	return h
}

func join(user string, bot bool) platform.MemberJoin {
	return platform.MemberJoin{GuildID: "g1", UserID: user, Username: "name-" + user, Bot: bot}
}

func TestRender(t *testing.T) {
	got := Render("Welcome {mention} ({user}, {id}) to {server}/{guild}, member #{member_count}", Vars{
		UserID: "u1", Username: "alice", Server: "Synergy", MemberCount: 7,
	})
	want := "Welcome <@u1> (alice, u1) to Synergy/Synergy, member #7"
	if got != want {
		t.Fatalf("Render = %q, want %q", got, want)
	}
	if got := Render("{user}", Vars{UserID: "u2"}); got != "<@u2>" {
		t.Fatalf("missing username should fall back to a mention, got %q", got)
	}
}

func TestParseColor(t *testing.T) {
	cases := map[string]int{"#5865F2": 0x5865F2, "ed4245": 0xED4245, "#000000": 0}
	for text, want := range cases {
		got, err := ParseColor(text)
		if err != nil || got != want {
			t.Fatalf("ParseColor(%q) = %d, %v; want %d", text, got, err, want)
		}
	}
	for _, bad := range []string{"", "blue", "#1000000", "-1"} {
		if _, err := ParseColor(bad); err == nil {
			t.Fatalf("ParseColor(%q) should fail", bad)
		}
	}
}

func TestJoinIsQuietWhenNothingConfigured(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	got := h.svc.HandleJoin(ctx, join("u1", false))
	if got != (JoinResult{}) {
		t.Fatalf("unexpected result %+v", got)
	}
	if h.fake.Count("SendNotice") != 0 || h.fake.Count("SendDirect") != 0 || h.fake.Count("AddRole") != 0 {
		t.Fatalf("nothing should be sent without configuration")
	}
	stats, err := h.svc.Stats(ctx, "g1", 7)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Joins != 1 || stats.Welcomes != 0 {
		t.Fatalf("join should still be tracked: %+v", stats)
	}
}

func TestJoinSendsWelcomeDMAndRoles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.svc.ConfigureWelcome(ctx, "g1", WelcomeUpdate{Enabled: true, ChannelID: "welcome", Color: "#112233"}); err != nil {
		t.Fatalf("ConfigureWelcome: %v", err)
	}
	if _, err := h.svc.ConfigureDM(ctx, "g1", true, "Hi {user}, read the rules of {server}."); err != nil {
		t.Fatalf("ConfigureDM: %v", err)
	}
	if err := h.svc.AddAutoRole(ctx, "g1", "member", false, 0); err != nil {
		t.Fatalf("AddAutoRole: %v", err)
	}
	if err := h.svc.AddAutoRole(ctx, "g1", "robot", true, 0); err != nil {
		t.Fatalf("AddAutoRole: %v", err)
	}

	got := h.svc.HandleJoin(ctx, join("u1", false))
	if !got.WelcomeSent || !got.DMSent || got.RolesAssigned != 1 {
		t.Fatalf("unexpected result %+v", got)
	}
	notices := h.fake.Calls("SendNotice")
	if len(notices) != 1 || notices[0].ChannelID != "welcome" {
		t.Fatalf("unexpected notices %+v", notices)
	}
	n := notices[0].Notice
	if n.Title != "Welcome to Synergy!" || n.Description != "Welcome <@u1>! You are member #42." || n.Color != 0x112233 {
		t.Fatalf("unexpected welcome notice %+v", n)
	}
	dms := h.fake.Calls("SendDirect")
	if len(dms) != 1 || dms[0].Notice.Description != "Hi name-u1, read the rules of Synergy." {
		t.Fatalf("unexpected dm %+v", dms)
	}
	if roles := h.fake.MemberRoleSet("g1", "u1"); len(roles) != 1 || roles[0] != "member" {
		t.Fatalf("human should only get the member role, got %v", roles)
	}
}

func TestBotsGetBotRolesAndNoDM(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.svc.ConfigureDM(ctx, "g1", true, "hello"); err != nil {
		t.Fatalf("ConfigureDM: %v", err)
	}
	if err := h.svc.AddAutoRole(ctx, "g1", "member", false, 0); err != nil {
		t.Fatalf("AddAutoRole: %v", err)
	}
	if err := h.svc.AddAutoRole(ctx, "g1", "robot", true, 0); err != nil {
		t.Fatalf("AddAutoRole: %v", err)
	}

	got := h.svc.HandleJoin(ctx, join("b1", true))
	if got.DMSent || h.fake.Count("SendDirect") != 0 {
		t.Fatalf("bots must not be messaged")
	}
	if roles := h.fake.MemberRoleSet("g1", "b1"); len(roles) != 1 || roles[0] != "robot" {
		t.Fatalf("bot should only get the bot role, got %v", roles)
	}
}

func TestDelayedRoleGivenWhenDue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.svc.AddAutoRole(ctx, "g1", "verified", false, 10*time.Minute); err != nil {
		t.Fatalf("AddAutoRole: %v", err)
	}

	got := h.svc.HandleJoin(ctx, join("u1", false))
	if got.RolesAssigned != 0 || got.RolesPending != 1 {
		t.Fatalf("delayed role should wait, got %+v", got)
	}
	h.clock = h.clock.Add(5 * time.Minute)
	if given := h.svc.Poll(ctx); given != 0 {
		t.Fatalf("role given %d early", given)
	}
	h.clock = h.clock.Add(5 * time.Minute)
	if given := h.svc.Poll(ctx); given != 1 {
		t.Fatalf("due role not given, got %d", given)
	}
	if h.svc.Pending() != 0 {
		t.Fatalf("queue should be empty")
	}
	if roles := h.fake.MemberRoleSet("g1", "u1"); len(roles) != 1 || roles[0] != "verified" {
		t.Fatalf("unexpected roles %v", roles)
	}
	stats, err := h.svc.Stats(ctx, "g1", 1)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Roles != 1 {
		t.Fatalf("delayed role should be counted, got %+v", stats)
	}
}

func TestLeaveDropsPendingRolesAndSaysGoodbye(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.svc.AddAutoRole(ctx, "g1", "verified", false, time.Minute); err != nil {
		t.Fatalf("AddAutoRole: %v", err)
	}
	if _, err := h.svc.ConfigureGoodbye(ctx, "g1", true, "lobby", ""); err != nil {
		t.Fatalf("ConfigureGoodbye: %v", err)
	}

	h.svc.HandleJoin(ctx, join("u1", false))
	h.svc.HandleJoin(ctx, join("u2", false))
	if !h.svc.HandleLeave(ctx, platform.MemberLeave{GuildID: "g1", UserID: "u1", Username: "alice"}) {
		t.Fatalf("goodbye not sent")
	}
	if h.svc.Pending() != 1 {
		t.Fatalf("only the leaver's role should be dropped, %d pending", h.svc.Pending())
	}
	notices := h.fake.Calls("SendNotice")
	if len(notices) != 1 || notices[0].ChannelID != "lobby" || notices[0].Notice.Title != GoodbyeTitle ||
		notices[0].Notice.Description != "alice has left the server." || notices[0].Notice.Color != 0xED4245 {
		t.Fatalf("unexpected goodbye %+v", notices)
	}

	h.clock = h.clock.Add(time.Minute)
	h.svc.Poll(ctx)
	if roles := h.fake.MemberRoleSet("g1", "u1"); len(roles) != 0 {
		t.Fatalf("leaver should not get a role, got %v", roles)
	}

	stats, err := h.svc.Stats(ctx, "g1", 7)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Joins != 2 || stats.Leaves != 1 || stats.NetGrowth() != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestDeliveryFailuresAreNotCounted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.svc.ConfigureWelcome(ctx, "g1", WelcomeUpdate{Enabled: true, ChannelID: "welcome"}); err != nil {
		t.Fatalf("ConfigureWelcome: %v", err)
	}
	if err := h.svc.AddAutoRole(ctx, "g1", "member", false, 0); err != nil {
		t.Fatalf("AddAutoRole: %v", err)
	}
	h.fake.SetError("SendNotice", platform.ErrForbidden)
	h.fake.SetError("AddRole", platform.ErrForbidden)

	got := h.svc.HandleJoin(ctx, join("u1", false))
	if got.WelcomeSent || got.RolesAssigned != 0 {
		t.Fatalf("failures must not count as delivered: %+v", got)
	}
	stats, err := h.svc.Stats(ctx, "g1", 7)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Joins != 1 || stats.Welcomes != 0 || stats.Roles != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestConfigurationRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.svc.ConfigureWelcome(ctx, "g1", WelcomeUpdate{Enabled: true}); err == nil {
		t.Fatalf("enabling without a channel should fail")
	}
	if _, err := h.svc.ConfigureGoodbye(ctx, "g1", true, "", ""); err == nil {
		t.Fatalf("enabling goodbye without a channel should fail")
	}
	if _, err := h.svc.ConfigureWelcome(ctx, "g1", WelcomeUpdate{ChannelID: "c1", Color: "purple"}); err == nil {
		t.Fatalf("bad color should fail")
	}
	if err := h.svc.AddAutoRole(ctx, "g1", "r1", false, 2*time.Hour); err == nil {
		t.Fatalf("delay over the limit should fail")
	}
	if err := h.svc.AddAutoRole(ctx, "g1", "r1", false, -time.Second); err == nil {
		t.Fatalf("negative delay should fail")
	}
	if _, err := h.svc.Stats(ctx, "g1", 0); err == nil {
		t.Fatalf("zero days should fail")
	}
	if _, err := h.svc.Stats(ctx, "g1", MaxStatsDays+1); err == nil {
		t.Fatalf("too many days should fail")
	}

	if err := h.svc.AddAutoRole(ctx, "g1", "r1", false, time.Minute); err != nil {
		t.Fatalf("AddAutoRole: %v", err)
	}
	removed, err := h.svc.RemoveAutoRole(ctx, "g1", "r1", true)
	if err != nil || removed {
		t.Fatalf("bot role r1 was never set: removed=%t err=%v", removed, err)
	}
	removed, err = h.svc.RemoveAutoRole(ctx, "g1", "r1", false)
	if err != nil || !removed {
		t.Fatalf("RemoveAutoRole: removed=%t err=%v", removed, err)
	}
	roles, err := h.svc.AutoRoles(ctx, "g1")
	if err != nil || len(roles) != 0 {
		t.Fatalf("auto roles should be empty: %v %v", roles, err)
	}
}

func TestGuildInfoFailureFallsBackToID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.svc.ConfigureWelcome(ctx, "g1", WelcomeUpdate{Enabled: true, ChannelID: "welcome", Title: "{server}"}); err != nil {
		t.Fatalf("ConfigureWelcome: %v", err)
	}
	h.fake.SetError("GuildInfo", errors.New("gateway down"))

	if got := h.svc.HandleJoin(ctx, join("u1", false)); !got.WelcomeSent {
		t.Fatalf("welcome should still be sent")
	}
	if title := h.fake.Calls("SendNotice")[0].Notice.Title; title != "g1" {
		t.Fatalf("title = %q, want guild id", title)
	}
}
