package antialt

import (
	"context"
	"testing"
	"time"

	"synergy-guard/internal/modules/moduletest"
	"synergy-guard/internal/platform"
)

const day = 24 * time.Hour

func TestAccountAgeDays(t *testing.T) {
	now := time.Unix(10*86400, 0)
	if got := AccountAgeDays(now.Add(-6*day-23*time.Hour), now); got != 6 {
		t.Fatalf("expected 6 whole days, got %d", got)
	}
	if got := AccountAgeDays(now.Add(time.Hour), now); got != 0 {
		t.Fatalf("future creation should clamp to 0, got %d", got)
	}
}

func TestNewAccountIsTimedOut(t *testing.T) {
	h := moduletest.New()
	module := New(h.Config.Mitigation, h.Actuator, h.Settings, h.Whitelist, h.Audit, nil)
	ctx := context.Background()

	fresh := platform.MemberJoin{GuildID: "g1", UserID: "new", AccountCreated: h.Clock.Now().Add(-2 * day)}
	if !module.HandleJoin(ctx, fresh) {
		t.Fatalf("expected a 2 day old account to be held")
	}
	timeouts := h.Fake.Calls("Timeout")
	if len(timeouts) != 1 || !timeouts[0].Until.Equal(h.Clock.Now().Add(10*time.Minute)) {
		t.Fatalf("expected a 10 minute timeout, got %+v", timeouts)
	}
	notices := h.Fake.Calls("SendNotice")
	if len(notices) != 1 || notices[0].Notice.Fields[0].Value != "2 days" {
		t.Fatalf("unexpected notice %+v", notices)
	}

	old := platform.MemberJoin{GuildID: "g1", UserID: "old", AccountCreated: h.Clock.Now().Add(-30 * day)}
	if module.HandleJoin(ctx, old) {
		t.Fatalf("old accounts pass")
	}
}

func TestWhitelistedAndBotsPass(t *testing.T) {
	h := moduletest.New()
	module := New(h.Config.Mitigation, h.Actuator, h.Settings, h.Whitelist, h.Audit, nil)
	ctx := context.Background()
	h.Whitelist.Add("g1", "friend")

	created := h.Clock.Now().Add(-time.Hour)
	if module.HandleJoin(ctx, platform.MemberJoin{GuildID: "g1", UserID: "friend", AccountCreated: created}) {
		t.Fatalf("whitelisted members are exempt")
	}
	if module.HandleJoin(ctx, platform.MemberJoin{GuildID: "g1", UserID: "b", Bot: true, AccountCreated: created}) {
		t.Fatalf("bots are handled by the bot guard")
	}
	if h.Fake.Count("Timeout") != 0 {
		t.Fatalf("no timeout expected")
	}
}
