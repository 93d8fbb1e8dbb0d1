package antispam

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"synergy-guard/internal/controls"
	"synergy-guard/internal/modules/moduletest"
	"synergy-guard/internal/platform"
)

func newModule() (*Module, *moduletest.Harness) {
	h := moduletest.New()
	return New(h.Config.Mitigation, h.Actuator, h.Settings, h.Audit), h
}

func message(h *moduletest.Harness, id int, content string, offset time.Duration) platform.Message {
	return platform.Message{
		ID:        fmt.Sprint(id),
		GuildID:   "g1",
		ChannelID: "c1",
		AuthorID:  "u1",
		Content:   content,
		CreatedAt: h.At(offset),
	}
}

func TestMessageRateScenario(t *testing.T) {
	module, h := newModule()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if got := module.HandleMessage(ctx, message(h, i, fmt.Sprint("distinct ", i), time.Duration(i)*time.Second)); got != TriggerNone {
			t.Fatalf("message %d triggered %q early", i, got)
		}
	}
	h.Clock.Set(h.At(4 * time.Second))
	if got := module.HandleMessage(ctx, message(h, 4, "distinct 4", 4*time.Second)); got != TriggerRate {
		t.Fatalf("expected message_rate trigger, got %q", got)
	}

	timeouts := h.Fake.Calls("Timeout")
	if len(timeouts) != 1 || !timeouts[0].Until.Equal(h.At(4*time.Second+10*time.Minute)) {
		t.Fatalf("expected one 10 minute timeout, got %+v", timeouts)
	}
	if got := h.Fake.Count("DeleteMessage"); got != 5 {
		t.Fatalf("expected all 5 messages deleted, got %d", got)
	}
	issued := h.Issuer.Issued()
	if len(issued) != 1 || issued[0].Kind != controls.KindUndoTimeout {
		t.Fatalf("expected undo control, got %+v", issued)
	}
}

func TestDuplicateFloodPunishedOnce(t *testing.T) {
	module, h := newModule()
	ctx := context.Background()

	module.HandleMessage(ctx, message(h, 1, "buy now", 0))
	module.HandleMessage(ctx, message(h, 2, "buy now", time.Second))
	if got := module.HandleMessage(ctx, message(h, 3, "buy now", 2*time.Second)); got != TriggerDuplicate {
		t.Fatalf("expected duplicate trigger, got %q", got)
	}
	if got := module.HandleMessage(ctx, message(h, 4, "buy now", 2*time.Second)); got != TriggerNone {
		t.Fatalf("window should be empty after punishment, got %q", got)
	}
	if got := module.HandleMessage(ctx, message(h, 5, "buy now", 3*time.Second)); got != TriggerNone {
		t.Fatalf("two fresh duplicates stay below threshold, got %q", got)
	}
	if h.Fake.Count("Timeout") != 1 {
		t.Fatalf("expected exactly one mitigation")
	}
}

func TestMentionAndLinkChecks(t *testing.T) {
	module, h := newModule()
	ctx := context.Background()

	mentions := message(h, 1, "hey", 0)
	mentions.Mentions = []string{"a", "b", "c", "d", "e"}
	if got := module.HandleMessage(ctx, mentions); got != TriggerMentions {
		t.Fatalf("expected mention trigger, got %q", got)
	}

	links := message(h, 2, strings.Repeat("https://x.io ", 4), time.Minute)
	links.AuthorID = "u2"
	if got := module.HandleMessage(ctx, links); got != TriggerLinks {
		t.Fatalf("expected link trigger, got %q", got)
	}
}

func TestWindowExpires(t *testing.T) {
	module, h := newModule()
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		if got := module.HandleMessage(ctx, message(h, i, fmt.Sprint("m", i), time.Duration(i)*2*time.Second)); got != TriggerNone {
			t.Fatalf("slow messages should not trigger, got %q at %d", got, i)
		}
	}
}

func TestBotsAndDirectMessagesSkipped(t *testing.T) {
	module, h := newModule()
	ctx := context.Background()
	bot := message(h, 1, "x", 0)
	bot.AuthorBot = true
	direct := message(h, 2, "x", 0)
	direct.GuildID = ""
	for i := 0; i < 6; i++ {
		module.HandleMessage(ctx, bot)
		module.HandleMessage(ctx, direct)
	}
	if h.Fake.Count("Timeout") != 0 {
		t.Fatalf("bots and DMs are not spam-checked")
	}
}

func TestDMGuardWarnsPastLimit(t *testing.T) {
	h := moduletest.New()
	guard := NewDMGuard(h.Config.DMGuard, h.Actuator)
	ctx := context.Background()

	warned := 0
	for i := 0; i < 7; i++ {
		msg := platform.Message{ID: fmt.Sprint(i), ChannelID: "dm", AuthorID: "u1", Content: "hi", CreatedAt: h.At(time.Duration(i) * time.Second)}
		if guard.HandleMessage(ctx, msg) {
			warned++
		}
	}
	if warned != 2 {
		t.Fatalf("expected warnings for the 6th and 7th DM, got %d", warned)
	}
	direct := h.Fake.Calls("SendDirect")
	if len(direct) != 2 || direct[0].Notice.Description != dmWarning {
		t.Fatalf("unexpected direct messages %+v", direct)
	}
	if h.Fake.Count("Timeout") != 0 {
		t.Fatalf("the DM guard never punishes")
	}
}
