package selfbot

import (
	"context"
	"testing"

	"synergy-guard/internal/modules/moduletest"
	"synergy-guard/internal/platform"
	"synergy-guard/internal/storage"
)

func TestSuspicious(t *testing.T) {
	cases := []struct {
		content string
		embeds  int
		want    bool
	}{
		{"JOIN NOW DISCORD.GG/XYZ", 0, true},
		{"join now discord.gg/xyz", 0, false},
		{"HELLO EVERYONE", 0, false},
		{"just text", 1, true},
		{"", 1, false},
	}
	for _, tc := range cases {
		if got := Suspicious(tc.content, tc.embeds); got != tc.want {
			t.Fatalf("Suspicious(%q, %d) = %v, want %v", tc.content, tc.embeds, got, tc.want)
		}
	}
}

func TestSelfbotMessageIsDeletedAndTimedOut(t *testing.T) {
	h := moduletest.New()
	module := New(h.Config.Mitigation, h.Actuator, h.Settings, h.Audit)
	msg := platform.Message{ID: "m1", GuildID: "g1", ChannelID: "c1", AuthorID: "u1", Content: "FREE STUFF HTTP://X.COM"}

	if !module.HandleMessage(context.Background(), msg) {
		t.Fatalf("expected detection")
	}
	if h.Fake.Count("DeleteMessage") != 1 || h.Fake.Count("Timeout") != 1 {
		t.Fatalf("expected delete and timeout, got %+v", h.Fake.Calls(""))
	}
	if len(h.Rows.Events("selfbot_detected")) != 1 {
		t.Fatalf("expected audit row")
	}

	h.Settings.Update("g1", func(s *storage.SecuritySettings) { s.AntiSelfbot = false })
	if module.HandleMessage(context.Background(), msg) {
		t.Fatalf("disabled filter should not act")
	}
}
