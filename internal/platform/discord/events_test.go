package discord

import (
	"testing"
	"time"

	"synergy-guard/internal/platform"

	"github.com/bwmarrin/discordgo"
)

func TestMessageConversion(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	msg := Message(&discordgo.Message{
		ID:           "m1",
		GuildID:      "g1",
		ChannelID:    "c1",
		Content:      "hello",
		Timestamp:    at,
		Author:       &discordgo.User{ID: "u1", Bot: true},
		Mentions:     []*discordgo.User{{ID: "u2"}, {ID: "u3"}},
		MentionRoles: []string{"r1"},
		Embeds:       []*discordgo.MessageEmbed{{Title: "x"}},
	})
	if msg.AuthorID != "u1" || !msg.AuthorBot || msg.Embeds != 1 || len(msg.Mentions) != 3 || !msg.CreatedAt.Equal(at) {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.IsDirect() {
		t.Fatalf("guild message reported as direct")
	}
}

func TestMemberJoinAccountAge(t *testing.T) {
	// 175928847299117063 is the example snowflake from the Discord docs,
	// created 2016-04-30 11:18:25.796 UTC.
	now := time.Unix(1_700_000_000, 0)
	join := MemberJoin(&discordgo.Member{GuildID: "g1", User: &discordgo.User{ID: "175928847299117063"}}, now)
	want := time.Date(2016, 4, 30, 11, 18, 25, 796_000_000, time.UTC)
	if !join.AccountCreated.Equal(want) {
		t.Fatalf("account created %s, want %s", join.AccountCreated, want)
	}
	if !join.JoinedAt.Equal(now) {
		t.Fatalf("missing join time should default to now, got %s", join.JoinedAt)
	}
}

func TestMemberLeaveConversion(t *testing.T) {
	leave := MemberLeave(&discordgo.Member{GuildID: "g1", User: &discordgo.User{ID: "u1", Username: "alice", Bot: true}})
	if leave.GuildID != "g1" || leave.UserID != "u1" || leave.Username != "alice" || !leave.Bot {
		t.Fatalf("unexpected leave %+v", leave)
	}
	if got := MemberLeave(&discordgo.Member{GuildID: "g1"}); got.UserID != "" {
		t.Fatalf("member without user should stay empty, got %+v", got)
	}
}

func TestNoticeMessageCarriesControls(t *testing.T) {
	msg := noticeMessage(platform.Notice{
		Title:    "Anti-Nuke Alert",
		Fields:   []platform.Field{{Name: "Member", Value: "<@u1>", Inline: true}},
		Footer:   "Guild ID: g1",
		Controls: []platform.Control{{CustomID: "ctl:1", Label: "Give Roles Back", Style: platform.ControlSuccess}},
	})
	if len(msg.Embeds) != 1 || msg.Embeds[0].Footer == nil || len(msg.Embeds[0].Fields) != 1 {
		t.Fatalf("unexpected embed %+v", msg.Embeds)
	}
	row, ok := msg.Components[0].(discordgo.ActionsRow)
	if !ok || len(row.Components) != 1 {
		t.Fatalf("unexpected components %+v", msg.Components)
	}
	button := row.Components[0].(discordgo.Button)
	if button.CustomID != "ctl:1" || button.Style != discordgo.SuccessButton {
		t.Fatalf("unexpected button %+v", button)
	}
}
