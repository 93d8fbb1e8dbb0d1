package discord

import (
	"time"

	"synergy-guard/internal/platform"

	"github.com/bwmarrin/discordgo"
)

// Message converts a gateway message. Role mentions count alongside user
// mentions.
func Message(m *discordgo.Message) platform.Message {
	out := platform.Message{
		ID:        m.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		Embeds:    len(m.Embeds),
		CreatedAt: m.Timestamp,
	}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
		out.AuthorBot = m.Author.Bot
	}
	for _, user := range m.Mentions {
		out.Mentions = append(out.Mentions, user.ID)
	}
	out.Mentions = append(out.Mentions, m.MentionRoles...)
	return out
}

// MemberJoin converts a join; account age comes from the user snowflake.
func MemberJoin(m *discordgo.Member, now time.Time) platform.MemberJoin {
	out := platform.MemberJoin{GuildID: m.GuildID, JoinedAt: m.JoinedAt}
	if out.JoinedAt.IsZero() {
		out.JoinedAt = now
	}
	if m.User != nil {
		out.UserID = m.User.ID
		out.Username = m.User.Username
		out.Bot = m.User.Bot
		if created, err := discordgo.SnowflakeTimestamp(m.User.ID); err == nil {
			out.AccountCreated = created
		}
	}
	return out
}

func MemberLeave(m *discordgo.Member) platform.MemberLeave {
	out := platform.MemberLeave{GuildID: m.GuildID}
	if m.User != nil {
		out.UserID = m.User.ID
		out.Username = m.User.Username
		out.Bot = m.User.Bot
	}
	return out
}
