package storage

import (
	"context"
	"database/sql"
	"errors"
)

type SecuritySettings struct {
	GuildID                string
	LogChannelID           string
	AntiRaid               bool
	AntiNuke               bool
	AntiSpam               bool
	AntiAlt                bool
	AntiLinks              bool
	AntiSelfbot            bool
	MinAccountAgeDays      int
	RaidJoinThreshold      int
	RaidWindowSeconds      int
	SpamMessageThreshold   int
	SpamWindowSeconds      int
	SpamDuplicateThreshold int
	SpamMentionThreshold   int
	SpamLinkThreshold      int
}

const settingsColumns = `guild_id, log_channel_id, anti_raid, anti_nuke, anti_spam, anti_alt, anti_links, anti_selfbot,
	min_account_age_days, raid_join_threshold, raid_window_seconds, spam_message_threshold,
	spam_window_seconds, spam_duplicate_threshold, spam_mention_threshold, spam_link_threshold`

// GetSecuritySettings returns ErrNotFound when the guild has no row yet.
func (s *Store) GetSecuritySettings(ctx context.Context, guildID string) (SecuritySettings, error) {
	row := s.queryRow(ctx, `SELECT `+settingsColumns+` FROM security_settings WHERE guild_id = ?`, guildID)

	var out SecuritySettings
	var raid, nuke, spam, alt, links, selfbot int
	err := row.Scan(
		&out.GuildID,
		&out.LogChannelID,
		&raid, &nuke, &spam, &alt, &links, &selfbot,
		&out.MinAccountAgeDays,
		&out.RaidJoinThreshold,
		&out.RaidWindowSeconds,
		&out.SpamMessageThreshold,
		&out.SpamWindowSeconds,
		&out.SpamDuplicateThreshold,
		&out.SpamMentionThreshold,
		&out.SpamLinkThreshold,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SecuritySettings{}, ErrNotFound
		}
		return SecuritySettings{}, err
	}
	out.AntiRaid = raid == 1
	out.AntiNuke = nuke == 1
	out.AntiSpam = spam == 1
	out.AntiAlt = alt == 1
	out.AntiLinks = links == 1
	out.AntiSelfbot = selfbot == 1
	return out, nil
}

// InsertSecuritySettings writes the row only if the guild has none, so a
// concurrent first read cannot clobber an operator's update.
func (s *Store) InsertSecuritySettings(ctx context.Context, settings SecuritySettings) error {
	_, err := s.exec(ctx, `INSERT INTO security_settings (`+settingsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (guild_id) DO NOTHING`, settingsArgs(settings)...)
	return err
}

func (s *Store) UpsertSecuritySettings(ctx context.Context, settings SecuritySettings) error {
	_, err := s.exec(ctx, `INSERT INTO security_settings (`+settingsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (guild_id) DO UPDATE SET
			log_channel_id = excluded.log_channel_id,
			anti_raid = excluded.anti_raid,
			anti_nuke = excluded.anti_nuke,
			anti_spam = excluded.anti_spam,
			anti_alt = excluded.anti_alt,
			anti_links = excluded.anti_links,
			anti_selfbot = excluded.anti_selfbot,
			min_account_age_days = excluded.min_account_age_days,
			raid_join_threshold = excluded.raid_join_threshold,
			raid_window_seconds = excluded.raid_window_seconds,
			spam_message_threshold = excluded.spam_message_threshold,
			spam_window_seconds = excluded.spam_window_seconds,
			spam_duplicate_threshold = excluded.spam_duplicate_threshold,
			spam_mention_threshold = excluded.spam_mention_threshold,
			spam_link_threshold = excluded.spam_link_threshold
	`, settingsArgs(settings)...)
	return err
}

func settingsArgs(settings SecuritySettings) []any {
	return []any{
		settings.GuildID,
		settings.LogChannelID,
		boolToInt(settings.AntiRaid),
		boolToInt(settings.AntiNuke),
		boolToInt(settings.AntiSpam),
		boolToInt(settings.AntiAlt),
		boolToInt(settings.AntiLinks),
		boolToInt(settings.AntiSelfbot),
		settings.MinAccountAgeDays,
		settings.RaidJoinThreshold,
		settings.RaidWindowSeconds,
		settings.SpamMessageThreshold,
		settings.SpamWindowSeconds,
		settings.SpamDuplicateThreshold,
		settings.SpamMentionThreshold,
		settings.SpamLinkThreshold,
	}
}
