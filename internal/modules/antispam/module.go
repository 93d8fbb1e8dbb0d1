// Package antispam keeps a short message window per author and punishes
// bursts, duplicate floods, mass mentions and link floods.
package antispam

import (
	"context"
	"fmt"
	"time"

	"synergy-guard/internal/config"
	"synergy-guard/internal/controls"
	"synergy-guard/internal/mitigation"
	"synergy-guard/internal/modules/audit"
	"synergy-guard/internal/platform"
	"synergy-guard/internal/storage"
	"synergy-guard/internal/utils"
)

const messageKind = "message"

// Trigger names the check that fired.
type Trigger string

const (
	TriggerNone      Trigger = ""
	TriggerRate      Trigger = "message_rate"
	TriggerDuplicate Trigger = "duplicates"
	TriggerMentions  Trigger = "mentions"
	TriggerLinks     Trigger = "links"
)

type tracked struct {
	channelID string
	messageID string
	content   string
}

type Module struct {
	messages *utils.RateWindow[tracked]
	actuator *mitigation.Actuator
	settings mitigation.SettingsSource
	audit    *audit.Logger
	timeout  time.Duration
}

func New(cfg config.MitigationConfig, actuator *mitigation.Actuator, settings mitigation.SettingsSource, auditLogger *audit.Logger) *Module {
	return &Module{
		messages: utils.NewRateWindow[tracked](),
		actuator: actuator,
		settings: settings,
		audit:    auditLogger,
		timeout:  config.Minutes(cfg.SpamTimeoutMinutes),
	}
}

// HandleMessage records a guild message and applies the spam checks in
// order. The author's window is emptied when they fire, so the same burst
// is punished once.
func (m *Module) HandleMessage(ctx context.Context, msg platform.Message) Trigger {
	if msg.AuthorBot || msg.IsDirect() {
		return TriggerNone
	}
	settings := m.settings.Security(ctx, msg.GuildID)
	if !settings.AntiSpam {
		return TriggerNone
	}

	at := msg.CreatedAt
	if at.IsZero() {
		at = m.actuator.Now()
	}
	key := utils.Key{GuildID: msg.GuildID, SubjectID: msg.AuthorID, Kind: messageKind}
	window := m.messages.Observe(key, at, tracked{channelID: msg.ChannelID, messageID: msg.ID, content: msg.Content}, config.Seconds(settings.SpamWindowSeconds))

	trigger := evaluate(window, msg, settings)
	if trigger == TriggerNone {
		return TriggerNone
	}
	burst := m.messages.Take(key)
	if len(burst) == 0 {
		return TriggerNone
	}
	m.punish(ctx, msg, trigger, burst)
	return trigger
}

// evaluate runs the checks against the author's current window.
func evaluate(window []utils.Entry[tracked], msg platform.Message, settings storage.SecuritySettings) Trigger {
	if len(window) >= settings.SpamMessageThreshold {
		return TriggerRate
	}
	same := 0
	for _, entry := range window {
		if entry.Value.content == msg.Content {
			same++
		}
	}
	if same >= settings.SpamDuplicateThreshold {
		return TriggerDuplicate
	}
	if len(msg.Mentions) >= settings.SpamMentionThreshold {
		return TriggerMentions
	}
	if utils.CountLinks(msg.Content) >= settings.SpamLinkThreshold {
		return TriggerLinks
	}
	return TriggerNone
}

func (m *Module) punish(ctx context.Context, msg platform.Message, trigger Trigger, burst []utils.Entry[tracked]) {
	timedOut := m.actuator.Timeout(ctx, msg.GuildID, msg.AuthorID, m.timeout, "Spam detected by Anti-Spam")

	refs := make([]mitigation.MessageRef, 0, len(burst))
	for _, entry := range burst {
		refs = append(refs, mitigation.MessageRef{ChannelID: entry.Value.channelID, MessageID: entry.Value.messageID})
	}
	deleted := m.actuator.DeleteMessages(ctx, msg.GuildID, refs)

	m.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.AuthorID, "spam_detected",
		fmt.Sprintf("trigger=%s messages=%d deleted=%d", trigger, len(burst), deleted))
	if !timedOut {
		return
	}
	m.actuator.NotifyWithControl(ctx, msg.GuildID, platform.Notice{
		Title:       "Anti-Spam Alert",
		Description: "Spam behaviour detected and punished",
		Color:       m.actuator.Colors().Alert,
		Fields: []platform.Field{
			{Name: "Member", Value: fmt.Sprintf("<@%s> (`%s`)", msg.AuthorID, msg.AuthorID)},
			{Name: "Alert", Value: string(trigger)},
			{Name: "Action", Value: fmt.Sprintf("Timed out for %s, %d messages deleted", m.timeout, deleted)},
		},
	}, controls.KindUndoTimeout, controls.UndoTimeoutPayload{UserID: msg.AuthorID}, "Undo Punishment", platform.ControlDanger)
}

// Sweep drops windows idle for longer than maxAge.
func (m *Module) Sweep(now time.Time, maxAge time.Duration) int {
	return m.messages.Sweep(now, maxAge)
}
