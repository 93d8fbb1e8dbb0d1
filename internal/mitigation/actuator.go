// Package mitigation is the single place detectors reach the platform's
// mutating calls. Every call is best-effort: failures are classified,
// logged and written to the audit trail, never returned to a detector loop.
package mitigation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"synergy-guard/internal/config"
	"synergy-guard/internal/controls"
	"synergy-guard/internal/modules/audit"
	"synergy-guard/internal/platform"
	"synergy-guard/internal/storage"

	"go.uber.org/zap"
)

type SettingsSource interface {
	Security(ctx context.Context, guildID string) storage.SecuritySettings
}

// ControlIssuer persists an undo control and returns its button.
type ControlIssuer interface {
	Issue(ctx context.Context, guildID string, kind controls.Kind, payload any, label string, style platform.ControlStyle) (platform.Control, error)
}

type MessageRef struct {
	ChannelID string
	MessageID string
}

type Actuator struct {
	client   platform.Client
	audit    *audit.Logger
	settings SettingsSource
	controls ControlIssuer
	colors   config.EmbedColors
	logger   *zap.Logger
	now      func() time.Time
}

func New(client platform.Client, auditLogger *audit.Logger, settings SettingsSource, colors config.EmbedColors, logger *zap.Logger) *Actuator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Actuator{
		client:   client,
		audit:    auditLogger,
		settings: settings,
		colors:   colors,
		logger:   logger,
		now:      time.Now,
	}
}

func (a *Actuator) WithClock(now func() time.Time) {
	if now != nil {
		a.now = now
	}
}

func (a *Actuator) WithControls(issuer ControlIssuer) {
	a.controls = issuer
}

func (a *Actuator) Now() time.Time {
	return a.now()
}

func (a *Actuator) Colors() config.EmbedColors {
	return a.colors
}

func (a *Actuator) Client() platform.Client {
	return a.client
}

func (a *Actuator) Kick(ctx context.Context, guildID, userID, reason string) bool {
	if err := a.client.Kick(ctx, guildID, userID, reason); err != nil {
		a.failed(ctx, guildID, userID, "kick", err)
		return false
	}
	return true
}

func (a *Actuator) Timeout(ctx context.Context, guildID, userID string, d time.Duration, reason string) bool {
	if err := a.client.Timeout(ctx, guildID, userID, a.now().Add(d), reason); err != nil {
		a.failed(ctx, guildID, userID, "timeout", err)
		return false
	}
	return true
}

func (a *Actuator) RemoveTimeout(ctx context.Context, guildID, userID, reason string) error {
	if err := a.client.RemoveTimeout(ctx, guildID, userID, reason); err != nil {
		a.failed(ctx, guildID, userID, "remove_timeout", err)
		return err
	}
	return nil
}

// DeleteMessages deletes each message independently and returns how many
// were removed.
func (a *Actuator) DeleteMessages(ctx context.Context, guildID string, refs []MessageRef) int {
	deleted := 0
	for _, ref := range refs {
		err := a.client.DeleteMessage(ctx, ref.ChannelID, ref.MessageID)
		switch {
		case err == nil:
			deleted++
		case errors.Is(err, platform.ErrNotFound):
			// already gone
		default:
			a.logger.Debug("message delete failed", zap.String("guild_id", guildID), zap.String("message_id", ref.MessageID), zap.Error(err))
		}
	}
	return deleted
}

// StripRoles removes every role from the member and returns the roles held
// before, for a later restore.
func (a *Actuator) StripRoles(ctx context.Context, guildID, userID, reason string) ([]string, bool) {
	roles, err := a.client.MemberRoles(ctx, guildID, userID)
	if err != nil {
		a.failed(ctx, guildID, userID, "read_roles", err)
		return nil, false
	}
	if err := a.client.EditRoles(ctx, guildID, userID, []string{}, reason); err != nil {
		a.failed(ctx, guildID, userID, "strip_roles", err)
		return roles, false
	}
	return roles, true
}

func (a *Actuator) RestoreRoles(ctx context.Context, guildID, userID string, roles []string, reason string) error {
	if err := a.client.EditRoles(ctx, guildID, userID, roles, reason); err != nil {
		a.failed(ctx, guildID, userID, "restore_roles", err)
		return err
	}
	return nil
}

func (a *Actuator) SetSendPermission(ctx context.Context, guildID, channelID string, perm platform.SendPermission, reason string) bool {
	if err := a.client.SetSendPermission(ctx, guildID, channelID, perm, reason); err != nil {
		a.failed(ctx, guildID, "", "channel_permission:"+channelID, err)
		return false
	}
	return true
}

// Notify posts to the guild's security log channel. It runs after the
// action it reports and never affects it.
func (a *Actuator) Notify(ctx context.Context, guildID string, notice platform.Notice) {
	channelID := a.settings.Security(ctx, guildID).LogChannelID
	if channelID == "" {
		return
	}
	if err := a.client.SendNotice(ctx, channelID, notice); err != nil {
		a.logger.Warn("security log send failed", zap.String("guild_id", guildID), zap.String("channel_id", channelID), zap.Error(err))
	}
}

// NotifyWithControl attaches an undo button to the notice. If the control
// cannot be saved the notice is still sent, without the button.
func (a *Actuator) NotifyWithControl(ctx context.Context, guildID string, notice platform.Notice, kind controls.Kind, payload any, label string, style platform.ControlStyle) {
	if a.controls != nil {
		control, err := a.controls.Issue(ctx, guildID, kind, payload, label, style)
		if err != nil {
			a.logger.Warn("control issue failed", zap.String("guild_id", guildID), zap.String("kind", string(kind)), zap.Error(err))
		} else {
			notice.Controls = append(notice.Controls, control)
		}
	}
	a.Notify(ctx, guildID, notice)
}

// Warn sends a direct message; it is not a moderation action.
func (a *Actuator) Warn(ctx context.Context, userID string, notice platform.Notice) {
	if err := a.client.SendDirect(ctx, userID, notice); err != nil {
		a.logger.Debug("direct warning failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// Classify names the failure class of a platform error.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, platform.ErrForbidden):
		return "forbidden"
	case errors.Is(err, platform.ErrNotFound):
		return "not_found"
	default:
		return "transient"
	}
}

func (a *Actuator) failed(ctx context.Context, guildID, userID, action string, err error) {
	class := Classify(err)
	a.logger.Warn("mitigation failed",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("action", action),
		zap.String("class", class),
		zap.Error(err),
	)
	a.audit.Log(ctx, audit.LevelWarn, guildID, userID, "action_failed", fmt.Sprintf("action=%s class=%s", action, class))
	if class != "forbidden" {
		return
	}
	target := "-"
	if userID != "" {
		target = "<@" + userID + ">"
	}
	a.Notify(ctx, guildID, platform.Notice{
		Title:       "Mitigation failed",
		Description: "Missing permissions for an automatic action.",
		Color:       a.colors.Warning,
		Fields: []platform.Field{
			{Name: "Action", Value: action, Inline: true},
			{Name: "Target", Value: target, Inline: true},
		},
	})
}
