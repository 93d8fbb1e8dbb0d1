// Package panicmode locks every text channel against @everyone and later
// restores the exact overrides that were in place.
package panicmode

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"synergy-guard/internal/mitigation"
	"synergy-guard/internal/modules/audit"
	"synergy-guard/internal/platform"
	"synergy-guard/internal/playbook"
)

var ErrAlreadyEngaged = errors.New("panic mode already engaged")

type Controller struct {
	actuator *mitigation.Actuator
	playbook *playbook.Engine
	audit    *audit.Logger
}

func New(actuator *mitigation.Actuator, playbookEngine *playbook.Engine, auditLogger *audit.Logger) *Controller {
	return &Controller{actuator: actuator, playbook: playbookEngine, audit: auditLogger}
}

// Engage snapshots each text channel's send override and denies sending.
// It refuses while a snapshot is already held, so the first snapshot is the
// one restored. It returns the number of channels locked.
func (c *Controller) Engage(ctx context.Context, guildID, actorID, reason string) (int, error) {
	if c.playbook.PanicEngaged(guildID) {
		return 0, ErrAlreadyEngaged
	}
	snapshot, err := c.actuator.Client().ChannelSendPermissions(ctx, guildID)
	if err != nil {
		return 0, fmt.Errorf("read channel permissions: %w", err)
	}
	if !c.playbook.BeginPanic(guildID, snapshot) {
		return 0, ErrAlreadyEngaged
	}
	if reason == "" {
		reason = "Panic mode"
	}

	locked := 0
	for _, channelID := range sortedChannels(snapshot) {
		if c.actuator.SetSendPermission(ctx, guildID, channelID, platform.SendDeny, reason) {
			locked++
		}
	}
	c.audit.Log(ctx, audit.LevelCrit, guildID, actorID, "panic_engaged", fmt.Sprintf("channels=%d locked=%d reason=%s", len(snapshot), locked, reason))
	c.actuator.Notify(ctx, guildID, platform.Notice{
		Title:       "Panic Mode Activated",
		Description: fmt.Sprintf("%d channels locked. Members cannot send messages until panic mode is lifted.", locked),
		Color:       c.actuator.Colors().Alert,
		Fields: []platform.Field{
			{Name: "By", Value: "<@" + actorID + ">", Inline: true},
			{Name: "Reason", Value: reason, Inline: true},
		},
	})
	return locked, nil
}

// Disengage restores every saved override. Without a snapshot it does
// nothing and reports false.
func (c *Controller) Disengage(ctx context.Context, guildID, actorID string) (int, bool) {
	snapshot := c.playbook.TakePanic(guildID)
	if snapshot == nil {
		return 0, false
	}
	restored := 0
	for _, channelID := range sortedChannels(snapshot) {
		if c.actuator.SetSendPermission(ctx, guildID, channelID, snapshot[channelID], "Panic mode lifted") {
			restored++
		}
	}
	c.audit.Log(ctx, audit.LevelInfo, guildID, actorID, "panic_disengaged", fmt.Sprintf("channels=%d restored=%d", len(snapshot), restored))
	c.actuator.Notify(ctx, guildID, platform.Notice{
		Title:       "Panic Mode Deactivated",
		Description: fmt.Sprintf("%d channels restored.", restored),
		Color:       c.actuator.Colors().Success,
	})
	return restored, true
}

func (c *Controller) Engaged(guildID string) bool {
	return c.playbook.PanicEngaged(guildID)
}

func sortedChannels(snapshot map[string]platform.SendPermission) []string {
	ids := make([]string, 0, len(snapshot))
	for channelID := range snapshot {
		ids = append(ids, channelID)
	}
	sort.Strings(ids)
	return ids
}
