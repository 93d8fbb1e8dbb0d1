package mitigation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"synergy-guard/internal/config"
	"synergy-guard/internal/controls"
	"synergy-guard/internal/modules/audit"
	"synergy-guard/internal/platform"
	"synergy-guard/internal/platform/platformtest"
	"synergy-guard/internal/storage"

	"go.uber.org/zap"
)

type staticSettings struct {
	logChannel string
}

func (s staticSettings) Security(_ context.Context, guildID string) storage.SecuritySettings {
	return storage.SecuritySettings{GuildID: guildID, LogChannelID: s.logChannel}
}

type auditRows struct {
	rows []storage.AuditLog
}

func (a *auditRows) AddAuditLog(_ context.Context, log storage.AuditLog) error {
	a.rows = append(a.rows, log)
	return nil
}

func newActuator(logChannel string) (*Actuator, *platformtest.Fake, *auditRows) {
	fake := platformtest.NewFake()
	rows := &auditRows{}
	actuator := New(fake, audit.NewLogger(rows, zap.NewNop()), staticSettings{logChannel: logChannel}, config.DefaultConfig().Notifications.EmbedColors, nil)
	actuator.WithClock(func() time.Time { return time.Unix(1000, 0) })
	return actuator, fake, rows
}

func TestForbiddenKickIsLoggedAndSurfaced(t *testing.T) {
	actuator, fake, rows := newActuator("log")
	fake.SetError("Kick", fmt.Errorf("%w: missing permissions", platform.ErrForbidden))

	if actuator.Kick(context.Background(), "g1", "u1", "raid") {
		t.Fatalf("kick should report failure")
	}
	if len(rows.rows) != 1 || rows.rows[0].Event != "action_failed" {
		t.Fatalf("expected an action_failed audit row, got %+v", rows.rows)
	}
	if rows.rows[0].Details != "action=kick class=forbidden" {
		t.Fatalf("unexpected details %q", rows.rows[0].Details)
	}
	if fake.Count("SendNotice") != 1 {
		t.Fatalf("forbidden failures should be surfaced to the log channel")
	}
}

func TestTransientFailureIsNotSurfaced(t *testing.T) {
	actuator, fake, rows := newActuator("log")
	fake.SetError("Timeout", fmt.Errorf("502 bad gateway"))

	if actuator.Timeout(context.Background(), "g1", "u1", 10*time.Minute, "spam") {
		t.Fatalf("timeout should report failure")
	}
	if len(rows.rows) != 1 || rows.rows[0].Details != "action=timeout class=transient" {
		t.Fatalf("unexpected audit rows: %+v", rows.rows)
	}
	if fake.Count("SendNotice") != 0 {
		t.Fatalf("transient failures are only logged")
	}
}

func TestTimeoutUsesClock(t *testing.T) {
	actuator, fake, _ := newActuator("")
	if !actuator.Timeout(context.Background(), "g1", "u1", 10*time.Minute, "spam") {
		t.Fatalf("timeout should succeed")
	}
	calls := fake.Calls("Timeout")
	if len(calls) != 1 || !calls[0].Until.Equal(time.Unix(1000, 0).Add(10*time.Minute)) {
		t.Fatalf("unexpected timeout call: %+v", calls)
	}
}

func TestStripRolesReturnsSnapshot(t *testing.T) {
	actuator, fake, _ := newActuator("")
	fake.SetRoles("g1", "u1", "r1", "r2")

	roles, ok := actuator.StripRoles(context.Background(), "g1", "u1", "nuke")
	if !ok || len(roles) != 2 {
		t.Fatalf("unexpected strip result: %v %v", roles, ok)
	}
	if left := fake.MemberRoleSet("g1", "u1"); len(left) != 0 {
		t.Fatalf("expected no roles left, got %v", left)
	}
	if err := actuator.RestoreRoles(context.Background(), "g1", "u1", roles, "restore"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if left := fake.MemberRoleSet("g1", "u1"); len(left) != 2 {
		t.Fatalf("expected roles restored, got %v", left)
	}
}

func TestNotifyWithoutChannelIsSilent(t *testing.T) {
	actuator, fake, _ := newActuator("")
	actuator.Notify(context.Background(), "g1", platform.Notice{Title: "x"})
	if fake.Count("SendNotice") != 0 {
		t.Fatalf("no log channel configured, nothing should be sent")
	}
}

func TestDeleteMessagesCountsSuccesses(t *testing.T) {
	actuator, fake, _ := newActuator("")
	deleted := actuator.DeleteMessages(context.Background(), "g1", []MessageRef{{ChannelID: "c1", MessageID: "m1"}, {ChannelID: "c1", MessageID: "m2"}})
	if deleted != 2 || fake.Count("DeleteMessage") != 2 {
		t.Fatalf("expected 2 deletions, got %d", deleted)
	}
}

type stubIssuer struct {
	err error
}

func (s stubIssuer) Issue(_ context.Context, _ string, kind controls.Kind, _ any, label string, style platform.ControlStyle) (platform.Control, error) {
	if s.err != nil {
		return platform.Control{}, s.err
	}
	return platform.Control{CustomID: "ctl:" + string(kind), Label: label, Style: style}, nil
}

func TestNotifyWithControlAttachesButton(t *testing.T) {
	actuator, fake, _ := newActuator("log")
	actuator.WithControls(stubIssuer{})
	actuator.NotifyWithControl(context.Background(), "g1", platform.Notice{Title: "Anti-Spam Alert"}, controls.KindUndoTimeout, controls.UndoTimeoutPayload{UserID: "u1"}, "Undo Punishment", platform.ControlDanger)

	calls := fake.Calls("SendNotice")
	if len(calls) != 1 || len(calls[0].Notice.Controls) != 1 || calls[0].Notice.Controls[0].CustomID != "ctl:undo_timeout" {
		t.Fatalf("expected notice with one control, got %+v", calls)
	}
}

func TestNotifyWithControlFallsBackWithoutButton(t *testing.T) {
	actuator, fake, _ := newActuator("log")
	actuator.WithControls(stubIssuer{err: fmt.Errorf("db locked")})
	actuator.NotifyWithControl(context.Background(), "g1", platform.Notice{Title: "x"}, controls.KindDisableRaid, controls.DisableRaidPayload{}, "Disable", platform.ControlDanger)

	calls := fake.Calls("SendNotice")
	if len(calls) != 1 || len(calls[0].Notice.Controls) != 0 {
		t.Fatalf("expected notice without controls, got %+v", calls)
	}
}
