package analytics

import (
	"context"
	"testing"
	"time"

	"synergy-guard/internal/storage"
)

func TestReport(t *testing.T) {
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	now := time.Unix(10_000_000, 0)

	logs := []storage.AuditLog{
		{GuildID: "g1", Level: "CRIT", Event: "nuke_detected", CreatedAt: now.Add(-time.Hour)},
		{GuildID: "g1", Level: "WARN", Event: "spam_detected", CreatedAt: now.Add(-2 * time.Hour)},
		{GuildID: "g1", Level: "WARN", Event: "spam_detected", CreatedAt: now.Add(-3 * time.Hour)},
		{GuildID: "g1", Level: "WARN", Event: "spam_detected", CreatedAt: now.Add(-30 * 24 * time.Hour)},
		{GuildID: "g2", Level: "WARN", Event: "spam_detected", CreatedAt: now.Add(-time.Hour)},
	}
	for _, log := range logs {
		if err := store.AddAuditLog(ctx, log); err != nil {
			t.Fatalf("add audit log: %v", err)
		}
	}
	if _, err := store.AddPunishment(ctx, storage.Punishment{GuildID: "g1", UserID: "u1", ModeratorID: "m", ActionType: "BAN", CreatedAt: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("add punishment: %v", err)
	}

	svc := New(store)
	svc.WithClock(func() time.Time { return now })
	report, err := svc.Report(ctx, "g1", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Total != 3 || report.ByLevel["WARN"] != 2 || report.ByLevel["CRIT"] != 1 {
		t.Fatalf("unexpected levels %+v", report)
	}
	if len(report.TopEvents) != 2 || report.TopEvents[0] != (EventCount{Event: "spam_detected", Count: 2}) {
		t.Fatalf("unexpected top events %+v", report.TopEvents)
	}
	if report.Punishments["BAN"] != 1 {
		t.Fatalf("unexpected punishments %+v", report.Punishments)
	}
}
