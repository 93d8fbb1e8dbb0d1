package analytics

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

type Store interface {
	CountAuditLogs(ctx context.Context, guildID string, since time.Time) (map[string]int, map[string]int, error)
	CountPunishmentsByType(ctx context.Context, guildID string, since time.Time) (map[string]int, error)
}

type Service struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

type EventCount struct {
	Event string
	Count int
}

type Report struct {
	Since       time.Time
	Total       int
	ByLevel     map[string]int
	TopEvents   []EventCount
	Punishments map[string]int
}

// Report summarizes the guild's security activity over the last period.
func (s *Service) Report(ctx context.Context, guildID string, period time.Duration) (Report, error) {
	since := s.now().Add(-period)
	report := Report{Since: since}

	g, gctx := errgroup.WithContext(ctx)
	var byEvent map[string]int
	g.Go(func() error {
		var err error
		report.ByLevel, byEvent, err = s.store.CountAuditLogs(gctx, guildID, since)
		return err
	})
	g.Go(func() error {
		var err error
		report.Punishments, err = s.store.CountPunishmentsByType(gctx, guildID, since)
		return err
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	for _, n := range report.ByLevel {
		report.Total += n
	}
	for event, n := range byEvent {
		report.TopEvents = append(report.TopEvents, EventCount{Event: event, Count: n})
	}
	sort.Slice(report.TopEvents, func(i, j int) bool {
		if report.TopEvents[i].Count != report.TopEvents[j].Count {
			return report.TopEvents[i].Count > report.TopEvents[j].Count
		}
		return report.TopEvents[i].Event < report.TopEvents[j].Event
	})
	return report, nil
}
