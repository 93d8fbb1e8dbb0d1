// Package moduletest wires detectors to a fake platform, a manual clock and
// in-memory settings for tests.
package moduletest

import (
	"context"
	"sync"
	"time"

	"synergy-guard/internal/config"
	"synergy-guard/internal/controls"
	"synergy-guard/internal/mitigation"
	"synergy-guard/internal/modules/audit"
	"synergy-guard/internal/platform"
	"synergy-guard/internal/platform/platformtest"
	"synergy-guard/internal/playbook"
	"synergy-guard/internal/settings"
	"synergy-guard/internal/storage"
)

type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Settings returns Default for every guild without an explicit row.
type Settings struct {
	mu      sync.Mutex
	Default storage.SecuritySettings
	rows    map[string]storage.SecuritySettings
}

func (s *Settings) Security(_ context.Context, guildID string) storage.SecuritySettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[guildID]; ok {
		return row
	}
	row := s.Default
	row.GuildID = guildID
	return row
}

func (s *Settings) Set(row storage.SecuritySettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		s.rows = make(map[string]storage.SecuritySettings)
	}
	s.rows[row.GuildID] = row
}

// Update edits the effective row for a guild in place.
func (s *Settings) Update(guildID string, edit func(*storage.SecuritySettings)) {
	row := s.Security(context.Background(), guildID)
	edit(&row)
	s.Set(row)
}

type AuditRows struct {
	mu   sync.Mutex
	rows []storage.AuditLog
}

func (a *AuditRows) AddAuditLog(_ context.Context, log storage.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = append(a.rows, log)
	return nil
}

func (a *AuditRows) Events(event string) []storage.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []storage.AuditLog
	for _, row := range a.rows {
		if row.Event == event {
			out = append(out, row)
		}
	}
	return out
}

type Whitelist struct {
	mu  sync.Mutex
	set map[string]bool
	Err error
}

func (w *Whitelist) Add(guildID, userID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.set == nil {
		w.set = make(map[string]bool)
	}
	w.set[guildID+":"+userID] = true
}

func (w *Whitelist) IsWhitelisted(_ context.Context, guildID, userID string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return false, w.Err
	}
	return w.set[guildID+":"+userID], nil
}

type Issued struct {
	GuildID string
	Kind    controls.Kind
	Payload any
	Label   string
}

// Issuer records controls instead of persisting them.
type Issuer struct {
	mu     sync.Mutex
	issued []Issued
}

func (i *Issuer) Issue(_ context.Context, guildID string, kind controls.Kind, payload any, label string, style platform.ControlStyle) (platform.Control, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.issued = append(i.issued, Issued{GuildID: guildID, Kind: kind, Payload: payload, Label: label})
	return platform.Control{CustomID: "ctl:" + string(kind), Label: label, Style: style}, nil
}

func (i *Issuer) Issued() []Issued {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Issued{}, i.issued...)
}

type Harness struct {
	Config    config.Config
	Fake      *platformtest.Fake
	Clock     *Clock
	Settings  *Settings
	Rows      *AuditRows
	Audit     *audit.Logger
	Actuator  *mitigation.Actuator
	Playbook  *playbook.Engine
	Whitelist *Whitelist
	Issuer    *Issuer
}

// New returns a harness whose guilds use the default security settings
// with the log channel "log", starting at unix time 1,000,000.
func New() *Harness {
	cfg := config.DefaultConfig()
	clock := NewClock(time.Unix(1_000_000, 0))
	fake := platformtest.NewFake()
	defaults := settings.SecurityDefaults("", cfg.Security)
	defaults.LogChannelID = "log"
	guildSettings := &Settings{Default: defaults}
	rows := &AuditRows{}
	auditLogger := audit.NewLogger(rows, nil)
	auditLogger.WithClock(clock.Now)
	actuator := mitigation.New(fake, auditLogger, guildSettings, cfg.Notifications.EmbedColors, nil)
	actuator.WithClock(clock.Now)
	issuer := &Issuer{}
	actuator.WithControls(issuer)
	engine := playbook.New(auditLogger)
	engine.WithClock(clock)

	return &Harness{
		Config:    cfg,
		Fake:      fake,
		Clock:     clock,
		Settings:  guildSettings,
		Rows:      rows,
		Audit:     auditLogger,
		Actuator:  actuator,
		Playbook:  engine,
		Whitelist: &Whitelist{},
		Issuer:    issuer,
	}
}

// At returns the harness start time plus offset.
func (h *Harness) At(offset time.Duration) time.Time {
	return time.Unix(1_000_000, 0).Add(offset)
}
