// Package playbook owns the per-guild security state: whether a guild is in
// raid mode and the send permissions saved when panic mode was engaged.
package playbook

import (
	"context"
	"sync"
	"time"

	"synergy-guard/internal/modules/audit"
	"synergy-guard/internal/platform"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type State struct {
	RaidMode  bool
	RaidSince time.Time
	// PanicSnapshot is non-nil exactly while panic mode is engaged.
	PanicSnapshot map[string]platform.SendPermission
	PanicSince    time.Time
}

// PanicEngaged reports whether a snapshot is held.
func (s State) PanicEngaged() bool {
	return s.PanicSnapshot != nil
}

type Engine struct {
	mu     sync.RWMutex
	clock  Clock
	audit  *audit.Logger
	states map[string]*State
}

func New(auditLogger *audit.Logger) *Engine {
	return &Engine{
		clock:  realClock{},
		audit:  auditLogger,
		states: make(map[string]*State),
	}
}

func (e *Engine) WithClock(clock Clock) {
	e.clock = clock
}

// EnterRaidMode switches the guild into raid mode. It returns false when the
// guild was already in raid mode, so callers alert exactly once per raid.
func (e *Engine) EnterRaidMode(ctx context.Context, guildID, details string) bool {
	e.mu.Lock()
	state := e.stateLocked(guildID)
	if state.RaidMode {
		e.mu.Unlock()
		return false
	}
	state.RaidMode = true
	state.RaidSince = e.clock.Now()
	e.mu.Unlock()

	e.audit.Log(ctx, audit.LevelCrit, guildID, "", "raid_mode_enabled", details)
	return true
}

// DisableRaidMode returns the guild to normal. Raid mode never expires on its
// own; this is the only way out. Disabling a guild not in raid mode is a
// no-op that returns false.
func (e *Engine) DisableRaidMode(ctx context.Context, guildID, actorID string) bool {
	e.mu.Lock()
	state := e.states[guildID]
	if state == nil || !state.RaidMode {
		e.mu.Unlock()
		return false
	}
	state.RaidMode = false
	state.RaidSince = time.Time{}
	e.mu.Unlock()

	e.audit.Log(ctx, audit.LevelInfo, guildID, actorID, "raid_mode_disabled", "")
	return true
}

func (e *Engine) InRaidMode(guildID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state := e.states[guildID]
	return state != nil && state.RaidMode
}

// BeginPanic stores the snapshot unless one is already held. It returns
// false when panic mode is already engaged, leaving the first snapshot as
// the one that will be restored.
func (e *Engine) BeginPanic(guildID string, snapshot map[string]platform.SendPermission) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	state := e.stateLocked(guildID)
	if state.PanicSnapshot != nil {
		return false
	}
	saved := make(map[string]platform.SendPermission, len(snapshot))
	for channelID, perm := range snapshot {
		saved[channelID] = perm
	}
	state.PanicSnapshot = saved
	state.PanicSince = e.clock.Now()
	return true
}

// TakePanic removes and returns the held snapshot, or nil when panic mode is
// not engaged.
func (e *Engine) TakePanic(guildID string) map[string]platform.SendPermission {
	e.mu.Lock()
	defer e.mu.Unlock()
	state := e.states[guildID]
	if state == nil || state.PanicSnapshot == nil {
		return nil
	}
	snapshot := state.PanicSnapshot
	state.PanicSnapshot = nil
	state.PanicSince = time.Time{}
	return snapshot
}

func (e *Engine) PanicEngaged(guildID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state := e.states[guildID]
	return state != nil && state.PanicSnapshot != nil
}

// Get returns a copy of the guild's state.
func (e *Engine) Get(guildID string) State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state := e.states[guildID]
	if state == nil {
		return State{}
	}
	out := *state
	if state.PanicSnapshot != nil {
		out.PanicSnapshot = make(map[string]platform.SendPermission, len(state.PanicSnapshot))
		for channelID, perm := range state.PanicSnapshot {
			out.PanicSnapshot[channelID] = perm
		}
	}
	return out
}

func (e *Engine) stateLocked(guildID string) *State {
	state := e.states[guildID]
	if state == nil {
		state = &State{}
		e.states[guildID] = state
	}
	return state
}
