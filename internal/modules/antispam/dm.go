package antispam

import (
	"context"
	"time"

	"synergy-guard/internal/config"
	"synergy-guard/internal/mitigation"
	"synergy-guard/internal/platform"
	"synergy-guard/internal/utils"
)

const (
	dmKind    = "dm"
	dmWarning = "You are sending messages too quickly. This may be considered spam!"
)

// DMGuard warns senders who flood the bot's direct messages. It never
// punishes.
type DMGuard struct {
	senders  *utils.RateWindow[struct{}]
	actuator *mitigation.Actuator
	window   time.Duration
	max      int
}

func NewDMGuard(cfg config.DMGuardConfig, actuator *mitigation.Actuator) *DMGuard {
	return &DMGuard{
		senders:  utils.NewRateWindow[struct{}](),
		actuator: actuator,
		window:   config.Seconds(cfg.WindowSeconds),
		max:      cfg.MaxMessages,
	}
}

// HandleMessage returns true when the sender was warned.
func (g *DMGuard) HandleMessage(ctx context.Context, msg platform.Message) bool {
	if msg.AuthorBot || !msg.IsDirect() {
		return false
	}
	at := msg.CreatedAt
	if at.IsZero() {
		at = g.actuator.Now()
	}
	key := utils.Key{SubjectID: msg.AuthorID, Kind: dmKind}
	if len(g.senders.Observe(key, at, struct{}{}, g.window)) <= g.max {
		return false
	}
	g.actuator.Warn(ctx, msg.AuthorID, platform.Notice{
		Title:       "Slow down",
		Description: dmWarning,
		Color:       g.actuator.Colors().Warning,
	})
	return true
}

func (g *DMGuard) Sweep(now time.Time) int {
	return g.senders.Sweep(now, g.window)
}
