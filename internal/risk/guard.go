// Package risk implements Guard, an ambient safety monitor adapted from
// the kill-switch/cooldown pattern of a prior engine's risk manager. This
// system trades a single symbol with no per-market exposure configuration,
// so Guard is re-purposed to watch for conditions the spec's own gates
// don't cover: a stale reference feed, a run of reconciler fetch
// failures, or a rapid mid-price move. Tripping pauses new placements and
// asks the supervisor to cancel everything as a safety net — a coarser
// circuit breaker sitting above the quoting controller's own OFI/trend
// gates, never a replacement for them.
package risk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ladder-mm/internal/config"
)

// Guard tracks the conditions above and exposes a simple Paused() check.
type Guard struct {
	mu sync.Mutex

	cfg    config.GuardConfig
	logger *slog.Logger

	consecutiveFailures int
	trippedUntil        time.Time

	priceHistory []pricePoint
}

type pricePoint struct {
	at    time.Time
	price decimal.Decimal
}

// New builds a Guard.
func New(cfg config.GuardConfig, logger *slog.Logger) *Guard {
	return &Guard{cfg: cfg, logger: logger.With("component", "guard")}
}

// Paused reports whether the guard is currently tripped.
func (g *Guard) Paused(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return now.Before(g.trippedUntil)
}

// ObserveFeed checks feed staleness against the configured timeout and
// trips the guard if it's been too long since the last sample.
func (g *Guard) ObserveFeed(lastUpdate time.Time, now time.Time) {
	if lastUpdate.IsZero() || now.Sub(lastUpdate) > g.cfg.FeedStaleTimeout {
		g.trip(now, "reference feed stale")
	}
}

// ObserveReconcileResult records a reconciler poll outcome; three
// consecutive failures trips the guard.
func (g *Guard) ObserveReconcileResult(ok bool, now time.Time) {
	g.mu.Lock()
	if ok {
		g.consecutiveFailures = 0
		g.mu.Unlock()
		return
	}
	g.consecutiveFailures++
	tripped := g.consecutiveFailures >= g.cfg.MaxReconcileFailures
	g.mu.Unlock()
	if tripped {
		g.trip(now, "reconciler fetch failures exceeded threshold")
	}
}

// ObservePrice checks the mid price against a rolling window for a move
// exceeding the configured percentage, tripping the guard if so.
func (g *Guard) ObservePrice(mid decimal.Decimal, now time.Time) {
	if mid.IsZero() {
		return
	}
	g.mu.Lock()
	g.priceHistory = append(g.priceHistory, pricePoint{at: now, price: mid})
	cutoff := now.Add(-g.cfg.RapidMoveWindow)
	i := 0
	for i < len(g.priceHistory) && g.priceHistory[i].at.Before(cutoff) {
		i++
	}
	g.priceHistory = g.priceHistory[i:]
	oldest := g.priceHistory[0].price
	g.mu.Unlock()

	if oldest.IsZero() {
		return
	}
	moveFrac, _ := mid.Sub(oldest).Div(oldest).Abs().Float64()
	if moveFrac > g.cfg.RapidMovePct {
		g.trip(now, "rapid mid-price move")
	}
}

func (g *Guard) trip(now time.Time, reason string) {
	g.mu.Lock()
	alreadyTripped := now.Before(g.trippedUntil)
	g.trippedUntil = now.Add(g.cfg.CooldownAfterTrip)
	g.mu.Unlock()
	if !alreadyTripped {
		g.logger.Warn("guard tripped", "reason", reason, "cooldown", g.cfg.CooldownAfterTrip)
	}
}
