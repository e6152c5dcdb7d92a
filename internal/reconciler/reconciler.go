// Package reconciler periodically polls the exchange's authoritative
// active-order and balance state and resolves the local ladder table
// against it: confirming fills, confirming cancels, escalating stuck
// cancels to a REST fallback, and rate-limiting the cancellation of
// orphan orders the table has no record of.
//
// Grounded on the same "compare local belief to authoritative truth, act
// on both directions of divergence" shape used by reconciliation loops
// elsewhere in the ecosystem, adapted here to the ladder's specific
// per-cell state-transition table rather than a single aggregate
// divergence check.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"ladder-mm/internal/config"
	"ladder-mm/internal/exchange"
	"ladder-mm/internal/ladder"
	"ladder-mm/pkg/types"
)

// Reconciler runs the periodic authoritative-state poll.
type Reconciler struct {
	client    *exchange.Client
	table     *ladder.Table
	commit    *ladder.Commitment
	recent    *exchange.RecentlyCancelled
	cfg       config.ReconcilerConfig
	baseCcy   string
	quoteCcy  string
	logger    *slog.Logger

	lastBalances types.Balances
}

// New builds a Reconciler.
func New(client *exchange.Client, table *ladder.Table, commit *ladder.Commitment, cfg config.ReconcilerConfig, baseCcy, quoteCcy string, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		client:   client,
		table:    table,
		commit:   commit,
		recent:   exchange.NewRecentlyCancelled(cfg.RecentCancelTTL),
		cfg:      cfg,
		baseCcy:  baseCcy,
		quoteCcy: quoteCcy,
		logger:   logger.With("component", "reconciler"),
	}
}

// LastBalances returns the most recently polled balance snapshot.
func (r *Reconciler) LastBalances() types.Balances {
	return r.lastBalances
}

// Run ticks on cfg.PollInterval until ctx is cancelled, calling
// Reconcile each tick and logging (not failing) on error — a failed poll
// retains all current cell state and simply tries again next tick.
func (r *Reconciler) Run(ctx context.Context, onFailure func()) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Reconcile(ctx); err != nil {
				r.logger.Error("reconcile failed", "error", err)
				if onFailure != nil {
					onFailure()
				}
			}
		}
	}
}

// Reconcile performs one poll-and-resolve pass. On fetch failure, it
// returns an error and changes nothing — the caller should treat this as
// the "failed fetch → retain state, no transitions this tick" case.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	now := time.Now()

	activeOrders, err := r.client.GetActiveOrders(ctx)
	if err != nil {
		return err
	}
	bal, err := r.client.GetBalances(ctx, r.baseCcy, r.quoteCcy)
	if err != nil {
		return err
	}
	r.lastBalances = bal

	truth := make(map[string]types.ActiveOrder, len(activeOrders))
	for _, o := range activeOrders {
		truth[o.OrderID] = o
	}

	// Zero both commitment layers and rebuild live purely from this tick's
	// authoritative order list — the periodic correction that keeps the
	// tracker converged even if a controller-side ack was dropped or raced.
	r.commit.BeginReconcile()

	r.resolveCells(truth, now)
	r.sweepOrphans(ctx, truth, now)
	r.recent.Sweep(now)

	return nil
}

// resolveCells walks every working cell and resolves it against the
// authoritative set.
func (r *Reconciler) resolveCells(truth map[string]types.ActiveOrder, now time.Time) {
	for _, cell := range r.table.All() {
		if !cell.IsWorking() {
			continue
		}
		order, present := truth[cell.OrderID]

		switch cell.State {
		case types.CellLive:
			r.resolveLiveCell(cell, order, present, now)
		case types.CellCancelPending:
			r.resolveCancelPendingCell(cell, present, now)
		case types.CellCancelStuck:
			r.resolveCancelStuckCell(cell, present, now)
		}
	}
}

func (r *Reconciler) resolveLiveCell(cell types.Cell, order types.ActiveOrder, present bool, now time.Time) {
	if !present {
		// No longer active: either fully filled or cancelled out of band.
		r.table.MarkEmpty(cell.Level, cell.Side)
		return
	}
	if order.Status == types.OrderFilled {
		r.table.MarkEmpty(cell.Level, cell.Side)
		return
	}
	if order.FilledSize.GreaterThan(cell.Filled) {
		r.table.ObserveFill(cell.Level, cell.Side, order.FilledSize)
	}
	remaining := cell.Size.Sub(order.FilledSize)
	r.commit.AddLive(cell.Side, cell.Price, remaining)
}

func (r *Reconciler) resolveCancelPendingCell(cell types.Cell, present bool, now time.Time) {
	if !present {
		r.table.MarkEmpty(cell.Level, cell.Side)
		return
	}
	remaining := cell.Size.Sub(cell.Filled)
	r.commit.AddLive(cell.Side, cell.Price, remaining)
	if now.Sub(cell.CancelSentAt) > r.cfg.CancelTimeout {
		r.table.MarkCancelStuck(cell.Level, cell.Side)
	}
}

func (r *Reconciler) resolveCancelStuckCell(cell types.Cell, present bool, now time.Time) {
	if !present {
		r.table.MarkEmpty(cell.Level, cell.Side)
		return
	}
	remaining := cell.Size.Sub(cell.Filled)
	r.commit.AddLive(cell.Side, cell.Price, remaining)
	if cell.CancelAttempts >= r.cfg.MaxCancelAttempts {
		r.logger.Error("cancel stuck past max attempts, continuing to retry",
			"level", cell.Level, "side", cell.Side, "order_id", cell.OrderID, "attempts", cell.CancelAttempts)
	}
	// REST fallback: the streaming cancel presumably never landed or its
	// reply was lost; the standalone CancelOrder call is idempotent on an
	// already-cancelled order (the exchange returns not-found, which we
	// treat as success).
	// Errors here are logged only — the next tick will retry.
	if err := r.client.CancelOrder(context.Background(), cell.OrderID); err != nil {
		r.logger.Warn("rest cancel fallback failed", "order_id", cell.OrderID, "error", err)
	}
}

// sweepOrphans finds authoritative orders the table has no record of and
// cancels them, rate-limited to OrphanCancelCap per tick and suppressed
// for RecentCancelTTL after a prior attempt.
func (r *Reconciler) sweepOrphans(ctx context.Context, truth map[string]types.ActiveOrder, now time.Time) {
	known := r.table.WorkingOrderIDs()

	cancelled := 0
	for id, order := range truth {
		if cancelled >= r.cfg.OrphanCancelCap {
			break
		}
		if _, ok := known[id]; ok {
			continue
		}
		if r.recent.Contains(id, now) {
			continue
		}
		if err := r.client.CancelOrder(ctx, order.OrderID); err != nil {
			r.logger.Warn("orphan cancel failed", "order_id", id, "error", err)
			continue
		}
		r.recent.Mark(id, now)
		cancelled++
		r.logger.Warn("cancelled orphan order", "order_id", id, "side", order.Side, "price", order.Price)
	}
}
