// Package engine is the central supervisor of the market-making bot.
//
// It wires together every subsystem for the single configured symbol:
//
//  1. ReferenceFeed streams public book-ticker/depth data into market.State.
//  2. OrderStream is the duplex private connection used to place/cancel
//     orders and receive push fill/order events.
//  3. Reconciler polls active orders + balances once a second and is the
//     sole authority that ever moves a cell back to Empty.
//  4. Controller ticks every 500ms, reading market.State and pnl.Book to
//     drive the ladder's Empty→Live and Live→CancelPending transitions.
//  5. Guard watches feed staleness, reconciler health, and rapid price
//     moves, and can pause quoting independent of the controller's own
//     gates.
//
// Lifecycle: New() → Run(ctx) → ctx cancelled → cancel-all → final report.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ladder-mm/internal/config"
	"ladder-mm/internal/exchange"
	"ladder-mm/internal/ladder"
	"ladder-mm/internal/market"
	"ladder-mm/internal/pnl"
	"ladder-mm/internal/quoting"
	"ladder-mm/internal/reconciler"
	"ladder-mm/internal/risk"
	"ladder-mm/internal/statusapi"
	"ladder-mm/pkg/types"
)

// Engine orchestrates all components for the configured symbol and owns
// the lifecycle of every goroutine it starts.
type Engine struct {
	cfg config.Config

	auth        *exchange.Auth
	client      *exchange.Client
	orderStream *exchange.OrderStream
	refFeed     *market.ReferenceFeed

	marketState *market.State
	table       *ladder.Table
	commit      *ladder.Commitment
	book        *pnl.Book
	reconciler  *reconciler.Reconciler
	controller  *quoting.Controller
	guard       *risk.Guard

	baseCcy, quoteCcy string

	logger *slog.Logger

	balMu    sync.RWMutex
	balances types.Balances

	fillsSince time.Time
}

// New wires every subsystem together from config. It does not start any
// goroutines; call Run to do that.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		return nil, err
	}

	client := exchange.NewClient(cfg, auth, logger)
	orderStream := exchange.NewOrderStream(cfg.API.WSPrivateURL, auth, cfg.Symbol, logger)

	marketState := market.NewState(cfg.Strategy)
	refFeed := market.NewReferenceFeed(cfg.Feed, marketState, logger)

	levels := quoting.BuildLevels(cfg.Ladder)
	table := ladder.NewTable(levels)
	commit := ladder.NewCommitment()
	book := pnl.NewBook()

	baseCcy, quoteCcy := splitSymbol(cfg.Symbol)

	recon := reconciler.New(client, table, commit, cfg.Reconciler, baseCcy, quoteCcy, logger)
	controller := quoting.New(table, commit, marketState, book, orderStream, cfg.Strategy, cfg.Ladder, logger)
	guard := risk.New(cfg.Guard, logger)

	return &Engine{
		cfg:         cfg,
		auth:        auth,
		client:      client,
		orderStream: orderStream,
		refFeed:     refFeed,
		marketState: marketState,
		table:       table,
		commit:      commit,
		book:        book,
		reconciler:  recon,
		controller:  controller,
		guard:       guard,
		baseCcy:     baseCcy,
		quoteCcy:    quoteCcy,
		logger:      logger.With("component", "engine"),
		fillsSince:  time.Now(),
	}, nil
}

// splitSymbol splits a "BASE-QUOTE" pair symbol into its two currencies.
func splitSymbol(symbol string) (base, quote string) {
	parts := strings.SplitN(symbol, "-", 2)
	if len(parts) != 2 {
		return symbol, ""
	}
	return parts[0], parts[1]
}

// Run starts every producer and periodic task, and blocks until ctx is
// cancelled. On return, every goroutine it started has exited.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("starting up", "symbol", e.cfg.Symbol, "dry_run", e.cfg.DryRun)

	startupCtx, startupCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := e.client.CancelAll(startupCtx); err != nil {
		e.logger.Error("startup cancel-all failed", "error", err)
	}
	startupCancel()

	if err := e.reconciler.Reconcile(ctx); err != nil {
		e.logger.Error("startup reconciliation failed", "error", err)
	} else {
		e.refreshBalances()
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := e.refFeed.Run(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("reference feed stopped", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := e.orderStream.Run(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("order stream stopped", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.consumeOrderEvents(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.consumeFills(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.reconciler.Run(ctx, e.onReconcileFailure)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runReconcileObserver(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runQuotingLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runFillsPoll(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runSessionLog(ctx)
	}()

	<-ctx.Done()
	e.logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := e.client.CancelAll(shutdownCtx); err != nil {
		e.logger.Error("shutdown cancel-all failed", "error", err)
	}
	if err := e.reconciler.Reconcile(shutdownCtx); err != nil {
		e.logger.Error("final reconciliation failed", "error", err)
	}
	shutdownCancel()

	wg.Wait()

	e.logSession()
	e.logger.Info("shutdown complete")
}

// runQuotingLoop ticks the quoting controller on the configured interval,
// skipping ticks entirely while the guard is tripped and issuing one
// cancel-all each time the guard enters a tripped period.
func (e *Engine) runQuotingLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Timers.Tick)
	defer ticker.Stop()
	wasPaused := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			e.guard.ObservePrice(e.marketState.Snapshot().Mid, now)
			if e.guard.Paused(now) {
				if !wasPaused {
					if err := e.client.CancelAll(ctx); err != nil {
						e.logger.Error("guard cancel-all failed", "error", err)
					}
				}
				wasPaused = true
				continue
			}
			wasPaused = false
			e.controller.Tick(ctx, e.currentBalances())
		}
	}
}

// runReconcileObserver feeds the guard with feed-staleness samples on its
// own cadence, independent of the reconciler's own tick.
func (e *Engine) runReconcileObserver(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Timers.Reconcile)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.guard.ObserveFeed(e.marketState.Snapshot().UpdatedAt, time.Now())
			e.refreshBalances()
		}
	}
}

// runFillsPoll periodically fetches fill history via REST as a
// dedup-guarded backup to the streaming push channel.
func (e *Engine) runFillsPoll(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Timers.Fills)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			since := e.fillsSince
			fills, err := e.client.GetFills(ctx, since)
			if err != nil {
				e.logger.Warn("fills poll failed", "error", err)
				continue
			}
			now := time.Now()
			for _, f := range fills {
				e.book.OnFill(f)
			}
			e.fillsSince = now
		}
	}
}

// runSessionLog periodically logs an operator-facing summary of ladder
// health, P&L, and commitment state.
func (e *Engine) runSessionLog(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Timers.SessionLog)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.logSession()
		}
	}
}

func (e *Engine) logSession() {
	pnlSnap := e.book.Snapshot()
	commitSnap := e.commit.Snapshot()
	marketSnap := e.marketState.Snapshot()
	e.logger.Info("session status",
		"mid", marketSnap.Mid,
		"sigma", marketSnap.Sigma,
		"momentum", marketSnap.Momentum,
		"ofi", marketSnap.OFI,
		"inventory", pnlSnap.Inventory,
		"realized_pnl", pnlSnap.RealizedPnL,
		"rebates", pnlSnap.Rebates,
		"taker_fees", pnlSnap.TakerFees,
		"fills", pnlSnap.Fills,
		"wins", pnlSnap.Wins,
		"losses", pnlSnap.Losses,
		"inflight_quote", commitSnap.InflightQuote,
		"live_quote", commitSnap.LiveQuote,
		"inflight_base", commitSnap.InflightBase,
		"live_base", commitSnap.LiveBase,
		"guard_paused", e.guard.Paused(time.Now()),
	)
}

// consumeOrderEvents drains push order-status events from the order
// stream. These are advisory only — the reconciler remains the sole
// authority over cell-state transitions — but logging them gives the
// operator real-time visibility between reconcile ticks.
func (e *Engine) consumeOrderEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-e.orderStream.OrderEvents():
			if !ok {
				return
			}
			e.logger.Debug("order event", "order_id", evt.OrderID, "status", evt.Status, "filled", evt.FilledSize)
		}
	}
}

// consumeFills drains push fill events into the P&L ledger. TradeID
// dedup in pnl.Book makes this safe to run alongside the periodic REST
// fills poll.
func (e *Engine) consumeFills(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-e.orderStream.Fills():
			if !ok {
				return
			}
			e.book.OnFill(f)
		}
	}
}

func (e *Engine) onReconcileFailure() {
	e.guard.ObserveReconcileResult(false, time.Now())
}

func (e *Engine) refreshBalances() {
	bal := e.reconciler.LastBalances()
	e.balMu.Lock()
	fresh := bal.AsOf.After(e.balances.AsOf)
	e.balances = bal
	e.balMu.Unlock()
	// Only a balance snapshot newer than the last one seen marks a
	// successful reconcile; otherwise the failure streak would be reset
	// every observer tick.
	if fresh {
		e.guard.ObserveReconcileResult(true, time.Now())
	}
}

func (e *Engine) currentBalances() types.Balances {
	e.balMu.RLock()
	defer e.balMu.RUnlock()
	return e.balances
}

// Snapshot returns a read-only view of engine state for the status API.
func (e *Engine) Snapshot() statusapi.Snapshot {
	return statusapi.Snapshot{
		Symbol:      e.cfg.Symbol,
		DryRun:      e.cfg.DryRun,
		AsOf:        time.Now(),
		Market:      e.marketState.Snapshot(),
		PnL:         e.book.Snapshot(),
		Commitment:  e.commit.Snapshot(),
		Cells:       e.table.All(),
		Balances:    e.currentBalances(),
		GuardPaused: e.guard.Paused(time.Now()),
	}
}
