// Package quoting implements the quoting controller: once per tick it
// reads the current market snapshot and inventory, computes a target
// price and size for every (level, side) cell, and drives the cell state
// machine's two controller-owned transitions — Empty→Live by placing an
// order, Live→CancelPending by requesting a cancel when the resting order
// has drifted past its level's refresh threshold or would, if filled,
// breach the inventory bound.
//
// Two gates sit in front of placement: an OFI hysteresis gate (paused
// above a high-water threshold on |OFI|, resumed only below a lower
// low-water threshold — a dead-zone exactly like the toxic-flow cooldown
// this controller's predecessor used, just keyed on order-flow imbalance
// instead of fill-toxicity — which skips only the side OFI is pushing:
// bids while OFI is negative, asks while OFI is positive) and a trend
// gate (a sharp downtrend always skips bids, and skips the entire tick
// while inventory is at or below flatInventoryEpsilon; a sharp uptrend widens ask
// offsets instead of skipping them, to let asks capture the rally).
package quoting

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"ladder-mm/internal/config"
	"ladder-mm/internal/exchange"
	"ladder-mm/internal/ladder"
	"ladder-mm/internal/market"
	"ladder-mm/internal/pnl"
	"ladder-mm/pkg/types"
)

// flatInventoryEpsilon is the signed inventory (in base units) at or below
// which a sharp downtrend skips the entire tick rather than only the bids.
const flatInventoryEpsilon = 0.05

// Trader is the minimal capability surface the controller needs from the
// order-stream transport — satisfied by *exchange.OrderStream, and by an
// in-memory fake in tests.
type Trader interface {
	PlaceOrder(ctx context.Context, side types.Side, price, size string, clientOID string) (exchange.OrderReply, error)
	CancelOrder(ctx context.Context, orderID string) (exchange.OrderReply, error)
}

// Controller is the quoting controller.
type Controller struct {
	table   *ladder.Table
	commit  *ladder.Commitment
	market  *market.State
	book    *pnl.Book
	trader  Trader
	cfg     config.StrategyConfig
	ladderCfg config.LadderConfig
	logger  *slog.Logger

	ofiPaused bool

	seq int
}

// New builds a Controller.
func New(table *ladder.Table, commit *ladder.Commitment, marketState *market.State, book *pnl.Book, trader Trader, cfg config.StrategyConfig, ladderCfg config.LadderConfig, logger *slog.Logger) *Controller {
	return &Controller{
		table:     table,
		commit:    commit,
		market:    marketState,
		book:      book,
		trader:    trader,
		cfg:       cfg,
		ladderCfg: ladderCfg,
		logger:    logger.With("component", "quoting"),
	}
}

// BuildLevels converts the configured ladder into the types.Level sequence
// the cell table indexes by.
func BuildLevels(cfg config.LadderConfig) []types.Level {
	levels := make([]types.Level, len(cfg.Levels))
	for i, l := range cfg.Levels {
		levels[i] = types.Level{
			Index:      i,
			OffsetBps:  decimal.NewFromFloat(l.OffsetBps),
			RefreshBps: decimal.NewFromFloat(l.RefreshBps),
		}
	}
	return levels
}

// Tick computes and applies one quoting pass. balances is the latest
// reconciled balance snapshot (the reconciler is the sole producer of
// fresh balance reads; the controller never polls balances itself).
func (c *Controller) Tick(ctx context.Context, balances types.Balances) {
	snap := c.market.Snapshot()
	if snap.Mid.IsZero() {
		return
	}

	c.updateOFIGate(snap.OFI)
	inventory := c.book.Inventory()
	invFloat, _ := inventory.Float64()

	downtrend := snap.Momentum < -c.cfg.MomentumThreshold
	uptrend := snap.Momentum > c.cfg.MomentumThreshold

	if downtrend && invFloat <= flatInventoryEpsilon {
		// Flat or short and sharply downtrending: no side of this tick is
		// worth quoting, not just the bid side.
		return
	}

	// OFI gate only skips the side the imbalance is pushing into; a trend
	// downturn additionally, and unconditionally, skips bids.
	bidGated := downtrend || (c.ofiPaused && snap.OFI < 0)
	askGated := c.ofiPaused && snap.OFI > 0

	uptrendMultiplier := 1.0
	if uptrend {
		uptrendMultiplier = c.cfg.TrendWidenFactor
	}

	skewBps := decimal.NewFromFloat(invFloat * c.cfg.InventorySkewGamma * snap.Sigma * snap.Sigma * 10000)

	for _, lvl := range c.table.Levels() {
		c.tickLevel(ctx, lvl, snap, balances, inventory, skewBps, bidGated, askGated, uptrendMultiplier)
	}
}

// updateOFIGate applies hysteresis on |OFI|: enters paused once |OFI|
// exceeds the pause threshold, and only leaves paused once |OFI| drops
// below the (lower) resume threshold. Values in between hold whatever
// state was already in effect. Which side that pause actually skips is
// decided per-tick from OFI's current sign, not stored here.
func (c *Controller) updateOFIGate(ofi float64) {
	abs := math.Abs(ofi)
	if !c.ofiPaused && abs > c.cfg.OFIPauseThreshold {
		c.ofiPaused = true
		c.logger.Warn("ofi gate paused", "ofi", ofi)
	} else if c.ofiPaused && abs < c.cfg.OFIResumeThreshold {
		c.ofiPaused = false
		c.logger.Info("ofi gate resumed", "ofi", ofi)
	}
}

func (c *Controller) tickLevel(ctx context.Context, lvl types.Level, snap types.MarketSnapshot, balances types.Balances, inventory, skewBps decimal.Decimal, bidGated, askGated bool, uptrendMultiplier float64) {
	c.tickSide(ctx, lvl, types.SideBuy, snap, balances, inventory, skewBps, bidGated, 1.0)
	c.tickSide(ctx, lvl, types.SideSell, snap, balances, inventory, skewBps, askGated, uptrendMultiplier)
}

func (c *Controller) tickSide(ctx context.Context, lvl types.Level, side types.Side, snap types.MarketSnapshot, balances types.Balances, inventory, skewBps decimal.Decimal, gated bool, uptrendMultiplier float64) {
	cell := c.table.Get(lvl.Index, side)

	cappedSkew := capSkew(skewBps, lvl.OffsetBps)
	var offsetBps decimal.Decimal
	if side == types.SideBuy {
		offsetBps = lvl.OffsetBps.Add(cappedSkew)
	} else {
		offsetBps = lvl.OffsetBps.Sub(cappedSkew).Mul(decimal.NewFromFloat(uptrendMultiplier))
	}

	targetPrice := c.targetPrice(snap.Mid, offsetBps, side)
	targetSize := c.targetSize(side, inventory, snap.Mid)

	switch cell.State {
	case types.CellEmpty:
		if gated {
			return
		}
		c.place(ctx, lvl, side, targetPrice, targetSize, balances)

	case types.CellLive:
		currentOffsetBps := offsetFromMidBps(snap.Mid, cell.Price, side)
		drift := currentOffsetBps.Sub(lvl.OffsetBps).Abs()
		switch {
		case drift.GreaterThan(lvl.RefreshBps):
			c.requestCancel(ctx, lvl, side, cell)
		case gated || c.wouldBreachInventory(side, inventory, cell):
			c.requestCancel(ctx, lvl, side, cell)
		}

	case types.CellCancelPending, types.CellCancelStuck:
		// reconciler-owned; the controller takes no action here.
	}
}

// capSkew clamps a computed inventory skew to ± offsetBps/2, so a large
// inventory imbalance can narrow but never invert a level's offset.
func capSkew(skewBps, offsetBps decimal.Decimal) decimal.Decimal {
	cap := offsetBps.Div(decimal.NewFromInt(2))
	if skewBps.GreaterThan(cap) {
		return cap
	}
	if skewBps.LessThan(cap.Neg()) {
		return cap.Neg()
	}
	return skewBps
}

// wouldBreachInventory reports whether a Live cell, if its remaining size
// were fully filled, would push inventory past ±MaxInventoryBase — a bid
// adds to inventory, an ask subtracts from it.
func (c *Controller) wouldBreachInventory(side types.Side, inventory decimal.Decimal, cell types.Cell) bool {
	remaining := cell.Size.Sub(cell.Filled)
	if side == types.SideBuy {
		return inventory.Add(remaining).GreaterThan(c.cfg.MaxInventoryBase)
	}
	return inventory.Sub(remaining).LessThan(c.cfg.MaxInventoryBase.Neg())
}

// targetPrice converts an offset in bps from mid into an absolute,
// tick-rounded price: bids below mid, asks above.
func (c *Controller) targetPrice(mid, offsetBps decimal.Decimal, side types.Side) decimal.Decimal {
	factor := offsetBps.Div(decimal.NewFromInt(10000))
	var raw decimal.Decimal
	if side == types.SideBuy {
		raw = mid.Mul(decimal.NewFromInt(1).Sub(factor))
	} else {
		raw = mid.Mul(decimal.NewFromInt(1).Add(factor))
	}
	return roundToTick(raw, c.ladderCfg.TickSize, side)
}

// targetSize computes the base size for one side. The base size is
// order_notional_usd/mid, rounded down to size_step. Only the side that
// would deepen the existing inventory imbalance is tapered, by
// exp(eta*q) (bids when long) or exp(-eta*q) (asks when short); the
// opposite side — the one that flattens inventory — is left at exactly
// base. The tapered side is floored at size_step before the final
// round-down, so a heavily tapered quote never rounds all the way to
// zero.
func (c *Controller) targetSize(side types.Side, inventory, mid decimal.Decimal) decimal.Decimal {
	if mid.IsZero() {
		return decimal.Zero
	}
	base := roundSizeDown(c.ladderCfg.OrderNotional.Div(mid), c.ladderCfg.SizeStep)

	q, _ := inventory.Float64()
	eta := c.cfg.SizingEta

	taper := side == types.SideBuy && q > 0
	mirror := side == types.SideSell && q < 0
	if !taper && !mirror {
		return base
	}

	var mult float64
	if taper {
		mult = math.Exp(eta * q)
	} else {
		mult = math.Exp(-eta * q)
	}
	tapered := base.Mul(decimal.NewFromFloat(mult))
	floored := maxDecimal(c.ladderCfg.SizeStep, tapered)
	return roundSizeDown(floored, c.ladderCfg.SizeStep)
}

func (c *Controller) place(ctx context.Context, lvl types.Level, side types.Side, price, size decimal.Decimal, balances types.Balances) {
	if size.LessThanOrEqual(decimal.Zero) || price.LessThanOrEqual(decimal.Zero) {
		return
	}

	switch side {
	case types.SideBuy:
		if size.Mul(price).GreaterThan(c.commit.AvailableQuote(balances, c.cfg.SafetyBufferPct)) {
			return
		}
	case types.SideSell:
		if size.GreaterThan(c.commit.AvailableBase(balances, c.cfg.SafetyBufferPct)) {
			return
		}
	}

	c.commit.ReserveInflight(side, price, size)

	c.seq++
	clientOID := fmt.Sprintf("lvl%d-%s-%d-%d", lvl.Index, side, time.Now().UnixNano(), c.seq)

	reply, err := c.trader.PlaceOrder(ctx, side, price.String(), size.String(), clientOID)
	if err != nil || !reply.Success {
		c.commit.ReleaseInflight(side, price, size)
		if err != nil {
			c.logger.Warn("place order failed", "level", lvl.Index, "side", side, "error", err)
		} else {
			c.logger.Warn("place order rejected", "level", lvl.Index, "side", side, "code", reply.Code, "msg", reply.Message)
		}
		return
	}

	if !c.table.TryPlace(lvl.Index, side, reply.OrderID, clientOID, price, size, time.Now()) {
		// Cell was no longer Empty by the time the reply landed (the
		// reconciler must have raced in): the order is now orphaned from
		// this table's perspective and the next reconcile pass will
		// cancel it as an unrecognized order.
		c.commit.ReleaseInflight(side, price, size)
		c.logger.Warn("place race: cell no longer empty", "level", lvl.Index, "side", side, "order_id", reply.OrderID)
		return
	}
	// Inflight stays charged until the reconciler's next BeginReconcile +
	// AddLive pass rebuilds live from the authoritative order set — there
	// is no local "confirmed live" transition on the commitment tracker.
}

func (c *Controller) requestCancel(ctx context.Context, lvl types.Level, side types.Side, cell types.Cell) {
	if !c.table.TryRequestCancel(lvl.Index, side, time.Now()) {
		return
	}
	reply, err := c.trader.CancelOrder(ctx, cell.OrderID)
	if err != nil || !reply.Success {
		// Leave the cell in CancelPending: the reconciler will escalate
		// to a REST fallback if this never resolves within the cancel
		// timeout.
		if err != nil {
			c.logger.Warn("cancel request failed, awaiting reconciler", "order_id", cell.OrderID, "error", err)
		}
	}
}

// offsetFromMidBps returns how far price sits from mid, in bps, signed so
// that a bid below mid and an ask above mid both report a positive offset.
func offsetFromMidBps(mid, price decimal.Decimal, side types.Side) decimal.Decimal {
	if mid.IsZero() {
		return decimal.Zero
	}
	diff := mid.Sub(price)
	if side == types.SideSell {
		diff = price.Sub(mid)
	}
	return diff.Div(mid).Mul(decimal.NewFromInt(10000))
}
