// commitment.go implements the two-layer balance commitment tracker: an
// "inflight" layer for capital reserved the instant a place request is
// sent (before any exchange acknowledgement), and a "live" layer for
// capital backing orders the reconciler has confirmed resting. Available
// balance for a new placement is always balance minus both layers minus a
// safety buffer — checking only the live layer would let the quoting
// controller race ahead of acknowledgement latency and over-commit
// balance the exchange hasn't confirmed is actually reserved yet.
package ladder

import (
	"sync"

	"github.com/shopspring/decimal"

	"ladder-mm/pkg/types"
)

// Commitment tracks inflight and live capital commitment in both legs of
// the traded pair.
type Commitment struct {
	mu sync.Mutex

	inflightBase  decimal.Decimal
	inflightQuote decimal.Decimal
	liveBase      decimal.Decimal
	liveQuote     decimal.Decimal
}

// NewCommitment creates an empty tracker.
func NewCommitment() *Commitment {
	return &Commitment{}
}

// legCost returns how much of which currency an order of this side/price/
// size commits: a buy commits quote currency (price*size), a sell commits
// base currency (size).
func legCost(side types.Side, price, size decimal.Decimal) (base, quote decimal.Decimal) {
	if side == types.SideBuy {
		return decimal.Zero, price.Mul(size)
	}
	return size, decimal.Zero
}

// ReserveInflight records capital reserved the instant a place request is
// sent, before any exchange acknowledgement.
func (c *Commitment) ReserveInflight(side types.Side, price, size decimal.Decimal) {
	base, quote := legCost(side, price, size)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflightBase = c.inflightBase.Add(base)
	c.inflightQuote = c.inflightQuote.Add(quote)
}

// BeginReconcile zeros both commitment layers at the start of a
// reconciliation pass. The reconciler then rebuilds live by calling
// AddLive once per cell still confirmed resting against the authoritative
// order set, and lets inflight start accumulating fresh from whatever the
// controller places after this boundary. This is the periodic correction
// that keeps the tracker converged on truth even if a controller-side ack
// was dropped or raced — incremental per-cell patches alone could drift
// forever without it.
func (c *Commitment) BeginReconcile() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflightBase = decimal.Zero
	c.inflightQuote = decimal.Zero
	c.liveBase = decimal.Zero
	c.liveQuote = decimal.Zero
}

// AddLive adds to the live layer during a reconciliation rebuild, for each
// cell the authoritative active-order list still confirms resting.
func (c *Commitment) AddLive(side types.Side, price, size decimal.Decimal) {
	base, quote := legCost(side, price, size)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.liveBase = c.liveBase.Add(base)
	c.liveQuote = c.liveQuote.Add(quote)
}

// ReleaseInflight releases reserved capital without ever confirming it
// live — the quoting controller calls it when a placement failed or was
// rejected, or when the cell was no longer Empty once the reply landed.
func (c *Commitment) ReleaseInflight(side types.Side, price, size decimal.Decimal) {
	base, quote := legCost(side, price, size)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflightBase = clampNonNegative(c.inflightBase.Sub(base))
	c.inflightQuote = clampNonNegative(c.inflightQuote.Sub(quote))
}

// AvailableQuote returns the quote-currency headroom for a new buy:
// balance available minus everything already committed minus a safety
// buffer (a percentage of total balance, held back against slippage and
// reconciliation lag).
func (c *Commitment) AvailableQuote(bal types.Balances, safetyBufferPct float64) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	buffer := bal.QuoteTotal.Mul(decimal.NewFromFloat(safetyBufferPct))
	return clampNonNegative(bal.QuoteAvailable.Sub(c.inflightQuote).Sub(c.liveQuote).Sub(buffer))
}

// AvailableBase returns the base-currency headroom for a new sell.
func (c *Commitment) AvailableBase(bal types.Balances, safetyBufferPct float64) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	buffer := bal.BaseTotal.Mul(decimal.NewFromFloat(safetyBufferPct))
	return clampNonNegative(bal.BaseAvailable.Sub(c.inflightBase).Sub(c.liveBase).Sub(buffer))
}

// Snapshot returns a read-only copy of both layers.
func (c *Commitment) Snapshot() types.CommitmentSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.CommitmentSnapshot{
		InflightBase:  c.inflightBase,
		InflightQuote: c.inflightQuote,
		LiveBase:      c.liveBase,
		LiveQuote:     c.liveQuote,
	}
}

func clampNonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
