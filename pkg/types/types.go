// Package types holds the shared vocabulary used across the market-making
// engine: sides, order lifecycle state, ladder cells, and the snapshots
// passed between components.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ——————————————————————————————————————————————————————————————————————————
// Sides
// ——————————————————————————————————————————————————————————————————————————

// Side is which side of the book an order rests on.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ——————————————————————————————————————————————————————————————————————————
// Cell state machine
// ——————————————————————————————————————————————————————————————————————————

// CellState is the lifecycle state of a single (level, side) slot in the
// ladder. Transitions are restricted to the table in the quoting controller
// and the reconciler — see internal/ladder.
type CellState int

const (
	// CellEmpty: no order resting, none in flight.
	CellEmpty CellState = iota
	// CellLive: an order is resting on the exchange (as last observed).
	CellLive
	// CellCancelPending: a cancel request has been sent, no terminal
	// confirmation observed yet.
	CellCancelPending
	// CellCancelStuck: a cancel has been pending longer than the
	// reconciler's cancel timeout; escalated to REST fallback.
	CellCancelStuck
)

func (s CellState) String() string {
	switch s {
	case CellEmpty:
		return "empty"
	case CellLive:
		return "live"
	case CellCancelPending:
		return "cancel_pending"
	case CellCancelStuck:
		return "cancel_stuck"
	default:
		return "unknown"
	}
}

// Level describes one rung of the ladder: the offset (in basis points from
// mid) at which an order is quoted, and the offset beyond which it is
// considered stale and refreshed.
type Level struct {
	Index      int
	OffsetBps  decimal.Decimal
	RefreshBps decimal.Decimal
}

// Cell is the full tracked state of one (level, side) slot.
type Cell struct {
	Level          int
	Side           Side
	State          CellState
	OrderID        string
	ClientOID      string
	Price          decimal.Decimal
	Size           decimal.Decimal
	Filled         decimal.Decimal
	PlacedAt       time.Time
	CancelSentAt   time.Time
	CancelAttempts int
}

// IsWorking reports whether the cell currently represents committed
// capital (an order resting, or a cancel in flight that might not land).
func (c Cell) IsWorking() bool {
	return c.State == CellLive || c.State == CellCancelPending || c.State == CellCancelStuck
}

// ——————————————————————————————————————————————————————————————————————————
// Orders, fills, exchange state
// ——————————————————————————————————————————————————————————————————————————

// OrderStatus mirrors the exchange's lifecycle vocabulary for an order.
type OrderStatus string

const (
	OrderOpen        OrderStatus = "open"
	OrderPartialFill OrderStatus = "partial_fill"
	OrderFilled      OrderStatus = "filled"
	OrderCancelled   OrderStatus = "cancelled"
	OrderUnknown     OrderStatus = "unknown"
)

// ActiveOrder is one order as reported by the exchange's authoritative
// active-orders endpoint, used by the reconciler to build the truth set.
type ActiveOrder struct {
	OrderID    string
	ClientOID  string
	Symbol     string
	Side       Side
	Price      decimal.Decimal
	Size       decimal.Decimal
	FilledSize decimal.Decimal
	Status     OrderStatus
	CreatedAt  time.Time
}

// Fill is a single execution report.
type Fill struct {
	OrderID     string
	ClientOID   string
	TradeID     string
	Side        Side
	Price       decimal.Decimal
	Size        decimal.Decimal
	Fee         decimal.Decimal
	FeeCurrency string
	Timestamp   time.Time
}

// IsRebate reports whether the fee on this fill was a maker rebate (a
// non-positive fee) rather than a taker fee.
func (f Fill) IsRebate() bool {
	return !f.Fee.IsPositive()
}

// Balances is the account's available/total balance in each currency of the
// traded pair.
type Balances struct {
	BaseAvailable  decimal.Decimal
	BaseTotal      decimal.Decimal
	QuoteAvailable decimal.Decimal
	QuoteTotal     decimal.Decimal
	AsOf           time.Time
}

// ——————————————————————————————————————————————————————————————————————————
// Market data
// ——————————————————————————————————————————————————————————————————————————

// BookTicker is a best-bid/best-ask snapshot from the reference feed.
type BookTicker struct {
	BestBid decimal.Decimal
	BestAsk decimal.Decimal
	Time    time.Time
}

// DepthLevel is one (price, size) rung of a partial depth snapshot.
type DepthLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// DepthSnapshot is a shallow partial order book used to compute order-flow
// imbalance (OFI).
type DepthSnapshot struct {
	Bids []DepthLevel
	Asks []DepthLevel
	Time time.Time
}

// MarketSnapshot is the derived state the quoting controller reads each
// tick: fair-value mid, order-flow imbalance, volatility, and momentum.
type MarketSnapshot struct {
	Mid       decimal.Decimal
	OFI       float64
	Sigma     float64
	Momentum  float64
	UpdatedAt time.Time
}

// IsStale reports whether the snapshot is older than maxAge as of now.
func (m MarketSnapshot) IsStale(now time.Time, maxAge time.Duration) bool {
	if m.UpdatedAt.IsZero() {
		return true
	}
	return now.Sub(m.UpdatedAt) > maxAge
}

// ——————————————————————————————————————————————————————————————————————————
// P&L
// ——————————————————————————————————————————————————————————————————————————

// PnLSnapshot is a point-in-time read of the realized accounting state.
type PnLSnapshot struct {
	Inventory    decimal.Decimal
	SpreadPnL    decimal.Decimal
	Rebates      decimal.Decimal
	TakerFees    decimal.Decimal
	RealizedPnL  decimal.Decimal
	Fills        uint64
	VolumeBase   decimal.Decimal
	VolumeQuote  decimal.Decimal
	Wins         uint64
	Losses       uint64
	LastFillTime time.Time
}

// ——————————————————————————————————————————————————————————————————————————
// Commitment
// ——————————————————————————————————————————————————————————————————————————

// CommitmentSnapshot is a point-in-time read of the two-layer balance
// commitment tracker (see internal/ladder.Commitment).
type CommitmentSnapshot struct {
	InflightBase  decimal.Decimal
	InflightQuote decimal.Decimal
	LiveBase      decimal.Decimal
	LiveQuote     decimal.Decimal
}
