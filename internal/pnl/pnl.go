// Package pnl implements FIFO realized profit-and-loss accounting: a fill
// on one side either opens a new tax lot on that side's queue, or walks the
// opposite side's queue front-to-back pairing off inventory until either
// the fill or the queue is exhausted. At most one of the two queues is ever
// non-empty, since a fill can only reduce the queue it opposes before it
// can start building the other one.
package pnl

import (
	"container/list"
	"sync"

	"github.com/shopspring/decimal"

	"ladder-mm/pkg/types"
)

// dustFloor is the minimum remaining lot size worth keeping; below this, a
// lot is considered fully closed and popped.
var dustFloor = decimal.NewFromFloat(0.0001)

type lot struct {
	price decimal.Decimal
	size  decimal.Decimal
}

// Book is the FIFO P&L ledger for a single symbol.
type Book struct {
	mu sync.Mutex

	longLots  *list.List // resting long lots (queue of *lot), oldest first
	shortLots *list.List // resting short lots (queue of *lot), oldest first

	spreadPnL   decimal.Decimal
	rebates     decimal.Decimal
	takerFees   decimal.Decimal
	realizedPnL decimal.Decimal

	fills       uint64
	volumeBase  decimal.Decimal
	volumeQuote decimal.Decimal
	wins        uint64
	losses      uint64
	lastFillAt  types.Fill

	seenTrades map[string]struct{}
}

// NewBook creates an empty ledger.
func NewBook() *Book {
	return &Book{
		longLots:   list.New(),
		shortLots:  list.New(),
		seenTrades: make(map[string]struct{}),
	}
}

// OnFill applies a single execution to the ledger. A fill whose TradeID
// has already been applied is ignored — the periodic REST fills poll and
// the streaming push channel both feed this method, and either may
// redeliver the same trade.
func (b *Book) OnFill(f types.Fill) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if f.TradeID != "" {
		if _, dup := b.seenTrades[f.TradeID]; dup {
			return
		}
		b.seenTrades[f.TradeID] = struct{}{}
	}

	b.fills++
	b.volumeBase = b.volumeBase.Add(f.Size)
	b.volumeQuote = b.volumeQuote.Add(f.Size.Mul(f.Price))
	b.lastFillAt = f

	if f.IsRebate() {
		b.rebates = b.rebates.Sub(f.Fee) // fee is <= 0 for a rebate
	} else {
		b.takerFees = b.takerFees.Add(f.Fee)
	}

	if f.Side == types.SideBuy {
		b.applyBuyLocked(f.Price, f.Size)
	} else {
		b.applySellLocked(f.Price, f.Size)
	}
}

// applyBuyLocked walks the short queue, realizing spread P&L on each
// matched unit, then opens a new long lot with any unmatched remainder.
func (b *Book) applyBuyLocked(price, size decimal.Decimal) {
	remaining := size

	for remaining.IsPositive() && b.shortLots.Len() > 0 {
		front := b.shortLots.Front()
		entry := front.Value.(*lot)

		closeSize := decimal.Min(remaining, entry.size)
		pnl := closeSize.Mul(entry.price.Sub(price))
		b.spreadPnL = b.spreadPnL.Add(pnl)
		b.realizedPnL = b.realizedPnL.Add(pnl)
		if pnl.IsPositive() {
			b.wins++
		} else if pnl.IsNegative() {
			b.losses++
		}

		entry.size = entry.size.Sub(closeSize)
		remaining = remaining.Sub(closeSize)

		if entry.size.LessThan(dustFloor) {
			b.shortLots.Remove(front)
		}
	}

	if remaining.GreaterThan(dustFloor) {
		b.longLots.PushBack(&lot{price: price, size: remaining})
	}
}

// applySellLocked walks the long queue, realizing spread P&L on each
// matched unit, then opens a new short lot with any unmatched remainder.
func (b *Book) applySellLocked(price, size decimal.Decimal) {
	remaining := size

	for remaining.IsPositive() && b.longLots.Len() > 0 {
		front := b.longLots.Front()
		entry := front.Value.(*lot)

		closeSize := decimal.Min(remaining, entry.size)
		pnl := closeSize.Mul(price.Sub(entry.price))
		b.spreadPnL = b.spreadPnL.Add(pnl)
		b.realizedPnL = b.realizedPnL.Add(pnl)
		if pnl.IsPositive() {
			b.wins++
		} else if pnl.IsNegative() {
			b.losses++
		}

		entry.size = entry.size.Sub(closeSize)
		remaining = remaining.Sub(closeSize)

		if entry.size.LessThan(dustFloor) {
			b.longLots.Remove(front)
		}
	}

	if remaining.GreaterThan(dustFloor) {
		b.shortLots.PushBack(&lot{price: price, size: remaining})
	}
}

// Inventory returns net position: sum of long lot sizes minus sum of short
// lot sizes (one of the two sums is always zero).
func (b *Book) Inventory() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inventoryLocked()
}

func (b *Book) inventoryLocked() decimal.Decimal {
	total := decimal.Zero
	for e := b.longLots.Front(); e != nil; e = e.Next() {
		total = total.Add(e.Value.(*lot).size)
	}
	for e := b.shortLots.Front(); e != nil; e = e.Next() {
		total = total.Sub(e.Value.(*lot).size)
	}
	return total
}

// NetRealized returns spread P&L plus rebates (the walk-forward "net"
// figure an operator cares about minute-to-minute).
func (b *Book) NetRealized() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spreadPnL.Add(b.rebates)
}

// Snapshot returns a read-only copy of the ledger's current state.
func (b *Book) Snapshot() types.PnLSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return types.PnLSnapshot{
		Inventory:    b.inventoryLocked(),
		SpreadPnL:    b.spreadPnL,
		Rebates:      b.rebates,
		TakerFees:    b.takerFees,
		RealizedPnL:  b.realizedPnL,
		Fills:        b.fills,
		VolumeBase:   b.volumeBase,
		VolumeQuote:  b.volumeQuote,
		Wins:         b.wins,
		Losses:       b.losses,
		LastFillTime: b.lastFillAt.Timestamp,
	}
}
