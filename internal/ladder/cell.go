// Package ladder owns the per-level order ledger: a fixed table of cells
// (one per level × side), each a small state machine with exactly two
// producers — the quoting controller issues Empty→Live (place) and
// Live→CancelPending (cancel-intent) transitions; the reconciler issues
// every →Empty transition and resolves CancelPending/CancelStuck against
// the exchange's authoritative order set. No other transitions exist, and
// a cell accepts at most one transition per tick from either producer —
// both halves check the current state in the table's mutex before
// mutating, so a racing intent from either side has no effect.
package ladder

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ladder-mm/pkg/types"
)

// sideIndex maps a side to its column in the [2]Cell row: bid, then ask.
func sideIndex(side types.Side) int {
	if side == types.SideBuy {
		return 0
	}
	return 1
}

// Table is the full ladder: levels × {buy, sell}. Levels are a dense,
// small, static sequence, so the cells live in a plain slice of rows
// indexed by level, not a map.
type Table struct {
	mu        sync.Mutex
	levels    []types.Level
	cells     [][2]types.Cell
	byOrderID map[string]cellKey
}

type cellKey struct {
	level int
	side  types.Side
}

// NewTable builds an empty table for the given levels.
func NewTable(levels []types.Level) *Table {
	t := &Table{
		levels:    levels,
		cells:     make([][2]types.Cell, len(levels)),
		byOrderID: make(map[string]cellKey),
	}
	for i, lvl := range levels {
		t.cells[i][0] = types.Cell{Level: lvl.Index, Side: types.SideBuy, State: types.CellEmpty}
		t.cells[i][1] = types.Cell{Level: lvl.Index, Side: types.SideSell, State: types.CellEmpty}
	}
	return t
}

// Levels returns the configured level sequence.
func (t *Table) Levels() []types.Level {
	return t.levels
}

// Get returns a copy of the cell at (level, side).
func (t *Table) Get(level int, side types.Side) types.Cell {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cells[level][sideIndex(side)]
}

// All returns a copy of every cell, for snapshotting or iteration.
func (t *Table) All() []types.Cell {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.Cell, 0, len(t.cells)*2)
	for _, row := range t.cells {
		out = append(out, row[0], row[1])
	}
	return out
}

// TryPlace transitions Empty→Live only if the cell is currently Empty.
// Called by the quoting controller immediately after a successful Place
// request; returns false if the cell was no longer Empty (a concurrent
// reconciler transition beat it — the caller should treat the placement as
// orphaned and let the reconciler clean it up next tick).
func (t *Table) TryPlace(level int, side types.Side, orderID, clientOID string, price, size decimal.Decimal, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &t.cells[level][sideIndex(side)]
	if c.State != types.CellEmpty {
		return false
	}
	c.State = types.CellLive
	c.OrderID = orderID
	c.ClientOID = clientOID
	c.Price = price
	c.Size = size
	c.Filled = decimal.Zero
	c.PlacedAt = now
	c.CancelAttempts = 0
	if orderID != "" {
		t.byOrderID[orderID] = cellKey{level, side}
	}
	return true
}

// TryRequestCancel transitions Live→CancelPending only if the cell is
// currently Live. Called by the quoting controller's refresh/inventory
// cancel logic.
func (t *Table) TryRequestCancel(level int, side types.Side, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &t.cells[level][sideIndex(side)]
	if c.State != types.CellLive {
		return false
	}
	c.State = types.CellCancelPending
	c.CancelSentAt = now
	c.CancelAttempts++
	return true
}

// MarkEmpty transitions any state to Empty. Only the reconciler calls
// this: on observing a cancel confirmed, a fill consuming the full order,
// or an absence from the authoritative order set.
func (t *Table) MarkEmpty(level int, side types.Side) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &t.cells[level][sideIndex(side)]
	if c.OrderID != "" {
		delete(t.byOrderID, c.OrderID)
	}
	*c = types.Cell{Level: level, Side: side, State: types.CellEmpty}
}

// MarkCancelStuck transitions CancelPending→CancelStuck once the
// reconciler observes the cancel has been pending longer than the
// configured timeout.
func (t *Table) MarkCancelStuck(level int, side types.Side) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &t.cells[level][sideIndex(side)]
	if c.State != types.CellCancelPending {
		return false
	}
	c.State = types.CellCancelStuck
	return true
}

// ObserveFill updates a Live cell's filled size from an authoritative
// report, without changing state (a partial fill keeps the cell Live; a
// full fill is resolved to Empty by the reconciler's authoritative-set
// pass, since the order then leaves the active set).
func (t *Table) ObserveFill(level int, side types.Side, filled decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cells[level][sideIndex(side)].Filled = filled
}

// CellForOrder looks up which (level, side) an order ID belongs to, for
// the reconciler's truth-set walk.
func (t *Table) CellForOrder(orderID string) (level int, side types.Side, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k, ok := t.byOrderID[orderID]
	if !ok {
		return 0, "", false
	}
	return k.level, k.side, true
}

// WorkingOrderIDs returns every order ID this table currently believes is
// live or mid-cancel — the reconciler's "locally known" half of its
// two-pass ghost-order comparison.
func (t *Table) WorkingOrderIDs() map[string]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]struct{})
	for id, k := range t.byOrderID {
		c := t.cells[k.level][sideIndex(k.side)]
		if c.IsWorking() {
			out[id] = struct{}{}
		}
	}
	return out
}
