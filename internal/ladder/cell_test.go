package ladder

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ladder-mm/pkg/types"
)

func testLevels() []types.Level {
	return []types.Level{
		{Index: 0, OffsetBps: decimal.NewFromFloat(5), RefreshBps: decimal.NewFromFloat(3)},
		{Index: 1, OffsetBps: decimal.NewFromFloat(10), RefreshBps: decimal.NewFromFloat(5)},
	}
}

func TestNewTableStartsAllEmpty(t *testing.T) {
	table := NewTable(testLevels())
	for _, c := range table.All() {
		if c.State != types.CellEmpty {
			t.Errorf("cell (level=%d side=%s) = %v, want CellEmpty", c.Level, c.Side, c.State)
		}
	}
}

func TestTryPlaceOnlyFromEmpty(t *testing.T) {
	table := NewTable(testLevels())
	now := time.Now()

	if !table.TryPlace(0, types.SideBuy, "order-1", "cloid-1", decimal.NewFromFloat(100), decimal.NewFromFloat(1), now) {
		t.Fatal("expected TryPlace to succeed from Empty")
	}
	cell := table.Get(0, types.SideBuy)
	if cell.State != types.CellLive || cell.OrderID != "order-1" {
		t.Errorf("cell after place = %+v", cell)
	}

	// Second TryPlace on the same already-Live cell must fail — this is the
	// no-double-placement invariant: a cell accepts at most one Empty→Live
	// transition before a reconciler pass returns it to Empty.
	if table.TryPlace(0, types.SideBuy, "order-2", "cloid-2", decimal.NewFromFloat(101), decimal.NewFromFloat(1), now) {
		t.Fatal("expected TryPlace to fail from Live")
	}
	cell = table.Get(0, types.SideBuy)
	if cell.OrderID != "order-1" {
		t.Errorf("second TryPlace must not have mutated the cell, got order id %q", cell.OrderID)
	}
}

func TestTryRequestCancelOnlyFromLive(t *testing.T) {
	table := NewTable(testLevels())
	now := time.Now()

	if table.TryRequestCancel(0, types.SideBuy, now) {
		t.Fatal("expected TryRequestCancel to fail from Empty")
	}

	table.TryPlace(0, types.SideBuy, "order-1", "cloid-1", decimal.NewFromFloat(100), decimal.NewFromFloat(1), now)
	if !table.TryRequestCancel(0, types.SideBuy, now) {
		t.Fatal("expected TryRequestCancel to succeed from Live")
	}
	cell := table.Get(0, types.SideBuy)
	if cell.State != types.CellCancelPending || cell.CancelAttempts != 1 {
		t.Errorf("cell after cancel request = %+v", cell)
	}

	if table.TryRequestCancel(0, types.SideBuy, now) {
		t.Fatal("expected TryRequestCancel to fail from CancelPending")
	}
}

func TestMarkEmptyResetsAndClearsIndex(t *testing.T) {
	table := NewTable(testLevels())
	now := time.Now()
	table.TryPlace(0, types.SideBuy, "order-1", "cloid-1", decimal.NewFromFloat(100), decimal.NewFromFloat(1), now)

	if _, _, ok := table.CellForOrder("order-1"); !ok {
		t.Fatal("expected order-1 to be indexed before MarkEmpty")
	}

	table.MarkEmpty(0, types.SideBuy)

	cell := table.Get(0, types.SideBuy)
	if cell.State != types.CellEmpty || cell.OrderID != "" {
		t.Errorf("cell after MarkEmpty = %+v, want zero-valued Empty cell", cell)
	}
	if _, _, ok := table.CellForOrder("order-1"); ok {
		t.Error("expected order-1 to be removed from the order index after MarkEmpty")
	}
}

func TestMarkCancelStuckOnlyFromCancelPending(t *testing.T) {
	table := NewTable(testLevels())
	now := time.Now()

	if table.MarkCancelStuck(0, types.SideBuy) {
		t.Fatal("expected MarkCancelStuck to fail from Empty")
	}

	table.TryPlace(0, types.SideBuy, "order-1", "cloid-1", decimal.NewFromFloat(100), decimal.NewFromFloat(1), now)
	if table.MarkCancelStuck(0, types.SideBuy) {
		t.Fatal("expected MarkCancelStuck to fail from Live")
	}

	table.TryRequestCancel(0, types.SideBuy, now)
	if !table.MarkCancelStuck(0, types.SideBuy) {
		t.Fatal("expected MarkCancelStuck to succeed from CancelPending")
	}
	if table.Get(0, types.SideBuy).State != types.CellCancelStuck {
		t.Error("expected state CellCancelStuck")
	}
}

func TestWorkingOrderIDs(t *testing.T) {
	table := NewTable(testLevels())
	now := time.Now()

	table.TryPlace(0, types.SideBuy, "order-1", "cloid-1", decimal.NewFromFloat(100), decimal.NewFromFloat(1), now)
	table.TryPlace(1, types.SideSell, "order-2", "cloid-2", decimal.NewFromFloat(110), decimal.NewFromFloat(1), now)

	working := table.WorkingOrderIDs()
	if len(working) != 2 {
		t.Fatalf("expected 2 working orders, got %d", len(working))
	}
	if _, ok := working["order-1"]; !ok {
		t.Error("expected order-1 to be working")
	}
	if _, ok := working["order-2"]; !ok {
		t.Error("expected order-2 to be working")
	}

	table.MarkEmpty(0, types.SideBuy)
	working = table.WorkingOrderIDs()
	if len(working) != 1 {
		t.Fatalf("expected 1 working order after MarkEmpty, got %d", len(working))
	}
}

func TestObserveFillDoesNotChangeState(t *testing.T) {
	table := NewTable(testLevels())
	now := time.Now()
	table.TryPlace(0, types.SideBuy, "order-1", "cloid-1", decimal.NewFromFloat(100), decimal.NewFromFloat(2), now)

	table.ObserveFill(0, types.SideBuy, decimal.NewFromFloat(1))

	cell := table.Get(0, types.SideBuy)
	if cell.State != types.CellLive {
		t.Errorf("expected state to remain Live after a partial fill, got %v", cell.State)
	}
	if !cell.Filled.Equal(decimal.NewFromFloat(1)) {
		t.Errorf("expected Filled = 1, got %v", cell.Filled)
	}
}
