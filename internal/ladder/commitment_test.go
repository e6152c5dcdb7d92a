package ladder

import (
	"testing"

	"github.com/shopspring/decimal"

	"ladder-mm/pkg/types"
)

func TestReserveInflightSplitsByLeg(t *testing.T) {
	c := NewCommitment()
	c.ReserveInflight(types.SideBuy, decimal.NewFromFloat(100), decimal.NewFromFloat(2))
	c.ReserveInflight(types.SideSell, decimal.Zero, decimal.NewFromFloat(3))

	snap := c.Snapshot()
	if !snap.InflightQuote.Equal(decimal.NewFromFloat(200)) {
		t.Errorf("InflightQuote = %v, want 200", snap.InflightQuote)
	}
	if !snap.InflightBase.Equal(decimal.NewFromFloat(3)) {
		t.Errorf("InflightBase = %v, want 3", snap.InflightBase)
	}
}

func TestBeginReconcileZeroesBothLayers(t *testing.T) {
	c := NewCommitment()
	c.ReserveInflight(types.SideBuy, decimal.NewFromFloat(100), decimal.NewFromFloat(2))
	c.AddLive(types.SideSell, decimal.Zero, decimal.NewFromFloat(3))

	c.BeginReconcile()

	snap := c.Snapshot()
	if !snap.InflightQuote.IsZero() || !snap.InflightBase.IsZero() || !snap.LiveQuote.IsZero() || !snap.LiveBase.IsZero() {
		t.Errorf("Snapshot after BeginReconcile = %+v, want all zero", snap)
	}
}

func TestAddLiveRebuildsFromAuthoritativeOrders(t *testing.T) {
	c := NewCommitment()
	// Simulate drift: the controller's own bookkeeping thought 500 was
	// inflight, but the reconciler's rebuild is the only thing that should
	// determine live after a reconcile pass.
	c.ReserveInflight(types.SideBuy, decimal.NewFromFloat(100), decimal.NewFromFloat(5))

	c.BeginReconcile()
	c.AddLive(types.SideBuy, decimal.NewFromFloat(100), decimal.NewFromFloat(2))
	c.AddLive(types.SideSell, decimal.Zero, decimal.NewFromFloat(1))

	snap := c.Snapshot()
	if !snap.InflightQuote.IsZero() {
		t.Errorf("InflightQuote = %v, want 0 (reset at the reconcile boundary)", snap.InflightQuote)
	}
	if !snap.LiveQuote.Equal(decimal.NewFromFloat(200)) {
		t.Errorf("LiveQuote = %v, want 200 (rebuilt purely from AddLive, not the stale inflight)", snap.LiveQuote)
	}
	if !snap.LiveBase.Equal(decimal.NewFromFloat(1)) {
		t.Errorf("LiveBase = %v, want 1", snap.LiveBase)
	}
}

func TestReleaseInflightNeverGoesNegative(t *testing.T) {
	c := NewCommitment()
	price, size := decimal.NewFromFloat(100), decimal.NewFromFloat(2)
	// Release without a matching reserve — simulates a race where the
	// reconciler already cleaned up before ReleaseInflight was called.
	c.ReleaseInflight(types.SideBuy, price, size)

	snap := c.Snapshot()
	if !snap.InflightQuote.IsZero() {
		t.Errorf("InflightQuote = %v, want clamped to 0, not negative", snap.InflightQuote)
	}
}

func TestAddLiveNeverNeedsClamping(t *testing.T) {
	c := NewCommitment()
	c.AddLive(types.SideSell, decimal.Zero, decimal.NewFromFloat(5))

	snap := c.Snapshot()
	if !snap.LiveBase.Equal(decimal.NewFromFloat(5)) {
		t.Errorf("LiveBase = %v, want 5", snap.LiveBase)
	}
}

func TestAvailableQuoteSubtractsCommitmentAndBuffer(t *testing.T) {
	c := NewCommitment()
	price, size := decimal.NewFromFloat(100), decimal.NewFromFloat(1)
	c.ReserveInflight(types.SideBuy, price, size) // 100 inflight

	bal := types.Balances{
		QuoteAvailable: decimal.NewFromFloat(1000),
		QuoteTotal:     decimal.NewFromFloat(1000),
	}
	// available = 1000 - 100 (inflight) - 0 (live) - 1000*0.02 (buffer) = 880
	got := c.AvailableQuote(bal, 0.02)
	want := decimal.NewFromFloat(880)
	if !got.Equal(want) {
		t.Errorf("AvailableQuote = %v, want %v", got, want)
	}
}

func TestAvailableBaseClampsAtZero(t *testing.T) {
	c := NewCommitment()
	c.ReserveInflight(types.SideSell, decimal.Zero, decimal.NewFromFloat(10))

	bal := types.Balances{
		BaseAvailable: decimal.NewFromFloat(5),
		BaseTotal:     decimal.NewFromFloat(5),
	}
	got := c.AvailableBase(bal, 0)
	if !got.IsZero() {
		t.Errorf("AvailableBase = %v, want 0 (commitment exceeds balance)", got)
	}
}
