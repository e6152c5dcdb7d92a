package reconciler

import (
	"log/slog"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ladder-mm/internal/config"
	"ladder-mm/internal/exchange"
	"ladder-mm/internal/ladder"
	"ladder-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestReconciler builds a Reconciler backed by a dry-run client, so the
// REST-fallback cancel paths are exercised without any network dependency.
func newTestReconciler(t *testing.T) (*Reconciler, *ladder.Table, *ladder.Commitment) {
	t.Helper()
	cfg := config.Config{
		DryRun: true,
		Symbol: "SOL-USDT",
		Credentials: config.CredentialsConfig{
			ApiKey: "key", ApiSecret: "secret", Passphrase: "pass",
		},
		API: config.APIConfig{RESTBaseURL: "https://example.invalid"},
	}
	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	client := exchange.NewClient(cfg, auth, testLogger())

	levels := []types.Level{
		{Index: 0, OffsetBps: decimal.NewFromFloat(5), RefreshBps: decimal.NewFromFloat(3)},
	}
	table := ladder.NewTable(levels)
	commit := ladder.NewCommitment()

	rcfg := config.ReconcilerConfig{
		PollInterval:      time.Second,
		CancelTimeout:     5 * time.Second,
		MaxCancelAttempts: 3,
		OrphanCancelCap:   1,
		RecentCancelTTL:   10 * time.Second,
	}
	r := New(client, table, commit, rcfg, "SOL", "USDT", testLogger())
	return r, table, commit
}

func TestResolveLiveCellAbsentEmpties(t *testing.T) {
	r, table, _ := newTestReconciler(t)
	now := time.Now()
	table.TryPlace(0, types.SideBuy, "order-1", "cloid-1", decimal.NewFromFloat(100), decimal.NewFromFloat(2), now)

	r.resolveLiveCell(table.Get(0, types.SideBuy), types.ActiveOrder{}, false, now)

	cell := table.Get(0, types.SideBuy)
	if cell.State != types.CellEmpty {
		t.Errorf("state = %v, want CellEmpty", cell.State)
	}
}

func TestResolveLiveCellPresentRebuildsLiveCommitment(t *testing.T) {
	r, table, commit := newTestReconciler(t)
	now := time.Now()
	table.TryPlace(0, types.SideBuy, "order-1", "cloid-1", decimal.NewFromFloat(100), decimal.NewFromFloat(2), now)

	order := types.ActiveOrder{OrderID: "order-1", Status: types.OrderOpen, FilledSize: decimal.Zero}
	r.resolveLiveCell(table.Get(0, types.SideBuy), order, true, now)

	snap := commit.Snapshot()
	want := decimal.NewFromFloat(200) // 2 * 100
	if !snap.LiveQuote.Equal(want) {
		t.Errorf("LiveQuote = %v, want %v (rebuilt from the still-present order)", snap.LiveQuote, want)
	}
}

func TestResolveLiveCellFilledStatusEmpties(t *testing.T) {
	r, table, _ := newTestReconciler(t)
	now := time.Now()
	table.TryPlace(0, types.SideBuy, "order-1", "cloid-1", decimal.NewFromFloat(100), decimal.NewFromFloat(2), now)

	order := types.ActiveOrder{OrderID: "order-1", Status: types.OrderFilled}
	r.resolveLiveCell(table.Get(0, types.SideBuy), order, true, now)

	if table.Get(0, types.SideBuy).State != types.CellEmpty {
		t.Error("expected cell to empty on OrderFilled status")
	}
}

func TestResolveLiveCellPartialFillObserved(t *testing.T) {
	r, table, _ := newTestReconciler(t)
	now := time.Now()
	table.TryPlace(0, types.SideBuy, "order-1", "cloid-1", decimal.NewFromFloat(100), decimal.NewFromFloat(2), now)

	order := types.ActiveOrder{OrderID: "order-1", Status: types.OrderPartialFill, FilledSize: decimal.NewFromFloat(1)}
	r.resolveLiveCell(table.Get(0, types.SideBuy), order, true, now)

	cell := table.Get(0, types.SideBuy)
	if cell.State != types.CellLive {
		t.Errorf("expected cell to remain Live on a partial fill, got %v", cell.State)
	}
	if !cell.Filled.Equal(decimal.NewFromFloat(1)) {
		t.Errorf("Filled = %v, want 1", cell.Filled)
	}
}

func TestResolveCancelPendingCellEscalatesOnTimeout(t *testing.T) {
	r, table, _ := newTestReconciler(t)
	placedAt := time.Now().Add(-time.Minute)
	table.TryPlace(0, types.SideBuy, "order-1", "cloid-1", decimal.NewFromFloat(100), decimal.NewFromFloat(2), placedAt)
	table.TryRequestCancel(0, types.SideBuy, placedAt) // CancelSentAt far in the past

	r.resolveCancelPendingCell(table.Get(0, types.SideBuy), true, time.Now())

	if table.Get(0, types.SideBuy).State != types.CellCancelStuck {
		t.Error("expected escalation to CellCancelStuck after exceeding cancel timeout")
	}
}

func TestResolveCancelPendingCellNoEscalationBeforeTimeout(t *testing.T) {
	r, table, _ := newTestReconciler(t)
	now := time.Now()
	table.TryPlace(0, types.SideBuy, "order-1", "cloid-1", decimal.NewFromFloat(100), decimal.NewFromFloat(2), now)
	table.TryRequestCancel(0, types.SideBuy, now)

	r.resolveCancelPendingCell(table.Get(0, types.SideBuy), true, now)

	if table.Get(0, types.SideBuy).State != types.CellCancelPending {
		t.Error("expected cell to remain CancelPending before the timeout elapses")
	}
}

func TestResolveCancelStuckCellAbsentEmpties(t *testing.T) {
	r, table, _ := newTestReconciler(t)
	now := time.Now()
	table.TryPlace(0, types.SideBuy, "order-1", "cloid-1", decimal.NewFromFloat(100), decimal.NewFromFloat(2), now)
	table.TryRequestCancel(0, types.SideBuy, now)
	table.MarkCancelStuck(0, types.SideBuy)

	r.resolveCancelStuckCell(table.Get(0, types.SideBuy), false, now)

	if table.Get(0, types.SideBuy).State != types.CellEmpty {
		t.Error("expected cell to empty once the order is absent from the truth set")
	}
}

func TestSweepOrphansRespectsCapAndTTL(t *testing.T) {
	r, _, _ := newTestReconciler(t)
	now := time.Now()

	truth := map[string]types.ActiveOrder{
		"ghost-1": {OrderID: "ghost-1", Side: types.SideBuy, Price: decimal.NewFromFloat(100)},
		"ghost-2": {OrderID: "ghost-2", Side: types.SideSell, Price: decimal.NewFromFloat(110)},
	}

	r.sweepOrphans(nil, truth, now) // cap is 1, so only one gets cancelled this pass

	if !r.recent.Contains("ghost-1", now) && !r.recent.Contains("ghost-2", now) {
		t.Error("expected exactly one orphan to be marked recently-cancelled")
	}
	marked := 0
	if r.recent.Contains("ghost-1", now) {
		marked++
	}
	if r.recent.Contains("ghost-2", now) {
		marked++
	}
	if marked != 1 {
		t.Errorf("marked %d orphans, want exactly 1 (orphan_cancel_cap)", marked)
	}
}
