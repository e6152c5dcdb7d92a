package statusapi

import (
	"time"

	"ladder-mm/pkg/types"
)

// Snapshot is the JSON shape served at /api/snapshot.
type Snapshot struct {
	Symbol      string                   `json:"symbol"`
	DryRun      bool                     `json:"dry_run"`
	AsOf        time.Time                `json:"as_of"`
	Market      types.MarketSnapshot     `json:"market"`
	PnL         types.PnLSnapshot        `json:"pnl"`
	Commitment  types.CommitmentSnapshot `json:"commitment"`
	Cells       []types.Cell             `json:"cells"`
	Balances    types.Balances           `json:"balances"`
	GuardPaused bool                     `json:"guard_paused"`
}
