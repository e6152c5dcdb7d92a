// feed.go implements the public reference-feed ingestor: a duplex
// websocket client that maintains best-bid/ask mid price and a
// depth-weighted order-flow-imbalance reading, feeding both into a
// market.State. Reconnects with exponential backoff (1s to 30s), matching
// the private order stream's reconnect idiom.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"ladder-mm/internal/config"
)

const (
	feedMaxReconnectWait = 30 * time.Second
	feedReadTimeout      = 30 * time.Second
)

// ReferenceFeed connects to a public best-bid/ask + partial-depth stream
// and keeps a market.State up to date.
type ReferenceFeed struct {
	url         string
	depthDecay  float64
	depthLevels int
	state       *State
	logger      *slog.Logger
}

// NewReferenceFeed builds a feed ingestor targeting cfg.Feed.URL.
func NewReferenceFeed(cfg config.FeedConfig, state *State, logger *slog.Logger) *ReferenceFeed {
	return &ReferenceFeed{
		url:         cfg.URL,
		depthDecay:  cfg.DepthDecay,
		depthLevels: cfg.DepthLevels,
		state:       state,
		logger:      logger.With("component", "reference_feed"),
	}
}

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *ReferenceFeed) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("reference feed disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > feedMaxReconnectWait {
			backoff = feedMaxReconnectWait
		}
	}
}

func (f *ReferenceFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	f.logger.Info("reference feed connected")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.handleMessage(msg, time.Now())
	}
}

// streamEnvelope matches a combined-streams wrapper
// (wss://.../stream?streams=sym@bookTicker/sym@depth5@100ms).
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type bookTickerMsg struct {
	BestBid string `json:"b"`
	BestAsk string `json:"a"`
}

type depthLevelWire [2]string // [price, size]

type depthMsg struct {
	Bids []depthLevelWire `json:"b"`
	Asks []depthLevelWire `json:"a"`
}

func (f *ReferenceFeed) handleMessage(raw []byte, now time.Time) {
	var env streamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Data == nil {
		return
	}

	switch {
	case containsSuffix(env.Stream, "bookTicker"):
		var bt bookTickerMsg
		if err := json.Unmarshal(env.Data, &bt); err != nil {
			f.logger.Debug("unmarshal book ticker", "error", err)
			return
		}
		bid, err1 := decimal.NewFromString(bt.BestBid)
		ask, err2 := decimal.NewFromString(bt.BestAsk)
		if err1 != nil || err2 != nil {
			return
		}
		mid := bid.Add(ask).Div(decimal.NewFromInt(2))
		f.state.UpdateMid(mid, now)

	case strings.Contains(env.Stream, "@depth"):
		var d depthMsg
		if err := json.Unmarshal(env.Data, &d); err != nil {
			f.logger.Debug("unmarshal depth", "error", err)
			return
		}
		ofi := f.computeOFI(d)
		f.state.UpdateOFI(ofi, now)
	}
}

// computeOFI is the depth-weighted bid/ask imbalance: each level's size is
// weighted by exp(-decay * index), summed per side, normalized to [-1, 1].
func (f *ReferenceFeed) computeOFI(d depthMsg) float64 {
	bv := weightedVolume(d.Bids, f.depthDecay, f.depthLevels)
	av := weightedVolume(d.Asks, f.depthDecay, f.depthLevels)
	if bv+av <= 0 {
		return 0
	}
	return (bv - av) / (bv + av)
}

func weightedVolume(levels []depthLevelWire, decay float64, maxLevels int) float64 {
	total := 0.0
	n := len(levels)
	if maxLevels > 0 && maxLevels < n {
		n = maxLevels
	}
	for i := 0; i < n; i++ {
		size, err := decimal.NewFromString(levels[i][1])
		if err != nil {
			continue
		}
		sz, _ := size.Float64()
		weight := math.Exp(-decay * float64(i))
		total += sz * weight
	}
	return total
}

func containsSuffix(s, suffix string) bool {
	if len(s) < len(suffix) {
		return false
	}
	for i := 0; i < len(suffix); i++ {
		if s[len(s)-len(suffix)+i] != suffix[i] {
			return false
		}
	}
	return true
}
