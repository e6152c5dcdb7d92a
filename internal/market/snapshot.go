// Package market derives fair-value mid, order-flow imbalance, volatility,
// and momentum from a public reference feed, and implements the feed's
// transport.
//
// The volatility annualization is deliberately corrected relative to the
// naive version that assumes a fixed one-second sample interval: the
// observed inter-sample gap is tracked via its own EWMA (0.9/0.1 smoothing)
// and used to scale the variance EWMA to an annualized figure, so the
// estimate stays correct however often (or irregularly) the feed updates.
package market

import (
	"container/list"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ladder-mm/internal/config"
	"ladder-mm/pkg/types"
)

const msPerDay = 86_400_000.0
const daysPerYear = 365.0

type pricePoint struct {
	at  time.Time
	mid float64
}

// State holds the derived market-data signals, updated by the reference
// feed and read by the quoting controller once per tick.
type State struct {
	mu sync.Mutex

	lambda           float64
	sigmaFloor       float64
	momentumWindow   time.Duration

	lastMid          float64
	ewmaVar          float64
	updateIntervalMs float64
	lastSampleAt     time.Time

	history *list.List // of pricePoint, oldest first, pruned to momentumWindow

	ofi float64

	updatedAt time.Time
}

// NewState builds a State tuned from strategy config.
func NewState(cfg config.StrategyConfig) *State {
	return &State{
		lambda:         cfg.VolEWMALambda,
		sigmaFloor:     cfg.SigmaFloor,
		momentumWindow: cfg.MomentumWindow,
		history:        list.New(),
	}
}

// UpdateMid feeds a new mid-price sample at time now.
func (s *State) UpdateMid(mid decimal.Decimal, now time.Time) {
	m, _ := mid.Float64()
	if m <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastMid > 0 && !s.lastSampleAt.IsZero() {
		ret := math.Log(m / s.lastMid)
		s.ewmaVar = s.lambda*s.ewmaVar + (1-s.lambda)*ret*ret

		dtMs := float64(now.Sub(s.lastSampleAt).Milliseconds())
		if dtMs > 0 {
			if s.updateIntervalMs == 0 {
				s.updateIntervalMs = dtMs
			} else {
				s.updateIntervalMs = 0.9*s.updateIntervalMs + 0.1*dtMs
			}
		}
	}
	s.lastMid = m
	s.lastSampleAt = now

	s.history.PushBack(pricePoint{at: now, mid: m})
	s.pruneLocked(now)

	s.updatedAt = now
}

// UpdateOFI sets the latest depth-weighted order-flow-imbalance reading,
// already normalized to [-1, 1] by the feed.
func (s *State) UpdateOFI(ofi float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ofi = ofi
	s.updatedAt = now
}

func (s *State) pruneLocked(now time.Time) {
	for e := s.history.Front(); e != nil; {
		next := e.Next()
		pp := e.Value.(pricePoint)
		if now.Sub(pp.at) > s.momentumWindow {
			s.history.Remove(e)
		} else {
			break
		}
		e = next
	}
}

// sigmaLocked returns the annualized volatility, floored.
func (s *State) sigmaLocked() float64 {
	if s.updateIntervalMs <= 0 {
		return s.sigmaFloor
	}
	annualizationFactor := (msPerDay / s.updateIntervalMs) * daysPerYear
	sigma := math.Sqrt(s.ewmaVar * annualizationFactor)
	if sigma < s.sigmaFloor {
		return s.sigmaFloor
	}
	return sigma
}

// momentumLocked returns the fractional price change from the oldest
// sample still within the momentum window to the latest sample.
func (s *State) momentumLocked() float64 {
	if s.history.Len() == 0 {
		return 0
	}
	oldest := s.history.Front().Value.(pricePoint)
	if oldest.mid <= 0 || s.lastMid <= 0 {
		return 0
	}
	return (s.lastMid - oldest.mid) / oldest.mid
}

// Snapshot returns a read-only copy of the current derived state.
func (s *State) Snapshot() types.MarketSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	mid := decimal.NewFromFloat(s.lastMid)
	return types.MarketSnapshot{
		Mid:       mid,
		OFI:       s.ofi,
		Sigma:     s.sigmaLocked(),
		Momentum:  s.momentumLocked(),
		UpdatedAt: s.updatedAt,
	}
}
