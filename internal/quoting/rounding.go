package quoting

import (
	"github.com/shopspring/decimal"

	"ladder-mm/pkg/types"
)

// roundToTick rounds a price to the nearest tick, rounding bids down and
// asks up so a rounded quote never crosses through the unrounded target
// (a bid rounded up, or an ask rounded down, could cross the spread it was
// meant to sit behind).
func roundToTick(price, tickSize decimal.Decimal, side types.Side) decimal.Decimal {
	if tickSize.IsZero() {
		return price
	}
	units := price.Div(tickSize)
	if side == types.SideBuy {
		units = units.Floor()
	} else {
		units = units.Ceil()
	}
	return units.Mul(tickSize)
}

// roundSizeDown rounds a size down to the nearest size step — never round
// up, or a placed order could demand more balance than was reserved.
func roundSizeDown(size, sizeStep decimal.Decimal) decimal.Decimal {
	if sizeStep.IsZero() {
		return size
	}
	units := size.Div(sizeStep).Floor()
	return units.Mul(sizeStep)
}

// maxDecimal returns the larger of two decimals.
func maxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
