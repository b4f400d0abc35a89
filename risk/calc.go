package risk

import (
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/riskexec/market"
)

// PlannedRisk is the loss on qty shares if the stop is hit.
func PlannedRisk(qty int64, entry, stop decimal.Decimal) decimal.Decimal {
	return entry.Sub(stop).Abs().Mul(decimal.NewFromInt(qty))
}

// RR is the reward to risk ratio, or zero when the stop equals the entry.
func RR(entry, stop, target decimal.Decimal) decimal.Decimal {
	r := entry.Sub(stop).Abs()
	if r.IsZero() {
		return decimal.Zero
	}
	return target.Sub(entry).Abs().Div(r)
}

// PnL is the realized profit of closing qty shares (signed, positive long)
// opened at entry and closed at exit.
func PnL(qty int64, entry, exit decimal.Decimal) decimal.Decimal {
	return exit.Sub(entry).Mul(decimal.NewFromInt(qty))
}

// PnLPct expresses pnl as percent points of base.
func PnLPct(pnl, base decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}
	return pnl.Div(base).Mul(hundred)
}

// Unrealized marks a position at the side of the book it would close on.
func Unrealized(qty int64, entry decimal.Decimal, t market.Tick) decimal.Decimal {
	return PnL(qty, entry, t.Mark(qty))
}
