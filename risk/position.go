package risk

import (
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/riskexec/errs"
)

// Sizing is the breakdown behind a quantity.
type Sizing struct {
	Quantity     int64
	RiskAmount   decimal.Decimal
	PerShareRisk decimal.Decimal
	RawQty       int64
	MaxQty       int64
}

// Size returns the share quantity that risks at most riskPct of equity if
// the stop is hit, clamped so the notional never exceeds maxPositionPct of
// equity. A stop equal to the entry is a validation error with quantity 0.
func Size(equity, entry, stop, riskPct, maxPositionPct decimal.Decimal) (int64, error) {
	s, err := Calculate(equity, entry, stop, riskPct, maxPositionPct)
	return s.Quantity, err
}

func Calculate(equity, entry, stop, riskPct, maxPositionPct decimal.Decimal) (Sizing, error) {
	const op = "size"

	if !equity.IsPositive() {
		return Sizing{}, errs.Validation(op, "account equity must be positive, got %s", equity)
	}
	if !entry.IsPositive() || !stop.IsPositive() {
		return Sizing{}, errs.Validation(op, "entry and stop must be positive")
	}
	if riskPct.IsNegative() || maxPositionPct.IsNegative() {
		return Sizing{}, errs.Validation(op, "risk percentages must not be negative")
	}

	perShare := entry.Sub(stop).Abs()
	if perShare.IsZero() {
		return Sizing{}, errs.Validation(op, "stop loss %s equals entry price", stop)
	}

	riskAmt := equity.Mul(riskPct)
	raw := riskAmt.Div(perShare).Floor().IntPart()
	maxQty := equity.Mul(maxPositionPct).Div(entry).Floor().IntPart()

	qty := raw
	if maxQty < qty {
		qty = maxQty
	}
	if qty < 0 {
		qty = 0
	}

	return Sizing{
		Quantity:     qty,
		RiskAmount:   riskAmt,
		PerShareRisk: perShare,
		RawQty:       raw,
		MaxQty:       maxQty,
	}, nil
}

// ApplyMultiplier scales a quantity, rounding down.
func ApplyMultiplier(qty int64, m decimal.Decimal) int64 {
	if qty <= 0 {
		return 0
	}
	return decimal.NewFromInt(qty).Mul(m).Floor().IntPart()
}
