package risk

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/riskexec/market"
)

type Violation struct {
	Code string
	Msg  string
}

// Decision is the outcome of a risk gate. A denial is an ordinary result,
// never an error.
type Decision struct {
	Allowed    bool
	Violations []Violation
}

func Allow() Decision {
	return Decision{Allowed: true}
}

func Deny(code, msg string) Decision {
	var d Decision
	d.add(code, msg)
	return d
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Reason joins the violation messages for display.
func (d Decision) Reason() string {
	msgs := make([]string, len(d.Violations))
	for i, v := range d.Violations {
		msgs[i] = v.Msg
	}
	return strings.Join(msgs, "; ")
}

const (
	CodeCircuitBreaker   = "CIRCUIT_BREAKER"
	CodeProfitProtection = "PROFIT_PROTECTION"
)

// TradeIntent is the shape of a proposed entry.
type TradeIntent struct {
	Symbol string
	Side   market.Side
	Entry  decimal.Decimal
	Stop   decimal.Decimal
	Target decimal.Decimal
}

// CheckIntent reports every structural problem with the intent. Stops and
// targets must sit on the correct side of the entry.
func CheckIntent(in TradeIntent) []Violation {
	var v []Violation
	add := func(code, format string, args ...any) {
		v = append(v, Violation{Code: code, Msg: fmt.Sprintf(format, args...)})
	}

	if in.Symbol == "" {
		add("NO_SYMBOL", "symbol is required")
	}
	if !in.Side.Valid() {
		add("BAD_SIDE", "side %q is not Buy or Sell", in.Side)
	}
	if !in.Entry.IsPositive() || !in.Stop.IsPositive() {
		add("NO_STOP_OR_ENTRY", "entry/stop must be positive")
		return v
	}
	if in.Entry.Equal(in.Stop) {
		add("STOP_AT_ENTRY", "stop loss equals entry price")
		return v
	}

	switch in.Side {
	case market.Buy:
		if in.Stop.GreaterThan(in.Entry) {
			add("STOP_WRONG_SIDE", "long stop %s above entry %s", in.Stop, in.Entry)
		}
		if in.Target.IsPositive() && in.Target.LessThanOrEqual(in.Entry) {
			add("TARGET_WRONG_SIDE", "long target %s not above entry %s", in.Target, in.Entry)
		}
	case market.Sell:
		if in.Stop.LessThan(in.Entry) {
			add("STOP_WRONG_SIDE", "short stop %s below entry %s", in.Stop, in.Entry)
		}
		if in.Target.IsPositive() && in.Target.GreaterThanOrEqual(in.Entry) {
			add("TARGET_WRONG_SIDE", "short target %s not below entry %s", in.Target, in.Entry)
		}
	}
	return v
}
