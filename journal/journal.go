// Package journal persists closed trades, equity snapshots and the risk
// state to SQLite.
package journal

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is one round trip from the opening fill to flat.
type TradeRecord struct {
	TradeID     string
	Symbol      string
	Side        string
	Quantity    int64
	EntryPrice  decimal.Decimal
	ExitPrice   decimal.Decimal
	OpenTime    time.Time
	CloseTime   time.Time
	RealizedPnL decimal.Decimal
	Strategy    string
	Mode        string
	Reason      string
}

type EquitySnapshot struct {
	Time        time.Time
	Day         string
	Equity      decimal.Decimal
	RealizedPnL decimal.Decimal
}

type Journal interface {
	RecordTrade(ctx context.Context, t TradeRecord) error
	RecordEquity(ctx context.Context, e EquitySnapshot) error
	Close() error
}
