package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordTrade(ctx context.Context, t TradeRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO trades
		(trade_id, symbol, side, quantity, entry_price, exit_price, open_time, close_time, realized_pnl, strategy, mode, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.Symbol, t.Side, t.Quantity, t.EntryPrice.String(),
		t.ExitPrice.String(), t.OpenTime.UTC(), t.CloseTime.UTC(), t.RealizedPnL.String(),
		t.Strategy, t.Mode, t.Reason,
	)
	if err != nil {
		return fmt.Errorf("journal: record trade %s: %w", t.TradeID, err)
	}
	return nil
}

func (j *SQLite) RecordEquity(ctx context.Context, e EquitySnapshot) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO equity (time, day, equity, realized_pnl)
		VALUES (?, ?, ?, ?)`,
		e.Time.UTC(), e.Day, e.Equity.String(), e.RealizedPnL.String(),
	)
	if err != nil {
		return fmt.Errorf("journal: record equity: %w", err)
	}
	return nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
