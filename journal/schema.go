package journal

// Money columns are TEXT so decimals round-trip exactly.
const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	entry_price TEXT NOT NULL,
	exit_price TEXT NOT NULL,
	open_time DATETIME NOT NULL,
	close_time DATETIME NOT NULL,
	realized_pnl TEXT NOT NULL,
	strategy TEXT NOT NULL,
	mode TEXT NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_close_time ON trades(close_time);

CREATE TABLE IF NOT EXISTS equity (
	time DATETIME NOT NULL,
	day TEXT NOT NULL,
	equity TEXT NOT NULL,
	realized_pnl TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);

CREATE TABLE IF NOT EXISTS risk_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	day TEXT NOT NULL,
	day_start_equity TEXT NOT NULL,
	daily_realized_pnl TEXT NOT NULL,
	daily_pnl_pct TEXT NOT NULL,
	consecutive_losses INTEGER NOT NULL,
	tripped INTEGER NOT NULL,
	trip_reason TEXT NOT NULL,
	tripped_at DATETIME,
	size_multiplier TEXT NOT NULL,
	loss_streak INTEGER NOT NULL,
	win_streak INTEGER NOT NULL,
	wins_needed INTEGER NOT NULL,
	peak_profit TEXT NOT NULL,
	lock_pct TEXT NOT NULL,
	min_peak_profit TEXT NOT NULL,
	protection_active INTEGER NOT NULL,
	protection_triggered_at DATETIME,
	updated_at DATETIME NOT NULL
);
`
