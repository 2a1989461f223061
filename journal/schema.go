package journal

// Schema is applied on every open; statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	time DATETIME NOT NULL,
	instrument TEXT NOT NULL,
	action_type TEXT NOT NULL,
	direction TEXT NOT NULL,
	units REAL NOT NULL DEFAULT 0,
	entry_price REAL NOT NULL DEFAULT 0,
	stop_loss REAL NOT NULL DEFAULT 0,
	take_profit REAL NOT NULL DEFAULT 0,
	new_level REAL NOT NULL DEFAULT 0,
	risk_percent REAL NOT NULL DEFAULT 0,
	risk_reward REAL NOT NULL DEFAULT 0,
	pattern TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL,
	deal_id TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_trades_time ON trades(time);
CREATE INDEX IF NOT EXISTS idx_trades_instrument ON trades(instrument);

CREATE TABLE IF NOT EXISTS equity (
	time DATETIME NOT NULL,
	balance REAL NOT NULL,
	nav REAL NOT NULL,
	margin_used REAL NOT NULL,
	margin_available REAL NOT NULL,
	unrealized_pl REAL NOT NULL,
	open_positions INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);
`
