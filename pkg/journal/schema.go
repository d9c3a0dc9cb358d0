package journal

// Schema mirrors the engine's order lifecycle into three tables: sessions
// for resume bookkeeping, orders for every lifecycle transition, and
// subscriptions as the tick-feed re-attach hint after a restart.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	started_at DATETIME NOT NULL,
	ended_at DATETIME,
	realized_pnl REAL NOT NULL DEFAULT 0,
	unrealized_pnl REAL NOT NULL DEFAULT 0,
	total_fees REAL NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT 1,
	order_counter INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	token INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	limit_price REAL NOT NULL,
	quantity INTEGER NOT NULL,
	lot_size INTEGER NOT NULL DEFAULT 1,
	lots INTEGER NOT NULL DEFAULT 1,
	status TEXT NOT NULL,
	validity TEXT NOT NULL DEFAULT 'DAY',
	stop_loss REAL,
	target REAL,
	sl_order_type TEXT NOT NULL DEFAULT 'MARKET',
	entry_price REAL NOT NULL DEFAULT 0,
	exit_price REAL NOT NULL DEFAULT 0,
	ltp REAL NOT NULL DEFAULT 0,
	placed_at DATETIME,
	entry_time DATETIME,
	exit_time DATETIME,
	exit_reason TEXT,
	entry_fees REAL NOT NULL DEFAULT 0,
	exit_fees REAL NOT NULL DEFAULT 0,
	gross_pnl REAL NOT NULL DEFAULT 0,
	net_pnl REAL NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_orders_session ON orders(session_id);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_token ON orders(token);

CREATE TABLE IF NOT EXISTS subscriptions (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	token INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	subscribed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(session_id, token)
);
`
