package sqlite

// Amounts are decimal strings; timestamps are unix nanoseconds (UTC).
const schemaDDL = `
CREATE TABLE IF NOT EXISTS trades (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	intent_id         TEXT    NOT NULL UNIQUE,
	wallet_id         TEXT    NOT NULL,
	strategy_id       TEXT    NOT NULL DEFAULT '',
	trade_type        TEXT    NOT NULL,
	token_in_symbol   TEXT    NOT NULL,
	token_in_address  TEXT    NOT NULL,
	token_out_symbol  TEXT    NOT NULL,
	token_out_address TEXT    NOT NULL,
	amount_in         TEXT    NOT NULL DEFAULT '0',
	amount_out        TEXT    NOT NULL DEFAULT '0',
	price             TEXT    NOT NULL DEFAULT '0',
	notional          TEXT    NOT NULL DEFAULT '0',
	tx_hash           TEXT    NOT NULL DEFAULT '',
	gas_used          INTEGER NOT NULL DEFAULT 0,
	gas_price         TEXT    NOT NULL DEFAULT '0',
	network           TEXT    NOT NULL,
	status            TEXT    NOT NULL,
	dry_run           INTEGER NOT NULL,
	error             TEXT    NOT NULL DEFAULT '',
	metadata          BLOB,
	created_at        INTEGER NOT NULL,
	executed_at       INTEGER
);

CREATE INDEX IF NOT EXISTS idx_trades_wallet ON trades (wallet_id, created_at);
CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades (strategy_id, created_at);
CREATE INDEX IF NOT EXISTS idx_trades_status ON trades (status);
`
