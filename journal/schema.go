// journal/schema.go
package journal

// Decimals are stored as TEXT so values round-trip exactly.
const Schema = `
CREATE TABLE IF NOT EXISTS periods (
	run_id TEXT NOT NULL,
	idx INTEGER NOT NULL,
	time DATETIME NOT NULL,
	price TEXT NOT NULL,
	supply_yield TEXT NOT NULL,
	price_appreciation TEXT NOT NULL,
	reward_yield TEXT NOT NULL,
	borrow_cost TEXT NOT NULL,
	funding_pnl TEXT NOT NULL,
	hedge_mtm TEXT NOT NULL,
	delta_pnl TEXT NOT NULL,
	transaction_costs TEXT NOT NULL,
	net TEXT NOT NULL,
	cumulative_net TEXT NOT NULL,
	total_value TEXT NOT NULL,
	diff TEXT NOT NULL,
	reconciled INTEGER NOT NULL,
	health_factor TEXT NOT NULL,
	ltv TEXT NOT NULL,
	net_delta TEXT NOT NULL,
	risk_level TEXT NOT NULL,
	PRIMARY KEY (run_id, idx)
);

CREATE TABLE IF NOT EXISTS events (
	run_id TEXT NOT NULL,
	id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	time DATETIME NOT NULL,
	kind TEXT NOT NULL,
	venue TEXT NOT NULL,
	token TEXT NOT NULL,
	amount TEXT NOT NULL,
	attributes TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_events_time ON events(run_id, time, seq);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(run_id, kind);
`
