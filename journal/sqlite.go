package journal

import (
	"database/sql"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	_ "github.com/mattn/go-sqlite3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	j, err := NewSQLiteFromDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// NewSQLiteFromDB wraps an open database and ensures the schema.
func NewSQLiteFromDB(db *sql.DB) (*SQLite, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordPeriod(p PeriodRow) error {
	_, err := j.db.Exec(`
		INSERT INTO periods
		(run_id, idx, time, price, supply_yield, price_appreciation, reward_yield, borrow_cost,
		 funding_pnl, hedge_mtm, delta_pnl, transaction_costs, net, cumulative_net, total_value,
		 diff, reconciled, health_factor, ltv, net_delta, risk_level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.RunID, p.Index, p.Time.UTC(), p.Price, p.SupplyYield, p.PriceAppreciation, p.RewardYield, p.BorrowCost,
		p.Funding, p.HedgeMTM, p.DeltaPnL, p.TransactionCosts, p.Net, p.CumulativeNet, p.TotalValue,
		p.Diff, p.Reconciled, p.HealthFactor, p.LTV, p.NetDelta, p.RiskLevel,
	)
	if err != nil {
		return fmt.Errorf("journal: record period %d: %w", p.Index, err)
	}
	return nil
}

func (j *SQLite) RecordEvent(e EventRow) error {
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return err
	}
	_, err = j.db.Exec(`
		INSERT INTO events
		(run_id, id, seq, time, kind, venue, token, amount, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.ID, e.Seq, e.Time.UTC(), e.Kind, e.Venue, e.Token, e.Amount, string(attrs),
	)
	if err != nil {
		return fmt.Errorf("journal: record event %d: %w", e.Seq, err)
	}
	return nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
