package journal

import (
	"context"
	"database/sql"
	"fmt"
)

const periodColumns = `run_id, idx, time, price, supply_yield, price_appreciation, reward_yield, borrow_cost,
	funding_pnl, hedge_mtm, delta_pnl, transaction_costs, net, cumulative_net, total_value,
	diff, reconciled, health_factor, ltv, net_delta, risk_level`

// ListRuns returns the distinct run IDs with at least one period, oldest
// first.
func (j *SQLite) ListRuns(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id FROM periods
		GROUP BY run_id
		ORDER BY MIN(time) ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListPeriods returns a run's periods in order.
func (j *SQLite) ListPeriods(ctx context.Context, runID string) ([]PeriodRow, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+periodColumns+`
		FROM periods
		WHERE run_id = ?
		ORDER BY idx ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PeriodRow
	for rows.Next() {
		var p PeriodRow
		if err := rows.Scan(
			&p.RunID, &p.Index, &p.Time, &p.Price,
			&p.SupplyYield, &p.PriceAppreciation, &p.RewardYield, &p.BorrowCost,
			&p.Funding, &p.HedgeMTM, &p.DeltaPnL, &p.TransactionCosts,
			&p.Net, &p.CumulativeNet, &p.TotalValue, &p.Diff, &p.Reconciled,
			&p.HealthFactor, &p.LTV, &p.NetDelta, &p.RiskLevel,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListEvents returns a run's events in (time, seq) order. An empty kind
// matches every kind.
func (j *SQLite) ListEvents(ctx context.Context, runID, kind string) ([]EventRow, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, id, seq, time, kind, venue, token, amount, attributes
		FROM events
		WHERE run_id = ? AND (? = '' OR kind = ?)
		ORDER BY time ASC, seq ASC`, runID, kind, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var (
			e     EventRow
			attrs string
		)
		if err := rows.Scan(&e.RunID, &e.ID, &e.Seq, &e.Time, &e.Kind, &e.Venue, &e.Token, &e.Amount, &attrs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attrs), &e.Attributes); err != nil {
			return nil, fmt.Errorf("event %d attributes: %w", e.Seq, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPeriod returns one period of a run.
func (j *SQLite) GetPeriod(ctx context.Context, runID string, index int) (PeriodRow, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT `+periodColumns+`
		FROM periods
		WHERE run_id = ? AND idx = ?`, runID, index)

	var p PeriodRow
	err := row.Scan(
		&p.RunID, &p.Index, &p.Time, &p.Price,
		&p.SupplyYield, &p.PriceAppreciation, &p.RewardYield, &p.BorrowCost,
		&p.Funding, &p.HedgeMTM, &p.DeltaPnL, &p.TransactionCosts,
		&p.Net, &p.CumulativeNet, &p.TotalValue, &p.Diff, &p.Reconciled,
		&p.HealthFactor, &p.LTV, &p.NetDelta, &p.RiskLevel,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return PeriodRow{}, fmt.Errorf("period %d of run %q not found", index, runID)
		}
		return PeriodRow{}, err
	}
	return p, nil
}
