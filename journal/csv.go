package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

var (
	periodHeader = []string{
		"run_id", "index", "time", "price",
		"supply_yield", "price_appreciation", "reward_yield", "borrow_cost",
		"funding_pnl", "hedge_mtm", "delta_pnl", "transaction_costs",
		"net", "cumulative_net", "total_value", "diff", "reconciled",
		"health_factor", "ltv", "net_delta", "risk_level",
	}
	eventHeader = []string{"run_id", "id", "seq", "time", "kind", "venue", "token", "amount", "attributes"}
)

type CSV struct {
	periods *csv.Writer
	events  *csv.Writer
	pf, ef  *os.File
}

func NewCSV(periodsPath, eventsPath string) (*CSV, error) {
	pf, err := os.Create(periodsPath)
	if err != nil {
		return nil, err
	}
	ef, err := os.Create(eventsPath)
	if err != nil {
		_ = pf.Close()
		return nil, err
	}

	pw := csv.NewWriter(pf)
	ew := csv.NewWriter(ef)
	if err := pw.Write(periodHeader); err != nil {
		return nil, err
	}
	if err := ew.Write(eventHeader); err != nil {
		return nil, err
	}

	pw.Flush()
	if err := pw.Error(); err != nil {
		return nil, err
	}
	ew.Flush()
	if err := ew.Error(); err != nil {
		return nil, err
	}

	return &CSV{pw, ew, pf, ef}, nil
}

func (j *CSV) RecordPeriod(p PeriodRow) error {
	err := j.periods.Write([]string{
		p.RunID,
		strconv.Itoa(p.Index),
		p.Time.UTC().Format(time.RFC3339),
		f(p.Price),
		f(p.SupplyYield),
		f(p.PriceAppreciation),
		f(p.RewardYield),
		f(p.BorrowCost),
		f(p.Funding),
		f(p.HedgeMTM),
		f(p.DeltaPnL),
		f(p.TransactionCosts),
		f(p.Net),
		f(p.CumulativeNet),
		f(p.TotalValue),
		f(p.Diff),
		strconv.FormatBool(p.Reconciled),
		f(p.HealthFactor),
		f(p.LTV),
		f(p.NetDelta),
		p.RiskLevel,
	})
	if err != nil {
		return err
	}
	j.periods.Flush()
	return j.periods.Error()
}

func (j *CSV) RecordEvent(e EventRow) error {
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return err
	}
	err = j.events.Write([]string{
		e.RunID,
		e.ID,
		strconv.FormatUint(e.Seq, 10),
		e.Time.UTC().Format(time.RFC3339),
		e.Kind,
		e.Venue,
		e.Token,
		e.Amount.String(),
		string(attrs),
	})
	if err != nil {
		return err
	}
	j.events.Flush()
	return j.events.Error()
}

func (j *CSV) Close() error {
	j.periods.Flush()
	if err := j.periods.Error(); err != nil {
		return err
	}
	j.events.Flush()
	if err := j.events.Error(); err != nil {
		return err
	}

	if err := j.pf.Close(); err != nil {
		return err
	}
	if err := j.ef.Close(); err != nil {
		return err
	}
	return nil
}

func f(x decimal.Decimal) string {
	return x.String()
}
