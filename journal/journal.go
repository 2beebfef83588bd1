// Package journal persists period records and audit events of a run.
package journal

import (
	"fmt"
	"time"

	"github.com/rustyeddy/yieldloop/audit"
	"github.com/rustyeddy/yieldloop/config"
	"github.com/rustyeddy/yieldloop/pnl"
	"github.com/shopspring/decimal"
)

// PeriodRow is one period of a run, flattened for storage.
type PeriodRow struct {
	RunID string
	Index int
	Time  time.Time
	Price decimal.Decimal

	SupplyYield       decimal.Decimal
	PriceAppreciation decimal.Decimal
	RewardYield       decimal.Decimal
	BorrowCost        decimal.Decimal
	Funding           decimal.Decimal
	HedgeMTM          decimal.Decimal
	DeltaPnL          decimal.Decimal
	TransactionCosts  decimal.Decimal

	Net           decimal.Decimal
	CumulativeNet decimal.Decimal
	TotalValue    decimal.Decimal
	Diff          decimal.Decimal
	Reconciled    bool

	HealthFactor decimal.Decimal
	LTV          decimal.Decimal
	NetDelta     decimal.Decimal
	RiskLevel    string
}

// NewPeriodRow copies a P&L record. Risk fields are left for the caller.
func NewPeriodRow(runID string, r pnl.Record) PeriodRow {
	c := r.Components
	return PeriodRow{
		RunID:             runID,
		Index:             r.Index,
		Time:              r.Time,
		Price:             r.Price,
		SupplyYield:       c.SupplyYield,
		PriceAppreciation: c.PriceAppreciation,
		RewardYield:       c.RewardYield,
		BorrowCost:        c.BorrowCost,
		Funding:           c.Funding,
		HedgeMTM:          c.HedgeMTM,
		DeltaPnL:          c.DeltaPnL,
		TransactionCosts:  c.TransactionCosts,
		Net:               r.Net,
		CumulativeNet:     r.CumulativeNet,
		TotalValue:        r.TotalValue,
		Diff:              r.Diff,
		Reconciled:        r.Reconciled,
	}
}

// EventRow is an audit event flattened for storage.
type EventRow struct {
	RunID      string
	ID         string
	Seq        uint64
	Time       time.Time
	Kind       string
	Venue      string
	Token      string
	Amount     decimal.Decimal
	Attributes map[string]string
}

func NewEventRow(runID string, e audit.Event) EventRow {
	h := e.Head()
	return EventRow{
		RunID:      runID,
		ID:         h.ID,
		Seq:        h.Seq,
		Time:       h.Time,
		Kind:       string(e.Kind()),
		Venue:      h.Venue,
		Token:      h.Token,
		Amount:     h.Amount,
		Attributes: e.Attributes(),
	}
}

type Journal interface {
	RecordPeriod(PeriodRow) error
	RecordEvent(EventRow) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordPeriod(PeriodRow) error { return nil }
func (Nop) RecordEvent(EventRow) error   { return nil }
func (Nop) Close() error                 { return nil }

// Open builds the journal named by cfg.
func Open(cfg config.JournalConfig) (Journal, error) {
	switch cfg.Type {
	case "", "none":
		return Nop{}, nil
	case "csv":
		return NewCSV(cfg.PeriodsFile, cfg.EventsFile)
	case "sqlite":
		return NewSQLite(cfg.DBPath)
	}
	return nil, fmt.Errorf("journal: unknown type %q", cfg.Type)
}
