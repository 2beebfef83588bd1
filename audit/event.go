// Package audit holds the append-only record of economically meaningful
// actions taken during a run. Each action is its own event type sharing a
// common Header, so reporting code can switch over them exhaustively.
package audit

import (
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindStake              Kind = "stake"
	KindSupply             Kind = "supply"
	KindBorrow             Kind = "borrow"
	KindFlashLoan          Kind = "flash_loan"
	KindGas                Kind = "gas"
	KindHedgeOpen          Kind = "hedge_open"
	KindFunding            Kind = "funding"
	KindLiquidationRisk    Kind = "liquidation_risk"
	KindRebalanceTrigger   Kind = "rebalance_trigger"
	KindReconciliationFail Kind = "reconciliation_failure"
)

// Header is shared by every event. Seq is assigned by the Log.
type Header struct {
	ID     string
	Seq    uint64
	Time   time.Time
	Venue  string
	Token  string
	Amount decimal.Decimal
}

// Event is implemented by the concrete event types below.
type Event interface {
	Head() *Header
	Kind() Kind
	// Attributes returns kind-specific fields in a flat, exportable form.
	Attributes() map[string]string

	clone() Event
}

func (h *Header) Head() *Header { return h }

// StakeEvent converts base asset into the yield-bearing collateral token.
type StakeEvent struct {
	Header
	BaseIn     decimal.Decimal
	OracleRate decimal.Decimal
	Iteration  int
}

func (*StakeEvent) Kind() Kind { return KindStake }
func (e *StakeEvent) Attributes() map[string]string {
	return map[string]string{
		"base_in":     e.BaseIn.String(),
		"oracle_rate": e.OracleRate.String(),
		"iteration":   itoa(e.Iteration),
	}
}

// SupplyEvent deposits collateral into the lending market.
type SupplyEvent struct {
	Header
	Scaled    decimal.Decimal
	Index     decimal.Decimal
	Iteration int
}

func (*SupplyEvent) Kind() Kind { return KindSupply }
func (e *SupplyEvent) Attributes() map[string]string {
	return map[string]string{
		"scaled":    e.Scaled.String(),
		"index":     e.Index.String(),
		"iteration": itoa(e.Iteration),
	}
}

// BorrowEvent draws debt against supplied collateral.
type BorrowEvent struct {
	Header
	Scaled    decimal.Decimal
	Index     decimal.Decimal
	LTV       decimal.Decimal
	Iteration int
}

func (*BorrowEvent) Kind() Kind { return KindBorrow }
func (e *BorrowEvent) Attributes() map[string]string {
	return map[string]string{
		"scaled":    e.Scaled.String(),
		"index":     e.Index.String(),
		"ltv":       e.LTV.String(),
		"iteration": itoa(e.Iteration),
	}
}

// FlashLoanEvent records the atomic entry's flash amount and fee.
type FlashLoanEvent struct {
	Header
	Fee         decimal.Decimal
	Equity      decimal.Decimal
	Supplied    decimal.Decimal
	TargetLTV   decimal.Decimal
	HealthAfter decimal.Decimal
}

func (*FlashLoanEvent) Kind() Kind { return KindFlashLoan }
func (e *FlashLoanEvent) Attributes() map[string]string {
	return map[string]string{
		"fee":          e.Fee.String(),
		"equity":       e.Equity.String(),
		"supplied":     e.Supplied.String(),
		"target_ltv":   e.TargetLTV.String(),
		"health_after": e.HealthAfter.String(),
	}
}

// GasEvent records gas paid for an operation, in base asset units.
type GasEvent struct {
	Header
	Operation string
	USD       decimal.Decimal
}

func (*GasEvent) Kind() Kind { return KindGas }
func (e *GasEvent) Attributes() map[string]string {
	return map[string]string{"operation": e.Operation, "usd": e.USD.String()}
}

// HedgeOpenEvent opens a short leg on a perp venue. Amount is short units.
type HedgeOpenEvent struct {
	Header
	Pair          string
	EntryPrice    decimal.Decimal
	Notional      decimal.Decimal
	PostedMargin  decimal.Decimal
	ExecutionCost decimal.Decimal
}

func (*HedgeOpenEvent) Kind() Kind { return KindHedgeOpen }
func (e *HedgeOpenEvent) Attributes() map[string]string {
	return map[string]string{
		"pair":           e.Pair,
		"entry_price":    e.EntryPrice.String(),
		"notional":       e.Notional.String(),
		"posted_margin":  e.PostedMargin.String(),
		"execution_cost": e.ExecutionCost.String(),
	}
}

// FundingEvent settles one funding interval on a venue. Amount is USD,
// positive when received.
type FundingEvent struct {
	Header
	Rate     decimal.Decimal
	Notional decimal.Decimal
}

func (*FundingEvent) Kind() Kind { return KindFunding }
func (e *FundingEvent) Attributes() map[string]string {
	return map[string]string{"rate": e.Rate.String(), "notional": e.Notional.String()}
}

// LiquidationRiskEvent flags a venue or the lending position at or past its
// liquidation line. Amount is the value at risk.
type LiquidationRiskEvent struct {
	Header
	Metric    string // "margin_ratio" or "health_factor"
	Value     decimal.Decimal
	Threshold decimal.Decimal
}

func (*LiquidationRiskEvent) Kind() Kind { return KindLiquidationRisk }
func (e *LiquidationRiskEvent) Attributes() map[string]string {
	return map[string]string{
		"metric":    e.Metric,
		"value":     e.Value.String(),
		"threshold": e.Threshold.String(),
	}
}

// RebalanceTriggerEvent flags hedge drift past the configured threshold.
// Amount is the net delta in base units.
type RebalanceTriggerEvent struct {
	Header
	DriftPct  decimal.Decimal
	Threshold decimal.Decimal
}

func (*RebalanceTriggerEvent) Kind() Kind { return KindRebalanceTrigger }
func (e *RebalanceTriggerEvent) Attributes() map[string]string {
	return map[string]string{"drift_pct": e.DriftPct.String(), "threshold": e.Threshold.String()}
}

// ReconciliationFailureEvent records a period whose directly computed total
// value diverges from attributed P&L. Amount is the diff.
type ReconciliationFailureEvent struct {
	Header
	Direct     decimal.Decimal
	Attributed decimal.Decimal
	Tolerance  decimal.Decimal
}

func (*ReconciliationFailureEvent) Kind() Kind { return KindReconciliationFail }
func (e *ReconciliationFailureEvent) Attributes() map[string]string {
	return map[string]string{
		"direct":     e.Direct.String(),
		"attributed": e.Attributed.String(),
		"tolerance":  e.Tolerance.String(),
	}
}

func (e *StakeEvent) clone() Event { c := *e; return &c }
func (e *SupplyEvent) clone() Event { c := *e; return &c }
func (e *BorrowEvent) clone() Event { c := *e; return &c }
func (e *FlashLoanEvent) clone() Event { c := *e; return &c }
func (e *GasEvent) clone() Event { c := *e; return &c }
func (e *HedgeOpenEvent) clone() Event { c := *e; return &c }
func (e *FundingEvent) clone() Event { c := *e; return &c }
func (e *LiquidationRiskEvent) clone() Event { c := *e; return &c }
func (e *RebalanceTriggerEvent) clone() Event { c := *e; return &c }
func (e *ReconciliationFailureEvent) clone() Event { c := *e; return &c }
