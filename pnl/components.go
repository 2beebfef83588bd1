// Package pnl attributes each period's change in position value to its
// economic sources and checks the attribution against a direct valuation.
package pnl

import (
	"time"

	"github.com/rustyeddy/yieldloop/accounting"
	"github.com/rustyeddy/yieldloop/hedge"
	"github.com/shopspring/decimal"
)

const precision int32 = 18

var (
	half = decimal.New(5, -1)
	day  = decimal.NewFromInt(int64(24 * time.Hour))
)

// Components are one period's P&L sources in USD. BorrowCost is a positive
// number subtracted from Net; TransactionCosts is already negative.
// HedgeMTM is the open legs' entry-to-mark P&L, reported only: its period
// change is inside DeltaPnL.
type Components struct {
	SupplyYield       decimal.Decimal
	PriceAppreciation decimal.Decimal
	RewardYield       decimal.Decimal
	BorrowCost        decimal.Decimal
	Funding           decimal.Decimal
	HedgeMTM          decimal.Decimal
	DeltaPnL          decimal.Decimal
	TransactionCosts  decimal.Decimal
}

// ComponentNames lists components in export order.
var ComponentNames = []string{
	"supply_yield",
	"price_appreciation",
	"reward_yield",
	"borrow_cost",
	"funding_pnl",
	"hedge_mtm",
	"delta_pnl",
	"transaction_costs",
}

// Values returns the components in ComponentNames order.
func (c Components) Values() []decimal.Decimal {
	return []decimal.Decimal{
		c.SupplyYield,
		c.PriceAppreciation,
		c.RewardYield,
		c.BorrowCost,
		c.Funding,
		c.HedgeMTM,
		c.DeltaPnL,
		c.TransactionCosts,
	}
}

// Map keys Values by ComponentNames.
func (c Components) Map() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(ComponentNames))
	for i, v := range c.Values() {
		out[ComponentNames[i]] = v
	}
	return out
}

// Net sums everything except HedgeMTM.
func (c Components) Net() decimal.Decimal {
	return c.SupplyYield.
		Add(c.PriceAppreciation).
		Add(c.RewardYield).
		Sub(c.BorrowCost).
		Add(c.Funding).
		Add(c.DeltaPnL).
		Add(c.TransactionCosts)
}

// Add sums two component sets. HedgeMTM is a level, not a flow, so the
// receiver's value is replaced by o's.
func (c Components) Add(o Components) Components {
	return Components{
		SupplyYield:       c.SupplyYield.Add(o.SupplyYield),
		PriceAppreciation: c.PriceAppreciation.Add(o.PriceAppreciation),
		RewardYield:       c.RewardYield.Add(o.RewardYield),
		BorrowCost:        c.BorrowCost.Add(o.BorrowCost),
		Funding:           c.Funding.Add(o.Funding),
		HedgeMTM:          o.HedgeMTM,
		DeltaPnL:          c.DeltaPnL.Add(o.DeltaPnL),
		TransactionCosts:  c.TransactionCosts.Add(o.TransactionCosts),
	}
}

// Period is what attribution needs for one step from Prev to Cur.
type Period struct {
	Prev, Cur accounting.Snapshot
	Hedges    []hedge.Update

	// RewardDaily is the program's daily yield in force at Prev.
	RewardDaily decimal.Decimal
	// HedgeMTM is the open legs' unrealized P&L at Cur.
	HedgeMTM decimal.Decimal
}

// Attribute computes one period's components. It is pure.
//
// Long exposure is valued at Prev's price so that the price move lands in
// DeltaPnL alone; the delta term uses the average of Prev and Cur exposure.
func Attribute(p Period) Components {
	prev, cur := p.Prev, p.Cur

	var c Components
	c.SupplyYield = cur.CollateralUnits.Sub(prev.CollateralUnits).Mul(prev.OracleRate).Mul(prev.Price)
	c.PriceAppreciation = cur.CollateralUnits.Mul(cur.OracleRate.Sub(prev.OracleRate)).Mul(prev.Price)

	c.RewardYield = Reward(prev, p.RewardDaily, cur.Time)
	if prev.DebtBase.IsPositive() || cur.DebtBase.IsPositive() {
		c.BorrowCost = cur.DebtBase.Sub(prev.DebtBase).Mul(prev.Price)
	}

	avg := prev.EquityBase().Add(cur.EquityBase()).Mul(half)
	c.DeltaPnL = avg.Mul(cur.Price.Sub(prev.Price))
	for _, u := range p.Hedges {
		c.Funding = c.Funding.Add(u.Funding)
		c.DeltaPnL = c.DeltaPnL.Add(u.MTM)
	}
	c.HedgeMTM = p.HedgeMTM
	return c
}

// Reward accrues a daily yield on prev's collateral value until to.
func Reward(prev accounting.Snapshot, daily decimal.Decimal, to time.Time) decimal.Decimal {
	days := Days(prev.Time, to)
	if !days.IsPositive() || daily.IsZero() {
		return decimal.Zero
	}
	return prev.CollateralUSD().Mul(daily).Mul(days)
}

// Days is the span from a to b in days.
func Days(a, b time.Time) decimal.Decimal {
	return decimal.NewFromInt(int64(b.Sub(a))).DivRound(day, precision)
}
