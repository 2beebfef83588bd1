package pnl

import "github.com/shopspring/decimal"

// Value is the direct valuation of everything the run holds, in USD.
type Value struct {
	Collateral decimal.Decimal
	Wallet     decimal.Decimal
	Rewards    decimal.Decimal // accrued reward yield
	Debt       decimal.Decimal
	GasDebt    decimal.Decimal // construction costs owed outside the position
	VenueCash  decimal.Decimal // margin equity across hedge venues
}

// Total is wallet assets minus liabilities plus venue cash.
func (v Value) Total() decimal.Decimal {
	return v.Collateral.Add(v.Wallet).Add(v.Rewards).Sub(v.Debt).Sub(v.GasDebt).Add(v.VenueCash)
}

// Tolerance bounds reconciliation error: max(Abs, Rel × initial value).
type Tolerance struct {
	Abs decimal.Decimal
	Rel decimal.Decimal
}

// Bound returns the allowed absolute diff for an initial value.
func (t Tolerance) Bound(initial decimal.Decimal) decimal.Decimal {
	return decimal.Max(t.Abs, t.Rel.Mul(initial.Abs()))
}

// Reconcile compares the direct total against initial + cumulative net.
func Reconcile(total, initial, cumulativeNet decimal.Decimal, tol Tolerance) (diff decimal.Decimal, ok bool) {
	diff = total.Sub(initial.Add(cumulativeNet))
	return diff, diff.Abs().LessThanOrEqual(tol.Bound(initial))
}
