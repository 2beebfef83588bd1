package risk

import (
	"math"

	"github.com/shopspring/decimal"
)

const precision int32 = 18

var (
	one  = decimal.NewFromInt(1)
	half = decimal.NewFromFloat(0.5)

	// MaxHealthFactor stands in for an infinite health factor when there is
	// no debt.
	MaxHealthFactor = decimal.NewFromInt(1_000_000)
)

// ShockSize is the combined adverse move the safe targets must survive:
// price + spread + β·oracle.
func (p Policy) ShockSize() decimal.Decimal {
	return p.PriceMove.Add(p.SpreadMove).Add(p.BasisBeta.Mul(p.OracleMove))
}

// SafeLTV is the highest LTV that still leaves TargetHealthFactor after the
// configured shock, clipped to [LTVFloor, MaxLTV].
func SafeLTV(p Policy) decimal.Decimal {
	if !p.TargetHealthFactor.IsPositive() {
		return p.LTVFloor
	}
	v := p.LiquidationThreshold.Mul(one.Sub(p.ShockSize())).DivRound(p.TargetHealthFactor, precision)
	if v.LessThan(p.LTVFloor) {
		return p.LTVFloor
	}
	if v.GreaterThan(p.MaxLTV) {
		return p.MaxLTV
	}
	return v
}

// SafeMargin is the margin ratio a venue should hold: its initial margin plus
// a buffer for the price and spread tolerances.
func SafeMargin(p Policy, initialMargin decimal.Decimal) decimal.Decimal {
	return initialMargin.Add(p.PriceMove).Add(p.SpreadMove)
}

// HealthFactor is LT × collateral / debt, or MaxHealthFactor without debt.
func HealthFactor(lt, collateral, debt decimal.Decimal) decimal.Decimal {
	if !debt.IsPositive() {
		return MaxHealthFactor
	}
	hf := lt.Mul(collateral).DivRound(debt, precision)
	if hf.GreaterThan(MaxHealthFactor) {
		return MaxHealthFactor
	}
	return hf
}

// LTV is debt / collateral. Debt without collateral is reported as 1.
func LTV(collateral, debt decimal.Decimal) decimal.Decimal {
	if !collateral.IsPositive() {
		if debt.IsPositive() {
			return one
		}
		return decimal.Zero
	}
	return debt.DivRound(collateral, precision)
}

// MarginRatio is (posted + unrealized) / notional. A zero notional has no
// margin requirement and reports MaxHealthFactor.
func MarginRatio(posted, unrealized, notional decimal.Decimal) decimal.Decimal {
	if !notional.IsPositive() {
		return MaxHealthFactor
	}
	return posted.Add(unrealized).DivRound(notional, precision)
}

// Tightening is the multiplier (≥ 1) applied to warning thresholds. It grows
// with the shortfall of realized APY against target and with drawdown past
// half of MaxDrawdown, capped at MaxTightening.
func Tightening(p Policy, realizedAPY, drawdown float64) float64 {
	limit := p.MaxTightening
	if limit <= 1 {
		return 1
	}
	span := limit - 1

	m := 1.0
	if p.TargetAPY > 0 && realizedAPY < p.TargetAPY {
		shortfall := clamp01((p.TargetAPY - realizedAPY) / p.TargetAPY)
		m = math.Max(m, 1+shortfall*span)
	}
	if p.MaxDrawdown > 0 {
		near := clamp01((drawdown - p.MaxDrawdown/2) / (p.MaxDrawdown / 2))
		m = math.Max(m, 1+near*span)
	}
	return math.Min(m, limit)
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x) || x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
