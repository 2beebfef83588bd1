package risk

import "github.com/shopspring/decimal"

// AaveOutcome is the result of a lending-protocol liquidation scenario.
// Amounts are in the units of the inputs.
type AaveOutcome struct {
	Liquidatable bool
	Repaid       decimal.Decimal // close factor × debt
	Seized       decimal.Decimal // repaid × (1 + bonus), collateral taken
	Loss         decimal.Decimal // seized − repaid
}

// SimulateAave evaluates a health-factor liquidation: below 1, half the debt
// is repaid and collateral worth repaid × (1 + bonus) is seized, bounded by
// the collateral available.
func SimulateAave(healthFactor, collateral, debt, bonus decimal.Decimal) AaveOutcome {
	if !debt.IsPositive() || healthFactor.GreaterThanOrEqual(one) {
		return AaveOutcome{}
	}
	repaid := debt.Mul(half)
	seized := repaid.Mul(one.Add(bonus))
	if seized.GreaterThan(collateral) {
		seized = collateral
	}
	return AaveOutcome{
		Liquidatable: true,
		Repaid:       repaid,
		Seized:       seized,
		Loss:         seized.Sub(repaid),
	}
}

// CEXOutcome is the result of a perp-venue liquidation scenario.
type CEXOutcome struct {
	Venue        string
	Liquidatable bool
	Loss         decimal.Decimal // the posted margin
}

// SimulateCEX evaluates a venue liquidation: a margin ratio under
// maintenance loses the entire posted margin.
func SimulateCEX(venue string, marginRatio, maintenance, posted decimal.Decimal) CEXOutcome {
	if marginRatio.GreaterThanOrEqual(maintenance) {
		return CEXOutcome{Venue: venue}
	}
	return CEXOutcome{Venue: venue, Liquidatable: true, Loss: posted}
}
