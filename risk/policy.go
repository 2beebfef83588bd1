package risk

import (
	"github.com/rustyeddy/yieldloop/config"
	"github.com/shopspring/decimal"
)

// Policy is the validated set of lending parameters and risk tolerances an
// assessment is measured against.
type Policy struct {
	MaxLTV               decimal.Decimal // protocol max LTV
	LiquidationThreshold decimal.Decimal
	LiquidationBonus     decimal.Decimal

	// Tolerances, as fractions of price.
	PriceMove  decimal.Decimal
	SpreadMove decimal.Decimal
	OracleMove decimal.Decimal
	BasisBeta  decimal.Decimal

	TargetHealthFactor   decimal.Decimal // health factor to keep after the shock
	CriticalHealthFactor decimal.Decimal
	LTVFloor             decimal.Decimal

	// Performance targets used to tighten warning thresholds.
	TargetAPY     float64
	MaxDrawdown   float64
	MaxTightening float64 // cap on the multiplier; values below 1 disable tightening
}

// VenueLimits are one perp venue's margin requirements.
type VenueLimits struct {
	Venue             string
	InitialMargin     decimal.Decimal
	MaintenanceMargin decimal.Decimal
}

// NewPolicy converts a validated configuration.
func NewPolicy(l config.LendingConfig, r config.RiskConfig) Policy {
	f := decimal.NewFromFloat
	return Policy{
		MaxLTV:               f(l.MaxLTV),
		LiquidationThreshold: f(l.LiquidationThreshold),
		LiquidationBonus:     f(l.LiquidationBonus),
		PriceMove:            f(r.MaxPriceMove),
		SpreadMove:           f(r.MaxSpreadMove),
		OracleMove:           f(r.MaxOracleMove),
		BasisBeta:            f(r.BasisBeta),
		TargetHealthFactor:   f(r.TargetHealthFactor),
		CriticalHealthFactor: f(r.CriticalHealthFactor),
		LTVFloor:             f(r.LTVFloor),
		TargetAPY:            r.TargetAPY,
		MaxDrawdown:          r.MaxDrawdown,
		MaxTightening:        r.MaxTightening,
	}
}

// NewVenueLimits converts the configured hedge venues.
func NewVenueLimits(venues []config.VenueConfig) []VenueLimits {
	out := make([]VenueLimits, 0, len(venues))
	for _, v := range venues {
		out = append(out, VenueLimits{
			Venue:             v.Name,
			InitialMargin:     decimal.NewFromFloat(v.InitialMargin),
			MaintenanceMargin: decimal.NewFromFloat(v.MaintenanceMargin),
		})
	}
	return out
}
