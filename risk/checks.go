package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Level classifies a metric.
type Level int

const (
	Safe Level = iota
	Warning
	Critical
)

func (l Level) String() string {
	switch l {
	case Safe:
		return "safe"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Metric names used in violations and per-metric levels.
const (
	MetricHealthFactor = "health_factor"
	MetricLTV          = "ltv"
	MetricMarginRatio  = "margin_ratio"
)

type Violation struct {
	Code   string
	Metric string
	Venue  string // empty for the lending position
	Level  Level
	Value  decimal.Decimal
	Limit  decimal.Decimal
	Msg    string
}

// VenueInput is one hedge leg as seen by the risk engine. Amounts are USD.
type VenueInput struct {
	VenueLimits
	Notional   decimal.Decimal
	Posted     decimal.Decimal
	Unrealized decimal.Decimal
}

// Inputs is everything an assessment depends on. Collateral and debt may be
// in any common unit.
type Inputs struct {
	Time       time.Time
	Collateral decimal.Decimal
	Debt       decimal.Decimal
	Venues     []VenueInput

	// RealizedAPY tightens thresholds only when APYMeasured is set.
	RealizedAPY float64
	APYMeasured bool
	Drawdown    float64
}

// VenueMargin is a venue's margin ratio and its thresholds.
type VenueMargin struct {
	Venue       string
	Ratio       decimal.Decimal
	Maintenance decimal.Decimal
	Safe        decimal.Decimal
	Level       Level
	Liquidation CEXOutcome
}

// Assessment is the risk picture at one instant. It is derived, never
// authoritative state.
type Assessment struct {
	Time time.Time

	LTV          decimal.Decimal
	HealthFactor decimal.Decimal
	SafeLTV      decimal.Decimal
	Tightening   float64

	Margins []VenueMargin
	Levels  map[string]Level // worst level per metric
	Level   Level

	Violations []Violation
	Aave       AaveOutcome
}

func (a *Assessment) add(v Violation) {
	a.Violations = append(a.Violations, v)
	if v.Level > a.Levels[v.Metric] {
		a.Levels[v.Metric] = v.Level
	}
	if v.Level > a.Level {
		a.Level = v.Level
	}
}

// Critical returns the critical violations.
func (a Assessment) Critical() []Violation {
	var out []Violation
	for _, v := range a.Violations {
		if v.Level == Critical {
			out = append(out, v)
		}
	}
	return out
}

// Margin returns the named venue's margin, if assessed.
func (a Assessment) Margin(venue string) (VenueMargin, bool) {
	for _, m := range a.Margins {
		if m.Venue == venue {
			return m, true
		}
	}
	return VenueMargin{}, false
}

// Assess classifies the lending position and every hedge venue.
//
// Health factor: below CriticalHealthFactor, or LTV at or past the
// liquidation threshold, is critical; below TargetHealthFactor × tightening
// is a warning. Margin ratio: below maintenance is critical; below the
// venue's safe margin × tightening is a warning.
func Assess(p Policy, in Inputs) Assessment {
	a := Assessment{
		Time:         in.Time,
		LTV:          LTV(in.Collateral, in.Debt),
		HealthFactor: HealthFactor(p.LiquidationThreshold, in.Collateral, in.Debt),
		SafeLTV:      SafeLTV(p),
		Tightening:   Tightening(p, realizedAPY(p, in), in.Drawdown),
		Levels: map[string]Level{
			MetricHealthFactor: Safe,
			MetricLTV:          Safe,
		},
	}
	m := decimal.NewFromFloat(a.Tightening)

	if in.Debt.IsPositive() {
		warnHF := p.TargetHealthFactor.Mul(m)
		switch {
		case a.HealthFactor.LessThan(p.CriticalHealthFactor):
			a.add(Violation{
				Code: "HF_CRITICAL", Metric: MetricHealthFactor, Level: Critical,
				Value: a.HealthFactor, Limit: p.CriticalHealthFactor,
				Msg: fmt.Sprintf("health factor %s below critical %s", a.HealthFactor.StringFixed(4), p.CriticalHealthFactor),
			})
		case a.HealthFactor.LessThan(warnHF):
			a.add(Violation{
				Code: "HF_LOW", Metric: MetricHealthFactor, Level: Warning,
				Value: a.HealthFactor, Limit: warnHF,
				Msg: fmt.Sprintf("health factor %s below target %s", a.HealthFactor.StringFixed(4), warnHF.StringFixed(4)),
			})
		}
		if a.LTV.GreaterThanOrEqual(p.LiquidationThreshold) {
			a.add(Violation{
				Code: "LTV_AT_LIQUIDATION", Metric: MetricLTV, Level: Critical,
				Value: a.LTV, Limit: p.LiquidationThreshold,
				Msg: fmt.Sprintf("ltv %s at or above liquidation threshold %s", a.LTV.StringFixed(4), p.LiquidationThreshold),
			})
		}
		a.Aave = SimulateAave(a.HealthFactor, in.Collateral, in.Debt, p.LiquidationBonus)
	}

	for _, v := range in.Venues {
		ratio := MarginRatio(v.Posted, v.Unrealized, v.Notional)
		vm := VenueMargin{
			Venue:       v.Venue,
			Ratio:       ratio,
			Maintenance: v.MaintenanceMargin,
			Safe:        SafeMargin(p, v.InitialMargin),
			Liquidation: SimulateCEX(v.Venue, ratio, v.MaintenanceMargin, v.Posted),
		}
		if _, ok := a.Levels[MetricMarginRatio]; !ok {
			a.Levels[MetricMarginRatio] = Safe
		}
		warn := vm.Safe.Mul(m)
		switch {
		case ratio.LessThan(v.MaintenanceMargin):
			vm.Level = Critical
			a.add(Violation{
				Code: "MARGIN_BELOW_MAINTENANCE", Metric: MetricMarginRatio, Venue: v.Venue, Level: Critical,
				Value: ratio, Limit: v.MaintenanceMargin,
				Msg: fmt.Sprintf("%s margin ratio %s below maintenance %s", v.Venue, ratio.StringFixed(4), v.MaintenanceMargin),
			})
		case ratio.LessThan(warn):
			vm.Level = Warning
			a.add(Violation{
				Code: "MARGIN_LOW", Metric: MetricMarginRatio, Venue: v.Venue, Level: Warning,
				Value: ratio, Limit: warn,
				Msg: fmt.Sprintf("%s margin ratio %s below safe %s", v.Venue, ratio.StringFixed(4), warn.StringFixed(4)),
			})
		}
		a.Margins = append(a.Margins, vm)
	}
	return a
}

// realizedAPY is the APY that drives tightening; unmeasured means on target.
func realizedAPY(p Policy, in Inputs) float64 {
	if !in.APYMeasured {
		return p.TargetAPY
	}
	return in.RealizedAPY
}
