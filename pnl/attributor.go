package pnl

import (
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/yieldloop/accounting"
	"github.com/shopspring/decimal"
)

// Costs are the one-off entry costs in USD, all positive.
type Costs struct {
	Gas       decimal.Decimal // construction gas
	FlashFee  decimal.Decimal
	Execution decimal.Decimal // hedge execution
}

func (c Costs) Total() decimal.Decimal { return c.Gas.Add(c.FlashFee).Add(c.Execution) }

// Attributor carries the running state of attribution for one run: the
// series, cumulative sums and the value path used for performance.
type Attributor struct {
	initial decimal.Decimal
	tol     Tolerance

	series   Series
	cum      Components
	cumNet   decimal.Decimal
	prev     accounting.Snapshot
	peak     float64
	drawdown float64
	failures int
}

// NewAttributor starts a run whose pre-cost value is initial (USD).
func NewAttributor(initial decimal.Decimal, tol Tolerance) *Attributor {
	return &Attributor{initial: initial, tol: tol, peak: initial.InexactFloat64()}
}

// Initial is the pre-cost starting value.
func (a *Attributor) Initial() decimal.Decimal { return a.initial }

// First records period zero: every component is zero except the entry
// costs.
func (a *Attributor) First(snap accounting.Snapshot, costs Costs, v Value) (Record, error) {
	if a.series.Len() != 0 {
		return Record{}, fmt.Errorf("pnl: first period already recorded")
	}
	c := Components{TransactionCosts: costs.Total().Neg()}
	return a.record(snap, c, v)
}

// Next attributes the period from the previous snapshot to p.Cur. p.Prev
// is filled from the attributor's state.
func (a *Attributor) Next(p Period, v Value) (Record, error) {
	if a.series.Len() == 0 {
		return Record{}, fmt.Errorf("pnl: next before first period")
	}
	p.Prev = a.prev
	return a.record(p.Cur, Attribute(p), v)
}

func (a *Attributor) record(snap accounting.Snapshot, c Components, v Value) (Record, error) {
	cum := a.cum.Add(c)
	net := c.Net()
	cumNet := a.cumNet.Add(net)
	total := v.Total()
	diff, ok := Reconcile(total, a.initial, cumNet, a.tol)

	r := Record{
		Index:         a.series.Len(),
		Time:          snap.Time,
		Price:         snap.Price,
		Components:    c,
		Cumulative:    cum,
		Net:           net,
		CumulativeNet: cumNet,
		TotalValue:    total,
		Expected:      a.initial.Add(cumNet),
		Diff:          diff,
		Tolerance:     a.tol.Bound(a.initial),
		Reconciled:    ok,
	}
	if err := a.series.Append(r); err != nil {
		return Record{}, err
	}

	a.cum, a.cumNet, a.prev = cum, cumNet, snap
	if !ok {
		a.failures++
	}
	tv := total.InexactFloat64()
	if tv > a.peak {
		a.peak = tv
	}
	if a.peak > 0 {
		a.drawdown = math.Max(a.drawdown, (a.peak-tv)/a.peak)
	}
	return r, nil
}

// Records returns the series so far.
func (a *Attributor) Records() []Record { return a.series.Records() }

// Failures counts periods outside tolerance.
func (a *Attributor) Failures() int { return a.failures }

// APYWarmup is the history a run needs before its realized APY is
// reported as measured.
const APYWarmup = 30 * 24 * time.Hour

// Performance is the run's realized return so far.
type Performance struct {
	APY         float64 // annualised, valid only when APYMeasured
	APYMeasured bool
	Drawdown    float64 // current, from the peak
}

// Performance reports the annualised return once APYWarmup has passed, and
// the current drawdown from the peak.
func (a *Attributor) Performance() Performance {
	p := Performance{Drawdown: a.currentDrawdown()}
	recs := a.series.Records()
	if len(recs) < 2 {
		return p
	}
	first, last := recs[0], recs[len(recs)-1]
	span := last.Time.Sub(first.Time)
	if span < APYWarmup {
		return p
	}
	p.APY = annualise(a.initial.InexactFloat64(), last.TotalValue.InexactFloat64(), span)
	p.APYMeasured = true
	return p
}

func (a *Attributor) currentDrawdown() float64 {
	last, ok := a.series.Last()
	if !ok || a.peak <= 0 {
		return 0
	}
	return math.Max(0, (a.peak-last.TotalValue.InexactFloat64())/a.peak)
}

const year = 365 * 24 * time.Hour

// annualise compounds the return from v0 to v1 over span to a year.
func annualise(v0, v1 float64, span time.Duration) float64 {
	if v0 <= 0 || v1 <= 0 || span <= 0 {
		return 0
	}
	return math.Pow(v1/v0, float64(year)/float64(span)) - 1
}
