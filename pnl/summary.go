package pnl

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Summary is the end-of-run report.
type Summary struct {
	Start   time.Time
	End     time.Time
	Periods int

	InitialValue decimal.Decimal // before entry costs
	FinalValue   decimal.Decimal
	Totals       Components
	NetPnL       decimal.Decimal

	APR         float64
	APY         float64
	Volatility  float64 // annualised stdev of period returns
	Sharpe      float64 // annualised mean / stdev of period returns
	MaxDrawdown float64

	ReconciliationDiff     decimal.Decimal
	ReconciliationFailures int
}

// Summary computes the report from the records so far.
func (a *Attributor) Summary() Summary {
	recs := a.series.Records()
	s := Summary{
		Periods:                len(recs),
		InitialValue:           a.initial,
		FinalValue:             a.initial,
		MaxDrawdown:            a.drawdown,
		ReconciliationFailures: a.failures,
	}
	if len(recs) == 0 {
		return s
	}
	first, last := recs[0], recs[len(recs)-1]
	s.Start, s.End = first.Time, last.Time
	s.FinalValue = last.TotalValue
	s.Totals = last.Cumulative
	s.NetPnL = last.CumulativeNet
	s.ReconciliationDiff = last.Diff

	span := last.Time.Sub(first.Time)
	v0 := a.initial.InexactFloat64()
	if span > 0 && v0 > 0 {
		s.APR = last.CumulativeNet.InexactFloat64() / v0 * float64(year) / float64(span)
		s.APY = annualise(v0, last.TotalValue.InexactFloat64(), span)
	}

	if len(recs) < 3 {
		return s
	}
	// Period returns from the second record on; the first carries entry costs.
	rets := make([]float64, 0, len(recs)-1)
	for i := 1; i < len(recs); i++ {
		prev := recs[i-1].TotalValue.InexactFloat64()
		if prev == 0 {
			continue
		}
		rets = append(rets, recs[i].Net.InexactFloat64()/prev)
	}
	mean, sd := meanStdev(rets)
	perYear := float64(year) / (float64(span) / float64(len(recs)-1))
	s.Volatility = sd * math.Sqrt(perYear)
	if sd > 0 {
		s.Sharpe = mean / sd * math.Sqrt(perYear)
	}
	return s
}

func meanStdev(xs []float64) (mean, sd float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}
