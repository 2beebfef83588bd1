package pnl

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/rustyeddy/yieldloop/accounting"
	"github.com/rustyeddy/yieldloop/hedge"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var tol = Tolerance{Abs: d("0.01"), Rel: d("0.001")}

func position(coll, debt string) accounting.Position {
	return accounting.Position{
		CollateralToken:  "weETH",
		DebtToken:        "WETH",
		ScaledCollateral: d(coll),
		ScaledDebt:       d(debt),
	}
}

func snap(pos accounting.Position, at time.Time, si, bi, oracle, price string) accounting.Snapshot {
	return accounting.Value(pos, at, d(si), d(bi), d(oracle), d(price))
}

func value(s accounting.Snapshot, rewards, gasDebt, cash decimal.Decimal) Value {
	return Value{
		Collateral: s.CollateralUSD(),
		Wallet:     s.WalletUSD(),
		Rewards:    rewards,
		Debt:       s.DebtUSD(),
		GasDebt:    gasDebt,
		VenueCash:  cash,
	}
}

func TestNetExcludesHedgeMTM(t *testing.T) {
	t.Parallel()

	c := Components{
		SupplyYield:       d("3"),
		PriceAppreciation: d("1"),
		RewardYield:       d("0.5"),
		BorrowCost:        d("2"),
		Funding:           d("0.25"),
		HedgeMTM:          d("100"),
		DeltaPnL:          d("-0.75"),
		TransactionCosts:  d("-1"),
	}
	assert.True(t, c.Net().Equal(d("1")), "net %s", c.Net())
	assert.Len(t, c.Map(), len(ComponentNames))
	assert.True(t, c.Map()["borrow_cost"].Equal(d("2")))
}

func TestZeroPriceMoveAndFunding(t *testing.T) {
	t.Parallel()

	pos := position("1111.1", "1011.1")
	prev := snap(pos, t0, "1", "1", "1.05", "3000")
	cur := snap(pos, t0.Add(time.Hour), "1.0001", "1.0002", "1.05", "3000")

	c := Attribute(Period{
		Prev:   prev,
		Cur:    cur,
		Hedges: []hedge.Update{{Venue: "binance", PrevMark: d("3001"), Mark: d("3001"), ShortUnits: d("100")}},
	})
	assert.True(t, c.DeltaPnL.IsZero())
	assert.True(t, c.Funding.IsZero())
	assert.True(t, c.PriceAppreciation.IsZero())
	// 1111.1 × 0.0001 × 1.05 × 3000
	assert.True(t, c.SupplyYield.Equal(d("349.9965")), "supply %s", c.SupplyYield)
	// 1011.1 × 0.0002 × 3000
	assert.True(t, c.BorrowCost.Equal(d("606.66")), "borrow %s", c.BorrowCost)
}

func TestAttributeRewardAndOracle(t *testing.T) {
	t.Parallel()

	pos := position("10", "0")
	prev := snap(pos, t0, "1", "1", "1", "2000")
	cur := snap(pos, t0.Add(12*time.Hour), "1", "1", "1.01", "2000")

	c := Attribute(Period{Prev: prev, Cur: cur, RewardDaily: d("0.0002")})
	// 10 × 2000 × 0.0002 × 0.5 day
	assert.True(t, c.RewardYield.Equal(d("2")), "reward %s", c.RewardYield)
	assert.True(t, c.PriceAppreciation.Equal(d("200")), "price %s", c.PriceAppreciation)
	assert.True(t, c.BorrowCost.IsZero())
}

func TestFirstPeriodCarriesOnlyCosts(t *testing.T) {
	t.Parallel()

	pos := position("1111.1", "1011.1")
	s := snap(pos, t0, "1", "1", "1", "3000")
	// Pre-cost value: equity 100 ETH plus 5000 margin, less 12 of costs.
	a := NewAttributor(d("305000"), tol)
	costs := Costs{Gas: d("9"), FlashFee: d("0"), Execution: d("3")}

	r, err := a.First(s, costs, value(s, decimal.Zero, d("9"), d("4997")))
	require.NoError(t, err)
	assert.True(t, r.Components.TransactionCosts.Equal(d("-12")))
	assert.True(t, r.Components.SupplyYield.IsZero())
	assert.True(t, r.Components.DeltaPnL.IsZero())
	assert.True(t, r.Net.Equal(d("-12")))
	assert.True(t, r.Diff.IsZero(), "diff %s", r.Diff)
	assert.True(t, r.Reconciled)

	_, err = a.First(s, costs, value(s, decimal.Zero, d("9"), d("4997")))
	assert.Error(t, err)
}

func TestNextBeforeFirst(t *testing.T) {
	t.Parallel()
	_, err := NewAttributor(d("1"), tol).Next(Period{}, Value{})
	assert.Error(t, err)
}

// Along a random path with growing indices, a moving oracle and price, and a
// short hedge, the direct valuation equals initial + cumulative net up to
// the averaged-delta term Σ ½·ΔE·ΔP.
func TestReconciliationHolds(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	pos := position("1111.111111111111111111", "1011.111111111111111111")

	si, bi, oracle, price := 1.0, 1.0, 1.0, 3000.0
	str := func(x float64) string { return decimal.NewFromFloat(x).Round(12).String() }

	s := snap(pos, t0, str(si), str(bi), str(oracle), str(price))
	units := s.EquityBase()
	mark := s.Price
	cash := d("30000")

	a := NewAttributor(s.EquityUSD().Add(cash), tol)
	_, err := a.First(s, Costs{}, value(s, decimal.Zero, decimal.Zero, cash))
	require.NoError(t, err)

	rewards := decimal.Zero
	residual := decimal.Zero
	prev := s
	for i := 1; i <= 500; i++ {
		at := t0.Add(time.Duration(i) * time.Hour)
		si *= 1 + 0.03/8760
		bi *= 1 + 0.025/8760
		oracle *= 1 + 0.02/8760
		price *= math.Exp(0.01 * rng.NormFloat64())
		cur := snap(pos, at, str(si), str(bi), str(oracle), str(price))

		newMark := cur.Price.Mul(d("1.0005"))
		u := hedge.Update{Venue: "binance", PrevMark: mark, Mark: newMark, ShortUnits: units}
		u.MTM = units.Mul(mark.Sub(newMark))
		u.Funding = units.Mul(newMark).Mul(d("0.00001"))
		cash = cash.Add(u.MTM).Add(u.Funding)
		mark = newMark

		c := Attribute(Period{Prev: prev, Cur: cur, Hedges: []hedge.Update{u}, RewardDaily: d("0.0001")})
		rewards = rewards.Add(c.RewardYield)

		r, err := a.Next(Period{Cur: cur, Hedges: []hedge.Update{u}, RewardDaily: d("0.0001")}, value(cur, rewards, decimal.Zero, cash))
		require.NoError(t, err)
		require.True(t, r.Reconciled, "period %d diff %s", i, r.Diff)

		residual = residual.Add(cur.EquityBase().Sub(prev.EquityBase()).Mul(cur.Price.Sub(prev.Price)).Mul(half))
		assert.True(t, r.Diff.Sub(residual).Abs().LessThan(d("1e-18")), "period %d diff %s residual %s", i, r.Diff, residual)
		prev = cur
	}
	assert.Zero(t, a.Failures())
	assert.Equal(t, 501, len(a.Records()))
}

func TestReconciliationFailureIsRecordedNotCorrected(t *testing.T) {
	t.Parallel()

	pos := position("1", "0")
	s0 := snap(pos, t0, "1", "1", "1", "1000")
	s1 := snap(pos, t0.Add(time.Hour), "1", "1", "1", "1000")

	a := NewAttributor(d("1000"), Tolerance{Abs: d("0.01"), Rel: d("0")})
	_, err := a.First(s0, Costs{}, value(s0, decimal.Zero, decimal.Zero, decimal.Zero))
	require.NoError(t, err)

	v := value(s1, decimal.Zero, decimal.Zero, decimal.Zero)
	v.Wallet = d("5")
	r, err := a.Next(Period{Cur: s1}, v)
	require.NoError(t, err)
	assert.False(t, r.Reconciled)
	assert.True(t, r.Diff.Equal(d("5")))
	assert.True(t, r.TotalValue.Equal(d("1005")))
	assert.True(t, r.CumulativeNet.IsZero())
	assert.Equal(t, 1, a.Failures())
	assert.Equal(t, 1, a.Summary().ReconciliationFailures)
}

func TestSeriesAppendOnly(t *testing.T) {
	t.Parallel()

	var s Series
	require.NoError(t, s.Append(Record{Index: 0, Time: t0}))
	assert.Error(t, s.Append(Record{Index: 0, Time: t0.Add(time.Hour)}))
	assert.Error(t, s.Append(Record{Index: 1, Time: t0}))
	require.NoError(t, s.Append(Record{Index: 1, Time: t0.Add(time.Hour)}))

	recs := s.Records()
	recs[0].Index = 99
	first := s.Records()[0]
	assert.Equal(t, 0, first.Index)
	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, 1, last.Index)
}

func TestSummary(t *testing.T) {
	t.Parallel()

	pos := position("1", "0")
	a := NewAttributor(d("1000"), tol)
	prices := []string{"1000", "1100", "880", "990"}

	for i, px := range prices {
		s := snap(pos, t0.Add(time.Duration(i)*24*time.Hour), "1", "1", "1", px)
		v := value(s, decimal.Zero, decimal.Zero, decimal.Zero)
		var err error
		if i == 0 {
			_, err = a.First(s, Costs{}, v)
		} else {
			_, err = a.Next(Period{Cur: s}, v)
		}
		require.NoError(t, err)
	}

	sum := a.Summary()
	assert.Equal(t, 4, sum.Periods)
	assert.Equal(t, t0, sum.Start)
	assert.True(t, sum.FinalValue.Equal(d("990")))
	assert.True(t, sum.NetPnL.Equal(d("-10")))
	assert.True(t, sum.Totals.DeltaPnL.Equal(d("-10")))
	assert.True(t, sum.ReconciliationDiff.IsZero())
	assert.InDelta(t, 0.2, sum.MaxDrawdown, 1e-12)
	assert.InDelta(t, -0.01*365/3, sum.APR, 1e-9)
	assert.InDelta(t, math.Pow(0.99, 365.0/3)-1, sum.APY, 1e-9)
	mean, sd := meanStdev([]float64{0.1, -0.2, 0.125})
	assert.InDelta(t, mean/sd*math.Sqrt(365), sum.Sharpe, 1e-9)
	assert.InDelta(t, sd*math.Sqrt(365), sum.Volatility, 1e-9)

	perf := a.Performance()
	assert.False(t, perf.APYMeasured)
	assert.Zero(t, perf.APY)
	assert.InDelta(t, 0.1, perf.Drawdown, 1e-12)
}

func TestPerformanceWarmup(t *testing.T) {
	t.Parallel()

	pos := position("1", "0")
	a := NewAttributor(d("1000"), tol)
	s := snap(pos, t0, "1", "1", "1", "1000")
	_, err := a.First(s, Costs{}, value(s, decimal.Zero, decimal.Zero, decimal.Zero))
	require.NoError(t, err)
	assert.False(t, a.Performance().APYMeasured)

	step := func(at time.Time, px string) {
		s := snap(pos, at, "1", "1", "1", px)
		_, err := a.Next(Period{Cur: s}, value(s, decimal.Zero, decimal.Zero, decimal.Zero))
		require.NoError(t, err)
	}

	step(t0.Add(time.Hour), "990")
	assert.False(t, a.Performance().APYMeasured)

	step(t0.Add(APYWarmup-time.Hour), "1000")
	assert.False(t, a.Performance().APYMeasured)

	step(t0.Add(APYWarmup), "1010")
	perf := a.Performance()
	require.True(t, perf.APYMeasured)
	assert.InDelta(t, math.Pow(1.01, 365.0/30)-1, perf.APY, 1e-9)
}

func TestSummaryEmpty(t *testing.T) {
	t.Parallel()

	sum := NewAttributor(d("100"), tol).Summary()
	assert.Zero(t, sum.Periods)
	assert.True(t, sum.FinalValue.Equal(d("100")))
}
