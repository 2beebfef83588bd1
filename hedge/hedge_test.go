package hedge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rustyeddy/yieldloop/audit"
	"github.com/rustyeddy/yieldloop/config"
	"github.com/rustyeddy/yieldloop/market"
	"github.com/rustyeddy/yieldloop/risk"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pair = "ETH-PERP"

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testVenues(t *testing.T) []Venue {
	t.Helper()
	vs, err := VenuesFromConfig(config.Default().Hedge.Venues)
	require.NoError(t, err)
	for i := range vs {
		vs[i].Pair = pair
	}
	return vs
}

// newFeed marks every venue at 3000 at t0 with the given execution cost.
func newFeed(bps string) *market.MemoryFeed {
	f := market.NewMemoryFeed()
	for _, v := range []string{"binance", "bybit", "okx"} {
		f.Set(market.Key{Kind: market.PerpPrice, Name: market.VenueKey(v, pair)}, t0, d("3000"))
		f.SetExecutionCost(v, pair, market.CostBucket{Bps: d(bps)})
	}
	return f
}

func newManager(t *testing.T, f market.Feed) *Manager {
	t.Helper()
	cfg := config.Default()
	m, err := NewManager(market.NewResolver(f, nil), testVenues(t), risk.NewPolicy(cfg.Lending, cfg.Risk), d("0.05"), "ETH", nil)
	require.NoError(t, err)
	return m
}

func TestCheckWeights(t *testing.T) {
	t.Parallel()

	w := func(ws ...string) []Venue {
		var vs []Venue
		for i, x := range ws {
			vs = append(vs, Venue{Name: string(rune('a' + i)), Weight: d(x)})
		}
		return vs
	}
	tests := []struct {
		name string
		vs   []Venue
		ok   bool
	}{
		{"exact", w("0.5", "0.3", "0.2"), true},
		{"within tolerance", w("0.5", "0.3", "0.205"), true},
		{"short", w("0.5", "0.3", "0.1"), false},
		{"zero weight", w("1", "0"), false},
		{"none", nil, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := CheckWeights(tt.vs)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrWeights))
		})
	}
}

func TestOpenSizesNetOfExecutionCost(t *testing.T) {
	t.Parallel()

	m := newManager(t, newFeed("2"))
	events, err := m.Open(context.Background(), d("300000"), t0)
	require.NoError(t, err)
	require.Len(t, events, 3)

	legs := m.Legs()
	require.Len(t, legs, 3)
	bn := legs[0]
	assert.Equal(t, "binance", bn.Name)
	// 150000 × (1 − 2bps) / 3000
	assert.True(t, bn.ExecutionCost.Equal(d("30")))
	assert.True(t, bn.ShortUnits.Equal(d("49.99")), "units %s", bn.ShortUnits)
	assert.True(t, bn.PostedMargin.Equal(d("18746.25")), "posted %s", bn.PostedMargin)
	assert.True(t, bn.CashBalance.Equal(bn.PostedMargin))
	assert.True(t, bn.Deposit().Equal(d("18776.25")))
	assert.Equal(t, t0.Add(8*time.Hour), bn.NextFunding)

	open := events[0].(*audit.HedgeOpenEvent)
	assert.Equal(t, "binance", open.Venue)
	assert.True(t, open.Amount.Equal(d("49.99")))

	_, err = m.Open(context.Background(), d("1"), t0)
	assert.Error(t, err)
}

func TestRollMarksAndSettlesFunding(t *testing.T) {
	t.Parallel()

	f := newFeed("0")
	key := market.Key{Kind: market.PerpPrice, Name: market.VenueKey("binance", pair)}
	f.Set(key, t0.Add(time.Hour), d("3030"))
	f.Set(key, t0.Add(8*time.Hour), d("3000"))
	f.Set(market.Key{Kind: market.FundingRate, Name: market.VenueKey("binance", pair)}, t0, d("0.0001"))

	m := newManager(t, f)
	_, err := m.Open(context.Background(), d("300000"), t0)
	require.NoError(t, err)

	ups, events, err := m.Roll(context.Background(), t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, ups, 3)
	assert.True(t, ups[0].MTM.Equal(d("-1500")), "mtm %s", ups[0].MTM)
	assert.Zero(t, ups[0].Settlements)
	assert.True(t, ups[1].MTM.IsZero())
	assert.Empty(t, events)

	ups, events, err = m.Roll(context.Background(), t0.Add(8*time.Hour))
	require.NoError(t, err)
	assert.True(t, ups[0].MTM.Equal(d("1500")))
	assert.Equal(t, 1, ups[0].Settlements)
	// 50 units × 3000 × 0.0001
	assert.True(t, ups[0].Funding.Equal(d("15")), "funding %s", ups[0].Funding)
	require.Len(t, events, 1)
	assert.Equal(t, audit.KindFunding, events[0].Kind())

	// Zero-rate venues still settle but emit nothing.
	assert.Equal(t, 1, ups[1].Settlements)
	assert.True(t, ups[1].Funding.IsZero())

	bn := m.Legs()[0]
	assert.True(t, bn.CumulativeMTM.IsZero())
	assert.True(t, bn.CumulativeFunding.Equal(d("15")))
	assert.True(t, bn.CashBalance.Equal(bn.PostedMargin.Add(d("15"))))
	assert.Equal(t, t0.Add(16*time.Hour), bn.NextFunding)
}

func TestRollSettlesEveryElapsedInterval(t *testing.T) {
	t.Parallel()

	f := newFeed("0")
	f.Set(market.Key{Kind: market.FundingRate, Name: market.VenueKey("okx", pair)}, t0, d("-0.0002"))
	m := newManager(t, f)
	_, err := m.Open(context.Background(), d("300000"), t0)
	require.NoError(t, err)

	ups, events, err := m.Roll(context.Background(), t0.Add(24*time.Hour))
	require.NoError(t, err)
	okx := ups[2]
	assert.Equal(t, 3, okx.Settlements)
	// 20 units × 3000 × −0.0002 × 3
	assert.True(t, okx.Funding.Equal(d("-36")), "funding %s", okx.Funding)
	assert.Len(t, events, 3)
}

// failingFeed errors on one key while fail is set.
type failingFeed struct {
	market.Feed
	key  market.Key
	fail bool
}

func (f *failingFeed) Lookup(ctx context.Context, key market.Key, at time.Time) (market.Sample, error) {
	if f.fail && key == f.key {
		return market.Sample{}, errors.New("feed unavailable")
	}
	return f.Feed.Lookup(ctx, key, at)
}

func TestRollIsAllOrNothing(t *testing.T) {
	t.Parallel()

	mem := newFeed("0")
	bn := market.Key{Kind: market.PerpPrice, Name: market.VenueKey("binance", pair)}
	mem.Set(bn, t0.Add(time.Hour), d("3030"))
	f := &failingFeed{Feed: mem, key: market.Key{Kind: market.PerpPrice, Name: market.VenueKey("okx", pair)}}

	m := newManager(t, f)
	_, err := m.Open(context.Background(), d("300000"), t0)
	require.NoError(t, err)
	before := m.Legs()

	f.fail = true
	_, _, err = m.Roll(context.Background(), t0.Add(time.Hour))
	require.Error(t, err)
	assert.Equal(t, before, m.Legs())

	f.fail = false
	ups, _, err := m.Roll(context.Background(), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ups[0].MTM.Equal(d("-1500")), "mtm %s", ups[0].MTM)
}

func TestRestore(t *testing.T) {
	t.Parallel()

	mem := newFeed("0")
	mem.Set(market.Key{Kind: market.PerpPrice, Name: market.VenueKey("bybit", pair)}, t0.Add(time.Hour), d("2900"))
	m := newManager(t, mem)
	_, err := m.Open(context.Background(), d("300000"), t0)
	require.NoError(t, err)
	saved := m.Legs()

	_, _, err = m.Roll(context.Background(), t0.Add(time.Hour))
	require.NoError(t, err)
	require.NotEqual(t, saved, m.Legs())

	require.NoError(t, m.Restore(saved))
	assert.Equal(t, saved, m.Legs())

	ups, _, err := m.Roll(context.Background(), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ups[1].MTM.IsPositive())

	require.Error(t, m.Restore(saved[:2]))
	swapped := append([]Leg(nil), saved...)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	require.Error(t, m.Restore(swapped))
}

func TestNetDeltaAndRebalance(t *testing.T) {
	t.Parallel()

	m := newManager(t, newFeed("0"))
	_, err := m.Open(context.Background(), d("300000"), t0)
	require.NoError(t, err)
	require.True(t, m.InitialUnits().Equal(d("100")))

	assert.True(t, m.NetDelta(d("100")).IsZero())
	assert.True(t, m.NetDelta(d("106")).Equal(d("6")))

	drift, need := m.RebalanceNeeded(d("6"))
	assert.True(t, need)
	assert.True(t, drift.Equal(d("0.06")))

	_, need = m.RebalanceNeeded(d("-4"))
	assert.False(t, need)
}

func TestRebalanceWithoutLegs(t *testing.T) {
	t.Parallel()

	m := newManager(t, newFeed("0"))
	_, need := m.RebalanceNeeded(d("10"))
	assert.False(t, need)
}

func TestOneVenueBelowMaintenance(t *testing.T) {
	t.Parallel()

	f := newFeed("0")
	f.Set(market.Key{Kind: market.PerpPrice, Name: market.VenueKey("bybit", pair)}, t0.Add(time.Hour), d("3300"))
	m := newManager(t, f)
	_, err := m.Open(context.Background(), d("300000"), t0)
	require.NoError(t, err)
	_, _, err = m.Roll(context.Background(), t0.Add(time.Hour))
	require.NoError(t, err)

	var in []risk.VenueInput
	for _, l := range m.Legs() {
		in = append(in, l.RiskInput())
	}
	cfg := config.Default()
	a := risk.Assess(risk.NewPolicy(cfg.Lending, cfg.Risk), risk.Inputs{Venues: in, RealizedAPY: 1})

	crit := a.Critical()
	require.Len(t, crit, 1)
	assert.Equal(t, "bybit", crit[0].Venue)
	for _, v := range []string{"binance", "okx"} {
		vm, ok := a.Margin(v)
		require.True(t, ok)
		assert.Equal(t, risk.Safe, vm.Level, v)
	}
}
