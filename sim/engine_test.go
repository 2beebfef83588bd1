package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/yieldloop/audit"
	"github.com/rustyeddy/yieldloop/config"
	"github.com/rustyeddy/yieldloop/internal/id"
	"github.com/rustyeddy/yieldloop/journal"
	"github.com/rustyeddy/yieldloop/market"
	"github.com/rustyeddy/yieldloop/position"
	"github.com/rustyeddy/yieldloop/risk"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memJournal collects rows; onPeriod runs after each period is stored.
type memJournal struct {
	mu       sync.Mutex
	periods  []journal.PeriodRow
	events   []journal.EventRow
	onPeriod func(n int)
}

func (j *memJournal) RecordPeriod(p journal.PeriodRow) error {
	j.mu.Lock()
	j.periods = append(j.periods, p)
	n := len(j.periods)
	j.mu.Unlock()
	if j.onPeriod != nil {
		j.onPeriod(n)
	}
	return nil
}

func (j *memJournal) RecordEvent(e journal.EventRow) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
	return nil
}

func (j *memJournal) Close() error { return nil }

func testConfig(hours int) *config.Config {
	cfg := config.Default()
	cfg.Run.ID = "test-run"
	cfg.Run.End = cfg.Run.Start.Add(time.Duration(hours) * time.Hour)
	cfg.Run.Step = "1h"
	return cfg
}

func demoFeed(t *testing.T, cfg *config.Config, mutate func(*market.SyntheticParams)) *market.MemoryFeed {
	t.Helper()
	p, err := DemoParams(cfg, 42)
	require.NoError(t, err)
	if mutate != nil {
		mutate(&p)
	}
	return market.Synthetic(p)
}

func flat(p *market.SyntheticParams) {
	p.Volatility = 0
	for i := range p.Venues {
		p.Venues[i].FundingRate = 0
	}
}

func newEngine(t *testing.T, cfg *config.Config, feed market.Feed, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithIDs(id.NewSeeded(1))}, opts...)
	e, err := New(cfg, feed, opts...)
	require.NoError(t, err)
	return e
}

func counterValue(t *testing.T, e *Engine, name, label, value string) float64 {
	t.Helper()
	families, err := e.Metrics().Registry.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := label == ""
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					match = true
				}
			}
			if !match {
				continue
			}
			if m.GetCounter() != nil {
				total += m.GetCounter().GetValue()
			}
			if m.GetGauge() != nil {
				total += m.GetGauge().GetValue()
			}
		}
	}
	return total
}

func TestRunReconcilesEveryPeriod(t *testing.T) {
	t.Parallel()

	cfg := testConfig(72)
	j := &memJournal{}
	e := newEngine(t, cfg, demoFeed(t, cfg, nil), WithJournal(j))

	require.NoError(t, e.Run(context.Background()))

	recs := e.Records()
	require.Len(t, recs, 73)
	for _, r := range recs {
		assert.True(t, r.Reconciled, "period %d diff %s", r.Index, r.Diff)
	}
	assert.True(t, recs[0].Components.TransactionCosts.IsNegative())
	for _, r := range recs[1:] {
		assert.True(t, r.Components.TransactionCosts.IsZero())
	}

	assert.Len(t, e.Assessments(), 73)
	assert.Len(t, e.Legs(), 3)
	assert.Equal(t, "test-run", e.RunID())

	s, err := e.Finalize()
	require.NoError(t, err)
	assert.Equal(t, 73, s.Periods)
	assert.Zero(t, s.ReconciliationFailures)
	assert.True(t, s.FinalValue.Equal(recs[72].TotalValue))
	assert.Equal(t, cfg.Run.End, s.End)

	evs := e.Events()
	assert.Len(t, j.periods, 73)
	assert.Len(t, j.events, len(evs))
	for i := 1; i < len(evs); i++ {
		a, b := evs[i-1].Head(), evs[i].Head()
		assert.False(t, b.Time.Before(a.Time))
		assert.NotEmpty(t, b.ID)
	}

	kinds := map[audit.Kind]int{}
	for _, ev := range evs {
		kinds[ev.Kind()]++
	}
	assert.Equal(t, 1, kinds[audit.KindFlashLoan])
	assert.Equal(t, 3, kinds[audit.KindHedgeOpen])
	assert.Equal(t, 3*9, kinds[audit.KindFunding]) // 9 settlements per venue in 72h
	assert.Zero(t, kinds[audit.KindReconciliationFail])
	assert.Equal(t, "test-run", j.periods[0].RunID)
	assert.NotEmpty(t, j.periods[0].RiskLevel)
}

func TestFlatMarketHasNoDeltaOrFunding(t *testing.T) {
	t.Parallel()

	cfg := testConfig(48)
	e := newEngine(t, cfg, demoFeed(t, cfg, flat))
	require.NoError(t, e.Run(context.Background()))

	s, err := e.Finalize()
	require.NoError(t, err)
	assert.True(t, s.Totals.DeltaPnL.IsZero(), s.Totals.DeltaPnL.String())
	assert.True(t, s.Totals.Funding.IsZero())
	assert.True(t, s.Totals.HedgeMTM.IsZero())
	assert.True(t, s.ReconciliationDiff.Abs().LessThan(decimal.New(1, -9)), s.ReconciliationDiff.String())
	assert.True(t, s.Totals.SupplyYield.IsPositive())
	assert.True(t, s.Totals.BorrowCost.IsPositive())
	assert.True(t, s.Totals.RewardYield.IsPositive())
	for _, ev := range e.Events() {
		assert.NotEqual(t, audit.KindFunding, ev.Kind())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(48)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	j := &memJournal{onPeriod: func(n int) {
		if n == 3 {
			cancel()
		}
	}}
	e := newEngine(t, cfg, demoFeed(t, cfg, nil), WithJournal(j))

	err := e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	recs := e.Records()
	require.Len(t, recs, 3)
	for _, r := range recs {
		assert.True(t, r.Reconciled)
	}
	s, err := e.Finalize()
	require.NoError(t, err)
	assert.Equal(t, 3, s.Periods)
}

func TestStepOrdering(t *testing.T) {
	t.Parallel()

	cfg := testConfig(24)
	e := newEngine(t, cfg, demoFeed(t, cfg, nil))
	ctx := context.Background()

	require.ErrorIs(t, e.Step(ctx, cfg.Run.Start.Add(time.Hour)), ErrNotStarted)
	_, err := e.Finalize()
	require.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, e.Start(ctx))
	require.ErrorIs(t, e.Start(ctx), ErrAlreadyStarted)

	require.Error(t, e.Step(ctx, cfg.Run.Start))
	require.NoError(t, e.Step(ctx, cfg.Run.Start.Add(2*time.Hour)))
	require.Error(t, e.Step(ctx, cfg.Run.Start.Add(time.Hour)))
	assert.Len(t, e.Records(), 2)

	// Run resumes from the last stepped period.
	require.NoError(t, e.Run(ctx))
	assert.Len(t, e.Records(), 24)
}

func TestLoopConstruction(t *testing.T) {
	t.Parallel()

	cfg := testConfig(24)
	cfg.Construction.Mode = config.ModeLoop
	e := newEngine(t, cfg, demoFeed(t, cfg, nil))
	require.NoError(t, e.Run(context.Background()))

	res := e.Construction()
	assert.Equal(t, cfg.Construction.MaxIterations+1, res.Iterations)
	assert.True(t, res.GasSpent.IsPositive())
	assert.True(t, res.GasDebt.IsZero())
	for _, r := range e.Records() {
		assert.True(t, r.Reconciled, "period %d diff %s", r.Index, r.Diff)
	}
	for _, a := range e.Assessments() {
		assert.NotEqual(t, risk.Critical, a.Levels[risk.MetricHealthFactor])
	}
}

func TestUnsafeAtomicEntry(t *testing.T) {
	t.Parallel()

	cfg := testConfig(24)
	cfg.Construction.MinHealthFactor = 1.1
	cfg.Construction.EnforceMinHealthFactor = true
	e := newEngine(t, cfg, demoFeed(t, cfg, nil))

	err := e.Run(context.Background())
	require.ErrorIs(t, err, position.ErrUnsafeEntry)
	assert.Empty(t, e.Records())

	cfg = testConfig(24)
	cfg.Construction.MinHealthFactor = 1.1
	e = newEngine(t, cfg, demoFeed(t, cfg, nil))
	require.NoError(t, e.Run(context.Background()))
	assert.True(t, e.Construction().HealthFactor.LessThan(decimal.NewFromFloat(1.1)))
}

func TestPerpSpikeFlagsOneVenue(t *testing.T) {
	t.Parallel()

	cfg := testConfig(12)
	feed := demoFeed(t, cfg, flat)
	spike := cfg.Run.Start.Add(5 * time.Hour)
	feed.SetFloat(market.Key{Kind: market.PerpPrice, Name: market.VenueKey("bybit", "ETHUSDT")}, spike, 4500)

	e := newEngine(t, cfg, feed)
	require.NoError(t, e.Run(context.Background()))

	var liq []*audit.LiquidationRiskEvent
	for _, ev := range e.Events() {
		if l, ok := ev.(*audit.LiquidationRiskEvent); ok {
			liq = append(liq, l)
		}
	}
	require.Len(t, liq, 1)
	assert.Equal(t, "bybit", liq[0].Venue)
	assert.Equal(t, risk.MetricMarginRatio, liq[0].Metric)
	assert.Equal(t, spike, liq[0].Time)
	assert.True(t, liq[0].Value.LessThan(liq[0].Threshold))

	as := e.Assessments()
	m, ok := as[5].Margin("bybit")
	require.True(t, ok)
	assert.Equal(t, risk.Critical, m.Level)
	assert.True(t, m.Liquidation.Liquidatable)
	for _, venue := range []string{"binance", "okx"} {
		m, ok := as[5].Margin(venue)
		require.True(t, ok)
		assert.NotEqual(t, risk.Critical, m.Level, venue)
	}
	m, _ = as[6].Margin("bybit")
	assert.NotEqual(t, risk.Critical, m.Level)

	for _, r := range e.Records() {
		assert.True(t, r.Reconciled)
	}
}

func TestReconciliationFailuresAreReported(t *testing.T) {
	t.Parallel()

	cfg := testConfig(24)
	cfg.Reconciliation.AbsTolerance = 1e-12
	cfg.Reconciliation.RelTolerance = 0
	e := newEngine(t, cfg, demoFeed(t, cfg, nil))
	require.NoError(t, e.Run(context.Background()))

	s, err := e.Finalize()
	require.NoError(t, err)
	require.Positive(t, s.ReconciliationFailures)

	var fails int
	for _, ev := range e.Events() {
		if ev.Kind() == audit.KindReconciliationFail {
			fails++
		}
	}
	assert.Equal(t, s.ReconciliationFailures, fails)
	assert.Equal(t, float64(fails), counterValue(t, e, "yieldloop_pnl_reconciliation_failures_total", "", ""))

	// Diffs are reported, never corrected.
	recs := e.Records()
	last := recs[len(recs)-1]
	assert.True(t, last.TotalValue.Sub(last.Expected).Equal(last.Diff))
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	cfg := testConfig(24)
	e := newEngine(t, cfg, demoFeed(t, cfg, nil))
	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, 25.0, counterValue(t, e, "yieldloop_engine_periods_total", "", ""))
	assert.Equal(t, 3.0, counterValue(t, e, "yieldloop_audit_events_total", "kind", string(audit.KindHedgeOpen)))
	assert.Zero(t, counterValue(t, e, "yieldloop_pnl_reconciliation_failures_total", "", ""))

	recs := e.Records()
	assert.InDelta(t, recs[len(recs)-1].TotalValue.InexactFloat64(),
		counterValue(t, e, "yieldloop_pnl_total_value_usd", "", ""), 1e-6)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(24)
	cfg.Lending.LiquidationThreshold = 0
	_, err := New(cfg, market.NewMemoryFeed())
	require.ErrorIs(t, err, config.ErrInvalid)

	_, err = New(nil, market.NewMemoryFeed())
	require.ErrorIs(t, err, config.ErrInvalid)

	cfg = testConfig(24)
	cfg.Hedge.Venues[0].Weight = 0.9
	_, err = New(cfg, market.NewMemoryFeed())
	require.Error(t, err)
}

func TestDemoParams(t *testing.T) {
	t.Parallel()

	cfg := testConfig(10)
	p, err := DemoParams(cfg, 3)
	require.NoError(t, err)
	assert.Equal(t, 10, p.Periods)
	assert.Equal(t, time.Hour, p.Step)
	require.Len(t, p.Venues, 3)
	assert.Equal(t, "ETH-USDT-SWAP", p.Venues[2].Pair)
	assert.Equal(t, 8*time.Hour, p.Venues[0].FundingInterval)
	assert.Contains(t, p.Gas, position.OpFlashBundle)

	cfg.Run.End = cfg.Run.Start
	_, err = DemoParams(cfg, 3)
	require.ErrorIs(t, err, config.ErrInvalid)
}

// flakyFeed fails lookups of one key at one time, fails times.
type flakyFeed struct {
	market.Feed
	key   market.Key
	at    time.Time
	fails int
}

func (f *flakyFeed) Lookup(ctx context.Context, key market.Key, at time.Time) (market.Sample, error) {
	if f.fails > 0 && key == f.key && at.Equal(f.at) {
		f.fails--
		return market.Sample{}, errors.New("feed unavailable")
	}
	return f.Feed.Lookup(ctx, key, at)
}

func TestFailedStepLeavesNoTrace(t *testing.T) {
	t.Parallel()

	cfg := testConfig(12)
	perp := market.Key{Kind: market.PerpPrice, Name: market.VenueKey("okx", "ETH-USDT-SWAP")}
	h := func(n int) time.Time { return cfg.Run.Start.Add(time.Duration(n) * time.Hour) }
	tests := []struct {
		name   string
		key    market.Key
		lookup time.Time // the failing lookup
		step   time.Time // the step that makes it
	}{
		// Step reads the reward rate at the previous period.
		{"reward lookup", market.Key{Kind: market.RewardYield, Name: cfg.Assets.RewardProgram}, h(6), h(7)},
		// okx rolls after binance and bybit have been marked.
		{"last hedge venue", perp, h(7), h(7)},
		// binance and bybit have already settled funding at 8h.
		{"funding settlement", market.Key{Kind: market.FundingRate, Name: perp.Name}, h(8), h(8)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clean := newEngine(t, cfg, demoFeed(t, cfg, nil))
			require.NoError(t, clean.Run(context.Background()))
			want, err := clean.Finalize()
			require.NoError(t, err)

			feed := &flakyFeed{Feed: demoFeed(t, cfg, nil), key: tt.key, at: tt.lookup}
			e := newEngine(t, cfg, feed)
			ctx := context.Background()
			require.NoError(t, e.Start(ctx))
			for at := h(1); at.Before(tt.step); at = at.Add(time.Hour) {
				require.NoError(t, e.Step(ctx, at))
			}

			before := e.Legs()
			feed.fails = 1
			require.Error(t, e.Step(ctx, tt.step))
			assert.Equal(t, before, e.Legs())
			assert.Len(t, e.Records(), int(tt.step.Sub(cfg.Run.Start)/time.Hour))

			require.NoError(t, e.Run(ctx))
			got, err := e.Finalize()
			require.NoError(t, err)
			assert.Zero(t, got.ReconciliationFailures)
			assert.Equal(t, want.Periods, got.Periods)
			assert.True(t, want.FinalValue.Equal(got.FinalValue), "%s != %s", want.FinalValue, got.FinalValue)
			assert.True(t, want.NetPnL.Equal(got.NetPnL), "%s != %s", want.NetPnL, got.NetPnL)
			assert.True(t, want.Totals.Funding.Equal(got.Totals.Funding))
			assert.True(t, want.Totals.HedgeMTM.Equal(got.Totals.HedgeMTM))
			assert.Equal(t, len(clean.Events()), len(e.Events()))
		})
	}
}

func TestStartRetryAfterHedgeFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(6)
	perp := market.Key{Kind: market.PerpPrice, Name: market.VenueKey("okx", "ETH-USDT-SWAP")}
	feed := &flakyFeed{Feed: demoFeed(t, cfg, nil), key: perp, at: cfg.Run.Start, fails: 1}
	j := &memJournal{}
	e := newEngine(t, cfg, feed, WithJournal(j))
	ctx := context.Background()

	require.Error(t, e.Start(ctx))
	assert.Empty(t, e.Events())
	assert.Empty(t, j.events)
	assert.Empty(t, e.Records())

	require.NoError(t, e.Start(ctx))
	kinds := map[audit.Kind]int{}
	for _, ev := range e.Events() {
		kinds[ev.Kind()]++
	}
	assert.Equal(t, 1, kinds[audit.KindFlashLoan])
	assert.Equal(t, 1, kinds[audit.KindStake])
	assert.Equal(t, 3, kinds[audit.KindHedgeOpen])
	require.Len(t, e.Records(), 1)
	assert.True(t, e.Records()[0].Reconciled)
}

func TestNoTighteningBeforeAPYWarmup(t *testing.T) {
	t.Parallel()

	cfg := testConfig(48)
	e := newEngine(t, cfg, demoFeed(t, cfg, nil))
	require.NoError(t, e.Run(context.Background()))

	for _, a := range e.Assessments() {
		assert.Equal(t, 1.0, a.Tightening, "at %s", a.Time)
		assert.Equal(t, risk.Safe, a.Levels[risk.MetricHealthFactor], "at %s", a.Time)
	}
}
