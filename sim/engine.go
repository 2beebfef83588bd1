// Package sim drives a run: it builds the position and hedges, then steps
// through time sequencing accounting, attribution, risk and hedging.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/yieldloop/accounting"
	"github.com/rustyeddy/yieldloop/audit"
	"github.com/rustyeddy/yieldloop/config"
	"github.com/rustyeddy/yieldloop/hedge"
	"github.com/rustyeddy/yieldloop/internal/id"
	"github.com/rustyeddy/yieldloop/internal/metrics"
	"github.com/rustyeddy/yieldloop/journal"
	"github.com/rustyeddy/yieldloop/market"
	"github.com/rustyeddy/yieldloop/pnl"
	"github.com/rustyeddy/yieldloop/position"
	"github.com/rustyeddy/yieldloop/risk"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrNotStarted     = errors.New("sim: engine not started")
	ErrAlreadyStarted = errors.New("sim: engine already started")

	// ErrStartFailed is returned by Start after an earlier Start opened
	// hedge legs and then failed.
	ErrStartFailed = errors.New("sim: start failed")
)

type Engine struct {
	mu sync.Mutex

	cfg     *config.Config
	step    time.Duration
	md      *market.Resolver
	log     *zap.Logger
	journal journal.Journal
	metrics *metrics.Metrics
	ids     *id.Generator
	runID   string

	assets      position.Assets
	constructor *position.Constructor
	valuer      *accounting.Valuer
	policy      risk.Policy
	hedges      *hedge.Manager // nil when hedging is disabled
	events      *audit.Log
	attr        *pnl.Attributor

	pos          accounting.Position
	construction position.Result
	prev         accounting.Snapshot
	gasDebtUSD   decimal.Decimal
	rewardsUSD   decimal.Decimal
	assessments  []risk.Assessment
	critical     map[string]bool // liquidation-risk keys currently breached
	rebalancing  bool
	started      bool
	startErr     error
}

// New wires an engine from a validated configuration and a market feed.
func New(cfg *config.Config, feed market.Feed, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", config.ErrInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	step, err := cfg.Run.StepDuration()
	if err != nil {
		return nil, fmt.Errorf("%w: run.step: %v", config.ErrInvalid, err)
	}
	stale, err := cfg.Run.Staleness()
	if err != nil {
		return nil, fmt.Errorf("%w: run.max_staleness: %v", config.ErrInvalid, err)
	}

	e := &Engine{
		cfg:      cfg,
		step:     step,
		critical: map[string]bool{},
	}
	for _, o := range opts {
		o(e)
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.journal == nil {
		e.journal = journal.Nop{}
	}
	if e.metrics == nil {
		e.metrics = metrics.New(nil)
	}
	if e.ids == nil {
		e.ids = id.NewGenerator()
	}
	if e.runID == "" {
		e.runID = cfg.Run.ID
	}
	if e.runID == "" {
		e.runID = e.ids.New(cfg.Run.Start)
	}
	e.log = e.log.With(zap.String("run_id", e.runID))

	e.md = market.NewResolver(feed, e.log.Named("market"),
		market.WithMaxStaleness(stale),
		market.WithFallbackHook(func(k market.Kind) {
			e.metrics.DataFallbacks.WithLabelValues(string(k)).Inc()
		}),
	)

	a := cfg.Assets
	e.assets = position.Assets{
		Base:         a.BaseAsset,
		Collateral:   a.CollateralToken,
		Debt:         a.DebtToken,
		StakingVenue: a.StakingVenue,
		LendingVenue: a.LendingVenue,
	}
	e.constructor = position.NewConstructor(e.md, e.assets, e.log.Named("position"))
	e.valuer = accounting.NewValuer(e.md, a.BaseAsset)
	e.policy = risk.NewPolicy(cfg.Lending, cfg.Risk)

	if cfg.Hedge.Enabled {
		venues, err := hedge.VenuesFromConfig(cfg.Hedge.Venues)
		if err != nil {
			return nil, err
		}
		e.hedges, err = hedge.NewManager(e.md, venues, e.policy,
			decimal.NewFromFloat(cfg.Hedge.RebalanceThreshold), a.BaseAsset, e.log.Named("hedge"))
		if err != nil {
			return nil, err
		}
	}

	e.events = audit.NewLog(
		audit.WithIDs(func(ev audit.Event) string { return e.ids.New(ev.Head().Time) }),
		audit.WithHook(e.onEvent),
	)
	return e, nil
}

func (e *Engine) onEvent(ev audit.Event) {
	e.metrics.Events.WithLabelValues(string(ev.Kind())).Inc()
	if err := e.journal.RecordEvent(journal.NewEventRow(e.runID, ev)); err != nil {
		e.log.Error("journal event", zap.Error(err), zap.String("kind", string(ev.Kind())))
	}
}

func (e *Engine) RunID() string { return e.runID }

// Start builds the position and hedges at the configured start time and
// records the first period.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return ErrAlreadyStarted
	}
	if e.startErr != nil {
		return fmt.Errorf("%w: %v", ErrStartFailed, e.startErr)
	}
	at := e.cfg.Run.Start

	res, err := e.construct(ctx, at)
	if err != nil {
		return fmt.Errorf("construct position: %w", err)
	}
	price, err := e.md.Spot(ctx, e.assets.Base, at)
	if err != nil {
		return fmt.Errorf("entry price: %w", err)
	}
	snap, err := e.valuer.Snapshot(ctx, res.Position, at)
	if err != nil {
		return err
	}

	events := res.Events
	execution := decimal.Zero
	deposits := decimal.Zero
	if e.hedges != nil {
		evs, err := e.hedges.Open(ctx, snap.EquityUSD(), at)
		if err != nil {
			return fmt.Errorf("open hedges: %w", err)
		}
		events = append(events, evs...)
		for _, l := range e.hedges.Legs() {
			execution = execution.Add(l.ExecutionCost)
		}
		deposits = e.hedges.Deposits()
	}

	principal := decimal.NewFromFloat(e.cfg.Construction.Principal)
	initial := principal.Mul(price).Add(deposits)
	attr := pnl.NewAttributor(initial, pnl.Tolerance{
		Abs: decimal.NewFromFloat(e.cfg.Reconciliation.AbsTolerance),
		Rel: decimal.NewFromFloat(e.cfg.Reconciliation.RelTolerance),
	})
	costs := pnl.Costs{
		Gas:       res.GasSpent.Add(res.GasDebt).Sub(res.FlashFee).Mul(price),
		FlashFee:  res.FlashFee.Mul(price),
		Execution: execution,
	}

	e.construction = res
	e.pos = res.Position
	e.gasDebtUSD = res.GasDebt.Mul(price)
	// Legs are open now; a failure from here on ends the engine.
	rec, err := attr.First(snap, costs, e.value(snap, e.rewardsUSD))
	if err != nil {
		return e.failStart(err)
	}
	e.attr = attr
	e.events.Append(events...)
	e.started = true
	e.log.Info("position constructed",
		zap.String("mode", e.cfg.Construction.Mode),
		zap.Int("iterations", res.Iterations),
		zap.String("collateral_units", snap.CollateralUnits.StringFixed(6)),
		zap.String("debt", snap.DebtBase.StringFixed(6)),
		zap.String("initial_value", initial.StringFixed(2)),
		zap.String("costs_usd", costs.Total().StringFixed(4)),
	)
	return e.afterPeriod(snap, rec)
}

func (e *Engine) failStart(err error) error {
	e.startErr = err
	e.log.Error("start failed", zap.Error(err))
	return err
}

func (e *Engine) construct(ctx context.Context, at time.Time) (position.Result, error) {
	c := e.cfg.Construction
	f := decimal.NewFromFloat
	switch c.Mode {
	case config.ModeLoop:
		return e.constructor.Loop(ctx, at, position.LoopParams{
			Principal:     f(c.Principal),
			LTV:           f(c.LoopLTV),
			MinPosition:   f(c.MinPosition),
			MaxIterations: c.MaxIterations,
		})
	case config.ModeAtomic:
		return e.constructor.Atomic(ctx, at, position.AtomicParams{
			Equity:                 f(c.Principal),
			TargetLTV:              f(e.cfg.Lending.MaxLTV).Sub(f(e.cfg.Risk.OracleBuffer)),
			LiquidationThreshold:   f(e.cfg.Lending.LiquidationThreshold),
			FlashFeeBps:            f(c.FlashFeeBps),
			MinHealthFactor:        f(c.MinHealthFactor),
			EnforceMinHealthFactor: c.EnforceMinHealthFactor,
		})
	}
	return position.Result{}, fmt.Errorf("%w: mode %q", position.ErrConfig, c.Mode)
}

// value is the direct valuation behind reconciliation.
func (e *Engine) value(s accounting.Snapshot, rewards decimal.Decimal) pnl.Value {
	v := pnl.Value{
		Collateral: s.CollateralUSD(),
		Wallet:     s.WalletUSD(),
		Rewards:    rewards,
		Debt:       s.DebtUSD(),
		GasDebt:    e.gasDebtUSD,
	}
	if e.hedges != nil {
		v.VenueCash = e.hedges.Cash()
	}
	return v
}

// Step advances the run to at. Steps are serialised.
func (e *Engine) Step(ctx context.Context, at time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return ErrNotStarted
	}
	if !at.After(e.prev.Time) {
		return fmt.Errorf("sim: step to %s is not after %s", at.Format(time.RFC3339), e.prev.Time.Format(time.RFC3339))
	}

	snap, err := e.valuer.Snapshot(ctx, e.pos, at)
	if err != nil {
		return fmt.Errorf("snapshot at %s: %w", at.Format(time.RFC3339), err)
	}
	p := pnl.Period{Cur: snap}
	p.RewardDaily, err = e.md.Reward(ctx, e.cfg.Assets.RewardProgram, e.prev.Time)
	if err != nil {
		return fmt.Errorf("reward yield: %w", err)
	}
	rewards := e.rewardsUSD.Add(pnl.Reward(e.prev, p.RewardDaily, at))

	// Hedge legs roll before the period is recorded; put them back if it
	// never is.
	var saved []hedge.Leg
	var evs []audit.Event
	if e.hedges != nil {
		saved = e.hedges.Legs()
		p.Hedges, evs, err = e.hedges.Roll(ctx, at)
		if err != nil {
			return fmt.Errorf("roll hedges: %w", err)
		}
		for _, l := range e.hedges.Legs() {
			p.HedgeMTM = p.HedgeMTM.Add(l.Unrealized())
		}
	}

	rec, err := e.attr.Next(p, e.value(snap, rewards))
	if err != nil {
		if saved != nil {
			if rerr := e.hedges.Restore(saved); rerr != nil {
				e.log.Error("restore hedge legs", zap.Error(rerr))
			}
		}
		return err
	}
	e.rewardsUSD = rewards
	e.events.Append(evs...)
	return e.afterPeriod(snap, rec)
}

// afterPeriod runs risk and hedge checks on a recorded period and publishes
// it. Risk breaches are reported, never enforced.
func (e *Engine) afterPeriod(snap accounting.Snapshot, rec pnl.Record) error {
	e.prev = snap
	at := snap.Time

	if !rec.Reconciled {
		e.metrics.ReconciliationFailures.Inc()
		e.log.Error("reconciliation failure",
			zap.Int("period", rec.Index),
			zap.Time("at", at),
			zap.String("direct", rec.TotalValue.StringFixed(6)),
			zap.String("attributed", rec.Expected.StringFixed(6)),
			zap.String("diff", rec.Diff.StringFixed(6)),
			zap.String("tolerance", rec.Tolerance.String()),
		)
		e.events.Append(&audit.ReconciliationFailureEvent{
			Header:     audit.Header{Time: at, Token: "USD", Amount: rec.Diff},
			Direct:     rec.TotalValue,
			Attributed: rec.Expected,
			Tolerance:  rec.Tolerance,
		})
	}

	perf := e.attr.Performance()
	in := risk.Inputs{
		Time:        at,
		Collateral:  snap.CollateralUSD(),
		Debt:        snap.DebtUSD(),
		RealizedAPY: perf.APY,
		APYMeasured: perf.APYMeasured,
		Drawdown:    perf.Drawdown,
	}
	var legs []hedge.Leg
	if e.hedges != nil {
		legs = e.hedges.Legs()
		for _, l := range legs {
			in.Venues = append(in.Venues, l.RiskInput())
		}
	}
	a := risk.Assess(e.policy, in)
	e.assessments = append(e.assessments, a)
	e.liquidationEvents(snap, a, legs)

	delta := snap.EquityBase()
	if e.hedges != nil {
		delta = e.hedges.NetDelta(delta)
		drift, need := e.hedges.RebalanceNeeded(delta)
		if need && !e.rebalancing {
			e.log.Warn("hedge drift past rebalance threshold",
				zap.Time("at", at),
				zap.String("net_delta", delta.StringFixed(6)),
				zap.String("drift", drift.StringFixed(4)),
			)
			e.events.Append(&audit.RebalanceTriggerEvent{
				Header:    audit.Header{Time: at, Token: e.assets.Base, Amount: delta},
				DriftPct:  drift,
				Threshold: decimal.NewFromFloat(e.cfg.Hedge.RebalanceThreshold),
			})
		}
		e.rebalancing = need
	}

	row := journal.NewPeriodRow(e.runID, rec)
	row.HealthFactor = a.HealthFactor
	row.LTV = a.LTV
	row.NetDelta = delta
	row.RiskLevel = a.Level.String()
	if err := e.journal.RecordPeriod(row); err != nil {
		return fmt.Errorf("journal period %d: %w", rec.Index, err)
	}

	e.observe(rec, a, delta)
	e.log.Debug("period",
		zap.Int("index", rec.Index),
		zap.Time("at", at),
		zap.String("net", rec.Net.StringFixed(6)),
		zap.String("total_value", rec.TotalValue.StringFixed(2)),
		zap.String("health_factor", a.HealthFactor.StringFixed(4)),
		zap.Stringer("level", a.Level),
	)
	return nil
}

// liquidationEvents emits one event per metric or venue as it first
// becomes critical.
func (e *Engine) liquidationEvents(snap accounting.Snapshot, a risk.Assessment, legs []hedge.Leg) {
	now := map[string]bool{}
	for _, v := range a.Critical() {
		key := v.Metric + "/" + v.Venue
		if now[key] {
			continue
		}
		now[key] = true
		if e.critical[key] {
			continue
		}

		ev := &audit.LiquidationRiskEvent{
			Header:    audit.Header{Time: a.Time, Venue: v.Venue, Token: "USD"},
			Metric:    v.Metric,
			Value:     v.Value,
			Threshold: v.Limit,
		}
		if v.Venue == "" {
			ev.Venue = e.assets.LendingVenue
			ev.Amount = snap.DebtUSD()
		}
		for _, l := range legs {
			if l.Name == v.Venue {
				ev.Amount = l.PostedMargin
			}
		}
		e.log.Warn("liquidation risk",
			zap.String("venue", ev.Venue),
			zap.String("metric", v.Metric),
			zap.String("value", v.Value.StringFixed(4)),
			zap.String("threshold", v.Limit.String()),
		)
		e.events.Append(ev)
	}
	e.critical = now
}

func (e *Engine) observe(rec pnl.Record, a risk.Assessment, delta decimal.Decimal) {
	m := e.metrics
	m.Periods.WithLabelValues(a.Level.String()).Inc()
	m.TotalValue.Set(rec.TotalValue.InexactFloat64())
	m.ReconcileDiff.Set(rec.Diff.InexactFloat64())
	m.HealthFactor.Set(a.HealthFactor.InexactFloat64())
	m.LTV.Set(a.LTV.InexactFloat64())
	m.NetDelta.Set(delta.InexactFloat64())
	for metric, lvl := range a.Levels {
		m.RiskLevel.WithLabelValues(metric).Set(float64(lvl))
	}
	for _, vm := range a.Margins {
		m.MarginRatio.WithLabelValues(vm.Venue).Set(vm.Ratio.InexactFloat64())
	}
	for name, v := range rec.Cumulative.Map() {
		m.ComponentTotal.WithLabelValues(name).Set(v.InexactFloat64())
	}
}

// Run starts the engine if needed and steps from the last period to the
// configured end. Cancellation is checked between periods; periods already
// recorded stay valid.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if !started {
		if err := e.Start(ctx); err != nil {
			return err
		}
	}

	for at := e.last().Add(e.step); !at.After(e.cfg.Run.End); at = at.Add(e.step) {
		if err := ctx.Err(); err != nil {
			e.log.Info("run cancelled", zap.Time("at", at), zap.Int("periods", len(e.Records())))
			return err
		}
		if err := e.Step(ctx, at); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) last() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prev.Time
}

// Finalize returns the run summary. It may be called at any point after
// Start, including after a cancelled Run.
func (e *Engine) Finalize() (pnl.Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return pnl.Summary{}, ErrNotStarted
	}
	s := e.attr.Summary()
	e.log.Info("run summary",
		zap.Int("periods", s.Periods),
		zap.String("initial", s.InitialValue.StringFixed(2)),
		zap.String("final", s.FinalValue.StringFixed(2)),
		zap.String("net_pnl", s.NetPnL.StringFixed(4)),
		zap.Float64("apy", s.APY),
		zap.Float64("max_drawdown", s.MaxDrawdown),
		zap.String("reconciliation_diff", s.ReconciliationDiff.StringFixed(6)),
		zap.Int("reconciliation_failures", s.ReconciliationFailures),
	)
	return s, nil
}

// Records returns the P&L series so far.
func (e *Engine) Records() []pnl.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.attr == nil {
		return nil
	}
	return e.attr.Records()
}

// Events returns the audit log in (time, seq) order.
func (e *Engine) Events() []audit.Event { return e.events.Events() }

// Assessments returns one risk assessment per recorded period.
func (e *Engine) Assessments() []risk.Assessment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]risk.Assessment(nil), e.assessments...)
}

// Construction is the entry result.
func (e *Engine) Construction() position.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.construction
}

// Legs returns the hedge legs, if hedging is enabled.
func (e *Engine) Legs() []hedge.Leg {
	if e.hedges == nil {
		return nil
	}
	return e.hedges.Legs()
}

func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }
