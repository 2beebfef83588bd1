// Package hedge keeps short perpetual legs against the long collateral
// exposure and tracks their mark-to-market, funding and margin.
package hedge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/yieldloop/audit"
	"github.com/rustyeddy/yieldloop/config"
	"github.com/rustyeddy/yieldloop/market"
	"github.com/rustyeddy/yieldloop/risk"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrWeights = errors.New("hedge: venue weights must sum to 1")

const precision int32 = 18

var (
	one        = decimal.NewFromInt(1)
	bpsPerUnit = decimal.NewFromInt(10_000)
	weightTol  = decimal.NewFromFloat(config.WeightTolerance)
)

// Venue is one perp venue the hedge is split across.
type Venue struct {
	Name            string
	Pair            string
	Weight          decimal.Decimal
	Limits          risk.VenueLimits
	FundingInterval time.Duration
}

// VenuesFromConfig converts and checks the configured venues.
func VenuesFromConfig(vs []config.VenueConfig) ([]Venue, error) {
	out := make([]Venue, 0, len(vs))
	limits := risk.NewVenueLimits(vs)
	for i, v := range vs {
		every, err := v.FundingEvery()
		if err != nil {
			return nil, fmt.Errorf("venue %s: funding interval: %w", v.Name, err)
		}
		out = append(out, Venue{
			Name:            v.Name,
			Pair:            v.Pair,
			Weight:          decimal.NewFromFloat(v.Weight),
			Limits:          limits[i],
			FundingInterval: every,
		})
	}
	return out, CheckWeights(out)
}

// CheckWeights requires weights that are positive and sum to 1 ± 0.01.
func CheckWeights(vs []Venue) error {
	if len(vs) == 0 {
		return fmt.Errorf("%w: no venues", ErrWeights)
	}
	sum := decimal.Zero
	for _, v := range vs {
		if !v.Weight.IsPositive() {
			return fmt.Errorf("%w: %s weight %s", ErrWeights, v.Name, v.Weight)
		}
		sum = sum.Add(v.Weight)
	}
	if sum.Sub(one).Abs().GreaterThan(weightTol) {
		return fmt.Errorf("%w: got %s", ErrWeights, sum)
	}
	return nil
}

// Leg is the short position on one venue. Monetary fields are USD.
type Leg struct {
	Venue
	ShortUnits    decimal.Decimal
	EntryPrice    decimal.Decimal
	PostedMargin  decimal.Decimal
	ExecutionCost decimal.Decimal
	// CashBalance is margin equity at the venue: posted margin plus every
	// mark-to-market and funding roll since entry.
	CashBalance       decimal.Decimal
	LastMark          decimal.Decimal
	CumulativeFunding decimal.Decimal
	CumulativeMTM     decimal.Decimal
	NextFunding       time.Time
}

// Deposit is what the leg cost to open: posted margin plus execution cost.
func (l Leg) Deposit() decimal.Decimal { return l.PostedMargin.Add(l.ExecutionCost) }

// Notional is the short's value at the last mark.
func (l Leg) Notional() decimal.Decimal { return l.ShortUnits.Mul(l.LastMark) }

// Unrealized is entry-to-mark P&L of the short.
func (l Leg) Unrealized() decimal.Decimal {
	return l.ShortUnits.Mul(l.EntryPrice.Sub(l.LastMark))
}

// RiskInput presents the leg to the risk engine. Unrealized there is every
// gain or loss on top of the posted margin, funding included.
func (l Leg) RiskInput() risk.VenueInput {
	return risk.VenueInput{
		VenueLimits: l.Limits,
		Notional:    l.Notional(),
		Posted:      l.PostedMargin,
		Unrealized:  l.CashBalance.Sub(l.PostedMargin),
	}
}

// Update is one leg's change over a Roll.
type Update struct {
	Venue       string
	PrevMark    decimal.Decimal
	Mark        decimal.Decimal
	ShortUnits  decimal.Decimal
	MTM         decimal.Decimal // −units × Δmark, rolled into cash
	Funding     decimal.Decimal // settled funding, positive when received
	Settlements int
}

// Manager owns the legs. It is safe for concurrent use but the engine drives
// it from a single goroutine.
type Manager struct {
	mu sync.Mutex

	md        *market.Resolver
	venues    []Venue
	policy    risk.Policy
	threshold decimal.Decimal
	base      string
	log       *zap.Logger

	legs         []*Leg
	initialUnits decimal.Decimal
}

// NewManager validates venue weights up front.
func NewManager(md *market.Resolver, venues []Venue, policy risk.Policy, rebalanceThreshold decimal.Decimal, baseAsset string, log *zap.Logger) (*Manager, error) {
	if err := CheckWeights(venues); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		md:        md,
		venues:    venues,
		policy:    policy,
		threshold: rebalanceThreshold,
		base:      baseAsset,
		log:       log,
	}, nil
}

// Open shorts targetNotional (USD) split by weight. Each venue's size is net
// of its execution cost estimate; that cost is paid at the venue on top of
// the posted margin.
func (m *Manager) Open(ctx context.Context, targetNotional decimal.Decimal, at time.Time) ([]audit.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.legs) > 0 {
		return nil, errors.New("hedge: legs already open")
	}
	if !targetNotional.IsPositive() {
		return nil, fmt.Errorf("hedge: target notional must be positive, got %s", targetNotional)
	}

	var events []audit.Event
	units := decimal.Zero
	legs := make([]*Leg, 0, len(m.venues))
	for _, v := range m.venues {
		entry, err := m.md.Perp(ctx, v.Name, v.Pair, at)
		if err != nil {
			return nil, fmt.Errorf("venue %s: %w", v.Name, err)
		}
		if !entry.IsPositive() {
			return nil, fmt.Errorf("venue %s: entry price %s", v.Name, entry)
		}
		alloc := targetNotional.Mul(v.Weight)
		bps, err := m.md.ExecutionCostBps(ctx, v.Name, v.Pair, alloc)
		if err != nil {
			return nil, fmt.Errorf("venue %s: execution cost: %w", v.Name, err)
		}

		cost := alloc.Mul(bps).Div(bpsPerUnit)
		size := alloc.Sub(cost).DivRound(entry, precision)
		notional := size.Mul(entry)
		posted := notional.Mul(risk.SafeMargin(m.policy, v.Limits.InitialMargin))

		leg := &Leg{
			Venue:         v,
			ShortUnits:    size,
			EntryPrice:    entry,
			PostedMargin:  posted,
			ExecutionCost: cost,
			CashBalance:   posted,
			LastMark:      entry,
			NextFunding:   at.Add(v.FundingInterval),
		}
		legs = append(legs, leg)
		units = units.Add(size)

		events = append(events, &audit.HedgeOpenEvent{
			Header:        audit.Header{Time: at, Venue: v.Name, Token: m.base, Amount: size},
			Pair:          v.Pair,
			EntryPrice:    entry,
			Notional:      notional,
			PostedMargin:  posted,
			ExecutionCost: cost,
		})
		m.log.Debug("hedge leg opened",
			zap.String("venue", v.Name),
			zap.String("units", size.StringFixed(6)),
			zap.String("entry", entry.StringFixed(2)),
			zap.String("bps", bps.String()),
		)
	}

	m.legs = legs
	m.initialUnits = units
	return events, nil
}

// Roll marks every leg to at and settles each funding interval that ended in
// (last roll, at]. MTM and funding go into the venue's cash. Legs change
// only if every venue resolves.
func (m *Manager) Roll(ctx context.Context, at time.Time) ([]Update, []audit.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make([]Leg, len(m.legs))
	for i, l := range m.legs {
		next[i] = *l
	}

	updates := make([]Update, 0, len(next))
	var events []audit.Event
	for i := range next {
		l := &next[i]
		mark, err := m.md.Perp(ctx, l.Name, l.Pair, at)
		if err != nil {
			return nil, nil, fmt.Errorf("venue %s: %w", l.Name, err)
		}
		u := Update{Venue: l.Name, PrevMark: l.LastMark, Mark: mark, ShortUnits: l.ShortUnits}
		u.MTM = l.ShortUnits.Mul(l.LastMark.Sub(mark))

		l.LastMark = mark
		l.CashBalance = l.CashBalance.Add(u.MTM)
		l.CumulativeMTM = l.CumulativeMTM.Add(u.MTM)

		for l.FundingInterval > 0 && !l.NextFunding.After(at) {
			settle := l.NextFunding
			rate, err := m.md.Funding(ctx, l.Name, l.Pair, settle)
			if err != nil {
				return nil, nil, fmt.Errorf("venue %s funding: %w", l.Name, err)
			}
			px, err := m.md.Perp(ctx, l.Name, l.Pair, settle)
			if err != nil {
				return nil, nil, fmt.Errorf("venue %s: %w", l.Name, err)
			}
			notional := l.ShortUnits.Mul(px)
			amt := notional.Mul(rate)

			u.Funding = u.Funding.Add(amt)
			u.Settlements++
			l.CashBalance = l.CashBalance.Add(amt)
			l.CumulativeFunding = l.CumulativeFunding.Add(amt)
			l.NextFunding = settle.Add(l.FundingInterval)

			if !rate.IsZero() {
				events = append(events, &audit.FundingEvent{
					Header:   audit.Header{Time: settle, Venue: l.Name, Token: "USD", Amount: amt},
					Rate:     rate,
					Notional: notional,
				})
			}
		}
		updates = append(updates, u)
	}

	for i, l := range next {
		*m.legs[i] = l
	}
	return updates, events, nil
}

// Restore puts the legs back to a state taken with Legs, undoing rolls
// whose period was never recorded.
func (m *Manager) Restore(legs []Leg) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(legs) != len(m.legs) {
		return fmt.Errorf("hedge: restore %d legs onto %d", len(legs), len(m.legs))
	}
	for i, l := range legs {
		if l.Name != m.legs[i].Name {
			return fmt.Errorf("hedge: restore leg %s onto %s", l.Name, m.legs[i].Name)
		}
	}
	for i, l := range legs {
		*m.legs[i] = l
	}
	return nil
}

// Legs returns copies of the open legs in venue order.
func (m *Manager) Legs() []Leg {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Leg, len(m.legs))
	for i, l := range m.legs {
		out[i] = *l
	}
	return out
}

// ShortUnits is the total short across venues.
func (m *Manager) ShortUnits() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, l := range m.legs {
		sum = sum.Add(l.ShortUnits)
	}
	return sum
}

// InitialUnits is the total short at Open, the basis for drift.
func (m *Manager) InitialUnits() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialUnits
}

// Cash is the total cash across venues.
func (m *Manager) Cash() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, l := range m.legs {
		sum = sum.Add(l.CashBalance)
	}
	return sum
}

// Deposits is the total paid in to open the legs.
func (m *Manager) Deposits() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, l := range m.legs {
		sum = sum.Add(l.Deposit())
	}
	return sum
}

// NetDelta is the long base exposure minus the total short.
func (m *Manager) NetDelta(longBase decimal.Decimal) decimal.Decimal {
	return longBase.Sub(m.ShortUnits())
}

// RebalanceNeeded reports |delta| / initial short units and whether it
// exceeds the threshold. Without legs there is nothing to rebalance.
func (m *Manager) RebalanceNeeded(delta decimal.Decimal) (decimal.Decimal, bool) {
	basis := m.InitialUnits()
	if !basis.IsPositive() {
		return decimal.Zero, false
	}
	drift := delta.Abs().DivRound(basis, precision)
	return drift, drift.GreaterThan(m.threshold)
}
