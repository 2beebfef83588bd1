package market

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Resolver sits between the engine and a Feed. It remembers the last good
// sample per key and serves it when the feed comes back empty, logging the
// fallback. Reward, funding and gas series are optional and read as zero when the
// feed has nothing.
type Resolver struct {
	feed       Feed
	log        *zap.Logger
	maxStale   time.Duration
	last       map[Key]Sample
	onFallback func(Kind)
}

type ResolverOption func(*Resolver)

// WithMaxStaleness logs a fallback warning whenever the feed answers with a
// sample older than d.
func WithMaxStaleness(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.maxStale = d }
}

// WithFallbackHook is called with the series kind on every fallback.
func WithFallbackHook(fn func(Kind)) ResolverOption {
	return func(r *Resolver) { r.onFallback = fn }
}

func NewResolver(feed Feed, log *zap.Logger, opts ...ResolverOption) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Resolver{
		feed: feed,
		log:  log,
		last: make(map[Key]Sample),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func optional(k Kind) bool { return k == RewardYield || k == FundingRate || k == GasCost }

// Schedules hold a value until the next sample, so age is not staleness.
func schedule(k Kind) bool { return k == RewardYield || k == GasCost }

// Sample resolves key at t.
func (r *Resolver) Sample(ctx context.Context, key Key, at time.Time) (Sample, error) {
	s, err := r.feed.Lookup(ctx, key, at)
	if err == nil {
		if r.maxStale > 0 && !schedule(key.Kind) && at.Sub(s.Time) > r.maxStale {
			r.fallback(key, at, s, "stale sample")
		}
		r.last[key] = s
		return s, nil
	}
	if !errors.Is(err, ErrNoData) {
		return Sample{}, err
	}
	if prev, ok := r.last[key]; ok {
		r.fallback(key, at, prev, "missing sample")
		return prev, nil
	}
	if optional(key.Kind) {
		return Sample{Time: at, Value: decimal.Zero}, nil
	}
	return Sample{}, err
}

func (r *Resolver) fallback(key Key, at time.Time, used Sample, reason string) {
	r.log.Warn("market data fallback to prior sample",
		zap.String("series", key.String()),
		zap.String("reason", reason),
		zap.Time("requested", at),
		zap.Time("used", used.Time),
	)
	if r.onFallback != nil {
		r.onFallback(key.Kind)
	}
}

func (r *Resolver) value(ctx context.Context, kind Kind, name string, at time.Time) (decimal.Decimal, error) {
	s, err := r.Sample(ctx, Key{Kind: kind, Name: name}, at)
	if err != nil {
		return decimal.Zero, err
	}
	return s.Value, nil
}

func (r *Resolver) SupplyIndex(ctx context.Context, token string, at time.Time) (decimal.Decimal, error) {
	return r.value(ctx, SupplyIndex, token, at)
}

func (r *Resolver) BorrowIndex(ctx context.Context, token string, at time.Time) (decimal.Decimal, error) {
	return r.value(ctx, BorrowIndex, token, at)
}

func (r *Resolver) OracleRate(ctx context.Context, token string, at time.Time) (decimal.Decimal, error) {
	return r.value(ctx, OracleRate, token, at)
}

func (r *Resolver) Spot(ctx context.Context, asset string, at time.Time) (decimal.Decimal, error) {
	return r.value(ctx, SpotPrice, asset, at)
}

func (r *Resolver) Perp(ctx context.Context, venue, pair string, at time.Time) (decimal.Decimal, error) {
	return r.value(ctx, PerpPrice, VenueKey(venue, pair), at)
}

func (r *Resolver) Funding(ctx context.Context, venue, pair string, at time.Time) (decimal.Decimal, error) {
	return r.value(ctx, FundingRate, VenueKey(venue, pair), at)
}

func (r *Resolver) Reward(ctx context.Context, program string, at time.Time) (decimal.Decimal, error) {
	if program == "" {
		return decimal.Zero, nil
	}
	return r.value(ctx, RewardYield, program, at)
}

func (r *Resolver) Gas(ctx context.Context, op string, at time.Time) (decimal.Decimal, error) {
	return r.value(ctx, GasCost, op, at)
}

func (r *Resolver) ExecutionCostBps(ctx context.Context, venue, pair string, notional decimal.Decimal) (decimal.Decimal, error) {
	return r.feed.ExecutionCostBps(ctx, venue, pair, notional)
}
