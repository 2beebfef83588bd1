package market

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// CostBucket charges Bps for trades with notional up to MaxNotional. A zero
// MaxNotional is unbounded and sorts last.
type CostBucket struct {
	MaxNotional decimal.Decimal
	Bps         decimal.Decimal
}

// MemoryFeed is an in-memory Feed. It backs the CSV loader, the synthetic
// generator and tests.
type MemoryFeed struct {
	mu      sync.RWMutex
	series  map[Key]*Series
	buckets map[string][]CostBucket
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		series:  make(map[Key]*Series),
		buckets: make(map[string][]CostBucket),
	}
}

// Set records a sample for key.
func (f *MemoryFeed) Set(key Key, at time.Time, v decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.series[key]
	if !ok {
		s = &Series{}
		f.series[key] = s
	}
	s.Add(at, v)
}

// SetFloat is Set for literal test and generator values.
func (f *MemoryFeed) SetFloat(key Key, at time.Time, v float64) {
	f.Set(key, at, decimal.NewFromFloat(v))
}

// SetReward schedules a daily reward yield active over [from, to). Outside
// the range the yield is zero.
func (f *MemoryFeed) SetReward(program string, from, to time.Time, daily decimal.Decimal) {
	key := Key{Kind: RewardYield, Name: program}
	f.Set(key, from, daily)
	if !to.IsZero() {
		f.Set(key, to, decimal.Zero)
	}
}

// SetExecutionCost installs the size buckets for a venue/pair.
func (f *MemoryFeed) SetExecutionCost(venue, pair string, buckets ...CostBucket) {
	sorted := append([]CostBucket(nil), buckets...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].MaxNotional, sorted[j].MaxNotional
		if a.IsZero() {
			return false
		}
		if b.IsZero() {
			return true
		}
		return a.LessThan(b)
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[VenueKey(venue, pair)] = sorted
}

// Series returns the stored series for key, or nil.
func (f *MemoryFeed) Series(key Key) *Series {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.series[key]
}

// Keys lists the stored series keys in a stable order.
func (f *MemoryFeed) Keys() []Key {
	f.mu.RLock()
	defer f.mu.RUnlock()
	keys := make([]Key, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Validate checks that every growth index series is non-decreasing.
func (f *MemoryFeed) Validate() error {
	for _, k := range f.Keys() {
		if k.Kind != SupplyIndex && k.Kind != BorrowIndex {
			continue
		}
		if err := f.Series(k).CheckNonDecreasing(); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
	}
	return nil
}

func (f *MemoryFeed) Lookup(ctx context.Context, key Key, at time.Time) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	f.mu.RLock()
	s, ok := f.series[key]
	f.mu.RUnlock()
	if !ok {
		return Sample{}, noData(key, at)
	}
	smp, ok := s.At(at)
	if !ok {
		return Sample{}, noData(key, at)
	}
	return smp, nil
}

func (f *MemoryFeed) ExecutionCostBps(ctx context.Context, venue, pair string, notional decimal.Decimal) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	f.mu.RLock()
	buckets := f.buckets[VenueKey(venue, pair)]
	f.mu.RUnlock()
	if len(buckets) == 0 {
		return decimal.Zero, fmt.Errorf("%w: execution cost for %s", ErrNoData, VenueKey(venue, pair))
	}
	abs := notional.Abs()
	for _, b := range buckets {
		if b.MaxNotional.IsZero() || abs.LessThanOrEqual(b.MaxNotional) {
			return b.Bps, nil
		}
	}
	// Larger than every bounded bucket: charge the last one.
	return buckets[len(buckets)-1].Bps, nil
}
