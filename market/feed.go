package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoData means a feed holds no sample at or before the requested time.
var ErrNoData = errors.New("market: no data at or before requested time")

// Kind names a family of time series supplied by a feed.
type Kind string

const (
	SupplyIndex Kind = "supply_index" // lending protocol liquidity index per token
	BorrowIndex Kind = "borrow_index" // variable debt index per token
	OracleRate  Kind = "oracle_rate"  // collateral token priced in base asset units
	SpotPrice   Kind = "spot_price"   // base asset in USD
	PerpPrice   Kind = "perp_price"   // perpetual mark per venue/pair
	FundingRate Kind = "funding_rate" // per-settlement rate per venue/pair
	RewardYield Kind = "reward_yield" // daily bonus yield per program
	GasCost     Kind = "gas_cost"     // base asset units per operation type
)

// Key addresses one series: a kind and the token, pair, program or
// operation it belongs to.
type Key struct {
	Kind Kind
	Name string
}

func (k Key) String() string { return string(k.Kind) + ":" + k.Name }

// VenueKey builds the series name used for per-venue perp data.
func VenueKey(venue, pair string) string { return venue + "/" + pair }

// Sample is a value observed at a time.
type Sample struct {
	Time  time.Time
	Value decimal.Decimal
}

// Feed supplies market data. Every lookup returns the latest value at or
// before the requested time and never interpolates forward.
type Feed interface {
	Lookup(ctx context.Context, key Key, at time.Time) (Sample, error)
	// ExecutionCostBps returns the trading cost in basis points for a trade
	// of the given notional on a venue/pair, resolved by size bucket.
	ExecutionCostBps(ctx context.Context, venue, pair string, notional decimal.Decimal) (decimal.Decimal, error)
}

func noData(key Key, at time.Time) error {
	return fmt.Errorf("%w: %s at %s", ErrNoData, key, at.Format(time.RFC3339))
}
