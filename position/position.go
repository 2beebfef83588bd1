// Package position builds the initial leveraged lending position, either by
// looping stake → supply → borrow or in one flash-loan funded transaction.
package position

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/yieldloop/accounting"
	"github.com/rustyeddy/yieldloop/audit"
	"github.com/rustyeddy/yieldloop/market"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrConfig aborts construction on unusable parameters, including a
	// principal that gas costs eat entirely.
	ErrConfig = errors.New("position: invalid construction parameters")

	// ErrUnsafeEntry is returned only when the caller asked for the atomic
	// entry health check to be enforced.
	ErrUnsafeEntry = errors.New("position: entry health factor below minimum")
)

// Gas operation names looked up in the feed.
const (
	OpStake       = "stake"
	OpSupply      = "supply"
	OpBorrow      = "borrow"
	OpFlashBundle = "flash_bundle"
)

var (
	one        = decimal.NewFromInt(1)
	bpsPerUnit = decimal.NewFromInt(10_000)
)

// Assets names the tokens and protocol venues touched during construction.
type Assets struct {
	Base         string
	Collateral   string
	Debt         string
	StakingVenue string
	LendingVenue string
}

// VenueAmounts breaks down what construction did at one venue. Staked and
// Borrowed are base units; Supplied is collateral token units.
type VenueAmounts struct {
	Staked   decimal.Decimal
	Supplied decimal.Decimal
	Borrowed decimal.Decimal
}

// Result is the constructed position and its bookkeeping.
type Result struct {
	Position  accounting.Position
	Breakdown map[string]VenueAmounts

	Iterations     int
	NotionalTraded decimal.Decimal // base units staked across all steps

	GasSpent decimal.Decimal // base units taken out of principal
	GasDebt  decimal.Decimal // base units owed outside the position (bundle gas, flash fee)

	FlashAmount  decimal.Decimal
	FlashFee     decimal.Decimal
	HealthFactor decimal.Decimal // atomic only; zero for loops

	Events []audit.Event
}

// CostsBase is every construction cost in base units.
func (r Result) CostsBase() decimal.Decimal { return r.GasSpent.Add(r.GasDebt) }

// Constructor prices construction steps from market data.
type Constructor struct {
	md     *market.Resolver
	assets Assets
	log    *zap.Logger
}

func NewConstructor(md *market.Resolver, assets Assets, log *zap.Logger) *Constructor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Constructor{md: md, assets: assets, log: log}
}

type rates struct {
	oracle, supply, borrow, price decimal.Decimal
}

func (c *Constructor) rates(ctx context.Context, at time.Time) (rates, error) {
	var r rates
	var err error
	if r.oracle, err = c.md.OracleRate(ctx, c.assets.Collateral, at); err != nil {
		return r, fmt.Errorf("oracle rate: %w", err)
	}
	if !r.oracle.IsPositive() {
		return r, fmt.Errorf("%w: oracle rate %s", ErrConfig, r.oracle)
	}
	if r.supply, err = c.md.SupplyIndex(ctx, c.assets.Collateral, at); err != nil {
		return r, fmt.Errorf("supply index: %w", err)
	}
	if r.borrow, err = c.md.BorrowIndex(ctx, c.assets.Debt, at); err != nil {
		return r, fmt.Errorf("borrow index: %w", err)
	}
	if r.price, err = c.md.Spot(ctx, c.assets.Base, at); err != nil {
		return r, fmt.Errorf("spot price: %w", err)
	}
	return r, nil
}

func (c *Constructor) gas(ctx context.Context, op string, at time.Time) (decimal.Decimal, error) {
	g, err := c.md.Gas(ctx, op, at)
	if err != nil {
		return decimal.Zero, fmt.Errorf("gas %s: %w", op, err)
	}
	return g, nil
}

func (c *Constructor) newResult(at time.Time) Result {
	return Result{
		Position: accounting.Position{
			CollateralToken: c.assets.Collateral,
			DebtToken:       c.assets.Debt,
			EntryTime:       at,
		},
		Breakdown: map[string]VenueAmounts{
			c.assets.StakingVenue: {},
			c.assets.LendingVenue: {},
		},
	}
}

func (r *Result) add(venue string, fn func(*VenueAmounts)) {
	v := r.Breakdown[venue]
	fn(&v)
	r.Breakdown[venue] = v
}

func (c *Constructor) gasEvent(at time.Time, op string, amount, price decimal.Decimal) audit.Event {
	return &audit.GasEvent{
		Header:    audit.Header{Time: at, Token: c.assets.Base, Amount: amount},
		Operation: op,
		USD:       amount.Mul(price),
	}
}
