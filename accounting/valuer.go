package accounting

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/yieldloop/market"
	"github.com/shopspring/decimal"
)

// Snapshot is the valued position at one instant. Base amounts are in base
// asset units (e.g. ETH); USD helpers multiply by Price.
type Snapshot struct {
	Time time.Time

	SupplyIndex decimal.Decimal
	BorrowIndex decimal.Decimal
	OracleRate  decimal.Decimal // base units per collateral token
	Price       decimal.Decimal // USD per base unit

	CollateralUnits decimal.Decimal // underlying collateral tokens
	CollateralBase  decimal.Decimal
	DebtBase        decimal.Decimal
	WalletBase      decimal.Decimal
}

func (s Snapshot) CollateralUSD() decimal.Decimal { return s.CollateralBase.Mul(s.Price) }
func (s Snapshot) DebtUSD() decimal.Decimal       { return s.DebtBase.Mul(s.Price) }
func (s Snapshot) WalletUSD() decimal.Decimal     { return s.WalletBase.Mul(s.Price) }

// EquityBase is collateral plus idle wallet minus debt: the position's long
// exposure to the base asset.
func (s Snapshot) EquityBase() decimal.Decimal {
	return s.CollateralBase.Add(s.WalletBase).Sub(s.DebtBase)
}

// EquityUSD values EquityBase at Price.
func (s Snapshot) EquityUSD() decimal.Decimal { return s.EquityBase().Mul(s.Price) }

// Valuer prices a Position from market data.
type Valuer struct {
	md   *market.Resolver
	base string
}

func NewValuer(md *market.Resolver, baseAsset string) *Valuer {
	return &Valuer{md: md, base: baseAsset}
}

// Snapshot values pos at t using the latest data at or before t.
func (v *Valuer) Snapshot(ctx context.Context, pos Position, at time.Time) (Snapshot, error) {
	si, err := v.md.SupplyIndex(ctx, pos.CollateralToken, at)
	if err != nil {
		return Snapshot{}, fmt.Errorf("supply index: %w", err)
	}
	rate, err := v.md.OracleRate(ctx, pos.CollateralToken, at)
	if err != nil {
		return Snapshot{}, fmt.Errorf("oracle rate: %w", err)
	}
	px, err := v.md.Spot(ctx, v.base, at)
	if err != nil {
		return Snapshot{}, fmt.Errorf("spot price: %w", err)
	}

	bi := decimal.NewFromInt(1)
	if pos.HasDebt() {
		bi, err = v.md.BorrowIndex(ctx, pos.DebtToken, at)
		if err != nil {
			return Snapshot{}, fmt.Errorf("borrow index: %w", err)
		}
	}

	return Value(pos, at, si, bi, rate, px), nil
}

// Value is the pure core of Snapshot.
func Value(pos Position, at time.Time, supplyIndex, borrowIndex, oracle, price decimal.Decimal) Snapshot {
	units := Underlying(pos.ScaledCollateral, supplyIndex)
	return Snapshot{
		Time:            at,
		SupplyIndex:     supplyIndex,
		BorrowIndex:     borrowIndex,
		OracleRate:      oracle,
		Price:           price,
		CollateralUnits: units,
		CollateralBase:  units.Mul(oracle),
		DebtBase:        Underlying(pos.ScaledDebt, borrowIndex),
		WalletBase:      pos.Wallet,
	}
}
