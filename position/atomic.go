package position

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/yieldloop/accounting"
	"github.com/rustyeddy/yieldloop/audit"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AtomicParams configures flash-loan entry. Equity is base units.
type AtomicParams struct {
	Equity               decimal.Decimal
	TargetLTV            decimal.Decimal // protocol max LTV minus oracle buffer
	LiquidationThreshold decimal.Decimal
	FlashFeeBps          decimal.Decimal // zero for fee-free sources
	MinHealthFactor      decimal.Decimal
	// EnforceMinHealthFactor turns the post-entry health check from a
	// warning into ErrUnsafeEntry.
	EnforceMinHealthFactor bool
}

func (p AtomicParams) validate() error {
	switch {
	case !p.Equity.IsPositive():
		return fmt.Errorf("%w: equity must be positive", ErrConfig)
	case !p.TargetLTV.IsPositive() || p.TargetLTV.GreaterThanOrEqual(one):
		return fmt.Errorf("%w: target ltv must be in (0, 1)", ErrConfig)
	case !p.LiquidationThreshold.IsPositive():
		return fmt.Errorf("%w: liquidation threshold is required", ErrConfig)
	case p.FlashFeeBps.IsNegative():
		return fmt.Errorf("%w: flash fee must not be negative", ErrConfig)
	case !p.MinHealthFactor.IsPositive():
		return fmt.Errorf("%w: min health factor is required", ErrConfig)
	}
	return nil
}

// FlashSize solves the atomic entry: F = λ/(1−λ)·E, S = E+F, B = F.
func FlashSize(equity, ltv decimal.Decimal) (flash, supply, borrow decimal.Decimal) {
	flash = ltv.Mul(equity).DivRound(one.Sub(ltv), accounting.Precision)
	return flash, equity.Add(flash), flash
}

// Atomic enters the full leveraged position in one transaction: flash
// borrow F, stake and supply E+F, borrow F against it and repay the flash
// loan. The borrow equals the flash amount so the bundle self-repays. Gas
// and the flash fee are booked as gas debt.
func (c *Constructor) Atomic(ctx context.Context, at time.Time, p AtomicParams) (Result, error) {
	if err := p.validate(); err != nil {
		return Result{}, err
	}
	r, err := c.rates(ctx, at)
	if err != nil {
		return Result{}, err
	}
	gas, err := c.gas(ctx, OpFlashBundle, at)
	if err != nil {
		return Result{}, err
	}

	flash, supply, borrow := FlashSize(p.Equity, p.TargetLTV)
	fee := flash.Mul(p.FlashFeeBps).Div(bpsPerUnit)

	res := c.newResult(at)
	res.Iterations = 1
	res.NotionalTraded = supply
	res.GasSpent = decimal.Zero
	res.GasDebt = gas.Add(fee)
	res.FlashAmount = flash
	res.FlashFee = fee

	units := supply.DivRound(r.oracle, accounting.Precision)
	scaled, err := res.Position.Supply(units, r.supply)
	if err != nil {
		return Result{}, err
	}
	scaledDebt, err := res.Position.Borrow(borrow, r.borrow)
	if err != nil {
		return Result{}, err
	}

	res.add(c.assets.StakingVenue, func(v *VenueAmounts) { v.Staked = supply })
	res.add(c.assets.LendingVenue, func(v *VenueAmounts) {
		v.Supplied = units
		v.Borrowed = borrow
	})

	// Collateral value in base units equals the amount staked.
	res.HealthFactor = p.LiquidationThreshold.Mul(supply).DivRound(borrow, accounting.Precision)

	res.Events = append(res.Events,
		&audit.FlashLoanEvent{
			Header:      audit.Header{Time: at, Venue: c.assets.LendingVenue, Token: c.assets.Debt, Amount: flash},
			Fee:         fee,
			Equity:      p.Equity,
			Supplied:    supply,
			TargetLTV:   p.TargetLTV,
			HealthAfter: res.HealthFactor,
		},
		&audit.StakeEvent{
			Header:     audit.Header{Time: at, Venue: c.assets.StakingVenue, Token: c.assets.Collateral, Amount: units},
			BaseIn:     supply,
			OracleRate: r.oracle,
		},
		&audit.SupplyEvent{
			Header: audit.Header{Time: at, Venue: c.assets.LendingVenue, Token: c.assets.Collateral, Amount: units},
			Scaled: scaled,
			Index:  r.supply,
		},
		&audit.BorrowEvent{
			Header: audit.Header{Time: at, Venue: c.assets.LendingVenue, Token: c.assets.Debt, Amount: borrow},
			Scaled: scaledDebt,
			Index:  r.borrow,
			LTV:    p.TargetLTV,
		},
	)
	if res.GasDebt.IsPositive() {
		res.Events = append(res.Events, c.gasEvent(at, OpFlashBundle, res.GasDebt, r.price))
	}

	if res.HealthFactor.LessThan(p.MinHealthFactor) {
		c.log.Warn("atomic entry health factor below minimum",
			zap.String("health_factor", res.HealthFactor.StringFixed(4)),
			zap.String("min", p.MinHealthFactor.String()),
			zap.String("target_ltv", p.TargetLTV.String()),
		)
		if p.EnforceMinHealthFactor {
			return Result{}, fmt.Errorf("%w: %s < %s", ErrUnsafeEntry, res.HealthFactor.StringFixed(4), p.MinHealthFactor)
		}
	}

	c.log.Info("atomic construction complete",
		zap.String("flash", flash.StringFixed(6)),
		zap.String("supplied", supply.StringFixed(6)),
		zap.String("health_factor", res.HealthFactor.StringFixed(4)),
	)
	return res, nil
}
