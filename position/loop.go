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

// LoopParams configures recursive construction. Principal and MinPosition
// are base units.
type LoopParams struct {
	Principal     decimal.Decimal
	LTV           decimal.Decimal
	MinPosition   decimal.Decimal
	MaxIterations int // number of borrows allowed; 0 means stake and supply only
}

func (p LoopParams) validate() error {
	switch {
	case !p.Principal.IsPositive():
		return fmt.Errorf("%w: principal must be positive", ErrConfig)
	case !p.LTV.IsPositive() || p.LTV.GreaterThanOrEqual(one):
		return fmt.Errorf("%w: loop ltv must be in (0, 1)", ErrConfig)
	case !p.MinPosition.IsPositive():
		return fmt.Errorf("%w: min position must be positive", ErrConfig)
	case p.MaxIterations < 0:
		return fmt.Errorf("%w: max iterations must not be negative", ErrConfig)
	}
	return nil
}

// Loop stakes the principal, supplies it, borrows against it at p.LTV and
// repeats with the borrowed amount. It stops once the next borrow would fall
// below p.MinPosition or the iteration cap is reached; the terminal step
// stakes and supplies without borrowing.
func (c *Constructor) Loop(ctx context.Context, at time.Time, p LoopParams) (Result, error) {
	if err := p.validate(); err != nil {
		return Result{}, err
	}
	r, err := c.rates(ctx, at)
	if err != nil {
		return Result{}, err
	}
	gStake, err := c.gas(ctx, OpStake, at)
	if err != nil {
		return Result{}, err
	}
	gSupply, err := c.gas(ctx, OpSupply, at)
	if err != nil {
		return Result{}, err
	}
	gBorrow, err := c.gas(ctx, OpBorrow, at)
	if err != nil {
		return Result{}, err
	}

	res := c.newResult(at)
	res.NotionalTraded = decimal.Zero
	res.GasSpent = decimal.Zero
	res.GasDebt = decimal.Zero

	principal := p.Principal
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		terminal := i >= p.MaxIterations
		if !terminal {
			projected := principal.Sub(gStake).Sub(gSupply).Sub(gBorrow).Mul(p.LTV)
			terminal = projected.LessThan(p.MinPosition)
		}

		gas := gStake.Add(gSupply)
		if !terminal {
			gas = gas.Add(gBorrow)
		}
		principal = principal.Sub(gas)
		if !principal.IsPositive() {
			return Result{}, fmt.Errorf("%w: principal exhausted by gas at iteration %d", ErrConfig, i)
		}
		res.GasSpent = res.GasSpent.Add(gas)

		units := principal.DivRound(r.oracle, accounting.Precision)
		scaled, err := res.Position.Supply(units, r.supply)
		if err != nil {
			return Result{}, err
		}
		res.NotionalTraded = res.NotionalTraded.Add(principal)
		res.add(c.assets.StakingVenue, func(v *VenueAmounts) { v.Staked = v.Staked.Add(principal) })
		res.add(c.assets.LendingVenue, func(v *VenueAmounts) { v.Supplied = v.Supplied.Add(units) })

		res.Events = append(res.Events,
			&audit.StakeEvent{
				Header:     audit.Header{Time: at, Venue: c.assets.StakingVenue, Token: c.assets.Collateral, Amount: units},
				BaseIn:     principal,
				OracleRate: r.oracle,
				Iteration:  i,
			},
			&audit.SupplyEvent{
				Header:    audit.Header{Time: at, Venue: c.assets.LendingVenue, Token: c.assets.Collateral, Amount: units},
				Scaled:    scaled,
				Index:     r.supply,
				Iteration: i,
			},
		)
		if gas.IsPositive() {
			res.Events = append(res.Events, c.gasEvent(at, fmt.Sprintf("loop_step_%d", i), gas, r.price))
		}

		if terminal {
			res.Iterations = i + 1
			break
		}

		// Collateral value in base units is the principal just staked.
		borrow := principal.Mul(p.LTV)
		scaledDebt, err := res.Position.Borrow(borrow, r.borrow)
		if err != nil {
			return Result{}, err
		}
		res.add(c.assets.LendingVenue, func(v *VenueAmounts) { v.Borrowed = v.Borrowed.Add(borrow) })
		res.Events = append(res.Events, &audit.BorrowEvent{
			Header:    audit.Header{Time: at, Venue: c.assets.LendingVenue, Token: c.assets.Debt, Amount: borrow},
			Scaled:    scaledDebt,
			Index:     r.borrow,
			LTV:       p.LTV,
			Iteration: i,
		})
		principal = borrow
	}

	c.log.Info("loop construction complete",
		zap.Int("iterations", res.Iterations),
		zap.String("notional_traded", res.NotionalTraded.String()),
		zap.String("gas_spent", res.GasSpent.String()),
	)
	return res, nil
}
