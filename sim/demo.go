package sim

import (
	"fmt"

	"github.com/rustyeddy/yieldloop/config"
	"github.com/rustyeddy/yieldloop/market"
	"github.com/rustyeddy/yieldloop/position"
)

// DemoParams describes a synthetic market matching cfg: one sample per step
// over the run range, a perp per configured venue and gas for every
// construction operation.
func DemoParams(cfg *config.Config, seed int64) (market.SyntheticParams, error) {
	step, err := cfg.Run.StepDuration()
	if err != nil {
		return market.SyntheticParams{}, fmt.Errorf("%w: run.step: %v", config.ErrInvalid, err)
	}
	if step <= 0 || !cfg.Run.End.After(cfg.Run.Start) {
		return market.SyntheticParams{}, fmt.Errorf("%w: empty run range", config.ErrInvalid)
	}

	p := market.SyntheticParams{
		Start:   cfg.Run.Start,
		Step:    step,
		Periods: int(cfg.Run.End.Sub(cfg.Run.Start) / step),
		Seed:    seed,

		BaseAsset:       cfg.Assets.BaseAsset,
		CollateralToken: cfg.Assets.CollateralToken,
		DebtToken:       cfg.Assets.DebtToken,

		SupplyAPY:  0.001,
		BorrowAPY:  0.025,
		StakingAPR: 0.032,

		StartPrice:  3000,
		StartOracle: 1.05,
		Volatility:  0.006,

		RewardProgram: cfg.Assets.RewardProgram,
		RewardDaily:   0.0001,

		Gas: map[string]float64{
			position.OpStake:       0.002,
			position.OpSupply:      0.003,
			position.OpBorrow:      0.003,
			position.OpFlashBundle: 0.01,
		},
	}
	for i, v := range cfg.Hedge.Venues {
		every, err := v.FundingEvery()
		if err != nil {
			return market.SyntheticParams{}, fmt.Errorf("%w: hedge.venues[%d].funding_interval: %v", config.ErrInvalid, i, err)
		}
		p.Venues = append(p.Venues, market.SyntheticVenue{
			Name:            v.Name,
			Pair:            v.Pair,
			Basis:           0.0002 * float64(i+1),
			FundingRate:     0.0001,
			FundingInterval: every,
			ExecutionBps:    2 + float64(i),
		})
	}
	return p, nil
}

// DemoFeed builds the synthetic feed for cfg.
func DemoFeed(cfg *config.Config, seed int64) (*market.MemoryFeed, error) {
	p, err := DemoParams(cfg, seed)
	if err != nil {
		return nil, err
	}
	return market.Synthetic(p), nil
}
