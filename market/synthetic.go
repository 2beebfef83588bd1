package market

import (
	"math"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
)

// SyntheticVenue describes one perp venue in a generated feed.
type SyntheticVenue struct {
	Name            string
	Pair            string
	Basis           float64 // perp premium over spot, e.g. 0.0005
	FundingRate     float64 // per settlement
	FundingInterval time.Duration
	ExecutionBps    float64
}

// SyntheticParams drives Synthetic. Rates are annual unless noted.
type SyntheticParams struct {
	Start   time.Time
	Step    time.Duration
	Periods int
	Seed    int64

	BaseAsset       string
	CollateralToken string
	DebtToken       string

	SupplyAPY  float64
	BorrowAPY  float64
	StakingAPR float64 // oracle rate drift of the collateral token

	StartPrice  float64
	StartOracle float64
	Volatility  float64 // stdev of per-step log return

	RewardProgram string
	RewardDaily   float64

	Gas    map[string]float64 // base units per operation
	Venues []SyntheticVenue
}

const yearSeconds = 365 * 24 * 60 * 60

// Synthetic generates a deterministic feed: compounding growth indices, an
// oracle rate drifting at the staking APR, a seeded random-walk spot price
// and per-venue perp marks and funding.
func Synthetic(p SyntheticParams) *MemoryFeed {
	f := NewMemoryFeed()
	rng := rand.New(rand.NewSource(p.Seed))

	price := p.StartPrice
	oracle := p.StartOracle
	if oracle == 0 {
		oracle = 1
	}

	for i := 0; i <= p.Periods; i++ {
		at := p.Start.Add(time.Duration(i) * p.Step)
		years := at.Sub(p.Start).Seconds() / yearSeconds

		f.Set(Key{SupplyIndex, p.CollateralToken}, at, growth(p.SupplyAPY, years))
		f.Set(Key{BorrowIndex, p.DebtToken}, at, growth(p.BorrowAPY, years))
		f.Set(Key{OracleRate, p.CollateralToken}, at,
			decimal.NewFromFloat(oracle*math.Exp(p.StakingAPR*years)).Round(18))

		if i > 0 && p.Volatility > 0 {
			price *= math.Exp(p.Volatility*rng.NormFloat64() - 0.5*p.Volatility*p.Volatility)
		}
		spot := decimal.NewFromFloat(price).Round(8)
		f.Set(Key{SpotPrice, p.BaseAsset}, at, spot)

		for _, v := range p.Venues {
			name := VenueKey(v.Name, v.Pair)
			f.Set(Key{PerpPrice, name}, at, decimal.NewFromFloat(price*(1+v.Basis)).Round(8))
			f.Set(Key{FundingRate, name}, at, decimal.NewFromFloat(v.FundingRate))
		}
	}

	for op, cost := range p.Gas {
		f.SetFloat(Key{GasCost, op}, p.Start, cost)
	}
	if p.RewardProgram != "" {
		f.SetReward(p.RewardProgram, p.Start, time.Time{}, decimal.NewFromFloat(p.RewardDaily))
	}
	for _, v := range p.Venues {
		f.SetExecutionCost(v.Name, v.Pair, CostBucket{Bps: decimal.NewFromFloat(v.ExecutionBps)})
	}
	return f
}

func growth(apy, years float64) decimal.Decimal {
	return decimal.NewFromFloat(math.Pow(1+apy, years)).Round(18)
}
