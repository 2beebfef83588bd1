package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure. Missing risk or venue
// parameters are never defaulted; a config that fails Validate must not
// reach the engine.
var ErrInvalid = errors.New("invalid config")

const (
	ModeLoop   = "loop"
	ModeAtomic = "atomic"

	// WeightTolerance bounds how far hedge weights may sum away from 1.
	WeightTolerance = 0.01
)

// Config is the complete run configuration.
type Config struct {
	Run            RunConfig            `json:"run" yaml:"run"`
	Assets         AssetsConfig         `json:"assets" yaml:"assets"`
	Construction   ConstructionConfig   `json:"construction" yaml:"construction"`
	Lending        LendingConfig        `json:"lending" yaml:"lending"`
	Risk           RiskConfig           `json:"risk" yaml:"risk"`
	Hedge          HedgeConfig          `json:"hedge" yaml:"hedge"`
	Reconciliation ReconciliationConfig `json:"reconciliation" yaml:"reconciliation"`
	Journal        JournalConfig        `json:"journal" yaml:"journal"`
	Log            LogConfig            `json:"log" yaml:"log"`
}

// RunConfig bounds the simulated time range.
type RunConfig struct {
	ID           string    `json:"id" yaml:"id"`
	Start        time.Time `json:"start" yaml:"start"`
	End          time.Time `json:"end" yaml:"end"`
	Step         string    `json:"step" yaml:"step"`                                       // e.g. "1h", "24h"
	MaxStaleness string    `json:"max_staleness,omitempty" yaml:"max_staleness,omitempty"` // warn on older samples
}

// AssetsConfig names the tokens and protocol venues.
type AssetsConfig struct {
	BaseAsset       string `json:"base_asset" yaml:"base_asset"`             // ETH
	CollateralToken string `json:"collateral_token" yaml:"collateral_token"` // weETH
	DebtToken       string `json:"debt_token" yaml:"debt_token"`             // WETH
	StakingVenue    string `json:"staking_venue" yaml:"staking_venue"`
	LendingVenue    string `json:"lending_venue" yaml:"lending_venue"`
	RewardProgram   string `json:"reward_program,omitempty" yaml:"reward_program,omitempty"`
}

// ConstructionConfig selects and parameterises position entry.
type ConstructionConfig struct {
	Mode      string  `json:"mode" yaml:"mode"`           // loop or atomic
	Principal float64 `json:"principal" yaml:"principal"` // base asset units

	// Loop mode
	LoopLTV       float64 `json:"loop_ltv,omitempty" yaml:"loop_ltv,omitempty"`
	MinPosition   float64 `json:"min_position,omitempty" yaml:"min_position,omitempty"` // base units
	MaxIterations int     `json:"max_iterations" yaml:"max_iterations"`

	// Atomic mode
	FlashFeeBps            float64 `json:"flash_fee_bps" yaml:"flash_fee_bps"`
	MinHealthFactor        float64 `json:"min_health_factor,omitempty" yaml:"min_health_factor,omitempty"`
	EnforceMinHealthFactor bool    `json:"enforce_min_health_factor" yaml:"enforce_min_health_factor"`
}

// LendingConfig holds the lending market's liquidation parameters.
type LendingConfig struct {
	MaxLTV               float64 `json:"max_ltv" yaml:"max_ltv"`
	LiquidationThreshold float64 `json:"liquidation_threshold" yaml:"liquidation_threshold"`
	LiquidationBonus     float64 `json:"liquidation_bonus" yaml:"liquidation_bonus"`
}

// RiskConfig holds the user's risk tolerances and performance targets.
type RiskConfig struct {
	MaxPriceMove  float64 `json:"max_price_move" yaml:"max_price_move"`
	MaxSpreadMove float64 `json:"max_spread_move" yaml:"max_spread_move"`
	MaxOracleMove float64 `json:"max_oracle_move" yaml:"max_oracle_move"`
	BasisBeta     float64 `json:"basis_beta" yaml:"basis_beta"`
	OracleBuffer  float64 `json:"oracle_buffer" yaml:"oracle_buffer"`

	TargetHealthFactor   float64 `json:"target_health_factor" yaml:"target_health_factor"`
	CriticalHealthFactor float64 `json:"critical_health_factor" yaml:"critical_health_factor"`
	LTVFloor             float64 `json:"ltv_floor" yaml:"ltv_floor"`

	TargetAPY     float64 `json:"target_apy" yaml:"target_apy"`
	MaxDrawdown   float64 `json:"max_drawdown" yaml:"max_drawdown"`
	MaxTightening float64 `json:"max_tightening,omitempty" yaml:"max_tightening,omitempty"`
}

// HedgeConfig lists the perp venues carrying the short legs.
type HedgeConfig struct {
	Enabled            bool          `json:"enabled" yaml:"enabled"`
	RebalanceThreshold float64       `json:"rebalance_threshold" yaml:"rebalance_threshold"` // fraction of initial hedge units
	Venues             []VenueConfig `json:"venues" yaml:"venues"`
}

type VenueConfig struct {
	Name              string  `json:"name" yaml:"name"`
	Pair              string  `json:"pair" yaml:"pair"`
	Weight            float64 `json:"weight" yaml:"weight"`
	InitialMargin     float64 `json:"initial_margin" yaml:"initial_margin"`
	MaintenanceMargin float64 `json:"maintenance_margin" yaml:"maintenance_margin"`
	FundingInterval   string  `json:"funding_interval" yaml:"funding_interval"` // e.g. "8h"
}

// ReconciliationConfig bounds the allowed gap between directly computed
// total value and attributed P&L: max(abs, rel × initial value).
type ReconciliationConfig struct {
	AbsTolerance float64 `json:"abs_tolerance" yaml:"abs_tolerance"`
	RelTolerance float64 `json:"rel_tolerance" yaml:"rel_tolerance"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type        string `json:"type" yaml:"type"` // "none", "csv" or "sqlite"
	PeriodsFile string `json:"periods_file,omitempty" yaml:"periods_file,omitempty"`
	EventsFile  string `json:"events_file,omitempty" yaml:"events_file,omitempty"`
	DBPath      string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
}

// StepDuration parses Run.Step.
func (r RunConfig) StepDuration() (time.Duration, error) {
	return time.ParseDuration(r.Step)
}

// Staleness parses Run.MaxStaleness; empty disables the check.
func (r RunConfig) Staleness() (time.Duration, error) {
	if r.MaxStaleness == "" {
		return 0, nil
	}
	return time.ParseDuration(r.MaxStaleness)
}

// FundingEvery parses the venue's funding cadence.
func (v VenueConfig) FundingEvery() (time.Duration, error) {
	return time.ParseDuration(v.FundingInterval)
}

// TargetLTV is the atomic entry operating LTV: protocol max minus the oracle
// safety buffer.
func (c *Config) TargetLTV() float64 {
	return c.Lending.MaxLTV - c.Risk.OracleBuffer
}

// LoadFromFile loads configuration from a file (YAML, falling back to JSON)
// and validates it.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (YAML or JSON based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
}

func between(x, lo, hi float64) bool { return x > lo && x < hi }

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateRun(); err != nil {
		return err
	}
	if err := c.validateAssets(); err != nil {
		return err
	}
	if err := c.validateLending(); err != nil {
		return err
	}
	if err := c.validateConstruction(); err != nil {
		return err
	}
	if err := c.validateRisk(); err != nil {
		return err
	}
	if err := c.validateHedge(); err != nil {
		return err
	}
	if c.Reconciliation.AbsTolerance < 0 || c.Reconciliation.RelTolerance < 0 {
		return invalid("reconciliation tolerances must not be negative")
	}
	if c.Reconciliation.AbsTolerance == 0 && c.Reconciliation.RelTolerance == 0 {
		return invalid("reconciliation.abs_tolerance or reconciliation.rel_tolerance is required")
	}
	return c.validateJournal()
}

func (c *Config) validateRun() error {
	if c.Run.Start.IsZero() || c.Run.End.IsZero() {
		return invalid("run.start and run.end are required")
	}
	if !c.Run.End.After(c.Run.Start) {
		return invalid("run.end must be after run.start")
	}
	step, err := c.Run.StepDuration()
	if err != nil || step <= 0 {
		return invalid("run.step must be a positive duration, got %q", c.Run.Step)
	}
	if _, err := c.Run.Staleness(); err != nil {
		return invalid("run.max_staleness: %v", err)
	}
	return nil
}

func (c *Config) validateAssets() error {
	a := c.Assets
	switch {
	case a.BaseAsset == "":
		return invalid("assets.base_asset is required")
	case a.CollateralToken == "":
		return invalid("assets.collateral_token is required")
	case a.DebtToken == "":
		return invalid("assets.debt_token is required")
	case a.StakingVenue == "":
		return invalid("assets.staking_venue is required")
	case a.LendingVenue == "":
		return invalid("assets.lending_venue is required")
	}
	return nil
}

func (c *Config) validateLending() error {
	l := c.Lending
	if !between(l.LiquidationThreshold, 0, 1) {
		return invalid("lending.liquidation_threshold must be between 0 and 1")
	}
	if l.MaxLTV <= 0 || l.MaxLTV > l.LiquidationThreshold {
		return invalid("lending.max_ltv must be positive and not above liquidation_threshold")
	}
	if l.LiquidationBonus < 0 || l.LiquidationBonus >= 1 {
		return invalid("lending.liquidation_bonus must be in [0, 1)")
	}
	return nil
}

func (c *Config) validateConstruction() error {
	k := c.Construction
	if k.Principal <= 0 {
		return invalid("construction.principal must be positive")
	}
	if k.MaxIterations < 0 {
		return invalid("construction.max_iterations must not be negative")
	}
	switch k.Mode {
	case ModeLoop:
		if k.LoopLTV <= 0 || k.LoopLTV > c.Lending.MaxLTV {
			return invalid("construction.loop_ltv must be positive and not above lending.max_ltv")
		}
		if k.MinPosition <= 0 {
			return invalid("construction.min_position must be positive")
		}
	case ModeAtomic:
		if c.Risk.OracleBuffer < 0 {
			return invalid("risk.oracle_buffer must not be negative")
		}
		if !between(c.TargetLTV(), 0, 1) {
			return invalid("lending.max_ltv - risk.oracle_buffer must be between 0 and 1")
		}
		if k.MinHealthFactor <= 0 {
			return invalid("construction.min_health_factor is required for atomic mode")
		}
		if k.FlashFeeBps < 0 {
			return invalid("construction.flash_fee_bps must not be negative")
		}
	default:
		return invalid("construction.mode must be 'loop' or 'atomic'")
	}
	return nil
}

func (c *Config) validateRisk() error {
	r := c.Risk
	if !between(r.MaxPriceMove, 0, 1) {
		return invalid("risk.max_price_move must be between 0 and 1")
	}
	if r.MaxSpreadMove < 0 || r.MaxSpreadMove >= 1 {
		return invalid("risk.max_spread_move must be in [0, 1)")
	}
	if !between(r.MaxOracleMove, 0, 1) {
		return invalid("risk.max_oracle_move must be between 0 and 1")
	}
	if r.BasisBeta < 0 {
		return invalid("risk.basis_beta must not be negative")
	}
	if r.MaxPriceMove+r.MaxSpreadMove+r.BasisBeta*r.MaxOracleMove >= 1 {
		return invalid("combined risk shock must be below 1")
	}
	if r.TargetHealthFactor <= 1 {
		return invalid("risk.target_health_factor must be above 1")
	}
	if r.CriticalHealthFactor < 1 || r.CriticalHealthFactor >= r.TargetHealthFactor {
		return invalid("risk.critical_health_factor must be in [1, target_health_factor)")
	}
	if r.LTVFloor <= 0 || r.LTVFloor > c.Lending.MaxLTV {
		return invalid("risk.ltv_floor must be positive and not above lending.max_ltv")
	}
	if r.MaxDrawdown <= 0 || r.MaxDrawdown >= 1 {
		return invalid("risk.max_drawdown must be between 0 and 1")
	}
	if r.MaxTightening != 0 && r.MaxTightening < 1 {
		return invalid("risk.max_tightening must be at least 1")
	}
	return nil
}

func (c *Config) validateHedge() error {
	h := c.Hedge
	if !h.Enabled {
		return nil
	}
	if len(h.Venues) == 0 {
		return invalid("hedge.venues is required when hedging is enabled")
	}
	if h.RebalanceThreshold <= 0 {
		return invalid("hedge.rebalance_threshold must be positive")
	}

	seen := map[string]bool{}
	var sum float64
	for i, v := range h.Venues {
		if v.Name == "" || v.Pair == "" {
			return invalid("hedge.venues[%d]: name and pair are required", i)
		}
		if seen[v.Name] {
			return invalid("hedge.venues[%d]: duplicate venue %q", i, v.Name)
		}
		seen[v.Name] = true
		if v.Weight <= 0 {
			return invalid("hedge.venues[%d]: weight must be positive", i)
		}
		if !between(v.InitialMargin, 0, 1) {
			return invalid("hedge.venues[%d]: initial_margin must be between 0 and 1", i)
		}
		if v.MaintenanceMargin <= 0 || v.MaintenanceMargin >= v.InitialMargin {
			return invalid("hedge.venues[%d]: maintenance_margin must be positive and below initial_margin", i)
		}
		every, err := v.FundingEvery()
		if err != nil || every <= 0 {
			return invalid("hedge.venues[%d]: funding_interval must be a positive duration", i)
		}
		sum += v.Weight
	}
	if math.Abs(sum-1) > WeightTolerance {
		return invalid("hedge venue weights sum to %.4f, want 1 ± %.2f", sum, WeightTolerance)
	}
	return nil
}

func (c *Config) validateJournal() error {
	switch c.Journal.Type {
	case "", "none":
		return nil
	case "csv":
		if c.Journal.PeriodsFile == "" || c.Journal.EventsFile == "" {
			return invalid("journal periods_file and events_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return invalid("journal db_path required for SQLite type")
		}
	default:
		return invalid("journal.type must be 'none', 'csv' or 'sqlite'")
	}
	return nil
}

// Default returns a complete example configuration: a weETH/WETH atomic
// entry hedged across three perp venues. It is written out by
// "config init"; the engine never falls back to it.
func Default() *Config {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &Config{
		Run: RunConfig{
			ID:           "",
			Start:        start,
			End:          start.AddDate(0, 2, 0),
			Step:         "1h",
			MaxStaleness: "24h",
		},
		Assets: AssetsConfig{
			BaseAsset:       "ETH",
			CollateralToken: "weETH",
			DebtToken:       "WETH",
			StakingVenue:    "etherfi",
			LendingVenue:    "aave-v3",
			RewardProgram:   "etherfi-points",
		},
		Construction: ConstructionConfig{
			Mode:            ModeAtomic,
			Principal:       100,
			LoopLTV:         0.91,
			MinPosition:     10,
			MaxIterations:   20,
			FlashFeeBps:     0,
			MinHealthFactor: 1.03,
		},
		Lending: LendingConfig{
			MaxLTV:               0.93,
			LiquidationThreshold: 0.95,
			LiquidationBonus:     0.01,
		},
		Risk: RiskConfig{
			MaxPriceMove:         0.02,
			MaxSpreadMove:        0.005,
			MaxOracleMove:        0.03,
			BasisBeta:            0.5,
			OracleBuffer:         0.02,
			TargetHealthFactor:   1.02,
			CriticalHealthFactor: 1.005,
			LTVFloor:             0.5,
			TargetAPY:            0.08,
			MaxDrawdown:          0.1,
			MaxTightening:        1.5,
		},
		Hedge: HedgeConfig{
			Enabled:            true,
			RebalanceThreshold: 0.05,
			Venues: []VenueConfig{
				{Name: "binance", Pair: "ETHUSDT", Weight: 0.5, InitialMargin: 0.1, MaintenanceMargin: 0.05, FundingInterval: "8h"},
				{Name: "bybit", Pair: "ETHUSDT", Weight: 0.3, InitialMargin: 0.1, MaintenanceMargin: 0.05, FundingInterval: "8h"},
				{Name: "okx", Pair: "ETH-USDT-SWAP", Weight: 0.2, InitialMargin: 0.1, MaintenanceMargin: 0.05, FundingInterval: "8h"},
			},
		},
		Reconciliation: ReconciliationConfig{
			AbsTolerance: 0.01,
			RelTolerance: 0.001,
		},
		Journal: JournalConfig{
			Type:        "csv",
			PeriodsFile: "./periods.csv",
			EventsFile:  "./events.csv",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
