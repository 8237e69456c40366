package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/hxuan190/evm-route-engine/internal/common"
)

// RouterConfig holds the search bounds of the router. Every knob is explicit so
// tests and operators can force small, deterministic search spaces.
type RouterConfig struct {
	// MaxHops bounds route length. Default: 3
	MaxHops int
	// MaxExploredRoutes stops route enumeration once reached. Default: 500
	MaxExploredRoutes int
	// TopNPools is the number of pools kept by liquidity rank. Default: 30
	TopNPools int
	// MaxSplits is the maximum number of routes in a plan. Default: 3
	MaxSplits int
	// SplitStepPercent is the bucket size of the split search. Must divide 100. Default: 5
	SplitStepPercent int
	// MaxEvaluations bounds the number of candidate allocations scored. Default: 2000
	MaxEvaluations int
	// OptimizeTimeBudget bounds the split search wall time. Default: 250ms
	OptimizeTimeBudget time.Duration
	QuoteWorkers       int
	PlanCacheTTL       time.Duration

	DefaultSlippageBps  uint16
	DefaultDeadline     time.Duration
	MaxIndexerLagBlocks uint64

	GasPriceTTL     time.Duration
	GasPriceTimeout time.Duration
	GasUrgency      string
	// StaticGasPriceGwei switches to the static gas provider when > 0.
	StaticGasPriceGwei float64
}

func (c *RouterConfig) Key() string {
	return ROUTER_CONFIG_KEY
}

func (c *RouterConfig) Load() error {
	c.MaxHops = common.GetEnvOrDefaultInt("ROUTER_MAX_HOPS", 3)
	c.MaxExploredRoutes = common.GetEnvOrDefaultInt("ROUTER_MAX_EXPLORED_ROUTES", 500)
	c.TopNPools = common.GetEnvOrDefaultInt("ROUTER_TOP_N_POOLS", 30)
	c.MaxSplits = common.GetEnvOrDefaultInt("ROUTER_MAX_SPLITS", 3)
	c.SplitStepPercent = common.GetEnvOrDefaultInt("ROUTER_SPLIT_STEP_PERCENT", 5)
	c.MaxEvaluations = common.GetEnvOrDefaultInt("ROUTER_MAX_EVALUATIONS", 2000)
	c.OptimizeTimeBudget = common.GetEnvOrDefaultDuration("ROUTER_OPTIMIZE_TIME_BUDGET", 250*time.Millisecond)
	c.QuoteWorkers = common.GetEnvOrDefaultInt("ROUTER_QUOTE_WORKERS", 8)
	c.PlanCacheTTL = common.GetEnvOrDefaultDuration("ROUTER_PLAN_CACHE_TTL", 2*time.Second)
	c.DefaultSlippageBps = uint16(common.GetEnvOrDefaultInt("ROUTER_DEFAULT_SLIPPAGE_BPS", 50))
	c.DefaultDeadline = common.GetEnvOrDefaultDuration("ROUTER_DEFAULT_DEADLINE", 20*time.Minute)
	c.MaxIndexerLagBlocks = common.GetEnvOrDefaultUint64("ROUTER_MAX_INDEXER_LAG_BLOCKS", 50)
	c.GasPriceTTL = common.GetEnvOrDefaultDuration("GAS_PRICE_TTL", 6*time.Second)
	c.GasPriceTimeout = common.GetEnvOrDefaultDuration("GAS_PRICE_TIMEOUT", time.Second)
	c.GasUrgency = common.GetEnvOrDefault("GAS_URGENCY", "medium")
	c.StaticGasPriceGwei = common.GetEnvOrDefaultFloat("STATIC_GAS_PRICE_GWEI", 0)
	return c.Validate()
}

func (c *RouterConfig) Validate() error {
	if c.MaxHops < 1 || c.MaxHops > 4 {
		return fmt.Errorf("invalid router config: max hops %d outside [1,4]", c.MaxHops)
	}
	if c.MaxSplits < 1 || c.MaxSplits > 4 {
		return fmt.Errorf("invalid router config: max splits %d outside [1,4]", c.MaxSplits)
	}
	if c.SplitStepPercent <= 0 || 100%c.SplitStepPercent != 0 {
		return fmt.Errorf("invalid router config: split step %d must divide 100", c.SplitStepPercent)
	}
	if c.MaxExploredRoutes <= 0 || c.TopNPools <= 0 || c.MaxEvaluations <= 0 || c.QuoteWorkers <= 0 {
		return errors.New("invalid router config: bounds must be positive")
	}
	if c.DefaultSlippageBps >= 10000 {
		return errors.New("invalid router config: default slippage must be below 10000 bps")
	}
	return nil
}
