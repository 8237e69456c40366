package config

import (
	"errors"
	"time"

	"github.com/hxuan190/evm-route-engine/internal/common"
)

// ProviderConfig bounds every upstream (RPC, subgraph) call.
type ProviderConfig struct {
	CallTimeout    time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	RPCRateLimit   float64
	RPCBurst       int
	RPCConcurrency int

	SubgraphRateLimit   float64
	SubgraphBurst       int
	SubgraphConcurrency int
	SubgraphPageSize    int
	SubgraphMaxPages    int
	SubgraphAPIKey      string

	MulticallBatchSize int
}

func (c *ProviderConfig) Key() string {
	return PROVIDER_CONFIG_KEY
}

func (c *ProviderConfig) Load() error {
	c.CallTimeout = common.GetEnvOrDefaultDuration("PROVIDER_CALL_TIMEOUT", 3*time.Second)
	c.MaxRetries = common.GetEnvOrDefaultInt("PROVIDER_MAX_RETRIES", 3)
	c.RetryBaseDelay = common.GetEnvOrDefaultDuration("PROVIDER_RETRY_BASE_DELAY", 200*time.Millisecond)
	c.RetryMaxDelay = common.GetEnvOrDefaultDuration("PROVIDER_RETRY_MAX_DELAY", 2*time.Second)
	c.RPCRateLimit = common.GetEnvOrDefaultFloat("RPC_RATE_LIMIT", 25)
	c.RPCBurst = common.GetEnvOrDefaultInt("RPC_BURST", 50)
	c.RPCConcurrency = common.GetEnvOrDefaultInt("RPC_CONCURRENCY", 8)
	c.SubgraphRateLimit = common.GetEnvOrDefaultFloat("SUBGRAPH_RATE_LIMIT", 5)
	c.SubgraphBurst = common.GetEnvOrDefaultInt("SUBGRAPH_BURST", 10)
	c.SubgraphConcurrency = common.GetEnvOrDefaultInt("SUBGRAPH_CONCURRENCY", 4)
	c.SubgraphPageSize = common.GetEnvOrDefaultInt("SUBGRAPH_PAGE_SIZE", 500)
	c.SubgraphMaxPages = common.GetEnvOrDefaultInt("SUBGRAPH_MAX_PAGES", 10)
	c.SubgraphAPIKey = common.GetEnvOrDefault("SUBGRAPH_API_KEY", "")
	c.MulticallBatchSize = common.GetEnvOrDefaultInt("MULTICALL_BATCH_SIZE", 50)
	return c.Validate()
}

func (c *ProviderConfig) Validate() error {
	if c.CallTimeout <= 0 || c.MaxRetries < 0 {
		return errors.New("invalid provider config: timeout and retries")
	}
	if c.RPCConcurrency <= 0 || c.SubgraphConcurrency <= 0 || c.MulticallBatchSize <= 0 {
		return errors.New("invalid provider config: concurrency and batch size must be positive")
	}
	if c.SubgraphPageSize <= 0 || c.SubgraphPageSize > 1000 {
		return errors.New("invalid provider config: subgraph page size must be in (0,1000]")
	}
	if c.SubgraphMaxPages <= 0 {
		return errors.New("invalid provider config: subgraph max pages must be positive")
	}
	return nil
}
