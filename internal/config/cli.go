package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hxuan190/evm-route-engine/internal/domain"
)

// CLIConfig is the routectl configuration. The service configs are loaded from
// the environment first; flags, ROUTECTL_* variables and an optional config
// file then override the knobs routectl exposes.
type CLIConfig struct {
	ChainID  domain.ChainID
	LogLevel string
	Timeout  time.Duration

	Chain    *ChainConfig
	Router   *RouterConfig
	Provider *ProviderConfig
	Cache    *CacheConfig
}

// LoadCLI merges config file, environment variables and flags into CLIConfig.
func LoadCLI(cfgFile string, flags *pflag.FlagSet) (*CLIConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("ROUTECTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("chain", uint64(1))
	v.SetDefault("log-level", "warn")
	v.SetDefault("timeout", 15*time.Second)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("routectl")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &CLIConfig{
		ChainID:  domain.ChainID(v.GetUint64("chain")),
		LogLevel: v.GetString("log-level"),
		Timeout:  v.GetDuration("timeout"),
		Chain:    &ChainConfig{},
		Router:   &RouterConfig{},
		Provider: &ProviderConfig{},
		Cache:    &CacheConfig{},
	}
	for _, c := range []interface{ Load() error }{cfg.Chain, cfg.Router, cfg.Provider, cfg.Cache} {
		if err := c.Load(); err != nil {
			return nil, err
		}
	}
	if cfg.ChainID == 0 {
		return nil, errors.New("chain id is required")
	}

	if p := v.GetString("registry"); p != "" {
		cfg.Chain.RegistryPath = p
	}
	e := cfg.Chain.Endpoints[cfg.ChainID]
	if s := v.GetString("rpc"); s != "" {
		e.RPCURL = s
	}
	if s := v.GetString("subgraph-v2"); s != "" {
		e.IndexerV2URL = s
	}
	if s := v.GetString("subgraph-v3"); s != "" {
		e.IndexerV3URL = s
	}
	cfg.Chain.Endpoints[cfg.ChainID] = e

	if s := v.GetString("subgraph-api-key"); s != "" {
		cfg.Provider.SubgraphAPIKey = s
	}
	if v.IsSet("max-hops") {
		cfg.Router.MaxHops = v.GetInt("max-hops")
	}
	if v.IsSet("max-splits") {
		cfg.Router.MaxSplits = v.GetInt("max-splits")
	}
	if v.IsSet("gas-price-gwei") {
		cfg.Router.StaticGasPriceGwei = v.GetFloat64("gas-price-gwei")
	}
	// One-shot runs never hit the plan cache.
	cfg.Router.PlanCacheTTL = 0

	if err := cfg.Router.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
