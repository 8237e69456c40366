package config

import (
	"os"
	"strings"

	"github.com/hxuan190/evm-route-engine/internal/chain"
	"github.com/hxuan190/evm-route-engine/internal/common"
	"github.com/hxuan190/evm-route-engine/internal/domain"
)

// ChainConfig selects the chain registry and per-chain endpoint overrides.
// Overrides come from RPC_URL_<id>, WS_URL_<id>, SUBGRAPH_V2_URL_<id> and SUBGRAPH_V3_URL_<id>.
type ChainConfig struct {
	RegistryPath string
	Endpoints    map[domain.ChainID]chain.Endpoints
}

func (c *ChainConfig) Key() string {
	return CHAIN_CONFIG_KEY
}

func (c *ChainConfig) Load() error {
	c.RegistryPath = common.GetEnvOrDefault("CHAIN_REGISTRY_PATH", "")
	c.Endpoints = make(map[domain.ChainID]chain.Endpoints)

	base := chain.DefaultRegistry()
	if c.RegistryPath != "" {
		reg, err := chain.LoadRegistry(c.RegistryPath)
		if err != nil {
			return err
		}
		base = reg
	}
	for _, ch := range base.List() {
		id := ch.ID.String()
		e := chain.Endpoints{
			RPCURL:       os.Getenv("RPC_URL_" + id),
			WSURL:        os.Getenv("WS_URL_" + id),
			IndexerV2URL: os.Getenv("SUBGRAPH_V2_URL_" + id),
			IndexerV3URL: os.Getenv("SUBGRAPH_V3_URL_" + id),
		}
		if strings.Join([]string{e.RPCURL, e.WSURL, e.IndexerV2URL, e.IndexerV3URL}, "") != "" {
			c.Endpoints[ch.ID] = e
		}
	}
	return c.Validate()
}

func (c *ChainConfig) Validate() error {
	return nil
}

// Registry builds the effective registry: file or built-in chains plus env endpoints.
func (c *ChainConfig) Registry() (*chain.Registry, error) {
	base := chain.DefaultRegistry()
	if c.RegistryPath != "" {
		reg, err := chain.LoadRegistry(c.RegistryPath)
		if err != nil {
			return nil, err
		}
		base = reg
	}
	return base.WithEndpoints(c.Endpoints), nil
}
