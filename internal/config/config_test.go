package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxuan190/evm-route-engine/internal/chain"
)

func TestRouterConfigDefaults(t *testing.T) {
	var c RouterConfig
	require.NoError(t, c.Load())

	assert.Equal(t, 3, c.MaxHops)
	assert.Equal(t, 500, c.MaxExploredRoutes)
	assert.Equal(t, 30, c.TopNPools)
	assert.Equal(t, 5, c.SplitStepPercent)
	assert.Equal(t, 250*time.Millisecond, c.OptimizeTimeBudget)
}

func TestRouterConfigValidate(t *testing.T) {
	t.Setenv("ROUTER_SPLIT_STEP_PERCENT", "7")
	var c RouterConfig
	assert.Error(t, c.Load(), "a step that does not divide 100 is rejected")

	t.Setenv("ROUTER_SPLIT_STEP_PERCENT", "10")
	t.Setenv("ROUTER_MAX_SPLITS", "9")
	assert.Error(t, c.Load())
}

func TestProviderConfigSubgraphPaging(t *testing.T) {
	var c ProviderConfig
	require.NoError(t, c.Load())
	assert.Equal(t, 500, c.SubgraphPageSize)
	assert.Equal(t, 10, c.SubgraphMaxPages)

	t.Setenv("SUBGRAPH_MAX_PAGES", "0")
	assert.Error(t, c.Load())
}

func TestChainConfigEndpointOverrides(t *testing.T) {
	t.Setenv("RPC_URL_8453", "https://base.example")
	t.Setenv("SUBGRAPH_V3_URL_1", "https://graph.example/v3")

	var c ChainConfig
	require.NoError(t, c.Load())

	reg, err := c.Registry()
	require.NoError(t, err)

	base, err := reg.Get(chain.Base)
	require.NoError(t, err)
	assert.Equal(t, "https://base.example", base.RPCURL)

	eth, err := reg.Get(chain.Ethereum)
	require.NoError(t, err)
	assert.Equal(t, "https://graph.example/v3", eth.IndexerV3URL)
	assert.Empty(t, eth.RPCURL)
}

func cliFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("routectl", pflag.ContinueOnError)
	flags.Uint64("chain", 1, "")
	flags.String("rpc", "", "")
	flags.String("subgraph-v3", "", "")
	flags.Int("max-hops", 3, "")
	flags.Int("max-splits", 3, "")
	flags.Float64("gas-price-gwei", 0, "")
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoadCLIFlags(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadCLI("", cliFlags(t, "--chain=8453", "--rpc=http://localhost:8545", "--max-splits=2", "--gas-price-gwei=0.5"))
	require.NoError(t, err)

	assert.Equal(t, chain.Base, cfg.ChainID)
	assert.Equal(t, 2, cfg.Router.MaxSplits)
	assert.Equal(t, 3, cfg.Router.MaxHops, "unchanged flags keep the env default")
	assert.Equal(t, 0.5, cfg.Router.StaticGasPriceGwei)
	assert.Zero(t, cfg.Router.PlanCacheTTL)
	assert.Equal(t, 15*time.Second, cfg.Timeout)

	reg, err := cfg.Chain.Registry()
	require.NoError(t, err)
	base, err := reg.Get(chain.Base)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8545", base.RPCURL)
}

func TestLoadCLIEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "quote.toml")
	require.NoError(t, os.WriteFile(path, []byte("chain = 8453\nsubgraph-v3 = \"https://graph.example/base\"\n"), 0o600))
	t.Setenv("ROUTECTL_MAX_HOPS", "2")

	cfg, err := LoadCLI(path, cliFlags(t))
	require.NoError(t, err)
	assert.Equal(t, chain.Base, cfg.ChainID)
	assert.Equal(t, 2, cfg.Router.MaxHops)
	assert.Equal(t, "https://graph.example/base", cfg.Chain.Endpoints[chain.Base].IndexerV3URL)
}

func TestLoadCLIRejectsBadBounds(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := LoadCLI("", cliFlags(t, "--max-splits=9"))
	assert.Error(t, err)

	_, err = LoadCLI("", cliFlags(t, "--chain=0"))
	assert.Error(t, err)
}
