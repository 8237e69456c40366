package aggregator

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxuan190/evm-route-engine/internal/adapters/blockchain"
	"github.com/hxuan190/evm-route-engine/internal/chain"
	"github.com/hxuan190/evm-route-engine/internal/config"
	"github.com/hxuan190/evm-route-engine/internal/domain"
	"github.com/hxuan190/evm-route-engine/internal/services/gas"
)

func testComponents(t *testing.T) Components {
	t.Helper()
	rc := &config.RouterConfig{}
	require.NoError(t, rc.Load())
	pc := &config.ProviderConfig{}
	require.NoError(t, pc.Load())
	cc := &config.CacheConfig{}
	require.NoError(t, cc.Load())

	registry := chain.DefaultRegistry()
	return Components{
		Registry: registry,
		Clients:  blockchain.NewRPCClients(registry, pc),
		Router:   rc,
		Provider: pc,
		Cache:    cc,
	}
}

func TestBuildRequiresInputs(t *testing.T) {
	_, err := Build(Components{})
	assert.Error(t, err)

	c := testComponents(t)
	c.Cache = nil
	_, err = Build(c)
	assert.Error(t, err)
}

func TestBuildGasProviderSelection(t *testing.T) {
	c := testComponents(t)
	c.Router.StaticGasPriceGwei = 2.5
	stack, err := Build(c)
	require.NoError(t, err)
	require.IsType(t, &gas.StaticGasPriceProvider{}, stack.GasPrices)

	gp, err := stack.GasPrices.GetGasPrice(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Zero(t, gp.Wei.Cmp(big.NewInt(2_500_000_000)))

	c.Router.StaticGasPriceGwei = 0
	stack, err = Build(c)
	require.NoError(t, err)
	assert.IsType(t, &gas.LiveGasPriceProvider{}, stack.GasPrices)

	c.Router.GasUrgency = "whenever"
	_, err = Build(c)
	assert.Error(t, err)
}

func TestBuildWiresHeadsAndRouter(t *testing.T) {
	c := testComponents(t)
	c.Router.StaticGasPriceGwei = 1
	c.Heads = blockchain.NewClientHeadTracker(c.Clients)

	stack, err := Build(c)
	require.NoError(t, err)
	assert.Same(t, c.Registry, stack.Router.Registry())
	assert.Zero(t, stack.Snapshots.Size())

	_, err = stack.Router.Route(context.Background(), domain.RouteRequest{
		ChainID:  999_999,
		TokenIn:  common.HexToAddress("0x01"),
		TokenOut: common.HexToAddress("0x02"),
		Amount:   big.NewInt(1),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnsupportedChain)
}
