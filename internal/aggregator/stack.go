package aggregator

import (
	"context"
	"errors"

	"github.com/hxuan190/evm-route-engine/internal/adapters/blockchain"
	"github.com/hxuan190/evm-route-engine/internal/adapters/persistence"
	"github.com/hxuan190/evm-route-engine/internal/chain"
	"github.com/hxuan190/evm-route-engine/internal/config"
	"github.com/hxuan190/evm-route-engine/internal/domain"
	"github.com/hxuan190/evm-route-engine/internal/services/gas"
	"github.com/hxuan190/evm-route-engine/internal/services/market"
	"github.com/hxuan190/evm-route-engine/internal/services/provider"
	"github.com/hxuan190/evm-route-engine/internal/services/router"
)

// Components are the inputs of Build. Heads and Store are optional.
type Components struct {
	Registry *chain.Registry
	Clients  *blockchain.Clients
	Heads    *blockchain.HeadTracker
	Store    *persistence.SnapshotStore

	Router   *config.RouterConfig
	Provider *config.ProviderConfig
	Cache    *config.CacheConfig
}

// Stack is a fully wired routing pipeline.
type Stack struct {
	Router    *router.Router
	Selector  *market.Selector
	Snapshots *market.SnapshotCache
	GasModel  *gas.GasModel
	GasPrices domain.GasPriceProvider
}

// Build wires pool sources, the selector, gas pricing, the quoter and the
// splitter into a Router. Sources are tried indexer first, then on-chain
// discovery through Multicall3.
func Build(c Components) (*Stack, error) {
	if c.Registry == nil || c.Clients == nil {
		return nil, errors.New("aggregator: registry and clients are required")
	}
	if c.Router == nil || c.Provider == nil || c.Cache == nil {
		return nil, errors.New("aggregator: router, provider and cache config are required")
	}
	rc, pc := c.Router, c.Provider

	var (
		marketHeads market.HeadReader
		routerHeads router.HeadReader
		sharedPools market.SharedSnapshotStore
		sharedGas   gas.SharedGasPriceStore
	)
	if c.Heads != nil {
		marketHeads, routerHeads = c.Heads, c.Heads
	}
	if c.Store != nil {
		sharedPools, sharedGas = c.Store, c.Store
	}

	gasPrices, err := newGasPriceProvider(rc, c.Clients, sharedGas)
	if err != nil {
		return nil, err
	}

	subgraphGates := provider.NewGates(provider.GateConfig{
		Concurrency: pc.SubgraphConcurrency,
		RatePerSec:  pc.SubgraphRateLimit,
		Burst:       pc.SubgraphBurst,
		CallTimeout: pc.CallTimeout,
		MaxRetries:  pc.MaxRetries,
		BaseDelay:   pc.RetryBaseDelay,
		MaxDelay:    pc.RetryMaxDelay,
	})
	indexed := market.NewIndexedPoolSource(c.Registry, market.IndexedSourceOptions{
		PageSize:     pc.SubgraphPageSize,
		MaxPages:     pc.SubgraphMaxPages,
		APIKey:       pc.SubgraphAPIKey,
		Gates:        subgraphGates,
		Heads:        marketHeads,
		MaxLagBlocks: rc.MaxIndexerLagBlocks,
	})
	onChain := market.NewOnChainPoolSource(c.Registry, c.Clients)

	snapshots := market.NewSnapshotCache(c.Cache.PoolSnapshotTTL, sharedPools)
	if c.Heads != nil {
		c.Heads.OnNewHead(snapshots.OnNewBlock)
	}
	selector := market.NewSelector(c.Registry, []domain.PoolSource{indexed, onChain}, market.SelectorOptions{
		TopN:  rc.TopNPools,
		Cache: snapshots,
		Heads: marketHeads,
	})

	gasModel := gas.NewGasModel(c.Registry, 0)
	quoter := router.NewQuoter(gasModel, router.QuoterOptions{
		StepPercent: rc.SplitStepPercent,
		Workers:     rc.QuoteWorkers,
		Caller:      c.Clients,
	})
	splitter := router.NewSplitter(router.SplitterOptions{
		MaxSplits:      rc.MaxSplits,
		MaxEvaluations: rc.MaxEvaluations,
		TimeBudget:     rc.OptimizeTimeBudget,
	})

	return &Stack{
		Router: router.NewRouter(c.Registry, selector, gasPrices, quoter, splitter, router.Options{
			MaxHops:            rc.MaxHops,
			MaxExploredRoutes:  rc.MaxExploredRoutes,
			DefaultSlippageBps: rc.DefaultSlippageBps,
			DefaultDeadline:    rc.DefaultDeadline,
			PlanCacheTTL:       rc.PlanCacheTTL,
			Heads:              routerHeads,
		}),
		Selector:  selector,
		Snapshots: snapshots,
		GasModel:  gasModel,
		GasPrices: gasPrices,
	}, nil
}

func newGasPriceProvider(rc *config.RouterConfig, clients *blockchain.Clients, shared gas.SharedGasPriceStore) (domain.GasPriceProvider, error) {
	if rc.StaticGasPriceGwei > 0 {
		return gas.NewStaticGasPriceProvider(gas.GweiToWei(rc.StaticGasPriceGwei), nil), nil
	}
	urgency, err := gas.ParseUrgency(rc.GasUrgency)
	if err != nil {
		return nil, err
	}
	readers := func(ctx context.Context, chainID domain.ChainID) (gas.FeeReader, error) {
		c, err := clients.Get(ctx, chainID)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return gas.NewLiveGasPriceProvider(readers, gas.LiveOptions{
		Urgency: urgency,
		TTL:     rc.GasPriceTTL,
		Timeout: rc.GasPriceTimeout,
		Gate:    clients.Gate,
		Shared:  shared,
	}), nil
}
