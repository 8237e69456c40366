package aggregator

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	container "github.com/thehyperflames/dicontainer-go"

	"github.com/hxuan190/evm-route-engine/internal/adapters/blockchain"
	"github.com/hxuan190/evm-route-engine/internal/adapters/persistence"
	"github.com/hxuan190/evm-route-engine/internal/chain"
	commonutil "github.com/hxuan190/evm-route-engine/internal/common"
	"github.com/hxuan190/evm-route-engine/internal/config"
	"github.com/hxuan190/evm-route-engine/internal/domain"
)

const (
	AGGREGATOR_SERVICE = "aggregator-service"

	redisConnectTimeout = 5 * time.Second
)

// Service is the routing facade the HTTP layer talks to.
type Service struct {
	container.BaseDIInstance
	logger *commonutil.ServiceLogger

	registry *chain.Registry
	heads    *blockchain.HeadTracker
	rdb      *redis.Client
	stack    *Stack
}

func (svc *Service) ID() string {
	return AGGREGATOR_SERVICE
}

func (svc *Service) Configure(c container.IContainer) error {
	svc.logger = commonutil.NewServiceLogger(svc)
	routerConfig := c.GetConfig(config.ROUTER_CONFIG_KEY).(*config.RouterConfig)
	providerConfig := c.GetConfig(config.PROVIDER_CONFIG_KEY).(*config.ProviderConfig)
	cacheConfig := c.GetConfig(config.CACHE_CONFIG_KEY).(*config.CacheConfig)
	clients := c.Instance(blockchain.CLIENT_SERVICE).(*blockchain.ClientService).Clients()
	svc.heads = c.Instance(blockchain.HEAD_CACHE_SERVICE).(*blockchain.HeadCacheService).Tracker()
	svc.registry = clients.Registry()

	var store *persistence.SnapshotStore
	if cacheConfig.RedisEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
		rdb, err := persistence.NewRedisClient(ctx, persistence.ClientConfig{
			Addr:     cacheConfig.RedisAddr,
			Password: cacheConfig.RedisPassword,
			DB:       cacheConfig.RedisDB,
		})
		cancel()
		if err != nil {
			svc.logger.Warn().Err(err).Str("addr", cacheConfig.RedisAddr).
				Msg("[aggregatorService] redis unavailable, snapshots stay in-process")
		} else {
			svc.rdb = rdb
			store = persistence.NewSnapshotStore(rdb, cacheConfig.RedisPrefix, cacheConfig.PoolSnapshotTTL)
		}
	}

	stack, err := Build(Components{
		Registry: svc.registry,
		Clients:  clients,
		Heads:    svc.heads,
		Store:    store,
		Router:   routerConfig,
		Provider: providerConfig,
		Cache:    cacheConfig,
	})
	if err != nil {
		return err
	}
	svc.stack = stack
	return nil
}

func (svc *Service) Start() error {
	svc.logger.Info().
		Int("chains", len(svc.registry.List())).
		Bool("sharedCache", svc.rdb != nil).
		Msg("[aggregatorService] router ready")
	return nil
}

func (svc *Service) Stop() error {
	if svc.rdb != nil {
		if err := svc.rdb.Close(); err != nil {
			svc.logger.Error().Err(err).Msg("[aggregatorService] failed to close redis")
		}
	}
	return nil
}

func (svc *Service) Route(ctx context.Context, req domain.RouteRequest) (*domain.SwapPlan, error) {
	return svc.stack.Router.Route(ctx, req)
}

func (svc *Service) CandidatePools(ctx context.Context, chainID domain.ChainID, tokenIn, tokenOut common.Address) (*domain.CandidatePoolSet, error) {
	return svc.stack.Router.CandidatePools(ctx, chainID, tokenIn, tokenOut)
}

func (svc *Service) Chains() []*chain.Chain {
	return svc.registry.List()
}

func (svc *Service) Chain(id domain.ChainID) (*chain.Chain, error) {
	return svc.registry.Get(id)
}

// LatestBlock returns the cached head of a chain, refreshing it when stale.
func (svc *Service) LatestBlock(ctx context.Context, id domain.ChainID) (uint64, error) {
	return svc.heads.Latest(ctx, id)
}

// SnapshotCount is the number of pool snapshots held in-process.
func (svc *Service) SnapshotCount() int {
	return svc.stack.Snapshots.Size()
}
