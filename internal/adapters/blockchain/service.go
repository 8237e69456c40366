package blockchain

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	container "github.com/thehyperflames/dicontainer-go"

	"github.com/hxuan190/evm-route-engine/internal/chain"
	"github.com/hxuan190/evm-route-engine/internal/config"
	"github.com/hxuan190/evm-route-engine/internal/services/provider"
)

const (
	CLIENT_SERVICE     = "blockchain-client-svc"
	HEAD_CACHE_SERVICE = "cache-head-svc"

	headMaxAge       = 2 * time.Second
	headPollInterval = 4 * time.Second
)

// ClientService owns the per-chain RPC clients and the Multicall3 caller.
type ClientService struct {
	container.BaseDIInstance

	clients *Clients
}

func (svc *ClientService) ID() string {
	return CLIENT_SERVICE
}

func (svc *ClientService) Configure(c container.IContainer) error {
	chainConfig := c.GetConfig(config.CHAIN_CONFIG_KEY).(*config.ChainConfig)
	providerConfig := c.GetConfig(config.PROVIDER_CONFIG_KEY).(*config.ProviderConfig)

	registry, err := chainConfig.Registry()
	if err != nil {
		return err
	}
	svc.clients = NewRPCClients(registry, providerConfig)
	return nil
}

func (svc *ClientService) Start() error {
	return nil
}

func (svc *ClientService) Stop() error {
	svc.clients.Close()
	return nil
}

func (svc *ClientService) Clients() *Clients {
	return svc.clients
}

// NewRPCClients builds clients whose RPC gates follow the provider config.
func NewRPCClients(registry *chain.Registry, providerConfig *config.ProviderConfig) *Clients {
	gates := provider.NewGates(provider.GateConfig{
		Concurrency: providerConfig.RPCConcurrency,
		RatePerSec:  providerConfig.RPCRateLimit,
		Burst:       providerConfig.RPCBurst,
		CallTimeout: providerConfig.CallTimeout,
		MaxRetries:  providerConfig.MaxRetries,
		BaseDelay:   providerConfig.RetryBaseDelay,
		MaxDelay:    providerConfig.RetryMaxDelay,
	})
	return NewClients(registry, gates, providerConfig.MulticallBatchSize)
}

// NewClientHeadTracker tracks heads by polling eth_blockNumber through clients.
func NewClientHeadTracker(clients *Clients) *HeadTracker {
	return NewHeadTracker(clients.HeadNumber, headMaxAge)
}

// HeadCacheService keeps the latest block of every chain with an RPC endpoint.
type HeadCacheService struct {
	container.BaseDIInstance

	clients *Clients
	tracker *HeadTracker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	subs    []*Client
}

func (svc *HeadCacheService) ID() string {
	return HEAD_CACHE_SERVICE
}

func (svc *HeadCacheService) Configure(c container.IContainer) error {
	svc.clients = c.Instance(CLIENT_SERVICE).(*ClientService).Clients()
	svc.tracker = NewClientHeadTracker(svc.clients)
	return nil
}

func (svc *HeadCacheService) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	svc.cancel = cancel

	for _, ch := range svc.clients.Registry().List() {
		if ch.RPCURL == "" {
			continue
		}
		if _, err := svc.tracker.Latest(ctx, ch.ID); err != nil {
			log.Warn().Err(err).Str("chain", ch.Name).Msg("[headCacheService] failed to fetch initial head, will retry on first request")
		}

		var sub *Client
		if ch.WSURL != "" {
			s, err := Dial(ctx, ch.ID, ch.WSURL)
			if err != nil {
				log.Warn().Err(err).Str("chain", ch.Name).Msg("[headCacheService] websocket dial failed, polling instead")
			} else {
				sub = s
				svc.subs = append(svc.subs, s)
			}
		}

		chainID := ch.ID
		svc.wg.Add(1)
		go func() {
			defer svc.wg.Done()
			svc.tracker.watch(ctx, chainID, sub, headPollInterval)
		}()
	}
	return nil
}

func (svc *HeadCacheService) Stop() error {
	if svc.cancel != nil {
		svc.cancel()
	}
	svc.wg.Wait()
	for _, s := range svc.subs {
		s.Close()
	}
	return nil
}

func (svc *HeadCacheService) Tracker() *HeadTracker {
	return svc.tracker
}
