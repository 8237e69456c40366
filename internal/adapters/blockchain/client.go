// Package blockchain adapts go-ethereum JSON-RPC clients to the router's collaborators.
package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/hxuan190/evm-route-engine/internal/chain"
	"github.com/hxuan190/evm-route-engine/internal/domain"
	"github.com/hxuan190/evm-route-engine/internal/services/provider"
)

var ErrNoRPCEndpoint = errors.New("no rpc endpoint configured")

// Client wraps go-ethereum RPC for a single chain.
type Client struct {
	chainID   domain.ChainID
	rpcClient *rpc.Client
	ethClient *ethclient.Client
}

func Dial(ctx context.Context, chainID domain.ChainID, url string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial chain %d: %w", chainID, err)
	}
	return &Client{
		chainID:   chainID,
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
	}, nil
}

func (c *Client) ChainID() domain.ChainID {
	return c.chainID
}

func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.ethClient.HeaderByNumber(ctx, number)
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.ethClient.CallContract(ctx, msg, blockNumber)
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.ethClient.SuggestGasPrice(ctx)
}

// FeeHistory returns base fees and priority fee rewards at the given percentiles
// for the last blocks up to lastBlock (nil = latest).
func (c *Client) FeeHistory(ctx context.Context, blocks uint64, lastBlock *big.Int, percentiles []float64) (*ethereum.FeeHistory, error) {
	return c.ethClient.FeeHistory(ctx, blocks, lastBlock, percentiles)
}

func (c *Client) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return c.ethClient.SubscribeNewHead(ctx, ch)
}

// Clients dials one client per chain on first use and routes batched calls
// through Multicall3. It implements domain.ContractCaller.
type Clients struct {
	mu       sync.Mutex
	registry *chain.Registry
	gates    *provider.Gates
	clients  map[domain.ChainID]*Client
	caller   *MulticallCaller
}

func NewClients(registry *chain.Registry, gates *provider.Gates, maxCallsPerBatch int) *Clients {
	return &Clients{
		registry: registry,
		gates:    gates,
		clients:  make(map[domain.ChainID]*Client),
		caller:   NewMulticallCaller(maxCallsPerBatch),
	}
}

func (cs *Clients) Registry() *chain.Registry {
	return cs.registry
}

// Gate returns the shared RPC gate of a chain.
func (cs *Clients) Gate(chainID domain.ChainID) *provider.Gate {
	return cs.gates.Get("rpc:" + chainID.String())
}

func (cs *Clients) Get(ctx context.Context, chainID domain.ChainID) (*Client, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if c, ok := cs.clients[chainID]; ok {
		return c, nil
	}
	ch, err := cs.registry.Get(chainID)
	if err != nil {
		return nil, err
	}
	if ch.RPCURL == "" {
		return nil, fmt.Errorf("chain %d: %w", chainID, ErrNoRPCEndpoint)
	}
	c, err := Dial(ctx, chainID, ch.RPCURL)
	if err != nil {
		return nil, err
	}
	cs.clients[chainID] = c
	cs.caller.Register(chainID, ch.Multicall3, c, cs.Gate(chainID))
	return c, nil
}

func (cs *Clients) BatchCall(ctx context.Context, chainID domain.ChainID, calls []domain.Call) ([]domain.CallResult, error) {
	if _, err := cs.Get(ctx, chainID); err != nil {
		return nil, err
	}
	return cs.caller.BatchCall(ctx, chainID, calls)
}

// HeadNumber reads the latest block of chainID through its RPC gate.
func (cs *Clients) HeadNumber(ctx context.Context, chainID domain.ChainID) (uint64, error) {
	c, err := cs.Get(ctx, chainID)
	if err != nil {
		return 0, err
	}
	return provider.Call(ctx, cs.Gate(chainID), c.BlockNumber)
}

func (cs *Clients) Close() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for id, c := range cs.clients {
		c.Close()
		delete(cs.clients, id)
	}
}
