package blockchain

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/hxuan190/evm-route-engine/internal/domain"
	"github.com/hxuan190/evm-route-engine/internal/metrics"
	"github.com/hxuan190/evm-route-engine/internal/services/provider"
)

const DefaultMaxCallsPerBatch = 50

type multicallTarget struct {
	address common.Address
	backend ethereum.ContractCaller
	gate    *provider.Gate
}

// MulticallCaller implements domain.ContractCaller on top of Multicall3.aggregate3.
// Batches are split into chunks of at most maxCalls; chunks run concurrently and
// each goes through the chain's provider gate.
type MulticallCaller struct {
	mu       sync.RWMutex
	targets  map[domain.ChainID]multicallTarget
	maxCalls int
}

func NewMulticallCaller(maxCallsPerBatch int) *MulticallCaller {
	if maxCallsPerBatch <= 0 {
		maxCallsPerBatch = DefaultMaxCallsPerBatch
	}
	return &MulticallCaller{
		targets:  make(map[domain.ChainID]multicallTarget),
		maxCalls: maxCallsPerBatch,
	}
}

// Register binds a chain to its Multicall3 deployment and RPC backend.
func (m *MulticallCaller) Register(chainID domain.ChainID, multicall3 common.Address, backend ethereum.ContractCaller, gate *provider.Gate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[chainID] = multicallTarget{address: multicall3, backend: backend, gate: gate}
}

func (m *MulticallCaller) BatchCall(ctx context.Context, chainID domain.ChainID, calls []domain.Call) ([]domain.CallResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	target, ok := m.targets[chainID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no multicall backend for chain %d", domain.ErrUnsupportedChain, chainID)
	}

	results := make([]domain.CallResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(calls); start += m.maxCalls {
		end := min(start+m.maxCalls, len(calls))
		chunk := calls[start:end]
		offset := start
		g.Go(func() error {
			out, err := m.callChunk(gctx, chainID, target, chunk)
			if err != nil {
				return err
			}
			copy(results[offset:], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (m *MulticallCaller) callChunk(ctx context.Context, chainID domain.ChainID, target multicallTarget, chunk []domain.Call) ([]domain.CallResult, error) {
	packed := make([]multicallCall, len(chunk))
	for i, c := range chunk {
		packed[i] = multicallCall{Target: c.Target, AllowFailure: c.AllowFailure, CallData: c.Data}
	}
	data, err := packAggregate3(packed)
	if err != nil {
		return nil, err
	}

	metrics.MulticallBatches.WithLabelValues(chainID.String()).Inc()
	metrics.MulticallBatchSize.Observe(float64(len(chunk)))

	to := target.address
	call := func(ctx context.Context) ([]byte, error) {
		return target.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	}
	var raw []byte
	if target.gate != nil {
		raw, err = provider.Call(ctx, target.gate, call)
	} else {
		raw, err = call(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("multicall chain %d: %w", chainID, err)
	}

	decoded, err := unpackAggregate3(raw)
	if err != nil {
		return nil, err
	}
	if len(decoded) != len(chunk) {
		return nil, fmt.Errorf("multicall chain %d: got %d results for %d calls", chainID, len(decoded), len(chunk))
	}

	out := make([]domain.CallResult, len(decoded))
	for i, r := range decoded {
		out[i] = domain.CallResult{Success: r.Success, ReturnData: r.ReturnData}
	}
	return out, nil
}
