package gas

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/hxuan190/evm-route-engine/internal/domain"
	"github.com/hxuan190/evm-route-engine/internal/metrics"
	"github.com/hxuan190/evm-route-engine/internal/services/provider"
)

const (
	DefaultFeeHistoryBlocks = 10
	DefaultPriceTTL         = 6 * time.Second
	DefaultPriceTimeout     = time.Second
)

// FeeReader is the part of an RPC client the live provider needs.
type FeeReader interface {
	FeeHistory(ctx context.Context, blocks uint64, lastBlock *big.Int, percentiles []float64) (*ethereum.FeeHistory, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

type ReaderFunc func(ctx context.Context, chainID domain.ChainID) (FeeReader, error)

// SharedGasPriceStore lets replicas share the last known price.
type SharedGasPriceStore interface {
	SaveGasPrice(ctx context.Context, gp domain.GasPrice) error
	LoadGasPrice(ctx context.Context, chainID domain.ChainID) (domain.GasPrice, bool, error)
}

type LiveOptions struct {
	Urgency Urgency
	TTL     time.Duration
	Timeout time.Duration
	Blocks  uint64
	// Gate, when set, returns the provider gate guarding chainID's RPC.
	Gate   func(chainID domain.ChainID) *provider.Gate
	Shared SharedGasPriceStore
}

type priceKey struct {
	chainID domain.ChainID
	block   uint64
}

// LiveGasPriceProvider derives the gas price from eth_feeHistory (next base
// fee plus an urgency-percentile tip) and falls back to eth_gasPrice. Prices
// are cached per (chain, block) for a short TTL; on failure the last known
// price of the chain is served marked Stale.
type LiveGasPriceProvider struct {
	readers ReaderFunc
	opts    LiveOptions
	group   singleflight.Group

	mu     sync.Mutex
	cached map[priceKey]domain.GasPrice
	last   map[domain.ChainID]domain.GasPrice
	now    func() time.Time
}

func NewLiveGasPriceProvider(readers ReaderFunc, opts LiveOptions) *LiveGasPriceProvider {
	if opts.TTL <= 0 {
		opts.TTL = DefaultPriceTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPriceTimeout
	}
	if opts.Blocks == 0 {
		opts.Blocks = DefaultFeeHistoryBlocks
	}
	return &LiveGasPriceProvider{
		readers: readers,
		opts:    opts,
		cached:  make(map[priceKey]domain.GasPrice),
		last:    make(map[domain.ChainID]domain.GasPrice),
		now:     time.Now,
	}
}

func (p *LiveGasPriceProvider) GetGasPrice(ctx context.Context, chainID domain.ChainID, block uint64) (domain.GasPrice, error) {
	key := priceKey{chainID, block}
	if gp, ok := p.fresh(key); ok {
		metrics.CacheHits.WithLabelValues("gas_price").Inc()
		return gp, nil
	}
	metrics.CacheMisses.WithLabelValues("gas_price").Inc()

	ch := p.group.DoChan(fmt.Sprintf("%d:%d", chainID, block), func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.Timeout)
		defer cancel()
		return p.fetch(fetchCtx, chainID, block)
	})

	var (
		gp  domain.GasPrice
		err error
	)
	select {
	case <-ctx.Done():
		return domain.GasPrice{}, ctx.Err()
	case res := <-ch:
		if res.Err == nil {
			gp = res.Val.(domain.GasPrice)
		}
		err = res.Err
	}

	if err == nil {
		p.store(key, gp)
		return gp, nil
	}
	return p.stale(ctx, chainID, err)
}

func (p *LiveGasPriceProvider) fresh(key priceKey) (domain.GasPrice, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	gp, ok := p.cached[key]
	if !ok || p.now().Sub(gp.FetchedAt) >= p.opts.TTL {
		return domain.GasPrice{}, false
	}
	return copyPrice(gp), true
}

func (p *LiveGasPriceProvider) store(key priceKey, gp domain.GasPrice) {
	p.mu.Lock()
	for k, v := range p.cached {
		if p.now().Sub(v.FetchedAt) >= p.opts.TTL {
			delete(p.cached, k)
		}
	}
	p.cached[key] = gp
	if prev, ok := p.last[key.chainID]; !ok || !gp.FetchedAt.Before(prev.FetchedAt) {
		p.last[key.chainID] = gp
	}
	p.mu.Unlock()

	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(gp.Wei), big.NewFloat(1e9)).Float64()
	metrics.GasPriceGwei.WithLabelValues(key.chainID.String()).Set(gwei)

	if p.opts.Shared != nil {
		if err := p.opts.Shared.SaveGasPrice(context.Background(), gp); err != nil {
			log.Debug().Err(err).Msg("[gasProvider] shared tier write failed")
		}
	}
}

func (p *LiveGasPriceProvider) stale(ctx context.Context, chainID domain.ChainID, cause error) (domain.GasPrice, error) {
	p.mu.Lock()
	gp, ok := p.last[chainID]
	p.mu.Unlock()

	if !ok && p.opts.Shared != nil {
		if shared, found, err := p.opts.Shared.LoadGasPrice(ctx, chainID); err == nil && found {
			gp, ok = shared, true
		}
	}
	if !ok {
		return domain.GasPrice{}, fmt.Errorf("%w: chain %d: %w", domain.ErrGasPriceUnavailable, chainID, cause)
	}

	metrics.GasPriceStale.WithLabelValues(chainID.String()).Inc()
	log.Warn().Err(cause).
		Uint64("chain", uint64(chainID)).
		Uint64("block", gp.BlockNumber).
		Msg("[gasProvider] serving stale gas price")

	gp = copyPrice(gp)
	gp.Stale = true
	return gp, nil
}

func (p *LiveGasPriceProvider) fetch(ctx context.Context, chainID domain.ChainID, block uint64) (domain.GasPrice, error) {
	reader, err := p.readers(ctx, chainID)
	if err != nil {
		return domain.GasPrice{}, err
	}

	var gate *provider.Gate
	if p.opts.Gate != nil {
		gate = p.opts.Gate(chainID)
	}
	call := func(ctx context.Context, fn func(ctx context.Context) error) error {
		if gate == nil {
			return fn(ctx)
		}
		return gate.Do(ctx, fn)
	}

	var lastBlock *big.Int
	if block > 0 {
		lastBlock = new(big.Int).SetUint64(block)
	}

	var hist *ethereum.FeeHistory
	histErr := call(ctx, func(ctx context.Context) error {
		h, err := reader.FeeHistory(ctx, p.opts.Blocks, lastBlock, []float64{float64(p.opts.Urgency.Percentile())})
		hist = h
		return err
	})
	if histErr == nil && hist != nil && len(hist.BaseFee) > 0 {
		nextBase := hist.BaseFee[len(hist.BaseFee)-1]
		wei := new(big.Int).Add(nextBase, new(big.Int).SetUint64(priorityFee(hist.Reward)))
		number := block
		if number == 0 && hist.OldestBlock != nil && len(hist.GasUsedRatio) > 0 {
			number = hist.OldestBlock.Uint64() + uint64(len(hist.GasUsedRatio)) - 1
		}
		return domain.GasPrice{ChainID: chainID, Wei: wei, BlockNumber: number, FetchedAt: p.now()}, nil
	}
	if ctx.Err() != nil {
		return domain.GasPrice{}, ctx.Err()
	}

	log.Debug().Err(histErr).Uint64("chain", uint64(chainID)).Msg("[gasProvider] fee history unavailable, using eth_gasPrice")
	var wei *big.Int
	err = call(ctx, func(ctx context.Context) error {
		w, err := reader.SuggestGasPrice(ctx)
		wei = w
		return err
	})
	if err != nil {
		return domain.GasPrice{}, errors.Join(histErr, err)
	}
	if wei == nil || wei.Sign() <= 0 {
		return domain.GasPrice{}, fmt.Errorf("eth_gasPrice returned %v", wei)
	}
	return domain.GasPrice{ChainID: chainID, Wei: wei, BlockNumber: block, FetchedAt: p.now()}, nil
}

func copyPrice(gp domain.GasPrice) domain.GasPrice {
	if gp.Wei != nil {
		gp.Wei = new(big.Int).Set(gp.Wei)
	}
	return gp
}
