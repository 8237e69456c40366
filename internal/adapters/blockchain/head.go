package blockchain

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"github.com/hxuan190/evm-route-engine/internal/domain"
	"github.com/hxuan190/evm-route-engine/internal/metrics"
)

type Head struct {
	ChainID   domain.ChainID
	Number    uint64
	Hash      common.Hash
	UpdatedAt time.Time
}

// HeadFetcher reads the latest block number of a chain.
type HeadFetcher func(ctx context.Context, chainID domain.ChainID) (uint64, error)

// HeadTracker caches the latest observed block per chain. Heads arrive from a
// subscription or a poller through Observe; Latest refreshes on demand when the
// cached head is older than maxAge and falls back to it when the RPC fails.
type HeadTracker struct {
	mu     sync.RWMutex
	heads  map[domain.ChainID]Head
	fetch  HeadFetcher
	maxAge time.Duration

	listenersMu sync.RWMutex
	listeners   []func(chainID domain.ChainID, number uint64)
}

func NewHeadTracker(fetch HeadFetcher, maxAge time.Duration) *HeadTracker {
	return &HeadTracker{
		heads:  make(map[domain.ChainID]Head),
		fetch:  fetch,
		maxAge: maxAge,
	}
}

// OnNewHead registers fn to be called whenever a strictly newer block is observed.
func (t *HeadTracker) OnNewHead(fn func(chainID domain.ChainID, number uint64)) {
	t.listenersMu.Lock()
	t.listeners = append(t.listeners, fn)
	t.listenersMu.Unlock()
}

// Observe records a head. Older or equal block numbers are ignored.
func (t *HeadTracker) Observe(h Head) bool {
	if h.UpdatedAt.IsZero() {
		h.UpdatedAt = time.Now()
	}

	t.mu.Lock()
	cur, ok := t.heads[h.ChainID]
	if ok && h.Number <= cur.Number {
		if h.Number == cur.Number {
			cur.UpdatedAt = h.UpdatedAt
			t.heads[h.ChainID] = cur
		}
		t.mu.Unlock()
		return false
	}
	t.heads[h.ChainID] = h
	t.mu.Unlock()

	metrics.ChainHead.WithLabelValues(h.ChainID.String()).Set(float64(h.Number))

	t.listenersMu.RLock()
	listeners := t.listeners
	t.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(h.ChainID, h.Number)
	}
	return true
}

func (t *HeadTracker) Cached(chainID domain.ChainID) (Head, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.heads[chainID]
	return h, ok
}

func (t *HeadTracker) Latest(ctx context.Context, chainID domain.ChainID) (uint64, error) {
	cached, ok := t.Cached(chainID)
	if ok && time.Since(cached.UpdatedAt) < t.maxAge {
		return cached.Number, nil
	}

	n, err := t.fetch(ctx, chainID)
	if err != nil {
		if ok {
			log.Warn().Err(err).Str("chain", chainID.String()).Uint64("block", cached.Number).Msg("[headTracker] refresh failed, serving cached head")
			return cached.Number, nil
		}
		return 0, err
	}
	t.Observe(Head{ChainID: chainID, Number: n})
	return n, nil
}

// watch follows new heads over a websocket subscription, falling back to polling
// when no subscription can be made. It returns when ctx is done.
func (t *HeadTracker) watch(ctx context.Context, chainID domain.ChainID, sub *Client, pollEvery time.Duration) {
	if sub != nil {
		err := t.subscribe(ctx, chainID, sub)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("chain", chainID.String()).Msg("[headTracker] subscription ended, switching to polling")
	}
	t.poll(ctx, chainID, pollEvery)
}

func (t *HeadTracker) subscribe(ctx context.Context, chainID domain.ChainID, sub *Client) error {
	ch := make(chan *types.Header, 16)
	s, err := sub.SubscribeNewHead(ctx, ch)
	if err != nil {
		return err
	}
	defer s.Unsubscribe()
	log.Info().Str("chain", chainID.String()).Msg("[headTracker] subscribed to new heads")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-s.Err():
			return err
		case h := <-ch:
			if h == nil || h.Number == nil {
				continue
			}
			t.Observe(Head{ChainID: chainID, Number: h.Number.Uint64(), Hash: h.Hash()})
		}
	}
}

func (t *HeadTracker) poll(ctx context.Context, chainID domain.ChainID, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := t.fetch(ctx, chainID)
			if err != nil {
				log.Debug().Err(err).Str("chain", chainID.String()).Msg("[headTracker] poll failed")
				continue
			}
			t.Observe(Head{ChainID: chainID, Number: n})
		}
	}
}
