package market

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/hxuan190/evm-route-engine/internal/domain"
	"github.com/hxuan190/evm-route-engine/internal/metrics"
)

const (
	snapshotCacheMaxSize       = 4096
	defaultSnapshotLoadTimeout = 10 * time.Second
)

// SnapshotKey identifies a pool snapshot. Block 0 means the head was unknown
// when the snapshot was taken; such entries only expire by TTL.
type SnapshotKey struct {
	ChainID domain.ChainID
	Block   uint64
	Scope   string
}

func (k SnapshotKey) String() string {
	return fmt.Sprintf("%d:%d:%s", k.ChainID, k.Block, k.Scope)
}

type Snapshot struct {
	Pools  []*domain.Pool
	Source string
	Block  uint64
}

// SharedSnapshotStore is a cache tier shared between replicas.
type SharedSnapshotStore interface {
	SavePools(ctx context.Context, key string, source string, block uint64, pools []*domain.Pool) error
	LoadPools(ctx context.Context, key string) ([]*domain.Pool, string, uint64, bool, error)
}

type SnapshotLoader func(ctx context.Context) (*Snapshot, error)

// SnapshotCache serves pool snapshots from memory, then the optional shared
// tier, then the loader. Concurrent misses for one key run a single load; every
// waiter gives up on its own context without cancelling the load for the others.
type SnapshotCache struct {
	local       *BoundedLRUCache[SnapshotKey, *Snapshot]
	group       singleflight.Group
	shared      SharedSnapshotStore
	ttl         time.Duration
	loadTimeout time.Duration
}

func NewSnapshotCache(ttl time.Duration, shared SharedSnapshotStore) *SnapshotCache {
	return &SnapshotCache{
		local:       NewBoundedLRUCache[SnapshotKey, *Snapshot](snapshotCacheMaxSize),
		shared:      shared,
		ttl:         ttl,
		loadTimeout: defaultSnapshotLoadTimeout,
	}
}

func (c *SnapshotCache) GetOrLoad(ctx context.Context, key SnapshotKey, load SnapshotLoader) (*Snapshot, error) {
	if snap, ok := c.local.Get(key); ok {
		metrics.CacheHits.WithLabelValues("pool_snapshot").Inc()
		return snap, nil
	}
	metrics.CacheMisses.WithLabelValues("pool_snapshot").Inc()

	ch := c.group.DoChan(key.String(), func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()
		return c.fill(loadCtx, key, load)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

func (c *SnapshotCache) fill(ctx context.Context, key SnapshotKey, load SnapshotLoader) (*Snapshot, error) {
	if snap, ok := c.local.Get(key); ok {
		return snap, nil
	}

	if c.shared != nil {
		pools, source, block, found, err := c.shared.LoadPools(ctx, key.String())
		switch {
		case err != nil:
			log.Warn().Err(err).Str("key", key.String()).Msg("[snapshotCache] shared tier read failed")
		case found:
			metrics.CacheHits.WithLabelValues("pool_snapshot_shared").Inc()
			snap := &Snapshot{Pools: pools, Source: source, Block: block}
			c.local.SetWithTTL(key, snap, c.ttl)
			return snap, nil
		}
	}

	snap, err := load(ctx)
	if err != nil {
		return nil, err
	}
	c.local.SetWithTTL(key, snap, c.ttl)

	if c.shared != nil {
		if err := c.shared.SavePools(ctx, key.String(), snap.Source, snap.Block, snap.Pools); err != nil {
			log.Warn().Err(err).Str("key", key.String()).Msg("[snapshotCache] shared tier write failed")
		}
	}
	return snap, nil
}

// OnNewBlock drops snapshots of chainID taken at an older block.
func (c *SnapshotCache) OnNewBlock(chainID domain.ChainID, block uint64) {
	removed := c.local.RemoveIf(func(k SnapshotKey) bool {
		return k.ChainID == chainID && k.Block != 0 && k.Block < block
	})
	if removed > 0 {
		log.Debug().Uint64("chain", uint64(chainID)).Uint64("block", block).Int("removed", removed).Msg("[snapshotCache] invalidated")
	}
}

func (c *SnapshotCache) Size() int {
	return c.local.Size()
}
