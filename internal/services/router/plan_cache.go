package router

import (
	"encoding/binary"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hxuan190/evm-route-engine/internal/domain"
	"github.com/hxuan190/evm-route-engine/internal/metrics"
)

const (
	planCacheMaxSize = 1024 // Power of 2 for efficient modulo
	planCacheShards  = 16   // Number of shards for reduced lock contention
)

// FNV-1a constants for zero-allocation hashing
const (
	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211
)

// PlanKey identifies a plan: identical requests at the same block share one.
type PlanKey struct {
	Request domain.RouteRequest
	Block   uint64
}

func (k PlanKey) hash() uint64 {
	h := uint64(fnvOffset64)
	write := func(b []byte) {
		for _, c := range b {
			h ^= uint64(c)
			h *= fnvPrime64
		}
	}
	var buf [8]byte
	u64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		write(buf[:])
	}

	r := k.Request
	u64(uint64(r.ChainID))
	write(r.TokenIn.Bytes())
	write(r.TokenOut.Bytes())
	if r.Amount != nil {
		write(r.Amount.Bytes())
	}
	u64(uint64(r.TradeType))
	u64(uint64(r.MaxHops))
	u64(uint64(r.MaxSplits))
	u64(uint64(r.SlippageToleranceBps))
	u64(uint64(r.DeadlineUnix))
	u64(k.Block)
	return h
}

func (k PlanKey) equal(o PlanKey) bool {
	a, b := k.Request, o.Request
	return k.Block == o.Block &&
		a.ChainID == b.ChainID &&
		a.TokenIn == b.TokenIn &&
		a.TokenOut == b.TokenOut &&
		a.TradeType == b.TradeType &&
		a.MaxHops == b.MaxHops &&
		a.MaxSplits == b.MaxSplits &&
		a.SlippageToleranceBps == b.SlippageToleranceBps &&
		a.DeadlineUnix == b.DeadlineUnix &&
		a.Amount != nil && b.Amount != nil && a.Amount.Cmp(b.Amount) == 0
}

// cacheEntry represents a cached plan in contiguous memory
type cacheEntry struct {
	hash   uint64
	key    PlanKey
	plan   *domain.SwapPlan
	expiry int64  // Unix nano for faster comparison
	used   uint32 // Clock bit for eviction
}

// cacheShard is a single shard of the cache
type cacheShard struct {
	mu      sync.RWMutex
	entries []cacheEntry
	size    int
	hand    int // Clock hand for eviction
}

// PlanCache is a sharded clock cache with a short TTL. Entries are keyed by
// block, so a new head naturally misses.
type PlanCache struct {
	shards [planCacheShards]cacheShard
	ttl    time.Duration
	now    func() time.Time
}

func NewPlanCache(ttl time.Duration) *PlanCache {
	pc := &PlanCache{ttl: ttl, now: time.Now}
	entriesPerShard := planCacheMaxSize / planCacheShards
	for i := 0; i < planCacheShards; i++ {
		pc.shards[i].entries = make([]cacheEntry, entriesPerShard)
	}
	return pc
}

func (pc *PlanCache) getShard(hash uint64) *cacheShard {
	return &pc.shards[hash%planCacheShards]
}

// Get returns a copy of the cached plan so callers can stamp their own request id.
func (pc *PlanCache) Get(key PlanKey) (*domain.SwapPlan, bool) {
	if pc == nil || pc.ttl <= 0 {
		return nil, false
	}
	hash := key.hash()
	now := pc.now().UnixNano()

	shard := pc.getShard(hash)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	// Linear search in shard (good cache locality for small arrays)
	for i := 0; i < shard.size; i++ {
		entry := &shard.entries[i]
		if entry.hash == hash && now <= entry.expiry && entry.key.equal(key) {
			atomic.StoreUint32(&entry.used, 1)
			metrics.CacheHits.WithLabelValues("plan").Inc()
			plan := *entry.plan
			plan.Routes = slices.Clone(plan.Routes)
			plan.Warnings = slices.Clone(plan.Warnings)
			return &plan, true
		}
	}
	metrics.CacheMisses.WithLabelValues("plan").Inc()
	return nil, false
}

func (pc *PlanCache) Set(key PlanKey, plan *domain.SwapPlan) {
	if pc == nil || pc.ttl <= 0 || plan == nil {
		return
	}
	hash := key.hash()
	expiry := pc.now().Add(pc.ttl).UnixNano()

	stored := *plan
	stored.Routes = slices.Clone(plan.Routes)
	stored.Warnings = slices.Clone(plan.Warnings)
	plan = &stored

	shard := pc.getShard(hash)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	fill := func(entry *cacheEntry) {
		entry.hash = hash
		entry.key = key
		entry.plan = plan
		entry.expiry = expiry
		atomic.StoreUint32(&entry.used, 1)
	}

	for i := 0; i < shard.size; i++ {
		if entry := &shard.entries[i]; entry.hash == hash && entry.key.equal(key) {
			fill(entry)
			return
		}
	}

	entriesPerShard := len(shard.entries)
	if shard.size < entriesPerShard {
		fill(&shard.entries[shard.size])
		shard.size++
		return
	}

	// Clock eviction: expired or unused entries go first, others get a second chance.
	now := pc.now().UnixNano()
	for attempts := 0; attempts < entriesPerShard*2; attempts++ {
		entry := &shard.entries[shard.hand]
		shard.hand = (shard.hand + 1) % entriesPerShard
		if atomic.LoadUint32(&entry.used) == 0 || now > entry.expiry {
			fill(entry)
			return
		}
		atomic.StoreUint32(&entry.used, 0)
	}

	fill(&shard.entries[shard.hand])
	shard.hand = (shard.hand + 1) % entriesPerShard
}

// Size returns current cache size across all shards
func (pc *PlanCache) Size() int {
	total := 0
	for i := 0; i < planCacheShards; i++ {
		shard := &pc.shards[i]
		shard.mu.RLock()
		total += shard.size
		shard.mu.RUnlock()
	}
	return total
}
