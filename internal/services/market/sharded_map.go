package market

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hxuan190/evm-route-engine/internal/domain"
)

const numShards = 16

// AddressKey identifies a contract on a chain.
type AddressKey struct {
	ChainID domain.ChainID
	Address common.Address
}

// ShardedMap is a sharded map keyed by on-chain address to reduce lock contention.
type ShardedMap[V any] struct {
	shards [numShards]shard[V]
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[AddressKey]V
}

func NewShardedMap[V any]() *ShardedMap[V] {
	m := &ShardedMap[V]{}
	for i := 0; i < numShards; i++ {
		m.shards[i].items = make(map[AddressKey]V)
	}
	return m
}

// getShard uses the last address byte; the first is often zero-padded for vanity addresses.
func (m *ShardedMap[V]) getShard(key AddressKey) *shard[V] {
	idx := key.Address[common.AddressLength-1] % numShards
	return &m.shards[idx]
}

func (m *ShardedMap[V]) Get(key AddressKey) (V, bool) {
	s := m.getShard(key)
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	return v, ok
}

func (m *ShardedMap[V]) Set(key AddressKey, v V) {
	s := m.getShard(key)
	s.mu.Lock()
	s.items[key] = v
	s.mu.Unlock()
}

func (m *ShardedMap[V]) Delete(key AddressKey) {
	s := m.getShard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Len returns total count across all shards
func (m *ShardedMap[V]) Len() int {
	total := 0
	for i := 0; i < numShards; i++ {
		m.shards[i].mu.RLock()
		total += len(m.shards[i].items)
		m.shards[i].mu.RUnlock()
	}
	return total
}

// Range iterates over all entries (acquires locks per shard)
func (m *ShardedMap[V]) Range(f func(key AddressKey, v V) bool) {
	for i := 0; i < numShards; i++ {
		m.shards[i].mu.RLock()
		for k, v := range m.shards[i].items {
			if !f(k, v) {
				m.shards[i].mu.RUnlock()
				return
			}
		}
		m.shards[i].mu.RUnlock()
	}
}
