package gas

import (
	"sync"

	"github.com/hxuan190/evm-route-engine/internal/chain"
	"github.com/hxuan190/evm-route-engine/internal/domain"
)

// Defaults used when a chain does not configure its own gas parameters
const (
	DefaultGasBase   = chain.DefaultGasBase
	DefaultGasPerHop = chain.DefaultGasPerHop
	// MaxHopGas caps a single observation; anything above is a broken estimate.
	MaxHopGas = 1_000_000
	// DefaultSmoothing is the weight of a new observation in the moving average.
	DefaultSmoothing = 0.2
)

type modelKey struct {
	chainID domain.ChainID
	kind    domain.PoolKindTag
}

// GasModel estimates swap gas as base + sum of per-hop costs. Per-hop costs
// start at the chain's configured value and follow an exponentially weighted
// moving average of observed simulation results per (chain, pool kind).
type GasModel struct {
	registry *chain.Registry
	alpha    float64

	mu   sync.RWMutex
	ewma map[modelKey]float64
}

func NewGasModel(registry *chain.Registry, smoothing float64) *GasModel {
	if smoothing <= 0 || smoothing > 1 {
		smoothing = DefaultSmoothing
	}
	return &GasModel{
		registry: registry,
		alpha:    smoothing,
		ewma:     make(map[modelKey]float64),
	}
}

func (m *GasModel) params(chainID domain.ChainID) (base, perHop uint64) {
	base, perHop = DefaultGasBase, DefaultGasPerHop
	if m.registry == nil {
		return
	}
	ch, err := m.registry.Get(chainID)
	if err != nil {
		return
	}
	if ch.GasBase > 0 {
		base = ch.GasBase
	}
	if ch.GasPerHop > 0 {
		perHop = ch.GasPerHop
	}
	return
}

// Base is the fixed overhead of one swap transaction on chainID.
func (m *GasModel) Base(chainID domain.ChainID) uint64 {
	base, _ := m.params(chainID)
	return base
}

// HopGas is the current per-hop estimate for a pool kind.
func (m *GasModel) HopGas(chainID domain.ChainID, kind domain.PoolKindTag) uint64 {
	m.mu.RLock()
	v, ok := m.ewma[modelKey{chainID, kind}]
	m.mu.RUnlock()
	if ok {
		return uint64(v + 0.5)
	}
	_, perHop := m.params(chainID)
	return perHop
}

// Estimate returns the gas of swapping through route alone.
func (m *GasModel) Estimate(chainID domain.ChainID, route domain.Route) uint64 {
	return m.Base(chainID) + m.RouteHops(chainID, route)
}

// RouteHops returns the per-hop part of a route's gas, without the base overhead.
func (m *GasModel) RouteHops(chainID domain.ChainID, route domain.Route) uint64 {
	var total uint64
	for _, p := range route.Pools {
		total += m.HopGas(chainID, p.Kind.Tag)
	}
	return total
}

// Observe feeds one simulated hop's gas into the moving average.
func (m *GasModel) Observe(chainID domain.ChainID, kind domain.PoolKindTag, gasUsed uint64) {
	if gasUsed == 0 || gasUsed > MaxHopGas {
		return
	}
	key := modelKey{chainID, kind}

	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.ewma[key]
	if !ok {
		_, perHop := m.params(chainID)
		prev = float64(perHop)
	}
	m.ewma[key] = prev + m.alpha*(float64(gasUsed)-prev)
}
