package market

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hxuan190/evm-route-engine/internal/chain"
	"github.com/hxuan190/evm-route-engine/internal/domain"
	"github.com/hxuan190/evm-route-engine/internal/metrics"
)

const DefaultTopNPools = 30

type SelectorOptions struct {
	TopN int
	// Cache, Heads and Markets are optional.
	Cache   *SnapshotCache
	Heads   HeadReader
	Markets *MarketRegistry
}

// Selector picks the pools a request may route through. Sources are tried in
// order; a failing source falls through to the next one.
type Selector struct {
	registry *chain.Registry
	sources  []domain.PoolSource
	cache    *SnapshotCache
	heads    HeadReader
	markets  *MarketRegistry
	topN     int
}

func NewSelector(registry *chain.Registry, sources []domain.PoolSource, opts SelectorOptions) *Selector {
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopNPools
	}
	if opts.Markets == nil {
		opts.Markets = NewDefaultMarketRegistry()
	}
	return &Selector{
		registry: registry,
		sources:  sources,
		cache:    opts.Cache,
		heads:    opts.Heads,
		markets:  opts.Markets,
		topN:     opts.TopN,
	}
}

// scope is one pool query of a selection: pools pairing a token of tokens
// with a token of partners.
type scope struct {
	name     string
	tokens   []common.Address
	partners []common.Address
}

type scopeResult struct {
	pools []*domain.Pool
	block uint64
}

// Select returns the candidate pools for tokenIn -> tokenOut on chainID.
func (s *Selector) Select(ctx context.Context, chainID domain.ChainID, tokenIn, tokenOut common.Address) (*domain.CandidatePoolSet, error) {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues("select_candidates").Observe(time.Since(start).Seconds())
	}()

	ch, err := s.registry.Get(chainID)
	if err != nil {
		return nil, err
	}
	if tokenIn == tokenOut {
		return nil, fmt.Errorf("%w: tokenIn equals tokenOut", domain.ErrInvalidRequest)
	}
	if len(s.sources) == 0 {
		return nil, fmt.Errorf("%w: no pool source configured", domain.ErrNoPoolDataAvailable)
	}

	var head uint64
	if s.heads != nil {
		if h, err := s.heads.Latest(ctx, chainID); err == nil {
			head = h
		}
	}

	// Both sides of every query are constrained, so each scope is bounded by
	// its pair count times the fee tiers, whatever the size of the pool universe.
	bases := ch.BaseTokenAddresses()
	scopes := []scope{
		{name: "in", tokens: []common.Address{tokenIn}, partners: append([]common.Address{tokenOut}, bases...)},
		{name: "out", tokens: []common.Address{tokenOut}, partners: append([]common.Address{tokenIn}, bases...)},
	}
	if len(bases) > 1 {
		scopes = append(scopes, scope{name: "bases", tokens: bases, partners: bases})
	}

	var errs []error
	for i, source := range s.sources {
		results, err := s.fetchScopes(ctx, source, chainID, head, scopes)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			errs = append(errs, fmt.Errorf("%s: %w", source.Name(), err))
			metrics.PoolSourceFallbacks.WithLabelValues(chainID.String(), source.Name()).Inc()
			log.Warn().Err(err).
				Uint64("chain", uint64(chainID)).
				Str("source", source.Name()).
				Msg("[candidateSelector] pool source failed, trying next")
			continue
		}

		last := i == len(s.sources)-1
		if !last && (len(results[0].pools) == 0 || len(results[1].pools) == 0) {
			log.Debug().
				Uint64("chain", uint64(chainID)).
				Str("source", source.Name()).
				Msg("[candidateSelector] source has no pools for pair, trying next")
			continue
		}
		return s.assemble(ch, tokenIn, tokenOut, source.Name(), head, results)
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: tokenIn %s or tokenOut %s has no pools", domain.ErrNoCandidatePools, tokenIn.Hex(), tokenOut.Hex())
	}
	return nil, fmt.Errorf("%w: %w", domain.ErrNoPoolDataAvailable, errors.Join(errs...))
}

func (s *Selector) fetchScopes(ctx context.Context, source domain.PoolSource, chainID domain.ChainID, head uint64, scopes []scope) ([]scopeResult, error) {
	results := make([]scopeResult, len(scopes))
	g, gctx := errgroup.WithContext(ctx)
	for i, sc := range scopes {
		g.Go(func() error {
			snap, err := s.snapshot(gctx, source, chainID, head, sc)
			if err != nil {
				return err
			}
			results[i] = scopeResult{pools: snap.Pools, block: snap.Block}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Selector) snapshot(ctx context.Context, source domain.PoolSource, chainID domain.ChainID, head uint64, sc scope) (*Snapshot, error) {
	load := func(ctx context.Context) (*Snapshot, error) {
		snap := &Snapshot{Source: source.Name()}
		filter := domain.PoolFilter{Tokens: sc.tokens, Partners: sc.partners}
		for pool, err := range source.ListPools(ctx, chainID, filter) {
			if err != nil {
				return nil, err
			}
			if !s.markets.IsPoolReady(pool) {
				continue
			}
			snap.Pools = append(snap.Pools, pool)
			snap.Block = max(snap.Block, pool.BlockNumber)
		}
		return snap, nil
	}

	if s.cache == nil {
		return load(ctx)
	}
	key := SnapshotKey{ChainID: chainID, Block: head, Scope: scopeKey(source.Name(), sc.tokens, sc.partners)}
	return s.cache.GetOrLoad(ctx, key, load)
}

func scopeKey(source string, tokens, partners []common.Address) string {
	side := func(addrs []common.Address) string {
		parts := make([]string, len(addrs))
		for i, t := range addrs {
			parts[i] = strings.ToLower(t.Hex())
		}
		slices.Sort(parts)
		return strings.Join(parts, ",")
	}
	return source + ":" + side(tokens) + "|" + side(partners)
}

func (s *Selector) assemble(ch *chain.Chain, tokenIn, tokenOut common.Address, source string, head uint64, results []scopeResult) (*domain.CandidatePoolSet, error) {
	byAddr := make(map[common.Address]*domain.Pool)
	inCount, outCount := 0, 0
	block := head
	for _, res := range results {
		block = max(block, res.block)
		for _, p := range res.pools {
			if p.Has(tokenIn) {
				inCount++
			}
			if p.Has(tokenOut) {
				outCount++
			}
			byAddr[p.Address] = p
		}
	}
	if inCount == 0 || outCount == 0 {
		return nil, fmt.Errorf("%w: tokenIn pools %d, tokenOut pools %d", domain.ErrNoCandidatePools, inCount, outCount)
	}

	ranked := make([]domain.CandidatePool, 0, len(byAddr))
	for _, p := range byAddr {
		if rules := classify(ch, p, tokenIn, tokenOut); rules != 0 {
			ranked = append(ranked, domain.CandidatePool{Pool: p, Rules: rules})
		}
	}
	slices.SortFunc(ranked, func(a, b domain.CandidatePool) int {
		return domain.CompareLiquidity(a.Pool, b.Pool)
	})

	selected := make([]domain.CandidatePool, 0, min(len(ranked), s.topN))
	for i, c := range ranked {
		if i < s.topN {
			c.Rules |= domain.RuleTopLiquidity
		} else if !c.Rules.Has(domain.RuleDirectPair) {
			continue
		}
		selected = append(selected, c)
	}

	metrics.CandidatePools.Observe(float64(len(selected)))
	log.Debug().
		Uint64("chain", uint64(ch.ID)).
		Str("source", source).
		Int("discovered", len(byAddr)).
		Int("selected", len(selected)).
		Msg("[candidateSelector] candidates selected")

	return &domain.CandidatePoolSet{
		ChainID:     ch.ID,
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		Pools:       selected,
		Source:      source,
		BlockNumber: block,
	}, nil
}

func classify(ch *chain.Chain, p *domain.Pool, tokenIn, tokenOut common.Address) domain.SelectionRule {
	var rules domain.SelectionRule
	if p.Has(tokenIn) && p.Has(tokenOut) {
		rules |= domain.RuleDirectPair
	}
	for _, t := range []common.Address{tokenIn, tokenOut} {
		if other, ok := p.Other(t); ok && ch.IsBaseToken(other.Address) {
			rules |= domain.RuleBaseTokenPair
		}
	}
	if ch.IsBaseToken(p.Token0.Address) && ch.IsBaseToken(p.Token1.Address) {
		rules |= domain.RuleBaseTokenBridge
	}
	return rules
}
