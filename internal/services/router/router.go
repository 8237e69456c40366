package router

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hxuan190/evm-route-engine/internal/chain"
	"github.com/hxuan190/evm-route-engine/internal/domain"
	"github.com/hxuan190/evm-route-engine/internal/metrics"
)

const (
	DefaultSlippageBps = 50
	DefaultDeadline    = 20 * time.Minute
)

// CandidateSelector bounds the pool universe of one trade.
type CandidateSelector interface {
	Select(ctx context.Context, chainID domain.ChainID, tokenIn, tokenOut common.Address) (*domain.CandidatePoolSet, error)
}

// HeadReader returns the latest known block of a chain.
type HeadReader interface {
	Latest(ctx context.Context, chainID domain.ChainID) (uint64, error)
}

type Options struct {
	MaxHops            int
	MaxExploredRoutes  int
	DefaultSlippageBps uint16
	DefaultDeadline    time.Duration
	PlanCacheTTL       time.Duration
	// Heads keys the plan cache by block. Without it plans are not cached.
	Heads HeadReader
}

// Router turns a RouteRequest into a SwapPlan: candidate pools, route
// enumeration, slice quoting, then split optimization.
type Router struct {
	registry  *chain.Registry
	selector  CandidateSelector
	gasPrices domain.GasPriceProvider
	quoter    *Quoter
	splitter  *Splitter
	plans     *PlanCache
	opts      Options
	now       func() time.Time
}

func NewRouter(registry *chain.Registry, selector CandidateSelector, gasPrices domain.GasPriceProvider, quoter *Quoter, splitter *Splitter, opts Options) *Router {
	if opts.MaxHops <= 0 {
		opts.MaxHops = DefaultMaxHops
	}
	if opts.MaxExploredRoutes <= 0 {
		opts.MaxExploredRoutes = DefaultMaxExploredRoutes
	}
	if opts.DefaultSlippageBps == 0 {
		opts.DefaultSlippageBps = DefaultSlippageBps
	}
	if opts.DefaultDeadline <= 0 {
		opts.DefaultDeadline = DefaultDeadline
	}
	r := &Router{
		registry:  registry,
		selector:  selector,
		gasPrices: gasPrices,
		quoter:    quoter,
		splitter:  splitter,
		opts:      opts,
		now:       time.Now,
	}
	if opts.PlanCacheTTL > 0 && opts.Heads != nil {
		r.plans = NewPlanCache(opts.PlanCacheTTL)
	}
	return r
}

// Route computes the best SwapPlan for req. It returns either a complete plan
// or exactly one *domain.RoutingError carrying the failing stage.
func (r *Router) Route(ctx context.Context, req domain.RouteRequest) (*domain.SwapPlan, error) {
	start := r.now()
	tracker := domain.NewRequestTracker(uuid.NewString())
	chainLabel := req.ChainID.String()
	tradeLabel := req.TradeType.String()

	plan, err := r.route(ctx, tracker, req)
	metrics.RouteDuration.WithLabelValues(chainLabel, tradeLabel).Observe(time.Since(start).Seconds())
	if err != nil {
		rerr := tracker.Fail(err)
		metrics.RouteRequests.WithLabelValues(chainLabel, tradeLabel, string(rerr.Kind())).Inc()
		log.Debug().Err(err).Str("request_id", tracker.ID()).Str("stage", rerr.State.String()).
			Msg("[router] routing failed")
		return nil, rerr
	}
	metrics.RouteRequests.WithLabelValues(chainLabel, tradeLabel, "ok").Inc()
	return plan, nil
}

func (r *Router) route(ctx context.Context, tracker *domain.RequestTracker, req domain.RouteRequest) (*domain.SwapPlan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ch, err := r.registry.Get(req.ChainID)
	if err != nil {
		return nil, err
	}

	var cacheKey PlanKey
	if r.plans != nil {
		if head, err := r.opts.Heads.Latest(ctx, req.ChainID); err == nil {
			cacheKey = PlanKey{Request: req, Block: head}
			if plan, ok := r.plans.Get(cacheKey); ok {
				plan.RequestID = tracker.ID()
				plan.Deadline = r.deadline(req)
				r.advanceAll(tracker)
				return plan, nil
			}
		}
	}

	// Candidate pools and gas price are independent fetches.
	var (
		candidates *domain.CandidatePoolSet
		gasPrice   domain.GasPrice
	)
	stage := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		set, err := r.selector.Select(gctx, req.ChainID, req.TokenIn, req.TokenOut)
		candidates = set
		return err
	})
	g.Go(func() error {
		price, err := r.gasPrices.GetGasPrice(gctx, req.ChainID, 0)
		gasPrice = price
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	metrics.StageDuration.WithLabelValues("pools").Observe(time.Since(stage).Seconds())
	metrics.CandidatePools.Observe(float64(candidates.Len()))
	if err := tracker.Advance(domain.StatePoolsFetched); err != nil {
		return nil, err
	}

	maxHops := r.opts.MaxHops
	if req.MaxHops > 0 {
		maxHops = min(req.MaxHops, r.opts.MaxHops)
	}
	stage = time.Now()
	routes := NewGraph(candidates.PoolList()).FindRoutes(req.TokenIn, req.TokenOut, maxHops, r.opts.MaxExploredRoutes)
	metrics.StageDuration.WithLabelValues("routes").Observe(time.Since(stage).Seconds())
	metrics.RoutesGenerated.Observe(float64(len(routes)))
	if len(routes) == 0 {
		return nil, fmt.Errorf("%w: no path within %d hops", domain.ErrNoRouteFound, maxHops)
	}
	if err := tracker.Advance(domain.StateRoutesGenerated); err != nil {
		return nil, err
	}

	if err := tracker.Advance(domain.StateQuoting); err != nil {
		return nil, err
	}
	stage = time.Now()
	table, err := r.quoter.QuoteRoutes(ctx, ch, routes, req.Amount, req.TradeType)
	if err != nil {
		return nil, err
	}
	metrics.StageDuration.WithLabelValues("quote").Observe(time.Since(stage).Seconds())

	if err := tracker.Advance(domain.StateOptimizing); err != nil {
		return nil, err
	}
	tokenIn, _ := candidates.Token(req.TokenIn)
	tokenOut, _ := candidates.Token(req.TokenOut)
	quoteToken := tokenOut
	if req.TradeType == domain.ExactOutput {
		quoteToken = tokenIn
	}

	var warnings []string
	pricer, ok := NewGasPricer(gasPrice.Wei, ch.WrappedNative, quoteToken, candidates.PoolList())
	if !ok {
		warnings = append(warnings, fmt.Sprintf("gas cost ignored: no %s pool prices %s", ch.WrappedNative.Symbol, quoteToken))
	}
	if gasPrice.Stale {
		warnings = append(warnings, "gas price is stale")
	}

	stage = time.Now()
	split, err := r.splitter.Split(ctx, table, pricer, req.MaxSplits)
	if err != nil {
		return nil, err
	}
	metrics.StageDuration.WithLabelValues("optimize").Observe(time.Since(stage).Seconds())
	if !split.Optimal {
		warnings = append(warnings, fmt.Sprintf("%s after %d evaluations: plan is best effort", domain.KindBudgetExhausted, split.Evaluations))
	}
	if table.HasEstimates() {
		warnings = append(warnings, "some concentrated liquidity quotes leave the current tick range and are estimates")
	}

	plan := r.buildPlan(tracker.ID(), req, tokenIn, tokenOut, split, pricer, candidates.BlockNumber)
	plan.Warnings = append(warnings, plan.Warnings...)
	if err := plan.CheckInvariants(); err != nil {
		return nil, err
	}
	if err := tracker.Advance(domain.StateCompleted); err != nil {
		return nil, err
	}

	metrics.PriceImpact.WithLabelValues(string(GetPriceImpactSeverity(plan.PriceImpactBps))).Observe(float64(plan.PriceImpactBps))
	if r.plans != nil && cacheKey.Block != 0 {
		r.plans.Set(cacheKey, plan)
	}
	log.Debug().
		Str("request_id", plan.RequestID).
		Int("routes", len(plan.Routes)).
		Int("candidates", len(routes)).
		Int("evaluations", split.Evaluations).
		Bool("optimal", plan.Optimal).
		Dur("elapsed", tracker.Elapsed()).
		Msg("[router] plan ready")
	return plan, nil
}

func (r *Router) buildPlan(id string, req domain.RouteRequest, tokenIn, tokenOut domain.Token, split *SplitResult, pricer GasPricer, block uint64) *domain.SwapPlan {
	plan := &domain.SwapPlan{
		RequestID:           id,
		ChainID:             req.ChainID,
		TokenIn:             tokenIn,
		TokenOut:            tokenOut,
		TradeType:           req.TradeType,
		Amount:              new(big.Int).Set(req.Amount),
		TotalAmountIn:       new(big.Int),
		TotalAmountOut:      new(big.Int),
		TotalGasEstimate:    split.GasUnits,
		GasPriceWei:         pricer.GasPriceWei(),
		GasCostInQuoteToken: split.GasCost,
		BlockNumber:         block,
		Optimal:             split.Optimal,
	}
	for _, l := range split.Legs {
		q := l.Slice.QuotedRoute
		plan.Routes = append(plan.Routes, q)
		plan.TotalAmountIn.Add(plan.TotalAmountIn, q.AmountIn)
		plan.TotalAmountOut.Add(plan.TotalAmountOut, q.AmountOut)
	}
	plan.PriceImpactBps = PlanPriceImpactBps(plan.Routes)
	if w := GetPriceImpactWarning(plan.PriceImpactBps); w != "" {
		plan.Warnings = append(plan.Warnings, w)
	}

	plan.SlippageToleranceBps = req.SlippageToleranceBps
	if plan.SlippageToleranceBps == 0 {
		plan.SlippageToleranceBps = r.opts.DefaultSlippageBps
	}
	plan.AmountThreshold = AmountThreshold(req.TradeType, plan.TotalAmountIn, plan.TotalAmountOut, plan.SlippageToleranceBps)

	plan.Deadline = r.deadline(req)
	return plan
}

// deadline is stamped per request, cached plans included.
func (r *Router) deadline(req domain.RouteRequest) int64 {
	if req.DeadlineUnix != 0 {
		return req.DeadlineUnix
	}
	return r.now().Add(r.opts.DefaultDeadline).Unix()
}

// AmountThreshold applies slippage: the minimum output for exact-input
// (out*(10000-bps)/10000) and the maximum input for exact-output
// (in*10000/(10000-bps), rounded up).
func AmountThreshold(tradeType domain.TradeType, amountIn, amountOut *big.Int, slippageBps uint16) *big.Int {
	keep := big.NewInt(int64(10000 - int(slippageBps)))
	if tradeType == domain.ExactOutput {
		out := new(big.Int).Mul(amountIn, BpsDenom)
		out.Add(out, new(big.Int).Sub(keep, big.NewInt(1)))
		return out.Div(out, keep)
	}
	out := new(big.Int).Mul(amountOut, keep)
	return out.Div(out, BpsDenom)
}

// CandidatePools exposes the selector for diagnostics.
func (r *Router) CandidatePools(ctx context.Context, chainID domain.ChainID, tokenIn, tokenOut common.Address) (*domain.CandidatePoolSet, error) {
	if _, err := r.registry.Get(chainID); err != nil {
		return nil, err
	}
	if tokenIn == tokenOut {
		return nil, fmt.Errorf("%w: tokenIn equals tokenOut", domain.ErrInvalidRequest)
	}
	return r.selector.Select(ctx, chainID, tokenIn, tokenOut)
}

func (r *Router) Registry() *chain.Registry {
	return r.registry
}

// advanceAll walks a tracker through every stage for a plan served from cache.
func (r *Router) advanceAll(tracker *domain.RequestTracker) {
	for s := tracker.State() + 1; s <= domain.StateCompleted; s++ {
		if err := tracker.Advance(s); err != nil {
			log.Warn().Err(err).Msg("[router] tracker advance")
			return
		}
	}
}
