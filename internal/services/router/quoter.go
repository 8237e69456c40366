package router

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hxuan190/evm-route-engine/internal/adapters/blockchain"
	"github.com/hxuan190/evm-route-engine/internal/chain"
	"github.com/hxuan190/evm-route-engine/internal/domain"
	"github.com/hxuan190/evm-route-engine/internal/metrics"
	"github.com/hxuan190/evm-route-engine/internal/services/gas"
)

const (
	DefaultSplitStepPercent = 5
	DefaultQuoteWorkers     = 8
)

// SliceQuote is one (route, percent) cell of a QuoteTable.
type SliceQuote struct {
	domain.QuotedRoute
	// HopGas is the per-hop part of GasEstimate; the base overhead is paid once per plan.
	HopGas uint64
	// Estimated marks a local in-range quote that left the current tick range.
	Estimated bool
	Err       error
}

// Quote is the amount the slice is ranked by: output for exact-input, input for exact-output.
func (s *SliceQuote) Quote(tradeType domain.TradeType) *big.Int {
	if tradeType == domain.ExactOutput {
		return s.AmountIn
	}
	return s.AmountOut
}

// QuoteTable holds every route quoted at every percent step.
type QuoteTable struct {
	ChainID   domain.ChainID
	TradeType domain.TradeType
	Step      int
	BaseGas   uint64
	Routes    []domain.Route
	cells     [][]SliceQuote
}

// Steps is the number of percent buckets, 100/Step.
func (t *QuoteTable) Steps() int {
	return 100 / t.Step
}

// At returns route r quoted at buckets*Step percent. buckets must be in [1, Steps()].
func (t *QuoteTable) At(r, buckets int) *SliceQuote {
	return &t.cells[r][buckets-1]
}

// ValidAt reports whether route r has a usable quote at buckets*Step percent.
func (t *QuoteTable) ValidAt(r, buckets int) bool {
	if buckets <= 0 || buckets > t.Steps() {
		return false
	}
	return t.cells[r][buckets-1].Valid
}

func (t *QuoteTable) HasEstimates() bool {
	for _, row := range t.cells {
		for i := range row {
			if row[i].Valid && row[i].Estimated {
				return true
			}
		}
	}
	return false
}

type QuoterOptions struct {
	StepPercent int
	Workers     int
	// Caller simulates concentrated liquidity hops through QuoterV2. Nil means local math only.
	Caller domain.ContractCaller
}

// Quoter fills a QuoteTable. Hops are evaluated level by level: every pending
// on-chain hop simulation of one level, across all routes and slices, is queued
// in one CallBatch and flushed together.
type Quoter struct {
	gas     *gas.GasModel
	caller  domain.ContractCaller
	step    int
	workers int
}

func NewQuoter(gasModel *gas.GasModel, opts QuoterOptions) *Quoter {
	if opts.StepPercent <= 0 || 100%opts.StepPercent != 0 {
		opts.StepPercent = DefaultSplitStepPercent
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultQuoteWorkers
	}
	if gasModel == nil {
		gasModel = gas.NewGasModel(nil, 0)
	}
	return &Quoter{
		gas:     gasModel,
		caller:  opts.Caller,
		step:    opts.StepPercent,
		workers: opts.Workers,
	}
}

func (q *Quoter) Step() int {
	return q.step
}

// pendingCall is an on-chain hop simulation queued for the current level.
type pendingCall struct {
	route, slice int
	kind         domain.PoolKindTag
	index        int
}

// QuoteRoutes quotes every route at every percent step of amount. Per-slice
// failures are recorded in the table; the error is only for cancellation.
func (q *Quoter) QuoteRoutes(ctx context.Context, ch *chain.Chain, routes []domain.Route, amount *big.Int, tradeType domain.TradeType) (*QuoteTable, error) {
	steps := 100 / q.step
	table := &QuoteTable{
		ChainID:   ch.ID,
		TradeType: tradeType,
		Step:      q.step,
		BaseGas:   q.gas.Base(ch.ID),
		Routes:    routes,
		cells:     make([][]SliceQuote, len(routes)),
	}

	// Gas estimates are read once so one request sees one model state.
	hopGas := map[domain.PoolKindTag]uint64{
		domain.KindConstantProduct:       q.gas.HopGas(ch.ID, domain.KindConstantProduct),
		domain.KindConcentratedLiquidity: q.gas.HopGas(ch.ID, domain.KindConcentratedLiquidity),
	}

	maxHops := 0
	for r, route := range routes {
		maxHops = max(maxHops, route.Hops())
		row := make([]SliceQuote, steps)
		for s := range row {
			pct := uint8((s + 1) * q.step)
			cell := &row[s]
			cell.Route = route
			cell.Percent = pct
			cell.Valid = true
			if tradeType == domain.ExactInput {
				cell.AmountIn = SplitAmount(amount, pct)
			} else {
				cell.AmountOut = SplitAmountCeil(amount, pct)
			}
		}
		table.cells[r] = row
	}

	onChain := q.caller != nil && ch.QuoterV2 != (common.Address{})
	for level := 0; level < maxHops; level++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := q.quoteLevel(ctx, ch, table, level, onChain, hopGas); err != nil {
			return nil, err
		}
	}

	for r := range table.cells {
		for s := range table.cells[r] {
			cell := &table.cells[r][s]
			if !cell.Valid {
				metrics.SlicesQuoted.WithLabelValues("invalid").Inc()
				continue
			}
			cell.GasEstimate = table.BaseGas + cell.HopGas
			cell.PriceImpactBps = RoutePriceImpactBps(cell.Route, cell.AmountIn, cell.AmountOut)
			metrics.SlicesQuoted.WithLabelValues("valid").Inc()
		}
	}
	return table, nil
}

// quoteLevel advances every valid slice by one hop. For exact-input the hop is
// counted from the start of the route, for exact-output from the end.
func (q *Quoter) quoteLevel(ctx context.Context, ch *chain.Chain, table *QuoteTable, level int, onChain bool, hopGas map[domain.PoolKindTag]uint64) error {
	exactIn := table.TradeType == domain.ExactInput

	var (
		mu      sync.Mutex
		batch   = domain.NewCallBatch(len(table.Routes) * table.Steps())
		pending = make([]pendingCall, 0)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.workers)
	for r := range table.Routes {
		route := table.Routes[r]
		if level >= route.Hops() {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hop := level
			if !exactIn {
				hop = route.Hops() - 1 - level
			}
			pool := route.Pools[hop]
			tokenIn, tokenOut := route.Path[hop].Address, route.Path[hop+1].Address
			zeroForOne := pool.ZeroForOne(tokenIn)

			for s := range table.cells[r] {
				cell := &table.cells[r][s]
				if !cell.Valid {
					continue
				}
				amount := cell.AmountIn
				if !exactIn {
					amount = cell.AmountOut
				}
				if level > 0 {
					amount = cell.Quote(table.TradeType)
				}
				if amount == nil || amount.Sign() <= 0 {
					invalidate(cell, ErrInvalidAmount)
					continue
				}

				if onChain && pool.Kind.Tag == domain.KindConcentratedLiquidity {
					data, err := blockchain.PackQuoteSingle(blockchain.QuoteSingleParams{
						TokenIn:  tokenIn,
						TokenOut: tokenOut,
						Amount:   amount,
						FeePips:  pool.Kind.FeePips(),
					}, exactIn)
					if err != nil {
						invalidate(cell, err)
						continue
					}
					mu.Lock()
					idx := batch.Add(domain.Call{Target: ch.QuoterV2, Data: data, AllowFailure: true})
					pending = append(pending, pendingCall{route: r, slice: s, kind: pool.Kind.Tag, index: idx})
					mu.Unlock()
					continue
				}

				q.applyLocal(cell, pool, amount, zeroForOne, exactIn, hopGas[pool.Kind.Tag])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	results, err := batch.Flush(ctx, q.caller, ch.ID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Simulation is unavailable: fall back to local math for this level.
		log.Warn().Err(err).Uint64("chain", uint64(ch.ID)).Int("calls", len(pending)).
			Msg("[quoter] hop simulation failed, using local math")
		for _, p := range pending {
			q.localFallback(table, p, level, hopGas)
		}
		return nil
	}

	for _, p := range pending {
		cell := &table.cells[p.route][p.slice]
		if p.index >= len(results) || !results[p.index].Success {
			invalidate(cell, errors.New("hop simulation reverted"))
			continue
		}
		res, err := blockchain.UnpackQuoteSingle(results[p.index].ReturnData, exactIn)
		if err != nil {
			invalidate(cell, err)
			continue
		}
		if res.Amount == nil || res.Amount.Sign() <= 0 {
			invalidate(cell, errors.New("hop simulation returned zero"))
			continue
		}
		q.gas.Observe(ch.ID, p.kind, res.GasEstimate)
		hg := hopGas[p.kind]
		if res.GasEstimate > 0 && res.GasEstimate <= gas.MaxHopGas {
			hg = res.GasEstimate
		}
		setHop(cell, res.Amount, exactIn, hg)
	}
	return nil
}

func (q *Quoter) localFallback(table *QuoteTable, p pendingCall, level int, hopGas map[domain.PoolKindTag]uint64) {
	exactIn := table.TradeType == domain.ExactInput
	cell := &table.cells[p.route][p.slice]
	route := table.Routes[p.route]
	hop := level
	if !exactIn {
		hop = route.Hops() - 1 - level
	}
	amount := cell.AmountIn
	if !exactIn {
		amount = cell.AmountOut
	}
	if level > 0 {
		amount = cell.Quote(table.TradeType)
	}
	pool := route.Pools[hop]
	q.applyLocal(cell, pool, amount, pool.ZeroForOne(route.Path[hop].Address), exactIn, hopGas[pool.Kind.Tag])
}

func (q *Quoter) applyLocal(cell *SliceQuote, pool *domain.Pool, amount *big.Int, zeroForOne, exactIn bool, hopGas uint64) {
	in, ok := U256FromBig(amount)
	if !ok {
		invalidate(cell, ErrMathOverflow)
		return
	}
	res, err := QuoteHop(pool.Kind, in, zeroForOne, exactIn)
	if err != nil {
		invalidate(cell, fmt.Errorf("pool %s: %w", pool.Address.Hex(), err))
		return
	}
	if res.CrossedRange {
		cell.Estimated = true
	}
	setHop(cell, res.Amount.ToBig(), exactIn, hopGas)
}

// setHop stores a hop result. The first and last amounts of the chain are the
// slice amounts; intermediate ones live in the quoted side until the next hop.
func setHop(cell *SliceQuote, amount *big.Int, exactIn bool, hopGas uint64) {
	if exactIn {
		cell.AmountOut = amount
	} else {
		cell.AmountIn = amount
	}
	cell.HopGas += hopGas
}

func invalidate(cell *SliceQuote, err error) {
	cell.Valid = false
	cell.Err = fmt.Errorf("%w: %s at %d%%: %w", domain.ErrInvalidRouteSlice, cell.Route.Key(), cell.Percent, err)
}
