package router

import (
	"context"
	"math/big"
	"slices"
	"time"

	"github.com/hxuan190/evm-route-engine/internal/domain"
	"github.com/hxuan190/evm-route-engine/internal/metrics"
)

const (
	DefaultMaxSplits      = 3
	DefaultMaxEvaluations = 2000
	DefaultTimeBudget     = 250 * time.Millisecond
	// DefaultSplitCandidates is how many top-ranked routes may receive buckets.
	DefaultSplitCandidates = 10
)

type SplitterOptions struct {
	MaxSplits      int
	MaxEvaluations int
	TimeBudget     time.Duration
	Candidates     int
}

// leg is one route of an allocation with its bucket count.
type leg struct {
	route   int
	buckets int
}

// SplitResult is the allocation chosen by the splitter. Legs are ordered by
// bucket count desc then route rank.
type SplitResult struct {
	Legs     []SplitLeg
	Score    *big.Int
	GasUnits uint64
	GasCost  *big.Int

	Evaluations int
	Iterations  int
	// Optimal is false when a budget stopped the search before convergence.
	Optimal bool
}

type SplitLeg struct {
	Route   int
	Percent uint8
	Slice   *SliceQuote
}

// Splitter runs a steepest-ascent search over discrete percent buckets: every
// one-bucket move between two routes is scored and the best strictly improving
// move is applied until none improves or a budget runs out.
type Splitter struct {
	opts SplitterOptions
	now  func() time.Time
}

func NewSplitter(opts SplitterOptions) *Splitter {
	if opts.MaxSplits <= 0 {
		opts.MaxSplits = DefaultMaxSplits
	}
	if opts.MaxEvaluations <= 0 {
		opts.MaxEvaluations = DefaultMaxEvaluations
	}
	if opts.TimeBudget <= 0 {
		opts.TimeBudget = DefaultTimeBudget
	}
	if opts.Candidates <= 0 {
		opts.Candidates = DefaultSplitCandidates
	}
	return &Splitter{opts: opts, now: time.Now}
}

type splitSearch struct {
	table    *QuoteTable
	pricer   GasPricer
	steps    int
	rank     []int // rank[route] = position in the ranking, 0 is best
	evals    int
	maxEvals int
	deadline time.Time
	now      func() time.Time
}

// Split finds the allocation with the best net quote. maxSplits overrides the
// configured route cap when positive.
func (s *Splitter) Split(ctx context.Context, table *QuoteTable, pricer GasPricer, maxSplits int) (*SplitResult, error) {
	if maxSplits <= 0 || maxSplits > s.opts.MaxSplits {
		maxSplits = s.opts.MaxSplits
	}
	search := &splitSearch{
		table:    table,
		pricer:   pricer,
		steps:    table.Steps(),
		maxEvals: s.opts.MaxEvaluations,
		deadline: s.now().Add(s.opts.TimeBudget),
		now:      s.now,
	}
	order := search.rankRoutes()
	if len(order) == 0 {
		return nil, domain.ErrNoRouteFound
	}
	candidates := order[:min(len(order), s.opts.Candidates)]

	current := search.seed(order, maxSplits)
	if current == nil {
		return nil, domain.ErrNoRouteFound
	}
	currentScore, _ := search.score(current)

	optimal := true
	iterations := 0
loop:
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var (
			bestMove  allocation
			bestScore *big.Int
		)
		for _, donor := range current {
			for _, recipient := range candidates {
				if recipient == donor.route {
					continue
				}
				next := current.move(donor.route, recipient)
				if len(next) > maxSplits || !search.valid(next) {
					continue
				}
				if search.exhausted() {
					optimal = false
					break loop
				}
				search.evals++
				score, _ := search.score(next)
				if bestMove == nil || search.better(next, score, bestMove, bestScore) {
					bestMove, bestScore = next, score
				}
			}
		}

		// Apply only strict improvements, or an equal score that drops a route.
		if bestMove == nil {
			break
		}
		cmp := bestScore.Cmp(currentScore)
		if cmp < 0 || (cmp == 0 && len(bestMove) >= len(current)) {
			break
		}
		current, currentScore = bestMove, bestScore
		iterations++
	}

	_, gasUnits := search.score(current)
	result := &SplitResult{
		Score:       currentScore,
		GasUnits:    gasUnits,
		GasCost:     pricer.Cost(gasUnits),
		Evaluations: search.evals,
		Iterations:  iterations,
		Optimal:     optimal,
	}
	legs := slices.Clone(current)
	slices.SortFunc(legs, func(a, b leg) int {
		if a.buckets != b.buckets {
			return b.buckets - a.buckets
		}
		return search.rank[a.route] - search.rank[b.route]
	})
	for _, l := range legs {
		result.Legs = append(result.Legs, SplitLeg{
			Route:   l.route,
			Percent: uint8(l.buckets * table.Step),
			Slice:   table.At(l.route, l.buckets),
		})
	}

	metrics.SplitIterations.Observe(float64(iterations))
	metrics.SplitEvaluations.Observe(float64(search.evals))
	metrics.SplitRoutes.Observe(float64(len(result.Legs)))
	return result, nil
}

// rankRoutes orders usable routes by their single-route net score at 100%,
// then by their score at one bucket for routes that cannot take the full amount.
// Ties keep the enumeration order.
func (s *splitSearch) rankRoutes() []int {
	type ranked struct {
		route int
		full  *big.Int
		small *big.Int
	}
	items := make([]ranked, 0, len(s.table.Routes))
	for r := range s.table.Routes {
		if !s.table.ValidAt(r, 1) {
			continue
		}
		item := ranked{route: r}
		if s.table.ValidAt(r, s.steps) {
			item.full, _ = s.score(allocation{{route: r, buckets: s.steps}})
		}
		item.small, _ = s.score(allocation{{route: r, buckets: 1}})
		items = append(items, item)
	}
	slices.SortStableFunc(items, func(a, b ranked) int {
		switch {
		case a.full != nil && b.full == nil:
			return -1
		case a.full == nil && b.full != nil:
			return 1
		case a.full != nil:
			if c := b.full.Cmp(a.full); c != 0 {
				return c
			}
		}
		return b.small.Cmp(a.small)
	})

	s.rank = make([]int, len(s.table.Routes))
	for i := range s.rank {
		s.rank[i] = len(s.table.Routes)
	}
	order := make([]int, len(items))
	for i, it := range items {
		order[i] = it.route
		s.rank[it.route] = i
	}
	return order
}

// seed starts from the best route that is valid at 100%. Without one, buckets
// are water-filled one at a time onto the route with the best marginal score.
func (s *splitSearch) seed(order []int, maxSplits int) allocation {
	for _, r := range order {
		if s.table.ValidAt(r, s.steps) {
			return allocation{{route: r, buckets: s.steps}}
		}
	}

	var alloc allocation
	for filled := 0; filled < s.steps; filled++ {
		var (
			best      allocation
			bestScore *big.Int
		)
		for _, r := range order {
			next := alloc.add(r)
			if len(next) > maxSplits || !s.valid(next) {
				continue
			}
			score, _ := s.score(next)
			if best == nil || s.better(next, score, best, bestScore) {
				best, bestScore = next, score
			}
		}
		if best == nil {
			return nil
		}
		alloc = best
	}
	return alloc
}

func (s *splitSearch) valid(a allocation) bool {
	for _, l := range a {
		if !s.table.ValidAt(l.route, l.buckets) {
			return false
		}
	}
	return true
}

func (s *splitSearch) exhausted() bool {
	return s.evals >= s.maxEvals || !s.now().Before(s.deadline)
}

// score is the net quote of an allocation, higher is better. For exact-input
// it is output minus gas cost; for exact-output it is the negated input plus
// gas cost. Partial allocations are scored on the buckets they hold.
func (s *splitSearch) score(a allocation) (*big.Int, uint64) {
	total := new(big.Int)
	gasUnits := s.table.BaseGas
	for _, l := range a {
		cell := s.table.At(l.route, l.buckets)
		total.Add(total, cell.Quote(s.table.TradeType))
		gasUnits += cell.HopGas
	}
	cost := s.pricer.Cost(gasUnits)
	if s.table.TradeType == domain.ExactOutput {
		total.Add(total, cost)
		return total.Neg(total), gasUnits
	}
	return total.Sub(total, cost), gasUnits
}

// better reports whether candidate a beats b: higher score, then fewer routes,
// then the lower-ranked routes.
func (s *splitSearch) better(a allocation, scoreA *big.Int, b allocation, scoreB *big.Int) bool {
	if c := scoreA.Cmp(scoreB); c != 0 {
		return c > 0
	}
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	ra, rb := s.rankKey(a), s.rankKey(b)
	return slices.Compare(ra, rb) < 0
}

// rankKey lists the ranks of an allocation's routes, best first, each repeated
// by its bucket count so heavier use of better routes sorts first.
func (s *splitSearch) rankKey(a allocation) []int {
	key := make([]int, 0, s.steps)
	for _, l := range a {
		for range l.buckets {
			key = append(key, s.rank[l.route])
		}
	}
	slices.Sort(key)
	return key
}

// allocation is a set of legs with positive bucket counts, kept in route order.
type allocation []leg

func (a allocation) add(route int) allocation {
	out := make(allocation, 0, len(a)+1)
	added := false
	for _, l := range a {
		if l.route == route {
			l.buckets++
			added = true
		}
		out = append(out, l)
	}
	if !added {
		out = append(out, leg{route: route, buckets: 1})
		slices.SortFunc(out, func(x, y leg) int { return x.route - y.route })
	}
	return out
}

// move shifts one bucket from donor to recipient, dropping the donor when it empties.
func (a allocation) move(donor, recipient int) allocation {
	out := make(allocation, 0, len(a)+1)
	for _, l := range a {
		if l.route == donor {
			l.buckets--
			if l.buckets == 0 {
				continue
			}
		}
		out = append(out, l)
	}
	return out.add(recipient)
}
