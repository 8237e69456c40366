package domain

import (
	"context"
	"fmt"
	"iter"
	"math/big"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PoolFilter narrows ListPools to pools touching any of Tokens. When Partners
// is set, the other side of the pool must be one of Partners as well.
// An empty filter lists every pool the source knows about.
type PoolFilter struct {
	Tokens   []common.Address
	Partners []common.Address
}

// Matches reports whether p passes the filter.
func (f PoolFilter) Matches(p *Pool) bool {
	if len(f.Tokens) == 0 {
		return true
	}
	a, b := p.Token0.Address, p.Token1.Address
	if len(f.Partners) == 0 {
		return slices.Contains(f.Tokens, a) || slices.Contains(f.Tokens, b)
	}
	return (slices.Contains(f.Tokens, a) && slices.Contains(f.Partners, b)) ||
		(slices.Contains(f.Tokens, b) && slices.Contains(f.Partners, a))
}

// PoolSource lists pool snapshots for a chain.
//
// The returned sequence is lazy and restartable: every range over it starts
// from the first page, the pagination cursor lives inside that iteration, and
// breaking out early stops further fetching. A non-nil error is yielded at most
// once and ends the sequence.
type PoolSource interface {
	Name() string
	ListPools(ctx context.Context, chainID ChainID, filter PoolFilter) iter.Seq2[*Pool, error]
}

type GasPrice struct {
	ChainID     ChainID
	Wei         *big.Int
	BlockNumber uint64
	FetchedAt   time.Time
	// Stale is set when a live provider fell back to its last cached value.
	Stale bool
}

// GasPriceProvider returns the gas price for a chain. block 0 means latest.
type GasPriceProvider interface {
	GetGasPrice(ctx context.Context, chainID ChainID, block uint64) (GasPrice, error)
}

type Call struct {
	Target       common.Address
	Data         []byte
	AllowFailure bool
}

type CallResult struct {
	Success    bool
	ReturnData []byte
}

// ContractCaller executes read-only calls in batches. Results are index-aligned with calls.
type ContractCaller interface {
	BatchCall(ctx context.Context, chainID ChainID, calls []Call) ([]CallResult, error)
}

// CallBatch is an arena of pending calls that are flushed together.
type CallBatch struct {
	calls []Call
}

func NewCallBatch(capacity int) *CallBatch {
	return &CallBatch{calls: make([]Call, 0, capacity)}
}

// Add queues a call and returns its index in the flushed results.
func (b *CallBatch) Add(call Call) int {
	b.calls = append(b.calls, call)
	return len(b.calls) - 1
}

func (b *CallBatch) Len() int {
	return len(b.calls)
}

// Flush sends every queued call through caller and resets the arena. The
// result holds exactly one entry per queued call.
func (b *CallBatch) Flush(ctx context.Context, caller ContractCaller, chainID ChainID) ([]CallResult, error) {
	if len(b.calls) == 0 {
		return nil, nil
	}
	calls := b.calls
	b.calls = b.calls[:0:0]
	results, err := caller.BatchCall(ctx, chainID, calls)
	if err != nil {
		return nil, err
	}
	if len(results) != len(calls) {
		return nil, fmt.Errorf("%w: %d results for %d calls", ErrShortBatch, len(results), len(calls))
	}
	return results, nil
}
