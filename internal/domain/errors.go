package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUnsupportedChain    = errors.New("unsupported chain")
	ErrNoPoolDataAvailable = errors.New("no pool data available")
	ErrNoCandidatePools    = errors.New("no candidate pools")
	ErrInvalidRouteSlice   = errors.New("invalid route slice")
	ErrNoRouteFound        = errors.New("no route found")
	ErrGasPriceUnavailable = errors.New("gas price unavailable")
	ErrProviderTimeout     = errors.New("provider timeout")
	ErrBudgetExhausted     = errors.New("evaluation budget exhausted")

	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidRoute   = errors.New("invalid route")
	ErrShortBatch     = errors.New("batch call returned too few results")
)

// ErrorKind is the stable, user-visible code of a routing failure.
type ErrorKind string

const (
	KindUnsupportedChain    ErrorKind = "UNSUPPORTED_CHAIN"
	KindNoPoolDataAvailable ErrorKind = "NO_POOL_DATA_AVAILABLE"
	KindNoCandidatePools    ErrorKind = "NO_CANDIDATE_POOLS"
	KindInvalidRouteSlice   ErrorKind = "INVALID_ROUTE_SLICE"
	KindNoRouteFound        ErrorKind = "NO_ROUTE_FOUND"
	KindGasPriceUnavailable ErrorKind = "GAS_PRICE_UNAVAILABLE"
	KindProviderTimeout     ErrorKind = "PROVIDER_TIMEOUT"
	KindBudgetExhausted     ErrorKind = "BUDGET_EXHAUSTED"
	KindInvalidRequest      ErrorKind = "INVALID_REQUEST"
	KindCanceled            ErrorKind = "CANCELED"
	KindInternal            ErrorKind = "INTERNAL"
)

var kindBySentinel = []struct {
	err  error
	kind ErrorKind
}{
	{ErrUnsupportedChain, KindUnsupportedChain},
	{ErrNoPoolDataAvailable, KindNoPoolDataAvailable},
	{ErrNoCandidatePools, KindNoCandidatePools},
	{ErrNoRouteFound, KindNoRouteFound},
	{ErrGasPriceUnavailable, KindGasPriceUnavailable},
	{ErrProviderTimeout, KindProviderTimeout},
	{ErrBudgetExhausted, KindBudgetExhausted},
	{ErrInvalidRouteSlice, KindInvalidRouteSlice},
	{ErrInvalidRequest, KindInvalidRequest},
}

// Kind maps an error chain to its ErrorKind. Unknown errors are KindInternal.
func Kind(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, s := range kindBySentinel {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindProviderTimeout
	}
	return KindInternal
}

// RoutingError is the single terminal error a routing request returns.
type RoutingError struct {
	RequestID string
	State     RequestState
	Err       error
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing failed at %s: %v", e.State, e.Err)
}

func (e *RoutingError) Unwrap() error {
	return e.Err
}

func (e *RoutingError) Kind() ErrorKind {
	return Kind(e.Err)
}
