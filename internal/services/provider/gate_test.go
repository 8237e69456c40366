package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxuan190/evm-route-engine/internal/domain"
)

func testGate(retries int) *Gate {
	return NewGate("test", GateConfig{
		Concurrency: 2,
		CallTimeout: 20 * time.Millisecond,
		MaxRetries:  retries,
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
	})
}

func TestGateRetriesTransientErrors(t *testing.T) {
	g := testGate(3)
	var calls atomic.Int32

	err := g.Do(context.Background(), func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return rpc.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGateDoesNotRetryReverts(t *testing.T) {
	g := testGate(3)
	var calls atomic.Int32

	err := g.Do(context.Background(), func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("execution reverted: SPL")
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGateTimeoutBecomesProviderTimeout(t *testing.T) {
	g := testGate(1)
	var calls atomic.Int32

	err := g.Do(context.Background(), func(ctx context.Context) error {
		calls.Add(1)
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, domain.ErrProviderTimeout)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGateHonorsCancellation(t *testing.T) {
	g := testGate(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.Do(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGateLimitsConcurrency(t *testing.T) {
	g := NewGate("conc", GateConfig{Concurrency: 2})
	var inFlight, peak atomic.Int32

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			_ = g.Do(context.Background(), func(ctx context.Context) error {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestCallReturnsValue(t *testing.T) {
	v, err := Call(context.Background(), testGate(0), func(ctx context.Context) (uint64, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"429", rpc.HTTPError{StatusCode: 429}, true},
		{"503", rpc.HTTPError{StatusCode: 503}, true},
		{"400", rpc.HTTPError{StatusCode: 400}, false},
		{"revert", errors.New("execution reverted"), false},
		{"reset", errors.New("read tcp: connection reset by peer"), true},
		{"other", errors.New("invalid argument"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestGatesReusesByName(t *testing.T) {
	gs := NewGates(GateConfig{Concurrency: 1})
	assert.Same(t, gs.Get("rpc:1"), gs.Get("rpc:1"))
	assert.NotSame(t, gs.Get("rpc:1"), gs.Get("rpc:8453"))
}
