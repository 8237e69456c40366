// Package provider bounds every upstream call the router makes.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hxuan190/evm-route-engine/internal/domain"
	"github.com/hxuan190/evm-route-engine/internal/metrics"
)

type GateConfig struct {
	Concurrency int
	// RatePerSec <= 0 disables rate limiting.
	RatePerSec  float64
	Burst       int
	CallTimeout time.Duration
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Gate limits concurrency and request rate for one upstream, applies a per-call
// timeout and retries transient failures with capped exponential backoff.
type Gate struct {
	name    string
	cfg     GateConfig
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

func NewGate(name string, cfg GateConfig) *Gate {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	g := &Gate{
		name: name,
		cfg:  cfg,
		sem:  semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return g
}

func (g *Gate) Name() string {
	return g.name
}

// Do runs fn under the gate. A timeout that survives every retry is reported as
// domain.ErrProviderTimeout; cancellation of ctx is returned as ctx.Err().
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	delay := g.cfg.BaseDelay
	for attempt := 0; ; attempt++ {
		err := g.once(ctx, fn)
		if err == nil {
			metrics.ProviderCalls.WithLabelValues(g.name, "ok").Inc()
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			metrics.ProviderCalls.WithLabelValues(g.name, "canceled").Inc()
			return ctxErr
		}
		if !IsTransient(err) {
			metrics.ProviderCalls.WithLabelValues(g.name, "error").Inc()
			return err
		}
		if attempt >= g.cfg.MaxRetries {
			metrics.ProviderCalls.WithLabelValues(g.name, "exhausted").Inc()
			if isTimeout(err) {
				return fmt.Errorf("%w: %s after %d attempts: %v", domain.ErrProviderTimeout, g.name, attempt+1, err)
			}
			return err
		}

		metrics.ProviderRetries.WithLabelValues(g.name).Inc()
		log.Debug().Err(err).Str("provider", g.name).Int("attempt", attempt+1).Dur("delay", delay).Msg("[providerGate] retrying transient failure")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > g.cfg.MaxDelay {
			delay = g.cfg.MaxDelay
		}
	}
}

func (g *Gate) once(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	callCtx := ctx
	if g.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()
	}
	return fn(callCtx)
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, g *Gate, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Gates hands out one Gate per upstream name, created on first use from a shared config.
type Gates struct {
	mu    sync.Mutex
	cfg   GateConfig
	gates map[string]*Gate
}

func NewGates(cfg GateConfig) *Gates {
	return &Gates{cfg: cfg, gates: make(map[string]*Gate)}
}

func (gs *Gates) Get(name string) *Gate {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if g, ok := gs.gates[name]; ok {
		return g
	}
	g := NewGate(name, gs.cfg)
	gs.gates[name] = g
	return g
}

// IsTransient reports whether err is worth retrying: timeouts, rate limiting,
// dropped connections and 5xx responses. Reverts are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert") {
		return false
	}
	if isTimeout(err) {
		return true
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) && temp.Temporary() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	for _, s := range []string{"429", "too many requests", "rate limit", "connection reset", "broken pipe", "eof"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrProviderTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
