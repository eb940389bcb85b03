// Package gateway is the dispatch boundary in front of the completion
// backends. Every call runs through the same stack: cache lookup, error-rate
// admission, circuit breaker, rate limiter, then the retry executor wrapping
// the timeout guard around the actual HTTP call. Errors leaving this package
// always belong to the domain taxonomy.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quorumlabs/quorum/internal/core/domain"
	"github.com/quorumlabs/quorum/internal/infra/cache"
	"github.com/quorumlabs/quorum/internal/infra/llm"
	"github.com/quorumlabs/quorum/internal/observe/metrics"
	"github.com/quorumlabs/quorum/internal/resilience/breaker"
	"github.com/quorumlabs/quorum/internal/resilience/errorlimit"
	"github.com/quorumlabs/quorum/internal/resilience/ratelimit"
	"github.com/quorumlabs/quorum/internal/resilience/retry"
	"github.com/quorumlabs/quorum/internal/resilience/timeout"
)

// ClientSource resolves provider clients. Satisfied by llm.Registry.
type ClientSource interface {
	Get(domain.ProviderID) (llm.ProviderClient, bool)
	Providers() []domain.ProviderID
}

// ProviderStats counts outcomes for one backend.
type ProviderStats struct {
	Calls     int64
	Successes int64
	Failures  int64
	CacheHits int64
	StaleHits int64
}

type statCounters struct {
	calls     atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	cacheHits atomic.Int64
	staleHits atomic.Int64
}

var errNotConfigured = errors.New("not configured")

// Gateway dispatches completion calls through the resilience stack.
type Gateway struct {
	clients  ClientSource
	cache    *cache.Tiered
	limiter  *ratelimit.Limiter
	breaker  *breaker.Breaker
	guard    *timeout.Guard
	retrier  *retry.Executor
	errLimit *errorlimit.Limiter
	fallback []domain.ProviderID
	log      *slog.Logger

	mu    sync.Mutex
	stats map[domain.ProviderID]*statCounters

	sleep func(ctx context.Context, d time.Duration) error
}

// Options carries the collaborators. Fallback defaults to the client
// source's provider order.
type Options struct {
	Clients    ClientSource
	Cache      *cache.Tiered
	Limiter    *ratelimit.Limiter
	Breaker    *breaker.Breaker
	Guard      *timeout.Guard
	Retrier    *retry.Executor
	ErrorLimit *errorlimit.Limiter
	Fallback   []domain.ProviderID
	Logger     *slog.Logger
}

// New builds a gateway.
func New(opts Options) *Gateway {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	fallback := opts.Fallback
	if len(fallback) == 0 {
		fallback = opts.Clients.Providers()
	}
	return &Gateway{
		clients:  opts.Clients,
		cache:    opts.Cache,
		limiter:  opts.Limiter,
		breaker:  opts.Breaker,
		guard:    opts.Guard,
		retrier:  opts.Retrier,
		errLimit: opts.ErrorLimit,
		fallback: fallback,
		log:      log,
		stats:    make(map[domain.ProviderID]*statCounters),
		sleep:    sleepCtx,
	}
}

// Invoke runs one call against a single provider. A cache hit returns
// without touching the backend; a miss goes through admission, the breaker,
// the rate limiter, and the retry executor wrapping the timeout guard.
func (g *Gateway) Invoke(ctx context.Context, call domain.CallContext, prompt string) (string, error) {
	if prompt == "" {
		return "", &domain.ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	if !call.Provider.IsKnown() {
		return "", &domain.ValidationError{Field: "provider", Reason: "unknown provider " + call.Provider.String()}
	}

	key := cache.Key(call.Provider, prompt)
	if val, ok := g.cache.Get(ctx, key); ok {
		g.counters(call.Provider).cacheHits.Add(1)
		metrics.ProviderCalls.WithLabelValues(call.Provider.String(), "cache_hit").Inc()
		return val, nil
	}

	if g.errLimit != nil {
		d := g.errLimit.Admit(call.ClientID, call.Operation, call.RequestID)
		if !d.Allowed {
			return "", &domain.RateLimitError{Provider: call.Provider}
		}
		if d.Delay > 0 {
			g.log.Debug("holding response", "client", call.ClientID, "delay", d.Delay, "reason", d.Reason)
			if err := g.sleep(ctx, d.Delay); err != nil {
				return "", err
			}
		}
	}

	out, err := g.dispatch(ctx, call, prompt)
	if err != nil {
		g.recordFailure(call, err)
		return "", err
	}

	g.cache.Set(ctx, key, out)
	g.recordSuccess(call.Provider)
	return out, nil
}

// InvokeWithFallback walks the fallback order starting at the requested
// provider. When every live call fails it attempts a degraded cache read
// before giving up with ErrNoProvidersAvailable.
func (g *Gateway) InvokeWithFallback(ctx context.Context, call domain.CallContext, prompt string) (string, domain.ProviderID, error) {
	order := g.fallbackOrder(call.Provider)

	var lastErr error
	for _, p := range order {
		if _, ok := g.clients.Get(p); !ok {
			continue
		}
		out, err := g.Invoke(ctx, call.WithProvider(p), prompt)
		if err == nil {
			return out, p, nil
		}
		lastErr = err
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			// Caller fault: the prompt will fail everywhere.
			return "", "", err
		}
		g.log.Warn("provider failed, trying next",
			"provider", p, "kind", domain.Classify(err), "error", err)
	}

	// Degraded read: a stale cached answer beats no answer.
	for _, p := range order {
		if val, ok := g.StaleResponse(ctx, p, prompt); ok {
			return val, p, nil
		}
	}

	if lastErr != nil {
		g.log.Error("all providers exhausted", "error", lastErr)
	}
	return "", "", domain.ErrNoProvidersAvailable
}

// StaleResponse returns a previously cached answer for the provider/prompt
// pair ignoring TTL. This is the degraded-read path for callers that have
// already exhausted live dispatch.
func (g *Gateway) StaleResponse(ctx context.Context, p domain.ProviderID, prompt string) (string, bool) {
	val, ok := g.cache.GetStale(ctx, cache.Key(p, prompt))
	if !ok {
		return "", false
	}
	g.counters(p).staleHits.Add(1)
	g.log.Warn("serving stale cached response", "provider", p)
	return val, true
}

// dispatch is the live-call path: breaker, rate limit, retries, timeout.
func (g *Gateway) dispatch(ctx context.Context, call domain.CallContext, prompt string) (string, error) {
	p := call.Provider
	client, ok := g.clients.Get(p)
	if !ok {
		return "", &domain.ProviderUnavailableError{Provider: p, Cause: errNotConfigured}
	}

	op := "completion:" + p.String()

	return g.retrier.Run(ctx, func(ctx context.Context) (string, error) {
		if !g.breaker.Allow(p) {
			return "", &domain.CircuitOpenError{Provider: p, RetryAfter: g.breaker.RetryAfter(p)}
		}
		if err := g.limiter.Wait(ctx, p); err != nil {
			return "", err
		}

		g.counters(p).calls.Add(1)
		start := time.Now()
		out, err := g.guard.Run(ctx, op, func(ctx context.Context) (string, error) {
			return client.Call(ctx, llm.CompletionRequest{Prompt: prompt})
		})
		metrics.ProviderLatency.WithLabelValues(p.String()).Observe(time.Since(start).Seconds())

		if err != nil {
			g.breaker.RecordFailure(p, err)
			g.publishBreakerState(p)
			return "", err
		}
		g.breaker.RecordSuccess(p)
		g.publishBreakerState(p)
		return out, nil
	})
}

func (g *Gateway) recordSuccess(p domain.ProviderID) {
	g.counters(p).successes.Add(1)
	metrics.ProviderCalls.WithLabelValues(p.String(), "success").Inc()
}

func (g *Gateway) recordFailure(call domain.CallContext, err error) {
	g.counters(call.Provider).failures.Add(1)
	kind := domain.Classify(err)
	metrics.ProviderCalls.WithLabelValues(call.Provider.String(), string(kind)).Inc()
	if g.errLimit != nil {
		g.errLimit.RecordError(call.ClientID, string(kind), call.Operation)
	}
}

func (g *Gateway) publishBreakerState(p domain.ProviderID) {
	snap := g.breaker.Snapshot()[p]
	var v float64
	switch snap.State {
	case breaker.StateHalfOpen:
		v = 1
	case breaker.StateOpen:
		v = 2
	}
	metrics.BreakerState.WithLabelValues(p.String()).Set(v)
}

// fallbackOrder returns the configured order rotated so the requested
// provider is tried first, without duplicates.
func (g *Gateway) fallbackOrder(first domain.ProviderID) []domain.ProviderID {
	out := make([]domain.ProviderID, 0, len(g.fallback)+1)
	if first != "" {
		out = append(out, first)
	}
	for _, p := range g.fallback {
		if p != first {
			out = append(out, p)
		}
	}
	return out
}

// Stats returns a snapshot of the per-provider counters.
func (g *Gateway) Stats() map[domain.ProviderID]ProviderStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[domain.ProviderID]ProviderStats, len(g.stats))
	for p, c := range g.stats {
		out[p] = ProviderStats{
			Calls:     c.calls.Load(),
			Successes: c.successes.Load(),
			Failures:  c.failures.Load(),
			CacheHits: c.cacheHits.Load(),
			StaleHits: c.staleHits.Load(),
		}
	}
	return out
}

// BreakerSnapshot exposes circuit state for health reporting.
func (g *Gateway) BreakerSnapshot() map[domain.ProviderID]breaker.Snapshot {
	return g.breaker.Snapshot()
}

// CacheStats exposes cache counters for health reporting.
func (g *Gateway) CacheStats() cache.Stats {
	return g.cache.Stats()
}

// InFlight reports how many admissions sit inside a provider's rate window.
func (g *Gateway) InFlight(p domain.ProviderID) int {
	return g.limiter.InWindow(p)
}

func (g *Gateway) counters(p domain.ProviderID) *statCounters {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.stats[p]
	if !ok {
		c = &statCounters{}
		g.stats[p] = c
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
