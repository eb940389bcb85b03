package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quorumlabs/quorum/internal/core/domain"
	"github.com/quorumlabs/quorum/internal/infra/cache"
	"github.com/quorumlabs/quorum/internal/infra/llm"
	"github.com/quorumlabs/quorum/internal/resilience/breaker"
	"github.com/quorumlabs/quorum/internal/resilience/errorlimit"
	"github.com/quorumlabs/quorum/internal/resilience/ratelimit"
	"github.com/quorumlabs/quorum/internal/resilience/retry"
	"github.com/quorumlabs/quorum/internal/resilience/timeout"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeClient struct {
	name  domain.ProviderID
	fn    func(ctx context.Context, req llm.CompletionRequest) (string, error)
	calls atomic.Int32
}

func (f *fakeClient) Name() domain.ProviderID { return f.name }

func (f *fakeClient) Call(ctx context.Context, req llm.CompletionRequest) (string, error) {
	f.calls.Add(1)
	return f.fn(ctx, req)
}

func (f *fakeClient) Close() error { return nil }

type fakeSource struct {
	clients map[domain.ProviderID]*fakeClient
	order   []domain.ProviderID
}

func newFakeSource(clients ...*fakeClient) *fakeSource {
	s := &fakeSource{clients: make(map[domain.ProviderID]*fakeClient)}
	for _, c := range clients {
		s.clients[c.name] = c
		s.order = append(s.order, c.name)
	}
	return s
}

func (s *fakeSource) Get(p domain.ProviderID) (llm.ProviderClient, bool) {
	c, ok := s.clients[p]
	return c, ok
}

func (s *fakeSource) Providers() []domain.ProviderID { return s.order }

func answering(p domain.ProviderID, answer string) *fakeClient {
	return &fakeClient{name: p, fn: func(ctx context.Context, req llm.CompletionRequest) (string, error) {
		return answer, nil
	}}
}

func failing(p domain.ProviderID, err error) *fakeClient {
	return &fakeClient{name: p, fn: func(ctx context.Context, req llm.CompletionRequest) (string, error) {
		return "", err
	}}
}

func unavailable(p domain.ProviderID) *fakeClient {
	return failing(p, &domain.ProviderUnavailableError{Provider: p, Cause: errors.New("down")})
}

func newTestGateway(src ClientSource) *Gateway {
	return New(Options{
		Clients: src,
		Cache:   cache.NewTiered(cache.NewLocal(100), nil, time.Minute, nil),
		Limiter: ratelimit.New(ratelimit.Config{Window: time.Minute, MaxRequests: 1000, MaxWait: 0}),
		Breaker: breaker.New(breaker.Config{FailureThreshold: 3, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1}),
		Guard:   timeout.New(timeout.Config{DefaultBudget: 5 * time.Second}),
		Retrier: retry.New(retry.Config{MaxAttempts: 1}),
	})
}

func call(p domain.ProviderID) domain.CallContext {
	return domain.NewCallContext(p, "analyze", "client-1")
}

// =============================================================================
// Invoke
// =============================================================================

func TestInvoke_CacheHitSkipsProvider(t *testing.T) {
	c := answering(domain.ProviderOpenAI, "Paris")
	g := newTestGateway(newFakeSource(c))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out, err := g.Invoke(ctx, call(domain.ProviderOpenAI), "capital of France")
		if err != nil {
			t.Fatalf("invoke %d: %v", i, err)
		}
		if out != "Paris" {
			t.Fatalf("invoke %d: got %q", i, out)
		}
	}

	if n := c.calls.Load(); n != 1 {
		t.Errorf("backend called %d times, want 1", n)
	}
	if hits := g.Stats()[domain.ProviderOpenAI].CacheHits; hits != 2 {
		t.Errorf("cache hits = %d, want 2", hits)
	}
}

func TestInvoke_EmptyPromptIsValidation(t *testing.T) {
	g := newTestGateway(newFakeSource(answering(domain.ProviderOpenAI, "x")))

	_, err := g.Invoke(context.Background(), call(domain.ProviderOpenAI), "")
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestInvoke_BreakerOpensAndFailsFast(t *testing.T) {
	c := unavailable(domain.ProviderOpenAI)
	g := newTestGateway(newFakeSource(c))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := g.Invoke(ctx, call(domain.ProviderOpenAI), "p"); err == nil {
			t.Fatal("expected failure")
		}
	}

	before := c.calls.Load()
	_, err := g.Invoke(ctx, call(domain.ProviderOpenAI), "p")
	var co *domain.CircuitOpenError
	if !errors.As(err, &co) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
	if c.calls.Load() != before {
		t.Error("open circuit must not reach the backend")
	}
}

func TestInvoke_RateLimitRejectsWhenWindowFull(t *testing.T) {
	g := New(Options{
		Clients: newFakeSource(answering(domain.ProviderOpenAI, "a")),
		Cache:   cache.NewTiered(cache.NewLocal(100), nil, time.Minute, nil),
		Limiter: ratelimit.New(ratelimit.Config{Window: time.Minute, MaxRequests: 1, MaxWait: 0}),
		Breaker: breaker.New(breaker.Config{}),
		Guard:   timeout.New(timeout.Config{DefaultBudget: 5 * time.Second}),
		Retrier: retry.New(retry.Config{MaxAttempts: 1}),
	})
	ctx := context.Background()

	if _, err := g.Invoke(ctx, call(domain.ProviderOpenAI), "p1"); err != nil {
		t.Fatalf("first call: %v", err)
	}

	_, err := g.Invoke(ctx, call(domain.ProviderOpenAI), "p2")
	var rl *domain.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
}

func TestInvoke_RecordsErrorInLimiter(t *testing.T) {
	el := errorlimit.New(errorlimit.DefaultConfig)
	g := New(Options{
		Clients:    newFakeSource(unavailable(domain.ProviderOpenAI)),
		Cache:      cache.NewTiered(cache.NewLocal(100), nil, time.Minute, nil),
		Limiter:    ratelimit.New(ratelimit.DefaultConfig),
		Breaker:    breaker.New(breaker.Config{}),
		Guard:      timeout.New(timeout.Config{DefaultBudget: 5 * time.Second}),
		Retrier:    retry.New(retry.Config{MaxAttempts: 1}),
		ErrorLimit: el,
	})

	g.Invoke(context.Background(), call(domain.ProviderOpenAI), "p")

	if n := el.KindCount(string(domain.KindProviderUnavailable)); n != 1 {
		t.Errorf("recorded kind count = %d, want 1", n)
	}
}

// =============================================================================
// InvokeWithFallback
// =============================================================================

func TestFallback_PrimaryFailsSecondarySucceeds(t *testing.T) {
	primary := unavailable(domain.ProviderOpenAI)
	secondary := answering(domain.ProviderAnthropic, "fallback answer")
	g := newTestGateway(newFakeSource(primary, secondary))

	out, served, err := g.InvokeWithFallback(context.Background(), call(domain.ProviderOpenAI), "p")
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if out != "fallback answer" || served != domain.ProviderAnthropic {
		t.Errorf("got %q from %s", out, served)
	}

	stats := g.Stats()
	if stats[domain.ProviderOpenAI].Failures != 1 {
		t.Errorf("primary failures = %d", stats[domain.ProviderOpenAI].Failures)
	}
	if stats[domain.ProviderAnthropic].Successes != 1 {
		t.Errorf("secondary successes = %d", stats[domain.ProviderAnthropic].Successes)
	}
}

func TestFallback_AllFailNoCacheIsTerminal(t *testing.T) {
	g := newTestGateway(newFakeSource(
		unavailable(domain.ProviderOpenAI),
		unavailable(domain.ProviderAnthropic),
		unavailable(domain.ProviderGemini),
	))

	_, _, err := g.InvokeWithFallback(context.Background(), call(domain.ProviderOpenAI), "p")
	if !errors.Is(err, domain.ErrNoProvidersAvailable) {
		t.Fatalf("expected ErrNoProvidersAvailable, got %v", err)
	}
}

func TestFallback_DegradedCacheReadWhenAllFail(t *testing.T) {
	clock := struct {
		now time.Time
	}{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	local := cache.NewLocal(100)
	local.SetClock(func() time.Time { return clock.now })

	flaky := &fakeClient{name: domain.ProviderOpenAI}
	healthy := true
	flaky.fn = func(ctx context.Context, req llm.CompletionRequest) (string, error) {
		if healthy {
			return "live answer", nil
		}
		return "", &domain.ProviderUnavailableError{Provider: flaky.name, Cause: errors.New("down")}
	}

	g := New(Options{
		Clients: newFakeSource(flaky),
		Cache:   cache.NewTiered(local, nil, time.Second, nil),
		Limiter: ratelimit.New(ratelimit.DefaultConfig),
		Breaker: breaker.New(breaker.Config{FailureThreshold: 100}),
		Guard:   timeout.New(timeout.Config{DefaultBudget: 5 * time.Second}),
		Retrier: retry.New(retry.Config{MaxAttempts: 1}),
	})
	ctx := context.Background()

	if _, err := g.Invoke(ctx, call(domain.ProviderOpenAI), "p"); err != nil {
		t.Fatalf("warm-up: %v", err)
	}

	// Entry expires, then the backend dies.
	clock.now = clock.now.Add(2 * time.Second)
	healthy = false

	out, served, err := g.InvokeWithFallback(ctx, call(domain.ProviderOpenAI), "p")
	if err != nil {
		t.Fatalf("expected degraded read, got %v", err)
	}
	if out != "live answer" || served != domain.ProviderOpenAI {
		t.Errorf("got %q from %s", out, served)
	}
	if g.Stats()[domain.ProviderOpenAI].StaleHits != 1 {
		t.Error("stale hit not counted")
	}
}

func TestFallback_ValidationAbortsChain(t *testing.T) {
	primary := failing(domain.ProviderOpenAI, &domain.ValidationError{Reason: "bad prompt"})
	secondary := answering(domain.ProviderAnthropic, "x")
	g := newTestGateway(newFakeSource(primary, secondary))

	_, _, err := g.InvokeWithFallback(context.Background(), call(domain.ProviderOpenAI), "p")
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if secondary.calls.Load() != 0 {
		t.Error("caller faults must not walk the fallback chain")
	}
}

func TestFallback_OrderRotatesToRequestedProvider(t *testing.T) {
	g := newTestGateway(newFakeSource(
		answering(domain.ProviderOpenAI, "a"),
		answering(domain.ProviderAnthropic, "b"),
		answering(domain.ProviderGemini, "c"),
	))

	order := g.fallbackOrder(domain.ProviderGemini)
	want := []domain.ProviderID{domain.ProviderGemini, domain.ProviderOpenAI, domain.ProviderAnthropic}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}
