package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quorumlabs/quorum/internal/core/domain"
)

// fakeClock is a manually advanced wall clock shared across goroutines.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestAdmit_WithinBudget(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{Window: time.Minute, MaxRequests: 3, MaxWait: 0})
	l.SetClock(clock.Now)

	for i := 0; i < 3; i++ {
		if d := l.Admit(domain.ProviderOpenAI); !d.Allowed {
			t.Fatalf("call %d should be admitted", i+1)
		}
	}

	d := l.Admit(domain.ProviderOpenAI)
	if d.Allowed {
		t.Fatal("4th call should be rejected")
	}
	if d.Wait <= 0 || d.Wait > time.Minute {
		t.Errorf("wait hint out of range: %v", d.Wait)
	}
}

func TestAdmit_WindowSlides(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{Window: time.Minute, MaxRequests: 2})
	l.SetClock(clock.Now)

	l.Admit(domain.ProviderOpenAI)
	l.Admit(domain.ProviderOpenAI)

	if d := l.Admit(domain.ProviderOpenAI); d.Allowed {
		t.Fatal("window full, should reject")
	}

	// After the window passes, the old entries are pruned.
	clock.Advance(61 * time.Second)
	if d := l.Admit(domain.ProviderOpenAI); !d.Allowed {
		t.Fatal("window slid, should admit")
	}
}

func TestAdmit_ProvidersIndependent(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{Window: time.Minute, MaxRequests: 1})
	l.SetClock(clock.Now)

	l.Admit(domain.ProviderOpenAI)
	if d := l.Admit(domain.ProviderOpenAI); d.Allowed {
		t.Fatal("openai window should be full")
	}
	if d := l.Admit(domain.ProviderAnthropic); !d.Allowed {
		t.Fatal("anthropic must not be affected by openai saturation")
	}
}

// TestAdmit_NeverOverAdmitsConcurrently is the rolling-window property
// check: N concurrent callers, admissions within any window never exceed
// the budget.
func TestAdmit_NeverOverAdmitsConcurrently(t *testing.T) {
	const maxRequests = 10
	clock := newFakeClock()
	l := New(Config{Window: time.Minute, MaxRequests: maxRequests})
	l.SetClock(clock.Now)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if l.Admit(domain.ProviderGemini).Allowed {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != maxRequests {
		t.Errorf("admitted %d calls in one window, budget is %d", got, maxRequests)
	}

	// Second window admits again.
	clock.Advance(2 * time.Minute)
	if d := l.Admit(domain.ProviderGemini); !d.Allowed {
		t.Error("fresh window should admit")
	}
}

func TestWait_BoundedThenReject(t *testing.T) {
	l := New(Config{Window: time.Minute, MaxRequests: 1, MaxWait: time.Millisecond})

	if err := l.Wait(context.Background(), domain.ProviderOpenAI); err != nil {
		t.Fatalf("first call: %v", err)
	}

	err := l.Wait(context.Background(), domain.ProviderOpenAI)
	var rl *domain.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.Wait <= 0 {
		t.Error("rejection must carry a wait hint")
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	l := New(Config{Window: time.Minute, MaxRequests: 1, MaxWait: time.Hour})
	l.Wait(context.Background(), domain.ProviderOpenAI)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx, domain.ProviderOpenAI); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
