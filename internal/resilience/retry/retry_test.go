package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quorumlabs/quorum/internal/core/domain"
)

// instantExecutor skips real sleeping and records requested delays.
func instantExecutor(cfg Config) (*Executor, *[]time.Duration) {
	e := New(cfg)
	delays := &[]time.Duration{}
	e.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return e, delays
}

func TestRun_SucceedsFirstAttempt(t *testing.T) {
	e, _ := instantExecutor(Config{MaxAttempts: 3})

	calls := 0
	out, err := e.Run(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil || out != "ok" {
		t.Fatalf("got %q, %v", out, err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRun_NeverExceedsMaxAttempts(t *testing.T) {
	e, _ := instantExecutor(Config{MaxAttempts: 3})

	calls := 0
	_, err := e.Run(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "", &domain.ProviderUnavailableError{Provider: domain.ProviderOpenAI, Cause: errors.New("503")}
	})
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if calls != 3 {
		t.Errorf("expected exactly 3 executions, got %d", calls)
	}
}

func TestRun_NonRetryableAbortsImmediately(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
	}{
		{"validation", &domain.ValidationError{Reason: "empty prompt"}},
		{"circuit_open", &domain.CircuitOpenError{Provider: domain.ProviderOpenAI}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e, _ := instantExecutor(Config{MaxAttempts: 5})
			calls := 0
			_, err := e.Run(context.Background(), func(ctx context.Context) (string, error) {
				calls++
				return "", tc.err
			})
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected original error back, got %v", err)
			}
			if calls != 1 {
				t.Errorf("non-retryable error must not be retried, got %d calls", calls)
			}
		})
	}
}

func TestRun_RateLimitHonorsWaitHint(t *testing.T) {
	e, delays := instantExecutor(Config{MaxAttempts: 2, InitialDelay: time.Second})

	calls := 0
	e.Run(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "", &domain.RateLimitError{Provider: domain.ProviderOpenAI, Wait: 7 * time.Second}
	})

	if calls != 2 {
		t.Fatalf("rate-limit errors retry after the hint, got %d calls", calls)
	}
	if len(*delays) != 1 || (*delays)[0] != 7*time.Second {
		t.Errorf("expected one 7s wait, got %v", *delays)
	}
}

func TestDelay_ExponentialCapped(t *testing.T) {
	e := New(Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Base:         2.0,
		Jitter:       false,
	})

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}
	for i, w := range want {
		if d := e.Delay(i + 1); d != w {
			t.Errorf("attempt %d: expected %v, got %v", i+1, w, d)
		}
	}
}

func TestDelay_JitterStaysWithin10Percent(t *testing.T) {
	e := New(Config{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: time.Minute, Base: 2.0, Jitter: true})

	for i := 0; i < 200; i++ {
		d := e.Delay(1)
		if d < 900*time.Millisecond || d > 1100*time.Millisecond {
			t.Fatalf("jittered delay out of ±10%%: %v", d)
		}
	}
}

func TestRun_ContextCancelledBetweenAttempts(t *testing.T) {
	e := New(Config{MaxAttempts: 3, InitialDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Run(ctx, func(ctx context.Context) (string, error) {
		return "", &domain.ProviderUnavailableError{Provider: domain.ProviderOpenAI, Cause: errors.New("x")}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
