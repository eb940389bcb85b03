// Package retry implements bounded exponential-backoff re-invocation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/quorumlabs/quorum/internal/core/domain"
)

// Config bounds the executor.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Base         float64

	// Jitter spreads delays ±10% so concurrent callers do not retry in
	// lockstep.
	Jitter bool
}

// DefaultConfig retries up to 3 times: 500ms, 1s (capped at 30s).
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     30 * time.Second,
	Base:         2.0,
	Jitter:       true,
}

// Executor re-invokes an operation until it succeeds, the error is
// non-retryable, or the attempt budget runs out.
type Executor struct {
	cfg   Config
	sleep func(ctx context.Context, d time.Duration) error
	randF func() float64
}

// New creates an executor.
func New(cfg Config) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if cfg.Base <= 1 {
		cfg.Base = DefaultConfig.Base
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultConfig.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}
	return &Executor{
		cfg:   cfg,
		sleep: sleepCtx,
		randF: rand.Float64,
	}
}

// Run executes fn up to MaxAttempts times. Validation and circuit-open
// errors abort immediately; rate-limit errors wait out their hint instead
// of the backoff curve.
func (e *Executor) Run(ctx context.Context, fn func(ctx context.Context) (string, error)) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !domain.IsRetryable(err) {
			return "", err
		}
		if attempt == e.cfg.MaxAttempts {
			break
		}

		delay := e.Delay(attempt)
		var rl *domain.RateLimitError
		if errors.As(err, &rl) && rl.Wait > 0 {
			delay = rl.Wait
		}

		if err := e.sleep(ctx, delay); err != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("failed after %d attempts: %w", e.cfg.MaxAttempts, lastErr)
}

// Delay computes the backoff before attempt n+1:
// min(MaxDelay, InitialDelay × Base^(n-1)), jittered ±10%.
func (e *Executor) Delay(attempt int) time.Duration {
	d := float64(e.cfg.InitialDelay) * math.Pow(e.cfg.Base, float64(attempt-1))
	if d > float64(e.cfg.MaxDelay) {
		d = float64(e.cfg.MaxDelay)
	}
	if e.cfg.Jitter {
		d *= 0.9 + 0.2*e.randF()
	}
	return time.Duration(d)
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
