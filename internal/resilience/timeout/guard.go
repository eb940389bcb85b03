// Package timeout enforces per-operation deadlines.
//
// The guard runs each call under a cancellable context so a blown budget
// interrupts the call instead of racing a timer. In adaptive mode the
// effective budget tracks a rolling window of observed durations.
package timeout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/quorumlabs/quorum/internal/core/domain"
)

// Config tunes the guard.
type Config struct {
	// DefaultBudget applies to operation classes without an override.
	DefaultBudget time.Duration

	// Budgets overrides the budget per operation class.
	Budgets map[string]time.Duration

	// Adaptive switches the effective budget to
	// clamp(1.5×p95, 0.5×base, 2×base) over the last WindowSize durations.
	Adaptive   bool
	WindowSize int
}

// DefaultConfig gives every operation 30 seconds, fixed.
var DefaultConfig = Config{
	DefaultBudget: 30 * time.Second,
	WindowSize:    100,
}

type latencyWindow struct {
	durations []time.Duration
	max       int
}

func (w *latencyWindow) record(d time.Duration) {
	w.durations = append(w.durations, d)
	if len(w.durations) > w.max {
		w.durations = w.durations[1:]
	}
}

// p95 returns the 95th percentile of the window, zero when empty.
func (w *latencyWindow) p95() time.Duration {
	n := len(w.durations)
	if n == 0 {
		return 0
	}
	sorted := make([]time.Duration, n)
	copy(sorted, w.durations)
	for i := 1; i < n; i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	idx := (n * 95) / 100
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// Guard enforces budgets per operation class.
type Guard struct {
	cfg Config

	mu      sync.Mutex
	windows map[string]*latencyWindow
}

// New creates a guard.
func New(cfg Config) *Guard {
	if cfg.DefaultBudget <= 0 {
		cfg.DefaultBudget = DefaultConfig.DefaultBudget
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultConfig.WindowSize
	}
	return &Guard{
		cfg:     cfg,
		windows: make(map[string]*latencyWindow),
	}
}

// Budget returns the effective budget for the operation class.
func (g *Guard) Budget(op string) time.Duration {
	base := g.cfg.DefaultBudget
	if b, ok := g.cfg.Budgets[op]; ok && b > 0 {
		base = b
	}
	if !g.cfg.Adaptive {
		return base
	}

	g.mu.Lock()
	w, ok := g.windows[op]
	var p95 time.Duration
	if ok {
		p95 = w.p95()
	}
	g.mu.Unlock()

	if p95 == 0 {
		return base
	}

	effective := time.Duration(float64(p95) * 1.5)
	lo, hi := base/2, 2*base
	if effective < lo {
		return lo
	}
	if effective > hi {
		return hi
	}
	return effective
}

// Run executes fn under the operation's budget. The context handed to fn is
// cancelled when the budget is exceeded, and the returned error is a
// TimeoutError carrying the operation name and budget.
func (g *Guard) Run(ctx context.Context, op string, fn func(ctx context.Context) (string, error)) (string, error) {
	budget := g.Budget(op)

	cctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	out, err := fn(cctx)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", &domain.TimeoutError{Operation: op, Budget: budget}
		}
		return "", err
	}

	g.observe(op, elapsed)
	return out, nil
}

// Observe feeds a duration into the adaptive window without running a call.
func (g *Guard) Observe(op string, d time.Duration) {
	g.observe(op, d)
}

func (g *Guard) observe(op string, d time.Duration) {
	if !g.cfg.Adaptive {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.windows[op]
	if !ok {
		w = &latencyWindow{max: g.cfg.WindowSize}
		g.windows[op] = w
	}
	w.record(d)
}
