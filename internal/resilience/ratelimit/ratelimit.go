// Package ratelimit implements per-provider sliding-window admission control.
//
// Each provider owns its own timestamp window behind its own lock, so a
// saturated provider never serializes calls to the others.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/quorumlabs/quorum/internal/core/domain"
)

// Config bounds one provider's window.
type Config struct {
	Window      time.Duration
	MaxRequests int

	// MaxWait caps how long a caller may be held before rejection.
	// Zero means reject immediately when the window is full.
	MaxWait time.Duration
}

// DefaultConfig allows 30 requests per minute with a short bounded wait.
var DefaultConfig = Config{
	Window:      time.Minute,
	MaxRequests: 30,
	MaxWait:     5 * time.Second,
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	// Wait is how long until the oldest window entry expires. Only
	// meaningful when Allowed is false.
	Wait time.Duration
}

type window struct {
	mu     sync.Mutex
	cfg    Config
	stamps []time.Time
}

// Limiter admits calls per provider within a rolling window.
type Limiter struct {
	mu       sync.Mutex
	windows  map[domain.ProviderID]*window
	defaults Config
	perProv  map[domain.ProviderID]Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter with the given default budget.
func New(defaults Config) *Limiter {
	return &Limiter{
		windows:  make(map[domain.ProviderID]*window),
		defaults: defaults,
		perProv:  make(map[domain.ProviderID]Config),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// SetProviderConfig overrides the budget for one provider.
func (l *Limiter) SetProviderConfig(p domain.ProviderID, cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perProv[p] = cfg
	delete(l.windows, p)
}

// SetClock replaces the wall clock, for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Admit checks the window without blocking. On admission the current time
// is appended; otherwise the decision carries the wait hint.
func (l *Limiter) Admit(p domain.ProviderID) Decision {
	w := l.getWindow(p)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.clock()()
	cutoff := now.Add(-w.cfg.Window)

	// Lazy prune: drop entries older than the window.
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}

	if len(w.stamps) >= w.cfg.MaxRequests {
		wait := w.stamps[0].Add(w.cfg.Window).Sub(now)
		if wait < 0 {
			wait = 0
		}
		return Decision{Allowed: false, Wait: wait}
	}

	w.stamps = append(w.stamps, now)
	return Decision{Allowed: true}
}

// Wait admits the call, blocking up to the provider's MaxWait. Once the
// bound would be exceeded it rejects with a RateLimitError carrying the
// remaining wait.
func (l *Limiter) Wait(ctx context.Context, p domain.ProviderID) error {
	var waited time.Duration
	cfg := l.configFor(p)

	for {
		d := l.Admit(p)
		if d.Allowed {
			return nil
		}
		if waited+d.Wait > cfg.MaxWait {
			return &domain.RateLimitError{Provider: p, Wait: d.Wait}
		}
		if err := l.sleep(ctx, d.Wait); err != nil {
			return err
		}
		waited += d.Wait
	}
}

// InWindow returns how many admissions are currently inside the window,
// for health reporting.
func (l *Limiter) InWindow(p domain.ProviderID) int {
	w := l.getWindow(p)

	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := l.clock()().Add(-w.cfg.Window)
	n := 0
	for _, s := range w.stamps {
		if s.After(cutoff) {
			n++
		}
	}
	return n
}

func (l *Limiter) getWindow(p domain.ProviderID) *window {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[p]
	if !ok {
		cfg, ok := l.perProv[p]
		if !ok {
			cfg = l.defaults
		}
		w = &window{cfg: cfg, stamps: make([]time.Time, 0, cfg.MaxRequests)}
		l.windows[p] = w
	}
	return w
}

func (l *Limiter) configFor(p domain.ProviderID) Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cfg, ok := l.perProv[p]; ok {
		return cfg
	}
	return l.defaults
}

func (l *Limiter) clock() func() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now
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
