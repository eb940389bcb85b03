// Package errorlimit throttles error responses and flags abusive callers.
//
// Error occurrences are tracked in sliding windows at three granularities:
// global per error kind, per client, and per category. Exceeding a bound
// yields a computed delay rather than outright rejection, except for
// zero-tolerance categories which reject immediately.
package errorlimit

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Config tunes the limiter.
type Config struct {
	Window time.Duration

	GlobalLimit   int
	ClientLimit   int
	CategoryLimit int

	// Delay for an exceeded bound: BaseDelay + occurrences×DelayFactor,
	// capped at MaxDelay, jittered ±10%.
	BaseDelay   time.Duration
	DelayFactor time.Duration
	MaxDelay    time.Duration

	// ZeroTolerance categories reject instead of delaying.
	ZeroTolerance []string

	// Behavioral signature thresholds. A client is flagged suspicious
	// when its request timing is too regular (coefficient of variation
	// below RegularityCV over at least MinSamples arrivals) or it fans
	// out across more than FanoutLimit distinct identifiers in a window.
	MinSamples   int
	RegularityCV float64
	FanoutLimit  int
}

// DefaultConfig tracks a 1-minute window and treats auth as zero-tolerance.
var DefaultConfig = Config{
	Window:        time.Minute,
	GlobalLimit:   100,
	ClientLimit:   20,
	CategoryLimit: 50,
	BaseDelay:     500 * time.Millisecond,
	DelayFactor:   250 * time.Millisecond,
	MaxDelay:      15 * time.Second,
	ZeroTolerance: []string{"auth"},
	MinSamples:    10,
	RegularityCV:  0.05,
	FanoutLimit:   25,
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	// Delay to apply before responding. Zero when the caller is clean.
	Delay  time.Duration
	Reason string
}

type clientProfile struct {
	arrivals    []time.Time
	identifiers map[string]time.Time
	suspicious  bool
}

// Limiter tracks error rates and behavioral signatures.
type Limiter struct {
	mu  sync.Mutex
	cfg Config

	byKind     map[string][]time.Time
	byClient   map[string][]time.Time
	byCategory map[string][]time.Time
	clients    map[string]*clientProfile

	// Flagged, when set, is invoked once each time a client turns
	// suspicious. Used to mirror flags to the shared store.
	Flagged func(clientID string)

	now   func() time.Time
	randF func() float64
}

// New creates a limiter.
func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig.Window
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}
	return &Limiter{
		cfg:        cfg,
		byKind:     make(map[string][]time.Time),
		byClient:   make(map[string][]time.Time),
		byCategory: make(map[string][]time.Time),
		clients:    make(map[string]*clientProfile),
		now:        time.Now,
		randF:      rand.Float64,
	}
}

// SetClock replaces the wall clock, for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Admit decides whether a call for the client/category may proceed and how
// long its response should be held. Identifier is the fan-out dimension
// (e.g. the request id or target operation).
func (l *Limiter) Admit(clientID, category, identifier string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.observe(clientID, identifier, now)

	prof := l.clients[clientID]
	if prof.suspicious {
		return Decision{Allowed: true, Delay: l.cfg.MaxDelay, Reason: "suspicious client"}
	}

	clientCount := countWindow(l.byClient[clientID], now, l.cfg.Window)
	categoryCount := countWindow(l.byCategory[category], now, l.cfg.Window)

	if categoryCount >= l.cfg.CategoryLimit && l.zeroTolerance(category) {
		return Decision{Allowed: false, Reason: "zero-tolerance category exhausted"}
	}

	worst := 0
	reason := ""
	if l.cfg.ClientLimit > 0 && clientCount >= l.cfg.ClientLimit {
		worst, reason = clientCount, "client error budget exceeded"
	}
	if l.cfg.CategoryLimit > 0 && categoryCount >= l.cfg.CategoryLimit && categoryCount > worst {
		worst, reason = categoryCount, "category error budget exceeded"
	}
	if l.cfg.GlobalLimit > 0 {
		// A kind flooding globally delays every caller, not just the
		// clients producing it.
		for kind, stamps := range l.byKind {
			if n := countWindow(stamps, now, l.cfg.Window); n >= l.cfg.GlobalLimit && n > worst {
				worst, reason = n, "global error budget exceeded for "+kind
			}
		}
	}

	if worst == 0 {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: true, Delay: l.delay(worst), Reason: reason}
}

// RecordError registers an error occurrence across all three windows.
func (l *Limiter) RecordError(clientID, kind, category string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.byKind[kind] = appendWindow(l.byKind[kind], now, l.cfg.Window)
	l.byClient[clientID] = appendWindow(l.byClient[clientID], now, l.cfg.Window)
	l.byCategory[category] = appendWindow(l.byCategory[category], now, l.cfg.Window)
}

// KindCount reports error occurrences of a kind inside the current window.
func (l *Limiter) KindCount(kind string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return countWindow(l.byKind[kind], l.now(), l.cfg.Window)
}

// Suspects lists currently flagged clients.
func (l *Limiter) Suspects() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []string
	for id, p := range l.clients {
		if p.suspicious {
			out = append(out, id)
		}
	}
	return out
}

// MarkSuspect flags a client manually.
func (l *Limiter) MarkSuspect(clientID string) {
	l.mu.Lock()
	prof := l.profile(clientID)
	already := prof.suspicious
	prof.suspicious = true
	hook := l.Flagged
	l.mu.Unlock()

	if !already && hook != nil {
		hook(clientID)
	}
}

// ClearSuspect removes the flag; the client returns to normal treatment.
func (l *Limiter) ClearSuspect(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.clients[clientID]; ok {
		p.suspicious = false
		p.arrivals = nil
	}
}

func (l *Limiter) observe(clientID, identifier string, now time.Time) {
	prof := l.profile(clientID)

	prof.arrivals = appendWindow(prof.arrivals, now, l.cfg.Window)
	if identifier != "" {
		prof.identifiers[identifier] = now
		for id, seen := range prof.identifiers {
			if now.Sub(seen) > l.cfg.Window {
				delete(prof.identifiers, id)
			}
		}
	}

	if prof.suspicious {
		return
	}
	if l.cfg.FanoutLimit > 0 && len(prof.identifiers) > l.cfg.FanoutLimit {
		l.flag(clientID, prof)
		return
	}
	if l.cfg.MinSamples > 0 && len(prof.arrivals) >= l.cfg.MinSamples {
		if cv := intervalCV(prof.arrivals); cv >= 0 && cv < l.cfg.RegularityCV {
			l.flag(clientID, prof)
		}
	}
}

func (l *Limiter) flag(clientID string, prof *clientProfile) {
	prof.suspicious = true
	if l.Flagged != nil {
		// The hook may touch the shared store; keep it off the hot path.
		hook := l.Flagged
		go hook(clientID)
	}
}

func (l *Limiter) profile(clientID string) *clientProfile {
	prof, ok := l.clients[clientID]
	if !ok {
		prof = &clientProfile{identifiers: make(map[string]time.Time)}
		l.clients[clientID] = prof
	}
	return prof
}

func (l *Limiter) delay(occurrences int) time.Duration {
	d := l.cfg.BaseDelay + time.Duration(occurrences)*l.cfg.DelayFactor
	if d > l.cfg.MaxDelay {
		d = l.cfg.MaxDelay
	}
	jittered := float64(d) * (0.9 + 0.2*l.randF())
	return time.Duration(jittered)
}

func (l *Limiter) zeroTolerance(category string) bool {
	for _, zt := range l.cfg.ZeroTolerance {
		if zt == category {
			return true
		}
	}
	return false
}

func appendWindow(stamps []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	stamps = append(stamps[:0], stamps[i:]...)
	return append(stamps, now)
}

func countWindow(stamps []time.Time, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	n := 0
	for _, s := range stamps {
		if s.After(cutoff) {
			n++
		}
	}
	return n
}

// intervalCV is the coefficient of variation of inter-arrival gaps.
// Returns -1 when there are not enough gaps to judge.
func intervalCV(arrivals []time.Time) float64 {
	if len(arrivals) < 3 {
		return -1
	}
	gaps := make([]float64, 0, len(arrivals)-1)
	for i := 1; i < len(arrivals); i++ {
		gaps = append(gaps, arrivals[i].Sub(arrivals[i-1]).Seconds())
	}

	var sum float64
	for _, g := range gaps {
		sum += g
	}
	mean := sum / float64(len(gaps))
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, g := range gaps {
		variance += (g - mean) * (g - mean)
	}
	variance /= float64(len(gaps))

	return math.Sqrt(variance) / mean
}
