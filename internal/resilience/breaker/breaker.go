// Package breaker implements a per-provider circuit breaker.
//
// Closed passes everything through. Once consecutive counted failures reach
// the threshold the circuit opens and fails fast. After the recovery timeout
// it half-opens and lets a bounded number of probe calls through; a probe
// success closes it, a probe failure reopens it.
package breaker

import (
	"sync"
	"time"

	"github.com/quorumlabs/quorum/internal/core/domain"
)

// State is the breaker position for one provider.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config tunes every circuit owned by a Breaker.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
}

// DefaultConfig opens after 5 consecutive failures, cools down for 30s and
// allows a single probe.
var DefaultConfig = Config{
	FailureThreshold: 5,
	RecoveryTimeout:  30 * time.Second,
	HalfOpenMaxCalls: 1,
}

// Snapshot is a read-only view of one circuit for health reporting.
type Snapshot struct {
	State       State
	Failures    int
	LastFailure time.Time
	LastSuccess time.Time
}

type circuit struct {
	mu          sync.Mutex
	state       State
	failures    int
	probes      int
	lastFailure time.Time
	lastSuccess time.Time
}

// Breaker holds one state machine per provider behind its own lock.
type Breaker struct {
	mu       sync.Mutex
	circuits map[domain.ProviderID]*circuit
	cfg      Config
	now      func() time.Time
}

// New creates a breaker registry with the given config.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig.RecoveryTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = DefaultConfig.HalfOpenMaxCalls
	}
	return &Breaker{
		circuits: make(map[domain.ProviderID]*circuit),
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock replaces the wall clock, for tests.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Allow reports whether a call to the provider may proceed right now.
// While half-open it consumes one probe slot per true return.
func (b *Breaker) Allow(p domain.ProviderID) bool {
	c := b.circuitFor(p)
	now := b.clock()()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(c.lastFailure) > b.cfg.RecoveryTimeout {
			c.state = StateHalfOpen
			c.probes = 1
			return true
		}
		return false
	case StateHalfOpen:
		if c.probes < b.cfg.HalfOpenMaxCalls {
			c.probes++
			return true
		}
		return false
	}
	return true
}

// RetryAfter returns how long until the open circuit half-opens. Zero when
// the provider is callable.
func (b *Breaker) RetryAfter(p domain.ProviderID) time.Duration {
	c := b.circuitFor(p)
	now := b.clock()()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return 0
	}
	remaining := b.cfg.RecoveryTimeout - now.Sub(c.lastFailure)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecordSuccess commits a half-open circuit to closed and clears the
// failure count.
func (b *Breaker) RecordSuccess(p domain.ProviderID) {
	c := b.circuitFor(p)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateClosed
	c.failures = 0
	c.probes = 0
	c.lastSuccess = b.clock()()
}

// RecordFailure advances the failure count, unless the error kind is a
// caller fault that must never open the circuit.
func (b *Breaker) RecordFailure(p domain.ProviderID, err error) {
	if !domain.CountsTowardBreaker(err) {
		return
	}
	c := b.circuitFor(p)
	now := b.clock()()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastFailure = now

	if c.state == StateHalfOpen {
		// Failed probe: recommit to open, timer restarts.
		c.state = StateOpen
		c.probes = 0
		return
	}

	c.failures++
	if c.failures >= b.cfg.FailureThreshold {
		c.state = StateOpen
	}
}

// Reset forces a circuit back to closed. Used by recovery workflows.
func (b *Breaker) Reset(p domain.ProviderID) {
	c := b.circuitFor(p)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateClosed
	c.failures = 0
	c.probes = 0
}

// Snapshot returns the current view of every known circuit.
func (b *Breaker) Snapshot() map[domain.ProviderID]Snapshot {
	b.mu.Lock()
	ids := make([]domain.ProviderID, 0, len(b.circuits))
	for id := range b.circuits {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	out := make(map[domain.ProviderID]Snapshot, len(ids))
	for _, id := range ids {
		c := b.circuitFor(id)
		c.mu.Lock()
		out[id] = Snapshot{
			State:       c.state,
			Failures:    c.failures,
			LastFailure: c.lastFailure,
			LastSuccess: c.lastSuccess,
		}
		c.mu.Unlock()
	}
	return out
}

func (b *Breaker) circuitFor(p domain.ProviderID) *circuit {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[p]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[p] = c
	}
	return c
}

func (b *Breaker) clock() func() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now
}
