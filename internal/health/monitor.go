package health

import (
	"context"
	"sync"
	"time"

	"github.com/quorumlabs/quorum/internal/core/domain"
	"github.com/quorumlabs/quorum/internal/gateway"
	"github.com/quorumlabs/quorum/internal/infra/cache"
	"github.com/quorumlabs/quorum/internal/resilience/breaker"
)

// GatewayInspector is the read surface the monitor aggregates. Satisfied by
// the gateway.
type GatewayInspector interface {
	Stats() map[domain.ProviderID]gateway.ProviderStats
	BreakerSnapshot() map[domain.ProviderID]breaker.Snapshot
	CacheStats() cache.Stats
	InFlight(p domain.ProviderID) int
}

// RecoveryNotifier receives unhealthy-provider signals. Satisfied by the
// recovery coordinator's Trigger.
type RecoveryNotifier func(target, errorKind string)

// Monitor aggregates dispatch health from the gateway's counters.
type Monitor struct {
	providers []domain.ProviderID
	inspector GatewayInspector
	notify    RecoveryNotifier

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *Report
	notified   map[domain.ProviderID]bool
}

// NewMonitor creates a health monitor. notify may be nil.
func NewMonitor(providers []domain.ProviderID, inspector GatewayInspector, notify RecoveryNotifier) *Monitor {
	return &Monitor{
		providers: providers,
		inspector: inspector,
		notify:    notify,
		notified:  make(map[domain.ProviderID]bool),
	}
}

// CheckHealth builds the current report. Results are cached for 10 seconds
// so probe-happy load balancers do not hammer the counters.
func (m *Monitor) CheckHealth(ctx context.Context) *Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport != nil {
		return m.lastReport
	}

	stats := m.inspector.Stats()
	breakers := m.inspector.BreakerSnapshot()
	cacheStats := m.inspector.CacheStats()

	report := &Report{
		SystemStatus: StatusHealthy,
		Providers:    make(map[string]ProviderHealth, len(m.providers)),
		Cache: CacheHealth{
			LocalHits:    cacheStats.LocalHits,
			LocalMisses:  cacheStats.LocalMisses,
			SharedHits:   cacheStats.SharedHits,
			SharedErrors: cacheStats.SharedErrors,
			StaleHits:    cacheStats.StaleHits,
		},
	}

	healthyCount := 0
	for _, p := range m.providers {
		ph := m.providerHealth(p, stats[p], breakers[p])
		report.Providers[p.String()] = ph

		switch ph.Status {
		case StatusHealthy:
			healthyCount++
			m.notified[p] = false
		case StatusCritical:
			if m.notify != nil && !m.notified[p] {
				m.notified[p] = true
				m.notify(p.String(), string(domain.KindProviderUnavailable))
			}
		}
	}

	// Worst case wins, but a single healthy provider keeps the system
	// serving, so all-down is the only critical condition.
	switch {
	case healthyCount == 0:
		report.SystemStatus = StatusCritical
	case healthyCount < len(m.providers):
		report.SystemStatus = StatusDegraded
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

func (m *Monitor) providerHealth(p domain.ProviderID, s gateway.ProviderStats, b breaker.Snapshot) ProviderHealth {
	if b.State == "" {
		b.State = breaker.StateClosed
	}

	ph := ProviderHealth{
		Provider:     p.String(),
		Status:       StatusHealthy,
		BreakerState: string(b.State),
		Failures:     b.Failures,
		InWindow:     m.inspector.InFlight(p),
	}

	total := s.Successes + s.Failures
	if total > 0 {
		ph.ErrorRate = float64(s.Failures) / float64(total)
	}

	switch {
	case b.State == breaker.StateOpen:
		ph.Status = StatusCritical
	case b.State == breaker.StateHalfOpen || ph.ErrorRate > 0.25:
		ph.Status = StatusDegraded
	}
	return ph
}
