// Package health provides system health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ProviderHealth contains health metrics for one completion backend.
type ProviderHealth struct {
	Provider     string       `json:"provider"`
	Status       SystemStatus `json:"status"`
	BreakerState string       `json:"breaker_state"`
	Failures     int          `json:"consecutive_failures"`
	ErrorRate    float64      `json:"error_rate"`
	InWindow     int          `json:"requests_in_window"`
}

// CacheHealth summarizes cache effectiveness.
type CacheHealth struct {
	LocalHits    int64 `json:"local_hits"`
	LocalMisses  int64 `json:"local_misses"`
	SharedHits   int64 `json:"shared_hits"`
	SharedErrors int64 `json:"shared_errors"`
	StaleHits    int64 `json:"stale_hits"`
}

// Report contains the full system health report.
type Report struct {
	SystemStatus SystemStatus              `json:"system_status"`
	Providers    map[string]ProviderHealth `json:"providers"`
	Cache        CacheHealth               `json:"cache"`
}
