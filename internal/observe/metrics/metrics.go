// Package metrics defines the Prometheus instruments for the dispatch
// engine. Everything is registered through promauto at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderCalls counts provider invocations by outcome.
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_provider_calls_total",
			Help: "Total provider completion calls",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderLatency tracks completion call latency per provider.
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quorum_provider_latency_seconds",
			Help:    "Provider completion latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// CacheRequests counts cache lookups per tier and result.
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_cache_requests_total",
			Help: "Cache lookups by tier and result",
		},
		[]string{"tier", "result"},
	)

	// BreakerState exposes the circuit position per provider
	// (0=closed, 1=half-open, 2=open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quorum_breaker_state",
			Help: "Circuit breaker state per provider (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	// PipelineRuns counts full pipeline runs by outcome.
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_pipeline_runs_total",
			Help: "Pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	// StageDuration tracks how long each stage takes to settle.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quorum_pipeline_stage_duration_seconds",
			Help:    "Stage settle time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// RecoveryRuns counts remediation workflow runs per target and status.
	RecoveryRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_recovery_runs_total",
			Help: "Recovery workflow runs by target and status",
		},
		[]string{"target", "status"},
	)

	// DBConnectionPoolUsage tracks audit store pool saturation.
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quorum_db_pool_usage_percent",
			Help: "Audit database connection pool usage percentage",
		},
	)
)
